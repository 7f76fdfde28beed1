package contextkeys

// contextKey is an unexported type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for storing and retrieving a request ID.
	RequestIDKey contextKey = "request_id"

	// IdentityKey is the context key for the remote identity the call acts for.
	IdentityKey contextKey = "identity"

	// SessionIDKey is the context key for the caller's session ID, which also
	// selects the background-login slot.
	SessionIDKey contextKey = "session_id"
)

// String makes contextKey satisfy fmt.Stringer to help with debugging/logging of keys themselves.
func (c contextKey) String() string {
	return string(c)
}

package domain

// AuthPhase is the observable state of a background login slot.
type AuthPhase string

const (
	AuthPhaseNone       AuthPhase = "no_operation"
	AuthPhaseInProgress AuthPhase = "in_progress"
	AuthPhaseSucceeded  AuthPhase = "succeeded"
	AuthPhaseFailed     AuthPhase = "failed"
)

// AuthStatus is the poll result for a background login. ElapsedSeconds is
// populated while the login is in progress; Reason when it failed.
type AuthStatus struct {
	Phase          AuthPhase `json:"phase"`
	ElapsedSeconds int       `json:"elapsed_seconds,omitempty"`
	Reason         string    `json:"reason,omitempty"`
}

// CredentialPersister is the port for storing the credential across restarts
// (one file per identity, optionally encrypted at rest). Load returns
// ErrCacheMiss when nothing is persisted for the identity.
type CredentialPersister interface {
	Save(cred Credential) error
	Load(identity string) (*Credential, error)
	Delete(identity string) error
}

package domain

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultExpiryWindow is assumed when neither the token claims nor the login
// response carry a usable expiry.
const DefaultExpiryWindow = 30 * time.Minute

// Credential is the access/refresh token pair plus the expiry instant derived
// from it, bound to the identity and remote endpoint it was issued for.
type Credential struct {
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token"`
	ExpiresAt       time.Time `json:"expires_at"`
	OwnerIdentity   string    `json:"owner_identity"`
	EndpointBaseURL string    `json:"endpoint_base_url"`
}

// jwtClaims is the subset of registered claims the gateway cares about.
type jwtClaims struct {
	Exp int64 `json:"exp,omitempty"`
}

// DecodeTokenExpiry extracts the exp claim from a JWT access token by
// base64url-decoding the middle segment. No signature verification happens
// here; the token is only inspected to plan the proactive refresh. Returns
// false when the token is not a decodable JWT or carries no exp claim.
func DecodeTokenExpiry(accessToken string) (time.Time, bool) {
	parts := strings.Split(accessToken, ".")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		// Some issuers pad their segments.
		payload, err = base64.URLEncoding.DecodeString(parts[1])
		if err != nil {
			return time.Time{}, false
		}
	}
	var claims jwtClaims
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Exp == 0 {
		return time.Time{}, false
	}
	return time.Unix(claims.Exp, 0), true
}

// DeriveExpiry resolves the expiry instant for a freshly issued token:
// the token's own exp claim when decodable, else the endpoint's
// expires_in hint when positive, else now plus the default window.
func DeriveExpiry(accessToken string, expiresInSeconds int, now time.Time) time.Time {
	if exp, ok := DecodeTokenExpiry(accessToken); ok {
		return exp
	}
	if expiresInSeconds > 0 {
		return now.Add(time.Duration(expiresInSeconds) * time.Second)
	}
	return now.Add(DefaultExpiryWindow)
}

// CredentialStore holds the current credential. Mutations go through the
// mutex; the expiry instant is mirrored into an atomic so IsExpired and
// TimeToExpiry are safe from any goroutine without locking.
type CredentialStore struct {
	mu        sync.Mutex
	cred      Credential
	held      bool
	expiresAt atomic.Int64 // unix nanos, 0 when no credential is held
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{}
}

// Set replaces the stored credential.
func (s *CredentialStore) Set(c Credential) {
	s.mu.Lock()
	s.cred = c
	s.held = true
	s.mu.Unlock()
	s.expiresAt.Store(c.ExpiresAt.UnixNano())
}

// Clear drops the credential, forcing the next caller back through login.
func (s *CredentialStore) Clear() {
	s.mu.Lock()
	s.cred = Credential{}
	s.held = false
	s.mu.Unlock()
	s.expiresAt.Store(0)
}

// Snapshot returns a copy of the current credential and whether one is held.
func (s *CredentialStore) Snapshot() (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred, s.held
}

// AccessToken returns the current access token, or "" when none is held.
func (s *CredentialStore) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred.AccessToken
}

// IsExpired reports whether no credential is held or its expiry has passed.
// Lock-free; reads a single atomic timestamp.
func (s *CredentialStore) IsExpired() bool {
	nanos := s.expiresAt.Load()
	return nanos == 0 || time.Now().UnixNano() >= nanos
}

// TimeToExpiry returns the remaining lifetime of the credential relative to
// now; zero or negative means expired or absent. Lock-free.
func (s *CredentialStore) TimeToExpiry(now time.Time) time.Duration {
	nanos := s.expiresAt.Load()
	if nanos == 0 {
		return 0
	}
	return time.Unix(0, nanos).Sub(now)
}

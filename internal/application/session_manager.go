package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gitlab.com/arvasys/api/eam-gateway-service/internal/adapters/config"
	"gitlab.com/arvasys/api/eam-gateway-service/internal/adapters/metrics"
	"gitlab.com/arvasys/api/eam-gateway-service/internal/domain"
	"gitlab.com/arvasys/api/eam-gateway-service/pkg/safego"
)

// CredentialSessionManager owns the remote session: it performs the login
// exchange, verifies the session is actually usable (not just "has cookies"),
// schedules the proactive refresh, and clears everything on logout or
// unrecoverable refresh failure.
//
// Refresh failures are deliberately not retried internally: silently retrying
// risks masking a revoked session, so any failure degrades straight to
// "unauthenticated" and pushes the re-login decision up to the caller.
type CredentialSessionManager struct {
	logger      domain.Logger
	cfgProvider config.Provider
	gateway     domain.AuthGateway
	store       *domain.CredentialStore
	persister   domain.CredentialPersister

	// refreshMu serializes refresh exchanges so the timer-driven refresh and
	// a forced RefreshNow cannot race on the refresh token.
	refreshMu sync.Mutex

	mu           sync.Mutex
	refreshTimer *time.Timer
	lastVerifyAt time.Time
	lastVerdict  bool
	hooks        []func(ctx context.Context, identity string)

	now func() time.Time
}

func NewCredentialSessionManager(cfgProvider config.Provider, logger domain.Logger, gateway domain.AuthGateway, persister domain.CredentialPersister) *CredentialSessionManager {
	if cfgProvider == nil {
		panic("config provider cannot be nil in NewCredentialSessionManager")
	}
	if logger == nil {
		panic("logger cannot be nil in NewCredentialSessionManager")
	}
	if gateway == nil {
		panic("auth gateway cannot be nil in NewCredentialSessionManager")
	}
	return &CredentialSessionManager{
		logger:      logger,
		cfgProvider: cfgProvider,
		gateway:     gateway,
		store:       domain.NewCredentialStore(),
		persister:   persister,
		now:         time.Now,
	}
}

// RegisterInvalidationHook adds a callback fired with the previous identity
// whenever credential state is cleared or switched. Caches register here so
// an identity change can never leak data across identities.
func (m *CredentialSessionManager) RegisterInvalidationHook(hook func(ctx context.Context, identity string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// RestorePersistedCredential loads a previously persisted credential for the
// configured startup identity and re-arms the refresh timer when it is still
// outside the refresh margin. Called once at startup.
func (m *CredentialSessionManager) RestorePersistedCredential(ctx context.Context) {
	authCfg := m.cfgProvider.Get().Auth
	if !authCfg.StartupCredentialReload || authCfg.StartupIdentity == "" || m.persister == nil {
		return
	}
	cred, err := m.persister.Load(authCfg.StartupIdentity)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			m.logger.Warn(ctx, "Failed to load persisted credential", "identity", authCfg.StartupIdentity, "error", err.Error())
		}
		return
	}
	if cred.EndpointBaseURL != m.gateway.BaseURL() {
		m.logger.Warn(ctx, "Persisted credential belongs to a different endpoint, ignoring",
			"persisted_endpoint", cred.EndpointBaseURL, "configured_endpoint", m.gateway.BaseURL())
		return
	}
	if !cred.ExpiresAt.After(m.now()) {
		m.logger.Info(ctx, "Persisted credential already expired, ignoring", "identity", cred.OwnerIdentity)
		return
	}
	m.store.Set(*cred)
	m.logger.Info(ctx, "Restored persisted credential", "identity", cred.OwnerIdentity, "expires_at", cred.ExpiresAt)
	m.ScheduleRefresh(ctx)
}

// Login performs the remote login exchange and stores the resulting
// credential. Expiry is decoded from the access token's claims when possible.
// A proactive refresh is scheduled as a side effect.
func (m *CredentialSessionManager) Login(ctx context.Context, identity, secret string) error {
	pair, err := m.gateway.Login(ctx, identity, secret)
	if err != nil {
		m.logger.Warn(ctx, "Login exchange failed", "identity", identity, "error", err.Error())
		return err
	}

	now := m.now()
	cred := domain.Credential{
		AccessToken:     pair.AccessToken,
		RefreshToken:    pair.RefreshToken,
		ExpiresAt:       domain.DeriveExpiry(pair.AccessToken, pair.ExpiresIn, now),
		OwnerIdentity:   identity,
		EndpointBaseURL: m.gateway.BaseURL(),
	}

	// Switching identities must invalidate everything the old identity cached.
	if previous, held := m.store.Snapshot(); held && previous.OwnerIdentity != identity {
		m.logger.Info(ctx, "Identity switch detected, invalidating caches", "previous", previous.OwnerIdentity, "next", identity)
		m.fireHooks(ctx, previous.OwnerIdentity)
	}

	m.store.Set(cred)
	m.setVerdict(true)
	m.persist(ctx, cred)

	m.logger.Info(ctx, "Login succeeded", "identity", identity, "expires_at", cred.ExpiresAt)
	m.ScheduleRefresh(ctx)
	return nil
}

// IsAuthenticated reports whether the session is usable. Fast path: a held
// credential with comfortably more than the minimum remaining lifetime.
// Otherwise a cached probe verdict is reused within the verification TTL
// unless forceProbe is set; failing that, an identity probe decides.
// Ambiguous probe outcomes count as not authenticated (fail closed).
func (m *CredentialSessionManager) IsAuthenticated(ctx context.Context, forceProbe bool) bool {
	authCfg := m.cfgProvider.Get().Auth
	now := m.now()

	minRemaining := time.Duration(authCfg.MinRemainingSeconds) * time.Second
	if m.store.TimeToExpiry(now) > minRemaining {
		return true
	}

	verifyTTL := time.Duration(authCfg.VerifyTTLSeconds) * time.Second
	m.mu.Lock()
	if !forceProbe && !m.lastVerifyAt.IsZero() && now.Sub(m.lastVerifyAt) < verifyTTL {
		verdict := m.lastVerdict
		m.mu.Unlock()
		return verdict
	}
	m.mu.Unlock()

	verdict := m.probe(ctx)
	m.setVerdict(verdict)
	return verdict
}

func (m *CredentialSessionManager) probe(ctx context.Context) bool {
	result, err := m.gateway.ProbeIdentity(ctx, m.store.AccessToken())
	if err != nil {
		// Redirect to login, non-2xx, unparsable body, transport failure: all
		// fail closed.
		m.logger.Warn(ctx, "Identity probe did not confirm the session", "error", err.Error())
		return false
	}
	m.logger.Debug(ctx, "Identity probe confirmed the session", "final_url", result.FinalURL)
	return true
}

func (m *CredentialSessionManager) setVerdict(verdict bool) {
	m.mu.Lock()
	m.lastVerifyAt = m.now()
	m.lastVerdict = verdict
	m.mu.Unlock()
}

// refreshDelay is how long until the proactive refresh should fire: time to
// expiry minus the refresh margin. Negative when already inside the margin.
func (m *CredentialSessionManager) refreshDelay(now time.Time) time.Duration {
	margin := time.Duration(m.cfgProvider.Get().Auth.RefreshMarginSeconds) * time.Second
	return m.store.TimeToExpiry(now) - margin
}

// ScheduleRefresh arms a one-shot timer for the proactive refresh at
// expiresAt - refreshMargin, clamped to >= 0. If the credential is already
// inside the margin the refresh runs immediately instead of being scheduled.
func (m *CredentialSessionManager) ScheduleRefresh(ctx context.Context) {
	delay := m.refreshDelay(m.now())

	m.mu.Lock()
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	if delay <= 0 {
		m.mu.Unlock()
		m.logger.Info(ctx, "Credential already inside refresh margin, refreshing now")
		safego.Execute(ctx, m.logger, "ImmediateCredentialRefresh", func() {
			_ = m.RefreshNow(context.WithoutCancel(ctx))
		})
		return
	}
	m.refreshTimer = time.AfterFunc(delay, func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error(context.Background(), "Panic recovered in refresh timer", "panic_info", fmt.Sprintf("%v", r))
			}
		}()
		_ = m.RefreshNow(context.Background())
	})
	m.mu.Unlock()
	m.logger.Info(ctx, "Proactive refresh scheduled", "delay", delay.String())
}

// RefreshNow exchanges the refresh token for a fresh credential. Success
// replaces the stored credential, persists it, and re-arms the timer. Any
// failure clears all credential state: the caller must go back through Login.
func (m *CredentialSessionManager) RefreshNow(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	current, held := m.store.Snapshot()
	if !held {
		return domain.ErrNotAuthenticated
	}

	pair, err := m.gateway.Refresh(ctx, current.RefreshToken)
	if err != nil {
		metrics.IncrementRefresh("failure")
		m.logger.Warn(ctx, "Credential refresh failed, clearing session state", "identity", current.OwnerIdentity, "error", err.Error())
		m.clearState(ctx, current.OwnerIdentity, false)
		return err
	}

	now := m.now()
	refreshToken := pair.RefreshToken
	if refreshToken == "" {
		// Some issuers do not rotate the refresh token.
		refreshToken = current.RefreshToken
	}
	cred := domain.Credential{
		AccessToken:     pair.AccessToken,
		RefreshToken:    refreshToken,
		ExpiresAt:       domain.DeriveExpiry(pair.AccessToken, pair.ExpiresIn, now),
		OwnerIdentity:   current.OwnerIdentity,
		EndpointBaseURL: current.EndpointBaseURL,
	}
	m.store.Set(cred)
	m.setVerdict(true)
	m.persist(ctx, cred)
	metrics.IncrementRefresh("success")

	m.logger.Info(ctx, "Credential refreshed", "identity", cred.OwnerIdentity, "expires_at", cred.ExpiresAt)
	m.ScheduleRefresh(ctx)
	return nil
}

// Logout clears the in-memory credential, drops transport cookies, removes
// the persisted credential, and signals dependent caches to invalidate.
func (m *CredentialSessionManager) Logout(ctx context.Context) {
	current, held := m.store.Snapshot()
	identity := ""
	if held {
		identity = current.OwnerIdentity
	}
	m.clearState(ctx, identity, true)
	m.logger.Info(ctx, "Logged out", "identity", identity)
}

func (m *CredentialSessionManager) clearState(ctx context.Context, identity string, fireHooks bool) {
	m.store.Clear()
	m.setVerdict(false)

	m.mu.Lock()
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	m.mu.Unlock()

	m.gateway.ClearSession()
	if m.persister != nil && identity != "" {
		if err := m.persister.Delete(identity); err != nil {
			m.logger.Warn(ctx, "Failed to delete persisted credential", "identity", identity, "error", err.Error())
		}
	}
	if fireHooks && identity != "" {
		m.fireHooks(ctx, identity)
	}
}

func (m *CredentialSessionManager) fireHooks(ctx context.Context, identity string) {
	m.mu.Lock()
	hooks := make([]func(context.Context, string), len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()
	for _, hook := range hooks {
		hook(ctx, identity)
	}
}

func (m *CredentialSessionManager) persist(ctx context.Context, cred domain.Credential) {
	if m.persister == nil {
		return
	}
	if err := m.persister.Save(cred); err != nil {
		// Persistence is an optimization for restarts, never fatal.
		m.logger.Warn(ctx, "Failed to persist credential", "identity", cred.OwnerIdentity, "error", err.Error())
	}
}

// AccessToken returns the current access token ("" when unauthenticated).
func (m *CredentialSessionManager) AccessToken() string {
	return m.store.AccessToken()
}

// CurrentIdentity returns the identity the held credential belongs to.
func (m *CredentialSessionManager) CurrentIdentity() (string, bool) {
	cred, held := m.store.Snapshot()
	if !held {
		return "", false
	}
	return cred.OwnerIdentity, true
}

// Stop releases the refresh timer; used on shutdown.
func (m *CredentialSessionManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
}

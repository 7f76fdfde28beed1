package application

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"gitlab.com/arvasys/api/eam-gateway-service/internal/adapters/metrics"
	"gitlab.com/arvasys/api/eam-gateway-service/internal/domain"
	"gitlab.com/arvasys/api/eam-gateway-service/pkg/safego"
)

// loginSlot records the state of one caller session's background login. The
// generation counter lets a superseding login discard the result of the run
// it replaced: the old goroutine still finishes, but reports into the void.
type loginSlot struct {
	handle     string
	generation uint64
	startedAt  time.Time
	inProgress bool
	failure    error
}

// BackgroundAuthCoordinator runs logins asynchronously so no request handler
// ever blocks on the remote exchange. Exactly one login may be in flight per
// caller session; state is polled, never pushed.
type BackgroundAuthCoordinator struct {
	logger   domain.Logger
	sessions *CredentialSessionManager

	mu         sync.Mutex
	slots      map[string]*loginSlot
	runLocks   map[string]*sync.Mutex
	generation uint64

	now func() time.Time
}

func NewBackgroundAuthCoordinator(logger domain.Logger, sessions *CredentialSessionManager) *BackgroundAuthCoordinator {
	if logger == nil {
		panic("logger cannot be nil in NewBackgroundAuthCoordinator")
	}
	if sessions == nil {
		panic("session manager cannot be nil in NewBackgroundAuthCoordinator")
	}
	return &BackgroundAuthCoordinator{
		logger:   logger,
		sessions: sessions,
		slots:    make(map[string]*loginSlot),
		runLocks: make(map[string]*sync.Mutex),
		now:      time.Now,
	}
}

// StartLogin spawns an asynchronous login for the caller's session and
// returns a handle. Starting a new login while one is in flight replaces the
// slot; there is no cancellation, the superseded run completes and its result
// is discarded.
func (c *BackgroundAuthCoordinator) StartLogin(ctx context.Context, sessionID, identity, secret string) string {
	c.mu.Lock()
	c.generation++
	generation := c.generation
	slot := &loginSlot{
		handle:     uuid.NewString(),
		generation: generation,
		startedAt:  c.now(),
		inProgress: true,
	}
	c.slots[sessionID] = slot
	runMu, ok := c.runLocks[sessionID]
	if !ok {
		runMu = &sync.Mutex{}
		c.runLocks[sessionID] = runMu
	}
	c.mu.Unlock()

	metrics.IncrementBackgroundLogins()
	c.logger.Info(ctx, "Background login started", "handle", slot.handle, "identity", identity)

	// The login must outlive the request that started it.
	loginCtx := context.WithoutCancel(ctx)
	safego.Execute(loginCtx, c.logger, "BackgroundLogin", func() {
		defer metrics.DecrementBackgroundLogins()

		// Exchanges for one session run strictly in sequence. A superseded
		// run either skips the exchange entirely or finishes before its
		// successor starts, so the credential in the store always belongs to
		// the latest generation.
		runMu.Lock()
		defer runMu.Unlock()

		if c.superseded(sessionID, generation) {
			c.logger.Debug(loginCtx, "Skipping superseded background login", "handle", slot.handle)
			return
		}

		err := c.sessions.Login(loginCtx, identity, secret)

		c.mu.Lock()
		defer c.mu.Unlock()
		current, ok := c.slots[sessionID]
		if !ok || current.generation != generation {
			c.logger.Debug(loginCtx, "Discarding result of superseded background login", "handle", slot.handle)
			return
		}
		current.inProgress = false
		current.failure = err
	})

	return slot.handle
}

func (c *BackgroundAuthCoordinator) superseded(sessionID string, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.slots[sessionID]
	return !ok || current.generation != generation
}

// PollStatus reports the state of the caller session's login slot without
// blocking.
func (c *BackgroundAuthCoordinator) PollStatus(sessionID string) domain.AuthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, ok := c.slots[sessionID]
	if !ok {
		return domain.AuthStatus{Phase: domain.AuthPhaseNone}
	}
	if slot.inProgress {
		return domain.AuthStatus{
			Phase:          domain.AuthPhaseInProgress,
			ElapsedSeconds: int(c.now().Sub(slot.startedAt).Seconds()),
		}
	}
	if slot.failure != nil {
		return domain.AuthStatus{Phase: domain.AuthPhaseFailed, Reason: slot.failure.Error()}
	}
	return domain.AuthStatus{Phase: domain.AuthPhaseSucceeded}
}

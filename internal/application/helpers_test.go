package application

import (
	"context"
	"sync"
	"testing"

	"gitlab.com/arvasys/api/eam-gateway-service/internal/adapters/config"
	"gitlab.com/arvasys/api/eam-gateway-service/internal/domain"
)

// nopLogger satisfies domain.Logger and discards everything.
type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...any) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...any)  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...any)  {}
func (nopLogger) Error(ctx context.Context, msg string, fields ...any) {}
func (nopLogger) Fatal(ctx context.Context, msg string, fields ...any) {}
func (n nopLogger) With(fields ...any) domain.Logger                   { return n }

// staticConfigProvider serves a fixed Config without Viper.
type staticConfigProvider struct {
	cfg *config.Config
}

func (p *staticConfigProvider) Get() *config.Config { return p.cfg }

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			RefreshMarginSeconds: 300,
			VerifyTTLSeconds:     30,
			MinRemainingSeconds:  60,
		},
		Cache: config.CacheConfig{
			MemoryTTLSeconds:     240,
			PersistentTTLSeconds: 1200,
			StaleFallbackSeconds: 1800,
		},
		Search: config.SearchConfig{
			Resource:        "workorder",
			SiteResource:    "site",
			Fields:          []string{"wonum", "description", "status", "siteid"},
			SiteFields:      []string{"siteid", "description"},
			OrderBy:         "+reportdate",
			DefaultPageSize: 20,
			MaxPageSize:     100,
		},
	}
}

// memStore is an in-memory domain.PersistentTierStore used in place of the
// file store so cache tests need no disk.
type memStore struct {
	mu      sync.Mutex
	entries map[domain.CacheKey]*domain.PersistentEntry

	getErr error
	setErr error
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[domain.CacheKey]*domain.PersistentEntry)}
}

func (s *memStore) Get(ctx context.Context, key domain.CacheKey) (*domain.PersistentEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	entry, ok := s.entries[key]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	copied := *entry
	return &copied, nil
}

func (s *memStore) Set(ctx context.Context, key domain.CacheKey, entry *domain.PersistentEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	copied := *entry
	s.entries[key] = &copied
	return nil
}

func (s *memStore) Delete(ctx context.Context, key domain.CacheKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *memStore) DeleteNamespace(ctx context.Context, identity, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if key.Identity == identity && key.Namespace == namespace {
			delete(s.entries, key)
		}
	}
	return nil
}

func (s *memStore) Ping(ctx context.Context) error { return nil }

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// fakeAuthGateway scripts gateway responses and counts calls.
type fakeAuthGateway struct {
	mu sync.Mutex

	loginPair  *domain.TokenPair
	loginErr   error
	loginGate  chan struct{} // when set, Login blocks until the channel closes
	loginCalls int

	refreshPair  *domain.TokenPair
	refreshErr   error
	refreshCalls int

	probeResult *domain.ProbeResult
	probeErr    error
	probeCalls  int

	clearCalls int
	baseURL    string
}

func newFakeAuthGateway() *fakeAuthGateway {
	return &fakeAuthGateway{
		loginPair:   &domain.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresIn: 3600},
		refreshPair: &domain.TokenPair{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 3600},
		probeResult: &domain.ProbeResult{Record: map[string]any{"spi:personid": "maint", "spi:defsite": "BEDFORD"}},
		baseURL:     "https://eam.example.com",
	}
}

func (g *fakeAuthGateway) Login(ctx context.Context, identity, secret string) (*domain.TokenPair, error) {
	g.mu.Lock()
	g.loginCalls++
	gate := g.loginGate
	pair, err := g.loginPair, g.loginErr
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return pair, nil
}

func (g *fakeAuthGateway) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshCalls++
	if g.refreshErr != nil {
		return nil, g.refreshErr
	}
	return g.refreshPair, nil
}

func (g *fakeAuthGateway) ProbeIdentity(ctx context.Context, accessToken string) (*domain.ProbeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.probeCalls++
	if g.probeErr != nil {
		return nil, g.probeErr
	}
	return g.probeResult, nil
}

func (g *fakeAuthGateway) ClearSession() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clearCalls++
}

func (g *fakeAuthGateway) BaseURL() string { return g.baseURL }

func (g *fakeAuthGateway) probes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.probeCalls
}

func (g *fakeAuthGateway) refreshes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refreshCalls
}

// fakeSearchGateway replays a scripted sequence of responses and records every
// request it saw.
type searchResponse struct {
	rows []map[string]any
	err  error
}

type fakeSearchGateway struct {
	mu        sync.Mutex
	responses []searchResponse
	requests  []domain.SearchRequest
}

func (g *fakeSearchGateway) Search(ctx context.Context, req domain.SearchRequest) ([]map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if len(g.responses) == 0 {
		return []map[string]any{}, nil
	}
	resp := g.responses[0]
	if len(g.responses) > 1 {
		g.responses = g.responses[1:]
	}
	return resp.rows, resp.err
}

func (g *fakeSearchGateway) calls() []domain.SearchRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.SearchRequest, len(g.requests))
	copy(out, g.requests)
	return out
}

// newTestSessionManager returns a logged-in session manager backed by the
// given fake gateway; Cleanup stops the refresh timer armed by Login.
func newTestSessionManager(t *testing.T, gateway *fakeAuthGateway) *CredentialSessionManager {
	t.Helper()
	mgr := NewCredentialSessionManager(&staticConfigProvider{cfg: testConfig()}, nopLogger{}, gateway, nil)
	if err := mgr.Login(context.Background(), "maint", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	t.Cleanup(mgr.Stop)
	return mgr
}

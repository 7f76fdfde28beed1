package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/arvasys/api/eam-gateway-service/internal/adapters/config"
	"gitlab.com/arvasys/api/eam-gateway-service/internal/application"
	"gitlab.com/arvasys/api/eam-gateway-service/internal/domain"
	"gitlab.com/arvasys/api/eam-gateway-service/pkg/contextkeys"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...any) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...any)  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...any)  {}
func (nopLogger) Error(ctx context.Context, msg string, fields ...any) {}
func (nopLogger) Fatal(ctx context.Context, msg string, fields ...any) {}
func (n nopLogger) With(fields ...any) domain.Logger                   { return n }

type staticProvider struct {
	cfg *config.Config
}

func (p *staticProvider) Get() *config.Config { return p.cfg }

func testProvider() *staticProvider {
	return &staticProvider{cfg: &config.Config{
		Auth: config.AuthConfig{
			RefreshMarginSeconds: 300,
			VerifyTTLSeconds:     30,
			MinRemainingSeconds:  60,
		},
		Search: config.SearchConfig{
			Resource:        "workorder",
			DefaultPageSize: 20,
			MaxPageSize:     100,
			OrderBy:         "+reportdate",
		},
	}}
}

type stubAuthGateway struct {
	loginErr error
	probeErr error
}

func (g *stubAuthGateway) Login(ctx context.Context, identity, secret string) (*domain.TokenPair, error) {
	if g.loginErr != nil {
		return nil, g.loginErr
	}
	return &domain.TokenPair{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 3600}, nil
}

func (g *stubAuthGateway) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	return &domain.TokenPair{AccessToken: "at2", RefreshToken: "rt2", ExpiresIn: 3600}, nil
}

func (g *stubAuthGateway) ProbeIdentity(ctx context.Context, accessToken string) (*domain.ProbeResult, error) {
	if g.probeErr != nil {
		return nil, g.probeErr
	}
	return &domain.ProbeResult{Record: map[string]any{"spi:personid": "maint"}}, nil
}

func (g *stubAuthGateway) ClearSession()   {}
func (g *stubAuthGateway) BaseURL() string { return "https://eam.example.com" }

type stubSearchGateway struct {
	rows []map[string]any
	err  error
}

func (g *stubSearchGateway) Search(ctx context.Context, req domain.SearchRequest) ([]map[string]any, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.rows, nil
}

func withSession(r *http.Request, sessionID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), contextkeys.SessionIDKey, sessionID))
}

func newSessions(t *testing.T, gateway domain.AuthGateway) *application.CredentialSessionManager {
	sessions := application.NewCredentialSessionManager(testProvider(), nopLogger{}, gateway, nil)
	t.Cleanup(sessions.Stop)
	return sessions
}

func TestStartLoginHandler(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		sessions := newSessions(t, &stubAuthGateway{})
		coordinator := application.NewBackgroundAuthCoordinator(nopLogger{}, sessions)
		handler := StartLoginHandler(coordinator, nopLogger{})

		req := withSession(httptest.NewRequest(http.MethodPost, "/auth/login",
			strings.NewReader(`{"identity":"maint","secret":"secret"}`)), "session-1")
		rec := httptest.NewRecorder()
		handler(rec, req)

		require.Equal(t, http.StatusAccepted, rec.Code)
		var resp StartLoginResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Handle)
	})

	t.Run("rejects malformed payload", func(t *testing.T) {
		handler := StartLoginHandler(nil, nopLogger{})
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		handler(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects missing credentials", func(t *testing.T) {
		handler := StartLoginHandler(nil, nopLogger{})
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"identity":"maint"}`))
		rec := httptest.NewRecorder()
		handler(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var resp domain.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, domain.CodeBadRequest, resp.Code)
	})
}

func TestAuthStatusHandler(t *testing.T) {
	sessions := newSessions(t, &stubAuthGateway{})
	coordinator := application.NewBackgroundAuthCoordinator(nopLogger{}, sessions)
	handler := AuthStatusHandler(coordinator, nopLogger{})

	req := withSession(httptest.NewRequest(http.MethodGet, "/auth/status", nil), "session-1")
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status domain.AuthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, domain.AuthPhaseNone, status.Phase)

	// After a completed login the status flips to succeeded.
	coordinator.StartLogin(context.Background(), "session-1", "maint", "secret")
	require.Eventually(t, func() bool {
		return coordinator.PollStatus("session-1").Phase == domain.AuthPhaseSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	rec = httptest.NewRecorder()
	handler(rec, req)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, domain.AuthPhaseSucceeded, status.Phase)
}

func TestLogoutHandler(t *testing.T) {
	sessions := newSessions(t, &stubAuthGateway{})
	require.NoError(t, sessions.Login(context.Background(), "maint", "secret"))

	handler := LogoutHandler(sessions, nopLogger{})
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, sessions.AccessToken())
}

func TestWorkOrdersHandler(t *testing.T) {
	t.Run("criteria from query parameters", func(t *testing.T) {
		sessions := newSessions(t, &stubAuthGateway{})
		require.NoError(t, sessions.Login(context.Background(), "maint", "secret"))
		engine := application.NewWorkOrderQueryEngine(testProvider(), nopLogger{}, sessions,
			&stubSearchGateway{rows: []map[string]any{{"spi:wonum": "1001"}}})
		handler := WorkOrdersHandler(engine, nopLogger{})

		req := httptest.NewRequest(http.MethodGet, "/workorders?site=BEDFORD&status=APPR,INPRG&page=1&pagesize=10", nil)
		rec := httptest.NewRecorder()
		handler(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var page domain.WorkOrderPage
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		require.Len(t, page.Records, 1)
		assert.Equal(t, "1001", page.Records[0].StringField("workorderid"))
		assert.False(t, page.Pagination.HasNext)
	})

	t.Run("empty query returns empty page", func(t *testing.T) {
		sessions := newSessions(t, &stubAuthGateway{})
		engine := application.NewWorkOrderQueryEngine(testProvider(), nopLogger{}, sessions, &stubSearchGateway{})
		handler := WorkOrdersHandler(engine, nopLogger{})

		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/workorders", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var page domain.WorkOrderPage
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.Empty(t, page.Records)
	})

	t.Run("unauthenticated search is 401", func(t *testing.T) {
		gateway := &stubAuthGateway{probeErr: domain.ErrLoginRedirect}
		sessions := newSessions(t, gateway)
		engine := application.NewWorkOrderQueryEngine(testProvider(), nopLogger{}, sessions,
			&stubSearchGateway{err: domain.ErrLoginRedirect})
		handler := WorkOrdersHandler(engine, nopLogger{})

		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/workorders?site=BEDFORD", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   domain.ErrorCode
	}{
		{"not authenticated", domain.ErrNotAuthenticated, http.StatusUnauthorized, domain.CodeNotAuthenticated},
		{"timeout", domain.ErrTimeout, http.StatusBadGateway, domain.CodeRemoteUnavailable},
		{"connection failed", domain.ErrConnectionFailed, http.StatusBadGateway, domain.CodeRemoteUnavailable},
		{"malformed response", domain.ErrMalformedResponse, http.StatusBadGateway, domain.CodeRemoteUnavailable},
		{"login redirect", domain.ErrLoginRedirect, http.StatusBadGateway, domain.CodeRemoteUnavailable},
		{"anything else", context.Canceled, http.StatusInternalServerError, domain.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeDomainError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp domain.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

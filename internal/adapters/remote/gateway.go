package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"gitlab.com/arvasys/api/eam-gateway-service/internal/adapters/config"
	"gitlab.com/arvasys/api/eam-gateway-service/internal/adapters/metrics"
	"gitlab.com/arvasys/api/eam-gateway-service/internal/domain"
)

// Gateway talks to the remote asset-management API. It owns the HTTP session
// (cookie jar); callers provide the bearer token per call. It implements both
// domain.AuthGateway and domain.SearchGateway.
type Gateway struct {
	logger      domain.Logger
	cfgProvider config.Provider
	client      *http.Client
	jar         *swappableJar
}

// swappableJar is the jar handed to the HTTP client once at construction.
// ClearSession swaps the inner jar instead of reassigning client.Jar, so
// in-flight requests reading the jar never race the swap.
type swappableJar struct {
	mu    sync.RWMutex
	inner http.CookieJar
}

func (j *swappableJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.inner.SetCookies(u, cookies)
}

func (j *swappableJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.inner.Cookies(u)
}

func (j *swappableJar) swap(inner http.CookieJar) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner = inner
}

func NewGateway(cfgProvider config.Provider, logger domain.Logger) (*Gateway, error) {
	if cfgProvider == nil {
		panic("config provider cannot be nil in NewGateway")
	}
	if logger == nil {
		panic("logger cannot be nil in NewGateway")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	connectTimeout := time.Duration(cfgProvider.Get().Remote.ConnectTimeoutSeconds) * time.Second
	if connectTimeout <= 0 {
		connectTimeout = 3 * time.Second
	}
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: connectTimeout,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}

	sessionJar := &swappableJar{inner: jar}
	return &Gateway{
		logger:      logger,
		cfgProvider: cfgProvider,
		jar:         sessionJar,
		// Read deadlines come from per-call contexts, not a client-wide timeout.
		client: &http.Client{Jar: sessionJar, Transport: transport},
	}, nil
}

func (g *Gateway) BaseURL() string {
	return g.cfgProvider.Get().Remote.BaseURL
}

// ClearSession drops all transport-level cookies by swapping the inner jar.
func (g *Gateway) ClearSession() {
	jar, err := cookiejar.New(nil)
	if err != nil {
		// cookiejar.New with nil options never fails; keep the old jar if it somehow does.
		g.logger.Error(context.Background(), "Failed to replace cookie jar on session clear", "error", err.Error())
		return
	}
	g.jar.swap(jar)
}

// Login exchanges identity and secret for a token pair with a form-encoded
// password grant.
func (g *Gateway) Login(ctx context.Context, identity, secret string) (*domain.TokenPair, error) {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {identity},
		"password":   {secret},
	}
	pair, err := g.tokenExchange(ctx, "login", form)
	if err != nil {
		if isRejectedStatus(err) {
			return nil, fmt.Errorf("%w: login rejected for %q", domain.ErrInvalidCredentials, identity)
		}
		return nil, err
	}
	return pair, nil
}

// Refresh exchanges the refresh token for a new token pair.
func (g *Gateway) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	pair, err := g.tokenExchange(ctx, "refresh", form)
	if err != nil {
		if isRejectedStatus(err) {
			return nil, fmt.Errorf("%w", domain.ErrRefreshRejected)
		}
		return nil, err
	}
	return pair, nil
}

// statusError carries a non-2xx token-endpoint status through tokenExchange
// so Login and Refresh can map it to their own sentinel.
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("credential endpoint returned status %d", e.status)
}

func isRejectedStatus(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status >= 400 && se.status < 500
}

func (g *Gateway) tokenExchange(ctx context.Context, endpoint string, form url.Values) (*domain.TokenPair, error) {
	remoteCfg := g.cfgProvider.Get().Remote
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(remoteCfg.ReadTimeoutSeconds)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, remoteCfg.BaseURL+remoteCfg.LoginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		metrics.ObserveRemoteCall(endpoint, "transport_error", time.Since(start).Seconds())
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.ObserveRemoteCall(endpoint, "rejected", time.Since(start).Seconds())
		g.logger.Warn(ctx, "Credential endpoint rejected the grant", "endpoint", endpoint, "status", resp.StatusCode)
		return nil, &statusError{status: resp.StatusCode}
	}

	var pair domain.TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		metrics.ObserveRemoteCall(endpoint, "malformed", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: token response: %v", domain.ErrMalformedResponse, err)
	}
	if pair.AccessToken == "" {
		metrics.ObserveRemoteCall(endpoint, "malformed", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: token response missing access_token", domain.ErrMalformedResponse)
	}

	metrics.ObserveRemoteCall(endpoint, "success", time.Since(start).Seconds())
	return &pair, nil
}

// ProbeIdentity issues the lightweight authenticated GET against the
// identity-probe endpoint. It is authoritative only when the final URL did
// not land on the login surface and the body is structured JSON; everything
// else maps to a sentinel the caller treats as "not authenticated".
func (g *Gateway) ProbeIdentity(ctx context.Context, accessToken string) (*domain.ProbeResult, error) {
	remoteCfg := g.cfgProvider.Get().Remote
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(remoteCfg.ReadTimeoutSeconds)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, remoteCfg.BaseURL+remoteCfg.ProbePath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build probe request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		metrics.ObserveRemoteCall("probe", "transport_error", time.Since(start).Seconds())
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	finalURL := resp.Request.URL.String()
	if g.isLoginSurface(finalURL) {
		metrics.ObserveRemoteCall("probe", "login_redirect", time.Since(start).Seconds())
		g.logger.Warn(ctx, "Identity probe was redirected to the login surface", "final_url", finalURL)
		return nil, fmt.Errorf("%w: probe landed on %s", domain.ErrLoginRedirect, finalURL)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.ObserveRemoteCall("probe", "ambiguous", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: probe status %d", domain.ErrProbeAmbiguous, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveRemoteCall("probe", "transport_error", time.Since(start).Seconds())
		return nil, classifyTransportError(err)
	}
	var record map[string]any
	if err := json.Unmarshal(body, &record); err != nil {
		metrics.ObserveRemoteCall("probe", "malformed", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: probe body is not structured JSON: %v", domain.ErrMalformedResponse, err)
	}

	metrics.ObserveRemoteCall("probe", "success", time.Since(start).Seconds())
	return &domain.ProbeResult{Record: record, FinalURL: finalURL}, nil
}

// searchEnvelope is the paginated search response shape: records live under
// "member".
type searchEnvelope struct {
	Member []map[string]any `json:"member"`
}

// Search issues one call against the paginated search endpoint.
func (g *Gateway) Search(ctx context.Context, sreq domain.SearchRequest) ([]map[string]any, error) {
	remoteCfg := g.cfgProvider.Get().Remote
	readTimeout := time.Duration(remoteCfg.SearchReadTimeoutSeconds) * time.Second
	callCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	params := url.Values{}
	if len(sreq.Fields) > 0 {
		params.Set("select", strings.Join(sreq.Fields, ","))
	}
	if sreq.Where != "" {
		params.Set("where", sreq.Where)
	}
	if sreq.PageSize > 0 {
		params.Set("pagesize", strconv.Itoa(sreq.PageSize))
	}
	if sreq.Page > 1 {
		params.Set("pageno", strconv.Itoa(sreq.Page))
	}
	if sreq.OrderBy != "" {
		params.Set("orderby", sreq.OrderBy)
	}

	endpoint := fmt.Sprintf("%s%s/%s?%s", remoteCfg.BaseURL, remoteCfg.SearchPath, url.PathEscape(sreq.Resource), params.Encode())
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if sreq.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+sreq.AccessToken)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		metrics.ObserveRemoteCall("search", "transport_error", time.Since(start).Seconds())
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	finalURL := resp.Request.URL.String()
	if g.isLoginSurface(finalURL) {
		metrics.ObserveRemoteCall("search", "login_redirect", time.Since(start).Seconds())
		g.logger.Warn(ctx, "Search was redirected to the login surface", "final_url", finalURL, "resource", sreq.Resource)
		return nil, fmt.Errorf("%w: search landed on %s", domain.ErrLoginRedirect, finalURL)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.ObserveRemoteCall("search", "failed", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: search status %d", domain.ErrConnectionFailed, resp.StatusCode)
	}

	var envelope searchEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		metrics.ObserveRemoteCall("search", "malformed", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: search body: %v", domain.ErrMalformedResponse, err)
	}

	metrics.ObserveRemoteCall("search", "success", time.Since(start).Seconds())
	return envelope.Member, nil
}

func (g *Gateway) isLoginSurface(finalURL string) bool {
	pattern := g.cfgProvider.Get().Remote.LoginSurfacePattern
	return pattern != "" && strings.Contains(finalURL, pattern)
}

// classifyTransportError maps network failures onto the sentinel taxonomy; a
// timed-out call is treated identically to any other network error upstream,
// the sentinel only preserves the distinction for logs and metrics.
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
}

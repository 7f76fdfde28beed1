package domain

import "context"

// TokenPair is what the remote credential endpoint returns: the short-lived
// access token plus the refresh token used to renew it.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
}

// ProbeResult is the outcome of an identity probe. Record is the raw,
// uncleaned profile payload; FinalURL is where the request ended up after
// redirects, used to detect a bounce to the login surface.
type ProbeResult struct {
	Record   map[string]any
	FinalURL string
}

// AuthGateway is the port to the remote credential and identity-probe
// endpoints. Implementations own the HTTP session (cookie jar) and map
// transport failures onto the sentinel error taxonomy.
type AuthGateway interface {
	Login(ctx context.Context, identity, secret string) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	// ProbeIdentity issues the lightweight authenticated GET that doubles as
	// the profile fetch. Returns ErrLoginRedirect when the remote bounced the
	// request to its login surface, ErrMalformedResponse when the body is not
	// the expected structured payload.
	ProbeIdentity(ctx context.Context, accessToken string) (*ProbeResult, error)
	// ClearSession drops transport-level cookies.
	ClearSession()
	BaseURL() string
}

// SearchRequest describes one call to the paginated search endpoint.
type SearchRequest struct {
	Resource    string
	Fields      []string
	Where       string
	Page        int
	PageSize    int
	OrderBy     string // "+field" ascending, "-field" descending
	AccessToken string
}

// SearchGateway is the port to the remote paginated search endpoint. The
// returned records are raw payloads; cleaning happens in the caller.
type SearchGateway interface {
	Search(ctx context.Context, req SearchRequest) ([]map[string]any, error)
}

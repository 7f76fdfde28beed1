package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/arvasys/api/eam-gateway-service/internal/domain"
)

// queryFixture wires a logged-in session manager, fake gateways and an
// in-memory persistent tier into a QueryCacheService whose clocks the test
// controls.
type queryFixture struct {
	service *QueryCacheService
	auth    *fakeAuthGateway
	search  *fakeSearchGateway
	store   *memStore
	now     time.Time
}

func newQueryFixture(t *testing.T) *queryFixture {
	auth := newFakeAuthGateway()
	search := &fakeSearchGateway{}
	store := newMemStore()
	sessions := newTestSessionManager(t, auth)

	f := &queryFixture{
		auth:   auth,
		search: search,
		store:  store,
		now:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.service = NewQueryCacheService(&staticConfigProvider{cfg: testConfig()}, nopLogger{}, sessions, auth, search, store)
	f.service.profiles.now = func() time.Time { return f.now }
	f.service.sites.now = func() time.Time { return f.now }
	return f
}

func TestGetProfileCachesAcrossCalls(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()

	first, err := f.service.GetProfile(ctx, DefaultGetOptions())
	require.NoError(t, err)
	assert.False(t, first.Degraded)
	assert.Equal(t, "maint", first.Record.StringField("userid"), "probe payload must be cleaned and aliased")
	assert.Equal(t, "BEDFORD", first.Record.StringField("defaultsite"))
	assert.Equal(t, 1, f.auth.probes())

	// Second call inside the memory TTL: no remote traffic at all.
	second, err := f.service.GetProfile(ctx, DefaultGetOptions())
	require.NoError(t, err)
	assert.Equal(t, first.Record, second.Record)
	assert.Equal(t, 1, f.auth.probes())
}

func TestGetProfileForceRefreshBypassesCache(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()

	_, err := f.service.GetProfile(ctx, DefaultGetOptions())
	require.NoError(t, err)

	_, err = f.service.GetProfile(ctx, GetOptions{UseCache: true, ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, 2, f.auth.probes(), "force refresh must drop the entry and refetch")
}

func TestGetProfileStaleFallbackAfterRemoteFailure(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()

	first, err := f.service.GetProfile(ctx, DefaultGetOptions())
	require.NoError(t, err)

	// 25 minutes later both fresh tiers have lapsed and the remote is down:
	// the stale persistent copy is served, flagged degraded.
	f.now = f.now.Add(25 * time.Minute)
	f.auth.probeErr = domain.ErrConnectionFailed

	got, err := f.service.GetProfile(ctx, DefaultGetOptions())
	require.NoError(t, err)
	assert.True(t, got.Degraded)
	assert.Equal(t, first.Record, got.Record)

	// Past the stale window the failure surfaces instead.
	f.now = f.now.Add(10 * time.Minute)
	_, err = f.service.GetProfile(ctx, DefaultGetOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnectionFailed)
}

func TestGetProfileRequiresSession(t *testing.T) {
	auth := newFakeAuthGateway()
	sessions := NewCredentialSessionManager(&staticConfigProvider{cfg: testConfig()}, nopLogger{}, auth, nil)
	service := NewQueryCacheService(&staticConfigProvider{cfg: testConfig()}, nopLogger{}, sessions, auth, &fakeSearchGateway{}, newMemStore())

	_, err := service.GetProfile(context.Background(), DefaultGetOptions())
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	assert.Equal(t, 0, auth.probes(), "an unauthenticated read must not reach the remote")
}

func TestGetSitesMergesProfileSites(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()

	// The remote listing omits the profile's default site BEDFORD.
	f.search.responses = []searchResponse{{rows: []map[string]any{
		{"spi:siteid": "NASHUA", "spi:description": "Nashua plant"},
		{"spi:siteid": "ACTON", "spi:description": "Acton depot"},
	}}}

	got, err := f.service.GetSites(ctx, DefaultGetOptions())
	require.NoError(t, err)
	require.Len(t, got.Sites, 3)

	// Sorted by siteid, with the synthesized BEDFORD entry present.
	assert.Equal(t, "ACTON", got.Sites[0].StringField("siteid"))
	assert.Equal(t, "BEDFORD", got.Sites[1].StringField("siteid"))
	assert.Equal(t, "NASHUA", got.Sites[2].StringField("siteid"))
	assert.Equal(t, "BEDFORD (from profile)", got.Sites[1].StringField("description"))
}

func TestGetSitesDoesNotDuplicateProfileSites(t *testing.T) {
	f := newQueryFixture(t)
	f.search.responses = []searchResponse{{rows: []map[string]any{
		{"spi:siteid": "BEDFORD", "spi:description": "Bedford plant"},
	}}}

	got, err := f.service.GetSites(context.Background(), DefaultGetOptions())
	require.NoError(t, err)
	require.Len(t, got.Sites, 1)
	assert.Equal(t, "Bedford plant", got.Sites[0].StringField("description"),
		"the remote listing must win over the synthesized profile entry")
}

func TestGetSitesCachesAcrossCalls(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()
	f.search.responses = []searchResponse{{rows: []map[string]any{
		{"spi:siteid": "BEDFORD"},
	}}}

	_, err := f.service.GetSites(ctx, DefaultGetOptions())
	require.NoError(t, err)
	_, err = f.service.GetSites(ctx, DefaultGetOptions())
	require.NoError(t, err)
	assert.Len(t, f.search.calls(), 1)
}

func TestInvalidateIdentityWipesBothNamespaces(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()
	f.search.responses = []searchResponse{{rows: []map[string]any{
		{"spi:siteid": "BEDFORD"},
	}}}

	_, err := f.service.GetProfile(ctx, DefaultGetOptions())
	require.NoError(t, err)
	_, err = f.service.GetSites(ctx, DefaultGetOptions())
	require.NoError(t, err)
	require.Equal(t, 2, f.store.len())

	f.service.InvalidateIdentity(ctx, "maint")
	assert.Equal(t, 0, f.store.len())

	// The next profile read goes back to the remote.
	_, err = f.service.GetProfile(ctx, DefaultGetOptions())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, f.auth.probes(), 2)
}

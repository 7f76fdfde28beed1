package application

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"gitlab.com/arvasys/api/eam-gateway-service/internal/adapters/config"
	"gitlab.com/arvasys/api/eam-gateway-service/internal/domain"
)

const (
	NamespaceProfile = "profile"
	NamespaceSites   = "sites"
)

// GetOptions control one cached read. UseCache=false skips both tiers on the
// way in (the result is still written back); ForceRefresh additionally drops
// the existing entry first.
type GetOptions struct {
	UseCache     bool
	ForceRefresh bool
}

// DefaultGetOptions is the common read-through configuration.
func DefaultGetOptions() GetOptions {
	return GetOptions{UseCache: true}
}

// ProfileResult is a cleaned profile record plus a degraded flag set when the
// record came from a stale persistent entry after a failed remote call.
type ProfileResult struct {
	Record   domain.DomainRecord `json:"record"`
	Degraded bool                `json:"degraded"`
}

// SitesResult is the merged, sorted site list plus the degraded flag.
type SitesResult struct {
	Sites    []domain.DomainRecord `json:"sites"`
	Degraded bool                  `json:"degraded"`
}

// QueryCacheService is the domain facade over the tiered caches: it validates
// the session, serves profile and site reads memory → disk → remote, writes
// results through both tiers, and exposes explicit invalidation. Concurrent
// remote fetches for the same key are deduplicated with singleflight.
type QueryCacheService struct {
	logger        domain.Logger
	cfgProvider   config.Provider
	sessions      *CredentialSessionManager
	authGateway   domain.AuthGateway
	searchGateway domain.SearchGateway

	profiles *TieredCache[domain.DomainRecord]
	sites    *TieredCache[[]domain.DomainRecord]

	flight singleflight.Group
}

func NewQueryCacheService(
	cfgProvider config.Provider,
	logger domain.Logger,
	sessions *CredentialSessionManager,
	authGateway domain.AuthGateway,
	searchGateway domain.SearchGateway,
	persistent domain.PersistentTierStore,
) *QueryCacheService {
	if logger == nil {
		panic("logger cannot be nil in NewQueryCacheService")
	}
	if sessions == nil {
		panic("session manager cannot be nil in NewQueryCacheService")
	}

	cacheCfg := cfgProvider.Get().Cache
	memoryTTL := time.Duration(cacheCfg.MemoryTTLSeconds) * time.Second
	persistentTTL := time.Duration(cacheCfg.PersistentTTLSeconds) * time.Second
	maxStale := time.Duration(cacheCfg.StaleFallbackSeconds) * time.Second

	svc := &QueryCacheService{
		logger:        logger,
		cfgProvider:   cfgProvider,
		sessions:      sessions,
		authGateway:   authGateway,
		searchGateway: searchGateway,
		profiles: NewTieredCache[domain.DomainRecord](logger, persistent, TieredCacheOptions{
			Namespace:     NamespaceProfile,
			MemoryTTL:     memoryTTL,
			PersistentTTL: persistentTTL,
			MaxStale:      maxStale,
		}),
		sites: NewTieredCache[[]domain.DomainRecord](logger, persistent, TieredCacheOptions{
			Namespace:     NamespaceSites,
			MemoryTTL:     memoryTTL,
			PersistentTTL: persistentTTL,
			MaxStale:      maxStale,
		}),
	}

	// Logout and identity switches wipe both namespaces.
	sessions.RegisterInvalidationHook(func(ctx context.Context, identity string) {
		svc.InvalidateIdentity(ctx, identity)
	})

	return svc
}

func (s *QueryCacheService) requireIdentity(ctx context.Context) (string, error) {
	identity, held := s.sessions.CurrentIdentity()
	if !held {
		return "", domain.ErrNotAuthenticated
	}
	if !s.sessions.IsAuthenticated(ctx, false) {
		return "", domain.ErrNotAuthenticated
	}
	return identity, nil
}

// GetProfile returns the caller's profile record: session check, memory tier,
// persistent tier, then the remote identity probe. A remote failure degrades
// to a stale persistent read bounded by the stale-fallback window.
func (s *QueryCacheService) GetProfile(ctx context.Context, opts GetOptions) (*ProfileResult, error) {
	identity, err := s.requireIdentity(ctx)
	if err != nil {
		return nil, err
	}

	key := domain.CacheKey{Identity: identity, Namespace: NamespaceProfile}
	endpoint := s.authGateway.BaseURL()

	if opts.ForceRefresh {
		s.profiles.Invalidate(ctx, key)
	} else if opts.UseCache {
		if record, ok := s.profiles.Get(ctx, key, endpoint); ok {
			return &ProfileResult{Record: record}, nil
		}
	}

	record, err := s.fetchProfile(ctx, key, endpoint)
	if err != nil {
		// Stale read as last resort, only after the remote attempt failed.
		if stale, ok := s.profiles.GetStale(ctx, key, endpoint); ok {
			s.logger.Warn(ctx, "Serving stale profile after remote failure", "identity", identity, "error", err.Error())
			return &ProfileResult{Record: stale, Degraded: true}, nil
		}
		return nil, err
	}
	return &ProfileResult{Record: record}, nil
}

func (s *QueryCacheService) fetchProfile(ctx context.Context, key domain.CacheKey, endpoint string) (domain.DomainRecord, error) {
	value, err, _ := s.flight.Do("profile/"+key.Identity, func() (any, error) {
		result, err := s.authGateway.ProbeIdentity(ctx, s.sessions.AccessToken())
		if err != nil {
			return nil, err
		}
		record := domain.CleanRecord(result.Record)
		s.profiles.Put(ctx, key, endpoint, record)
		return record, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(domain.DomainRecord), nil
}

// GetSites returns the caller's site list. The remote list is merged with the
// profile record's own default/alternate site fields (inserted when missing)
// and sorted by site identifier.
func (s *QueryCacheService) GetSites(ctx context.Context, opts GetOptions) (*SitesResult, error) {
	identity, err := s.requireIdentity(ctx)
	if err != nil {
		return nil, err
	}

	key := domain.CacheKey{Identity: identity, Namespace: NamespaceSites}
	endpoint := s.authGateway.BaseURL()

	if opts.ForceRefresh {
		s.sites.Invalidate(ctx, key)
	} else if opts.UseCache {
		if sites, ok := s.sites.Get(ctx, key, endpoint); ok {
			return &SitesResult{Sites: sites}, nil
		}
	}

	sites, err := s.fetchSites(ctx, key, endpoint)
	if err != nil {
		if stale, ok := s.sites.GetStale(ctx, key, endpoint); ok {
			s.logger.Warn(ctx, "Serving stale site list after remote failure", "identity", identity, "error", err.Error())
			return &SitesResult{Sites: stale, Degraded: true}, nil
		}
		return nil, err
	}
	return &SitesResult{Sites: sites}, nil
}

func (s *QueryCacheService) fetchSites(ctx context.Context, key domain.CacheKey, endpoint string) ([]domain.DomainRecord, error) {
	value, err, _ := s.flight.Do("sites/"+key.Identity, func() (any, error) {
		searchCfg := s.cfgProvider.Get().Search
		rows, err := s.searchGateway.Search(ctx, domain.SearchRequest{
			Resource:    searchCfg.SiteResource,
			Fields:      searchCfg.SiteFields,
			OrderBy:     "+siteid",
			PageSize:    searchCfg.MaxPageSize,
			AccessToken: s.sessions.AccessToken(),
		})
		if err != nil {
			return nil, err
		}

		sites := make([]domain.DomainRecord, 0, len(rows))
		for _, row := range rows {
			sites = append(sites, domain.CleanRecord(row))
		}
		sites = s.mergeProfileSites(ctx, sites)

		sort.Slice(sites, func(i, j int) bool {
			return sites[i].StringField("siteid") < sites[j].StringField("siteid")
		})

		s.sites.Put(ctx, key, endpoint, sites)
		return sites, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]domain.DomainRecord), nil
}

// mergeProfileSites guarantees the profile's own default and alternate sites
// appear in the returned set even when the remote site listing omits them.
func (s *QueryCacheService) mergeProfileSites(ctx context.Context, sites []domain.DomainRecord) []domain.DomainRecord {
	profile, err := s.GetProfile(ctx, DefaultGetOptions())
	if err != nil {
		s.logger.Warn(ctx, "Cannot merge profile sites into site list", "error", err.Error())
		return sites
	}

	present := make(map[string]bool, len(sites))
	for _, site := range sites {
		present[site.StringField("siteid")] = true
	}
	for _, field := range []string{"defaultsite", "altsite"} {
		siteID := profile.Record.StringField(field)
		if siteID == "" || present[siteID] {
			continue
		}
		present[siteID] = true
		sites = append(sites, domain.DomainRecord{
			"siteid":      siteID,
			"description": fmt.Sprintf("%s (from profile)", siteID),
		})
	}
	return sites
}

// InvalidateIdentity removes both namespaces' entries for the identity from
// both tiers. Called on logout and on detected identity mismatch.
func (s *QueryCacheService) InvalidateIdentity(ctx context.Context, identity string) {
	s.profiles.InvalidateIdentity(ctx, identity)
	s.sites.InvalidateIdentity(ctx, identity)
	s.logger.Info(ctx, "Invalidated cached data for identity", "target_identity", identity)
}

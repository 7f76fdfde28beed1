package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gitlab.com/arvasys/api/eam-gateway-service/internal/adapters/cachestore"
	"gitlab.com/arvasys/api/eam-gateway-service/internal/adapters/config"
	"gitlab.com/arvasys/api/eam-gateway-service/internal/adapters/logger"
	appredis "gitlab.com/arvasys/api/eam-gateway-service/internal/adapters/redis"
	"gitlab.com/arvasys/api/eam-gateway-service/internal/adapters/remote"
	"gitlab.com/arvasys/api/eam-gateway-service/internal/application"
	"gitlab.com/arvasys/api/eam-gateway-service/internal/domain"
)

// InitialZapLoggerProvider provides a basic *zap.Logger instance, primarily for config initialization.
// It returns the logger, a cleanup function (for syncing), and an error if creation fails.
func InitialZapLoggerProvider() (*zap.Logger, func(), error) {
	logger, err := zap.NewProduction()
	if err != nil {
		logger, err = zap.NewDevelopment()
		if err != nil {
			// NewExample never fails; log the original error to stderr for visibility.
			logger = zap.NewExample()
			fmt.Fprintf(os.Stderr, "Failed to create initial zap logger (production and development failed, falling back to example): %v\n", err)
		}
	}

	cleanup := func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to sync initial zap logger: %v\n", syncErr)
		}
	}
	return logger, cleanup, nil
}

// App aggregates the wired components. Callers depend on the narrow services
// it exposes through the HTTP facade, never on the aggregate itself.
type App struct {
	configProvider config.Provider
	logger         domain.Logger
	httpServeMux   *http.ServeMux
	httpServer     *http.Server
	sessions       *application.CredentialSessionManager
	queryService   *application.QueryCacheService
	workOrders     *application.WorkOrderQueryEngine
	coordinator    *application.BackgroundAuthCoordinator
	persistentTier domain.PersistentTierStore
}

// NewApp is the constructor for App, used by Wire.
func NewApp(
	cfgProvider config.Provider,
	appLogger domain.Logger,
	mux *http.ServeMux,
	server *http.Server,
	sessions *application.CredentialSessionManager,
	queryService *application.QueryCacheService,
	workOrders *application.WorkOrderQueryEngine,
	coordinator *application.BackgroundAuthCoordinator,
	persistentTier domain.PersistentTierStore,
) (*App, func(), error) {
	app := &App{
		configProvider: cfgProvider,
		logger:         appLogger,
		httpServeMux:   mux,
		httpServer:     server,
		sessions:       sessions,
		queryService:   queryService,
		workOrders:     workOrders,
		coordinator:    coordinator,
		persistentTier: persistentTier,
	}

	cleanup := func() {
		app.logger.Info(context.Background(), "Running app cleanup...")
		app.sessions.Stop()
	}
	return app, cleanup, nil
}

// ConfigProvider provides the application configuration.
func ConfigProvider(appCtx context.Context, logger *zap.Logger) (config.Provider, error) {
	return config.NewViperProvider(appCtx, logger)
}

// LoggerProvider provides the application logger.
func LoggerProvider(cfgProvider config.Provider) (domain.Logger, error) {
	appCfg := cfgProvider.Get()
	return logger.NewZapAdapter(cfgProvider, appCfg.App.ServiceName)
}

// HTTPServeMuxProvider provides the main HTTP multiplexer.
func HTTPServeMuxProvider() *http.ServeMux {
	return http.NewServeMux()
}

// HTTPGracefulServerProvider provides a new HTTP server configured for graceful shutdown.
func HTTPGracefulServerProvider(cfgProvider config.Provider, mux *http.ServeMux) *http.Server {
	appCfg := cfgProvider.Get()
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", appCfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second, // Work-order searches can escalate through several remote calls.
		IdleTimeout:  60 * time.Second,
	}
}

// RemoteGatewayProvider provides the HTTP gateway to the remote API.
func RemoteGatewayProvider(cfgProvider config.Provider, appLogger domain.Logger) (*remote.Gateway, error) {
	return remote.NewGateway(cfgProvider, appLogger)
}

// AuthGatewayProvider narrows the remote gateway to its auth port.
func AuthGatewayProvider(gateway *remote.Gateway) domain.AuthGateway {
	return gateway
}

// SearchGatewayProvider narrows the remote gateway to its search port.
func SearchGatewayProvider(gateway *remote.Gateway) domain.SearchGateway {
	return gateway
}

// PersistentTierProvider selects the slow cache tier backend: per-host files
// by default, Redis when configured. The cleanup closes the Redis client.
func PersistentTierProvider(cfgProvider config.Provider, appLogger domain.Logger) (domain.PersistentTierStore, func(), error) {
	cfg := cfgProvider.Get()
	noop := func() {}

	if cfg.Cache.PersistentBackend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		maxStale := time.Duration(cfg.Cache.StaleFallbackSeconds) * time.Second
		cleanup := func() {
			if err := client.Close(); err != nil {
				appLogger.Warn(context.Background(), "Failed to close Redis client", "error", err.Error())
			}
		}
		return appredis.NewPersistentTierAdapter(client, appLogger, maxStale), cleanup, nil
	}

	store, err := cachestore.NewFileStore(cfg.Cache.Dir, appLogger)
	if err != nil {
		return nil, nil, err
	}
	return store, noop, nil
}

// CredentialPersisterProvider provides the at-rest credential store.
func CredentialPersisterProvider(cfgProvider config.Provider, appLogger domain.Logger) (domain.CredentialPersister, error) {
	cfg := cfgProvider.Get()
	return cachestore.NewCredentialFileStore(cfg.Cache.Dir, cfg.Auth.CredentialAESKey, appLogger)
}

// SessionManagerProvider provides the credential session manager.
func SessionManagerProvider(cfgProvider config.Provider, appLogger domain.Logger, gateway domain.AuthGateway, persister domain.CredentialPersister) *application.CredentialSessionManager {
	return application.NewCredentialSessionManager(cfgProvider, appLogger, gateway, persister)
}

// QueryCacheServiceProvider provides the profile/site cache facade.
func QueryCacheServiceProvider(
	cfgProvider config.Provider,
	appLogger domain.Logger,
	sessions *application.CredentialSessionManager,
	authGateway domain.AuthGateway,
	searchGateway domain.SearchGateway,
	persistent domain.PersistentTierStore,
) *application.QueryCacheService {
	return application.NewQueryCacheService(cfgProvider, appLogger, sessions, authGateway, searchGateway, persistent)
}

// WorkOrderEngineProvider provides the work-order query engine.
func WorkOrderEngineProvider(cfgProvider config.Provider, appLogger domain.Logger, sessions *application.CredentialSessionManager, gateway domain.SearchGateway) *application.WorkOrderQueryEngine {
	return application.NewWorkOrderQueryEngine(cfgProvider, appLogger, sessions, gateway)
}

// BackgroundAuthProvider provides the background login coordinator.
func BackgroundAuthProvider(appLogger domain.Logger, sessions *application.CredentialSessionManager) *application.BackgroundAuthCoordinator {
	return application.NewBackgroundAuthCoordinator(appLogger, sessions)
}

// ProviderSet is the Wire provider set for the whole application.
var ProviderSet = wire.NewSet(
	InitialZapLoggerProvider,
	ConfigProvider,
	LoggerProvider,
	HTTPServeMuxProvider,
	HTTPGracefulServerProvider,
	RemoteGatewayProvider,
	AuthGatewayProvider,
	SearchGatewayProvider,
	PersistentTierProvider,
	CredentialPersisterProvider,
	SessionManagerProvider,
	QueryCacheServiceProvider,
	WorkOrderEngineProvider,
	BackgroundAuthProvider,
	NewApp,
)

package di

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mailsentinel/mailsentinel/internal/adapters/graph"
	"github.com/mailsentinel/mailsentinel/internal/adapters/mime"
	"github.com/mailsentinel/mailsentinel/internal/adapters/postgres"
	"github.com/mailsentinel/mailsentinel/internal/adapters/push"
	"github.com/mailsentinel/mailsentinel/internal/api"
	"github.com/mailsentinel/mailsentinel/internal/config"
	"github.com/mailsentinel/mailsentinel/internal/core"
	"github.com/mailsentinel/mailsentinel/internal/factory"
	"github.com/mailsentinel/mailsentinel/internal/logging"
	"github.com/mailsentinel/mailsentinel/internal/utils"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewTextProcessorFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewClassifierFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewCacheFactory); err != nil {
		return nil, err
	}

	// Register text processor
	if err := container.Provide(func(f *factory.TextProcessorFactory) *utils.TextProcessor {
		return f.CreateTextProcessor()
	}); err != nil {
		return nil, err
	}

	// Register classifier
	if err := container.Provide(func(f *factory.ClassifierFactory) (core.Classifier, error) {
		return f.CreateClassifier()
	}); err != nil {
		return nil, err
	}

	// Register analysis cache
	if err := container.Provide(func(f *factory.CacheFactory) (core.AnalysisCache, error) {
		return f.CreateAnalysisCache(context.Background())
	}); err != nil {
		return nil, err
	}

	// Register database pool and repository
	if err := container.Provide(func(cfg *config.Config) (*pgxpool.Pool, error) {
		poolConfig, err := pgxpool.ParseConfig(cfg.GetString("database.url"))
		if err != nil {
			return nil, err
		}
		poolConfig.MaxConns = int32(cfg.GetInt("database.max_conns"))
		return pgxpool.NewWithConfig(context.Background(), poolConfig)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(pool *pgxpool.Pool, logger *zap.Logger) (*postgres.Store, error) {
		return postgres.NewStore(context.Background(), pool, logger)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(store *postgres.Store) core.Repository {
		return store
	}); err != nil {
		return nil, err
	}

	// Register mailbox provider
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) core.MailboxProvider {
		graphConfig := cfg.GetGraph()
		return graph.NewProvider(
			graphConfig.ClientID,
			graphConfig.ClientSecret,
			graphConfig.TenantID,
			graphConfig.RedirectURI,
			logger,
		)
	}); err != nil {
		return nil, err
	}

	// Register push hub and broadcaster
	if err := container.Provide(push.NewHub); err != nil {
		return nil, err
	}
	if err := container.Provide(func(hub *push.Hub) core.Broadcaster {
		return hub
	}); err != nil {
		return nil, err
	}

	// Register policy engine and recommendation generator
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *core.PolicyEngine {
		return core.NewPolicyEngine(cfg.GetString("org.domain"), logger)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *core.RecommendationGenerator {
		return core.NewRecommendationGenerator(cfg.GetString("org.domain"), logger)
	}); err != nil {
		return nil, err
	}

	// Register EML importer
	if err := container.Provide(mime.NewImporter); err != nil {
		return nil, err
	}

	// Register monitoring service
	if err := container.Provide(func(
		repo core.Repository,
		classifier core.Classifier,
		provider core.MailboxProvider,
		engine *core.PolicyEngine,
		generator *core.RecommendationGenerator,
		broadcaster core.Broadcaster,
		cache core.AnalysisCache,
		cacheFactory *factory.CacheFactory,
		logger *zap.Logger,
		cfg *config.Config,
	) (*core.MonitorService, error) {
		cacheTTL, err := cacheFactory.GetCacheTTL()
		if err != nil {
			return nil, err
		}
		return core.NewMonitorService(
			repo,
			classifier,
			provider,
			engine,
			generator,
			broadcaster,
			cache,
			logger,
			cacheFactory.IsCacheEnabled(),
			cacheTTL,
			cfg.GetInt("sync.message_count"),
		), nil
	}); err != nil {
		return nil, err
	}

	// Register HTTP server
	if err := container.Provide(func(
		service *core.MonitorService,
		repo core.Repository,
		provider core.MailboxProvider,
		hub *push.Hub,
		importer *mime.Importer,
		logger *zap.Logger,
		cfg *config.Config,
	) *api.Server {
		return api.NewServer(
			service,
			repo,
			provider,
			hub,
			importer,
			logger,
			cfg.GetString("server.listen_address"),
			cfg.GetStringSlice("server.allowed_origins"),
		)
	}); err != nil {
		return nil, err
	}

	return container, nil
}

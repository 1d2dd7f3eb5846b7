package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"graphsync/application/engine"
	"graphsync/application/ports"
	domainconfig "graphsync/domain/config"
	"graphsync/infrastructure/cache"
	"graphsync/infrastructure/config"
	"graphsync/infrastructure/messaging"
	"graphsync/infrastructure/messaging/eventbridge"
	"graphsync/infrastructure/observability"
	"graphsync/infrastructure/persistence/decorators"
	"graphsync/infrastructure/persistence/dynamodb"
	"graphsync/infrastructure/persistence/memory"
	"graphsync/infrastructure/persistence/neo4j"
	"graphsync/interfaces/http/rest"
	"graphsync/pkg/clock"
)

// GraphBackend is the configured graph store, decorated, with the health
// probe of the raw backend.
type GraphBackend struct {
	Store ports.GraphStore
	Ping  rest.ReadinessCheck
}

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

// ProvideClock returns the wall clock
func ProvideClock() clock.Clock {
	return clock.Real()
}

// ProvideConfigHolder publishes the engine tunables
func ProvideConfigHolder(cfg *config.Config) *domainconfig.Holder {
	return domainconfig.NewHolder(cfg.Engine)
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideMetrics creates the Prometheus collector
func ProvideMetrics() *observability.Collector {
	return observability.NewCollector("graphsync")
}

// ProvideTracing starts the OTLP exporter when tracing is enabled
func ProvideTracing(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*observability.TracerProvider, func(), error) {
	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.EnableTracing,
		ServiceName: "graphsync",
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}
	return tp, cleanup, nil
}

// ProvideGraphBackend opens the configured store and wraps it with the
// circuit breaker and instrumentation.
func ProvideGraphBackend(
	ctx context.Context,
	cfg *config.Config,
	dynamoClient *awsdynamodb.Client,
	tracing *observability.TracerProvider,
	metrics *observability.Collector,
	logger *zap.Logger,
) (*GraphBackend, func(), error) {
	var (
		raw     ports.GraphStore
		ping    rest.ReadinessCheck
		cleanup = func() {}
	)

	switch cfg.StoreBackend {
	case config.StoreNeo4j:
		store, err := neo4j.NewStore(ctx, neo4j.Config{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		}, logger.Named("neo4j"))
		if err != nil {
			return nil, nil, err
		}
		raw = store
		ping = func(ctx context.Context) error { return store.Ping(ctx, time.Second) }
		cleanup = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = store.Close(ctx)
		}

	case config.StoreDynamoDB:
		store := dynamodb.NewGraphStore(dynamoClient, cfg.DynamoDBTable, cfg.GraphID, logger.Named("dynamodb"))
		raw = store
		ping = func(ctx context.Context) error {
			_, err := dynamoClient.DescribeTable(ctx, &awsdynamodb.DescribeTableInput{TableName: aws.String(cfg.DynamoDBTable)})
			return err
		}

	default:
		raw = memory.NewStore(logger.Named("memory"))
		ping = func(context.Context) error { return nil }
	}

	breakerCfg := decorators.DefaultCircuitBreakerConfig()
	breakerCfg.MaxRequests = uint32(cfg.BreakerMaxRequests)
	breakerCfg.Interval = cfg.BreakerInterval
	breakerCfg.Timeout = cfg.BreakerTimeout
	breakerCfg.FailureThreshold = cfg.BreakerFailureThreshold

	var store ports.GraphStore = decorators.NewCircuitBreakerStore(raw, breakerCfg, logger.Named("breaker"))
	store = decorators.NewInstrumentedStore(store, tracing.Provider(), metrics, logger.Named("store"))

	logger.Info("Graph store configured", zap.String("backend", cfg.StoreBackend))
	return &GraphBackend{Store: store, Ping: ping}, cleanup, nil
}

// ProvideSnapshotCache connects to Redis when REDIS_URL is set. It returns
// nil otherwise; the cache is never required.
func ProvideSnapshotCache(cfg *config.Config, logger *zap.Logger) (*cache.RedisSnapshotCache, func(), error) {
	if cfg.RedisURL == "" {
		return nil, func() {}, nil
	}
	c, err := cache.NewRedisSnapshotCache(cfg.RedisURL, cfg.SnapshotCacheKey, cfg.SnapshotCacheTTL, logger.Named("cache"))
	if err != nil {
		return nil, nil, err
	}
	return c, func() { _ = c.Close() }, nil
}

// ProvideEventPublisher always logs events and also sends them to
// EventBridge when a bus is configured.
func ProvideEventPublisher(cfg *config.Config, client *awseventbridge.Client, logger *zap.Logger) ports.EventPublisher {
	publishers := messaging.FanOut{messaging.NewLoggingPublisher(logger.Named("events"))}
	if cfg.EventBusName != "" {
		publishers = append(publishers, eventbridge.NewPublisher(client, cfg.EventBusName, logger.Named("eventbridge")))
	}
	return publishers
}

// ProvideLocker serializes creators through DynamoDB when the graph lives
// there and in process otherwise.
func ProvideLocker(cfg *config.Config, client *awsdynamodb.Client, clk clock.Clock, logger *zap.Logger) ports.Locker {
	if cfg.StoreBackend == config.StoreDynamoDB {
		return dynamodb.NewDistributedLock(client, cfg.DynamoDBTable, clk, logger.Named("lock"))
	}
	return memory.NewLocker(clk)
}

// ProvideEngine builds the engine facade
func ProvideEngine(
	backend *GraphBackend,
	snapshots *cache.RedisSnapshotCache,
	publisher ports.EventPublisher,
	locker ports.Locker,
	metrics *observability.Collector,
	holder *domainconfig.Holder,
	clk clock.Clock,
	logger *zap.Logger,
) *engine.Engine {
	var soft ports.SnapshotCache
	if snapshots != nil {
		soft = snapshots
	}
	return engine.NewEngine(backend.Store, soft, publisher, locker, metrics, holder, clk, logger.Named("engine"))
}

// ProvideHTTPHandler builds the chi router
func ProvideHTTPHandler(
	cfg *config.Config,
	e *engine.Engine,
	backend *GraphBackend,
	snapshots *cache.RedisSnapshotCache,
	metrics *observability.Collector,
	logger *zap.Logger,
) (http.Handler, error) {
	ready := map[string]rest.ReadinessCheck{"store": backend.Ping}
	if snapshots != nil {
		ready["cache"] = snapshots.Ping
	}
	var collector *observability.Collector
	if cfg.EnableMetrics {
		collector = metrics
	}
	return rest.NewRouter(e, collector, ready, rest.Options{
		EnableAuth:     cfg.EnableAuth,
		JWTSecret:      cfg.JWTSecret,
		JWTIssuer:      cfg.JWTIssuer,
		EnableCORS:     cfg.EnableCORS,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger.Named("http")).Setup()
}

package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainconfig "graphsync/domain/config"
	"graphsync/infrastructure/config"
	"graphsync/infrastructure/messaging"
	"graphsync/infrastructure/persistence/dynamodb"
	"graphsync/infrastructure/persistence/memory"
	"graphsync/pkg/clock"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Environment:             "test",
		StoreBackend:            config.StoreMemory,
		AWSRegion:               "us-west-2",
		LogLevel:                "error",
		EnableMetrics:           true,
		BreakerMaxRequests:      3,
		BreakerFailureThreshold: 0.6,
		Engine:                  domainconfig.DefaultEngineConfig(),
	}
}

func TestInitializeContainerWithMemoryStore(t *testing.T) {
	c, cleanup, err := InitializeContainer(context.Background(), memoryConfig())
	require.NoError(t, err)
	t.Cleanup(cleanup)

	require.NotNil(t, c.Engine)
	require.NoError(t, c.Engine.Start(context.Background()))
	t.Cleanup(c.Engine.Stop)

	for _, path := range []string{"/health", "/ready", "/metrics", "/api/v1/graph"} {
		rec := httptest.NewRecorder()
		c.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestMetricsRouteFollowsFlag(t *testing.T) {
	cfg := memoryConfig()
	cfg.EnableMetrics = false
	c, cleanup, err := InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	rec := httptest.NewRecorder()
	c.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProvideLoggerRejectsUnknownLevel(t *testing.T) {
	cfg := memoryConfig()
	cfg.LogLevel = "loud"
	_, err := ProvideLogger(cfg)
	assert.Error(t, err)
}

func TestProvideLocker(t *testing.T) {
	cfg := memoryConfig()
	clk := clock.NewFake(clock.Real().Now())

	assert.IsType(t, &memory.Locker{}, ProvideLocker(cfg, nil, clk, nopLogger()))

	cfg.StoreBackend = config.StoreDynamoDB
	cfg.DynamoDBTable = "graphsync"
	assert.IsType(t, &dynamodb.DistributedLock{}, ProvideLocker(cfg, nil, clk, nopLogger()))
}

func TestProvideEventPublisher(t *testing.T) {
	cfg := memoryConfig()
	pub := ProvideEventPublisher(cfg, nil, nopLogger())
	assert.Len(t, pub.(messaging.FanOut), 1)

	cfg.EventBusName = "graphsync-events"
	pub = ProvideEventPublisher(cfg, nil, nopLogger())
	assert.Len(t, pub.(messaging.FanOut), 2)
}

func nopLogger() *zap.Logger { return zap.NewNop() }

package di

import (
	"net/http"

	"go.uber.org/zap"

	"graphsync/application/engine"
	domainconfig "graphsync/domain/config"
	"graphsync/infrastructure/config"
	"graphsync/infrastructure/observability"
)

// Container holds all application dependencies
type Container struct {
	Config  *config.Config
	Logger  *zap.Logger
	Holder  *domainconfig.Holder
	Metrics *observability.Collector
	Tracing *observability.TracerProvider
	Backend *GraphBackend
	Engine  *engine.Engine
	Handler http.Handler
}

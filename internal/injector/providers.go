package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/zecs/internal/client"
	"github.com/zeusync/zecs/internal/config"
	"github.com/zeusync/zecs/internal/core/observability/log"
	"github.com/zeusync/zecs/internal/server"
)

// ProvideLogger builds the process logger from the logging section.
func ProvideLogger(cfg *config.Config) (*log.Logger, error) {
	return cfg.Logger()
}

var LoggerSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
)

var ServerSet = wire.NewSet(
	LoggerSet,
	server.Listen,
	server.NewServer,
)

var ClientSet = wire.NewSet(
	LoggerSet,
	client.Dialer,
	client.NewClient,
)

//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/zecs/internal/client"
	"github.com/zeusync/zecs/internal/config"
	"github.com/zeusync/zecs/internal/server"
)

func InitializeServer(cfg *config.Config) (*server.Server, error) {
	wire.Build(ServerSet)
	return nil, nil
}

func InitializeClient(cfg *config.Config, opts client.Options) (*client.Client, error) {
	wire.Build(ClientSet)
	return nil, nil
}

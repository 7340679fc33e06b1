package injector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/zecs/internal/client"
	"github.com/zeusync/zecs/internal/config"
)

func TestInitializeServer(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.StatsAddr = ""
	cfg.Logging.Level = "error"

	srv, err := InitializeServer(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, "127.0.0.1:0", srv.Addr())

	require.NoError(t, srv.Start(context.Background()))
	require.NoError(t, srv.Stop(context.Background()))
}

func TestInitializeServerRejectsBadLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "chatty"

	_, err := InitializeServer(cfg)
	assert.Error(t, err)
}

func TestInitializeClient(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "error"

	c, err := InitializeClient(cfg, client.Options{Name: "probe"})
	require.NoError(t, err)
	assert.NotNil(t, c.Net())
	assert.False(t, c.Net().Connected())

	cfg.Client.Transport = "smoke-signals"
	_, err = InitializeClient(cfg, client.Options{})
	assert.Error(t, err)
}

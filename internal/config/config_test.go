package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1", cfg.Server.Host)
	require.Equal(t, 8090, cfg.Server.Port)
	require.Equal(t, 100, cfg.Run.TargetProducts)
	require.Equal(t, 10, cfg.Run.StoreSampleSize)
	require.Equal(t, 5, cfg.Run.StuckThreshold)
	require.Equal(t, 2*time.Minute, cfg.VisitTimeout())
	require.Equal(t, "artifacts", cfg.Storage.Prefix)
	require.True(t, cfg.Logging.Development)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
server:
  host: 0.0.0.0
  port: 9000
run:
  target_products: 250
  store_sample_size: 20
db:
  dsn: postgres://coordinator@localhost/products
persistence:
  operator_key: op-prod-7
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", cfg.Server.Host)
	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, 250, cfg.Run.TargetProducts)
	require.Equal(t, 20, cfg.Run.StoreSampleSize)
	require.Equal(t, "postgres://coordinator@localhost/products", cfg.DB.DSN)
	require.Equal(t, "op-prod-7", cfg.Persistence.OperatorKey)
	// Defaults survive partial files.
	require.Equal(t, 5, cfg.Run.StuckThreshold)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Run.TargetProducts = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Run.StoreSampleSize = -1
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Run.VisitTimeoutSeconds = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.PubSub.ProjectID = "proj"
	cfg.PubSub.TopicName = ""
	require.Error(t, cfg.Validate())
}

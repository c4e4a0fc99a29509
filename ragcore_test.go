package ragcore

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := config.DefaultConfig()
	cfg.Providers.OpenAI.APIKey = "sk-test"
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.HealthCheckInterval = 0
	return cfg
}

func TestNewAssemblesComponents(t *testing.T) {
	app, err := New(testConfig(t),
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.Embeddings)
	assert.NotNil(t, app.Retrieval)
	assert.NotNil(t, app.Metrics)
	// 默认配置启用语义缓存
	assert.NotNil(t, app.Cache)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retrieval.ChunkOverlap = cfg.Retrieval.ChunkSize

	_, err := New(cfg, WithLogger(zap.NewNop()), WithRegisterer(prometheus.NewRegistry()))
	require.Error(t, err)
}

func TestNewRequiresProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers.OpenAI.Enabled = false

	_, err := New(cfg, WithLogger(zap.NewNop()), WithRegisterer(prometheus.NewRegistry()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no embedding provider enabled")
}

func TestNewCacheDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Enabled = false

	app, err := New(cfg, WithLogger(zap.NewNop()), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.Cache)
}

func TestNewRedisDownRunsLocalOnly(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.Addr = "127.0.0.1:1"

	app, err := New(cfg, WithLogger(zap.NewNop()), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer app.Close()

	// Redis 不可达时缓存仍可用，只是没有持久层
	assert.NotNil(t, app.Cache)
}

func TestCloseIdempotentComponents(t *testing.T) {
	app, err := New(testConfig(t), WithLogger(zap.NewNop()), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	require.NoError(t, app.Close())
}

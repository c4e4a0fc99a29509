package redisconn

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerConnectAndClose(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0

	m, err := NewManager(cfg, nil)
	require.NoError(t, err)

	require.NoError(t, m.Ping(context.Background()))
	require.NotNil(t, m.Client())

	require.NoError(t, m.Close())
	assert.Error(t, m.Ping(context.Background()))
	// 重复关闭幂等
	assert.NoError(t, m.Close())
}

func TestManagerConnectFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1" // 不可达端口

	_, err := NewManager(cfg, nil)
	require.Error(t, err)
}

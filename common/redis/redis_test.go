//go:build unit

package redis

import (
	"context"
	"encoding/base64"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/Evantastic/distribuidos-12020-common/common/log"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisConfig(t *testing.T, mr *miniredis.Miniredis) Config {
	t.Helper()

	host, port, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)

	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	return Config{Host: host, Port: p}
}

func TestClient_NewAndGetClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := New(context.Background(), newMiniredisConfig(t, mr), log.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	rdb, err := client.GetClient(context.Background())
	require.NoError(t, err)

	require.NoError(t, rdb.Set(context.Background(), "frame:1", "value", 0).Err())

	value, err := rdb.Get(context.Background(), "frame:1").Result()
	require.NoError(t, err)
	assert.Equal(t, "value", value)

	connected, err := client.IsConnected()
	require.NoError(t, err)
	assert.True(t, connected)
}

func TestClient_GetClientReturnsSameHandle(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := New(context.Background(), newMiniredisConfig(t, mr), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	first, err := client.GetClient(context.Background())
	require.NoError(t, err)

	second, err := client.GetClient(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestClient_SelectsDatabase(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := newMiniredisConfig(t, mr)
	cfg.DB = 3

	client, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	rdb, err := client.GetClient(context.Background())
	require.NoError(t, err)
	require.NoError(t, rdb.Set(context.Background(), "k", "v", 0).Err())

	mr.Select(3)
	assert.True(t, mr.Exists("k"))
}

func TestClient_Password(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")

	cfg := newMiniredisConfig(t, mr)

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)

	cfg.Password = "s3cret"

	client, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, client.Close())
}

func TestClient_New_InvalidConfig(t *testing.T) {
	client, err := New(context.Background(), Config{}, nil)
	require.Error(t, err)
	assert.Nil(t, client)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestClient_New_InvalidTLS(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := newMiniredisConfig(t, mr)
	cfg.TLSCACertBase64 = base64.StdEncoding.EncodeToString([]byte("not-a-pem"))

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TLS config")
}

func TestClient_New_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := newMiniredisConfig(t, mr)
	cfg.Options.DialTimeout = 200 * time.Millisecond
	mr.Close()

	client, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "ping")
}

func TestClient_NilReceiverGuards(t *testing.T) {
	var client *Client

	assert.ErrorIs(t, client.Connect(context.Background()), ErrNilClient)

	rdb, err := client.GetClient(context.Background())
	assert.ErrorIs(t, err, ErrNilClient)
	assert.Nil(t, rdb)

	assert.ErrorIs(t, client.Ping(context.Background()), ErrNilClient)
	assert.ErrorIs(t, client.Close(), ErrNilClient)

	connected, err := client.IsConnected()
	assert.ErrorIs(t, err, ErrNilClient)
	assert.False(t, connected)
}

func TestClient_StatusLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := New(context.Background(), newMiniredisConfig(t, mr), nil)
	require.NoError(t, err)

	status, err := client.Status()
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.NoError(t, status.LastError)
	assert.Zero(t, status.ReconnectAttempts)

	require.NoError(t, client.Close())

	connected, err := client.IsConnected()
	require.NoError(t, err)
	assert.False(t, connected)
}

func TestClient_PingTracksConnectivity(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := newMiniredisConfig(t, mr)
	cfg.Options.MaxRetries = -1
	cfg.Options.DialTimeout = 200 * time.Millisecond

	client, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Ping(context.Background()))

	mr.Close()

	require.Error(t, client.Ping(context.Background()))

	status, err := client.Status()
	require.NoError(t, err)
	assert.False(t, status.Connected)
	assert.Error(t, status.LastError)
}

func TestClient_GetClient_ReconnectsAfterClose(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := New(context.Background(), newMiniredisConfig(t, mr), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Close())

	rdb, err := client.GetClient(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rdb)

	require.NoError(t, rdb.Set(context.Background(), "reconnect:key", "ok", 0).Err())

	connected, err := client.IsConnected()
	require.NoError(t, err)
	assert.True(t, connected)
}

func TestClient_GetClient_RateLimitsFailedReconnects(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := newMiniredisConfig(t, mr)
	cfg.Options.DialTimeout = 200 * time.Millisecond

	client, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	require.NoError(t, client.Close())
	mr.Close()

	_, err = client.GetClient(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping")

	status, err := client.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, status.ReconnectAttempts)

	// Push the next allowed attempt far enough out that jitter cannot reach zero.
	client.mu.Lock()
	client.reconnectAttempts = 10
	client.lastReconnectAttempt = time.Now()
	client.mu.Unlock()

	_, err = client.GetClient(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate-limited")
}

func TestClient_Connect_ReplacesPreviousClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := New(context.Background(), newMiniredisConfig(t, mr), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	old, err := client.GetClient(context.Background())
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))

	current, err := client.GetClient(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, old, current)
	assert.Error(t, old.Ping(context.Background()).Err(), "previous client should be closed")
}

func TestClient_ZeroValueDoesNotFallBackToLocalhost(t *testing.T) {
	client := &Client{}

	_, err := client.GetClient(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

//go:build integration

package cassandra

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupCassandraContainer starts a single-node Cassandra and creates the
// "detections" keyspace with one table.
func setupCassandraContainer(t *testing.T) Config {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cassandra:4.1",
			ExposedPorts: []string{"9042/tcp"},
			Env: map[string]string{
				"MAX_HEAP_SIZE": "512M",
				"HEAP_NEWSIZE":  "128M",
			},
			WaitingFor: wait.ForLog("Starting listening for CQL clients").WithStartupTimeout(3 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	endpoint, err := container.PortEndpoint(ctx, "9042/tcp", "")
	require.NoError(t, err)

	host, port, err := net.SplitHostPort(endpoint)
	require.NoError(t, err)

	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	bootstrap := gocql.NewCluster(host)
	bootstrap.Port = p
	bootstrap.Timeout = 30 * time.Second

	session, err := bootstrap.CreateSession()
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.Query(
		`CREATE KEYSPACE IF NOT EXISTS detections WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`,
	).Exec())
	require.NoError(t, session.Query(
		`CREATE TABLE IF NOT EXISTS detections.deteccion (objectid text PRIMARY KEY, info text)`,
	).Exec())

	return Config{Hosts: []string{host}, Port: p, Keyspace: "detections", Consistency: "ONE"}
}

func TestIntegration_PrepareAndQuery(t *testing.T) {
	cfg := setupCassandraContainer(t)
	ctx := context.Background()

	client, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Ping(ctx))

	insert, err := client.Prepare("INSERT INTO deteccion (objectid, info) VALUES (?, ?)")
	require.NoError(t, err)
	require.NoError(t, insert.Exec(ctx, "obj-1", "car"))

	lookup, err := client.Prepare("SELECT info FROM deteccion WHERE objectid=?")
	require.NoError(t, err)

	q, err := lookup.Query(ctx, "obj-1")
	require.NoError(t, err)

	var info string
	require.NoError(t, q.Scan(&info))
	assert.Equal(t, "car", info)
}

func TestIntegration_UnknownKeyspace(t *testing.T) {
	cfg := setupCassandraContainer(t)
	cfg.Keyspace = "missing"

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}

//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	kafkatc "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/gpm-precip-etl/internal/domain"
	"github.com/couchcryptid/gpm-precip-etl/internal/raster"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	c, err := kafkatc.Run(ctx, "confluentinc/confluent-local:7.5.0", kafkatc.WithClusterID("gpm-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		_ = c.Terminate(context.Background())
	})

	brokers, err := c.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cconn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cconn.Close()

	require.NoError(t, cconn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// writeArchive lays out the granules of day as 10x10 degree grids around
// station A354 with every cell set to value.
func writeArchive(t *testing.T, root string, day time.Time, value uint16) {
	t.Helper()
	layout := domain.DefaultLayout()
	grid := raster.Grid{Width: 10, Height: 10, OriginX: -45, OriginY: -5, PixelSize: 1}
	grid.Values = make([]uint16, 100)
	for i := range grid.Values {
		grid.Values[i] = value
	}
	for _, g := range domain.Window(day) {
		p := filepath.Join(root, filepath.FromSlash(layout.RemotePath(g)))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		f, err := os.Create(p)
		require.NoError(t, err)
		require.NoError(t, raster.Encode(f, grid))
		require.NoError(t, f.Close())
	}
}

// Redis DB Connector tests in Shipper.

package db

import (
	"Shipper/pkg/log"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Global instance of log.Logger to be used during connector testing.
var logger log.Logger = log.Nop()

// Global context
var ctx context.Context = context.Background()

func TestDbConnectionLifeCycle(t *testing.T) {
	server := miniredis.RunT(t)

	client, dberr := NewDbConnection(Options{URL: "redis://" + server.Addr(), TxMaxRetries: 3})
	require.NoError(t, dberr)
	assert.Equal(t, 3, client.GetMaxRetries())

	// Check if connection is successful
	assert.NoError(t, client.CheckDbConnection(ctx, logger, 1))
	// Close connection
	assert.NoError(t, client.CloseDbConnection(ctx))
	// Check if connection is still active
	assert.Error(t, client.CheckDbConnection(ctx, logger, 1))
}

func TestNewDbConnectionRejectsBadURL(t *testing.T) {
	_, dberr := NewDbConnection(Options{})
	assert.Error(t, dberr)

	_, dberr = NewDbConnection(Options{URL: "http://not-redis"})
	assert.Error(t, dberr)
}

func TestCheckDbConnectionRetriesUntilServerIsUp(t *testing.T) {
	server := miniredis.NewMiniRedis()
	require.NoError(t, server.Start())
	addr := server.Addr()
	server.Close()

	client, dberr := NewDbConnection(Options{URL: "redis://" + addr})
	require.NoError(t, dberr)
	defer client.CloseDbConnection(ctx)

	go func() {
		time.Sleep(300 * time.Millisecond)
		_ = server.StartAddr(addr)
	}()
	defer server.Close()

	assert.NoError(t, client.CheckDbConnection(ctx, logger, 10))
}

func TestCheckDbConnectionGivesUp(t *testing.T) {
	server := miniredis.NewMiniRedis()
	require.NoError(t, server.Start())
	addr := server.Addr()
	server.Close()

	client, dberr := NewDbConnection(Options{URL: "redis://" + addr})
	require.NoError(t, dberr)
	defer client.CloseDbConnection(ctx)

	assert.Error(t, client.CheckDbConnection(ctx, logger, 2))
}

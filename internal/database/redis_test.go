package database

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient("redis://" + mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Publish(context.Background(), "session_events:test", "{}").Err())
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	client, err := NewRedisClient("http://not-redis")
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "failed to parse Redis URL")
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client, err := NewRedisClient("redis://" + addr)
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "failed to ping Redis")
}

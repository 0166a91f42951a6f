package batch_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"

	"ticket-ledger/internal/batch"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := client.Ping(context.Background()).Err(); err != nil {
		mr.Close()
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}
	return client, mr
}

func TestLeaseLifecycle(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()
	ctx := context.Background()

	lease := batch.NewLease(client)

	alive, err := lease.Alive(ctx, "rsv_1")
	assert.NoError(t, err)
	assert.False(t, alive)

	assert.NoError(t, lease.Acquire(ctx, "rsv_1", "bat_1", time.Minute))

	alive, err = lease.Alive(ctx, "rsv_1")
	assert.NoError(t, err)
	assert.True(t, alive)

	assert.NoError(t, lease.Drop(ctx, "rsv_1"))
	alive, err = lease.Alive(ctx, "rsv_1")
	assert.NoError(t, err)
	assert.False(t, alive)
}

func TestLeaseExpires(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()
	ctx := context.Background()

	lease := batch.NewLease(client)
	assert.NoError(t, lease.Acquire(ctx, "rsv_1", "bat_1", time.Minute))

	// miniredis advances TTLs manually.
	mr.FastForward(2 * time.Minute)

	alive, err := lease.Alive(ctx, "rsv_1")
	assert.NoError(t, err)
	assert.False(t, alive)
}

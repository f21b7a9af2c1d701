package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFormats(t *testing.T) {
	assert.Equal(t, "idempotency:abc", idempotencyKey("abc"))
	assert.Equal(t, "lock:idempotency:abc", lockKey(idempotencyKey("abc")))
	assert.Equal(t, "verify:ORD-123456-001", verifyKey("ORD-123456-001"))
}

func newTestClient(t *testing.T) *Client {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	c, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestIdempotentOrderRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := "test-" + time.Now().Format(time.RFC3339Nano)

	rec, err := c.GetIdempotentOrder(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, c.SaveIdempotentOrder(ctx, key, models.IdempotencyRecord{OrderID: 42, Fingerprint: "9f2c"}, time.Minute))

	rec, err = c.GetIdempotentOrder(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(42), rec.OrderID)
	assert.Equal(t, "9f2c", rec.Fingerprint)

	ttl, err := c.rdb.TTL(ctx, idempotencyKey(key)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestConsumeCodeIsSingleUse(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	token := "ORD-test-" + time.Now().Format(time.RFC3339Nano)

	require.NoError(t, c.SaveCode(ctx, token, "123456", time.Minute))

	code, err := c.ConsumeCode(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "123456", code)

	code, err = c.ConsumeCode(ctx, token)
	require.NoError(t, err)
	assert.Empty(t, code)
}

func TestLockIsExclusive(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := "test-lock-" + time.Now().Format(time.RFC3339Nano)

	token, err := c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	other, err := c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, c.ReleaseLock(ctx, key, token))

	other, err = c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, other)
	require.NoError(t, c.ReleaseLock(ctx, key, other))
}

func TestReleaseLockKeepsAnotherHoldersLock(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := "test-lock-" + time.Now().Format(time.RFC3339Nano)

	stale, err := c.AcquireLock(ctx, key, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotEmpty(t, stale)
	time.Sleep(100 * time.Millisecond)

	current, err := c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, current)

	require.NoError(t, c.ReleaseLock(ctx, key, stale))

	held, err := c.rdb.Get(ctx, lockKey(key)).Result()
	require.NoError(t, err)
	assert.Equal(t, current, held)
	require.NoError(t, c.ReleaseLock(ctx, key, current))
}

package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"checkout-service/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseLockScript deletes a lock only while it still holds the caller's token
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks connectivity
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func idempotencyKey(key string) string { return fmt.Sprintf("idempotency:%s", key) }
func lockKey(key string) string        { return fmt.Sprintf("lock:%s", key) }
func verifyKey(token string) string    { return fmt.Sprintf("verify:%s", token) }

// GetIdempotentOrder returns the record stored for an idempotency key,
// or nil when the key is unknown or expired
func (c *Client) GetIdempotentOrder(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	vals, err := c.rdb.HGetAll(ctx, idempotencyKey(key)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}

	orderID, err := strconv.ParseInt(vals["order_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt idempotency record %q: %w", key, err)
	}
	return &models.IdempotencyRecord{OrderID: orderID, Fingerprint: vals["fingerprint"]}, nil
}

// SaveIdempotentOrder stores a record under an idempotency key with TTL
func (c *Client) SaveIdempotentOrder(ctx context.Context, key string, rec models.IdempotencyRecord, ttl time.Duration) error {
	k := idempotencyKey(key)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, "order_id", rec.OrderID, "fingerprint", rec.Fingerprint)
		pipe.Expire(ctx, k, ttl)
		return nil
	})
	return err
}

// AcquireLock acquires a distributed lock. The returned token is empty when
// the lock is held by someone else and must be passed to ReleaseLock.
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil || !ok {
		return "", err
	}
	return token, nil
}

// ReleaseLock releases a distributed lock if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, key, token string) error {
	return releaseLockScript.Run(ctx, c.rdb, []string{lockKey(key)}, token).Err()
}

// SaveCode stores a verification code for a token, replacing any previous one
func (c *Client) SaveCode(ctx context.Context, token, code string, ttl time.Duration) error {
	return c.rdb.Set(ctx, verifyKey(token), code, ttl).Err()
}

// ConsumeCode atomically reads and deletes the code for a token.
// An empty string means no code is pending.
func (c *Client) ConsumeCode(ctx context.Context, token string) (string, error) {
	code, err := c.rdb.GetDel(ctx, verifyKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return code, err
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/devrev/storesync/internal/model"
)

// commitScript stores the outcome and raises the last id in one step.
// KEYS[1] last id, KEYS[2] outcome; ARGV[1] id, ARGV[2] outcome, ARGV[3] ttl ms.
var commitScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
if tonumber(ARGV[1]) > cur then
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// RedisLedger implements MutationLedger for Redis. Keys of one client group
// share a hash tag so the commit script stays on one cluster slot.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisClient connects to Redis and checks the connection.
func NewRedisClient(host string, port int, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisLedgerFromClient wraps an existing client.
func NewRedisLedgerFromClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLedger {
	return &RedisLedger{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func lastKey(clientGroupID string) string {
	return "ledger:{" + clientGroupID + "}:last"
}

func outcomeKey(clientGroupID string, mutationID int64) string {
	return "ledger:{" + clientGroupID + "}:m:" + strconv.FormatInt(mutationID, 10)
}

// LastMutationID returns the highest mutation id processed for a client group.
func (l *RedisLedger) LastMutationID(ctx context.Context, clientGroupID string) (int64, error) {
	id, err := l.client.Get(ctx, lastKey(clientGroupID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read last mutation id: %w", err)
	}
	return id, nil
}

// Get retrieves a recorded outcome
func (l *RedisLedger) Get(ctx context.Context, clientGroupID string, mutationID int64) (*model.Outcome, error) {
	data, err := l.client.Get(ctx, outcomeKey(clientGroupID, mutationID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var o model.Outcome
	if err := model.DecodeJSON(data, &o); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outcome: %w", err)
	}
	return &o, nil
}

// Commit records an outcome.
func (l *RedisLedger) Commit(ctx context.Context, clientGroupID string, outcome model.Outcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	keys := []string{lastKey(clientGroupID), outcomeKey(clientGroupID, outcome.ClientMutationID)}
	err = commitScript.Run(ctx, l.client, keys, outcome.ClientMutationID, data, l.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("failed to commit outcome: %w", err)
	}
	return nil
}

// Ping checks the Redis connection
func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (l *RedisLedger) Close() error {
	return l.client.Close()
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yitech/candlerelay/model/candle"
)

// Redis keeps recently fetched history batches so bursts of identical
// requests (chart reloads) hit the provider once per TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedis(addr, password string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{client: client, ttl: ttl, prefix: "candlerelay:history"}, nil
}

func (r *Redis) key(symbol, interval string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, symbol, interval)
}

func (r *Redis) Get(ctx context.Context, symbol, interval string) (candle.HistoryBatch, bool, error) {
	data, err := r.client.Get(ctx, r.key(symbol, interval)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get history from redis: %w", err)
	}

	var batch candle.HistoryBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return batch, true, nil
}

func (r *Redis) Set(ctx context.Context, symbol, interval string, batch candle.HistoryBatch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := r.client.Set(ctx, r.key(symbol, interval), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set history in redis: %w", err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

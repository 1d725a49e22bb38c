package siteguard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTTLStore implements TTLStore on Redis so multiple host processes
// share one view of counters, blacklists and attack state.
type RedisTTLStore struct {
	client    *redis.Client
	opTimeout time.Duration
}

// NewRedisTTLStore connects to Redis using a redis:// URL and verifies the
// connection.
func NewRedisTTLStore(ctx context.Context, redisURL string) (*RedisTTLStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %v", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %v", err)
	}
	return &RedisTTLStore{client: client, opTimeout: 2 * time.Second}, nil
}

func (s *RedisTTLStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}

func (s *RedisTTLStore) Get(key string) ([]byte, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *RedisTTLStore) Set(key string, value []byte, ttl time.Duration) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if ttl <= 0 {
		ttl = 0
	}
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisTTLStore) Delete(key string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.client.Del(ctx, key).Err()
}

// Increment uses INCR plus EXPIRE NX in one pipeline: the TTL is attached
// when the counter is created and left alone afterwards, giving fixed-window
// semantics without a paired timeout key.
func (s *RedisTTLStore) Increment(key string, ttl time.Duration) (int, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	if ttl > 0 {
		pipe.ExpireNX(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

func (s *RedisTTLStore) Scan(prefix string) ([]string, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", 500).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// HealthCheck pings the Redis connection.
func (s *RedisTTLStore) HealthCheck() error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.client.Ping(ctx).Err()
}

func (s *RedisTTLStore) Close() error {
	return s.client.Close()
}

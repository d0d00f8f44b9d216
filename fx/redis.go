package fx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares rates between gateway instances. Keys carry no TTL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(pair Pair, day string) string {
	return fmt.Sprintf("%s%s:%s:%s", s.prefix, pair.Base, pair.Quote, day)
}

func (s *RedisStore) Get(ctx context.Context, pair Pair, day string) (Rate, bool, error) {
	data, err := s.client.Get(ctx, s.key(pair, day)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Rate{}, false, nil
	}
	if err != nil {
		return Rate{}, false, fmt.Errorf("reading rate from redis: %w", err)
	}
	var r Rate
	if err := json.Unmarshal(data, &r); err != nil {
		return Rate{}, false, fmt.Errorf("decoding cached rate: %w", err)
	}
	return r, true, nil
}

func (s *RedisStore) Put(ctx context.Context, day string, rate Rate) error {
	data, err := json.Marshal(rate)
	if err != nil {
		return fmt.Errorf("encoding rate: %w", err)
	}
	if err := s.client.Set(ctx, s.key(rate.Pair, day), data, 0).Err(); err != nil {
		return fmt.Errorf("writing rate to redis: %w", err)
	}
	return nil
}

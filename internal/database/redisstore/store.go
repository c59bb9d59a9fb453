// Package redisstore keeps each event log in a Redis list.
package redisstore

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "executor:"

// Option configures the Redis connection.
type Option struct {
	Addrs    []string
	Username string
	Password string
	DB       int
	// Prefix namespaces every key, e.g. one prefix per trader instance.
	Prefix string
}

// Store implements database.Store with RPUSH/LRANGE lists.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// Dial connects and pings Redis.
func Dial(ctx context.Context, opt Option) (*Store, error) {
	if len(opt.Addrs) == 0 {
		return nil, fmt.Errorf("redis store: no address")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    opt.Addrs,
		Username: opt.Username,
		Password: opt.Password,
		DB:       opt.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store: ping %v, err: %w", opt.Addrs, err)
	}
	return New(client, opt.Prefix), nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) AppendEvent(ctx context.Context, key string, data []byte) error {
	return s.client.RPush(ctx, s.prefix+key, data).Err()
}

func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := s.scan(ctx, s.prefix+pattern)
	if err != nil {
		return nil, err
	}
	for i, key := range keys {
		keys[i] = strings.TrimPrefix(key, s.prefix)
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *Store) ReadEvents(ctx context.Context, key string) ([][]byte, error) {
	values, err := s.client.LRange(ctx, s.prefix+key, 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis store: lrange %s, err: %w", key, err)
	}
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out, nil
}

// Flush deletes every key under the store prefix.
func (s *Store) Flush(ctx context.Context) error {
	keys, err := s.scan(ctx, s.prefix+"*")
	if err != nil {
		return err
	}
	for batch := range slices.Chunk(keys, 256) {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis store: del, err: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) scan(ctx context.Context, match string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, match, 512).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis store: scan %s, err: %w", match, err)
	}
	return keys, nil
}

// Package redis is the Redis Streams implementation of eventbus.Bus.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"docseval/pkg/logging"
)

const pollBlock = 5 * time.Second

type Store struct {
	client *redis.Client
	log    *logging.Logger
}

func NewStoreFromURL(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("eventbus/redis: parse url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("eventbus/redis: connect: %w", err)
	}
	return &Store{client: client, log: logging.Default("eventbus/redis")}, nil
}

func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client, log: logging.Default("eventbus/redis")}
}

func (s *Store) Close() error {
	return s.client.Close()
}

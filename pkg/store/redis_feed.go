package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisFeed distributes change notifications over Redis pub/sub so that
// subscriptions on every replica observe writes made by any replica.
type RedisFeed struct {
	client *redis.Client
	prefix string
}

func NewRedisFeed(addr, password, prefix string) (*RedisFeed, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisFeedWithClient(client, prefix), nil
}

func NewRedisFeedWithClient(client *redis.Client, prefix string) *RedisFeed {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "inkwell:changes"
	}
	return &RedisFeed{client: client, prefix: prefix}
}

func (f *RedisFeed) channel(collection string) string {
	return f.prefix + ":" + collection
}

func (f *RedisFeed) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel(change.Collection), payload).Err()
}

func (f *RedisFeed) Listen(ctx context.Context, collection string) (<-chan Change, func(), error) {
	ps := f.client.Subscribe(ctx, f.channel(collection))
	// wait for the subscription to be confirmed so no publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}
	out := make(chan Change, 1)
	msgs := ps.Channel()
	go func() {
		defer close(out)
		for msg := range msgs {
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				continue
			}
			select {
			case out <- change:
			default:
			}
		}
	}()
	return out, func() { _ = ps.Close() }, nil
}

func (f *RedisFeed) Close() error {
	return f.client.Close()
}

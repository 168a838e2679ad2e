package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores preview cards in Redis keyed by the requested URL.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCache connects to Redis. ttl bounds how long a card is served
// before the page is fetched again.
func NewCache(redisURL string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewCacheWithClient(client, ttl), nil
}

// NewCacheWithClient wraps an existing Redis client.
func NewCacheWithClient(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{client: client, prefix: "preview:", ttl: ttl}
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) key(rawURL string) string {
	return c.prefix + rawURL
}

// Get returns the cached card for rawURL and whether one was found.
// Cache errors are treated as misses.
func (c *Cache) Get(ctx context.Context, rawURL string) (Card, bool) {
	raw, err := c.client.Get(ctx, c.key(rawURL)).Bytes()
	if err != nil {
		return Card{}, false
	}
	var card Card
	if err := json.Unmarshal(raw, &card); err != nil {
		return Card{}, false
	}
	return card, true
}

// Set stores a card; failures are logged, not surfaced, since the
// caller already has the card.
func (c *Cache) Set(ctx context.Context, rawURL string, card Card) {
	raw, err := json.Marshal(card)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(rawURL), raw, c.ttl).Err(); err != nil {
		log.Printf("preview: cache set %s: %v", rawURL, err)
	}
}

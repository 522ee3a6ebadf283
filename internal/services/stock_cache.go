package services

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedReservationCounter serves reserved quantities from Redis and falls
// back to its source on a miss. Only catalog reads go through it; commits
// always count reservations under lock.
type CachedReservationCounter struct {
	source ReservationSource
	client *redis.Client
	ttl    time.Duration
}

// NewCachedReservationCounter creates a counter. A nil client disables the
// cache and every call reaches the source.
func NewCachedReservationCounter(source ReservationSource, client *redis.Client, ttl time.Duration) *CachedReservationCounter {
	return &CachedReservationCounter{
		source: source,
		client: client,
		ttl:    ttl,
	}
}

func reservedKey(itemID string) string {
	return fmt.Sprintf("stock:reserved:%s", itemID)
}

// Reserved returns the reserved quantity of each item
func (c *CachedReservationCounter) Reserved(ctx context.Context, ids []string) (map[string]int, error) {
	if c.client == nil || len(ids) == 0 {
		return c.source.Reserved(ctx, ids)
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = reservedKey(id)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		log.Printf("Stock cache: redis read failed, using database: %v", err)
		return c.source.Reserved(ctx, ids)
	}

	reserved := make(map[string]int, len(ids))
	var misses []string
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			misses = append(misses, ids[i])
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			misses = append(misses, ids[i])
			continue
		}
		reserved[ids[i]] = n
	}
	if len(misses) == 0 {
		return reserved, nil
	}

	fresh, err := c.source.Reserved(ctx, misses)
	if err != nil {
		return nil, err
	}

	pipe := c.client.Pipeline()
	for _, id := range misses {
		reserved[id] = fresh[id]
		pipe.Set(ctx, reservedKey(id), fresh[id], c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("Stock cache: failed to store %d entries: %v", len(misses), err)
	}

	return reserved, nil
}

// Invalidate drops the cached counts of ids
func (c *CachedReservationCounter) Invalidate(ctx context.Context, ids []string) {
	if c.client == nil || len(ids) == 0 {
		return
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = reservedKey(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Printf("Stock cache: failed to invalidate %v: %v", ids, err)
	}
}

// NewRedisClient connects to Redis, returning nil when addr is empty
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	log.Printf("Stock cache: connected to Redis at %s", addr)
	return client, nil
}

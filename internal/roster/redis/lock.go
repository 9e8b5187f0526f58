package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis holds the per-event mutual exclusion lock. Roster mutations and job
// firing for the same event must both acquire it before touching event or
// roster rows, so two concurrent joins can never both pass the capacity
// check.
type Redis struct {
	Client  *redis.Client
	LockTTL time.Duration
	Logger  *log.Logger
}

func NewRedis(client *redis.Client, lockTTL time.Duration) *Redis {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Redis{
		Client:  client,
		LockTTL: lockTTL,
		Logger:  log.Default(),
	}
}

func lockKey(eventID string) string {
	return "event_lock:" + eventID
}

// TryLock attempts to take the event lock for ownerID. Returns false when
// someone else holds it.
func (r *Redis) TryLock(eventID, ownerID string) (bool, error) {
	return r.Client.SetNX(context.Background(), lockKey(eventID), ownerID, r.LockTTL).Result()
}

// Lock blocks until the event lock is acquired or the context is done.
func (r *Redis) Lock(ctx context.Context, eventID, ownerID string) error {
	for {
		ok, err := r.TryLock(eventID, ownerID)
		if err != nil {
			return fmt.Errorf("event lock %s: %w", eventID, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// Unlock releases the event lock, but only if ownerID still holds it. A lock
// that expired and was re-taken by someone else is left alone.
func (r *Redis) Unlock(eventID, ownerID string) error {
	ctx := context.Background()
	key := lockKey(eventID)
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // already released or expired
	}
	if err != nil {
		return err
	}
	if val == ownerID {
		_, err := r.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}

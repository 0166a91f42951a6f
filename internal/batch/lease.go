package batch

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Lease mirrors each pending reservation as a redis key with a TTL. The DB
// row stays authoritative; the key is a fast-path signal so a consume attempt
// after the window can be refused before the janitor has run.
type Lease struct {
	Client *redis.Client
}

func NewLease(client *redis.Client) *Lease {
	return &Lease{Client: client}
}

func leaseKey(reservationID string) string {
	return "reservation_lease:" + reservationID
}

func (l *Lease) Acquire(ctx context.Context, reservationID, batchID string, ttl time.Duration) error {
	_, err := l.Client.SetNX(ctx, leaseKey(reservationID), batchID, ttl).Result()
	return err
}

func (l *Lease) Alive(ctx context.Context, reservationID string) (bool, error) {
	_, err := l.Client.Get(ctx, leaseKey(reservationID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *Lease) Drop(ctx context.Context, reservationID string) error {
	_, err := l.Client.Del(ctx, leaseKey(reservationID)).Result()
	return err
}

package redemption

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const redeemLockTTL = 30 * time.Second

// Lock serializes concurrent redeem attempts on one instance before they
// reach the database CAS. Correctness does not depend on it; it sheds the
// losing scanner early.
type Lock struct {
	Client *redis.Client
}

func NewLock(client *redis.Client) *Lock {
	return &Lock{Client: client}
}

func lockKey(instanceID string) string {
	return "redeem_lock:" + instanceID
}

func (l *Lock) TryLock(ctx context.Context, instanceID, scannerID string) (bool, error) {
	return l.Client.SetNX(ctx, lockKey(instanceID), scannerID, redeemLockTTL).Result()
}

func (l *Lock) Unlock(ctx context.Context, instanceID, scannerID string) error {
	val, err := l.Client.Get(ctx, lockKey(instanceID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val == scannerID {
		_, err = l.Client.Del(ctx, lockKey(instanceID)).Result()
	}
	return err
}

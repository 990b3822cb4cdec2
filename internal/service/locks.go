package service

import (
	"steamshop/internal/infrastructure/lock"

	"github.com/go-redis/redis/v8"
)

// redisLockFactory 基于 Redis 的分布式锁工厂
type redisLockFactory struct {
	client *redis.Client
}

func NewRedisLockFactory(client *redis.Client) LockFactory {
	return &redisLockFactory{client: client}
}

func (f *redisLockFactory) WalletLock(userID int64, holder string) Lock {
	return lock.NewWalletLock(f.client, userID, holder)
}

func (f *redisLockFactory) SettleLock(reference string, holder string) Lock {
	return lock.NewSettleLock(f.client, reference, holder)
}

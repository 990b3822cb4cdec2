package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 【为什么需要分布式锁？】
//
// 场景：同一用户并发发起两笔余额支付（双开页面、网络抖动重复提交）
//
// 没有锁时：
//   goroutine1: 读余额=150000 -> 扣款100000 -> 余额=50000    OK
//   goroutine2: 读余额=150000 -> 扣款100000 -> 余额=-50000   超扣！
//
// 加锁后同一用户的支付串行化，第二笔读到扣款后的余额，余额不足直接拒绝。
// 数据库层还有乐观锁版本号兜底，锁负责把冲突挡在事务之外。
//
// 【加锁】SET key value NX EX timeout
//   - NX: key 不存在才设置，保证互斥
//   - EX: 过期时间，持有者崩溃时锁自动释放
//   - value: 持有者标识，释放时校验，防止误删别人的锁
//
// 【释放】Lua 脚本保证"校验+删除"原子执行
//
// ============================================================================

var (
	ErrLockFailed  = errors.New("获取分布式锁失败")
	ErrLockExpired = errors.New("锁已过期")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁，只有持有者能删除自己的 key
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// 便捷函数：业务维度的锁
// ============================================================================

// NewWalletLock 钱包锁（按用户维度）。
// 同一用户的余额支付/充值入账/退款串行，不同用户互不影响
func NewWalletLock(client *redis.Client, userID int64, holder string) *DistributedLock {
	key := fmt.Sprintf("wallet:lock:user:%d", userID)
	return NewDistributedLock(client, key, holder, 30*time.Second)
}

// NewSettleLock 结算锁（按参考号维度）。
// 覆盖同一订单/充值单的并发轮询确认，配合数据库 CAS 保证只入账一次
func NewSettleLock(client *redis.Client, reference string, holder string) *DistributedLock {
	key := fmt.Sprintf("settle:lock:ref:%s", reference)
	return NewDistributedLock(client, key, holder, 30*time.Second)
}

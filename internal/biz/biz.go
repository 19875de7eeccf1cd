package biz

import (
	"context"
	"time"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewOrderUsecase,
	NewPaymentUsecase,
	NewEscrowUsecase,
	NewPayoutUsecase,
)

// Transaction 事务接口,data 层实现
type Transaction interface {
	Exec(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker 分布式锁接口(防腐层,data 层基于 redsync 实现)
// Lock 获取锁成功时返回解锁函数,锁被占用或获取失败时返回错误;
// expiry 按场景选择:支付/提现用短租约,定时任务用覆盖整轮执行的长租约
type Locker interface {
	Lock(ctx context.Context, key string, expiry time.Duration) (func(), error)
}

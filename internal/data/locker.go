package data

import (
	"context"
	"time"

	"xinyuan_tech/marketplace-service/internal/biz"
	"xinyuan_tech/marketplace-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
)

// redsyncLocker 基于 redsync 的分布式锁实现
type redsyncLocker struct {
	rs  *redsync.Redsync
	log *log.Helper
}

// NewLocker 创建分布式锁
func NewLocker(rs *redsync.Redsync, logger log.Logger) biz.Locker {
	return &redsyncLocker{
		rs:  rs,
		log: log.NewHelper(logger),
	}
}

// Lock 尝试获取锁,只尝试一次,锁被占用说明同一资源上已有操作在进行
func (l *redsyncLocker) Lock(ctx context.Context, key string, expiry time.Duration) (func(), error) {
	mutex := l.rs.NewMutex(
		key,
		redsync.WithExpiry(expiry),
		redsync.WithTries(constants.OrderLockRetries),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, err
	}
	return func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			l.log.Warnf("Failed to unlock %s: %v", key, err)
		}
	}, nil
}

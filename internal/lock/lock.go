package lock

import (
	"errors"
	"time"
)

var ErrNotHeld = errors.New("未持有锁")

// Lock 分布式锁接口
type Lock interface {
	// AcquireLock 获取锁，ttl 为锁的有效期
	// 返回值：bool表示是否成功获取锁，error表示获取过程中的错误
	AcquireLock(lockName string, ttl time.Duration) (bool, error)

	// RefreshLock 刷新锁的过期时间
	RefreshLock(lockName string, ttl time.Duration) (bool, error)

	// ReleaseLock 释放锁，未持有时返回 ErrNotHeld
	ReleaseLock(lockName string) error

	// ReleaseAllLocks 释放所有持有的锁
	ReleaseAllLocks()

	// Close 关闭锁客户端
	Close() error
}

const (
	DoorprizeDrawLockName  = "luckydraw:doorprize:draw"
	SessionArchiveLockName = "luckydraw:session:archive"
)

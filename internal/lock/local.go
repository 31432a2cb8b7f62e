package lock

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lvdashuaibi/luckydraw/internal/timer"
)

type localEntry struct {
	owner string
	until time.Time
}

type localTable struct {
	mu    sync.Mutex
	locks map[string]localEntry
}

// LocalLock 单实例部署使用的进程内锁，过期后可被重新获取
// 每个 LocalLock 是一个持有者，只能刷新和释放自己持有的锁
type LocalLock struct {
	clock timer.Clock
	table *localTable
	owner string
}

func NewLocalLock(clock timer.Clock) *LocalLock {
	return &LocalLock{
		clock: clock,
		table: &localTable{locks: make(map[string]localEntry)},
		owner: uuid.NewString(),
	}
}

// Holder 返回共享同一张锁表的新持有者
func (l *LocalLock) Holder() *LocalLock {
	return &LocalLock{clock: l.clock, table: l.table, owner: uuid.NewString()}
}

func (l *LocalLock) AcquireLock(lockName string, ttl time.Duration) (bool, error) {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()

	now := l.clock.Now()
	if e, ok := l.table.locks[lockName]; ok && now.Before(e.until) {
		return false, nil
	}
	l.table.locks[lockName] = localEntry{owner: l.owner, until: now.Add(ttl)}
	return true, nil
}

func (l *LocalLock) RefreshLock(lockName string, ttl time.Duration) (bool, error) {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()

	now := l.clock.Now()
	e, ok := l.table.locks[lockName]
	if !ok || e.owner != l.owner {
		return false, nil
	}
	if !now.Before(e.until) {
		delete(l.table.locks, lockName)
		return false, nil
	}
	l.table.locks[lockName] = localEntry{owner: l.owner, until: now.Add(ttl)}
	return true, nil
}

func (l *LocalLock) ReleaseLock(lockName string) error {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()

	e, ok := l.table.locks[lockName]
	if !ok || e.owner != l.owner {
		return fmt.Errorf("锁 %s: %w", lockName, ErrNotHeld)
	}
	delete(l.table.locks, lockName)
	return nil
}

func (l *LocalLock) ReleaseAllLocks() {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	for name, e := range l.table.locks {
		if e.owner == l.owner {
			delete(l.table.locks, name)
		}
	}
}

func (l *LocalLock) Close() error {
	l.ReleaseAllLocks()
	return nil
}

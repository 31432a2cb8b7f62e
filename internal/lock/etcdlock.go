package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lvdashuaibi/luckydraw/config"
	"github.com/phuslu/log"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const etcdKeyPrefix = "/luckydraw/locks/"

// EtcdLock 基于etcd租约的分布式锁
type EtcdLock struct {
	client         *clientv3.Client
	requestTimeout time.Duration
	mu             sync.Mutex            // 保护locks的互斥锁
	locks          map[string]*lockEntry // 当前持有的锁
}

type lockEntry struct {
	leaseID clientv3.LeaseID
	key     string
	cancel  context.CancelFunc // 用于停止自动续约
}

func NewETCDLock(cfg config.ETCDConfig) (*EtcdLock, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("创建etcd客户端失败: %w", err)
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &EtcdLock{
		client:         cli,
		requestTimeout: timeout,
		locks:          make(map[string]*lockEntry),
	}, nil
}

func leaseSeconds(ttl time.Duration) int64 {
	sec := int64(ttl / time.Second)
	if sec < 1 {
		sec = 1
	}
	return sec
}

func (el *EtcdLock) AcquireLock(lockName string, ttl time.Duration) (bool, error) {
	el.mu.Lock()
	defer el.mu.Unlock()

	// 本实例已持有时视为获取失败，调用方不能重入
	if _, ok := el.locks[lockName]; ok {
		return false, nil
	}

	key := etcdKeyPrefix + lockName
	ctx, cancel := context.WithTimeout(context.Background(), el.requestTimeout)
	defer cancel()

	grantResp, err := el.client.Grant(ctx, leaseSeconds(ttl))
	if err != nil {
		return false, fmt.Errorf("创建租约失败: %w", err)
	}

	// 键不存在时才写入
	txnResp, err := el.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, "", clientv3.WithLease(grantResp.ID))).
		Commit()
	if err != nil {
		el.revoke(grantResp.ID)
		return false, fmt.Errorf("事务执行失败: %w", err)
	}

	if !txnResp.Succeeded {
		el.revoke(grantResp.ID)
		return false, nil
	}

	keepAliveCtx, keepAliveCancel := context.WithCancel(context.Background())
	go el.keepAlive(keepAliveCtx, grantResp.ID, ttl)

	el.locks[lockName] = &lockEntry{
		leaseID: grantResp.ID,
		key:     key,
		cancel:  keepAliveCancel,
	}
	return true, nil
}

func (el *EtcdLock) RefreshLock(lockName string, ttl time.Duration) (bool, error) {
	el.mu.Lock()
	defer el.mu.Unlock()

	entry, ok := el.locks[lockName]
	if !ok {
		return false, fmt.Errorf("锁 %s: %w", lockName, ErrNotHeld)
	}

	ctx, cancel := context.WithTimeout(context.Background(), el.requestTimeout)
	defer cancel()

	if _, err := el.client.KeepAliveOnce(ctx, entry.leaseID); err != nil {
		if errors.Is(err, rpctypes.ErrLeaseNotFound) {
			entry.cancel()
			delete(el.locks, lockName)
			return false, nil
		}
		return false, fmt.Errorf("续约失败: %w", err)
	}
	return true, nil
}

func (el *EtcdLock) ReleaseLock(lockName string) error {
	el.mu.Lock()
	defer el.mu.Unlock()

	if _, ok := el.locks[lockName]; !ok {
		return fmt.Errorf("锁 %s: %w", lockName, ErrNotHeld)
	}
	return el.releaseLock(lockName)
}

func (el *EtcdLock) ReleaseAllLocks() {
	el.mu.Lock()
	defer el.mu.Unlock()

	for lockName := range el.locks {
		if err := el.releaseLock(lockName); err != nil {
			log.Warn().Err(err).Str("lock", lockName).Msg("释放etcd锁失败")
		}
	}
}

func (el *EtcdLock) Close() error {
	el.ReleaseAllLocks()
	return el.client.Close()
}

// keepAlive 在持有期间按 ttl/2 续约
func (el *EtcdLock) keepAlive(ctx context.Context, leaseID clientv3.LeaseID, ttl time.Duration) {
	interval := time.Duration(leaseSeconds(ttl)) * time.Second / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := el.client.KeepAliveOnce(ctx, leaseID); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (el *EtcdLock) revoke(leaseID clientv3.LeaseID) {
	ctx, cancel := context.WithTimeout(context.Background(), el.requestTimeout)
	defer cancel()
	if _, err := el.client.Revoke(ctx, leaseID); err != nil {
		log.Warn().Err(err).Msg("撤销租约失败")
	}
}

// releaseLock 调用方需持有 el.mu
func (el *EtcdLock) releaseLock(lockName string) error {
	entry, ok := el.locks[lockName]
	if !ok {
		return nil
	}
	entry.cancel()
	delete(el.locks, lockName)

	ctx, cancel := context.WithTimeout(context.Background(), el.requestTimeout)
	defer cancel()

	if _, err := el.client.Delete(ctx, entry.key); err != nil {
		return fmt.Errorf("删除键失败: %w", err)
	}
	if _, err := el.client.Revoke(ctx, entry.leaseID); err != nil {
		return fmt.Errorf("释放租约失败: %w", err)
	}
	return nil
}

package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lvdashuaibi/luckydraw/config"
	"github.com/phuslu/log"
)

const (
	redlockKeyPrefix = "luckydraw:lock:"

	// 只刷新自己持有的锁
	refreshScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`

	// 只释放自己持有的锁
	unlockScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
)

// RedLock 在多个独立Redis节点上实现Redlock算法
type RedLock struct {
	clients   []*redis.Client
	addresses []string
	retries   int

	mu    sync.Mutex
	locks map[string]string // key是锁名，value是token值
}

// NewRedLock 创建新的分布式锁客户端
func NewRedLock(cfg config.RedisConfig, retries int) (*RedLock, error) {
	if len(cfg.LockAddresses) == 0 {
		return nil, fmt.Errorf("未配置Redis锁节点")
	}
	if retries <= 0 {
		retries = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout+time.Second)
	defer cancel()

	var clients []*redis.Client
	for _, addr := range cfg.LockAddresses {
		client := redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.Timeout,
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		})

		if err := client.Ping(ctx).Err(); err != nil {
			for _, c := range clients {
				c.Close()
			}
			client.Close()
			return nil, fmt.Errorf("Redis锁节点 %s 连接测试失败: %w", addr, err)
		}
		clients = append(clients, client)
	}

	return &RedLock{
		clients:   clients,
		addresses: cfg.LockAddresses,
		retries:   retries,
		locks:     make(map[string]string),
	}, nil
}

func (r *RedLock) quorum() int {
	return len(r.clients)/2 + 1
}

// AcquireLock 获取分布式锁
func (r *RedLock) AcquireLock(lockName string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.locks[lockName]; ok {
		return false, nil
	}

	token, err := newToken()
	if err != nil {
		return false, err
	}
	key := redlockKeyPrefix + lockName

	for attempt := 0; attempt < r.retries; attempt++ {
		start := time.Now()
		success := 0

		for i, client := range r.clients {
			ctx, cancel := context.WithTimeout(context.Background(), ttl)
			ok, err := client.SetNX(ctx, key, token, ttl).Result()
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("node", r.addresses[i]).Str("lock", lockName).Msg("在节点获取锁失败")
				continue
			}
			if ok {
				success++
			}
		}

		// 多数节点成功且仍在有效期内
		validity := ttl - time.Since(start)
		if success >= r.quorum() && validity > 0 {
			r.locks[lockName] = token
			log.Debug().Str("lock", lockName).Msg("获取锁成功")
			return true, nil
		}

		r.unlockAll(key, token)
		time.Sleep(100 * time.Millisecond)
	}

	return false, nil
}

// RefreshLock 刷新锁的过期时间
func (r *RedLock) RefreshLock(lockName string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.locks[lockName]
	if !ok {
		return false, fmt.Errorf("锁 %s: %w", lockName, ErrNotHeld)
	}
	key := redlockKeyPrefix + lockName

	success := 0
	for i, client := range r.clients {
		ctx, cancel := context.WithTimeout(context.Background(), ttl)
		result, err := client.Eval(ctx, refreshScript, []string{key}, token, ttl.Milliseconds()).Int64()
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("node", r.addresses[i]).Str("lock", lockName).Msg("在节点刷新锁失败")
			continue
		}
		if result == 1 {
			success++
		}
	}

	if success >= r.quorum() {
		return true, nil
	}
	delete(r.locks, lockName)
	return false, nil
}

// ReleaseLock 释放分布式锁
func (r *RedLock) ReleaseLock(lockName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.locks[lockName]
	if !ok {
		return fmt.Errorf("锁 %s: %w", lockName, ErrNotHeld)
	}
	r.unlockAll(redlockKeyPrefix+lockName, token)
	delete(r.locks, lockName)
	return nil
}

// unlockAll 在所有节点上释放锁
func (r *RedLock) unlockAll(key, token string) {
	for i, client := range r.clients {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := client.Eval(ctx, unlockScript, []string{key}, token).Err(); err != nil {
			log.Warn().Err(err).Str("node", r.addresses[i]).Str("key", key).Msg("在节点释放锁失败")
		}
		cancel()
	}
}

// ReleaseAllLocks 释放所有持有的锁
func (r *RedLock) ReleaseAllLocks() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, token := range r.locks {
		r.unlockAll(redlockKeyPrefix+name, token)
	}
	r.locks = make(map[string]string)
}

// Close 关闭分布式锁客户端
func (r *RedLock) Close() error {
	r.ReleaseAllLocks()

	for _, client := range r.clients {
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("关闭Redis客户端失败")
		}
	}
	return nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("生成锁令牌失败: %w", err)
	}
	return hex.EncodeToString(b), nil
}

package gate

import (
	"context"
	"sync"
)

// MemoryAuthCache 进程内授权缓存
type MemoryAuthCache struct {
	mu     sync.RWMutex
	hashes map[string]string
}

func NewMemoryAuthCache() *MemoryAuthCache {
	return &MemoryAuthCache{hashes: make(map[string]string)}
}

func (c *MemoryAuthCache) GetAuthorization(ctx context.Context, target, device string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.hashes[target+":"+device]
	return h, ok, nil
}

func (c *MemoryAuthCache) SetAuthorization(ctx context.Context, target, device, hash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes[target+":"+device] = hash
	return nil
}

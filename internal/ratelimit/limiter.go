package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/lvdashuaibi/luckydraw/internal/timer"
)

const (
	DefaultMaxAttempts = 5
	DefaultLockout     = 30 * time.Second
)

// State 失败计数与锁定状态，LockedUntil 为零值表示未锁定
type State struct {
	FailedAttempts int       `json:"failedAttempts"`
	LockedUntil    time.Time `json:"lockedUntil"`
	// Countdown 剩余锁定秒数
	Countdown int `json:"countdown"`
}

func (s State) lockedAt(now time.Time) bool {
	return !s.LockedUntil.IsZero() && now.Before(s.LockedUntil)
}

// StateStore 限流状态持久化
type StateStore interface {
	LoadState(ctx context.Context, key string) (State, error)
	SaveState(ctx context.Context, key string, state State) error
	ClearState(ctx context.Context, key string) error
}

// Key 每个入口每台设备独立计数
func Key(gate, device string) string {
	return "ratelimit:" + gate + ":" + device
}

type Options struct {
	MaxAttempts int
	Lockout     time.Duration
}

// Limiter 失败次数限流器
// 锁定状态按设备保存，清除设备标识即可绕过，不能作为服务端的访问控制
type Limiter struct {
	store       StateStore
	clock       timer.Clock
	maxAttempts int
	lockout     time.Duration
}

func New(store StateStore, clock timer.Clock, opts Options) *Limiter {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Lockout <= 0 {
		opts.Lockout = DefaultLockout
	}
	return &Limiter{
		store:       store,
		clock:       clock,
		maxAttempts: opts.MaxAttempts,
		lockout:     opts.Lockout,
	}
}

func (l *Limiter) MaxAttempts() int { return l.maxAttempts }

// RecordFailure 失败次数加一，达到上限时锁定
func (l *Limiter) RecordFailure(ctx context.Context, key string) (State, error) {
	state, err := l.store.LoadState(ctx, key)
	if err != nil {
		return State{}, fmt.Errorf("读取限流状态失败: %w", err)
	}

	now := l.clock.Now()
	if state.lockedAt(now) {
		state.Countdown = remainingSeconds(state.LockedUntil, now)
		return state, nil
	}

	state.FailedAttempts++
	if state.FailedAttempts >= l.maxAttempts {
		state.LockedUntil = now.Add(l.lockout)
		state.Countdown = remainingSeconds(state.LockedUntil, now)
	}

	if err := l.store.SaveState(ctx, key, state); err != nil {
		return State{}, fmt.Errorf("保存限流状态失败: %w", err)
	}
	return state, nil
}

func (l *Limiter) IsLocked(ctx context.Context, key string) (bool, error) {
	state, err := l.store.LoadState(ctx, key)
	if err != nil {
		return false, fmt.Errorf("读取限流状态失败: %w", err)
	}
	return state.lockedAt(l.clock.Now()), nil
}

// Tick 锁定期间每秒调用一次，倒计时归零后解除锁定并清空失败次数
func (l *Limiter) Tick(ctx context.Context, key string) (State, error) {
	state, err := l.store.LoadState(ctx, key)
	if err != nil {
		return State{}, fmt.Errorf("读取限流状态失败: %w", err)
	}
	if state.LockedUntil.IsZero() {
		return state, nil
	}

	now := l.clock.Now()
	state.Countdown = remainingSeconds(state.LockedUntil, now)
	if state.Countdown > 0 {
		return state, nil
	}

	state = State{}
	if err := l.store.ClearState(ctx, key); err != nil {
		return State{}, fmt.Errorf("清除限流状态失败: %w", err)
	}
	return state, nil
}

// RecordSuccess 立即清空失败次数与锁定
func (l *Limiter) RecordSuccess(ctx context.Context, key string) error {
	if err := l.store.ClearState(ctx, key); err != nil {
		return fmt.Errorf("清除限流状态失败: %w", err)
	}
	return nil
}

func remainingSeconds(until, now time.Time) int {
	if !now.Before(until) {
		return 0
	}
	return int(math.Ceil(until.Sub(now).Seconds()))
}

// MemoryStateStore 进程内状态存储
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]State)}
}

func (m *MemoryStateStore) LoadState(ctx context.Context, key string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[key], nil
}

func (m *MemoryStateStore) SaveState(ctx context.Context, key string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[key] = state
	return nil
}

func (m *MemoryStateStore) ClearState(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, key)
	return nil
}

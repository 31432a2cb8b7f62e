package ticket

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lvdashuaibi/luckydraw/internal/model"
	"github.com/lvdashuaibi/luckydraw/internal/timer"
	"github.com/phuslu/log"
)

var (
	ErrTicketNotFound  = errors.New("票据不存在")
	ErrTicketMismatch  = errors.New("票据值不匹配")
	ErrTicketExpired   = errors.New("票据已过期")
	ErrTicketExhausted = errors.New("票据使用次数已耗尽")
)

// Store 票据存储，DecrementTicketUsage 必须是原子操作
type Store interface {
	CreateTicket(ctx context.Context, ticket *model.Ticket) error
	GetTicket(ctx context.Context, version string) (*model.Ticket, error)
	DecrementTicketUsage(ctx context.Context, version string) (int, error)
	DeleteTicket(ctx context.Context, version string) error
}

// TicketService 签发一次性确认票据，防止同一次抽奖结果被重复确认
type TicketService struct {
	store Store
	clock timer.Clock
	ttl   time.Duration
}

func NewTicketService(store Store, clock timer.Clock, ttl time.Duration) *TicketService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &TicketService{store: store, clock: clock, ttl: ttl}
}

// Issue 签发只能使用一次的新票据
func (s *TicketService) Issue(ctx context.Context) (*model.Ticket, error) {
	value, err := generateTicketValue()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	ticket := &model.Ticket{
		Value:           value,
		Version:         generateVersion(now, value),
		RemainingUsages: 1,
		ExpiresAt:       now.Add(s.ttl),
		CreatedAt:       now,
	}
	if err := s.store.CreateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("保存票据失败: %w", err)
	}
	return ticket, nil
}

// Use 校验并消耗票据
func (s *TicketService) Use(ctx context.Context, ticket model.Ticket) error {
	stored, err := s.store.GetTicket(ctx, ticket.Version)
	if err != nil {
		return fmt.Errorf("获取票据失败: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(stored.Value), []byte(ticket.Value)) != 1 {
		return ErrTicketMismatch
	}
	if !s.clock.Now().Before(stored.ExpiresAt) {
		return ErrTicketExpired
	}
	if _, err := s.store.DecrementTicketUsage(ctx, ticket.Version); err != nil {
		return fmt.Errorf("消耗票据失败: %w", err)
	}
	return nil
}

// Revoke 作废票据
func (s *TicketService) Revoke(ctx context.Context, version string) {
	if version == "" {
		return
	}
	if err := s.store.DeleteTicket(ctx, version); err != nil {
		log.Warn().Err(err).Str("version", version).Msg("作废票据失败")
	}
}

// generateVersion 生成票据版本号，同一时刻签发的票据靠票据值前缀区分
func generateVersion(now time.Time, value string) string {
	return fmt.Sprintf("%d-%s", now.UnixNano(), value[:8])
}

// generateTicketValue 生成票据值
func generateTicketValue() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("生成随机票据值失败: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// MemoryStore 进程内票据存储
type MemoryStore struct {
	mu      sync.Mutex
	tickets map[string]model.Ticket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tickets: make(map[string]model.Ticket)}
}

func (m *MemoryStore) CreateTicket(ctx context.Context, ticket *model.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets[ticket.Version] = *ticket
	return nil
}

func (m *MemoryStore) GetTicket(ctx context.Context, version string) (*model.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[version]
	if !ok {
		return nil, ErrTicketNotFound
	}
	return &t, nil
}

func (m *MemoryStore) DecrementTicketUsage(ctx context.Context, version string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[version]
	if !ok {
		return 0, ErrTicketNotFound
	}
	if t.RemainingUsages <= 0 {
		return 0, ErrTicketExhausted
	}
	t.RemainingUsages--
	m.tickets[version] = t
	return t.RemainingUsages, nil
}

func (m *MemoryStore) DeleteTicket(ctx context.Context, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tickets, version)
	return nil
}

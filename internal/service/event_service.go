package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lvdashuaibi/luckydraw/config"
	"github.com/lvdashuaibi/luckydraw/internal/archive"
	"github.com/lvdashuaibi/luckydraw/internal/award"
	"github.com/lvdashuaibi/luckydraw/internal/doorprize"
	"github.com/lvdashuaibi/luckydraw/internal/feed"
	"github.com/lvdashuaibi/luckydraw/internal/gate"
	"github.com/lvdashuaibi/luckydraw/internal/lock"
	"github.com/lvdashuaibi/luckydraw/internal/model"
	"github.com/lvdashuaibi/luckydraw/internal/random"
	"github.com/lvdashuaibi/luckydraw/internal/ratelimit"
	"github.com/lvdashuaibi/luckydraw/internal/store"
	"github.com/lvdashuaibi/luckydraw/internal/ticket"
	"github.com/lvdashuaibi/luckydraw/internal/timer"
	"github.com/phuslu/log"
)

// Dependencies 外部存储与基础设施
type Dependencies struct {
	// Store 应已通过 store.Observe 接入变更通知
	Store      store.Store
	Hub        *feed.Hub
	Scheduler  timer.Scheduler
	Selector   random.Selector
	Tickets    ticket.Store
	RateLimits ratelimit.StateStore
	AuthCache  gate.AuthCache
	// Locker 为空时不加分布式锁
	Locker lock.Lock
}

type Options struct {
	Draw           doorprize.Options
	Reveal         award.Options
	MaxAttempts    int
	Lockout        time.Duration
	BcryptCost     int
	TicketTTL      time.Duration
	ArchiveLockTTL time.Duration
}

// OptionsFromConfig 从配置文件生成选项
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Draw: doorprize.Options{
			RollDuration: cfg.Draw.RollDuration,
			LockTTL:      cfg.Lock.TTL,
		},
		Reveal: award.Options{
			CountdownFrom:    cfg.Reveal.CountdownFrom,
			TickInterval:     cfg.Reveal.TickInterval,
			RevealDwell:      cfg.Reveal.RevealDwell,
			CarouselInterval: cfg.Reveal.CarouselInterval,
		},
		MaxAttempts:    cfg.Gate.MaxAttempts,
		Lockout:        cfg.Gate.LockoutDuration,
		BcryptCost:     cfg.Gate.BcryptCost,
		TicketTTL:      cfg.Ticket.TTL,
		ArchiveLockTTL: cfg.Lock.TTL,
	}
}

// EventService 一场活动的应用上下文，持有抽奖引擎、颁奖状态机与入口校验
type EventService struct {
	store    store.Store
	hub      *feed.Hub
	validate *validator.Validate

	Draw     *doorprize.Engine
	Awards   *award.Machine
	Gate     *gate.Gate
	Archiver *archive.Archiver
}

func NewEventService(deps Dependencies, opts Options) *EventService {
	if deps.Scheduler == nil {
		deps.Scheduler = timer.RealScheduler{}
	}
	if deps.Selector == nil {
		deps.Selector = random.NewCryptoSelector()
	}
	if deps.Hub == nil {
		deps.Hub = feed.NewHub(deps.Store)
	}

	s := &EventService{
		store:    deps.Store,
		hub:      deps.Hub,
		validate: validator.New(),
	}

	tickets := ticket.NewTicketService(deps.Tickets, deps.Scheduler, opts.TicketTTL)
	limiter := ratelimit.New(deps.RateLimits, deps.Scheduler, ratelimit.Options{
		MaxAttempts: opts.MaxAttempts,
		Lockout:     opts.Lockout,
	})

	s.Draw = doorprize.NewEngine(deps.Store, deps.Selector, tickets, deps.Scheduler, deps.Locker, opts.Draw)
	s.Awards = award.NewMachine(deps.Store, deps.Scheduler, opts.Reveal)
	s.Gate = gate.New(s, s, deps.AuthCache, limiter, opts.BcryptCost)
	s.Archiver = archive.NewArchiver(deps.Store, deps.Locker, opts.ArchiveLockTTL)
	return s
}

// Hub 变更推送
func (s *EventService) Hub() *feed.Hub {
	return s.hub
}

// Start 挂接状态推送并初始化颁奖状态机
func (s *EventService) Start(ctx context.Context) error {
	s.Draw.OnChange(func(st doorprize.State) {
		s.hub.Publish(feed.TopicDoorprizeState, NewDrawStatus(st))
	})
	s.Awards.OnChange(func(v award.View) {
		s.hub.Publish(feed.TopicAwardState, NewRevealStatus(v))
	})

	s.hub.Publish(feed.TopicDoorprizeState, NewDrawStatus(s.Draw.State()))
	if err := s.Awards.Init(ctx); err != nil && !errors.Is(err, award.ErrNoAwardWinners) {
		return fmt.Errorf("初始化颁奖状态失败: %w", err)
	}

	log.Info().Msg("活动服务已启动")
	return nil
}

// Dispose 取消所有定时任务并释放锁
func (s *EventService) Dispose() {
	s.Draw.Dispose()
	s.Awards.Dispose()
	log.Info().Msg("活动服务已停止")
}

// AppConfig 实现 gate.ConfigSource，尚未配置时两个入口均为关闭
func (s *EventService) AppConfig(ctx context.Context) (*model.AppConfig, error) {
	cfg, err := store.Load[model.AppConfig](ctx, s.store, model.CollectionAppConfig, model.AppConfigDocID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &model.AppConfig{DoorprizeStatus: model.StatusClosed, AwardStatus: model.StatusClosed}, nil
		}
		return nil, fmt.Errorf("读取全局配置失败: %w", err)
	}
	if cfg.DoorprizeStatus == "" {
		cfg.DoorprizeStatus = model.StatusClosed
	}
	if cfg.AwardStatus == "" {
		cfg.AwardStatus = model.StatusClosed
	}
	return cfg, nil
}

// IsComplete 实现 gate.CompletionChecker
// 奖品：至少一个奖品且库存全部为0；奖项：至少一个奖项且全部有揭晓记录
func (s *EventService) IsComplete(ctx context.Context, target gate.Target) (bool, error) {
	switch target {
	case gate.TargetDoorprize:
		prizes, err := store.List[model.Prize](ctx, s.store, model.CollectionPrizes)
		if err != nil {
			return false, err
		}
		return len(prizes) > 0 && doorprize.IsExhausted(prizes), nil
	case gate.TargetAward:
		slots, err := store.List[model.AwardWinnerSlot](ctx, s.store, model.CollectionAwardSlots)
		if err != nil {
			return false, err
		}
		nominees, err := store.List[model.AwardNominee](ctx, s.store, model.CollectionAwardNominees)
		if err != nil {
			return false, err
		}
		history, err := store.List[model.AwardHistoryEntry](ctx, s.store, model.CollectionAwardHistory)
		if err != nil {
			return false, err
		}
		return award.AllRevealed(award.GroupByCategory(award.Merge(slots, nominees)), history), nil
	default:
		return false, fmt.Errorf("%w: %s", gate.ErrUnknownTarget, target)
	}
}

// ArchiveSession 归档当前场次并重置两个引擎
func (s *EventService) ArchiveSession(ctx context.Context) (string, error) {
	id, err := s.Archiver.ArchiveAndReset(ctx)
	if err != nil {
		return "", err
	}
	s.Draw.Reset(ctx)
	s.Awards.Reset()
	return id, nil
}

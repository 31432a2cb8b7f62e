package doorprize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lvdashuaibi/luckydraw/internal/lock"
	"github.com/lvdashuaibi/luckydraw/internal/model"
	"github.com/lvdashuaibi/luckydraw/internal/random"
	"github.com/lvdashuaibi/luckydraw/internal/store"
	"github.com/lvdashuaibi/luckydraw/internal/ticket"
	"github.com/lvdashuaibi/luckydraw/internal/timer"
	"github.com/phuslu/log"
)

var (
	ErrDrawInProgress = errors.New("抽奖进行中")
	ErrNotPending     = errors.New("没有待确认的抽奖结果")
	ErrStaleTicket    = errors.New("确认票据与当前抽奖结果不符")
	ErrPrizeExhausted = errors.New("奖品库存已为0，请重新抽奖")
	ErrTicketReissued = errors.New("确认票据已过期，已重新签发，请再次确认")
	ErrDrawStale      = errors.New("待确认的参与者已中奖，本次结果作废")
	ErrLockLost       = errors.New("抽奖锁已被其他控制台占用")
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSpinning
	PhasePending
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseSpinning:
		return "SPINNING"
	case PhasePending:
		return "PENDING_CONFIRMATION"
	default:
		return "UNKNOWN"
	}
}

// Pending 已抽出等待确认的结果
type Pending struct {
	Participant model.Participant
	Prize       model.Prize
	Ticket      model.Ticket
	DrawnAt     time.Time
}

// State 引擎状态快照
type State struct {
	Phase      Phase
	Pending    *Pending
	LastWinner *model.DoorprizeWinnerRecord
	LastError  string
}

type Options struct {
	RollDuration time.Duration
	LockTTL      time.Duration
}

// Engine 抽奖引擎，一次抽奖周期为 Idle -> Spinning -> Pending -> Idle
type Engine struct {
	store    store.Store
	selector random.Selector
	tickets  *ticket.TicketService
	sched    timer.Scheduler
	locker   lock.Lock
	opts     Options

	mu         sync.Mutex
	phase      Phase
	pending    *Pending
	lastWinner *model.DoorprizeWinnerRecord
	lastErr    string
	rolling    timer.Stopper
	refresh    timer.Stopper
	gen        uint64
	holdsLock  bool
	listener   func(State)
}

// NewEngine locker 为空时不使用分布式锁
func NewEngine(s store.Store, selector random.Selector, tickets *ticket.TicketService, sched timer.Scheduler, locker lock.Lock, opts Options) *Engine {
	if opts.RollDuration <= 0 {
		opts.RollDuration = 3 * time.Second
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	return &Engine{
		store:    s,
		selector: selector,
		tickets:  tickets,
		sched:    sched,
		locker:   locker,
		opts:     opts,
	}
}

// OnChange 注册状态变化回调，回调在引擎锁外执行
func (e *Engine) OnChange(fn func(State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = fn
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() State {
	st := State{Phase: e.phase, LastError: e.lastErr}
	if e.pending != nil {
		p := *e.pending
		st.Pending = &p
	}
	if e.lastWinner != nil {
		w := *e.lastWinner
		st.LastWinner = &w
	}
	return st
}

func (e *Engine) emit() {
	e.mu.Lock()
	fn := e.listener
	st := e.snapshotLocked()
	e.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

type snapshot struct {
	participants []model.Participant
	prizes       []model.Prize
	winners      []model.DoorprizeWinnerRecord
}

func (e *Engine) loadSnapshot(ctx context.Context) (*snapshot, error) {
	participants, err := store.List[model.Participant](ctx, e.store, model.CollectionParticipants)
	if err != nil {
		return nil, err
	}
	prizes, err := store.List[model.Prize](ctx, e.store, model.CollectionPrizes)
	if err != nil {
		return nil, err
	}
	winners, err := store.List[model.DoorprizeWinnerRecord](ctx, e.store, model.CollectionDoorprizeWinners)
	if err != nil {
		return nil, err
	}
	return &snapshot{participants: participants, prizes: prizes, winners: winners}, nil
}

// Spin 校验后开始滚动，滚动结束后才真正抽取
func (e *Engine) Spin(ctx context.Context) error {
	err := e.spin(ctx)
	e.emit()
	return err
}

func (e *Engine) spin(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseIdle {
		return ErrDrawInProgress
	}

	snap, err := e.loadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("读取抽奖数据失败: %w", err)
	}
	if err := Validate(snap.participants, snap.prizes, snap.winners); err != nil {
		return err
	}

	if e.locker != nil {
		acquired, err := e.locker.AcquireLock(lock.DoorprizeDrawLockName, e.opts.LockTTL)
		if err != nil {
			return fmt.Errorf("获取抽奖锁失败: %w", err)
		}
		if !acquired {
			return ErrDrawInProgress
		}
		e.holdsLock = true
	}

	e.phase = PhaseSpinning
	e.lastErr = ""
	e.gen++
	gen := e.gen
	e.rolling = e.sched.AfterFunc(e.opts.RollDuration, func() { e.draw(gen) })
	e.keepLockLocked()
	return nil
}

// draw 滚动结束后执行，重新读取最新数据
func (e *Engine) draw(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || e.phase != PhaseSpinning {
		e.mu.Unlock()
		return
	}
	e.rolling = nil

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pending, err := e.pick(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("抽奖失败")
		e.phase = PhaseIdle
		e.lastErr = err.Error()
		e.releaseLocked()
	} else {
		e.phase = PhasePending
		e.pending = pending
		log.Info().Str("participant", pending.Participant.Name).Str("prize", pending.Prize.Name).Msg("抽出待确认结果")
	}
	e.mu.Unlock()
	e.emit()
}

func (e *Engine) pick(ctx context.Context) (*Pending, error) {
	snap, err := e.loadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取抽奖数据失败: %w", err)
	}

	eligible := EligibleParticipants(snap.participants, snap.winners)
	if len(eligible) == 0 {
		if len(snap.participants) == 0 {
			return nil, ErrNoParticipants
		}
		return nil, ErrNoEligibleParticipants
	}
	pool := BuildPrizePool(snap.prizes)
	if len(pool) == 0 {
		return nil, ErrNoStock
	}

	participant, err := random.Pick(e.selector, eligible)
	if err != nil {
		return nil, fmt.Errorf("抽取参与者失败: %w", err)
	}
	prize, err := random.Pick(e.selector, pool)
	if err != nil {
		return nil, fmt.Errorf("抽取奖品失败: %w", err)
	}

	tk, err := e.tickets.Issue(ctx)
	if err != nil {
		return nil, fmt.Errorf("签发确认票据失败: %w", err)
	}

	return &Pending{
		Participant: participant,
		Prize:       prize,
		Ticket:      *tk,
		DrawnAt:     e.sched.Now(),
	}, nil
}

// Confirm 扣减库存并写入中奖记录，二者在同一批次中提交
func (e *Engine) Confirm(ctx context.Context, tk model.Ticket) (*model.DoorprizeWinnerRecord, error) {
	rec, err := e.confirm(ctx, tk)
	e.emit()
	return rec, err
}

func (e *Engine) confirm(ctx context.Context, tk model.Ticket) (*model.DoorprizeWinnerRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhasePending || e.pending == nil {
		return nil, ErrNotPending
	}
	if tk.Version != e.pending.Ticket.Version || tk.Value != e.pending.Ticket.Value {
		return nil, ErrStaleTicket
	}
	if err := e.ensureLockLocked(); err != nil {
		return nil, err
	}

	p := e.pending
	winners, err := store.List[model.DoorprizeWinnerRecord](ctx, e.store, model.CollectionDoorprizeWinners)
	if err != nil {
		return nil, fmt.Errorf("读取中奖记录失败: %w", err)
	}
	for _, w := range winners {
		if normalizeName(w.ParticipantName) == normalizeName(p.Participant.Name) {
			log.Warn().Str("participant", p.Participant.Name).Msg("待确认的参与者已中奖，结果作废")
			e.resetLocked(ctx)
			e.lastErr = ErrDrawStale.Error()
			return nil, fmt.Errorf("%w: %s", ErrDrawStale, p.Participant.Name)
		}
	}

	if err := e.tickets.Use(ctx, tk); err != nil {
		if errors.Is(err, ticket.ErrTicketExpired) {
			e.reissueLocked(ctx)
			e.lastErr = ErrTicketReissued.Error()
			return nil, fmt.Errorf("%w: %w", ErrTicketReissued, err)
		}
		return nil, fmt.Errorf("确认票据无效: %w", err)
	}

	batch := e.store.Batch()
	batch.Decrement(model.CollectionPrizes, p.Prize.ID, "stock")
	id := batch.Add(model.CollectionDoorprizeWinners, store.Fields{
		"participantName": p.Participant.Name,
		"prizeName":       p.Prize.Name,
		"prizeImageRef":   p.Prize.ImageRef,
		"wonAt":           store.ServerTimestamp,
	})

	if err := batch.Commit(ctx); err != nil {
		e.reissueLocked(ctx)
		e.lastErr = err.Error()
		log.Error().Err(err).Str("prize", p.Prize.ID).Msg("确认抽奖结果失败")
		if errors.Is(err, store.ErrPreconditionFailed) {
			return nil, fmt.Errorf("%w: %w", ErrPrizeExhausted, err)
		}
		return nil, fmt.Errorf("确认抽奖结果失败: %w", err)
	}

	rec := &model.DoorprizeWinnerRecord{
		ID:              id,
		ParticipantName: p.Participant.Name,
		PrizeName:       p.Prize.Name,
		PrizeImageRef:   p.Prize.ImageRef,
		WonAt:           e.sched.Now().UTC(),
	}
	e.lastWinner = rec
	e.lastErr = ""
	e.pending = nil
	e.phase = PhaseIdle
	e.releaseLocked()

	log.Info().Str("participant", rec.ParticipantName).Str("prize", rec.PrizeName).Msg("抽奖结果已确认")
	return rec, nil
}

// Retry 放弃当前结果或取消滚动，不写入任何数据
func (e *Engine) Retry(ctx context.Context) {
	e.mu.Lock()
	e.resetLocked(ctx)
	e.mu.Unlock()
	e.emit()
}

// Dispose 取消所有定时任务并释放锁
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked(context.Background())
	e.listener = nil
}

// Reset 清空上一次中奖展示，场次归档后调用
func (e *Engine) Reset(ctx context.Context) {
	e.mu.Lock()
	e.resetLocked(ctx)
	e.lastWinner = nil
	e.lastErr = ""
	e.mu.Unlock()
	e.emit()
}

func (e *Engine) resetLocked(ctx context.Context) {
	e.gen++
	if e.rolling != nil {
		e.rolling.Stop()
		e.rolling = nil
	}
	if e.pending != nil {
		e.tickets.Revoke(ctx, e.pending.Ticket.Version)
		e.pending = nil
	}
	e.phase = PhaseIdle
	e.releaseLocked()
}

// reissueLocked 保留待确认结果，换发新票据以便再次确认
func (e *Engine) reissueLocked(ctx context.Context) {
	old := e.pending.Ticket.Version
	nt, err := e.tickets.Issue(ctx)
	if err != nil {
		log.Error().Err(err).Msg("重新签发确认票据失败")
		return
	}
	e.pending.Ticket = *nt
	e.tickets.Revoke(ctx, old)
}

// keepLockLocked 持有抽奖锁期间按 LockTTL 的三分之一定期续期
func (e *Engine) keepLockLocked() {
	if e.locker == nil || !e.holdsLock {
		return
	}
	e.stopRefreshLocked()
	e.refresh = e.sched.AfterFunc(e.opts.LockTTL/3, e.refreshLock)
}

func (e *Engine) refreshLock() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.holdsLock {
		return
	}
	e.refresh = nil

	ok, err := e.locker.RefreshLock(lock.DoorprizeDrawLockName, e.opts.LockTTL)
	if err != nil || !ok {
		log.Warn().Err(err).Msg("抽奖锁续期失败")
		e.holdsLock = false
		return
	}
	e.keepLockLocked()
}

// ensureLockLocked 确认前保证仍持有抽奖锁，锁已失效时尝试重新获取
func (e *Engine) ensureLockLocked() error {
	if e.locker == nil {
		return nil
	}
	if e.holdsLock {
		ok, err := e.locker.RefreshLock(lock.DoorprizeDrawLockName, e.opts.LockTTL)
		if err == nil && ok {
			return nil
		}
		e.holdsLock = false
	}

	acquired, err := e.locker.AcquireLock(lock.DoorprizeDrawLockName, e.opts.LockTTL)
	if err != nil {
		return fmt.Errorf("获取抽奖锁失败: %w", err)
	}
	if !acquired {
		return ErrLockLost
	}
	e.holdsLock = true
	e.keepLockLocked()
	return nil
}

func (e *Engine) stopRefreshLocked() {
	if e.refresh != nil {
		e.refresh.Stop()
		e.refresh = nil
	}
}

func (e *Engine) releaseLocked() {
	e.stopRefreshLocked()
	if e.locker == nil || !e.holdsLock {
		return
	}
	e.holdsLock = false
	if err := e.locker.ReleaseLock(lock.DoorprizeDrawLockName); err != nil {
		log.Warn().Err(err).Msg("释放抽奖锁失败")
	}
}

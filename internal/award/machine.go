package award

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lvdashuaibi/luckydraw/internal/model"
	"github.com/lvdashuaibi/luckydraw/internal/store"
	"github.com/lvdashuaibi/luckydraw/internal/timer"
	"github.com/phuslu/log"
)

var (
	ErrNoAwardWinners      = errors.New("没有已指定获奖者的奖项")
	ErrNotInitialized      = errors.New("颁奖流程尚未初始化")
	ErrInvalidPhase        = errors.New("当前阶段不允许该操作")
	ErrRevealNotAvailable  = errors.New("请先浏览完所有提名")
	ErrCategoryNotComplete = errors.New("当前奖项尚未全部揭晓")
	ErrCategoryOutOfRange  = errors.New("奖项不存在")
	ErrHistoryNotSynced    = errors.New("揭晓记录未保存")
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseNominations
	PhaseCountdown
	PhaseReveal
	PhasePodium
	PhaseCarousel
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseNominations:
		return "NOMINATIONS"
	case PhaseCountdown:
		return "COUNTDOWN"
	case PhaseReveal:
		return "REVEAL"
	case PhasePodium:
		return "PODIUM"
	case PhaseCarousel:
		return "CAROUSEL_REVIEW"
	default:
		return "UNKNOWN"
	}
}

type Options struct {
	CountdownFrom    int
	TickInterval     time.Duration
	RevealDwell      time.Duration
	CarouselInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.CountdownFrom <= 0 {
		o.CountdownFrom = 3
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.RevealDwell <= 0 {
		o.RevealDwell = 2500 * time.Millisecond
	}
	if o.CarouselInterval <= 0 {
		o.CarouselInterval = 8 * time.Second
	}
	return o
}

// View 展示层需要的状态
type View struct {
	Phase         Phase
	CategoryIndex int
	CategoryCount int
	EventLabel    string
	Category      string
	// Nominees 当前奖项的提名，按揭晓顺序
	Nominees  []model.MergedAwardWinner
	Cursor    int
	Countdown int
	// Revealed 已揭晓的名次，第一个为最低名次
	Revealed     []model.MergedAwardWinner
	Current      *model.MergedAwardWinner
	CanReveal    bool
	CanAdvance   bool
	Celebrations int

	Paused        bool
	CarouselIndex int
	Carousel      []Group

	Unsynced  int
	LastError string
}

// Machine 颁奖揭晓状态机
type Machine struct {
	store store.Store
	sched timer.Scheduler
	opts  Options

	mu           sync.Mutex
	groups       []Group
	catIdx       int
	phase        Phase
	cursor       int
	revealed     int
	countdown    int
	celebrations int
	paused       bool
	carouselIdx  int
	unsynced     []model.AwardHistoryEntry
	lastErr      string
	pending      timer.Stopper
	gen          uint64
	listener     func(View)
}

func NewMachine(s store.Store, sched timer.Scheduler, opts Options) *Machine {
	return &Machine{store: s, sched: sched, opts: opts.withDefaults()}
}

// OnChange 注册状态变化回调
func (m *Machine) OnChange(fn func(View)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = fn
}

func (m *Machine) emit() {
	m.mu.Lock()
	fn := m.listener
	v := m.viewLocked()
	m.mu.Unlock()
	if fn != nil {
		fn(v)
	}
}

func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

func (m *Machine) viewLocked() View {
	v := View{
		Phase:         m.phase,
		CategoryIndex: m.catIdx,
		CategoryCount: len(m.groups),
		Cursor:        m.cursor,
		Countdown:     m.countdown,
		Celebrations:  m.celebrations,
		Paused:        m.paused,
		CarouselIndex: m.carouselIdx,
		Unsynced:      len(m.unsynced),
		LastError:     m.lastErr,
		CanReveal:     m.canRevealLocked(),
	}
	if m.phase == PhaseCarousel {
		v.Carousel = append([]Group(nil), m.groups...)
		return v
	}
	if m.phase == PhaseIdle || m.catIdx >= len(m.groups) {
		return v
	}

	g := m.groups[m.catIdx]
	v.EventLabel = g.EventLabel
	v.Category = g.Category
	v.Nominees = append([]model.MergedAwardWinner(nil), g.Winners...)
	v.Revealed = append([]model.MergedAwardWinner(nil), g.Winners[:m.revealed]...)
	if m.phase == PhasePodium && m.revealed > 0 {
		cur := g.Winners[m.revealed-1]
		v.Current = &cur
	}
	v.CanAdvance = m.phase == PhasePodium && m.revealed == len(g.Winners)
	return v
}

func (m *Machine) canRevealLocked() bool {
	if m.catIdx >= len(m.groups) {
		return false
	}
	g := m.groups[m.catIdx]
	switch m.phase {
	case PhaseNominations:
		return m.cursor == len(g.Winners)-1
	case PhasePodium:
		return m.revealed < len(g.Winners)
	default:
		return false
	}
}

func (m *Machine) loadHistory(ctx context.Context) ([]model.AwardHistoryEntry, error) {
	return store.List[model.AwardHistoryEntry](ctx, m.store, model.CollectionAwardHistory)
}

// Init 重新读取名次位，从第一个没有揭晓记录的奖项开始；全部完成则进入轮播
func (m *Machine) Init(ctx context.Context) error {
	err := m.init(ctx)
	m.emit()
	return err
}

func (m *Machine) init(ctx context.Context) error {
	slots, err := store.List[model.AwardWinnerSlot](ctx, m.store, model.CollectionAwardSlots)
	if err != nil {
		return err
	}
	nominees, err := store.List[model.AwardNominee](ctx, m.store, model.CollectionAwardNominees)
	if err != nil {
		return err
	}
	history, err := m.loadHistory(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelLocked()
	m.groups = GroupByCategory(Merge(slots, nominees))
	m.lastErr = ""
	m.celebrations = 0
	if len(m.groups) == 0 {
		m.phase = PhaseIdle
		m.catIdx = 0
		return ErrNoAwardWinners
	}

	for i, g := range m.groups {
		if !hasHistory(history, g.EventLabel, g.Category) {
			m.enterCategoryLocked(i, history)
			return nil
		}
	}
	m.enterCarouselLocked()
	return nil
}

// SelectCategory 进入指定奖项，已有揭晓记录的奖项直接显示领奖台
func (m *Machine) SelectCategory(ctx context.Context, idx int) error {
	history, err := m.loadHistory(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if len(m.groups) == 0 {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	if idx < 0 || idx >= len(m.groups) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrCategoryOutOfRange, idx)
	}
	m.cancelLocked()
	m.enterCategoryLocked(idx, history)
	m.mu.Unlock()

	m.emit()
	return nil
}

func (m *Machine) enterCategoryLocked(idx int, history []model.AwardHistoryEntry) {
	g := m.groups[idx]
	m.catIdx = idx
	m.cursor = 0
	m.countdown = 0
	m.paused = false
	if hasHistory(history, g.EventLabel, g.Category) {
		m.phase = PhasePodium
		m.revealed = len(g.Winners)
		return
	}
	m.phase = PhaseNominations
	m.revealed = 0
}

// NextNominee 浏览下一个提名，末尾回到开头
func (m *Machine) NextNominee() error {
	return m.moveCursor(1)
}

// PrevNominee 浏览上一个提名，开头回到末尾
func (m *Machine) PrevNominee() error {
	return m.moveCursor(-1)
}

func (m *Machine) moveCursor(delta int) error {
	m.mu.Lock()
	if m.phase != PhaseNominations {
		m.mu.Unlock()
		return ErrInvalidPhase
	}
	n := len(m.groups[m.catIdx].Winners)
	m.cursor = ((m.cursor+delta)%n + n) % n
	m.mu.Unlock()

	m.emit()
	return nil
}

// StartReveal 开始倒计时，揭晓下一个名次
func (m *Machine) StartReveal() error {
	m.mu.Lock()
	if m.phase == PhaseIdle {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	if m.phase != PhaseNominations && m.phase != PhasePodium {
		m.mu.Unlock()
		return ErrInvalidPhase
	}
	if !m.canRevealLocked() {
		m.mu.Unlock()
		if m.phase == PhasePodium {
			return ErrInvalidPhase
		}
		return ErrRevealNotAvailable
	}

	m.phase = PhaseCountdown
	m.countdown = m.opts.CountdownFrom
	m.scheduleLocked(m.opts.TickInterval, m.countdownTick)
	m.mu.Unlock()

	m.emit()
	return nil
}

func (m *Machine) countdownTick(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.phase != PhaseCountdown {
		m.mu.Unlock()
		return
	}
	m.countdown--
	if m.countdown > 0 {
		m.scheduleLocked(m.opts.TickInterval, m.countdownTick)
	} else {
		m.phase = PhaseReveal
		m.scheduleLocked(m.opts.RevealDwell, m.revealDone)
	}
	m.mu.Unlock()

	m.emit()
}

func (m *Machine) revealDone(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.phase != PhaseReveal {
		m.mu.Unlock()
		return
	}
	m.pending = nil
	m.revealed++
	m.phase = PhasePodium
	m.celebrations++
	m.mu.Unlock()

	m.emit()
}

// AdvanceCategory 保存当前奖项的揭晓记录后进入下一个奖项
// 保存失败时仍然前进，返回 ErrHistoryNotSynced，未保存的记录在下次前进时重试
func (m *Machine) AdvanceCategory(ctx context.Context) error {
	err := m.advance(ctx)
	m.emit()
	return err
}

func (m *Machine) advance(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase == PhaseIdle {
		return ErrNotInitialized
	}
	if m.phase != PhasePodium {
		return ErrInvalidPhase
	}
	g := m.groups[m.catIdx]
	if m.revealed < len(g.Winners) {
		return ErrCategoryNotComplete
	}

	syncErr := m.persistLocked(ctx, g)

	history, err := m.loadHistory(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("读取揭晓记录失败")
		history = nil
	}

	m.cancelLocked()
	if next := m.catIdx + 1; next < len(m.groups) {
		m.enterCategoryLocked(next, history)
	} else {
		m.enterCarouselLocked()
	}

	if syncErr != nil {
		m.lastErr = syncErr.Error()
		return syncErr
	}
	m.lastErr = ""
	return nil
}

// persistLocked 先重试之前未保存的记录，再写入当前奖项
func (m *Machine) persistLocked(ctx context.Context, g Group) error {
	history, err := m.loadHistory(ctx)
	if err != nil {
		m.unsynced = appendUnsynced(m.unsynced, HistoryEntries(g))
		log.Error().Err(err).Str("category", g.Category).Msg("读取揭晓记录失败")
		return fmt.Errorf("%w: %w", ErrHistoryNotSynced, err)
	}

	pending := appendUnsynced(m.unsynced, HistoryEntries(g))
	fail := func(err error) error {
		m.unsynced = pending
		log.Error().Err(err).Str("category", g.Category).Int("entries", len(pending)).Msg("保存揭晓记录失败")
		return fmt.Errorf("%w: %w", ErrHistoryNotSynced, err)
	}

	batch := m.store.Batch()
	written := 0
	for _, e := range pending {
		if hasHistory(history, e.EventLabel, e.Category) {
			continue
		}
		fields, err := historyFields(e)
		if err != nil {
			return fail(err)
		}
		batch.Add(model.CollectionAwardHistory, fields)
		written++
	}

	if err := batch.Commit(ctx); err != nil {
		return fail(err)
	}
	m.unsynced = nil
	if written > 0 {
		log.Info().Str("category", g.Category).Int("entries", written).Msg("揭晓记录已保存")
	}
	return nil
}

// historyFields 揭晓记录转为文档字段，揭晓时间取服务端时间
var historyFields = func(e model.AwardHistoryEntry) (store.Fields, error) {
	fields, err := store.ToFields(e)
	if err != nil {
		return nil, err
	}
	fields["revealedAt"] = store.ServerTimestamp
	return fields, nil
}

// appendUnsynced 合并待保存记录，同一奖项同一名次只保留一条
func appendUnsynced(existing, entries []model.AwardHistoryEntry) []model.AwardHistoryEntry {
	out := append([]model.AwardHistoryEntry(nil), existing...)
	for _, e := range entries {
		dup := false
		for _, o := range out {
			if o.EventLabel == e.EventLabel && o.Category == e.Category && o.Rank == e.Rank {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, e)
		}
	}
	return out
}

func (m *Machine) enterCarouselLocked() {
	m.phase = PhaseCarousel
	m.carouselIdx = 0
	m.paused = false
	m.countdown = 0
	m.scheduleLocked(m.opts.CarouselInterval, m.carouselTick)
}

func (m *Machine) carouselTick(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.phase != PhaseCarousel || m.paused {
		m.mu.Unlock()
		return
	}
	if len(m.groups) > 0 {
		m.carouselIdx = (m.carouselIdx + 1) % len(m.groups)
	}
	m.scheduleLocked(m.opts.CarouselInterval, m.carouselTick)
	m.mu.Unlock()

	m.emit()
}

// CarouselNext 手动切换到下一个奖项，未暂停时重新计时
func (m *Machine) CarouselNext() error {
	return m.moveCarousel(1)
}

func (m *Machine) CarouselPrev() error {
	return m.moveCarousel(-1)
}

func (m *Machine) moveCarousel(delta int) error {
	m.mu.Lock()
	if m.phase != PhaseCarousel {
		m.mu.Unlock()
		return ErrInvalidPhase
	}
	n := len(m.groups)
	m.carouselIdx = ((m.carouselIdx+delta)%n + n) % n
	if !m.paused {
		m.scheduleLocked(m.opts.CarouselInterval, m.carouselTick)
	}
	m.mu.Unlock()

	m.emit()
	return nil
}

// Pause 暂停自动轮播
func (m *Machine) Pause() error {
	m.mu.Lock()
	if m.phase != PhaseCarousel {
		m.mu.Unlock()
		return ErrInvalidPhase
	}
	m.paused = true
	m.cancelLocked()
	m.mu.Unlock()

	m.emit()
	return nil
}

// Resume 恢复自动轮播，重新开始完整的间隔
func (m *Machine) Resume() error {
	m.mu.Lock()
	if m.phase != PhaseCarousel {
		m.mu.Unlock()
		return ErrInvalidPhase
	}
	if m.paused {
		m.paused = false
		m.scheduleLocked(m.opts.CarouselInterval, m.carouselTick)
	}
	m.mu.Unlock()

	m.emit()
	return nil
}

// Reset 回到未初始化状态，场次归档后调用
func (m *Machine) Reset() {
	m.mu.Lock()
	m.cancelLocked()
	m.groups = nil
	m.phase = PhaseIdle
	m.catIdx = 0
	m.cursor = 0
	m.revealed = 0
	m.countdown = 0
	m.celebrations = 0
	m.paused = false
	m.carouselIdx = 0
	m.unsynced = nil
	m.lastErr = ""
	m.mu.Unlock()

	m.emit()
}

// Dispose 取消所有定时任务
func (m *Machine) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelLocked()
	m.listener = nil
}

// scheduleLocked 取消旧任务并安排新任务，旧任务的回调会因代数不符而忽略
func (m *Machine) scheduleLocked(d time.Duration, fn func(uint64)) {
	m.cancelLocked()
	gen := m.gen
	m.pending = m.sched.AfterFunc(d, func() { fn(gen) })
}

func (m *Machine) cancelLocked() {
	m.gen++
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
}

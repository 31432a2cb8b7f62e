package doorprize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lvdashuaibi/luckydraw/internal/lock"
	"github.com/lvdashuaibi/luckydraw/internal/model"
	"github.com/lvdashuaibi/luckydraw/internal/random"
	"github.com/lvdashuaibi/luckydraw/internal/store"
	"github.com/lvdashuaibi/luckydraw/internal/ticket"
	"github.com/lvdashuaibi/luckydraw/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const roll = 3 * time.Second

type fixture struct {
	engine *Engine
	store  *store.MemoryStore
	clock  *timer.Manual
	locker *lock.LocalLock
}

func newFixture(t *testing.T, participants []string, prizes []model.Prize) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := timer.NewManual(time.Date(2024, 12, 20, 19, 0, 0, 0, time.UTC))
	s := store.NewMemoryStore()
	s.SetClock(clock.Now)

	for _, name := range participants {
		_, err := s.Add(ctx, model.CollectionParticipants, store.Fields{"name": name})
		require.NoError(t, err)
	}
	for _, p := range prizes {
		fields, err := store.ToFields(p)
		require.NoError(t, err)
		require.NoError(t, s.Set(ctx, model.CollectionPrizes, p.ID, fields, false))
	}

	locker := lock.NewLocalLock(clock)
	tickets := ticket.NewTicketService(ticket.NewMemoryStore(), clock, time.Minute)
	e := NewEngine(s, random.NewCryptoSelector(), tickets, clock, locker, Options{RollDuration: roll})
	return &fixture{engine: e, store: s, clock: clock, locker: locker}
}

func (f *fixture) drawPending(t *testing.T) *Pending {
	t.Helper()
	require.NoError(t, f.engine.Spin(context.Background()))
	assert.Equal(t, PhaseSpinning, f.engine.State().Phase)
	f.clock.Advance(roll)
	st := f.engine.State()
	require.Equal(t, PhasePending, st.Phase, st.LastError)
	return st.Pending
}

func (f *fixture) prize(t *testing.T, id string) model.Prize {
	t.Helper()
	p, err := store.Load[model.Prize](context.Background(), f.store, model.CollectionPrizes, id)
	require.NoError(t, err)
	return *p
}

func (f *fixture) winners(t *testing.T) []model.DoorprizeWinnerRecord {
	t.Helper()
	w, err := store.List[model.DoorprizeWinnerRecord](context.Background(), f.store, model.CollectionDoorprizeWinners)
	require.NoError(t, err)
	return w
}

func TestSingleMugDraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"Ann", "Bob", "Cara"}, []model.Prize{{ID: "p1", Name: "Mug", Stock: 1}})

	pending := f.drawPending(t)
	assert.Equal(t, "p1", pending.Prize.ID)

	rec, err := f.engine.Confirm(ctx, pending.Ticket)
	require.NoError(t, err)
	assert.Equal(t, "Mug", rec.PrizeName)
	assert.Equal(t, PhaseIdle, f.engine.State().Phase)

	winners := f.winners(t)
	require.Len(t, winners, 1)
	assert.Equal(t, "Mug", winners[0].PrizeName)
	assert.Equal(t, pending.Participant.Name, winners[0].ParticipantName)
	assert.True(t, f.clock.Now().Equal(winners[0].WonAt))
	assert.Equal(t, 0, f.prize(t, "p1").Stock)

	err = f.engine.Spin(ctx)
	assert.True(t, errors.Is(err, ErrNoStock))
	assert.Equal(t, PhaseIdle, f.engine.State().Phase)
}

func TestNoRepeatWinners(t *testing.T) {
	ctx := context.Background()
	names := []string{"Ann", "Bob", "Cara", "Dan", "Eve"}
	f := newFixture(t, names, []model.Prize{{ID: "p1", Name: "Mug", Stock: 10}})

	for range names {
		pending := f.drawPending(t)
		_, err := f.engine.Confirm(ctx, pending.Ticket)
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	for _, w := range f.winners(t) {
		assert.False(t, seen[w.ParticipantName], "重复中奖: %s", w.ParticipantName)
		seen[w.ParticipantName] = true
	}
	assert.Len(t, seen, len(names))

	assert.True(t, errors.Is(f.engine.Spin(ctx), ErrNoEligibleParticipants))
	assert.Equal(t, 5, f.prize(t, "p1").Stock)
}

func TestStockNeverNegative(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		[]string{"a", "b", "c", "d", "e", "f", "g", "h"},
		[]model.Prize{{ID: "A", Name: "Speaker", Stock: 2}, {ID: "B", Name: "Phone", Stock: 1}, {ID: "C", Name: "Voucher", Stock: 0}},
	)

	for i := 0; i < 3; i++ {
		pending := f.drawPending(t)
		assert.NotEqual(t, "C", pending.Prize.ID)
		assert.Greater(t, f.prize(t, pending.Prize.ID).Stock, 0)
		_, err := f.engine.Confirm(ctx, pending.Ticket)
		require.NoError(t, err)
	}

	for _, id := range []string{"A", "B", "C"} {
		assert.Equal(t, 0, f.prize(t, id).Stock, id)
	}
	assert.True(t, errors.Is(f.engine.Spin(ctx), ErrNoStock))
}

func TestRetryDiscardsPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"Ann", "Bob"}, []model.Prize{{ID: "p1", Name: "Mug", Stock: 1}})

	pending := f.drawPending(t)
	f.engine.Retry(ctx)

	assert.Equal(t, PhaseIdle, f.engine.State().Phase)
	assert.Empty(t, f.winners(t))
	assert.Equal(t, 1, f.prize(t, "p1").Stock)

	_, err := f.engine.Confirm(ctx, pending.Ticket)
	assert.True(t, errors.Is(err, ErrNotPending))

	// 放弃后可以重新抽奖，旧票据不能用于新结果
	again := f.drawPending(t)
	_, err = f.engine.Confirm(ctx, pending.Ticket)
	assert.True(t, errors.Is(err, ErrStaleTicket))
	_, err = f.engine.Confirm(ctx, again.Ticket)
	require.NoError(t, err)
}

func TestRetryWhileSpinningCancelsTimer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"Ann"}, []model.Prize{{ID: "p1", Name: "Mug", Stock: 1}})

	require.NoError(t, f.engine.Spin(ctx))
	f.engine.Retry(ctx)
	assert.Equal(t, 0, f.clock.Pending())

	f.clock.Advance(roll)
	st := f.engine.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Nil(t, st.Pending)
}

func TestSpinIsNotReentrant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"Ann", "Bob"}, []model.Prize{{ID: "p1", Name: "Mug", Stock: 2}})

	require.NoError(t, f.engine.Spin(ctx))
	assert.True(t, errors.Is(f.engine.Spin(ctx), ErrDrawInProgress))

	f.clock.Advance(roll)
	assert.True(t, errors.Is(f.engine.Spin(ctx), ErrDrawInProgress))
}

func TestSecondConsoleBlockedByLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"Ann", "Bob"}, []model.Prize{{ID: "p1", Name: "Mug", Stock: 2}})
	tickets := ticket.NewTicketService(ticket.NewMemoryStore(), f.clock, time.Minute)
	other := NewEngine(f.store, random.NewCryptoSelector(), tickets, f.clock, f.locker, Options{RollDuration: roll})

	pending := f.drawPending(t)
	assert.True(t, errors.Is(other.Spin(ctx), ErrDrawInProgress))

	_, err := f.engine.Confirm(ctx, pending.Ticket)
	require.NoError(t, err)
	assert.NoError(t, other.Spin(ctx))
}

func TestConfirmFailureKeepsPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"Ann", "Bob"}, []model.Prize{{ID: "p1", Name: "Mug", Stock: 1}})

	pending := f.drawPending(t)

	f.store.FaultHook = func(i int, op store.Op) error {
		if op.Kind == store.OpAdd {
			return errors.New("network down")
		}
		return nil
	}
	_, err := f.engine.Confirm(ctx, pending.Ticket)
	require.Error(t, err)

	st := f.engine.State()
	require.Equal(t, PhasePending, st.Phase)
	assert.Equal(t, pending.Participant, st.Pending.Participant)
	assert.NotEqual(t, pending.Ticket.Version, st.Pending.Ticket.Version)
	assert.Equal(t, 1, f.prize(t, "p1").Stock)
	assert.Empty(t, f.winners(t))

	f.store.FaultHook = nil
	_, err = f.engine.Confirm(ctx, pending.Ticket)
	assert.True(t, errors.Is(err, ErrStaleTicket))

	rec, err := f.engine.Confirm(ctx, st.Pending.Ticket)
	require.NoError(t, err)
	assert.Equal(t, pending.Participant.Name, rec.ParticipantName)
	assert.Equal(t, 0, f.prize(t, "p1").Stock)
}

func TestConfirmRevalidatesStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"Ann", "Bob"}, []model.Prize{{ID: "p1", Name: "Mug", Stock: 1}})

	pending := f.drawPending(t)
	require.NoError(t, f.store.Update(ctx, model.CollectionPrizes, "p1", store.Fields{"stock": 0}))

	_, err := f.engine.Confirm(ctx, pending.Ticket)
	assert.True(t, errors.Is(err, ErrPrizeExhausted))
	assert.Equal(t, PhasePending, f.engine.State().Phase)
	assert.Equal(t, 0, f.prize(t, "p1").Stock)
	assert.Empty(t, f.winners(t))
}

func TestPoolEmptiedDuringSpin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"Ann"}, []model.Prize{{ID: "p1", Name: "Mug", Stock: 1}})

	require.NoError(t, f.engine.Spin(ctx))
	require.NoError(t, f.store.Update(ctx, model.CollectionPrizes, "p1", store.Fields{"stock": 0}))
	f.clock.Advance(roll)

	st := f.engine.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Nil(t, st.Pending)
	assert.Equal(t, ErrNoStock.Error(), st.LastError)

	// 锁已释放，再次抽奖得到明确的前置条件错误
	assert.True(t, errors.Is(f.engine.Spin(ctx), ErrNoStock))
}

func TestReplayedTicketRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"Ann", "Bob"}, []model.Prize{{ID: "p1", Name: "Mug", Stock: 2}})

	pending := f.drawPending(t)
	_, err := f.engine.Confirm(ctx, pending.Ticket)
	require.NoError(t, err)

	_, err = f.engine.Confirm(ctx, pending.Ticket)
	assert.True(t, errors.Is(err, ErrNotPending))
	assert.Len(t, f.winners(t), 1)
	assert.Equal(t, 1, f.prize(t, "p1").Stock)
}

func TestListenerReceivesPhases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"Ann"}, []model.Prize{{ID: "p1", Name: "Mug", Stock: 1}})

	var phases []Phase
	f.engine.OnChange(func(s State) { phases = append(phases, s.Phase) })

	pending := f.drawPending(t)
	_, err := f.engine.Confirm(ctx, pending.Ticket)
	require.NoError(t, err)

	assert.Equal(t, []Phase{PhaseSpinning, PhasePending, PhaseIdle}, phases)
}

func TestConfirmAfterTicketExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"Ann", "Bob"}, []model.Prize{{ID: "p1", Name: "Mug", Stock: 1}})

	pending := f.drawPending(t)
	f.clock.Advance(2 * time.Minute)

	_, err := f.engine.Confirm(ctx, pending.Ticket)
	assert.True(t, errors.Is(err, ErrTicketReissued))
	assert.True(t, errors.Is(err, ticket.ErrTicketExpired))

	st := f.engine.State()
	require.Equal(t, PhasePending, st.Phase)
	assert.Equal(t, pending.Participant, st.Pending.Participant)
	assert.Equal(t, pending.Prize, st.Pending.Prize)
	assert.NotEqual(t, pending.Ticket.Version, st.Pending.Ticket.Version)
	assert.Empty(t, f.winners(t))
	assert.Equal(t, 1, f.prize(t, "p1").Stock)

	rec, err := f.engine.Confirm(ctx, st.Pending.Ticket)
	require.NoError(t, err)
	assert.Equal(t, pending.Participant.Name, rec.ParticipantName)
	assert.Equal(t, 0, f.prize(t, "p1").Stock)
}

func TestPendingDrawKeepsLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"Ann"}, []model.Prize{{ID: "p1", Name: "Mug", Stock: 2}})
	tickets := ticket.NewTicketService(ticket.NewMemoryStore(), f.clock, time.Minute)
	other := NewEngine(f.store, random.NewCryptoSelector(), tickets, f.clock, f.locker.Holder(), Options{RollDuration: roll})

	pending := f.drawPending(t)
	f.clock.Advance(6 * time.Minute)
	assert.True(t, errors.Is(other.Spin(ctx), ErrDrawInProgress))

	_, err := f.engine.Confirm(ctx, pending.Ticket)
	require.True(t, errors.Is(err, ErrTicketReissued))
	rec, err := f.engine.Confirm(ctx, f.engine.State().Pending.Ticket)
	require.NoError(t, err)
	assert.Equal(t, "Ann", rec.ParticipantName)

	assert.True(t, errors.Is(other.Spin(ctx), ErrNoEligibleParticipants))
	assert.Len(t, f.winners(t), 1)
	assert.Equal(t, 1, f.prize(t, "p1").Stock)
}

func TestConfirmRejectsParticipantWhoAlreadyWon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"Ann"}, []model.Prize{{ID: "p1", Name: "Mug", Stock: 2}})
	newEngine := func() *Engine {
		tickets := ticket.NewTicketService(ticket.NewMemoryStore(), f.clock, time.Minute)
		return NewEngine(f.store, random.NewCryptoSelector(), tickets, f.clock, nil, Options{RollDuration: roll})
	}
	a, b := newEngine(), newEngine()

	require.NoError(t, a.Spin(ctx))
	require.NoError(t, b.Spin(ctx))
	f.clock.Advance(roll)
	pa, pb := a.State().Pending, b.State().Pending
	require.NotNil(t, pa)
	require.NotNil(t, pb)
	assert.Equal(t, "Ann", pb.Participant.Name)

	_, err := a.Confirm(ctx, pa.Ticket)
	require.NoError(t, err)

	_, err = b.Confirm(ctx, pb.Ticket)
	assert.True(t, errors.Is(err, ErrDrawStale))
	st := b.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Nil(t, st.Pending)
	assert.Equal(t, ErrDrawStale.Error(), st.LastError)

	assert.Len(t, f.winners(t), 1)
	assert.Equal(t, 1, f.prize(t, "p1").Stock)
}

func TestConfirmReacquiresLostLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"Ann", "Bob"}, []model.Prize{{ID: "p1", Name: "Mug", Stock: 1}})

	pending := f.drawPending(t)
	f.locker.ReleaseAllLocks()
	intruder := f.locker.Holder()
	ok, err := intruder.AcquireLock(lock.DoorprizeDrawLockName, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.engine.Confirm(ctx, pending.Ticket)
	assert.True(t, errors.Is(err, ErrLockLost))
	assert.Equal(t, PhasePending, f.engine.State().Phase)
	assert.Empty(t, f.winners(t))

	require.NoError(t, intruder.ReleaseLock(lock.DoorprizeDrawLockName))
	_, err = f.engine.Confirm(ctx, pending.Ticket)
	require.NoError(t, err)
	assert.Len(t, f.winners(t), 1)

	// 确认后锁已释放
	ok, err = intruder.AcquireLock(lock.DoorprizeDrawLockName, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

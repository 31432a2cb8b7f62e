package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lvdashuaibi/luckydraw/internal/award"
	"github.com/lvdashuaibi/luckydraw/internal/feed"
	"github.com/lvdashuaibi/luckydraw/internal/gate"
	"github.com/lvdashuaibi/luckydraw/internal/lock"
	"github.com/lvdashuaibi/luckydraw/internal/model"
	"github.com/lvdashuaibi/luckydraw/internal/ratelimit"
	"github.com/lvdashuaibi/luckydraw/internal/store"
	"github.com/lvdashuaibi/luckydraw/internal/ticket"
	"github.com/lvdashuaibi/luckydraw/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fixture struct {
	svc   *EventService
	store store.Store
	hub   *feed.Hub
	sched *timer.Manual
}

func newFixture(t *testing.T) *fixture {
	sched := timer.NewManual(time.Date(2024, 12, 20, 19, 0, 0, 0, time.UTC))
	mem := store.NewMemoryStore()
	mem.SetClock(sched.Now)
	hub := feed.NewHub(mem)
	s := store.Observe(mem, hub)

	svc := NewEventService(Dependencies{
		Store:      s,
		Hub:        hub,
		Scheduler:  sched,
		Tickets:    ticket.NewMemoryStore(),
		RateLimits: ratelimit.NewMemoryStateStore(),
		AuthCache:  gate.NewMemoryAuthCache(),
		Locker:     lock.NewLocalLock(sched),
	}, Options{})
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(svc.Dispose)

	return &fixture{svc: svc, store: s, hub: hub, sched: sched}
}

type statusRecorder struct {
	mu     sync.Mutex
	phases []string
}

func (r *statusRecorder) handle(m feed.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := m.Data.(DrawStatus); ok {
		r.phases = append(r.phases, st.Phase)
	}
}

func TestDrawFlowThroughService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec := &statusRecorder{}
	_, err := f.hub.Subscribe(ctx, feed.TopicDoorprizeState, rec.handle)
	require.NoError(t, err)

	_, err = f.svc.AddParticipant(ctx, "Ann")
	require.NoError(t, err)
	prizeID, err := f.svc.SavePrize(ctx, model.Prize{Name: "Mug", Stock: 1})
	require.NoError(t, err)
	require.NoError(t, f.svc.UpdateAppConfig(ctx, model.AppConfig{DoorprizeStatus: model.StatusOpen}))

	outcome, err := f.svc.Gate.RequestAccess(ctx, gate.TargetDoorprize, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, gate.Granted, outcome.Decision)
	assert.False(t, outcome.ReadOnly)

	require.NoError(t, f.svc.Draw.Spin(ctx))
	f.sched.Advance(3 * time.Second)

	st := NewDrawStatus(f.svc.Draw.State())
	require.Equal(t, "PENDING_CONFIRMATION", st.Phase)
	require.NotNil(t, st.Ticket)
	assert.Equal(t, "Ann", st.Participant.Name)

	winner, err := f.svc.Draw.Confirm(ctx, *st.Ticket)
	require.NoError(t, err)
	assert.Equal(t, "Mug", winner.PrizeName)

	prizes, err := f.svc.ListPrizes(ctx)
	require.NoError(t, err)
	require.Len(t, prizes, 1)
	assert.Equal(t, prizeID, prizes[0].ID)
	assert.Equal(t, 0, prizes[0].Stock)

	complete, err := f.svc.IsComplete(ctx, gate.TargetDoorprize)
	require.NoError(t, err)
	assert.True(t, complete)
	outcome, err = f.svc.Gate.RequestAccess(ctx, gate.TargetDoorprize, "dev-2")
	require.NoError(t, err)
	assert.True(t, outcome.ReadOnly)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"IDLE", "SPINNING", "PENDING_CONFIRMATION", "IDLE"}, rec.phases)
}

func TestAppConfigDefaultsClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cfg, err := f.svc.AppConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusClosed, cfg.DoorprizeStatus)
	assert.Equal(t, model.StatusClosed, cfg.AwardStatus)

	outcome, err := f.svc.Gate.RequestAccess(ctx, gate.TargetAward, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, gate.Denied, outcome.Decision)
}

func TestValidationRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.SavePrize(ctx, model.Prize{Name: "Mug", Stock: -1})
	assert.True(t, errors.Is(err, ErrInvalidInput))
	_, err = f.svc.SavePrize(ctx, model.Prize{Name: "  ", Stock: 1})
	assert.True(t, errors.Is(err, ErrInvalidInput))
	_, err = f.svc.SaveSlot(ctx, model.AwardWinnerSlot{Category: "Top Spender", Rank: 0})
	assert.True(t, errors.Is(err, ErrInvalidInput))
	err = f.svc.UpdateAppConfig(ctx, model.AppConfig{DoorprizeStatus: "maybe"})
	assert.True(t, errors.Is(err, ErrInvalidInput))
	err = f.svc.UpdateAppConfig(ctx, model.AppConfig{DoorprizePasscode: "ab-12"})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = f.svc.AddParticipant(ctx, "Ann")
	require.NoError(t, err)
	_, err = f.svc.AddParticipant(ctx, " ann ")
	assert.True(t, errors.Is(err, ErrDuplicateParticipant))
}

func TestImportParticipantsCSV(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.AddParticipant(ctx, "Ann")
	require.NoError(t, err)

	csv := "name\nBob\n ann \n\nCara\nbob\n"
	added, err := f.svc.ImportParticipantsCSV(ctx, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	participants, err := f.svc.ListParticipants(ctx)
	require.NoError(t, err)
	var names []string
	for _, p := range participants {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"Ann", "Bob", "Cara"}, names)
}

func TestExportWinnersXLSX(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.store.Add(ctx, model.CollectionDoorprizeWinners, store.Fields{
		"participantName": "Ann", "prizeName": "Mug", "wonAt": store.ServerTimestamp,
	})
	require.NoError(t, err)
	_, err = f.store.Add(ctx, model.CollectionAwardHistory, store.Fields{
		"name": "Cara", "company": "Acme", "category": "Top Spender", "rank": 1, "eventLabel": "Gala",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.svc.ExportWinnersXLSX(ctx, &buf))

	book, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer book.Close()
	assert.Equal(t, []string{SheetDoorprizeWinners, SheetAwardHistory}, book.GetSheetList())

	rows, err := book.GetRows(SheetDoorprizeWinners)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Ann", "Mug", "2024-12-20T19:00:00Z"}, rows[1])

	rows, err = book.GetRows(SheetAwardHistory)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Cara", rows[1][3])
	assert.Equal(t, "1", rows[1][2])
}

func TestAssignCandidateIsAdvisory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	n1, err := f.svc.SaveNominee(ctx, model.AwardNominee{Name: "Cara", Company: "Acme"})
	require.NoError(t, err)
	n2, err := f.svc.SaveNominee(ctx, model.AwardNominee{Name: "Dan", Company: "Initech"})
	require.NoError(t, err)
	s1, err := f.svc.SaveSlot(ctx, model.AwardWinnerSlot{Category: "Top Spender", Rank: 1, EventLabel: "Gala"})
	require.NoError(t, err)
	s2, err := f.svc.SaveSlot(ctx, model.AwardWinnerSlot{Category: "Top Spender", Rank: 2, EventLabel: "Gala"})
	require.NoError(t, err)

	require.NoError(t, f.svc.AssignCandidate(ctx, s1, n1))
	available, err := f.svc.AvailableCandidates(ctx, s2)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, n2, available[0].ID)

	// 重复占用仍然写入
	require.NoError(t, f.svc.AssignCandidate(ctx, s2, n1))
	merged, err := f.svc.MergedAwardWinners(ctx)
	require.NoError(t, err)
	assert.Len(t, merged, 2)

	err = f.svc.AssignCandidate(ctx, "missing", n2)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestArchiveSessionResetsEngines(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	n1, err := f.svc.SaveNominee(ctx, model.AwardNominee{Name: "Cara"})
	require.NoError(t, err)
	_, err = f.svc.SaveSlot(ctx, model.AwardWinnerSlot{Category: "Top Spender", Rank: 1, EventLabel: "Gala", CandidateID: n1})
	require.NoError(t, err)
	require.NoError(t, f.svc.Awards.Init(ctx))
	assert.Equal(t, award.PhaseNominations, f.svc.Awards.View().Phase)

	_, err = f.svc.AddParticipant(ctx, "Ann")
	require.NoError(t, err)

	id, err := f.svc.ArchiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, award.PhaseIdle, f.svc.Awards.View().Phase)
	assert.Nil(t, f.svc.Draw.State().LastWinner)

	archives, err := f.svc.Archiver.ListArchives(ctx)
	require.NoError(t, err)
	require.Len(t, archives, 1)
	assert.Equal(t, id, archives[0].ID)
	assert.Len(t, archives[0].SessionData.Participants, 1)

	complete, err := f.svc.IsComplete(ctx, gate.TargetAward)
	require.NoError(t, err)
	assert.False(t, complete)
}

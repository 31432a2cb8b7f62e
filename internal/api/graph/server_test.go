package graph

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/lvdashuaibi/luckydraw/internal/gate"
	"github.com/lvdashuaibi/luckydraw/internal/lock"
	"github.com/lvdashuaibi/luckydraw/internal/ratelimit"
	"github.com/lvdashuaibi/luckydraw/internal/service"
	"github.com/lvdashuaibi/luckydraw/internal/store"
	"github.com/lvdashuaibi/luckydraw/internal/ticket"
	"github.com/lvdashuaibi/luckydraw/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*GraphQLServer, *timer.Manual) {
	sched := timer.NewManual(time.Date(2024, 12, 20, 19, 0, 0, 0, time.UTC))
	mem := store.NewMemoryStore()
	mem.SetClock(sched.Now)

	svc := service.NewEventService(service.Dependencies{
		Store:      mem,
		Scheduler:  sched,
		Tickets:    ticket.NewMemoryStore(),
		RateLimits: ratelimit.NewMemoryStateStore(),
		AuthCache:  gate.NewMemoryAuthCache(),
		Locker:     lock.NewLocalLock(sched),
	}, service.Options{})
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(svc.Dispose)

	return NewGraphQLServer(svc), sched
}

func exec(t *testing.T, s *GraphQLServer, ctx context.Context, query string, vars map[string]interface{}, out interface{}) []string {
	resp := s.Schema().Exec(ctx, query, "", vars)
	var msgs []string
	for _, e := range resp.Errors {
		msgs = append(msgs, e.Message)
	}
	if out != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, out))
	}
	return msgs
}

func TestAdminMutationsAndQueries(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	errs := exec(t, s, ctx, `mutation { addParticipant(name: "Ann") }`, nil, nil)
	require.Empty(t, errs)
	errs = exec(t, s, ctx, `mutation { savePrize(input: {name: "Mug", stock: 2, price: 9.5}) }`, nil, nil)
	require.Empty(t, errs)

	var data struct {
		Participants []struct{ Name string }
		Prizes       []struct {
			Name     string
			Stock    int
			Price    *float64
			ImageRef *string
		}
	}
	errs = exec(t, s, ctx, `{ participants { name } prizes { name stock price imageRef } }`, nil, &data)
	require.Empty(t, errs)
	require.Len(t, data.Participants, 1)
	assert.Equal(t, "Ann", data.Participants[0].Name)
	require.Len(t, data.Prizes, 1)
	assert.Equal(t, 2, data.Prizes[0].Stock)
	require.NotNil(t, data.Prizes[0].Price)
	assert.Equal(t, 9.5, *data.Prizes[0].Price)
	assert.Nil(t, data.Prizes[0].ImageRef)

	errs = exec(t, s, ctx, `mutation { savePrize(input: {name: "Cup", stock: -1}) }`, nil, nil)
	assert.NotEmpty(t, errs)
}

func TestDrawThroughGraphQL(t *testing.T) {
	s, sched := newTestServer(t)
	ctx := context.Background()

	require.Empty(t, exec(t, s, ctx, `mutation { addParticipant(name: "Ann") }`, nil, nil))
	require.Empty(t, exec(t, s, ctx, `mutation { savePrize(input: {name: "Mug", stock: 1}) }`, nil, nil))

	var spun struct{ Spin struct{ Phase string } }
	require.Empty(t, exec(t, s, ctx, `mutation { spin { phase } }`, nil, &spun))
	assert.Equal(t, "SPINNING", spun.Spin.Phase)

	errs := exec(t, s, ctx, `mutation { spin { phase } }`, nil, nil)
	assert.NotEmpty(t, errs)

	sched.Advance(3 * time.Second)

	var state struct {
		DrawState struct {
			Phase       string
			Participant struct{ Name string }
			Ticket      struct{ Value, Version string }
		}
	}
	require.Empty(t, exec(t, s, ctx, `{ drawState { phase participant { name } ticket { value version } } }`, nil, &state))
	assert.Equal(t, "PENDING_CONFIRMATION", state.DrawState.Phase)
	assert.Equal(t, "Ann", state.DrawState.Participant.Name)

	var confirmed struct {
		ConfirmDraw struct{ ParticipantName, PrizeName, WonAt string }
	}
	vars := map[string]interface{}{"t": map[string]interface{}{
		"value":   state.DrawState.Ticket.Value,
		"version": state.DrawState.Ticket.Version,
	}}
	require.Empty(t, exec(t, s, ctx, `mutation($t: TicketInput!) { confirmDraw(ticket: $t) { participantName prizeName wonAt } }`, vars, &confirmed))
	assert.Equal(t, "Mug", confirmed.ConfirmDraw.PrizeName)
	assert.Equal(t, "2024-12-20T19:00:03Z", confirmed.ConfirmDraw.WonAt)

	// 同一票据不能再次确认
	errs = exec(t, s, ctx, `mutation($t: TicketInput!) { confirmDraw(ticket: $t) { prizeName } }`, vars, nil)
	assert.NotEmpty(t, errs)
}

func TestAccessRequiresDevice(t *testing.T) {
	s, _ := newTestServer(t)

	errs := exec(t, s, context.Background(), `{ requestAccess(target: "doorprize") { decision } }`, nil, nil)
	assert.NotEmpty(t, errs)

	ctx := WithDevice(context.Background(), "dev-1")
	require.Empty(t, exec(t, s, ctx, `mutation { updateAppConfig(input: {doorprizeStatus: "open", doorprizePasscode: "abc123"}) { hasDoorprizePasscode } }`, nil, nil))

	var access struct {
		RequestAccess struct{ Decision string }
	}
	require.Empty(t, exec(t, s, ctx, `{ requestAccess(target: "doorprize") { decision } }`, nil, &access))
	assert.Equal(t, "PROMPT_PASSCODE", access.RequestAccess.Decision)

	var submitted struct {
		SubmitPasscode struct {
			Decision       string
			FailedAttempts int
			Message        string
		}
	}
	require.Empty(t, exec(t, s, ctx, `mutation { submitPasscode(target: "doorprize", passcode: "nope") { decision failedAttempts message } }`, nil, &submitted))
	assert.Equal(t, "PROMPT_PASSCODE", submitted.SubmitPasscode.Decision)
	assert.Equal(t, 1, submitted.SubmitPasscode.FailedAttempts)

	require.Empty(t, exec(t, s, ctx, `mutation { submitPasscode(target: "doorprize", passcode: "abc123") { decision } }`, nil, &submitted))
	assert.Equal(t, "GRANTED", submitted.SubmitPasscode.Decision)

	require.Empty(t, exec(t, s, ctx, `{ requestAccess(target: "doorprize") { decision } }`, nil, &access))
	assert.Equal(t, "GRANTED", access.RequestAccess.Decision)

	errs = exec(t, s, ctx, `{ requestAccess(target: "lobby") { decision } }`, nil, nil)
	assert.NotEmpty(t, errs)
}

func TestPlaygroundHTML(t *testing.T) {
	html := string(PlaygroundHTML("/graphql"))
	assert.Contains(t, html, "endpoint: '/graphql'")
}

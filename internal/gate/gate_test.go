package gate

import (
	"context"
	"testing"
	"time"

	"github.com/lvdashuaibi/luckydraw/internal/model"
	"github.com/lvdashuaibi/luckydraw/internal/ratelimit"
	"github.com/lvdashuaibi/luckydraw/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type staticConfig struct{ cfg model.AppConfig }

func (s *staticConfig) AppConfig(ctx context.Context) (*model.AppConfig, error) {
	c := s.cfg
	return &c, nil
}

type staticCompletion map[Target]bool

func (s staticCompletion) IsComplete(ctx context.Context, target Target) (bool, error) {
	return s[target], nil
}

func newGate(cfg model.AppConfig, complete staticCompletion) (*Gate, *staticConfig, *timer.Manual) {
	clock := timer.NewManual(time.Date(2024, 12, 20, 19, 0, 0, 0, time.UTC))
	limiter := ratelimit.New(ratelimit.NewMemoryStateStore(), clock, ratelimit.Options{})
	src := &staticConfig{cfg: cfg}
	return New(src, complete, NewMemoryAuthCache(), limiter, bcrypt.MinCost), src, clock
}

func openConfig() model.AppConfig {
	return model.AppConfig{
		DoorprizeStatus:   model.StatusOpen,
		AwardStatus:       model.StatusOpen,
		DoorprizePasscode: "123456",
		AwardPasscode:     "654321",
	}
}

func TestLockoutThenCorrectPasscode(t *testing.T) {
	ctx := context.Background()
	g, _, clock := newGate(openConfig(), staticCompletion{})

	out, err := g.RequestAccess(ctx, TargetDoorprize, "dev")
	require.NoError(t, err)
	assert.Equal(t, PromptPasscode, out.Decision)

	for i := 1; i <= 5; i++ {
		out, err = g.SubmitPasscode(ctx, TargetDoorprize, "dev", "000000")
		require.NoError(t, err)
		assert.Equal(t, PromptPasscode, out.Decision)
		assert.Equal(t, i, out.FailedAttempts)
	}
	assert.True(t, out.Locked)
	assert.Equal(t, 30, out.RemainingSeconds)

	out, err = g.SubmitPasscode(ctx, TargetDoorprize, "dev", "123456")
	require.NoError(t, err)
	assert.Equal(t, PromptPasscode, out.Decision)
	assert.True(t, out.Locked)

	clock.Advance(30 * time.Second)

	out, err = g.SubmitPasscode(ctx, TargetDoorprize, "dev", "123456")
	require.NoError(t, err)
	assert.Equal(t, Granted, out.Decision)

	out, err = g.RequestAccess(ctx, TargetDoorprize, "dev")
	require.NoError(t, err)
	assert.Equal(t, Granted, out.Decision)
}

func TestWrongPasscodeMessage(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newGate(openConfig(), staticCompletion{})

	out, err := g.SubmitPasscode(ctx, TargetAward, "dev", "111111")
	require.NoError(t, err)
	assert.Equal(t, "口令错误，第 1/5 次", out.Message)
	assert.False(t, out.Locked)
}

func TestSanitizedInputMatches(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newGate(openConfig(), staticCompletion{})

	out, err := g.SubmitPasscode(ctx, TargetDoorprize, "dev", " 12-34 56\n")
	require.NoError(t, err)
	assert.Equal(t, Granted, out.Decision)
	assert.Equal(t, "abc123", Sanitize("a-b c!1２23"))
}

func TestRequestAccessOrder(t *testing.T) {
	ctx := context.Background()

	closed := openConfig()
	closed.DoorprizeStatus = model.StatusClosed

	g, _, _ := newGate(closed, staticCompletion{TargetDoorprize: true})
	out, err := g.RequestAccess(ctx, TargetDoorprize, "dev")
	require.NoError(t, err)
	assert.Equal(t, Granted, out.Decision)
	assert.True(t, out.ReadOnly)

	g, _, _ = newGate(closed, staticCompletion{})
	out, err = g.RequestAccess(ctx, TargetDoorprize, "dev")
	require.NoError(t, err)
	assert.Equal(t, Denied, out.Decision)
	assert.Equal(t, ReasonClosed, out.Reason)

	out, err = g.SubmitPasscode(ctx, TargetDoorprize, "dev", "123456")
	require.NoError(t, err)
	assert.Equal(t, Denied, out.Decision)
}

func TestAuthorizationInvalidatedByPasscodeChange(t *testing.T) {
	ctx := context.Background()
	g, src, _ := newGate(openConfig(), staticCompletion{})

	out, err := g.SubmitPasscode(ctx, TargetAward, "dev", "654321")
	require.NoError(t, err)
	require.Equal(t, Granted, out.Decision)

	out, err = g.RequestAccess(ctx, TargetAward, "other-dev")
	require.NoError(t, err)
	assert.Equal(t, PromptPasscode, out.Decision)

	src.cfg.AwardPasscode = "999999"
	out, err = g.RequestAccess(ctx, TargetAward, "dev")
	require.NoError(t, err)
	assert.Equal(t, PromptPasscode, out.Decision)
}

func TestEmptyPasscodeGrants(t *testing.T) {
	ctx := context.Background()
	cfg := openConfig()
	cfg.DoorprizePasscode = ""
	g, _, _ := newGate(cfg, staticCompletion{})

	out, err := g.RequestAccess(ctx, TargetDoorprize, "dev")
	require.NoError(t, err)
	assert.Equal(t, Granted, out.Decision)
}

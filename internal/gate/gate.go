package gate

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/lvdashuaibi/luckydraw/internal/model"
	"github.com/lvdashuaibi/luckydraw/internal/ratelimit"
	"github.com/phuslu/log"
	"golang.org/x/crypto/bcrypt"
)

// Target 受保护的页面
type Target string

const (
	TargetDoorprize Target = "doorprize"
	TargetAward     Target = "award"
)

var ErrUnknownTarget = errors.New("未知的入口")

func ParseTarget(s string) (Target, error) {
	switch Target(strings.ToLower(s)) {
	case TargetDoorprize:
		return TargetDoorprize, nil
	case TargetAward:
		return TargetAward, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownTarget, s)
	}
}

type Decision int

const (
	Granted Decision = iota
	PromptPasscode
	Denied
)

func (d Decision) String() string {
	switch d {
	case Granted:
		return "GRANTED"
	case PromptPasscode:
		return "PROMPT_PASSCODE"
	case Denied:
		return "DENIED"
	default:
		return "UNKNOWN"
	}
}

const ReasonClosed = "closed"

// Outcome 入口判定结果
type Outcome struct {
	Decision Decision
	// Reason 仅 Denied 时有值
	Reason string
	// ReadOnly 内容已全部完成，仅供回顾
	ReadOnly bool
	Message  string

	Locked           bool
	RemainingSeconds int
	FailedAttempts   int
	MaxAttempts      int
}

// ConfigSource 读取全局配置
type ConfigSource interface {
	AppConfig(ctx context.Context) (*model.AppConfig, error)
}

// CompletionChecker 判断奖品是否抽完或奖项是否全部揭晓
type CompletionChecker interface {
	IsComplete(ctx context.Context, target Target) (bool, error)
}

// AuthCache 保存设备已通过验证的口令哈希，口令修改后自动失效
type AuthCache interface {
	GetAuthorization(ctx context.Context, target, device string) (string, bool, error)
	SetAuthorization(ctx context.Context, target, device, hash string) error
}

type Gate struct {
	config     ConfigSource
	completion CompletionChecker
	auth       AuthCache
	limiter    *ratelimit.Limiter
	bcryptCost int
}

func New(config ConfigSource, completion CompletionChecker, auth AuthCache, limiter *ratelimit.Limiter, bcryptCost int) *Gate {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Gate{
		config:     config,
		completion: completion,
		auth:       auth,
		limiter:    limiter,
		bcryptCost: bcryptCost,
	}
}

// RequestAccess 依次检查：已完成、未开放、已授权
func (g *Gate) RequestAccess(ctx context.Context, target Target, device string) (Outcome, error) {
	outcome, cfg, err := g.precheck(ctx, target)
	if err != nil || cfg == nil {
		return outcome, err
	}

	passcode := configuredPasscode(cfg, target)
	if passcode == "" {
		return Outcome{Decision: Granted}, nil
	}

	hash, ok, err := g.auth.GetAuthorization(ctx, string(target), device)
	if err != nil {
		log.Warn().Err(err).Str("target", string(target)).Msg("读取授权缓存失败")
	} else if ok && bcrypt.CompareHashAndPassword([]byte(hash), []byte(passcode)) == nil {
		return Outcome{Decision: Granted}, nil
	}

	state, err := g.limiter.Tick(ctx, ratelimit.Key(string(target), device))
	if err != nil {
		return Outcome{}, err
	}
	return g.prompt(state, ""), nil
}

// SubmitPasscode 校验口令，错误次数过多时锁定
func (g *Gate) SubmitPasscode(ctx context.Context, target Target, device, input string) (Outcome, error) {
	outcome, cfg, err := g.precheck(ctx, target)
	if err != nil || cfg == nil {
		return outcome, err
	}

	key := ratelimit.Key(string(target), device)
	state, err := g.limiter.Tick(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	if !state.LockedUntil.IsZero() {
		return g.prompt(state, lockedMessage(state.Countdown)), nil
	}

	passcode := configuredPasscode(cfg, target)
	if subtle.ConstantTimeCompare([]byte(Sanitize(input)), []byte(passcode)) == 1 {
		if err := g.limiter.RecordSuccess(ctx, key); err != nil {
			return Outcome{}, err
		}
		if hash, err := bcrypt.GenerateFromPassword([]byte(passcode), g.bcryptCost); err != nil {
			log.Error().Err(err).Msg("生成口令哈希失败")
		} else if err := g.auth.SetAuthorization(ctx, string(target), device, string(hash)); err != nil {
			log.Warn().Err(err).Str("target", string(target)).Msg("写入授权缓存失败")
		}
		return Outcome{Decision: Granted, Message: "验证通过"}, nil
	}

	state, err = g.limiter.RecordFailure(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	if !state.LockedUntil.IsZero() {
		log.Warn().Str("target", string(target)).Str("device", device).Msg("口令错误次数过多，已锁定")
		return g.prompt(state, lockedMessage(state.Countdown)), nil
	}
	return g.prompt(state, fmt.Sprintf("口令错误，第 %d/%d 次", state.FailedAttempts, g.limiter.MaxAttempts())), nil
}

// precheck 返回 nil 配置表示已得出结论
func (g *Gate) precheck(ctx context.Context, target Target) (Outcome, *model.AppConfig, error) {
	complete, err := g.completion.IsComplete(ctx, target)
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("检查 %s 完成状态失败: %w", target, err)
	}
	if complete {
		return Outcome{Decision: Granted, ReadOnly: true}, nil, nil
	}

	cfg, err := g.config.AppConfig(ctx)
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("读取配置失败: %w", err)
	}
	if configuredStatus(cfg, target) != model.StatusOpen {
		return Outcome{Decision: Denied, Reason: ReasonClosed, Message: "尚未开放"}, nil, nil
	}
	return Outcome{}, cfg, nil
}

func (g *Gate) prompt(state ratelimit.State, message string) Outcome {
	return Outcome{
		Decision:         PromptPasscode,
		Message:          message,
		Locked:           !state.LockedUntil.IsZero(),
		RemainingSeconds: state.Countdown,
		FailedAttempts:   state.FailedAttempts,
		MaxAttempts:      g.limiter.MaxAttempts(),
	}
}

func lockedMessage(seconds int) string {
	return fmt.Sprintf("尝试次数过多，请 %d 秒后再试", seconds)
}

// Sanitize 只保留ASCII字母和数字
func Sanitize(input string) string {
	var b strings.Builder
	for _, r := range input {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func configuredPasscode(cfg *model.AppConfig, target Target) string {
	if target == TargetAward {
		return Sanitize(cfg.AwardPasscode)
	}
	return Sanitize(cfg.DoorprizePasscode)
}

func configuredStatus(cfg *model.AppConfig, target Target) model.SessionStatus {
	if target == TargetAward {
		return cfg.AwardStatus
	}
	return cfg.DoorprizeStatus
}

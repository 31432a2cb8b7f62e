package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/lvdashuaibi/luckydraw/config"
	"github.com/lvdashuaibi/luckydraw/internal/model"
	"github.com/lvdashuaibi/luckydraw/internal/ratelimit"
	"github.com/lvdashuaibi/luckydraw/internal/ticket"
	"github.com/phuslu/log"
)

const (
	// Redis键前缀
	TicketKey     = "luckydraw:ticket:"
	RateLimitKey  = "luckydraw:"
	AuthorizedKey = "luckydraw:authorized:"

	// 授权记录保留时间
	authorizationTTL = 24 * time.Hour

	// Lua脚本
	DecrementTicketUsageScript = `
		if redis.call('EXISTS', KEYS[1]) == 0 then
			return {-1, "not_found"}
		end

		local remaining = tonumber(redis.call('HGET', KEYS[1], 'remainingUsages'))
		if not remaining then
			return {-1, "corrupted"}
		end

		if remaining <= 0 then
			return {-1, "exhausted"}
		end

		remaining = remaining - 1
		redis.call('HSET', KEYS[1], 'remainingUsages', remaining)
		return {0, remaining}
	`
)

// RedisRepository 保存确认票据、限流状态与设备授权
type RedisRepository struct {
	client *redis.Client

	mu           sync.Mutex
	scriptHashes map[string]string // 存储脚本SHA1哈希值
}

func NewRedisRepository(cfg config.RedisConfig) (*RedisRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout+time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.DataAddress,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redis数据节点连接测试失败: %w", err)
	}

	repo := &RedisRepository{
		client:       client,
		scriptHashes: make(map[string]string),
	}

	if err := repo.preloadScripts(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("预加载Lua脚本失败: %w", err)
	}

	return repo, nil
}

// preloadScripts 预加载所有Lua脚本
func (r *RedisRepository) preloadScripts(ctx context.Context) error {
	sha1, err := r.client.ScriptLoad(ctx, DecrementTicketUsageScript).Result()
	if err != nil {
		return fmt.Errorf("加载票据使用次数脚本失败: %w", err)
	}
	r.mu.Lock()
	r.scriptHashes["decrementTicketUsage"] = sha1
	r.mu.Unlock()
	return nil
}

// CreateTicket 创建新票据，Redis过期时间与票据有效期一致
func (r *RedisRepository) CreateTicket(ctx context.Context, t *model.Ticket) error {
	key := TicketKey + t.Version
	data := map[string]interface{}{
		"value":           t.Value,
		"remainingUsages": t.RemainingUsages,
		"expiresAt":       t.ExpiresAt.Format(time.RFC3339Nano),
		"createdAt":       t.CreatedAt.Format(time.RFC3339Nano),
	}

	expires := time.Until(t.ExpiresAt)
	if expires <= 0 {
		expires = time.Second
	}

	pipe := r.client.Pipeline()
	pipe.HMSet(ctx, key, data)
	pipe.Expire(ctx, key, expires)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("创建票据失败: %w", err)
	}
	return nil
}

// GetTicket 获取票据
func (r *RedisRepository) GetTicket(ctx context.Context, version string) (*model.Ticket, error) {
	data, err := r.client.HGetAll(ctx, TicketKey+version).Result()
	if err != nil {
		return nil, fmt.Errorf("获取票据失败: %w", err)
	}
	if len(data) == 0 {
		return nil, ticket.ErrTicketNotFound
	}

	t := &model.Ticket{
		Version: version,
		Value:   data["value"],
	}

	if data["remainingUsages"] != "" {
		var remainingUsages int
		if _, err := fmt.Sscanf(data["remainingUsages"], "%d", &remainingUsages); err != nil {
			return nil, fmt.Errorf("解析票据剩余使用次数失败: %w", err)
		}
		t.RemainingUsages = remainingUsages
	}

	if data["expiresAt"] != "" {
		expiresAt, err := time.Parse(time.RFC3339Nano, data["expiresAt"])
		if err != nil {
			return nil, fmt.Errorf("解析票据过期时间失败: %w", err)
		}
		t.ExpiresAt = expiresAt
	}

	if data["createdAt"] != "" {
		createdAt, err := time.Parse(time.RFC3339Nano, data["createdAt"])
		if err != nil {
			return nil, fmt.Errorf("解析票据创建时间失败: %w", err)
		}
		t.CreatedAt = createdAt
	}

	return t, nil
}

// DecrementTicketUsage 使用预加载的Lua脚本减少票据的使用次数，保证原子性
func (r *RedisRepository) DecrementTicketUsage(ctx context.Context, version string) (int, error) {
	keys := []string{TicketKey + version}

	r.mu.Lock()
	sha1, ok := r.scriptHashes["decrementTicketUsage"]
	r.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("脚本未预加载")
	}

	result, err := r.client.EvalSha(ctx, sha1, keys).Result()
	if err != nil {
		// 脚本缓存被清空时重新加载
		if !strings.HasPrefix(err.Error(), "NOSCRIPT") {
			return 0, fmt.Errorf("执行票据使用次数脚本失败: %w", err)
		}
		if err := r.preloadScripts(ctx); err != nil {
			return 0, fmt.Errorf("重新加载票据使用次数脚本失败: %w", err)
		}
		r.mu.Lock()
		sha1 = r.scriptHashes["decrementTicketUsage"]
		r.mu.Unlock()
		result, err = r.client.EvalSha(ctx, sha1, keys).Result()
		if err != nil {
			return 0, fmt.Errorf("执行票据使用次数脚本失败: %w", err)
		}
	}

	return parseDecrementResult(result)
}

func parseDecrementResult(result interface{}) (int, error) {
	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) < 2 {
		return 0, fmt.Errorf("LUA脚本返回格式错误")
	}

	status, ok := resultSlice[0].(int64)
	if !ok {
		return 0, fmt.Errorf("LUA脚本返回状态码类型错误")
	}

	if status != 0 {
		reason, _ := resultSlice[1].(string)
		switch reason {
		case "not_found":
			return 0, ticket.ErrTicketNotFound
		case "exhausted":
			return 0, ticket.ErrTicketExhausted
		default:
			return 0, fmt.Errorf("票据数据损坏: %s", reason)
		}
	}

	remaining, ok := resultSlice[1].(int64)
	if !ok {
		return 0, fmt.Errorf("LUA脚本返回剩余次数类型错误")
	}
	return int(remaining), nil
}

// DeleteTicket 删除票据
func (r *RedisRepository) DeleteTicket(ctx context.Context, version string) error {
	if err := r.client.Del(ctx, TicketKey+version).Err(); err != nil {
		return fmt.Errorf("删除票据失败: %w", err)
	}
	return nil
}

// LoadState 读取限流状态，不存在时返回零值
func (r *RedisRepository) LoadState(ctx context.Context, key string) (ratelimit.State, error) {
	var state ratelimit.State
	data, err := r.client.Get(ctx, RateLimitKey+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return state, nil
		}
		return state, fmt.Errorf("获取限流状态失败: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("解析限流状态失败: %w", err)
	}
	return state, nil
}

// SaveState 保存限流状态，锁定期间的状态在锁定结束后过期
func (r *RedisRepository) SaveState(ctx context.Context, key string, state ratelimit.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("序列化限流状态失败: %w", err)
	}

	expires := time.Hour
	if !state.LockedUntil.IsZero() {
		if d := time.Until(state.LockedUntil) + time.Minute; d > expires {
			expires = d
		}
	}

	if err := r.client.Set(ctx, RateLimitKey+key, data, expires).Err(); err != nil {
		return fmt.Errorf("保存限流状态失败: %w", err)
	}
	return nil
}

func (r *RedisRepository) ClearState(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, RateLimitKey+key).Err(); err != nil {
		return fmt.Errorf("清除限流状态失败: %w", err)
	}
	return nil
}

// GetAuthorization 读取设备已验证的口令哈希
func (r *RedisRepository) GetAuthorization(ctx context.Context, target, device string) (string, bool, error) {
	hash, err := r.client.Get(ctx, authorizationKey(target, device)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("获取设备授权失败: %w", err)
	}
	return hash, true, nil
}

func (r *RedisRepository) SetAuthorization(ctx context.Context, target, device, hash string) error {
	if err := r.client.Set(ctx, authorizationKey(target, device), hash, authorizationTTL).Err(); err != nil {
		return fmt.Errorf("保存设备授权失败: %w", err)
	}
	return nil
}

func authorizationKey(target, device string) string {
	return AuthorizedKey + target + ":" + device
}

// Close 关闭Redis连接
func (r *RedisRepository) Close() error {
	if err := r.client.Close(); err != nil {
		log.Warn().Err(err).Msg("关闭Redis连接失败")
		return err
	}
	return nil
}

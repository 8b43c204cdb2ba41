package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const quotaPrefix = "quota:user:"

// decrementScript 原子地初始化并扣减额度，额度耗尽返回-1
var decrementScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  v = ARGV[1]
end
v = tonumber(v)
if v <= 0 then
  redis.call('SET', KEYS[1], 0)
  return -1
end
redis.call('SET', KEYS[1], v - 1)
return v - 1
`)

// RedisStore 基于Redis的额度存储，多个进程共享
type RedisStore struct {
	redis   *redis.Client
	initial int64
}

// NewRedisStore 创建Redis额度存储
func NewRedisStore(client *redis.Client, initial int64) *RedisStore {
	return &RedisStore{redis: client, initial: initial}
}

func buildQuotaKey(userID int64) string {
	return quotaPrefix + strconv.FormatInt(userID, 10)
}

func (s *RedisStore) Decrement(ctx context.Context, userID int64) (bool, error) {
	left, err := decrementScript.Run(ctx, s.redis, []string{buildQuotaKey(userID)}, s.initial).Int64()
	if err != nil {
		return false, fmt.Errorf("decrement quota for user %d: %w", userID, err)
	}
	return left >= 0, nil
}

func (s *RedisStore) Get(ctx context.Context, userID int64) (int64, error) {
	v, err := s.redis.Get(ctx, buildQuotaKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return s.initial, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get quota for user %d: %w", userID, err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, userID int64, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("quota amount must be non-negative, got %d", amount)
	}
	if err := s.redis.Set(ctx, buildQuotaKey(userID), amount, 0).Err(); err != nil {
		return fmt.Errorf("set quota for user %d: %w", userID, err)
	}
	return nil
}

package limiter

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/go-redis/redis/v8"
)

// gcraScript mirrors the gcra() arithmetic server-side so concurrent
// replicas share one TAT per key. KEYS[1] is the bucket key; ARGV are
// now-nanos, emission-nanos and burst-offset-nanos. Returns {allowed,
// retry-after-nanos} and expires the key once the bucket has fully drained.
var gcraScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local emission = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])

local tat = tonumber(redis.call("GET", key))
if tat == nil or tat < now then
  tat = now
end

local new_tat = tat + emission
local allow_at = new_tat - burst
if now < allow_at then
  return {0, allow_at - now}
end

redis.call("SET", key, new_tat, "PX", math.ceil((new_tat - now + burst) / 1000000))
return {1, 0}
`)

// RedisStore backs GCRA state with Redis so admission is shared across
// gateway replicas.
type RedisStore struct {
	rdb redis.Cmdable
}

func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// NewRedisStoreFromURL dials redis with the URL from rate-limit config.
func NewRedisStoreFromURL(url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	return &RedisStore{rdb: redis.NewClient(opt)}, nil
}

func (s *RedisStore) Admit(ctx context.Context, key string, capacity int64, refill time.Duration) (Decision, error) {
	emission := int64(refill)
	if emission <= 0 {
		emission = 1
	}
	burstOffset := emission * capacity

	res, err := gcraScript.Run(ctx, s.rdb, []string{"ai-gateway:rl:" + key},
		time.Now().UnixNano(), emission, burstOffset).Result()
	if err != nil {
		return Decision{}, errors.Wrap(err, "run gcra script")
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return Decision{}, errors.Errorf("unexpected gcra script reply %v", res)
	}
	allowed, _ := vals[0].(int64)
	wait, _ := vals[1].(int64)
	if allowed == 1 {
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(wait)}, nil
}

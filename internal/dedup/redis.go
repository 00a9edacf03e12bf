package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const recordKeyPrefix = "dedup:"

// Each record is a hash {version, doc}. The script swaps doc only when the
// stored version matches ARGV[1]; "0" means the key must not exist.
var casRecordScript = redis.NewScript(`
local key = KEYS[1]
local expected = ARGV[1]

local current = redis.call('HGET', key, 'version')
if not current then
	current = '0'
end

if current ~= expected then
	return 0
end

redis.call('HSET', key, 'version', ARGV[2], 'doc', ARGV[3])
if tonumber(ARGV[4]) > 0 then
	redis.call('PEXPIRE', key, ARGV[4])
end
return 1
`)

// RedisStore keeps dedup records in Redis so several pollers can share state.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. Keys expire after ttl of inactivity
// when ttl > 0; the policy treats a missing key the same as an expired one.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	doc, err := s.client.HGet(ctx, recordKeyPrefix+key, "doc").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", key, err)
	}
	return &r, nil
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, old *Record, next Record) (bool, error) {
	var expected int64
	if old != nil {
		expected = old.Version
	}
	next.Version = expected + 1

	doc, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("encode record %s: %w", next.IdentityKey, err)
	}

	// Redis expiry trails the policy TTL.
	var expireMs int64
	if s.ttl > 0 {
		expireMs = (2 * s.ttl).Milliseconds()
	}

	res, err := casRecordScript.Run(ctx, s.client, []string{recordKeyPrefix + next.IdentityKey},
		strconv.FormatInt(expected, 10), strconv.FormatInt(next.Version, 10), doc, expireMs).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

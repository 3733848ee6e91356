package repo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signalix/phoneauth/internal/model"
)

// Redis layout: one hash per phone under otp:code:<phone>, plus a sorted set
// otp:expiry scoring every phone by its expiry in unix milliseconds so purge
// and stats do not need SCAN. Purge and stats derive record keys inside Lua
// from the index, so the store needs a standalone server, not Redis Cluster.
const (
	redisRecordPrefix = "otp:code:"
	redisExpiryIndex  = "otp:expiry"

	// Hashes outlive their expiry so verification can still answer "expired"
	// instead of "not found"; the sweeper deletes them before this runs out.
	redisRetention = time.Hour
)

var putScript = redis.NewScript(`
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1], "code_hash", ARGV[1], "expires_at", ARGV[2], "verified", "0", "attempts", "0", "created_at", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[4])
return 1
`)

var markVerifiedScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "code_hash") ~= ARGV[1] then
  return 0
end
if redis.call("HGET", KEYS[1], "verified") ~= "1" then
  redis.call("HSET", KEYS[1], "verified", "1", "verified_at", ARGV[2])
end
return 1
`)

var incrementScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "verified") == "1" then
  return -1
end
return redis.call("HINCRBY", KEYS[1], "attempts", 1)
`)

var deleteIfMatchesScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "code_hash") ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[2])
return 1
`)

var purgeScript = redis.NewScript(`
local phones = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[1])
local deleted = 0
for _, phone in ipairs(phones) do
  local key = ARGV[2] .. phone
  local exp = redis.call("HGET", key, "expires_at")
  if not exp then
    redis.call("ZREM", KEYS[1], phone)
  elseif tonumber(exp) < tonumber(ARGV[1]) then
    redis.call("DEL", key)
    redis.call("ZREM", KEYS[1], phone)
    deleted = deleted + 1
  end
end
return deleted
`)

var statsScript = redis.NewScript(`
local phones = redis.call("ZRANGE", KEYS[1], 0, -1)
local total, active, expired, verified = 0, 0, 0, 0
for _, phone in ipairs(phones) do
  local vals = redis.call("HMGET", ARGV[2] .. phone, "expires_at", "verified")
  if vals[1] then
    total = total + 1
    if vals[2] == "1" then
      verified = verified + 1
    elseif tonumber(vals[1]) < tonumber(ARGV[1]) then
      expired = expired + 1
    else
      active = active + 1
    end
  end
end
return {total, active, expired, verified}
`)

type redisOtpRepo struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisOtpRepo creates a code store on a standalone Redis server.
func NewRedisOtpRepo(rdb *redis.Client, opts ...Option) OtpRepo {
	o := buildOptions(opts)
	return &redisOtpRepo{rdb: rdb, now: o.now}
}

func recordKey(phone string) string {
	return redisRecordPrefix + phone
}

func (r *redisOtpRepo) Put(ctx context.Context, phone, codeHash string, ttl time.Duration) (model.OtpRecord, error) {
	now := r.now().UTC()
	rec := model.OtpRecord{
		PhoneNumber: phone,
		CodeHash:    codeHash,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
	keep := ttl + redisRetention
	err := putScript.Run(ctx, r.rdb,
		[]string{recordKey(phone), redisExpiryIndex},
		codeHash, rec.ExpiresAt.UnixMilli(), now.UnixMilli(), phone, keep.Milliseconds(),
	).Err()
	if err != nil {
		return model.OtpRecord{}, fmt.Errorf("redis put otp code: %w", err)
	}
	return rec, nil
}

func (r *redisOtpRepo) load(ctx context.Context, phone string) (model.OtpRecord, bool, error) {
	vals, err := r.rdb.HGetAll(ctx, recordKey(phone)).Result()
	if err != nil {
		return model.OtpRecord{}, false, fmt.Errorf("redis get otp code: %w", err)
	}
	if len(vals) == 0 {
		return model.OtpRecord{}, false, nil
	}

	rec := model.OtpRecord{
		PhoneNumber: phone,
		CodeHash:    vals["code_hash"],
		Verified:    vals["verified"] == "1",
	}
	if rec.ExpiresAt, err = parseMillis(vals["expires_at"]); err != nil {
		return model.OtpRecord{}, false, fmt.Errorf("redis otp code expires_at: %w", err)
	}
	if rec.CreatedAt, err = parseMillis(vals["created_at"]); err != nil {
		return model.OtpRecord{}, false, fmt.Errorf("redis otp code created_at: %w", err)
	}
	if v := vals["verified_at"]; v != "" {
		at, err := parseMillis(v)
		if err != nil {
			return model.OtpRecord{}, false, fmt.Errorf("redis otp code verified_at: %w", err)
		}
		rec.VerifiedAt = &at
	}
	if rec.AttemptCount, err = strconv.Atoi(vals["attempts"]); err != nil {
		return model.OtpRecord{}, false, fmt.Errorf("redis otp code attempts: %w", err)
	}
	return rec, true, nil
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (r *redisOtpRepo) GetActiveUnverified(ctx context.Context, phone string) (model.OtpRecord, error) {
	rec, ok, err := r.load(ctx, phone)
	if err != nil {
		return model.OtpRecord{}, err
	}
	if !ok || rec.Verified {
		return model.OtpRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *redisOtpRepo) HasLiveActive(ctx context.Context, phone string) (bool, error) {
	rec, ok, err := r.load(ctx, phone)
	if err != nil {
		return false, err
	}
	return ok && rec.Live(r.now()), nil
}

func (r *redisOtpRepo) MarkVerified(ctx context.Context, phone, codeHash string) error {
	n, err := markVerifiedScript.Run(ctx, r.rdb,
		[]string{recordKey(phone)},
		codeHash, r.now().UTC().UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis mark otp code verified: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *redisOtpRepo) IncrementAttempt(ctx context.Context, phone string) (int, error) {
	n, err := incrementScript.Run(ctx, r.rdb, []string{recordKey(phone)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis increment otp attempt: %w", err)
	}
	if n < 0 {
		return 0, ErrNotFound
	}
	return int(n), nil
}

func (r *redisOtpRepo) Delete(ctx context.Context, phone string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, recordKey(phone))
		pipe.ZRem(ctx, redisExpiryIndex, phone)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete otp code: %w", err)
	}
	return nil
}

func (r *redisOtpRepo) DeleteIfMatches(ctx context.Context, phone, codeHash string) (bool, error) {
	n, err := deleteIfMatchesScript.Run(ctx, r.rdb,
		[]string{recordKey(phone), redisExpiryIndex},
		codeHash, phone,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis delete otp code: %w", err)
	}
	return n == 1, nil
}

func (r *redisOtpRepo) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := purgeScript.Run(ctx, r.rdb,
		[]string{redisExpiryIndex},
		r.now().UTC().UnixMilli(), redisRecordPrefix,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis purge expired otp codes: %w", err)
	}
	return n, nil
}

func (r *redisOtpRepo) Stats(ctx context.Context) (model.OtpStats, error) {
	counts, err := statsScript.Run(ctx, r.rdb,
		[]string{redisExpiryIndex},
		r.now().UTC().UnixMilli(), redisRecordPrefix,
	).Int64Slice()
	if err != nil {
		return model.OtpStats{}, fmt.Errorf("redis count otp codes: %w", err)
	}
	if len(counts) != 4 {
		return model.OtpStats{}, fmt.Errorf("redis count otp codes: unexpected reply length %d", len(counts))
	}
	return model.OtpStats{
		Total:    counts[0],
		Active:   counts[1],
		Expired:  counts[2],
		Verified: counts[3],
	}, nil
}

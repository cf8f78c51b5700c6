package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// reserveScript claims n contiguous slots of the shared schedule.
// Redis evaluates scripts one at a time, which makes the read-advance-write
// below a serialized critical section across all worker instances.
//
// KEYS[1] = next free slot (unix ms), KEYS[2] = throttle cool-down end (unix ms)
// ARGV = now_ms, n, base_interval_ms, throttle_multiplier, key_ttl_ms
// Returns {first_slot_delay_ms, interval_ms}.
var reserveScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local n = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local mult = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local cooldown = tonumber(redis.call('GET', KEYS[2]) or '0')
if now < cooldown then
  interval = math.floor(interval * mult)
end

local nextSlot = tonumber(redis.call('GET', KEYS[1]) or '0')
if nextSlot < now then
  nextSlot = now
end

redis.call('SET', KEYS[1], nextSlot + n * interval, 'PX', ttl)
return {nextSlot - now, interval}
`)

// throttleScript extends the cool-down end, keeping the furthest deadline.
// KEYS[1] = throttle cool-down end. ARGV = now_ms, duration_ms.
var throttleScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local dur = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local target = now + dur
if target > current then
  redis.call('SET', KEYS[1], target, 'PX', dur + 60000)
end
return target
`)

// RedisLimiter implements Limiter on a shared Redis instance.
type RedisLimiter struct {
	rdb    redis.Scripter
	cfg    Config
	now    func() time.Time
	slot   string
	cool   string
	keyTTL time.Duration
}

// NewRedisLimiter creates a limiter with the given configuration.
func NewRedisLimiter(rdb redis.Scripter, cfg Config) (*RedisLimiter, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limiter config: %w", err)
	}
	cfg = cfg.withDefaults()

	return &RedisLimiter{
		rdb:  rdb,
		cfg:  cfg,
		now:  time.Now,
		slot: cfg.KeyPrefix + ":next_slot",
		cool: cfg.KeyPrefix + ":throttle_until",
		// The schedule key only matters while callers still hold future
		// slots; an hour covers any realistic backlog.
		keyTTL: time.Hour,
	}, nil
}

// ReserveBatch claims n slots and returns the initial delay plus the
// in-batch spacing.
func (l *RedisLimiter) ReserveBatch(ctx context.Context, n int) (Reservation, error) {
	if n <= 0 {
		return Reservation{}, fmt.Errorf("batch size must be positive, got %d", n)
	}

	nowMs := l.now().UnixMilli()
	baseMs := l.cfg.Interval().Milliseconds()

	res, err := reserveScript.Run(ctx, l.rdb,
		[]string{l.slot, l.cool},
		nowMs, n, baseMs, l.cfg.ThrottleMultiplier, l.keyTTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve batch: %w", err)
	}
	if len(res) != 2 {
		return Reservation{}, fmt.Errorf("reserve batch: unexpected reply %v", res)
	}

	return Reservation{
		Delay:    time.Duration(res[0]) * time.Millisecond,
		Interval: time.Duration(res[1]) * time.Millisecond,
	}, nil
}

// ReportThrottle extends the shared cool-down by at least d.
func (l *RedisLimiter) ReportThrottle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	nowMs := l.now().UnixMilli()
	if err := throttleScript.Run(ctx, l.rdb,
		[]string{l.cool}, nowMs, d.Milliseconds(),
	).Err(); err != nil {
		return fmt.Errorf("report throttle: %w", err)
	}
	return nil
}

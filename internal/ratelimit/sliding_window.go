package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Trims the window, counts it and records the request only when under limit.
// Returns the new count or -1 when the window is full.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowMs = tonumber(ARGV[3])
local member = ARGV[4]
local limit = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, windowMs)
  return count + 1
end
return -1
`

// SlidingWindow counts requests per key over a trailing window.
type SlidingWindow struct {
	client *redis.Client
	script *redis.Script
	now    func() time.Time
}

func NewSlidingWindow(client *redis.Client) *SlidingWindow {
	if client == nil {
		return nil
	}
	return &SlidingWindow{
		client: client,
		script: redis.NewScript(slidingWindowScript),
		now:    time.Now,
	}
}

func (s *SlidingWindow) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if s == nil || s.client == nil {
		return false, errors.New("rate limiter not configured")
	}
	if key == "" || limit <= 0 || window <= 0 {
		return false, errors.New("invalid sliding window parameters")
	}

	now := s.now()
	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%d", nowMs, now.UnixNano())
	res, err := s.script.Run(ctx, s.client, []string{key},
		nowMs, nowMs-window.Milliseconds(), window.Milliseconds(), member, limit).Int()
	if err != nil {
		return false, err
	}
	return res >= 0, nil
}

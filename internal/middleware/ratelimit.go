package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimits are the request quotas of one client; zero disables a limit
type RateLimits struct {
	PerSecond int
	PerDay    int
}

// RateLimitMiddleware limits requests per client IP, per second and per day.
// Counters live in Redis so every API instance shares them. Redis errors let
// the request through.
func RateLimitMiddleware(rdb *redis.Client, limits RateLimits) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		now := time.Now()
		client := c.IP()

		keySecond := secondKey(client, now)
		keyDay := dayKey(client, now)

		// Check per-second rate limit
		if limits.PerSecond > 0 {
			countSecond, err := increment(ctx, rdb, keySecond, 2*time.Second)
			if err == nil && countSecond > int64(limits.PerSecond) {
				c.Set("X-RateLimit-Limit-Second", strconv.Itoa(limits.PerSecond))
				c.Set("X-RateLimit-Remaining-Second", "0")
				c.Set("X-RateLimit-Reset-Second", strconv.FormatInt(now.Unix()+1, 10))
				c.Set("Retry-After", "1")

				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error":       "rate_limit_exceeded",
					"message":     "Too many requests per second",
					"limit_type":  "per_second",
					"limit":       limits.PerSecond,
					"retry_after": 1,
				})
			}
		}

		// Check per-day rate limit
		if limits.PerDay > 0 {
			// 25 hours to handle timezone differences
			countDay, err := increment(ctx, rdb, keyDay, 25*time.Hour)
			if err == nil {
				if countDay > int64(limits.PerDay) {
					tomorrow := now.AddDate(0, 0, 1)
					midnight := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, tomorrow.Location())
					retryAfter := int64(midnight.Sub(now).Seconds())

					c.Set("X-RateLimit-Limit-Day", strconv.Itoa(limits.PerDay))
					c.Set("X-RateLimit-Remaining-Day", "0")
					c.Set("X-RateLimit-Reset-Day", strconv.FormatInt(midnight.Unix(), 10))
					c.Set("Retry-After", strconv.FormatInt(retryAfter, 10))

					return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
						"error":       "daily_quota_exceeded",
						"message":     "Daily quota exceeded",
						"limit_type":  "per_day",
						"limit":       limits.PerDay,
						"used":        countDay,
						"retry_after": retryAfter,
						"reset_at":    midnight.Format(time.RFC3339),
					})
				}

				c.Set("X-RateLimit-Remaining-Day", strconv.FormatInt(int64(limits.PerDay)-countDay, 10))
			}
		}

		if limits.PerSecond > 0 {
			c.Set("X-RateLimit-Limit-Second", strconv.Itoa(limits.PerSecond))
		}
		if limits.PerDay > 0 {
			c.Set("X-RateLimit-Limit-Day", strconv.Itoa(limits.PerDay))
		}

		return c.Next()
	}
}

func increment(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (int64, error) {
	count, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		rdb.Expire(ctx, key, ttl)
	}
	return count, nil
}

func secondKey(client string, now time.Time) string {
	return fmt.Sprintf("rl:client:%s:second:%d", client, now.Unix())
}

func dayKey(client string, now time.Time) string {
	return fmt.Sprintf("rl:client:%s:day:%s", client, now.Format("2006-01-02"))
}

// ResetRateLimit resets the counter of one period ("second" or "day") for a client
func ResetRateLimit(ctx context.Context, rdb *redis.Client, client string, period string) error {
	now := time.Now()

	var key string
	switch period {
	case "second":
		key = secondKey(client, now)
	case "day":
		key = dayKey(client, now)
	default:
		return fmt.Errorf("invalid period: %s", period)
	}

	return rdb.Del(ctx, key).Err()
}

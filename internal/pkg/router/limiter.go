package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/technovacao/registration/internal/pkg/cache"
	"github.com/technovacao/registration/internal/pkg/env"
)

var limiterStorage fiber.Storage

// rateLimiterStorage shares limiter counters between instances through
// Redis. It returns nil, meaning in-memory counters, when Redis is down.
func rateLimiterStorage() fiber.Storage {
	if limiterStorage != nil {
		return limiterStorage
	}
	if !cache.Available(2 * time.Second) {
		log.Warn("[Router] Redis unavailable, rate limits are per instance")
		return nil
	}
	cacheClient := cache.GetClient()

	host := "localhost"
	port := 6379
	if h, p, err := net.SplitHostPort(cacheClient.Options().Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	password := cacheClient.Options().Password
	if password == "" {
		password = env.GetEnv("CACHE_PASSWORD", "")
	}

	// separate database for limiter counters (cache uses DB 0)
	limiterStorage = redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: env.GetEnvInt("LIMITER_REDIS_DB", 2),
		Reset:    false,
	})
	return limiterStorage
}

func newRateLimiter(max int, window time.Duration, storage fiber.Storage) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		Storage:    storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "too many requests, try again later",
				"code":    "rate_limited",
				"message": "too many requests, try again later",
			})
		},
	})
}

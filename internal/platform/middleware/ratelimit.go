package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const (
	triggerRouteSuffix = "/patients/:id/risk/trigger"
	sweepRouteSuffix   = "/risk/sweeps"
)

// RateLimitConfig bounds how often evaluations can be started over HTTP.
// Triggers are limited per patient; manual sweeps share a single bucket.
type RateLimitConfig struct {
	TriggerInterval time.Duration
	TriggerBurst    int
	SweepInterval   time.Duration
	SweepBurst      int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		TriggerInterval: 10 * time.Second,
		TriggerBurst:    3,
		SweepInterval:   time.Minute,
		SweepBurst:      1,
	}
}

type routeLimiter struct {
	store      *echomw.RateLimiterMemoryStore
	retryAfter string
	message    string
}

func newRouteLimiter(interval time.Duration, burst int, message string) *routeLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &routeLimiter{
		store: echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
			Rate:  limit,
			Burst: burst,
			// A bucket is only forgotten once it would have refilled anyway.
			ExpiresIn: interval*time.Duration(burst) + time.Minute,
		}),
		retryAfter: strconv.Itoa(int(math.Max(1, math.Ceil(interval.Seconds())))),
		message:    message,
	}
}

func (l *routeLimiter) serve(c echo.Context, key string, next echo.HandlerFunc) error {
	if ok, _ := l.store.Allow(key); !ok {
		c.Response().Header().Set("Retry-After", l.retryAfter)
		return echo.NewHTTPError(http.StatusTooManyRequests, l.message)
	}
	return next(c)
}

// RateLimit throttles the endpoints that start evaluations so one caller
// cannot flood the trigger queue or keep re-running sweeps. Reads and other
// routes pass through. It must be installed on a group so the matched route
// and its parameters are known.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	trigger := newRouteLimiter(cfg.TriggerInterval, cfg.TriggerBurst, "evaluation already requested for this patient, retry later")
	sweep := newRouteLimiter(cfg.SweepInterval, cfg.SweepBurst, "sweep requested too often, retry later")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method != http.MethodPost {
				return next(c)
			}
			switch path := c.Path(); {
			case strings.HasSuffix(path, triggerRouteSuffix):
				return trigger.serve(c, "patient:"+strings.ToLower(c.Param("id")), next)
			case strings.HasSuffix(path, sweepRouteSuffix):
				return sweep.serve(c, "sweep", next)
			}
			return next(c)
		}
	}
}

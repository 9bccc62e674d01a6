package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Lease guards a sweep interval so that only one replica sweeps it.
type Lease interface {
	// Acquire takes or renews the lease and reports whether it is held.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lease up if this holder still owns it.
	Release(ctx context.Context) error
}

// acquireScript renews the lease when the caller already holds it and
// otherwise takes it only if it is free.
var acquireScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a Lease stored under one Redis key. The value is a random
// token identifying this process.
type RedisLease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

func NewRedisLease(client *redis.Client, key string, ttl time.Duration) *RedisLease {
	return &RedisLease{client: client, key: key, token: uuid.New().String(), ttl: ttl}
}

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	n, err := acquireScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire sweep lease: %w", err)
	}
	return n == 1, nil
}

func (l *RedisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release sweep lease: %w", err)
	}
	return nil
}

// SweepRunner runs one population sweep. *Engine implements it.
type SweepRunner interface {
	RunSweep(ctx context.Context) (*SweepReport, error)
}

// Sweeper runs the sweep on a fixed interval. With a nil lease every tick
// sweeps.
type Sweeper struct {
	runner   SweepRunner
	lease    Lease
	interval time.Duration
	logger   zerolog.Logger
}

func NewSweeper(runner SweepRunner, lease Lease, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		runner:   runner,
		lease:    lease,
		interval: interval,
		logger:   logger.With().Str("component", "sweeper").Logger(),
	}
}

// Start sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Bool("leased", s.lease != nil).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			if _, _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// RunOnce sweeps if the lease allows it. ran is false when another replica
// holds the lease. The lease is kept after a completed sweep so the rest of
// the interval is skipped elsewhere; it is released when the sweep is
// cancelled so another replica can pick the work up.
func (s *Sweeper) RunOnce(ctx context.Context) (report *SweepReport, ran bool, err error) {
	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			s.logger.Debug().Msg("sweep lease held elsewhere, skipping")
			return nil, false, nil
		}
	}

	report, err = s.runner.RunSweep(ctx)
	if err != nil && ctx.Err() != nil && s.lease != nil {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := s.lease.Release(releaseCtx); rerr != nil {
			s.logger.Warn().Err(rerr).Msg("could not release sweep lease")
		}
	}
	return report, true, err
}

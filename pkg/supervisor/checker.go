package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/plugforge/plugforge/pkg/health"
)

// pingTimeout bounds one health probe. Deliberately shorter than the
// request timeout: a probe that takes this long is a failure, not a slow
// success.
const pingTimeout = 10 * time.Second

// checker drives periodic health probes against the child and feeds the
// monitor. Probes route through a circuit breaker so a wedged child is not
// hammered with pings: once the breaker opens, checks are skipped until its
// timeout elapses and it admits a half-open probe.
type checker struct {
	s       *Supervisor
	log     *zap.Logger
	breaker *gobreaker.CircuitBreaker
}

func newChecker(s *Supervisor) *checker {
	c := &checker{
		s:   s,
		log: s.log.Named("health"),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "plugin-host-ping",
		MaxRequests: 1,
		Timeout:     s.opts.Health.Interval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			c.log.Info("health breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return c
}

func (c *checker) run() {
	interval := c.s.opts.Health.Interval
	if interval <= 0 {
		interval = health.DefaultInterval
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-c.s.closed:
			return
		case <-tick.C:
		}
		if c.s.shuttingDown.Load() || !c.s.State().AcceptsRequests() {
			continue
		}
		c.check()
	}
}

// check runs one probe and records its outcome. Breaker rejections are not
// failures: the monitor already saw the failures that opened it.
func (c *checker) check() {
	result, err := c.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		return c.s.Ping(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.log.Debug("health check skipped, breaker open")
			return
		}
		c.s.monitor.RecordFailure(err.Error())
		c.log.Warn("health check failed", zap.Error(err))
		return
	}

	latency := result.(time.Duration)
	c.s.monitor.RecordSuccess(latency)
	// A healthy sample replenishes the respawn budget.
	c.s.monitor.ResetRespawnCounter()
	c.log.Debug("health check ok", zap.Duration("latency", latency))
}

// breakerState reports the breaker position for the stats surface.
func (c *checker) breakerState() string {
	return c.breaker.State().String()
}

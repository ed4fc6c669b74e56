package supervisor

import (
	"time"

	"go.uber.org/zap"

	"github.com/plugforge/plugforge/pkg/health"
)

// watchdog is the respawn policy loop: when the monitor reports Crashed it
// restarts the child with exponential backoff, up to the configured attempt
// budget. The monitor's respawn counter is the source of truth; a healthy
// sample resets it (see checker.check). In-flight requests at crash time
// were already failed by the reader pump; nothing is replayed.
func (s *Supervisor) watchdog() {
	log := s.log.Named("watchdog")
	tick := time.NewTicker(watchdogTick)
	defer tick.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-tick.C:
		}
		if s.shuttingDown.Load() {
			continue
		}
		if !s.monitor.State().NeedsRespawn() {
			continue
		}
		s.stateMu.RLock()
		st := s.state
		s.stateMu.RUnlock()
		if st != StateReady {
			continue
		}

		attempt := s.monitor.IncrementRespawn()
		if s.monitor.RespawnLimitExceeded() {
			err := errRespawnFailed(attempt - 1)
			log.Error("respawn budget exhausted", zap.Error(err))
			s.setState(StateFailed)
			return
		}

		backoff := s.respawnBackoff(attempt)
		log.Warn("plugin host crashed, respawning",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff))
		select {
		case <-s.closed:
			return
		case <-time.After(backoff):
		}

		if err := s.restart(); err != nil {
			log.Error("respawn attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			// Start left the supervisor Failed; put it back on the crash
			// path so the next tick retries until the budget runs out.
			s.setState(StateReady)
			s.monitor.SetState(health.StateCrashed)
			continue
		}
		log.Info("plugin host respawned", zap.Int("attempt", attempt))
	}
}

// respawnBackoff doubles per attempt from the configured initial delay,
// capped at respawnBackoffCap times the initial value.
func (s *Supervisor) respawnBackoff(attempt int) time.Duration {
	initial := s.opts.Respawn.InitialBackoff
	if attempt < 1 {
		attempt = 1
	}
	backoff := initial << (attempt - 1)
	if max := initial * respawnBackoffCap; backoff > max {
		backoff = max
	}
	return backoff
}

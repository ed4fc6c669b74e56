// Package supervisor spawns the plugin host subprocess and multiplexes
// concurrent JSON-RPC calls over its single stdio channel.
//
// Three pump goroutines do the blocking pipe I/O: a writer serialising
// request lines onto stdin, a reader correlating stdout responses back to
// their callers, and a stderr drain for diagnostics. Callers interact only
// with the Supervisor façade: Start, Call, Batch, Ping, Shutdown, Stats.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/plugforge/plugforge/pkg/health"
	"github.com/plugforge/plugforge/pkg/protocol"
	"github.com/plugforge/plugforge/pkg/spawn"
)

const (
	// DefaultRequestTimeout is the per-call deadline.
	DefaultRequestTimeout = 60 * time.Second
	// DefaultOutboxCapacity bounds the writer queue; it is the only
	// backpressure mechanism on the request path.
	DefaultOutboxCapacity = 100
	// DefaultRespawnBackoff is the first respawn delay; it doubles per
	// attempt up to respawnBackoffCap times the initial value.
	DefaultRespawnBackoff = time.Second

	respawnBackoffCap = 32
	watchdogTick      = time.Second
)

// RespawnOptions configures the automatic restart policy.
type RespawnOptions struct {
	// Enabled turns the watchdog on. When off, crash recovery is left to
	// whoever owns the supervisor.
	Enabled bool
	// MaxAttempts bounds consecutive respawns; the counter resets once a
	// health check succeeds. Defaults to 3.
	MaxAttempts int
	// InitialBackoff is the first retry delay, doubling per attempt.
	// Defaults to 1s, capped at 32x.
	InitialBackoff time.Duration
}

// RateOptions configures the optional client-side call rate limit.
// A zero RequestsPerSecond disables it.
type RateOptions struct {
	RequestsPerSecond float64
	Burst             int
}

// Options configures a Supervisor.
type Options struct {
	// Spawn describes how to launch the plugin host child.
	Spawn spawn.Config
	// RequestTimeout is the per-call deadline. Defaults to 60s.
	RequestTimeout time.Duration
	// OutboxCapacity bounds the writer queue. Defaults to 100.
	OutboxCapacity int
	// Health tunes the monitor (interval, failure threshold, history size).
	Health health.Options
	// HealthChecks enables the periodic ping driver.
	HealthChecks bool
	// Respawn configures the automatic restart policy.
	Respawn RespawnOptions
	// RateLimit optionally bounds outbound call rate.
	RateLimit RateOptions
	// Logger receives supervisor and child diagnostics. Defaults to a nop
	// logger.
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.OutboxCapacity <= 0 {
		o.OutboxCapacity = DefaultOutboxCapacity
	}
	if o.Respawn.MaxAttempts <= 0 {
		o.Respawn.MaxAttempts = health.DefaultMaxRespawns
	}
	if o.Respawn.InitialBackoff <= 0 {
		o.Respawn.InitialBackoff = DefaultRespawnBackoff
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	o.Health.MaxRespawns = o.Respawn.MaxAttempts
	return o
}

// Supervisor owns one plugin host child at a time and is safe for
// concurrent use. It is typically installed process-wide by the UI host;
// co-owners call Retain, and the last Close kills a still-bound child.
type Supervisor struct {
	opts    Options
	log     *zap.Logger
	id      string
	monitor *health.Monitor

	stateMu   sync.RWMutex
	state     State
	startedAt time.Time

	handleMu sync.Mutex
	handle   *spawn.Handle
	pumpWG   *sync.WaitGroup

	outboxMu sync.RWMutex
	outbox   *outbox

	pending      *pendingTable
	nextID       atomic.Uint64
	shuttingDown atomic.Bool
	shutdownDone chan struct{}

	totalRequests      atomic.Uint64
	successfulRequests atomic.Uint64
	failedRequests     atomic.Uint64

	limiter    *rate.Limiter
	logLimiter *rate.Limiter

	refs      atomic.Int32
	closed    chan struct{}
	closeOnce sync.Once

	checker *checker
}

// New builds a supervisor in the Uninitialised state. Call Start to spawn
// the child.
func New(opts Options) *Supervisor {
	opts = opts.withDefaults()
	s := &Supervisor{
		opts:       opts,
		log:        opts.Logger.Named("supervisor"),
		id:         uuid.NewString(),
		monitor:    health.NewMonitor(opts.Health),
		state:      StateUninitialised,
		pending:    newPendingTable(),
		logLimiter: rate.NewLimiter(rate.Every(time.Second), 10),
		closed:     make(chan struct{}),
	}
	s.refs.Store(1)
	if opts.RateLimit.RequestsPerSecond > 0 {
		burst := opts.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit.RequestsPerSecond), burst)
	}
	s.checker = newChecker(s)
	if opts.HealthChecks {
		go s.checker.run()
	}
	if opts.Respawn.Enabled {
		go s.watchdog()
	}
	return s
}

// ID returns the supervisor's instance id, stamped into stats and logs.
func (s *Supervisor) ID() string {
	return s.id
}

// Monitor exposes the health monitor for external policy loops.
func (s *Supervisor) Monitor() *health.Monitor {
	return s.monitor
}

// State returns the lifecycle state. Degraded is derived from the monitor
// so the stored Ready state never has to chase health transitions.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	st := s.state
	s.stateMu.RUnlock()
	if st == StateReady && s.monitor.State() == health.StateDegraded {
		return StateDegraded
	}
	return st
}

// Ready reports whether calls are currently admissible.
func (s *Supervisor) Ready() bool {
	return s.State().AcceptsRequests() && !s.shuttingDown.Load()
}

func (s *Supervisor) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// Start spawns the plugin host and brings the supervisor to Ready.
// Admissible only from Uninitialised or Stopped; a failure after the child
// is spawned kills it and leaves the supervisor Failed.
func (s *Supervisor) Start() error {
	s.stateMu.Lock()
	if !s.state.canStart() {
		st := s.state
		s.stateMu.Unlock()
		return errNotRunning(fmt.Sprintf("cannot start from state %s", st))
	}
	s.state = StateStarting
	s.stateMu.Unlock()

	s.monitor.SetState(health.StateStarting)

	h, err := spawn.Spawn(s.opts.Spawn)
	if err != nil {
		s.setState(StateFailed)
		s.monitor.SetState(health.StateCrashed)
		return errSpawnFailure(err)
	}

	stdin := h.TakeStdin()
	stdout := h.TakeStdout()
	stderr := h.TakeStderr()
	if stdin == nil || stdout == nil || stderr == nil {
		_ = h.Kill()
		s.setState(StateFailed)
		return errSpawnFailure(errors.New("child stdio endpoints already taken"))
	}

	ob := newOutbox(s.opts.OutboxCapacity)
	wg := &sync.WaitGroup{}
	wg.Add(3)

	s.handleMu.Lock()
	s.handle = h
	s.pumpWG = wg
	s.handleMu.Unlock()

	s.outboxMu.Lock()
	s.outbox = ob
	s.outboxMu.Unlock()

	s.shuttingDown.Store(false)
	s.stateMu.Lock()
	s.shutdownDone = make(chan struct{})
	s.startedAt = time.Now()
	s.stateMu.Unlock()

	go s.writerPump(stdin, ob, wg)
	go s.readerPump(stdout, wg)
	go s.stderrPump(stderr, wg)

	s.monitor.SetState(health.StateRunning)
	s.setState(StateReady)

	s.log.Info("plugin host started",
		zap.Int("pid", h.PID()),
		zap.String("command", s.opts.Spawn.Command))
	return nil
}

// Call sends one JSON-RPC request and blocks until its response, the
// per-call timeout, or ctx cancellation. The returned raw message is the
// child's result value; an absent result decodes as JSON null.
func (s *Supervisor) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if s.shuttingDown.Load() {
		return nil, errShuttingDown()
	}
	if st := s.State(); !st.AcceptsRequests() {
		return nil, errNotRunning("supervisor is not running (state " + st.String() + ")")
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	id := s.nextID.Add(1)
	line, err := protocol.EncodeRequest(id, method, params)
	if err != nil {
		return nil, errJSON(err)
	}

	// The entry goes in before the line is enqueued, so the reader can
	// never observe a response for an id it does not know.
	ch := s.pending.add(id)

	s.outboxMu.RLock()
	ob := s.outbox
	s.outboxMu.RUnlock()
	if ob == nil {
		s.pending.remove(id)
		return nil, errChannelClosed()
	}
	if err := ob.Enqueue(ctx, line); err != nil {
		s.pending.remove(id)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, errChannelClosed()
	}
	s.totalRequests.Add(1)

	timeout := s.opts.RequestTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.err != nil {
			s.failedRequests.Add(1)
			return nil, out.err
		}
		if out.resp == nil {
			s.failedRequests.Add(1)
			return nil, errResponseMissing(id)
		}
		if out.resp.IsError() {
			s.failedRequests.Add(1)
			return nil, errRPC(out.resp.Error)
		}
		s.successfulRequests.Add(1)
		if len(out.resp.Result) == 0 {
			return json.RawMessage("null"), nil
		}
		return out.resp.Result, nil

	case <-timer.C:
		// Remove first so a late response becomes an orphan, not a
		// delivery into a dead slot.
		s.pending.remove(id)
		s.failedRequests.Add(1)
		return nil, errTimeout(timeout)

	case <-ctx.Done():
		s.pending.remove(id)
		s.failedRequests.Add(1)
		return nil, ctx.Err()
	}
}

// Ping calls the child's ping method and returns the round-trip latency.
func (s *Supervisor) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := s.Call(ctx, "ping", struct{}{}); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Request is one entry of a Batch.
type Request struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// BatchResult is the outcome of one Batch entry. Failures are independent:
// one entry erroring never aborts its siblings.
type BatchResult struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Err    *Envelope       `json:"error,omitempty"`
}

// Batch issues the requests concurrently and returns results in input
// order.
func (s *Supervisor) Batch(ctx context.Context, reqs []Request) []BatchResult {
	results := make([]BatchResult, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			result, err := s.Call(ctx, req.Method, req.Params)
			if err != nil {
				env := toEnvelope(err)
				results[i] = BatchResult{Err: &env}
				return
			}
			results[i] = BatchResult{OK: true, Result: result}
		}(i, req)
	}
	wg.Wait()
	return results
}

// Shutdown tears the system down: the child receives a graceful shutdown
// request through the writer, the writer stops, and on deadline expiry the
// child is killed. Idempotent; concurrent callers converge on the same
// terminal state and a single child termination.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.stateMu.RLock()
	st := s.state
	done := s.shutdownDone
	s.stateMu.RUnlock()
	if st.IsTerminal() || st == StateUninitialised {
		return nil
	}

	if !s.shuttingDown.CompareAndSwap(false, true) {
		// Another shutdown owns the teardown; wait it out.
		if done == nil {
			return nil
		}
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.setState(StateShuttingDown)
	s.monitor.SetState(health.StateShuttingDown)

	// Take the writer endpoint: a final shutdown RPC, then the stop
	// signal. The writer closes stdin on its way out.
	s.outboxMu.Lock()
	ob := s.outbox
	s.outbox = nil
	s.outboxMu.Unlock()
	if ob != nil {
		if line, err := protocol.EncodeRequest(0, "shutdown", nil); err == nil {
			sendCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = ob.Enqueue(sendCtx, line)
			cancel()
		}
		ob.Close()
	}

	// Take the child handle and wait for a graceful exit, killing on
	// deadline. The reader pump observes EOF and clears any stragglers.
	s.handleMu.Lock()
	h := s.handle
	s.handle = nil
	wg := s.pumpWG
	s.pumpWG = nil
	s.handleMu.Unlock()
	if h != nil {
		if err := h.Shutdown(s.opts.Spawn.ShutdownDeadline); err != nil {
			s.log.Warn("child shutdown", zap.Error(err))
		}
		s.log.Info("plugin host stopped", zap.Stringer("child_state", h.State()))
	}
	if wg != nil {
		wg.Wait()
	}

	s.monitor.SetState(health.StateStopped)
	s.setState(StateStopped)
	if done != nil {
		close(done)
	}
	return nil
}

// Stats is the structured snapshot returned to the UI tier.
type Stats struct {
	SupervisorID       string          `json:"supervisor_id"`
	State              State           `json:"state"`
	Health             health.Snapshot `json:"health"`
	TotalRequests      uint64          `json:"total_requests"`
	SuccessfulRequests uint64          `json:"successful_requests"`
	FailedRequests     uint64          `json:"failed_requests"`
	PendingRequests    int             `json:"pending_requests"`
	Uptime             time.Duration   `json:"uptime_ns"`
	PID                int             `json:"pid,omitempty"`
	HealthBreaker      string          `json:"health_breaker,omitempty"`
}

// Stats returns the current snapshot.
func (s *Supervisor) Stats() Stats {
	s.stateMu.RLock()
	st := s.state
	startedAt := s.startedAt
	s.stateMu.RUnlock()
	if st == StateReady && s.monitor.State() == health.StateDegraded {
		st = StateDegraded
	}

	var uptime time.Duration
	if !startedAt.IsZero() && st.AcceptsRequests() {
		uptime = time.Since(startedAt)
	}

	var pid int
	s.handleMu.Lock()
	if s.handle != nil {
		pid = s.handle.PID()
	}
	s.handleMu.Unlock()

	stats := Stats{
		SupervisorID:       s.id,
		State:              st,
		Health:             s.monitor.Status(),
		TotalRequests:      s.totalRequests.Load(),
		SuccessfulRequests: s.successfulRequests.Load(),
		FailedRequests:     s.failedRequests.Load(),
		PendingRequests:    s.pending.size(),
		Uptime:             uptime,
		PID:                pid,
	}
	if s.opts.HealthChecks {
		stats.HealthBreaker = s.checker.breakerState()
	}
	return stats
}

// Retain registers another owner. Each Retain must be paired with a Close;
// only the last Close disturbs the child.
func (s *Supervisor) Retain() {
	s.refs.Add(1)
}

// Close drops one ownership reference. The final Close stops the
// background loops and kills the child if one is still bound. It does not
// attempt a graceful shutdown; call Shutdown first for that.
func (s *Supervisor) Close() error {
	if s.refs.Add(-1) > 0 {
		return nil
	}
	s.closeOnce.Do(func() {
		close(s.closed)

		s.outboxMu.Lock()
		ob := s.outbox
		s.outbox = nil
		s.outboxMu.Unlock()
		if ob != nil {
			ob.Close()
		}

		s.handleMu.Lock()
		h := s.handle
		s.handle = nil
		s.handleMu.Unlock()
		if h != nil {
			_ = h.Close()
		}
	})
	return nil
}

// restart tears down the crashed generation and starts a fresh child.
// Used by the watchdog; external policy loops can equally drive it via
// Shutdown + Start.
func (s *Supervisor) restart() error {
	s.outboxMu.Lock()
	ob := s.outbox
	s.outbox = nil
	s.outboxMu.Unlock()
	if ob != nil {
		ob.Close()
	}

	s.handleMu.Lock()
	h := s.handle
	s.handle = nil
	wg := s.pumpWG
	s.pumpWG = nil
	s.handleMu.Unlock()
	if h != nil {
		_ = h.Kill()
	}
	if wg != nil {
		wg.Wait()
	}

	s.setState(StateStopped)
	s.monitor.SetState(health.StateRestarting)
	return s.Start()
}

// toEnvelope renders any call error for the UI tier.
func toEnvelope(err error) Envelope {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Envelope()
	}
	return Envelope{Code: "INTERNAL_ERROR", Message: err.Error()}
}

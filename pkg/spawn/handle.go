package spawn

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/plugforge/plugforge/pkg/health"
	"github.com/plugforge/plugforge/pkg/protocol"
)

// shutdownRequestID is the reserved correlation id of the synthetic shutdown
// request. Regular ids are allocated from 1 upward, so 0 never collides.
const shutdownRequestID = 0

// Handle owns a spawned plugin host: the process, its three stdio endpoints,
// and its lifecycle state. Exactly one handle is ever bound to a child.
//
// Pipes are transferred to their pumps exactly once via the Take methods; a
// second Take returns nil. A reaper goroutine waits on the process so exit
// status is available without blocking (TryExit) and without racing a
// second wait.
type Handle struct {
	cfg       Config
	pid       int
	spawnedAt time.Time

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	state  health.State

	done      chan struct{} // closed by the reaper once the child is waited on
	procState *os.ProcessState
}

func newHandle(cmd *exec.Cmd, cfg Config, stdin io.WriteCloser, stdout, stderr io.ReadCloser) *Handle {
	h := &Handle{
		cfg:       cfg,
		pid:       cmd.Process.Pid,
		spawnedAt: time.Now(),
		cmd:       cmd,
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		state:     health.StateRunning,
		done:      make(chan struct{}),
	}
	go h.reap()
	return h
}

// reap waits for the process exactly once. os.Process.Wait is used rather
// than exec.Cmd.Wait so the parent's pipe ends stay open until the pumps
// drain them.
func (h *Handle) reap() {
	ps, err := h.cmd.Process.Wait()
	h.mu.Lock()
	if err == nil {
		h.procState = ps
	}
	h.mu.Unlock()
	close(h.done)
}

// PID returns the child's process id.
func (h *Handle) PID() int {
	return h.pid
}

// SpawnedAt returns when the child was created.
func (h *Handle) SpawnedAt() time.Time {
	return h.spawnedAt
}

// Config returns the configuration the child was spawned with.
func (h *Handle) Config() Config {
	return h.cfg
}

// State returns the child's lifecycle state.
func (h *Handle) State() health.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// TakeStdin transfers ownership of the child's stdin. Subsequent calls
// return nil.
func (h *Handle) TakeStdin() io.WriteCloser {
	h.mu.Lock()
	defer h.mu.Unlock()
	w := h.stdin
	h.stdin = nil
	return w
}

// TakeStdout transfers ownership of the child's stdout. Subsequent calls
// return nil.
func (h *Handle) TakeStdout() io.ReadCloser {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.stdout
	h.stdout = nil
	return r
}

// TakeStderr transfers ownership of the child's stderr. Subsequent calls
// return nil.
func (h *Handle) TakeStderr() io.ReadCloser {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.stderr
	h.stderr = nil
	return r
}

// TryExit is a non-blocking exit check. If the child has exited it updates
// the state (Stopped on success, Crashed on a non-zero code) and returns
// true.
func (h *Handle) TryExit() bool {
	select {
	case <-h.done:
	default:
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.noteExitLocked()
	return true
}

// noteExitLocked records the exit outcome in the state field. States set by
// an explicit Shutdown or Kill are left alone.
func (h *Handle) noteExitLocked() {
	switch h.state {
	case health.StateStopped, health.StateCrashed, health.StateKilled:
		return
	}
	if h.procState != nil && h.procState.Success() {
		h.state = health.StateStopped
	} else {
		h.state = health.StateCrashed
	}
}

// ExitCode returns the child's exit code, or -1 if it has not exited.
func (h *Handle) ExitCode() int {
	select {
	case <-h.done:
	default:
		return -1
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.procState == nil {
		return -1
	}
	return h.procState.ExitCode()
}

// Done is closed once the child has been waited on.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Shutdown asks the child to exit: a literal JSON-RPC shutdown request on
// stdin if the handle still owns it (a supervisor normally sends it through
// its writer pump instead), then an exit poll at a fixed cadence. On
// deadline expiry the child is killed. Idempotent.
func (h *Handle) Shutdown(deadline time.Duration) error {
	if deadline <= 0 {
		deadline = h.cfg.ShutdownDeadline
	}

	h.mu.Lock()
	if h.state.IsTerminal() {
		h.mu.Unlock()
		return nil
	}
	h.state = health.StateShuttingDown
	stdin := h.stdin
	h.stdin = nil
	h.mu.Unlock()

	if stdin != nil {
		if line, err := protocol.EncodeRequest(shutdownRequestID, "shutdown", nil); err == nil {
			_, _ = stdin.Write(append(line, '\n'))
		}
		_ = stdin.Close()
	}

	timeout := time.After(deadline)
	tick := time.NewTicker(exitPollInterval)
	defer tick.Stop()
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			h.noteExitLocked()
			h.mu.Unlock()
			return nil
		case <-tick.C:
			// poll again
		case <-timeout:
			return h.Kill()
		}
	}
}

// Kill terminates the child forcibly and blocks until it is reaped. The
// state becomes Killed. Idempotent.
func (h *Handle) Kill() error {
	h.mu.Lock()
	if h.state == health.StateKilled {
		h.mu.Unlock()
		<-h.done
		return nil
	}
	select {
	case <-h.done:
		// Already exited; keep the exit-derived state.
		h.noteExitLocked()
		h.mu.Unlock()
		return nil
	default:
	}
	h.state = health.StateKilled
	proc := h.cmd.Process
	h.mu.Unlock()

	if err := proc.Kill(); err != nil && !isProcessDone(err) {
		return &Error{Op: "kill", Err: err}
	}
	<-h.done
	return nil
}

// Close releases the handle, killing the child if it is still running.
func (h *Handle) Close() error {
	h.mu.Lock()
	running := h.state.IsRunning() || h.state == health.StateShuttingDown
	h.mu.Unlock()
	if running && !h.TryExit() {
		return h.Kill()
	}
	return nil
}

func isProcessDone(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}

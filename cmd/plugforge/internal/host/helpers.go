package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/plugforge/plugforge/cmd/plugforge/internal"
	"github.com/plugforge/plugforge/pkg/config"
	"github.com/plugforge/plugforge/pkg/health"
	"github.com/plugforge/plugforge/pkg/logging"
	"github.com/plugforge/plugforge/pkg/spawn"
	"github.com/plugforge/plugforge/pkg/supervisor"
)

func hostCmd(debug, console bool, configPath string) error {
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	log, err := logging.New(debug || cfg.Debug)
	if err != nil {
		return fmt.Errorf("error building logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	sup := supervisor.New(supervisorOptions(cfg, log))
	defer func() { _ = sup.Close() }()

	if err := sup.Start(); err != nil {
		return fmt.Errorf("error starting plugin host: %w", err)
	}
	fmt.Printf("plugforge %s: plugin host running (pid %d)\n",
		internal.GetVersion(), sup.Stats().PID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if console {
		runConsole(ctx, sup)
	} else {
		<-ctx.Done()
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	fmt.Println("plugin host stopped")
	return nil
}

// supervisorOptions maps the file/env configuration onto the supervisor's
// option surface.
func supervisorOptions(cfg *config.Config, log *zap.Logger) supervisor.Options {
	dir := cfg.Child.Dir
	if dir == "" {
		dir = config.ProjectRoot()
	}
	return supervisor.Options{
		Spawn: spawn.Config{
			Command:          cfg.Child.Command,
			Args:             cfg.Child.Args,
			Dir:              dir,
			Env:              cfg.Child.Env,
			ShutdownDeadline: cfg.ShutdownDeadline(),
		},
		RequestTimeout: cfg.RequestTimeout(),
		OutboxCapacity: cfg.Requests.QueueCapacity,
		Health: health.Options{
			Interval:         cfg.HealthInterval(),
			FailureThreshold: cfg.Health.FailureThreshold,
			HistorySize:      cfg.Health.HistorySize,
		},
		HealthChecks: cfg.Health.Checks,
		Respawn: supervisor.RespawnOptions{
			Enabled:        cfg.Respawn.Enabled,
			MaxAttempts:    cfg.Respawn.MaxAttempts,
			InitialBackoff: cfg.RespawnBackoff(),
		},
		RateLimit: supervisor.RateOptions{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger: log,
	}
}

const consoleHelp = `Commands:
  call <method> [params-json]   invoke a plugin host method
  ping                          round-trip latency check
  status                        supervisor stats snapshot
  help                          this text
  quit                          stop the host and exit`

// runConsole drives the supervisor from an interactive prompt. It stands
// in for the desktop UI tier.
func runConsole(ctx context.Context, sup *supervisor.Supervisor) {
	rl, err := readline.New("plugforge> ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "console unavailable: %v\n", err)
		<-ctx.Done()
		return
	}
	defer rl.Close()

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	fmt.Println(consoleHelp)
	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF on ^D, readline.ErrInterrupt on ^C
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return
			}
			return
		}
		if done := dispatch(ctx, sup, strings.TrimSpace(line)); done {
			return
		}
	}
}

func dispatch(ctx context.Context, sup *supervisor.Supervisor, line string) (done bool) {
	if line == "" {
		return false
	}
	fields := strings.SplitN(line, " ", 3)
	switch fields[0] {
	case "quit", "exit":
		return true

	case "help":
		fmt.Println(consoleHelp)

	case "ping":
		latency, err := sup.Ping(ctx)
		if err != nil {
			printErr(err)
			return false
		}
		fmt.Printf("pong (%s)\n", latency.Round(time.Microsecond))

	case "status":
		data, err := json.MarshalIndent(sup.Stats(), "", "  ")
		if err != nil {
			printErr(err)
			return false
		}
		fmt.Println(string(data))

	case "call":
		if len(fields) < 2 {
			fmt.Println("usage: call <method> [params-json]")
			return false
		}
		var params any
		if len(fields) == 3 {
			if err := json.Unmarshal([]byte(fields[2]), &params); err != nil {
				fmt.Printf("bad params: %v\n", err)
				return false
			}
		}
		result, err := sup.Call(ctx, fields[1], params)
		if err != nil {
			printErr(err)
			return false
		}
		fmt.Println(string(result))

	default:
		fmt.Printf("unknown command %q (try help)\n", fields[0])
	}
	return false
}

// printErr shows supervisor errors in their UI envelope form so error
// codes stay visible.
func printErr(err error) {
	var serr *supervisor.Error
	if errors.As(err, &serr) {
		env := serr.Envelope()
		fmt.Printf("error [%s]: %s\n", env.Code, env.Message)
		return
	}
	fmt.Printf("error: %v\n", err)
}

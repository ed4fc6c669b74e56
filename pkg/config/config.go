// Package config loads plugforge configuration: defaults, overlaid by an
// optional JSON file, overlaid by environment variables.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Child     ChildConfig     `json:"child"`
	Requests  RequestsConfig  `json:"requests"`
	Health    HealthConfig    `json:"health"`
	Respawn   RespawnConfig   `json:"respawn"`
	RateLimit RateLimitConfig `json:"rate_limit,omitzero"`
	Debug     bool            `json:"debug" env:"PLUGFORGE_DEBUG"`
}

// ChildConfig describes the plugin host subprocess.
type ChildConfig struct {
	// Command is the interpreter or binary, e.g. "python".
	Command string `json:"command" env:"PLUGFORGE_CHILD_COMMAND"`
	// Args are passed verbatim, e.g. ["-m", "plugins._host"].
	Args []string `json:"args,omitempty" env:"PLUGFORGE_CHILD_ARGS" envSeparator:" "`
	// Dir is the child's working directory. Empty means the discovered
	// project root (see ProjectRoot).
	Dir string `json:"dir,omitempty" env:"PLUGFORGE_CHILD_DIR"`
	// Env holds extra environment pairs for the child.
	Env map[string]string `json:"env,omitempty"`
	// ShutdownDeadlineSeconds bounds the graceful-exit wait.
	ShutdownDeadlineSeconds int `json:"shutdown_deadline_seconds" env:"PLUGFORGE_SHUTDOWN_DEADLINE"`
}

type RequestsConfig struct {
	// TimeoutSeconds is the per-call deadline.
	TimeoutSeconds int `json:"timeout_seconds" env:"PLUGFORGE_REQUEST_TIMEOUT"`
	// QueueCapacity bounds the writer queue.
	QueueCapacity int `json:"queue_capacity" env:"PLUGFORGE_QUEUE_CAPACITY"`
}

type HealthConfig struct {
	// Checks enables the periodic ping driver.
	Checks bool `json:"checks" env:"PLUGFORGE_HEALTH_CHECKS"`
	// IntervalSeconds paces the checks.
	IntervalSeconds int `json:"interval_seconds" env:"PLUGFORGE_HEALTH_INTERVAL"`
	// FailureThreshold is the consecutive-failure count that degrades the
	// child.
	FailureThreshold int `json:"failure_threshold" env:"PLUGFORGE_HEALTH_THRESHOLD"`
	// HistorySize bounds the retained sample window.
	HistorySize int `json:"history_size" env:"PLUGFORGE_HEALTH_HISTORY"`
}

type RespawnConfig struct {
	Enabled bool `json:"enabled" env:"PLUGFORGE_RESPAWN"`
	// MaxAttempts bounds consecutive respawns.
	MaxAttempts int `json:"max_attempts" env:"PLUGFORGE_RESPAWN_ATTEMPTS"`
	// InitialBackoffMillis is the first retry delay; it doubles per attempt.
	InitialBackoffMillis int `json:"initial_backoff_ms" env:"PLUGFORGE_RESPAWN_BACKOFF_MS"`
}

type RateLimitConfig struct {
	// RequestsPerSecond of 0 disables client-side rate limiting.
	RequestsPerSecond float64 `json:"requests_per_second" env:"PLUGFORGE_RATE_RPS"`
	Burst             int     `json:"burst" env:"PLUGFORGE_RATE_BURST"`
}

func DefaultConfig() *Config {
	return &Config{
		Child: ChildConfig{
			Command:                 "python",
			Args:                    []string{"-m", "plugins._host"},
			ShutdownDeadlineSeconds: 5,
		},
		Requests: RequestsConfig{
			TimeoutSeconds: 60,
			QueueCapacity:  100,
		},
		Health: HealthConfig{
			Checks:           true,
			IntervalSeconds:  30,
			FailureThreshold: 3,
			HistorySize:      100,
		},
		Respawn: RespawnConfig{
			Enabled:              true,
			MaxAttempts:          3,
			InitialBackoffMillis: 1000,
		},
	}
}

// LoadConfig reads path over the defaults, then applies environment
// overrides. A missing file is not an error; defaults plus environment
// apply.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	// Pre-scan for args so user-provided values replace the default list
	// instead of merging element-wise into it.
	var tmp Config
	if err := json.Unmarshal(data, &tmp); err != nil {
		return nil, err
	}
	if len(tmp.Child.Args) > 0 {
		cfg.Child.Args = nil
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig writes cfg as indented JSON, creating parent directories as
// needed. The file may carry secrets in child env pairs, hence 0600.
func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// ShutdownDeadline returns the graceful-exit bound as a duration.
func (c *Config) ShutdownDeadline() time.Duration {
	return time.Duration(c.Child.ShutdownDeadlineSeconds) * time.Second
}

// RequestTimeout returns the per-call deadline as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Requests.TimeoutSeconds) * time.Second
}

// HealthInterval returns the check cadence as a duration.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Health.IntervalSeconds) * time.Second
}

// RespawnBackoff returns the initial respawn delay as a duration.
func (c *Config) RespawnBackoff() time.Duration {
	return time.Duration(c.Respawn.InitialBackoffMillis) * time.Millisecond
}

// ProjectRoot locates the directory holding the plugins tree: it walks up
// from the executable, then from the working directory, and settles on the
// working directory when nothing matches. The child runs here unless the
// configuration pins a directory.
func ProjectRoot() string {
	if exe, err := os.Executable(); err == nil {
		if root, ok := findPluginsDir(filepath.Dir(exe)); ok {
			return root
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if root, ok := findPluginsDir(cwd); ok {
		return root
	}
	return cwd
}

func findPluginsDir(start string) (string, bool) {
	dir := start
	for i := 0; i < 10; i++ {
		info, err := os.Stat(filepath.Join(dir, "plugins"))
		if err == nil && info.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

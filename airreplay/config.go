package airreplay

import (
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds every tunable the engine and its satellite components (the
// mock socket server, the external replayer loop) read from, following
// internal/config/config.go's load-then-default-then-override pipeline.
type Config struct {
	TraceDir string `yaml:"trace_dir"`

	// MismatchBackoff is how long RecordReplay/SaveRestore sleep after a
	// peek mismatch before retrying.
	MismatchBackoff time.Duration `yaml:"mismatch_backoff"`
	// SaveRestoreBackoff is the SaveRestore-specific retry sleep.
	SaveRestoreBackoff time.Duration `yaml:"save_restore_backoff"`
	// DivergenceAttempts is the attempt count past which a replay mismatch
	// is treated as unrecoverable divergence.
	DivergenceAttempts int `yaml:"divergence_attempts"`
	// WarnAttempts is the attempt count past which mismatch logging
	// escalates from warning to error.
	WarnAttempts int `yaml:"warn_attempts"`

	// ExternalReplayerMinPoll/MaxPoll bound the external replayer loop's
	// sleep between HasNext checks.
	ExternalReplayerMinPoll time.Duration `yaml:"external_replayer_min_poll"`
	ExternalReplayerMaxPoll time.Duration `yaml:"external_replayer_max_poll"`

	// MockServerReadChunk is the buffer size used to read from replayed
	// sockets.
	MockServerReadChunk int `yaml:"mock_server_read_chunk"`
	// MockServerDrainSleep is how long a connection handler waits before
	// closing once its TraceGroup is exhausted.
	MockServerDrainSleep time.Duration `yaml:"mock_server_drain_sleep"`

	// DebugTick is the interval of the trace's background debug goroutine.
	DebugTick time.Duration `yaml:"debug_tick"`
}

func defaultConfig() *Config {
	return &Config{
		TraceDir:                "./traces",
		MismatchBackoff:         100 * time.Millisecond,
		SaveRestoreBackoff:      400 * time.Millisecond,
		DivergenceAttempts:      400,
		WarnAttempts:            20,
		ExternalReplayerMinPoll: 100 * time.Millisecond,
		ExternalReplayerMaxPoll: 800 * time.Millisecond,
		MockServerReadChunk:     8192,
		MockServerDrainSleep:    50 * time.Second,
		DebugTick:               1 * time.Second,
	}
}

var (
	configOnce sync.Once
	config     *Config
)

// Get returns the process-wide Config singleton, loading defaults on first
// use. Mirrors internal/config/config.go's Get().
func Get() *Config {
	configOnce.Do(func() {
		config = defaultConfig()
		config.applyEnvOverrides()
	})
	return config
}

// LoadConfig reads a YAML file into the singleton, applying defaults for any
// zero-valued fields and then environment overrides.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := defaultConfig()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	// Mark the singleton as initialized so a later Get() keeps cfg instead
	// of replacing it with defaults.
	configOnce.Do(func() {})
	config = cfg
	return config, nil
}

func (c *Config) applyDefaults() {
	d := defaultConfig()
	if c.TraceDir == "" {
		c.TraceDir = d.TraceDir
	}
	if c.MismatchBackoff == 0 {
		c.MismatchBackoff = d.MismatchBackoff
	}
	if c.SaveRestoreBackoff == 0 {
		c.SaveRestoreBackoff = d.SaveRestoreBackoff
	}
	if c.DivergenceAttempts == 0 {
		c.DivergenceAttempts = d.DivergenceAttempts
	}
	if c.WarnAttempts == 0 {
		c.WarnAttempts = d.WarnAttempts
	}
	if c.ExternalReplayerMinPoll == 0 {
		c.ExternalReplayerMinPoll = d.ExternalReplayerMinPoll
	}
	if c.ExternalReplayerMaxPoll == 0 {
		c.ExternalReplayerMaxPoll = d.ExternalReplayerMaxPoll
	}
	if c.MockServerReadChunk == 0 {
		c.MockServerReadChunk = d.MockServerReadChunk
	}
	if c.MockServerDrainSleep == 0 {
		c.MockServerDrainSleep = d.MockServerDrainSleep
	}
	if c.DebugTick == 0 {
		c.DebugTick = d.DebugTick
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AIRREPLAY_TRACE_DIR"); v != "" {
		c.TraceDir = v
	}
	if v := getEnvDuration("AIRREPLAY_MISMATCH_BACKOFF"); v != 0 {
		c.MismatchBackoff = v
	}
	if v := getEnvDuration("AIRREPLAY_SAVE_RESTORE_BACKOFF"); v != 0 {
		c.SaveRestoreBackoff = v
	}
	if v := getEnvInt("AIRREPLAY_DIVERGENCE_ATTEMPTS"); v != 0 {
		c.DivergenceAttempts = v
	}
	if v := getEnvInt("AIRREPLAY_WARN_ATTEMPTS"); v != 0 {
		c.WarnAttempts = v
	}
	if v := getEnvInt("AIRREPLAY_MOCK_SERVER_READ_CHUNK"); v != 0 {
		c.MockServerReadChunk = v
	}
}

func getEnvInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func getEnvDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

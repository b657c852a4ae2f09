// Package config holds the immutable configuration surface of the cache: the
// eviction strategy for L1 and the size/layout knobs for L2.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy selects the L1 eviction policy.
type Strategy string

const (
	StrategyFIFO Strategy = "FIFO"
	StrategyLRU  Strategy = "LRU"
	StrategyLFU  Strategy = "LFU"
)

const (
	MinMemMax = 5
	MaxMemMax = 1_000_000

	MinFsMax = 100
	MaxFsMax = 1_000_000

	MinFsFiles = 2
	MaxFsFiles = 1_000

	minBytesPerFile = 100
)

// Duration is a time.Duration that unmarshals from YAML either as a string
// accepted by time.ParseDuration ("5s", "1m30s") or as a bare integer
// number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return perr
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return err
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

func (d Duration) String() string { return time.Duration(d).String() }

// ConfigError reports a malformed or out-of-range setting.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("tlvcache: config: %v", e.Err)
	}
	return fmt.Sprintf("tlvcache: config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Settings is the immutable configuration of a Cache.
type Settings struct {
	Strategy Strategy `yaml:"strategy"`
	MemMax   int      `yaml:"memoryCacheMaxSize"`
	FsMax    int64    `yaml:"fsCacheMaxSize"`
	FsFiles  int      `yaml:"fsCacheFilesCount"`
	FsDir    string   `yaml:"fsCacheDirPath"`

	// TelemetryLogsInterval enables the periodic telemetry reporter when
	// positive. Zero (the default) disables it.
	TelemetryLogsInterval Duration `yaml:"telemetryLogsInterval"`

	// CachedClockEnabled switches the coordinator's start timestamp and
	// uptime to the coarse background-refreshed clock.
	CachedClockEnabled bool `yaml:"cachedClockEnabled"`
}

// New builds and validates Settings programmatically, the common path for a
// library embedded in another Go program.
func New(strategy Strategy, memMax int, fsMax int64, fsFiles int, fsDir string) (*Settings, error) {
	s := &Settings{Strategy: strategy, MemMax: memMax, FsMax: fsMax, FsFiles: fsFiles, FsDir: fsDir}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads Settings from a YAML file and validates them.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Field: "path", Err: err}
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, &ConfigError{Field: "yaml", Err: err}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate range-checks every field and enforces the
// fsCacheMaxSize/fsCacheFilesCount cross-check.
func (s *Settings) Validate() error {
	switch s.Strategy {
	case StrategyFIFO, StrategyLRU, StrategyLFU:
	default:
		return &ConfigError{Field: "strategy", Err: fmt.Errorf("unsupported strategy %q", s.Strategy)}
	}
	if s.MemMax < MinMemMax || s.MemMax > MaxMemMax {
		return &ConfigError{Field: "memoryCacheMaxSize", Err: fmt.Errorf("must be within [%d, %d], got %d", MinMemMax, MaxMemMax, s.MemMax)}
	}
	if s.FsMax < MinFsMax || s.FsMax > MaxFsMax {
		return &ConfigError{Field: "fsCacheMaxSize", Err: fmt.Errorf("must be within [%d, %d], got %d", MinFsMax, MaxFsMax, s.FsMax)}
	}
	if s.FsFiles < MinFsFiles || s.FsFiles > MaxFsFiles {
		return &ConfigError{Field: "fsCacheFilesCount", Err: fmt.Errorf("must be within [%d, %d], got %d", MinFsFiles, MaxFsFiles, s.FsFiles)}
	}
	if s.FsDir == "" {
		return &ConfigError{Field: "fsCacheDirPath", Err: fmt.Errorf("must not be empty")}
	}
	if info, err := os.Stat(s.FsDir); err != nil || !info.IsDir() {
		return &ConfigError{Field: "fsCacheDirPath", Err: fmt.Errorf("%q is not an existing directory", s.FsDir)}
	}
	if s.TelemetryLogsInterval < 0 {
		return &ConfigError{Field: "telemetryLogsInterval", Err: fmt.Errorf("must not be negative, got %s", s.TelemetryLogsInterval)}
	}
	if s.FsMax/int64(s.FsFiles) < minBytesPerFile {
		return &ConfigError{Err: fmt.Errorf("fsCacheMaxSize/fsCacheFilesCount must be >= %d, got %d", minBytesPerFile, s.FsMax/int64(s.FsFiles))}
	}
	return nil
}

// FsFileMax is the per-file byte budget derived from FsMax/FsFiles.
func (s *Settings) FsFileMax() int64 {
	return s.FsMax / int64(s.FsFiles)
}

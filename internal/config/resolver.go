// Package config resolves runtime settings from a YAML config file,
// AMPPRINT_* environment variables, and CLI flags, in that order of
// increasing precedence. Every resolved value remembers where it came
// from so commands can report the effective configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValueSource identifies where a resolved configuration value came from.
type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// ResolvedValue is a configuration value plus its provenance.
type ResolvedValue struct {
	Value  string
	Source ValueSource
	From   string // config path, env var name, or flag name
}

// CompletionTuning carries the finished-charge heuristic knobs. Zero
// fields fall back to the heuristic's built-in defaults.
type CompletionTuning struct {
	MinReadings      int
	TrailingWindow   time.Duration
	TrailingMinCount int
	IdleWatts        float64
	BufferWindow     time.Duration
	BufferMinCount   int
	ReboundFactor    float64
}

// ResolvedConfig is the effective configuration for a command run.
type ResolvedConfig struct {
	ConfigPath string

	DBPath       ResolvedValue
	SnapshotPath ResolvedValue
	HTTPAddr     ResolvedValue
	LogLevel     ResolvedValue

	MQTTBroker   ResolvedValue
	MQTTClientID ResolvedValue
	MQTTUsername ResolvedValue
	MQTTPassword ResolvedValue
	TopicPrefix  ResolvedValue

	SnapshotEvery ResolvedValue

	Completion CompletionTuning
}

// SnapshotInterval parses the snapshot-every value as a duration.
func (r ResolvedConfig) SnapshotInterval() (time.Duration, error) {
	d, err := time.ParseDuration(r.SnapshotEvery.Value)
	if err != nil {
		return 0, fmt.Errorf("invalid snapshot interval %q (from %s): %w", r.SnapshotEvery.Value, r.SnapshotEvery.From, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("snapshot interval must be positive, got %q", r.SnapshotEvery.Value)
	}
	return d, nil
}

// ResolveOptions carries CLI-provided overrides into ResolveConfig.
type ResolveOptions struct {
	ConfigPath string

	CLIDBPath       string
	CLISnapshotPath string
	CLIHTTPAddr     string
	CLIMQTTBroker   string
	CLILogLevel     string
}

type fileConfig struct {
	DBPath       string `yaml:"db_path"`
	SnapshotPath string `yaml:"snapshot_path"`
	LogLevel     string `yaml:"log_level"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	MQTT struct {
		Broker      string `yaml:"broker"`
		ClientID    string `yaml:"client_id"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`

	Snapshot struct {
		Interval string `yaml:"interval"`
	} `yaml:"snapshot"`

	Completion struct {
		MinReadings      int     `yaml:"min_readings"`
		TrailingWindow   string  `yaml:"trailing_window"`
		TrailingMinCount int     `yaml:"trailing_min_count"`
		IdleWatts        float64 `yaml:"idle_watts"`
		BufferWindow     string  `yaml:"buffer_window"`
		BufferMinCount   int     `yaml:"buffer_min_count"`
		ReboundFactor    float64 `yaml:"rebound_factor"`
	} `yaml:"completion"`
}

// DefaultConfigPath returns ~/.ampprint/config.yaml, or a relative
// fallback when the home directory cannot be determined.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ampprint/config.yaml"
	}
	return filepath.Join(home, ".ampprint", "config.yaml")
}

// ResolveConfig layers the config file, environment, and CLI flags into
// a ResolvedConfig. A missing config file is not an error; a malformed
// one is.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	resolved := ResolvedConfig{}

	cfgPath := opts.ConfigPath
	if cfgPath == "" {
		cfgPath = DefaultConfigPath()
	}
	resolved.ConfigPath = cfgPath

	fc, err := loadConfig(cfgPath)
	if err != nil {
		return resolved, err
	}
	if fc != nil {
		apply(&resolved.DBPath, fc.DBPath, SourceConfig, cfgPath)
		apply(&resolved.SnapshotPath, fc.SnapshotPath, SourceConfig, cfgPath)
		apply(&resolved.LogLevel, fc.LogLevel, SourceConfig, cfgPath)
		apply(&resolved.HTTPAddr, fc.HTTP.Addr, SourceConfig, cfgPath)
		apply(&resolved.MQTTBroker, fc.MQTT.Broker, SourceConfig, cfgPath)
		apply(&resolved.MQTTClientID, fc.MQTT.ClientID, SourceConfig, cfgPath)
		apply(&resolved.MQTTUsername, fc.MQTT.Username, SourceConfig, cfgPath)
		apply(&resolved.MQTTPassword, fc.MQTT.Password, SourceConfig, cfgPath)
		apply(&resolved.TopicPrefix, fc.MQTT.TopicPrefix, SourceConfig, cfgPath)
		apply(&resolved.SnapshotEvery, fc.Snapshot.Interval, SourceConfig, cfgPath)

		tuning, err := completionTuning(fc)
		if err != nil {
			return resolved, fmt.Errorf("config %s: %w", cfgPath, err)
		}
		resolved.Completion = tuning
	}

	applyEnv(&resolved.DBPath, "AMPPRINT_DB")
	applyEnv(&resolved.SnapshotPath, "AMPPRINT_SNAPSHOT")
	applyEnv(&resolved.LogLevel, "AMPPRINT_LOG_LEVEL")
	applyEnv(&resolved.HTTPAddr, "AMPPRINT_HTTP_ADDR")
	applyEnv(&resolved.MQTTBroker, "AMPPRINT_MQTT_BROKER")
	applyEnv(&resolved.MQTTClientID, "AMPPRINT_MQTT_CLIENT_ID")
	applyEnv(&resolved.MQTTUsername, "AMPPRINT_MQTT_USERNAME")
	applyEnv(&resolved.MQTTPassword, "AMPPRINT_MQTT_PASSWORD")
	applyEnv(&resolved.TopicPrefix, "AMPPRINT_TOPIC_PREFIX")
	applyEnv(&resolved.SnapshotEvery, "AMPPRINT_SNAPSHOT_INTERVAL")

	apply(&resolved.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&resolved.SnapshotPath, opts.CLISnapshotPath, SourceCLI, "--snapshot")
	apply(&resolved.HTTPAddr, opts.CLIHTTPAddr, SourceCLI, "--http-addr")
	apply(&resolved.MQTTBroker, opts.CLIMQTTBroker, SourceCLI, "--mqtt-broker")
	apply(&resolved.LogLevel, opts.CLILogLevel, SourceCLI, "--log-level")

	applyDefault(&resolved.HTTPAddr, ":8095")
	applyDefault(&resolved.MQTTClientID, "ampprint")
	applyDefault(&resolved.TopicPrefix, "ampprint")
	applyDefault(&resolved.SnapshotEvery, "1m")
	applyDefault(&resolved.LogLevel, "info")

	resolved.DBPath.Value = expandUserPath(resolved.DBPath.Value)
	resolved.SnapshotPath.Value = expandUserPath(resolved.SnapshotPath.Value)

	return resolved, nil
}

func completionTuning(fc *fileConfig) (CompletionTuning, error) {
	t := CompletionTuning{
		MinReadings:      fc.Completion.MinReadings,
		TrailingMinCount: fc.Completion.TrailingMinCount,
		IdleWatts:        fc.Completion.IdleWatts,
		BufferMinCount:   fc.Completion.BufferMinCount,
		ReboundFactor:    fc.Completion.ReboundFactor,
	}
	var err error
	if fc.Completion.TrailingWindow != "" {
		t.TrailingWindow, err = time.ParseDuration(fc.Completion.TrailingWindow)
		if err != nil {
			return t, fmt.Errorf("completion.trailing_window: %w", err)
		}
	}
	if fc.Completion.BufferWindow != "" {
		t.BufferWindow, err = time.ParseDuration(fc.Completion.BufferWindow)
		if err != nil {
			return t, fmt.Errorf("completion.buffer_window: %w", err)
		}
	}
	return t, nil
}

func apply(dst *ResolvedValue, value string, source ValueSource, from string) {
	if value == "" {
		return
	}
	dst.Value = value
	dst.Source = source
	dst.From = from
}

func applyEnv(dst *ResolvedValue, name string) {
	if v := os.Getenv(name); v != "" {
		dst.Value = v
		dst.Source = SourceEnv
		dst.From = name
	}
}

func applyDefault(dst *ResolvedValue, value string) {
	if dst.Value != "" {
		return
	}
	dst.Value = value
	dst.Source = SourceDefault
	dst.From = "default"
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(expandUserPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &fc, nil
}

func expandUserPath(p string) string {
	if p == "" || !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}

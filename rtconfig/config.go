// Package rtconfig is the runtime's own ambient configuration — log
// level, dispatcher buffer sizing, and pipeline defaults — loaded from
// YAML and overridable by environment variables. No other package in this
// module reads a Config: runtime.Start, flow.New, and Runtime.Stop do not
// take one. This is deliberately not
// a pipeline body format: spec §6 is explicit that "the only persisted or
// exchanged structure is an in-memory runtime", so nothing here describes
// steps, queues, or behaviors — only how the process hosting the runtime
// is configured. It is grounded on the teacher's config.Duration
// (a time.Duration that unmarshals from YAML strings) and extended with
// caarlos0/env/v9 the way the rest of this corpus layers env overrides on
// top of a YAML base.
package rtconfig

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5s"
// or "250ms", ported from the teacher's config.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Config is the runtime process's ambient configuration.
//
// Deliberately no envDefault tags here: caarlos0/env applies envDefault
// unconditionally whenever the environment variable is absent, which would
// stomp a value Load already set from YAML. Defaults instead come from
// Default(), applied before YAML is unmarshalled on top; env tags alone
// (no envDefault) only ever set a field when the variable is actually
// present, so the intended "defaults, then YAML, then env" layering holds.
type Config struct {
	// LogLevel is the zap level name ("debug", "info", "warn", "error").
	LogLevel string `yaml:"log_level" env:"FLOWRT_LOG_LEVEL"`

	// DispatcherBuffer is a size for the dispatcher's command channel.
	// runtime.Start does not read it; its channel always holds 64 commands.
	DispatcherBuffer int `yaml:"dispatcher_buffer" env:"FLOWRT_DISPATCHER_BUFFER"`

	// DefaultConcurrencyMax is a default Max for pipelines no builder
	// combinator (Restartable/Enqueued/Dropping/KeepLatest) configures.
	// -1 means unbounded, matching flow.Unbounded. flow.New does not read
	// it; a new pipeline is always unbounded.
	DefaultConcurrencyMax int `yaml:"default_concurrency_max" env:"FLOWRT_DEFAULT_CONCURRENCY_MAX"`

	// DefaultCancelOnShutdown is a default for a pipeline's
	// CancelOnShutdown flag. flow.New does not read it and always sets the
	// flag true; only CancelOnShutdown(p, flag) changes it.
	DefaultCancelOnShutdown bool `yaml:"default_cancel_on_shutdown" env:"FLOWRT_DEFAULT_CANCEL_ON_SHUTDOWN"`

	// ShutdownGrace is a time bound for shutdown. Runtime.Stop does not
	// read it and applies no time bound of its own.
	ShutdownGrace Duration `yaml:"shutdown_grace" env:"FLOWRT_SHUTDOWN_GRACE"`
}

// Default returns the Config a host gets with no YAML file and no
// environment variables present.
func Default() Config {
	return Config{
		LogLevel:                "info",
		DispatcherBuffer:        64,
		DefaultConcurrencyMax:   -1,
		DefaultCancelOnShutdown: true,
		ShutdownGrace:           Duration(5 * time.Second),
	}
}

// Load starts from Default(), applies yamlData on top (may be nil/empty),
// then applies any FLOWRT_* environment variable overrides (env wins over
// YAML, matching this corpus's usual layering of env-over-file config).
func Load(yamlData []byte) (Config, error) {
	cfg := Default()
	if len(yamlData) > 0 {
		if err := yaml.Unmarshal(yamlData, &cfg); err != nil {
			return Config{}, fmt.Errorf("rtconfig: parse yaml: %w", err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("rtconfig: parse env: %w", err)
	}
	return cfg, nil
}

package kbinder

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/streamhaus/kbinder/serde"
)

// Recognized configuration keys of the flat option surface.
const (
	KeyApplicationID     = "application.id"
	KeyInputDestination  = "input.destination"
	KeyOutputDestination = "output.destination"
	KeyCommitIntervalMs  = "commit.interval.ms"
	KeyDefaultKeySerde   = "default.key.serde"
	KeyDefaultValueSerde = "default.value.serde"
	KeyCleanupOnStart    = "cleanup.on.start"
	KeyCleanupOnStop     = "cleanup.on.stop"
)

// EnvPrefix is the prefix of environment variables overriding binder
// options, e.g. KBINDER_COMMIT_INTERVAL_MS overrides commit.interval.ms.
const EnvPrefix = "KBINDER_"

// CleanupConfig controls whether the binder purges its local state
// directory around its lifecycle. Both default to false: local aggregation
// state persists across restarts unless explicitly requested otherwise.
type CleanupConfig struct {
	OnStart bool
	OnStop  bool
}

// Config is the parsed binder configuration.
type Config struct {
	ApplicationID     string
	InputDestination  string
	OutputDestination string
	CommitInterval    time.Duration
	DefaultKeySerde   string
	DefaultValueSerde string
	Cleanup           CleanupConfig
}

// ParseConfig reads a flat string-keyed option map, applies environment
// overrides and defaults, and validates the result.
func ParseConfig(settings map[string]any) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(settings, "."), nil); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
	}), nil); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	cfg := Config{
		ApplicationID:     k.String(KeyApplicationID),
		InputDestination:  k.String(KeyInputDestination),
		OutputDestination: k.String(KeyOutputDestination),
		CommitInterval:    time.Duration(k.Int64(KeyCommitIntervalMs)) * time.Millisecond,
		DefaultKeySerde:   k.String(KeyDefaultKeySerde),
		DefaultValueSerde: k.String(KeyDefaultValueSerde),
		Cleanup: CleanupConfig{
			OnStart: k.Bool(KeyCleanupOnStart),
			OnStop:  k.Bool(KeyCleanupOnStop),
		},
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.CommitInterval == 0 {
		c.CommitInterval = 5 * time.Second
	}
	if c.DefaultKeySerde == "" {
		c.DefaultKeySerde = SerdeNameString
	}
	if c.DefaultValueSerde == "" {
		c.DefaultValueSerde = SerdeNameString
	}
}

// Validate checks the configuration invariants that must hold before a
// binder may start.
func (c Config) Validate() error {
	if c.ApplicationID == "" {
		return fmt.Errorf("%w: %s is required", ErrConfiguration, KeyApplicationID)
	}
	if c.InputDestination == "" {
		return fmt.Errorf("%w: %s is required", ErrConfiguration, KeyInputDestination)
	}
	if c.OutputDestination == "" {
		return fmt.Errorf("%w: %s is required", ErrConfiguration, KeyOutputDestination)
	}
	if c.CommitInterval <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrConfiguration, KeyCommitIntervalMs)
	}
	for _, name := range []string{c.DefaultKeySerde, c.DefaultValueSerde} {
		if _, err := DefaultSerde(name); err != nil {
			return err
		}
	}
	return nil
}

// Names accepted for default.key.serde / default.value.serde.
const (
	SerdeNameString = "string"
	SerdeNameInt64  = "int64"
	SerdeNameJSON   = "json"
	SerdeNameBytes  = "bytes"
)

// DefaultSerde resolves a configured serde name to a type-erased serde. At
// Start it stands in for channels without an explicitly registered pair, so
// binding validation can still vet the configured names.
func DefaultSerde(name string) (RawSerde, error) {
	switch name {
	case SerdeNameString:
		return eraseSerde(serde.String), nil
	case SerdeNameInt64:
		return eraseSerde(serde.Int64), nil
	case SerdeNameJSON:
		return eraseSerde(serde.JSON[json.RawMessage]()), nil
	case SerdeNameBytes:
		return eraseSerde(serde.Serde[[]byte]{
			Serializer:   func(b []byte) ([]byte, error) { return b, nil },
			Deserializer: func(b []byte) ([]byte, error) { return b, nil },
		}), nil
	default:
		return RawSerde{}, fmt.Errorf("%w: unknown serde name %q", ErrConfiguration, name)
	}
}

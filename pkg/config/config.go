// Package config loads and layers region server configuration: built-in
// defaults, an optional YAML file, environment overrides, and finally the
// config_map a master hands back from startup().
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	flag "github.com/spf13/pflag"
)

// Config holds every tunable the core consults, named after the
// configuration keys of §6.
type Config struct {
	Address      string `koanf:"hbase.regionserver.address"`
	HandlerCount int    `koanf:"hbase.regionserver.handler.count"`
	InfoPort     int    `koanf:"hbase.regionserver.info.port"`

	MsgIntervalMS int `koanf:"hbase.regionserver.msginterval"`

	MasterLeasePeriodMS int `koanf:"hbase.master.lease.period"`
	ScannerLeasePeriodMS int `koanf:"hbase.regionserver.lease.period"`

	CompactCheckFrequencyMS int `koanf:"hbase.regionserver.thread.splitcompactcheckfrequency"`
	OptionalFlushPeriodMS   int `koanf:"hbase.regionserver.optionalcacheflushinterval"`

	GlobalMemcacheLimit        int64 `koanf:"hbase.regionserver.globalMemcacheLimit"`
	GlobalMemcacheLimitLowMark int64 `koanf:"hbase.regionserver.globalMemcacheLimitLowMark"`

	ClientRetriesNumber int `koanf:"hbase.client.retries.number"`
	ThreadWakeFrequencyMS int `koanf:"threadWakeFrequency"`

	RootDir    string `koanf:"hbase.rootdir"`
	MasterAddr string `koanf:"hbase.master"`
}

// MsgInterval, ScannerLeasePeriod, etc. convert the millisecond fields into
// time.Duration for use by the background workers.
func (c *Config) MsgInterval() time.Duration { return time.Duration(c.MsgIntervalMS) * time.Millisecond }
func (c *Config) MasterLeasePeriod() time.Duration {
	return time.Duration(c.MasterLeasePeriodMS) * time.Millisecond
}
func (c *Config) ScannerLeasePeriod() time.Duration {
	return time.Duration(c.ScannerLeasePeriodMS) * time.Millisecond
}
func (c *Config) CompactCheckFrequency() time.Duration {
	return time.Duration(c.CompactCheckFrequencyMS) * time.Millisecond
}
func (c *Config) OptionalFlushPeriod() time.Duration {
	return time.Duration(c.OptionalFlushPeriodMS) * time.Millisecond
}
func (c *Config) ThreadWakeFrequency() time.Duration {
	return time.Duration(c.ThreadWakeFrequencyMS) * time.Millisecond
}

// flagConfigKeys maps a CLI flag name (as defined in cmd/regiond) to the
// config key it overrides. Flags absent from this map are ignored by
// Load, so cobra's own persistent flags (log-level, log-json, config) can
// share the same *pflag.FlagSet without leaking into the config layer.
var flagConfigKeys = map[string]string{
	"bind": "hbase.regionserver.address",
}

// Defaults returns the configuration defaults named in §6.
func Defaults() Config {
	return Config{
		Address:                    "0.0.0.0:60020",
		HandlerCount:               10,
		InfoPort:                   60030,
		MsgIntervalMS:              3000,
		MasterLeasePeriodMS:        30000,
		ScannerLeasePeriodMS:       180000,
		CompactCheckFrequencyMS:    20000,
		OptionalFlushPeriodMS:      1800000,
		GlobalMemcacheLimit:        536870912,
		GlobalMemcacheLimitLowMark: 536870912 / 2,
		ClientRetriesNumber:        2,
		ThreadWakeFrequencyMS:      10000,
		RootDir:                    "/var/lib/regiond",
		MasterAddr:                 "127.0.0.1:60000",
	}
}

// Load builds a Config by layering, in order of increasing precedence:
// built-in defaults, an optional YAML file at path (skipped if path is
// empty), environment variables prefixed REGIOND_ (double underscore maps
// to a dotted key, e.g. REGIOND_HBASE__ROOTDIR), and finally flags, the
// command line's overrides (flags may be nil, in which case no flag layer
// is applied).
func Load(path string, flags *flag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	defaults := Defaults()
	defaultsMap, err := structToMap(defaults)
	if err != nil {
		return nil, fmt.Errorf("config: building defaults: %w", err)
	}
	if err := k.Load(confmap.Provider(defaultsMap, "."), nil); err != nil {
		return nil, fmt.Errorf("config: loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading file %s: %w", path, err)
		}
	}

	err = k.Load(env.Provider("REGIOND_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "REGIOND_")
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}

	if flags != nil {
		err = k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *flag.Flag) (string, interface{}) {
			key, ok := flagConfigKeys[f.Name]
			if !ok || f.Value.String() == "" {
				return "", nil
			}
			return key, f.Value.String()
		}), nil)
		if err != nil {
			return nil, fmt.Errorf("config: loading flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

// ApplyConfigMap merges a master-returned config_map (string keys and
// values, as returned by startup()) on top of the current configuration.
// Unknown keys are ignored; values are parsed with koanf's loose numeric
// coercion.
func (c *Config) ApplyConfigMap(configMap map[string]string) error {
	k := koanf.New(".")
	existing, err := structToMap(*c)
	if err != nil {
		return fmt.Errorf("config: re-marshaling current config: %w", err)
	}
	if err := k.Load(confmap.Provider(existing, "."), nil); err != nil {
		return err
	}

	overlay := make(map[string]interface{}, len(configMap))
	for key, value := range configMap {
		overlay[key] = value
	}
	if err := k.Load(confmap.Provider(overlay, "."), nil); err != nil {
		return fmt.Errorf("config: applying config_map: %w", err)
	}

	var merged Config
	if err := k.Unmarshal("", &merged); err != nil {
		return fmt.Errorf("config: unmarshaling merged config: %w", err)
	}
	*c = merged
	return c.Validate()
}

// Validate rejects configurations that would make the core's invariants
// impossible to uphold.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("hbase.regionserver.address is required")
	}
	if c.HandlerCount <= 0 {
		return fmt.Errorf("hbase.regionserver.handler.count must be positive")
	}
	if c.GlobalMemcacheLimitLowMark > c.GlobalMemcacheLimit {
		return fmt.Errorf("globalMemcacheLimitLowMark must not exceed globalMemcacheLimit")
	}
	if c.RootDir == "" {
		return fmt.Errorf("hbase.rootdir is required")
	}
	return nil
}

func structToMap(cfg Config) (map[string]interface{}, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return nil, err
	}
	return k.All(), nil
}

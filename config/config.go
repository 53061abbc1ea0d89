/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package config loads and validates the service configuration.
//
// Service settings come from an optional YAML file and environment variables
// with the RATEBUCKET_ prefix. Buckets are declared either in the file under
// the "buckets" key or, like the original deployment scheme, as dedicated
// environment variables: BUCKET_foo=2/5s:15/m:100/4h defines the bucket "foo".
package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/acronis/go-ratebucket/limiter"
	"github.com/acronis/go-ratebucket/log"
	"github.com/acronis/go-ratebucket/ratespec"
)

// DefaultBucketEnvPrefix is the default prefix of bucket-declaring environment variables.
const DefaultBucketEnvPrefix = "BUCKET_"

// EnvPrefix is the prefix of environment variables overriding service settings,
// e.g. RATEBUCKET_REDIS_ADDRESS.
const EnvPrefix = "ratebucket"

// ServerConfig represents a configuration for the HTTP API server.
type ServerConfig struct {
	Address         string        `mapstructure:"address" yaml:"address" json:"address"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout" yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout" yaml:"writeTimeout" json:"writeTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout" yaml:"shutdownTimeout" json:"shutdownTimeout"`
}

// RedisConfig represents a configuration for the shared Redis store.
type RedisConfig struct {
	Address          string        `mapstructure:"address" yaml:"address" json:"address"`
	Password         string        `mapstructure:"password" yaml:"password" json:"password"`
	DB               int           `mapstructure:"db" yaml:"db" json:"db"`
	KeyPrefix        string        `mapstructure:"keyPrefix" yaml:"keyPrefix" json:"keyPrefix"`
	WaitReadyTimeout time.Duration `mapstructure:"waitReadyTimeout" yaml:"waitReadyTimeout" json:"waitReadyTimeout"`
}

// AcquireConfig represents options applied to every limiter.
type AcquireConfig struct {
	// MaxWait bounds blocking acquisitions; zero reproduces the unbounded wait.
	MaxWait   time.Duration `mapstructure:"maxWait" yaml:"maxWait" json:"maxWait"`
	MaxJitter time.Duration `mapstructure:"maxJitter" yaml:"maxJitter" json:"maxJitter"`
}

// MetricsConfig represents a configuration for metrics collecting.
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace" yaml:"namespace" json:"namespace"`
}

// BucketConfig represents a configuration of a single bucket.
// In YAML it may be either a plain rate list string ("2/5s:15/m")
// or a mapping with rates and optional item filters.
type BucketConfig struct {
	Rates         ratespec.TierList `mapstructure:"rates" yaml:"rates" json:"rates"`
	ExcludedItems []string          `mapstructure:"excludedItems" yaml:"excludedItems" json:"excludedItems"`
	IncludedItems []string          `mapstructure:"includedItems" yaml:"includedItems" json:"includedItems"`
}

// Config is the root configuration of the service.
type Config struct {
	Server  ServerConfig            `mapstructure:"server" yaml:"server" json:"server"`
	Redis   RedisConfig             `mapstructure:"redis" yaml:"redis" json:"redis"`
	Log     log.Config              `mapstructure:"log" yaml:"log" json:"log"`
	Metrics MetricsConfig           `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Acquire AcquireConfig           `mapstructure:"acquire" yaml:"acquire" json:"acquire"`
	Buckets map[string]BucketConfig `mapstructure:"buckets" yaml:"buckets" json:"buckets"`
}

// setProviderDefaults registers default values in viper. Environment overrides
// only apply to keys viper knows about, so every overridable key gets a default.
func setProviderDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.readTimeout", "30s")
	// Blocking acquisitions may be held for a while.
	v.SetDefault("server.writeTimeout", "10m")
	v.SetDefault("server.shutdownTimeout", "5s")
	v.SetDefault("redis.address", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.keyPrefix", "")
	v.SetDefault("redis.waitReadyTimeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file.rotation.maxSizeMb", 250)
	v.SetDefault("log.file.rotation.maxBackups", 10)
	v.SetDefault("metrics.namespace", "ratebucket")
	v.SetDefault("acquire.maxWait", "0")
	v.SetDefault("acquire.maxJitter", "0")
}

// Load reads the configuration from the optional YAML file at path,
// applies RATEBUCKET_-prefixed environment overrides for service settings
// and validates the result. Bucket-declaring environment variables are
// collected separately with CollectEnvBuckets.
func Load(path string) (*Config, error) {
	v := viper.New()
	setProviderDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigType("yaml")
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
			bucketFromStringHookFunc(),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CollectEnvBuckets parses bucket declarations from the environment
// (pass os.Environ()) and merges them into the configuration.
// An environment declaration overrides a file declaration of the same bucket.
func (c *Config) CollectEnvBuckets(environ []string, prefix string) error {
	if prefix == "" {
		prefix = DefaultBucketEnvPrefix
	}
	if c.Buckets == nil {
		c.Buckets = make(map[string]BucketConfig)
	}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		name, spec, ok := strings.Cut(strings.TrimPrefix(kv, prefix), "=")
		if !ok || name == "" {
			continue
		}
		var tiers ratespec.TierList
		if err := tiers.UnmarshalText([]byte(spec)); err != nil {
			return fmt.Errorf("parse bucket %q from environment: %w", name, err)
		}
		bucket := c.Buckets[name]
		bucket.Rates = tiers
		c.Buckets[name] = bucket
	}
	return nil
}

// Validate validates configuration. Any invalid bucket definition is an error:
// the process must not start with one.
func (c *Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("validate log config: %w", err)
	}
	if _, err := c.BucketDefs(); err != nil {
		return err
	}
	return nil
}

// BucketDefs builds validated bucket definitions for the limiter registry,
// sorted by bucket name.
func (c *Config) BucketDefs() ([]limiter.BucketDef, error) {
	names := make([]string, 0, len(c.Buckets))
	for name := range c.Buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]limiter.BucketDef, 0, len(names))
	for _, name := range names {
		bucket := c.Buckets[name]
		spec, err := ratespec.NewBucketSpec(name, bucket.Rates)
		if err != nil {
			return nil, fmt.Errorf("validate bucket %q: %w", name, err)
		}
		defs = append(defs, limiter.BucketDef{
			Spec:          spec,
			ExcludedItems: bucket.ExcludedItems,
			IncludedItems: bucket.IncludedItems,
		})
	}
	return defs, nil
}

// bucketFromStringHookFunc lets a bucket be declared as a plain rate list string.
func bucketFromStringHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != reflect.TypeOf(BucketConfig{}) || f.Kind() != reflect.String {
			return data, nil
		}
		s, err := cast.ToStringE(data)
		if err != nil {
			return nil, err
		}
		var tiers ratespec.TierList
		if err := tiers.UnmarshalText([]byte(s)); err != nil {
			return nil, err
		}
		return BucketConfig{Rates: tiers}, nil
	}
}

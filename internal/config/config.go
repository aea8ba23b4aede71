// Package config loads playlake run configuration.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/malbeclabs/playlake/internal/records"
	"github.com/malbeclabs/playlake/internal/storage"
)

const envPrefix = "PLAYLAKE_"

// Config represents the complete configuration for a run.
type Config struct {
	Input       string           `toml:"input"`
	Output      string           `toml:"output"`
	StagingDir  string           `toml:"staging_dir"`
	Workers     int              `toml:"workers"`
	Partitions  int              `toml:"partitions"`
	DuckThreads int              `toml:"duck_threads"`
	Malformed   string           `toml:"malformed"`
	MetricsAddr string           `toml:"metrics_addr"`
	DryRun      bool             `toml:"dry_run"`
	S3          storage.S3Config `toml:"s3"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Malformed: string(records.MalformedSkip),
	}
}

// Load loads configuration from a TOML file and environment variables looked
// up with getenv. Priority: CLI flags > environment > config file > defaults;
// flags are applied afterwards with ApplyOverrides.
func Load(configPath string, getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	}

	if v := getenv(envPrefix + "INPUT"); v != "" {
		cfg.Input = v
	}
	if v := getenv(envPrefix + "OUTPUT"); v != "" {
		cfg.Output = v
	}
	if v := getenv(envPrefix + "STAGING_DIR"); v != "" {
		cfg.StagingDir = v
	}
	if v := getenv(envPrefix + "MALFORMED"); v != "" {
		cfg.Malformed = v
	}
	if v := getenv(envPrefix + "METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := getenv(envPrefix + "DRY_RUN"); v != "" {
		cfg.DryRun = v == "true" || v == "1"
	}
	for key, dst := range map[string]*int{
		"WORKERS":      &cfg.Workers,
		"PARTITIONS":   &cfg.Partitions,
		"DUCK_THREADS": &cfg.DuckThreads,
	} {
		v := getenv(envPrefix + key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s%s %q: %w", envPrefix, key, v, err)
		}
		*dst = n
	}

	if cfg.S3 == (storage.S3Config{}) {
		s3Cfg, err := storage.LoadS3ConfigFromEnv(getenv)
		if err != nil {
			return nil, fmt.Errorf("failed to load S3 configuration: %w", err)
		}
		cfg.S3 = *s3Cfg
	} else {
		overlayS3Env(&cfg.S3, getenv)
	}

	return cfg, nil
}

// overlayS3Env applies S3 environment variables that are set over values
// from the config file.
func overlayS3Env(c *storage.S3Config, getenv func(string) string) {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	set(&c.AccessKeyID, "S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	set(&c.SecretAccessKey, "S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")
	set(&c.Endpoint, "S3_ENDPOINT", "AWS_ENDPOINT_URL")
	set(&c.Region, "S3_REGION", "AWS_REGION")
	set(&c.URLStyle, "S3_URL_STYLE")
	if v := getenv("S3_USE_SSL"); v != "" {
		c.UseSSL = v == "true" || v == "1"
	}
}

// Overrides holds CLI flag values; nil fields were not set.
type Overrides struct {
	Input       *string
	Output      *string
	StagingDir  *string
	Malformed   *string
	MetricsAddr *string
	Workers     *int
	Partitions  *int
	DryRun      *bool
}

// ApplyOverrides applies CLI flag overrides to the configuration.
func (c *Config) ApplyOverrides(o Overrides) {
	setString := func(dst *string, v *string) {
		if v != nil && *v != "" {
			*dst = *v
		}
	}
	setString(&c.Input, o.Input)
	setString(&c.Output, o.Output)
	setString(&c.StagingDir, o.StagingDir)
	setString(&c.Malformed, o.Malformed)
	setString(&c.MetricsAddr, o.MetricsAddr)
	if o.Workers != nil {
		c.Workers = *o.Workers
	}
	if o.Partitions != nil {
		c.Partitions = *o.Partitions
	}
	if o.DryRun != nil {
		c.DryRun = *o.DryRun
	}
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.Input == "" {
		return fmt.Errorf("input cannot be empty")
	}
	if c.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}
	in, err := storage.ParseURI(c.Input)
	if err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	out, err := storage.ParseURI(c.Output)
	if err != nil {
		return fmt.Errorf("invalid output: %w", err)
	}

	policy, err := records.ParseMalformedPolicy(c.Malformed)
	if err != nil {
		return err
	}
	c.Malformed = string(policy)

	if c.Workers < 0 || c.Partitions < 0 || c.DuckThreads < 0 {
		return fmt.Errorf("workers, partitions and duck_threads must be >= 0")
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Partitions == 0 {
		c.Partitions = c.Workers
	}
	if c.StagingDir == "" {
		c.StagingDir = os.TempDir()
	}

	if in.IsS3() || out.IsS3() {
		if err := c.S3.Validate(); err != nil {
			return fmt.Errorf("invalid S3 configuration: %w", err)
		}
	}
	return nil
}

// URIs returns the parsed input and output locations.
func (c *Config) URIs() (in, out storage.URI, err error) {
	if in, err = storage.ParseURI(c.Input); err != nil {
		return in, out, fmt.Errorf("invalid input: %w", err)
	}
	if out, err = storage.ParseURI(c.Output); err != nil {
		return in, out, fmt.Errorf("invalid output: %w", err)
	}
	return in, out, nil
}

// Policy returns the malformed record policy. Call after Validate.
func (c *Config) Policy() records.MalformedPolicy {
	return records.MalformedPolicy(c.Malformed)
}

// Package config loads the client's JSONC configuration file (server
// list, bucket count, replication parameters), merging defaults, a config
// file, and CLI overrides, adapted to a single config-file -> CLI-override
// precedence since this client has no per-project context.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// ErrServersEmpty is returned when a config resolves with no servers
// configured: a router with no replicas can serve nothing.
var ErrServersEmpty = errors.New("config: servers must not be empty")

// ErrConfigFileRead is wrapped around I/O errors reading an explicit
// config path.
var ErrConfigFileRead = errors.New("config: could not read file")

// ErrConfigInvalid is wrapped around JSONC/JSON parse errors.
var ErrConfigInvalid = errors.New("config: invalid config file")

// Config is the on-disk/CLI-overridable shape of the client's sharding and
// quorum parameters.
type Config struct {
	// Servers maps each replica endpoint to the bucket ids it owns.
	Servers map[string][]int `json:"servers"`

	// BucketsCount is the number of hash-space buckets. Zero means "use
	// the router's default".
	BucketsCount int `json:"buckets_count,omitempty"`

	// N is the replica count per bucket. It is informational only: it is
	// not validated, and the router derives actual replica counts from
	// Servers.
	N int `json:"n,omitempty"`
	// W is the write quorum.
	W int `json:"w,omitempty"`
	// R is the read quorum.
	R int `json:"r,omitempty"`
}

// Default returns the documented defaults for N/W/R.
func Default() Config {
	return Config{
		N: 3,
		W: 1,
		R: 1,
	}
}

// Overrides holds CLI flag values that, when set, take precedence over
// the config file.
type Overrides struct {
	BucketsCount *int
	N            *int
	W            *int
	R            *int
}

// Load reads path (if non-empty) as a JSONC config file, merges it over
// Default(), applies overrides, and validates the result. A non-empty
// path that doesn't exist is an error; an empty path means "use defaults
// and overrides only".
func Load(path string, overrides Overrides) (Config, error) {
	cfg := Default()

	if path != "" {
		fileCfg, err := loadFile(path)
		if err != nil {
			return Config{}, err
		}

		cfg = merge(cfg, fileCfg)
	}

	cfg = applyOverrides(cfg, overrides)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	return parse(data, path)
}

func parse(data []byte, path string) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.Servers != nil {
		base.Servers = overlay.Servers
	}

	if overlay.BucketsCount != 0 {
		base.BucketsCount = overlay.BucketsCount
	}

	if overlay.N != 0 {
		base.N = overlay.N
	}

	if overlay.W != 0 {
		base.W = overlay.W
	}

	if overlay.R != 0 {
		base.R = overlay.R
	}

	return base
}

func applyOverrides(cfg Config, o Overrides) Config {
	if o.BucketsCount != nil {
		cfg.BucketsCount = *o.BucketsCount
	}

	if o.N != nil {
		cfg.N = *o.N
	}

	if o.W != nil {
		cfg.W = *o.W
	}

	if o.R != nil {
		cfg.R = *o.R
	}

	return cfg
}

func validate(cfg Config) error {
	if len(cfg.Servers) == 0 {
		return ErrServersEmpty
	}

	if cfg.W <= 0 {
		return fmt.Errorf("config: w must be positive, got %d", cfg.W)
	}

	if cfg.R <= 0 {
		return fmt.Errorf("config: r must be positive, got %d", cfg.R)
	}

	return nil
}

// Format renders cfg back to indented JSON, for diagnostics.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("config: format: %w", err)
	}

	return string(data), nil
}

// Package config loads training settings from a TOML file.
package config

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ieee0824/gopscore/forest"
	"github.com/ieee0824/gopscore/gop"
	"github.com/ieee0824/gopscore/scores"
)

// Config is the on-disk training configuration.
type Config struct {
	Floor       float64 `toml:"floor"`
	Format      string  `toml:"format"`
	BalanceSeed int64   `toml:"balance_seed"`
	Forest      Forest  `toml:"forest"`

	// FormatSet reports whether format came from a file rather than the
	// default.
	FormatSet bool `toml:"-"`
}

// Forest mirrors forest.Config with TOML names.
type Forest struct {
	Trees           int     `toml:"trees"`
	MaxDepth        int     `toml:"max_depth"`
	MinSamplesSplit int     `toml:"min_samples_split"`
	MinSamplesLeaf  int     `toml:"min_samples_leaf"`
	MaxFeatures     float64 `toml:"max_features"`
	Bootstrap       bool    `toml:"bootstrap"`
	OOBScore        bool    `toml:"oob_score"`
	Seed            int64   `toml:"seed"`
	Jobs            int     `toml:"jobs"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	fc := forest.DefaultConfig()
	return Config{
		Floor:  scores.DefaultFloor,
		Format: string(gop.FormatGob),
		Forest: Forest{
			Trees:           fc.NumTrees,
			MaxDepth:        fc.MaxDepth,
			MinSamplesSplit: fc.MinSamplesSplit,
			MinSamplesLeaf:  fc.MinSamplesLeaf,
			MaxFeatures:     fc.MaxFeatures,
			Bootstrap:       fc.Bootstrap,
			OOBScore:        fc.OOBScore,
			Seed:            fc.Seed,
			Jobs:            fc.Jobs,
		},
	}
}

// Load overlays the TOML document in r on the defaults.
func Load(r io.Reader) (Config, error) {
	cfg := Default()
	meta, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse TOML: %w", err)
	}
	cfg.FormatSet = meta.IsDefined("format")
	return cfg, checkDecoded(meta, cfg)
}

// LoadFile overlays the TOML file at path on the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	cfg.FormatSet = meta.IsDefined("format")
	if err := checkDecoded(meta, cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func checkDecoded(meta toml.MetaData, cfg Config) error {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return cfg.Validate()
}

// Validate checks every field.
func (c Config) Validate() error {
	if math.IsNaN(c.Floor) || math.IsInf(c.Floor, 0) {
		return fmt.Errorf("floor must be finite, got %v", c.Floor)
	}
	if _, err := gop.ParseFormat(c.Format); err != nil {
		return err
	}
	return c.TrainConfig().Forest.Validate()
}

// ModelFormat returns the parsed output format.
func (c Config) ModelFormat() (gop.Format, error) {
	return gop.ParseFormat(c.Format)
}

// TrainConfig converts the file settings to training parameters.
func (c Config) TrainConfig() gop.TrainConfig {
	return gop.TrainConfig{
		BalanceSeed: c.BalanceSeed,
		Forest: forest.Config{
			NumTrees:        c.Forest.Trees,
			MaxDepth:        c.Forest.MaxDepth,
			MinSamplesSplit: c.Forest.MinSamplesSplit,
			MinSamplesLeaf:  c.Forest.MinSamplesLeaf,
			MaxFeatures:     c.Forest.MaxFeatures,
			Bootstrap:       c.Forest.Bootstrap,
			OOBScore:        c.Forest.OOBScore,
			Seed:            c.Forest.Seed,
			Jobs:            c.Forest.Jobs,
		},
	}
}

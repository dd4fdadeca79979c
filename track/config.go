package track

import (
	"fmt"
	"log/slog"

	mp4 "github.com/tetsuo/atomparse"
	"gopkg.in/yaml.v3"
)

// DefaultFragmentTimescale is the timescale given to tracks that appear
// only in movie fragments, 100ns units.
const DefaultFragmentTimescale = 10_000_000

// Config controls parsing limits and error policy.
type Config struct {
	// MaxTopLevelBoxes bounds the root scan.
	MaxTopLevelBoxes int `yaml:"max_top_level_boxes"`
	// MaxBodySize bounds the size of a moov or moof body loaded into memory.
	MaxBodySize uint64 `yaml:"max_body_size"`
	// MaxSamples bounds the samples of one track. A sample table over the
	// bound excludes the track; a traf that would pass it is dropped.
	MaxSamples int `yaml:"max_samples"`
	// FragmentTimescale applies to tracks without a moov entry.
	FragmentTimescale uint32 `yaml:"fragment_timescale"`
	// MatchFragmentsByID merges each traf into the track named by its tfhd
	// track id instead of the track at the same ordinal.
	MatchFragmentsByID bool `yaml:"match_fragments_by_id"`
	// Strict turns an excluded track into a parse error.
	Strict bool `yaml:"strict"`

	// Logger receives non-fatal diagnostics. Nil discards them.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns the default limits with lenient error handling.
func DefaultConfig() Config {
	return Config{
		MaxTopLevelBoxes:  mp4.DefaultMaxTopLevelBoxes,
		MaxBodySize:       mp4.DefaultMaxBodySize,
		MaxSamples:        mp4.DefaultMaxSamples,
		FragmentTimescale: DefaultFragmentTimescale,
	}
}

// LoadConfig decodes YAML over the defaults. Keys absent from data keep
// their default values.
func LoadConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg.withDefaults(), nil
}

// withDefaults fills zero limits so a partially set Config is usable.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxTopLevelBoxes <= 0 {
		c.MaxTopLevelBoxes = d.MaxTopLevelBoxes
	}
	if c.MaxBodySize == 0 {
		c.MaxBodySize = d.MaxBodySize
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = d.MaxSamples
	}
	if c.FragmentTimescale == 0 {
		c.FragmentTimescale = d.FragmentTimescale
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

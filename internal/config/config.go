// Package config defines the per-KB default / per-session overlay
// configuration table (spec §6), loaded from a TOML file in the
// teacher pack's idiom (see github.com/BurntSushi/toml usage across
// Creative-Workz-Studio-LLC-cpi-si-claude-code/system/lib/config).
package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/EchoCog/katocore/internal/katoerr"
)

// STMMode selects the post-learn STM behavior (spec §6).
type STMMode string

const (
	STMModeClear   STMMode = "CLEAR"
	STMModeRolling STMMode = "ROLLING"
)

// Config is the spec §6 configuration table. Every field has a default
// matching the table; a session overlay is produced by taking a KB's
// Config and applying only the fields a caller set.
type Config struct {
	MaxPatternLength  int     `toml:"max_pattern_length"`
	STMMode           STMMode `toml:"stm_mode"`
	Persistence       int     `toml:"persistence"`
	RecallThreshold   float64 `toml:"recall_threshold"`
	MaxPredictions    int     `toml:"max_predictions"`
	Sort              bool    `toml:"sort"`
	ProcessPredictions bool   `toml:"process_predictions"`
	UseTokenMatching  bool    `toml:"use_token_matching"`
	RankSortAlgo      string  `toml:"rank_sort_algo"`
	SessionTTL        int     `toml:"session_ttl"`
	SessionAutoExtend bool    `toml:"session_auto_extend"`
}

// Default returns the spec §6 default configuration.
func Default() Config {
	return Config{
		MaxPatternLength:   0,
		STMMode:            STMModeClear,
		Persistence:        5,
		RecallThreshold:    0.1,
		MaxPredictions:     100,
		Sort:               true,
		ProcessPredictions: true,
		UseTokenMatching:   false,
		RankSortAlgo:       "potential",
		SessionTTL:         3600,
		SessionAutoExtend:  true,
	}
}

// Load reads a TOML config file, starting from Default() so a partial
// file only overrides the keys it sets.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, katoerr.Wrap(katoerr.InvalidConfig, path, "failed to decode config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Overlay is a sparse set of fields a session may override atop a KB's
// default Config (spec §3, §6: "per-session configuration overlay").
// A nil pointer field means "inherit the KB default".
type Overlay struct {
	MaxPatternLength  *int
	STMMode           *STMMode
	Persistence       *int
	RecallThreshold   *float64
	MaxPredictions    *int
	UseTokenMatching  *bool
	ProcessPredictions *bool
	RankSortAlgo      *string
	SessionTTL        *int
	SessionAutoExtend *bool
}

// Apply produces the effective Config for a session: base fields
// overridden by whichever overlay fields are set.
func (o Overlay) Apply(base Config) Config {
	out := base
	if o.MaxPatternLength != nil {
		out.MaxPatternLength = *o.MaxPatternLength
	}
	if o.STMMode != nil {
		out.STMMode = *o.STMMode
	}
	if o.Persistence != nil {
		out.Persistence = *o.Persistence
	}
	if o.RecallThreshold != nil {
		out.RecallThreshold = *o.RecallThreshold
	}
	if o.MaxPredictions != nil {
		out.MaxPredictions = *o.MaxPredictions
	}
	if o.UseTokenMatching != nil {
		out.UseTokenMatching = *o.UseTokenMatching
	}
	if o.ProcessPredictions != nil {
		out.ProcessPredictions = *o.ProcessPredictions
	}
	if o.RankSortAlgo != nil {
		out.RankSortAlgo = *o.RankSortAlgo
	}
	if o.SessionTTL != nil {
		out.SessionTTL = *o.SessionTTL
	}
	if o.SessionAutoExtend != nil {
		out.SessionAutoExtend = *o.SessionAutoExtend
	}
	return out
}

// Validate rejects out-of-range values, surfacing InvalidConfig with
// the offending field name (spec §6, §7).
func (c Config) Validate() error {
	switch {
	case c.MaxPatternLength < 0:
		return katoerr.New(katoerr.InvalidConfig, "max_pattern_length", "must be >= 0")
	case c.Persistence < 0:
		return katoerr.New(katoerr.InvalidConfig, "persistence", "must be >= 0")
	case c.RecallThreshold < 0 || c.RecallThreshold > 1:
		return katoerr.New(katoerr.InvalidConfig, "recall_threshold", "must be within [0,1]")
	case c.MaxPredictions < 0:
		return katoerr.New(katoerr.InvalidConfig, "max_predictions", "must be >= 0")
	case c.STMMode != STMModeClear && c.STMMode != STMModeRolling:
		return katoerr.New(katoerr.InvalidConfig, "stm_mode", "must be CLEAR or ROLLING")
	case c.SessionTTL < 0:
		return katoerr.New(katoerr.InvalidConfig, "session_ttl", "must be >= 0")
	case !validMetric(c.RankSortAlgo):
		return katoerr.New(katoerr.InvalidConfig, "rank_sort_algo", "unknown metric name")
	}
	return nil
}

func validMetric(name string) bool {
	switch name {
	case "similarity", "evidence", "frequency", "fragmentation", "snr",
		"confidence", "normalized_entropy", "global_normalized_entropy",
		"itfdf_similarity", "confluence", "predictive_information", "potential":
		return true
	}
	return false
}

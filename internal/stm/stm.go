// Package stm implements the STM / memory manager (spec §4.5): pure
// functions over a session-owned event sequence, no hidden state.
package stm

import (
	"github.com/EchoCog/katocore/internal/config"
	"github.com/EchoCog/katocore/internal/types"
)

// Observe appends the canonicalized event to stm (spec §4.5 observe).
// The input stm is never mutated in place; the returned sequence is a
// new slice.
func Observe(stm types.Sequence, event types.Event) types.Sequence {
	out := make(types.Sequence, len(stm), len(stm)+1)
	copy(out, stm)
	return append(out, event)
}

// Clear returns an empty STM (spec §4.5 clear_stm).
func Clear(types.Sequence) types.Sequence {
	return types.Sequence{}
}

// ShouldAutoLearn reports whether stm has reached the configured
// auto-learn threshold (spec §4.5 should_auto_learn): true only when
// max_pattern_length > 0 and len(stm) >= max_pattern_length.
func ShouldAutoLearn(stm types.Sequence, cfg config.Config) bool {
	return cfg.MaxPatternLength > 0 && len(stm) >= cfg.MaxPatternLength
}

// ApplyMode returns the post-learn STM per the configured stm_mode
// (spec §4.5 apply_stm_mode): CLEAR empties it; ROLLING retains the
// trailing max_pattern_length-1 events. A non-positive window (e.g.
// max_pattern_length=1, window size 0) collapses ROLLING to empty too.
func ApplyMode(stm types.Sequence, cfg config.Config) types.Sequence {
	if cfg.STMMode == config.STMModeRolling {
		window := cfg.MaxPatternLength - 1
		if window <= 0 {
			return types.Sequence{}
		}
		if len(stm) <= window {
			out := make(types.Sequence, len(stm))
			copy(out, stm)
			return out
		}
		out := make(types.Sequence, window)
		copy(out, stm[len(stm)-window:])
		return out
	}
	return types.Sequence{}
}

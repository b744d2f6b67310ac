// Package processor implements the orchestration glue (spec §4.7):
// thin plumbing between sessions, the pure STM operations, the pattern
// store, candidate retrieval, and the matcher. It holds no per-session
// state of its own — everything lives in the session record.
package processor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/EchoCog/katocore/internal/candidate"
	"github.com/EchoCog/katocore/internal/config"
	"github.com/EchoCog/katocore/internal/kb"
	"github.com/EchoCog/katocore/internal/katolog"
	"github.com/EchoCog/katocore/internal/matcher"
	"github.com/EchoCog/katocore/internal/pattern"
	"github.com/EchoCog/katocore/internal/session"
	"github.com/EchoCog/katocore/internal/stm"
	"github.com/EchoCog/katocore/internal/symbol"
	"github.com/EchoCog/katocore/internal/types"
)

var log = katolog.For("processor")

// Processor is the external request/response surface (spec §6),
// implemented as pure plumbing over its collaborators.
type Processor struct {
	sessions *session.Manager
	patterns *pattern.Store
	symbols  *symbol.Registry
	kbs      *kb.Registry
}

// New constructs a Processor over its collaborators.
func New(sessions *session.Manager, patterns *pattern.Store, symbols *symbol.Registry, kbs *kb.Registry) *Processor {
	return &Processor{sessions: sessions, patterns: patterns, symbols: symbols, kbs: kbs}
}

// RawEvent is the transport-agnostic event payload (spec §6 "Event
// payload"): arbitrary symbols, optional 768-dim vectors, optional
// emotive values.
type RawEvent struct {
	Strings  []string
	Vectors  [][]float64
	Emotives types.EmotiveSet
}

// isNoOp reports whether an event carries no strings and no vectors
// (spec §6: "An event with no strings and no vectors is a no-op and
// does not advance STM").
func (e RawEvent) isNoOp() bool {
	return len(e.Strings) == 0 && len(e.Vectors) == 0
}

// ObserveResult is returned by Observe (spec §6 observe).
type ObserveResult struct {
	AutoLearnedPattern string
	STMLength          int
	UniqueID           string
}

// CreateKB explicitly creates a knowledge base (spec §3: "A KB is
// never implicitly created").
func (p *Processor) CreateKB(ctx context.Context, kbID string) error {
	return p.kbs.Create(ctx, kbID)
}

// CreateSession allocates a session against an already-existing KB
// (spec §6 create_session).
func (p *Processor) CreateSession(ctx context.Context, kbID string, overlay config.Overlay, ttl int) (*session.State, error) {
	if err := p.kbs.Require(ctx, kbID); err != nil {
		return nil, err
	}
	if err := overlay.Apply(config.Default()).Validate(); err != nil {
		return nil, err
	}
	var d time.Duration
	if ttl > 0 {
		d = time.Duration(ttl) * time.Second
	}
	return p.sessions.Create(ctx, kbID, overlay, d)
}

// GetSession returns the session's full state (spec §6 get_session);
// only ListSessions uses the Summary shape.
func (p *Processor) GetSession(ctx context.Context, sessionID string) (*session.State, error) {
	return p.sessions.Get(ctx, sessionID)
}

// ListSessions returns a Summary per live session (SPEC_FULL.md
// supplemented feature).
func (p *Processor) ListSessions(ctx context.Context) ([]session.Summary, error) {
	return p.sessions.List(ctx)
}

// CountSessions returns the number of live sessions.
func (p *Processor) CountSessions(ctx context.Context) (int, error) {
	return p.sessions.Count(ctx)
}

// UpdateSessionConfig applies an overlay atop the session's current
// effective config (spec §6 update_session_config).
func (p *Processor) UpdateSessionConfig(ctx context.Context, sessionID string, overlay config.Overlay) (*session.State, error) {
	return session.WithExclusive(ctx, p.sessions, sessionID, func(st *session.State) (*session.State, *session.State, error) {
		cfg := overlay.Apply(st.Config)
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
		st.Config = cfg
		st.AutoExtend = st.Config.SessionAutoExtend
		return st, st, nil
	})
}

// DeleteSession removes a session (spec §6 delete_session).
func (p *Processor) DeleteSession(ctx context.Context, sessionID string) error {
	return p.sessions.Delete(ctx, sessionID)
}

// Observe canonicalizes and appends one event to STM, auto-learning if
// the configured threshold is reached (spec §6 observe).
func (p *Processor) Observe(ctx context.Context, sessionID string, raw RawEvent) (*ObserveResult, error) {
	return session.WithExclusive(ctx, p.sessions, sessionID, func(st *session.State) (*session.State, *ObserveResult, error) {
		result, err := p.observeOne(ctx, st, raw)
		if err != nil {
			return nil, nil, err
		}
		return st, result, nil
	})
}

// ObserveSequenceOptions configures a batch observation (spec §6
// observe_sequence).
type ObserveSequenceOptions struct {
	LearnAfterEach bool
	LearnAtEnd     bool
	ClearBetween   bool
}

// BatchResult is returned by ObserveSequence.
type BatchResult struct {
	Results         []ObserveResult
	LearnedPatterns []string
}

// ObserveSequence processes a batch of events under a single lock
// acquisition (spec §6 observe_sequence). Per SPEC_FULL.md's resolved
// Open Question, any learn (auto or manual) is treated as consuming
// STM per stm_mode; clear_between is then a separate, explicit clear
// applied after that — a no-op if stm_mode already emptied the STM, a
// real truncation if stm_mode is ROLLING and the caller wants a harder
// reset between batch items regardless.
func (p *Processor) ObserveSequence(ctx context.Context, sessionID string, events []RawEvent, opts ObserveSequenceOptions) (*BatchResult, error) {
	return session.WithExclusive(ctx, p.sessions, sessionID, func(st *session.State) (*session.State, *BatchResult, error) {
		batch := &BatchResult{Results: make([]ObserveResult, 0, len(events))}

		for _, raw := range events {
			result, err := p.observeOne(ctx, st, raw)
			if err != nil {
				return nil, nil, err
			}
			batch.Results = append(batch.Results, *result)

			if opts.LearnAfterEach && len(st.STM) > 0 {
				pid, err := p.manualLearn(ctx, st)
				if err != nil {
					return nil, nil, err
				}
				if pid != "" {
					batch.LearnedPatterns = append(batch.LearnedPatterns, pid)
				}
			}
			if opts.ClearBetween {
				st.STM = stm.Clear(st.STM)
			}
		}

		if opts.LearnAtEnd && len(st.STM) > 0 {
			pid, err := p.manualLearn(ctx, st)
			if err != nil {
				return nil, nil, err
			}
			if pid != "" {
				batch.LearnedPatterns = append(batch.LearnedPatterns, pid)
			}
		}

		return st, batch, nil
	})
}

// GetSTM returns the session's current STM (spec §6 get_stm), read
// under the same exclusive lock every mutating operation uses, so
// readers see a consistent view (spec §4.6).
func (p *Processor) GetSTM(ctx context.Context, sessionID string) (types.Sequence, error) {
	return session.WithExclusive(ctx, p.sessions, sessionID, func(st *session.State) (*session.State, types.Sequence, error) {
		return st, st.STM, nil
	})
}

// Learn manually learns the current STM, consuming it per stm_mode
// (spec §6 learn). An empty STM is a no-op returning "", nil.
func (p *Processor) Learn(ctx context.Context, sessionID string) (string, error) {
	return session.WithExclusive(ctx, p.sessions, sessionID, func(st *session.State) (*session.State, string, error) {
		if len(st.STM) == 0 {
			return st, "", nil
		}
		pid, err := p.manualLearn(ctx, st)
		if err != nil {
			return nil, "", err
		}
		return st, pid, nil
	})
}

// GetPredictions runs candidate retrieval and matching against the
// session's current STM (spec §6 get_predictions).
func (p *Processor) GetPredictions(ctx context.Context, sessionID string) ([]types.Prediction, error) {
	return session.WithExclusive(ctx, p.sessions, sessionID, func(st *session.State) (*session.State, []types.Prediction, error) {
		if !st.Config.ProcessPredictions {
			return st, nil, nil
		}
		rows, err := candidate.Retrieve(ctx, p.patterns, st.KBID, st.STM, candidate.Options{
			MinOverlap:   1,
			LengthRangeK: 3,
		})
		if err != nil {
			return nil, nil, err
		}
		preds, err := matcher.Match(ctx, st.KBID, st.STM, rows, p.patterns, p.symbols, matcher.Config{
			UseTokenMatching: st.Config.UseTokenMatching,
			RecallThreshold:  st.Config.RecallThreshold,
			MaxPredictions:   st.Config.MaxPredictions,
			Sort:             st.Config.Sort,
			RankMetric:       types.Metric(st.Config.RankSortAlgo),
		})
		if err != nil {
			return nil, nil, err
		}
		return st, preds, nil
	})
}

// ClearSTM empties the session's STM (spec §6 clear_stm).
func (p *Processor) ClearSTM(ctx context.Context, sessionID string) error {
	_, err := session.WithExclusive(ctx, p.sessions, sessionID, func(st *session.State) (*session.State, struct{}, error) {
		st.STM = stm.Clear(st.STM)
		return st, struct{}{}, nil
	})
	return err
}

// ClearAllMemory destroys every pattern, symbol stat, and vector entry
// for a KB (spec §6 clear_all_memory). KB-scoped, not session-scoped:
// no session lock is involved, only the storage layer's own atomicity.
func (p *Processor) ClearAllMemory(ctx context.Context, kbID string) error {
	log.Info("clearing all memory", "kb_id", kbID)
	return p.patterns.Clear(ctx, kbID)
}

// observeOne canonicalizes and applies a single event to st's STM,
// auto-learning if the threshold is reached (spec §4.1, §4.5, §6).
func (p *Processor) observeOne(ctx context.Context, st *session.State, raw RawEvent) (*ObserveResult, error) {
	uniqueID := uuid.NewString()
	if raw.isNoOp() {
		return &ObserveResult{STMLength: len(st.STM), UniqueID: uniqueID}, nil
	}

	tokens := raw.Strings
	if len(raw.Vectors) > 0 {
		vecSymbols, err := p.symbols.NameVectors(ctx, st.KBID, raw.Vectors)
		if err != nil {
			return nil, err
		}
		tokens = append(append([]string{}, tokens...), vecSymbols...)
	}

	canon, err := p.symbols.InternTokens(ctx, st.KBID, tokens)
	if err != nil {
		return nil, err
	}
	st.STM = stm.Observe(st.STM, canon)
	st.PendingEmotives = mergeEmotives(st.PendingEmotives, raw.Emotives)

	var autoLearned string
	if stm.ShouldAutoLearn(st.STM, st.Config) {
		pid, err := p.patterns.Learn(ctx, st.KBID, st.STM, st.PendingEmotives, st.Config.Persistence)
		if err != nil {
			return nil, err
		}
		autoLearned = pid
		st.STM = stm.ApplyMode(st.STM, st.Config)
		st.PendingEmotives = nil
	}

	return &ObserveResult{AutoLearnedPattern: autoLearned, STMLength: len(st.STM), UniqueID: uniqueID}, nil
}

// manualLearn learns the current STM regardless of the auto-learn
// threshold (spec §4.5 "A manual learn operation returns the learned
// pattern_id plus the post-learn STM").
func (p *Processor) manualLearn(ctx context.Context, st *session.State) (string, error) {
	pid, err := p.patterns.Learn(ctx, st.KBID, st.STM, st.PendingEmotives, st.Config.Persistence)
	if err != nil {
		return "", err
	}
	st.STM = stm.ApplyMode(st.STM, st.Config)
	st.PendingEmotives = nil
	return pid, nil
}

func mergeEmotives(existing, incoming types.EmotiveSet) types.EmotiveSet {
	if len(incoming) == 0 {
		return existing
	}
	out := make(types.EmotiveSet, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

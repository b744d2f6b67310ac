// Package matcher implements alignment, the per-candidate metric
// library, and ranking/truncation (spec §4.4).
package matcher

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/EchoCog/katocore/internal/katoerr"
	"github.com/EchoCog/katocore/internal/katolog"
	"github.com/EchoCog/katocore/internal/storage"
	"github.com/EchoCog/katocore/internal/types"
)

var log = katolog.For("matcher")

// fanOutLimit bounds the concurrency of both alignment and metric
// fan-out passes below, via golang.org/x/sync/errgroup.Group.SetLimit.
const fanOutLimit = 8

// StatsSource is the KB-wide symbol statistics collaborator the
// entropy/itfdf/confluence metrics read (spec §4.1 registry, §4.4).
type StatsSource interface {
	Frequency(ctx context.Context, kbID, symbol string) (int64, error)
	TotalSymbolOccurrences(ctx context.Context, kbID string) (int64, error)
}

// PatternGetter fetches a full pattern (frequency, emotive histories)
// by id — the pattern store.
type PatternGetter interface {
	Get(ctx context.Context, kbID, patternID string) (*types.Pattern, bool, error)
}

// Config carries the subset of engine configuration the matcher needs
// (spec §6 config table: use_token_matching, recall_threshold,
// max_predictions, sort, rank_sort_algo).
type Config struct {
	UseTokenMatching bool
	RecallThreshold  float64
	MaxPredictions   int
	Sort             bool
	RankMetric       types.Metric
}

type statsSnapshot struct {
	freq  map[types.Symbol]int64
	total int64
}

func (s *statsSnapshot) Frequency(sym string) int64 { return s.freq[sym] }
func (s *statsSnapshot) Total() int64               { return s.total }

type survivor struct {
	row   storage.PatternRow
	align alignment
}

// Match aligns each candidate against the STM, discards those below
// recall_threshold, computes the full metric set for the rest, ranks,
// and truncates to max_predictions (spec §4.4). Empty STM (<2 events)
// or an empty candidate set yields an empty (nil) list, not an error.
func Match(ctx context.Context, kbID string, stm types.Sequence, candidates []storage.PatternRow, getter PatternGetter, stats StatsSource, cfg Config) ([]types.Prediction, error) {
	if len(stm) < 2 || len(candidates) == 0 {
		return nil, nil
	}

	snap, err := buildSnapshot(ctx, kbID, stm, candidates, stats)
	if err != nil {
		return nil, err
	}

	aligned := make([]*alignment, len(candidates))
	{
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(fanOutLimit)
		for i, row := range candidates {
			i, row := i, row
			g.Go(func() error {
				a := align(stm, row.Events, cfg.UseTokenMatching)
				if a.similarity >= cfg.RecallThreshold {
					aligned[i] = &a
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	var survivors []survivor
	for i, a := range aligned {
		if a != nil {
			survivors = append(survivors, survivor{row: candidates[i], align: *a})
		}
	}
	if len(survivors) == 0 {
		return nil, nil
	}

	preds := make([]types.Prediction, len(survivors))
	{
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(fanOutLimit)
		for idx, sv := range survivors {
			idx, sv := idx, sv
			g.Go(func() error {
				p, ok, err := getter.Get(ctx, kbID, sv.row.PatternID)
				if err != nil {
					return katoerr.Wrap(katoerr.StorageUnavailable, sv.row.PatternID, "failed to load pattern for metrics", err)
				}
				if !ok {
					// Pattern cleared concurrently between candidate
					// retrieval and metric computation; drop it rather
					// than fail the whole batch.
					return nil
				}
				preds[idx] = buildPrediction(stm, sv, p, snap)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	out := preds[:0]
	for _, p := range preds {
		if p.PatternID != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}

	if cfg.Sort {
		rankMetric := cfg.RankMetric
		if rankMetric == "" {
			rankMetric = types.MetricPotential
		}
		sort.SliceStable(out, func(i, j int) bool {
			vi, vj := out[i].Value(rankMetric), out[j].Value(rankMetric)
			if vi != vj {
				return vi > vj
			}
			if out[i].Frequency != out[j].Frequency {
				return out[i].Frequency > out[j].Frequency
			}
			return out[i].PatternID < out[j].PatternID
		})
	}

	if cfg.MaxPredictions > 0 && len(out) > cfg.MaxPredictions {
		out = out[:cfg.MaxPredictions]
	}

	log.Debug("match complete", "kb_id", kbID, "candidates", len(candidates), "predictions", len(out))
	return out, nil
}

func buildPrediction(stm types.Sequence, sv survivor, p *types.Pattern, snap *statsSnapshot) types.Prediction {
	evidence := 0.0
	if len(sv.row.Events) > 0 {
		evidence = float64(len(sv.align.present)) / float64(len(sv.row.Events))
	}
	fragmentation, snr := fragmentationAndSNR(stm, sv.align.present)
	confl := confluence(p.Frequency, sv.row.Events, snap)

	return types.Prediction{
		PatternID:               p.ID,
		Past:                     sv.align.past,
		Present:                 sv.align.present,
		Future:                  sv.align.future,
		Emotives:                p.Latest(),
		Similarity:               sv.align.similarity,
		Evidence:                 evidence,
		Frequency:                p.Frequency,
		Fragmentation:            fragmentation,
		SNR:                      snr,
		Confidence:               confidenceFrom(sv.align.similarity, snr),
		NormalizedEntropy:        localNormalizedEntropy(sv.align.future),
		GlobalNormalizedEntropy:  globalNormalizedEntropy(sv.align.future, snap),
		ITFDFSimilarity:          itfdfSimilarity(sv.align.similarity, sv.align.present, snap),
		Confluence:               confl,
		PredictiveInformation:    predictiveInformation(sv.align.future, evidence, snap),
		Potential:                potential(sv.align.similarity, evidence, p.Frequency, confl),
	}
}

// buildSnapshot reads every symbol's KB-wide frequency plus the KB
// total once up front (spec §4.4: entropy/itfdf/confluence "must read
// symbol statistics from the registry"), so a storage failure
// propagates here, synchronously, rather than racing across the
// metric fan-out below.
func buildSnapshot(ctx context.Context, kbID string, stm types.Sequence, candidates []storage.PatternRow, stats StatsSource) (*statsSnapshot, error) {
	seen := make(map[types.Symbol]struct{})
	var symbols []types.Symbol
	add := func(syms []types.Symbol) {
		for _, s := range syms {
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				symbols = append(symbols, s)
			}
		}
	}
	add(stm.Symbols())
	for _, row := range candidates {
		add(row.Events.Symbols())
	}

	freq := make(map[types.Symbol]int64, len(symbols))
	for _, sym := range symbols {
		f, err := stats.Frequency(ctx, kbID, sym)
		if err != nil {
			return nil, katoerr.Wrap(katoerr.StorageUnavailable, sym, "failed to read symbol frequency", err)
		}
		freq[sym] = f
	}

	total, err := stats.TotalSymbolOccurrences(ctx, kbID)
	if err != nil {
		return nil, katoerr.Wrap(katoerr.StorageUnavailable, kbID, "failed to read total symbol occurrences", err)
	}

	return &statsSnapshot{freq: freq, total: total}, nil
}

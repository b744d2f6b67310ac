// Package candidate implements candidate retrieval (spec §4.3): given
// an STM, produce a superset of patterns worth scoring, built as a
// filter pipeline over the columnar store rather than a full KB scan.
package candidate

import (
	"context"

	"github.com/EchoCog/katocore/internal/katoerr"
	"github.com/EchoCog/katocore/internal/storage"
	"github.com/EchoCog/katocore/internal/types"
)

// PatternScanner is the subset of the pattern store candidate
// retrieval needs: a filtered scan over one KB's rows.
type PatternScanner interface {
	ScanCandidates(ctx context.Context, kbID string, filter storage.ScanFilter) ([]storage.PatternRow, error)
}

// Options configures the retrieval pipeline's remaining two stages
// (kb_id restriction is implicit in the scan call itself): the minimum
// symbol-overlap a row must clear, and the length-range multiplier
// applied against the STM's own length for locality (spec §4.3 step 2).
type Options struct {
	// MinOverlap is the minimum count of STM symbols a candidate's
	// events must intersect. 0 or negative disables the overlap stage.
	MinOverlap int
	// LengthRangeK bounds candidate length to stmLen*LengthRangeK.
	// 0 disables the length stage (unbounded).
	LengthRangeK int
}

// Retrieve runs the filter pipeline over one KB's pattern rows (spec
// §4.3: (a) kb_id, implicit in the call; (b) symbol-overlap; (c)
// optional length range) and returns the resulting candidate rows.
//
// Per spec §4.3 edge cases: an STM with fewer than 2 events yields no
// candidates (matcher.Match applies the same rule and returns no
// predictions), so Retrieve short-circuits to an empty candidate set
// without touching the store.
func Retrieve(ctx context.Context, scanner PatternScanner, kbID string, stm types.Sequence, opts Options) ([]storage.PatternRow, error) {
	if len(stm) < 2 {
		return nil, nil
	}

	symbols := stm.Symbols()
	filter := storage.ScanFilter{
		Symbols:    symbols,
		MinOverlap: opts.MinOverlap,
	}
	if opts.LengthRangeK > 0 {
		filter.MaxLength = len(stm) * opts.LengthRangeK
	}

	rows, err := scanner.ScanCandidates(ctx, kbID, filter)
	if err != nil {
		return nil, katoerr.Wrap(katoerr.StorageUnavailable, kbID, "failed to retrieve candidates", err)
	}
	return rows, nil
}

package matcher

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/EchoCog/katocore/internal/types"
)

// statsReader is the KB-wide symbol statistics the entropy/itfdf/
// confluence metrics read. A storage failure while reading them
// surfaces from buildSnapshot before any metric runs. A zero frequency
// or zero total is not an error: itfdfSimilarity and confluence count
// a zero-frequency symbol as 1, globalNormalizedEntropy leaves it out,
// and with a zero total each returns early (0, or the unweighted
// similarity for itfdfSimilarity).
type statsReader interface {
	Frequency(symbol string) int64
	Total() int64
}

// fragmentationAndSNR scores how contiguous the present span's matches
// against the STM are (spec §4.4 fragmentation, snr). A symbol-level
// membership test classifies each present event as "matched" (shares a
// symbol with the STM) or "noise"; fragmentation penalizes alternating
// runs of matched/unmatched events, snr is matched symbol occurrences
// divided by (unmatched occurrences + 1) within present.
func fragmentationAndSNR(stm, present types.Sequence) (fragmentation, snr float64) {
	if len(present) == 0 {
		return 0, 0
	}
	stmSymbols := make(map[types.Symbol]struct{})
	for _, sym := range stm.Symbols() {
		stmSymbols[sym] = struct{}{}
	}

	runs := 0
	lastMatched := false
	matched, noise := 0, 0
	for i, ev := range present {
		evMatched := false
		for _, sym := range ev {
			if _, ok := stmSymbols[sym]; ok {
				matched++
				evMatched = true
			} else {
				noise++
			}
		}
		if i == 0 || evMatched != lastMatched {
			runs++
		}
		lastMatched = evMatched
	}

	fragmentation = 1.0
	if runs > 1 {
		fragmentation = 1.0 / float64(runs)
	}
	snr = float64(matched) / float64(noise+1)
	return fragmentation, snr
}

// localNormalizedEntropy is the Shannon entropy (bits) of a sequence's
// own symbol-frequency distribution, normalized to [0, 1] by the
// maximum possible entropy for that many distinct symbols (spec §4.4
// normalized_entropy: "local information content of the predicted
// symbols"). An empty or single-symbol sequence carries no information
// and normalizes to 0.
func localNormalizedEntropy(seq types.Sequence) float64 {
	counts := make(map[types.Symbol]int)
	total := 0
	for _, ev := range seq {
		for _, sym := range ev {
			counts[sym]++
			total++
		}
	}
	if total == 0 || len(counts) < 2 {
		return 0
	}
	probs := make([]float64, 0, len(counts))
	for _, c := range counts {
		probs = append(probs, float64(c)/float64(total))
	}
	bits := stat.Entropy(probs) / math.Ln2
	maxBits := math.Log2(float64(len(counts)))
	if maxBits == 0 {
		return 0
	}
	return bits / maxBits
}

// globalNormalizedEntropy is the same construction as
// localNormalizedEntropy but weighted by KB-wide symbol frequency
// rather than local counts within seq (spec §4.4
// global_normalized_entropy: "Same, normalized against KB-wide symbol
// frequencies"). Symbols with zero recorded KB frequency are excluded
// from the distribution; storage read failures surface earlier, from
// buildSnapshot, since globalNormalizedEntropy itself cannot return an
// error.
func globalNormalizedEntropy(seq types.Sequence, stats statsReader) float64 {
	total := stats.Total()
	if total == 0 {
		return 0
	}
	distinct := seq.Symbols()
	probs := make([]float64, 0, len(distinct))
	for _, sym := range distinct {
		freq := stats.Frequency(sym)
		if freq <= 0 {
			continue
		}
		probs = append(probs, float64(freq)/float64(total))
	}
	if len(probs) < 2 {
		return 0
	}
	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	for i := range probs {
		probs[i] /= sum
	}
	bits := stat.Entropy(probs) / math.Ln2
	maxBits := math.Log2(float64(len(probs)))
	if maxBits == 0 {
		return 0
	}
	return bits / maxBits
}

// itfdfSimilarity weights the alignment similarity by the average
// inverse KB-wide frequency of present's symbols (spec §4.4
// itfdf_similarity: "similarity weighted by inverse KB-wide symbol
// frequency (tf·idf-style)"). Rarer symbols (lower KB frequency) push
// the weight up; a present span built from globally common symbols
// pulls it toward the raw similarity.
func itfdfSimilarity(similarity float64, present types.Sequence, stats statsReader) float64 {
	total := stats.Total()
	symbols := present.Symbols()
	if total == 0 || len(symbols) == 0 {
		return similarity
	}
	var idfSum float64
	for _, sym := range symbols {
		freq := stats.Frequency(sym)
		if freq <= 0 {
			freq = 1
		}
		idfSum += math.Log(float64(total)/float64(freq) + 1)
	}
	avgIDF := idfSum / float64(len(symbols))
	return similarity * avgIDF
}

// confluence is the ratio of this pattern's observed joint frequency to
// the joint frequency random co-occurrence of its symbols would predict
// (spec §4.4 confluence). Expected joint frequency under independence
// is the product of each symbol's marginal occurrence rate; actual is
// the pattern's own learned frequency rate. A pattern whose symbols
// co-occur far more often together (in this pattern) than their
// individual KB-wide rates would predict scores above 1.
func confluence(patternFrequency int, events types.Sequence, stats statsReader) float64 {
	total := stats.Total()
	if total == 0 {
		return 0
	}
	symbols := events.Symbols()
	if len(symbols) == 0 {
		return 0
	}
	expected := 1.0
	for _, sym := range symbols {
		freq := stats.Frequency(sym)
		if freq <= 0 {
			freq = 1
		}
		expected *= float64(freq) / float64(total)
	}
	if expected == 0 {
		return 0
	}
	actual := float64(patternFrequency) / float64(total)
	return actual / expected
}

// predictiveInformation is a mutual-information-style proxy for how
// much present predicts future (spec §4.4 predictive_information): the
// (KB-wide-normalized) information content of future, scaled by how
// much of the pattern evidence has already accrued. A pattern with no
// future span makes no prediction at all, which this package
// represents as negative infinity rather than zero — zero would read
// as "a confident prediction of nothing," which is a different claim
// than "no prediction is possible."
func predictiveInformation(future types.Sequence, evidence float64, stats statsReader) float64 {
	if len(future) == 0 {
		return math.Inf(-1)
	}
	return globalNormalizedEntropy(future, stats) * evidence
}

// confidenceFrom discounts similarity by the aligned region's
// signal-to-noise ratio (spec §4.4 confidence: "Similarity discounted
// by context outside the pattern") — a high-similarity match surrounded
// by mostly-noise symbols is less trustworthy than one with a clean
// signal.
func confidenceFrom(similarity, snr float64) float64 {
	return similarity * (snr / (snr + 1))
}

// potential is the composite default ranking metric (spec §4.4
// potential: "a monotone combination of similarity, evidence,
// frequency, and confluence"). Frequency and confluence are each
// squashed into [0, 1) before blending so no single unbounded term
// dominates the sum.
func potential(similarity, evidence float64, frequency int, conf float64) float64 {
	freqTerm := float64(frequency) / float64(frequency+1)
	confTerm := conf / (conf + 1)
	if conf < 0 {
		confTerm = 0
	}
	return 0.4*similarity + 0.3*evidence + 0.2*freqTerm + 0.1*confTerm
}

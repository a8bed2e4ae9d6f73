package selection

import (
	"context"
	"sync"
	"time"
)

// ParallelMode selects between the two run strategies section 4.3 names.
type ParallelMode string

const (
	// ModeRace returns the first Success, then waits out a grace period
	// to gather any other algorithms that finish quickly, and picks the
	// best of those seen.
	ModeRace ParallelMode = "race"
	// ModeAll waits for every algorithm (or its timeout) before picking
	// the best candidate.
	ModeAll ParallelMode = "all"
)

// ParallelConfig configures SelectParallel.
type ParallelConfig struct {
	Algorithms      []Algorithm
	Mode            ParallelMode
	MaxConcurrency  int
	PerAlgoTimeout  time.Duration
	GracePeriod     time.Duration // only used in ModeRace
	AvailableValue  int64         // total value across the full UTXO set, for efficiency scoring
	SequentialFallback bool       // if true and all algorithms fail, retry accumulative synchronously
}

type candidateResult struct {
	algorithm Algorithm
	outcome   Outcome
}

// SelectParallel runs up to MaxConcurrency algorithms concurrently, each
// bounded by PerAlgoTimeout, and returns the best-scoring Success by the
// weighted formula in section 4.3.
func SelectParallel(ctx context.Context, utxos []UTXO, req Request, cfg ParallelConfig) Outcome {
	algos := cfg.Algorithms
	if len(algos) == 0 {
		algos = []Algorithm{Accumulative, BranchAndBound, Blackjack, Knapsack, WasteOptimized}
	}
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 || concurrency > len(algos) {
		concurrency = len(algos)
	}

	results := make(chan candidateResult, len(algos))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, algo := range algos {
		algo := algo
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcome := runWithTimeout(runCtx, algo, utxos, req, cfg.PerAlgoTimeout)
			select {
			case results <- candidateResult{algorithm: algo, outcome: outcome}:
			case <-runCtx.Done():
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var seen []candidateResult

	switch cfg.Mode {
	case ModeRace:
		seen = collectRace(results, cfg.GracePeriod)
	default:
		seen = collectAll(results)
	}

	best := pickBest(seen, req, cfg.AvailableValue)
	if best != nil {
		return success(best)
	}

	if cfg.SequentialFallback {
		return SelectAccumulative(utxos, req)
	}

	return failure(FailNoCombinationFound, "no algorithm in %v produced a success", algos)
}

// runWithTimeout runs a single selector, respecting a per-algorithm
// deadline; selectors are pure CPU-bound functions so the timeout only
// protects against a pathologically large search (e.g. branch-and-bound
// exhausting its node budget).
func runWithTimeout(ctx context.Context, algo Algorithm, utxos []UTXO, req Request, timeout time.Duration) Outcome {
	selector := Lookup(algo)
	if selector == nil {
		return failure(FailNoCombinationFound, "unknown algorithm %q", algo)
	}
	if timeout <= 0 {
		return selector(utxos, req)
	}

	done := make(chan Outcome, 1)
	go func() { done <- selector(utxos, req) }()

	select {
	case outcome := <-done:
		return outcome
	case <-time.After(timeout):
		return failure(FailNoCombinationFound, "%s timed out after %s", algo, timeout)
	case <-ctx.Done():
		return failure(FailNoCombinationFound, "%s cancelled", algo)
	}
}

// collectRace returns the first Success plus anything else that arrives
// within gracePeriod of it, or every result if none succeed.
func collectRace(results <-chan candidateResult, gracePeriod time.Duration) []candidateResult {
	var seen []candidateResult
	var graceTimer <-chan time.Time

	for {
		select {
		case r, ok := <-results:
			if !ok {
				return seen
			}
			seen = append(seen, r)
			if r.outcome.Success != nil && graceTimer == nil {
				graceTimer = time.After(gracePeriod)
			}
		case <-graceTimer:
			return seen
		}
	}
}

func collectAll(results <-chan candidateResult) []candidateResult {
	var seen []candidateResult
	for r := range results {
		seen = append(seen, r)
	}
	return seen
}

// pickBest scores every Success seen and returns the highest-scoring one,
// per the weighted formula in section 4.3: 0.4*quality + 0.3*efficiency +
// 0.3/(1+waste).
func pickBest(seen []candidateResult, req Request, availableValue int64) *Success {
	var best *Success
	var bestScore float64

	maxWaste := 0.0
	for _, r := range seen {
		if r.outcome.Success != nil && r.outcome.Success.WasteMetric > maxWaste {
			maxWaste = r.outcome.Success.WasteMetric
		}
	}

	for _, r := range seen {
		s := r.outcome.Success
		if s == nil {
			continue
		}

		score := scoreSuccess(s, availableValue, maxWaste)
		if best == nil || score > bestScore {
			best = s
			bestScore = score
		}
	}

	return best
}

func scoreSuccess(s *Success, availableValue int64, maxWaste float64) float64 {
	var valueRatio float64
	if availableValue > 0 {
		valueRatio = float64(s.TotalValue) / float64(availableValue)
	}
	efficiency := (valueRatio + 1.0/float64(s.InputCount)) / 2.0

	normalizedWaste := 0.0
	if maxWaste > 0 {
		normalizedWaste = s.WasteMetric / maxWaste
	}
	changeFactor := 1.0
	if s.ChangeKept {
		changeFactor = 0.9
	}
	quality := (normalizedWaste*changeFactor + efficiency) / 2.0

	return 0.4*quality + 0.3*efficiency + 0.3/(1+s.WasteMetric)
}

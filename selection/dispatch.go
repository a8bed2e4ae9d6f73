package selection

// Dispatch pre-filters the UTXO set and picks an algorithm by scenario
// (UTXO count, target/total ratio, fee rate regime), falling back to
// accumulative whenever the chosen algorithm fails internally — matching
// the reference wallet's own "largest first, just make it work" fallback
// philosophy, generalized across more strategies.
func Dispatch(utxos []UTXO, req Request) Outcome {
	filtered := prefilter(utxos, req)
	if len(filtered) == 0 {
		return failure(FailDustOnly, "no utxos survive confirmation/dust pre-filter")
	}

	algo := chooseAlgorithm(filtered, req)

	selector := Lookup(algo)
	outcome := selector(filtered, req)
	if outcome.Success != nil {
		return outcome
	}
	if algo == Accumulative {
		return outcome
	}

	return SelectAccumulative(filtered, req)
}

// chooseAlgorithm implements the scenario → algorithm mapping named in
// section 4.2: UTXO count, target/total ratio, and fee rate regime.
func chooseAlgorithm(utxos []UTXO, req Request) Algorithm {
	total := sumValue(utxos)
	var ratio float64
	if total > 0 {
		ratio = float64(req.TargetValue) / float64(total)
	}

	switch {
	case len(utxos) == 1:
		return Accumulative
	case req.FeeRate >= 50:
		// High fee-rate regime: prioritize exact changeless matches to
		// avoid paying for a change output at all.
		return BranchAndBound
	case ratio > 0.95:
		// Target nearly exhausts available funds: look for a tight fit.
		return Blackjack
	case len(utxos) > 100:
		// Large UTXO sets: knapsack's bounded iteration count scales
		// better than an exhaustive approach.
		return Knapsack
	default:
		return WasteOptimized
	}
}

package selection

// blackjackEpsilonVBytes bounds how far over target+fee a subset may land
// and still count as an exact hit, named for the "21 or bust" framing the
// algorithm is modeled on.
const blackjackEpsilonVBytes = 2 // ~2 vbytes worth of fee tolerance per sat/vB

// SelectBlackjack scans sorted-descending UTXOs for the first run whose
// running total lands within epsilon of target+fee, skipping any UTXO that
// would bust past the upper bound and continuing with the next one. Unlike
// branch-and-bound it does not search subsets out of order, so it is
// cheaper and only requires a single pass.
func SelectBlackjack(utxos []UTXO, req Request) Outcome {
	if len(utxos) == 0 {
		return failure(FailInsufficientFunds, "no utxos available")
	}

	sorted := sortDescByValue(utxos)
	epsilon := int64(float64(blackjackEpsilonVBytes) * req.FeeRate)
	if epsilon < 1 {
		epsilon = 1
	}

	var selected []UTXO
	var total int64

	for _, u := range sorted {
		if req.MaxInputs > 0 && len(selected) >= req.MaxInputs {
			break
		}

		candidate := append(append([]UTXO(nil), selected...), u)
		p2pkh, segwit := countByType(candidate)
		vsize := estimateVSize(p2pkh, segwit, outputCountFor(req, false))
		fee := int64(float64(vsize) * req.FeeRate)
		candidateTotal := total + u.Value

		if candidateTotal > req.TargetValue+fee+epsilon {
			// Busted: this UTXO alone overshoots past tolerance, skip it
			// and keep scanning for a better-fitting one.
			continue
		}

		selected = candidate
		total = candidateTotal

		if total >= req.TargetValue+fee {
			return finish(string(Blackjack), selected, req, fee)
		}
	}

	return failure(FailNoCombinationFound, "no exact-fit subset within epsilon=%d", epsilon)
}

package selection

// knapsackMaxIterations caps the number of greedy passes the heuristic
// tries before returning its best candidate, keeping the work polynomial
// rather than the exponential exact subset-sum.
const knapsackMaxIterations = 1000

// SelectKnapsack is an approximate knapsack heuristic: deterministic
// greedy passes over the UTXO set sorted largest-first, each starting at
// a different rotation of that order (at most len(utxos)+1 passes, capped
// by knapsackMaxIterations), keeping the candidate with the smallest
// excess over target+fee rather than searching the full subset space
// exactly. It uses no randomness.
func SelectKnapsack(utxos []UTXO, req Request) Outcome {
	if len(utxos) == 0 {
		return failure(FailInsufficientFunds, "no utxos available")
	}

	sorted := sortDescByValue(utxos)

	var bestSelected []UTXO
	var bestFee int64
	var bestExcess int64 = -1

	// Deterministic first pass: largest-first, matches accumulative as a
	// floor so knapsack never does worse than the simplest strategy.
	for iter := 0; iter < knapsackMaxIterations && iter <= len(sorted); iter++ {
		candidateOrder := rotate(sorted, iter)

		var selected []UTXO
		var total int64
		for _, u := range candidateOrder {
			if req.MaxInputs > 0 && len(selected) >= req.MaxInputs {
				break
			}
			selected = append(selected, u)
			total += u.Value

			p2pkh, segwit := countByType(selected)
			vsize := estimateVSize(p2pkh, segwit, outputCountFor(req, false))
			fee := int64(float64(vsize) * req.FeeRate)

			if total >= req.TargetValue+fee {
				excess := total - req.TargetValue - fee
				if bestExcess == -1 || excess < bestExcess {
					bestExcess = excess
					bestSelected = append([]UTXO(nil), selected...)
					bestFee = fee
				}
				break
			}
		}
	}

	if bestSelected == nil {
		return failure(FailInsufficientFunds, "no rotation of the %d utxos covers target+fee", len(sorted))
	}

	return finish(string(Knapsack), bestSelected, req, bestFee)
}

// rotate returns utxos starting at offset n, wrapping around, giving the
// heuristic a different greedy starting point per iteration without the
// cost of a full shuffle.
func rotate(utxos []UTXO, n int) []UTXO {
	if len(utxos) == 0 {
		return utxos
	}
	n %= len(utxos)
	rotated := make([]UTXO, 0, len(utxos))
	rotated = append(rotated, utxos[n:]...)
	rotated = append(rotated, utxos[:n]...)
	return rotated
}

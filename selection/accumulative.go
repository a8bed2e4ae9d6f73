package selection

// SelectAccumulative iterates UTXOs sorted descending by value, adding each
// to the selection until the running total covers target+fee, re-estimating
// the fee on each iteration since it grows with the input count. Grounded
// directly on the reference wallet's largest-first SelectUTXOs loop.
func SelectAccumulative(utxos []UTXO, req Request) Outcome {
	if len(utxos) == 0 {
		return failure(FailInsufficientFunds, "no utxos available")
	}

	sorted := sortDescByValue(utxos)

	var selected []UTXO
	var total int64

	for _, u := range sorted {
		if req.MaxInputs > 0 && len(selected) >= req.MaxInputs {
			break
		}

		selected = append(selected, u)
		total += u.Value

		p2pkh, segwit := countByType(selected)
		vsize := estimateVSize(p2pkh, segwit, outputCountFor(req, true))
		fee := int64(float64(vsize) * req.FeeRate)

		if total >= req.TargetValue+fee {
			return finish(string(Accumulative), selected, req, fee)
		}
	}

	if req.MaxInputs > 0 && len(selected) >= req.MaxInputs {
		return failure(FailMaxInputsExceeded, "reached max_inputs=%d before covering target", req.MaxInputs)
	}
	return failure(FailInsufficientFunds, "have %d, need at least %d", total, req.TargetValue)
}

package selection

// SelectFIFO accumulates the oldest (highest confirmations) UTXOs first,
// the same accumulative stop rule as SelectAccumulative with a different
// sort key.
func SelectFIFO(utxos []UTXO, req Request) Outcome {
	return accumulateBy(string(FIFO), sortByConfirmations(utxos, true), req)
}

// SelectLIFO accumulates the newest (lowest confirmations) UTXOs first.
func SelectLIFO(utxos []UTXO, req Request) Outcome {
	return accumulateBy(string(LIFO), sortByConfirmations(utxos, false), req)
}

// accumulateBy runs the accumulative stop rule over a pre-sorted slice,
// shared by FIFO, LIFO, and single-random-draw.
func accumulateBy(algorithm string, sorted []UTXO, req Request) Outcome {
	if len(sorted) == 0 {
		return failure(FailInsufficientFunds, "no utxos available")
	}

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
			return finish(algorithm, selected, req, fee)
		}
	}

	if req.MaxInputs > 0 && len(selected) >= req.MaxInputs {
		return failure(FailMaxInputsExceeded, "reached max_inputs=%d before covering target", req.MaxInputs)
	}
	return failure(FailInsufficientFunds, "have %d, need at least %d", total, req.TargetValue)
}

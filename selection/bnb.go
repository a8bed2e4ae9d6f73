package selection

import "github.com/btcbuilder/txbuilder/chainparams"

// bnbMaxNodes bounds the depth-first search so a large UTXO set cannot make
// selection unbounded; Bitcoin Core's own implementation uses a similar
// fixed node budget (100000) before giving up on an exact match.
const bnbMaxNodes = 100000

// SelectBranchAndBound performs Bitcoin Core's exact, changeless
// branch-and-bound search: find a subset whose total falls within
// [target+fee, target+fee+cost_of_change], preferring the lowest waste. It
// explores inclusion/exclusion branches over UTXOs sorted descending by
// value and prunes as soon as the accumulated total exceeds the upper
// bound.
func SelectBranchAndBound(utxos []UTXO, req Request) Outcome {
	if len(utxos) == 0 {
		return failure(FailInsufficientFunds, "no utxos available")
	}

	sorted := sortDescByValue(utxos)

	changeVSize := chainparams.OutputVBytes(req.changeType())
	changeSpendVSize := chainparams.InputVBytes(req.changeType())
	costOfChange := int64(float64(changeVSize+changeSpendVSize) * req.FeeRate)

	var best []int
	var bestWaste int64 = -1
	nodes := 0

	var search func(idx int, selected []int, total int64)
	search = func(idx int, selected []int, total int64) {
		nodes++
		if nodes > bnbMaxNodes {
			return
		}

		p2pkh, segwit := 0, 0
		for _, i := range selected {
			if sorted[i].ScriptType == chainparams.P2PKH {
				p2pkh++
			} else {
				segwit++
			}
		}
		vsize := estimateVSize(p2pkh, segwit, outputCountFor(req, false))
		fee := int64(float64(vsize) * req.FeeRate)
		lowerBound := req.TargetValue + fee
		upperBound := lowerBound + costOfChange

		if total >= lowerBound {
			if total <= upperBound {
				waste := total - lowerBound
				if bestWaste == -1 || waste < bestWaste {
					bestWaste = waste
					best = append([]int(nil), selected...)
				}
			}
			return // exceeding lowerBound with more inputs only adds waste
		}

		if idx >= len(sorted) {
			return
		}
		if req.MaxInputs > 0 && len(selected) >= req.MaxInputs {
			return
		}

		// Include sorted[idx], then try excluding it.
		search(idx+1, append(selected, idx), total+sorted[idx].Value)
		search(idx+1, selected, total)
	}

	search(0, nil, 0)

	if best == nil {
		return failure(FailNoCombinationFound, "no exact changeless combination within cost_of_change=%d", costOfChange)
	}

	selected := make([]UTXO, 0, len(best))
	for _, i := range best {
		selected = append(selected, sorted[i])
	}

	p2pkh, segwit := countByType(selected)
	vsize := estimateVSize(p2pkh, segwit, outputCountFor(req, false))
	fee := int64(float64(vsize) * req.FeeRate)

	return finish(string(BranchAndBound), selected, req, fee)
}

func (r Request) changeType() chainparams.ScriptType {
	if r.ChangeScriptType == "" {
		return chainparams.P2WPKH
	}
	return r.ChangeScriptType
}

package selection

import (
	"sort"

	"github.com/btcbuilder/txbuilder/chainparams"
)

// estimateVSize applies the dispatcher's default fee model: 10 base +
// 148 per legacy (P2PKH) input + 68 per segwit input + 34 per output. A
// selector may instead call estimateVSizeByType for script-aware sizing.
func estimateVSize(numP2PKHIn, numSegwitIn, numOutputs int) int {
	return 10 + 148*numP2PKHIn + 68*numSegwitIn + 34*numOutputs
}

// estimateVSizeByType sums chainparams' per-type input/output sizes, used
// by selectors that have script-type hints for every candidate input.
func estimateVSizeByType(inputs []UTXO, outputCount int, changeType chainparams.ScriptType) int {
	types := make([]chainparams.ScriptType, 0, len(inputs))
	for _, u := range inputs {
		types = append(types, u.ScriptType)
	}
	outputs := make([]chainparams.ScriptType, 0, outputCount)
	for i := 0; i < outputCount; i++ {
		outputs = append(outputs, changeType)
	}
	return chainparams.EstimateVSize(types, outputs)
}

func countByType(inputs []UTXO) (p2pkh, segwit int) {
	for _, u := range inputs {
		if u.ScriptType == chainparams.P2PKH {
			p2pkh++
		} else {
			segwit++
		}
	}
	return
}

func sumValue(utxos []UTXO) int64 {
	var total int64
	for _, u := range utxos {
		total += u.Value
	}
	return total
}

func sortDescByValue(utxos []UTXO) []UTXO {
	sorted := make([]UTXO, len(utxos))
	copy(sorted, utxos)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value > sorted[j].Value })
	return sorted
}

func sortAscByValue(utxos []UTXO) []UTXO {
	sorted := make([]UTXO, len(utxos))
	copy(sorted, utxos)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value < sorted[j].Value })
	return sorted
}

func sortByConfirmations(utxos []UTXO, oldestFirst bool) []UTXO {
	sorted := make([]UTXO, len(utxos))
	copy(sorted, utxos)
	sort.Slice(sorted, func(i, j int) bool {
		if oldestFirst {
			return sorted[i].Confirmations > sorted[j].Confirmations
		}
		return sorted[i].Confirmations < sorted[j].Confirmations
	})
	return sorted
}

// prefilter drops UTXOs below min_confirmations or at/under dust_threshold,
// matching the dispatcher's pre-filter contract (4.2).
func prefilter(utxos []UTXO, req Request) []UTXO {
	filtered := make([]UTXO, 0, len(utxos))
	for _, u := range utxos {
		if u.Confirmations < req.MinConfirmations {
			continue
		}
		if u.Value <= req.DustThreshold {
			continue
		}
		filtered = append(filtered, u)
	}
	return filtered
}

// outputCountFor returns the payout output count plus one for change when
// changeKept is true.
func outputCountFor(req Request, changeKept bool) int {
	n := req.PayoutOutputCount
	if n <= 0 {
		n = 1
	}
	if changeKept {
		n++
	}
	return n
}

// finish packages a selected input set into a Success outcome, folding
// change into fee when it would be dust, matching the Selection outcome
// invariants in the data model (section 3).
func finish(algorithm string, selected []UTXO, req Request, fee int64) Outcome {
	totalValue := sumValue(selected)
	change := totalValue - req.TargetValue - fee
	if change < 0 {
		return failure(FailInsufficientFunds, "have %d, need %d + %d fee", totalValue, req.TargetValue, fee)
	}

	changeKept := false
	if change > 0 {
		if change < req.DustThreshold {
			fee += change
			change = 0
		} else {
			changeKept = true
		}
	}

	p2pkh, segwit := countByType(selected)
	vsize := estimateVSize(p2pkh, segwit, outputCountFor(req, changeKept))

	var effectiveFeeRate float64
	if vsize > 0 {
		effectiveFeeRate = float64(fee) / float64(vsize)
	}

	waste := computeWaste(totalValue, req.TargetValue, fee, change, changeKept, req.FeeRate)

	return success(&Success{
		Inputs:           selected,
		Fee:              fee,
		Change:           change,
		TotalValue:       totalValue,
		InputCount:       len(selected),
		OutputCount:      outputCountFor(req, changeKept),
		EstimatedVSize:   vsize,
		EffectiveFeeRate: effectiveFeeRate,
		WasteMetric:      waste,
		ChangeKept:       changeKept,
		Algorithm:        algorithm,
	})
}

// computeWaste implements section 4.2's waste formula: excess value plus
// the cost of keeping a change output, if one survives.
func computeWaste(totalValue, target, fee, change int64, changeKept bool, feeRate float64) float64 {
	excess := float64(totalValue - target - fee)
	if !changeKept {
		return excess
	}
	changeOutputVSize := float64(chainparams.OutputVBytes(chainparams.P2WPKH))
	return excess + changeOutputVSize*feeRate
}

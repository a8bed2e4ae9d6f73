// Package rbf builds a BIP-125 replacement for a stuck transaction: a new
// version that pays a higher fee and signals replaceability on every
// input, reusing the reference wallet's RBF sequence-number convention.
package rbf

import (
	"fmt"
	"math"

	"github.com/btcsuite/btcd/wire"

	"github.com/btcbuilder/txbuilder/chainparams"
	"github.com/btcbuilder/txbuilder/selection"
	"github.com/btcbuilder/txbuilder/txerrors"
)

// SequenceRBF is the sequence number that opts every replacement input
// into BIP-125 fee bumping.
const SequenceRBF = 0xFFFFFFFD

// notRbfSignaledCeiling is the sequence value at or above which an input
// is considered final (not RBF-signaled).
const notRbfSignaledCeiling = 0xFFFFFFFE

// Config configures a replacement build.
type Config struct {
	OriginalTxID          string
	MinFeeRateIncrease    float64 // sat/vB
	MaxFeeRate            float64 // sat/vB, 0 means unbounded
	TargetFeeRate         float64 // sat/vB
	ReplaceAllInputs      bool
	AdditionalUTXOs       []selection.UTXO
	ChangeAddress         string
	ChangeScriptType      chainparams.ScriptType
	OriginalFeeRate       float64 // sat/vB; required when original inputs can't be locally resolved
	OriginalFeeRateKnown  bool
	DustThreshold         int64
	Network               chainparams.Network
}

// Result is the unsigned replacement transaction plus its accounting.
type Result struct {
	Transaction      *wire.MsgTx
	Fee              int64
	FeeRate          float64
	VSize            int
	Change           int64
	ReplacedInputs   int
}

// Build constructs a replacement for original per section 4.5's procedure.
// originalInputValues supplies the satoshi value of each original input in
// order, used to compute the original transaction's actual fee when
// resolvable; pass nil when those UTXOs are already spent elsewhere and
// rely on cfg.OriginalFeeRate instead.
func Build(original *wire.MsgTx, cfg Config, originalInputValues []int64, utxos []selection.UTXO) (*Result, error) {
	if err := requireRBFSignaled(original); err != nil {
		return nil, err
	}

	originalVSize := estimateOriginalVSize(original)

	originalFeeRate, err := resolveOriginalFeeRate(original, originalInputValues, originalVSize, cfg)
	if err != nil {
		return nil, err
	}

	requiredFeeRate := originalFeeRate + cfg.MinFeeRateIncrease
	if cfg.MaxFeeRate > 0 && requiredFeeRate > cfg.MaxFeeRate {
		requiredFeeRate = cfg.MaxFeeRate
	}
	if cfg.TargetFeeRate < requiredFeeRate {
		return nil, txerrors.New(txerrors.KindInsufficientFeeBump,
			"target_fee_rate %.2f sat/vB is below the required %.2f sat/vB (original %.2f + increase %.2f)",
			cfg.TargetFeeRate, requiredFeeRate, originalFeeRate, cfg.MinFeeRateIncrease)
	}
	feeRate := cfg.TargetFeeRate
	if cfg.MaxFeeRate > 0 && feeRate > cfg.MaxFeeRate {
		feeRate = cfg.MaxFeeRate
	}

	totalOutputs := sumOutputValues(original)

	var inputs []selection.UTXO
	if cfg.ReplaceAllInputs {
		outcome := selection.SelectAccumulative(utxos, selection.Request{
			TargetValue:      totalOutputs,
			FeeRate:          cfg.TargetFeeRate,
			DustThreshold:    cfg.DustThreshold,
			ChangeScriptType: cfg.ChangeScriptType,
		})
		if outcome.Failure != nil {
			return nil, fmt.Errorf("rbf: replacement input selection failed: %w", outcome.Failure)
		}
		inputs = outcome.Success.Inputs
	} else {
		var err error
		inputs, _, err = addUntilCovered(cfg.AdditionalUTXOs, sumInt64(originalInputValues), totalOutputs, feeRate, len(original.TxIn))
		if err != nil {
			return nil, err
		}
	}

	totalInput := sumSelected(inputs) + sumInt64(originalInputValues)

	tx := wire.NewMsgTx(original.Version)
	tx.LockTime = original.LockTime

	for _, in := range original.TxIn {
		txIn := wire.NewTxIn(&in.PreviousOutPoint, nil, nil)
		txIn.Sequence = SequenceRBF
		tx.AddTxIn(txIn)
	}
	for _, u := range inputs {
		outpoint := wire.NewOutPoint(&u.TxID, u.Vout)
		txIn := wire.NewTxIn(outpoint, nil, nil)
		txIn.Sequence = SequenceRBF
		tx.AddTxIn(txIn)
	}

	changeIdx := -1
	for i, out := range original.TxOut {
		tx.AddTxOut(wire.NewTxOut(out.Value, out.PkScript))
		if i == len(original.TxOut)-1 && looksLikeChange(out, cfg) {
			changeIdx = i
		}
	}

	vsize := estimateVSize(tx)
	newFee := int64(math.Ceil(float64(vsize) * feeRate))

	change := totalInput - totalOutputs - newFee
	if changeIdx >= 0 {
		tx.TxOut[changeIdx].Value = tx.TxOut[changeIdx].Value + change
		if tx.TxOut[changeIdx].Value < 0 {
			return nil, txerrors.New(txerrors.KindInsufficientFeeBump, "adjusting existing change output below zero")
		}
	} else if change > cfg.DustThreshold {
		if cfg.ChangeAddress == "" {
			return nil, fmt.Errorf("rbf: residual %d exceeds dust but no change_address configured", change)
		}
		script, err := chainparams.ScriptPubKey(cfg.ChangeAddress, cfg.Network)
		if err != nil {
			return nil, fmt.Errorf("rbf: invalid change address: %w", err)
		}
		changeOut := wire.NewTxOut(0, script)
		changeFee := int64(math.Ceil(float64(changeOut.SerializeSize()) * feeRate))
		if change-changeFee > cfg.DustThreshold {
			newFee += changeFee
			change -= changeFee
			changeOut.Value = change
			tx.AddTxOut(changeOut)
		}
	} else if change < 0 {
		return nil, txerrors.New(txerrors.KindInsufficientFeeBump, "replacement fee %d exceeds available input value by %d", newFee, -change)
	}

	finalVSize := estimateVSize(tx)
	finalFee := totalInput - sumOutputValues(tx)
	effectiveRate := 0.0
	if finalVSize > 0 {
		effectiveRate = float64(finalFee) / float64(finalVSize)
	}

	if finalFee <= 0 {
		return nil, txerrors.New(txerrors.KindInsufficientFeeBump, "replacement fee %d is not strictly greater than zero", finalFee)
	}

	return &Result{
		Transaction:    tx,
		Fee:            finalFee,
		FeeRate:        effectiveRate,
		VSize:          finalVSize,
		Change:         change,
		ReplacedInputs: len(original.TxIn),
	}, nil
}

func requireRBFSignaled(tx *wire.MsgTx) error {
	for _, in := range tx.TxIn {
		if in.Sequence < notRbfSignaledCeiling {
			return nil
		}
	}
	return txerrors.New(txerrors.KindNotRbfSignaled, "no input signals replaceability (sequence < 0xFFFFFFFE)")
}

func resolveOriginalFeeRate(original *wire.MsgTx, inputValues []int64, vsize int, cfg Config) (float64, error) {
	if len(inputValues) == len(original.TxIn) {
		fee := sumInt64(inputValues) - sumOutputValues(original)
		if fee > 0 && vsize > 0 {
			return float64(fee) / float64(vsize), nil
		}
	}
	if cfg.OriginalFeeRateKnown {
		return cfg.OriginalFeeRate, nil
	}
	return 0, txerrors.New(txerrors.KindOriginalFeeRateRequired,
		"original_fee_rate is required when the original transaction's inputs cannot be locally resolved")
}

func estimateOriginalVSize(tx *wire.MsgTx) int {
	return estimateVSize(tx)
}

func estimateVSize(tx *wire.MsgTx) int {
	return tx.SerializeSizeStripped() + (tx.SerializeSize()-tx.SerializeSizeStripped()+3)/4
}

func sumOutputValues(tx *wire.MsgTx) int64 {
	var total int64
	for _, out := range tx.TxOut {
		total += out.Value
	}
	return total
}

func sumSelected(utxos []selection.UTXO) int64 {
	var total int64
	for _, u := range utxos {
		total += u.Value
	}
	return total
}

func sumInt64(values []int64) int64 {
	var total int64
	for _, v := range values {
		total += v
	}
	return total
}

// looksLikeChange treats the final output as a change candidate only when
// its script pays cfg.ChangeAddress; otherwise Build appends a fresh change
// output when the residual exceeds the dust threshold.
func looksLikeChange(out *wire.TxOut, cfg Config) bool {
	if cfg.ChangeAddress == "" {
		return false
	}
	script, err := chainparams.ScriptPubKey(cfg.ChangeAddress, cfg.Network)
	if err != nil {
		return false
	}
	return string(script) == string(out.PkScript)
}

// addUntilCovered keeps original inputs and adds from additional until
// sum_inputs >= outputs + required_fee (section 4.5 step 3), where
// sum_inputs is originalInputTotal (the value already committed by the
// kept original inputs) plus whatever's been added so far, mirroring the
// reference wallet's accumulative loop but starting from a nonzero floor.
func addUntilCovered(additional []selection.UTXO, originalInputTotal, outputs int64, feeRate float64, originalInputCount int) ([]selection.UTXO, int64, error) {
	var selected []selection.UTXO
	var addedTotal int64

	for _, u := range additional {
		selected = append(selected, u)
		addedTotal += u.Value

		vsize := 10 + 68*(originalInputCount+len(selected)) + 31
		fee := int64(math.Ceil(float64(vsize) * feeRate))
		if originalInputTotal+addedTotal >= outputs+fee {
			return selected, fee, nil
		}
	}

	return nil, 0, txerrors.New(txerrors.KindInsufficientFundsForBump, "additional utxos insufficient to cover outputs plus replacement fee at %.2f sat/vB", feeRate)
}

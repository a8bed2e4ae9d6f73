// Package cpfp builds a child transaction that spends one or more of a
// stuck parent's own outputs at a fee rate high enough to pull the whole
// package's effective rate above the network's confirmation target.
package cpfp

import (
	"fmt"
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcbuilder/txbuilder/chainparams"
	"github.com/btcbuilder/txbuilder/txerrors"
)

// ParentRef identifies one parent transaction in a package, carrying just
// enough of its shape to compute package economics without refetching it.
type ParentRef struct {
	TxID       string
	VSize      int
	Fee        int64
	Tx         *wire.MsgTx // optional; carried for the caller, Build does not read it
}

// SpendOutput names one parent output the child will spend to bump the
// package, along with its value and script type (the script type is what
// sizes the child's input).
type SpendOutput struct {
	ParentTxID string
	Vout       uint32
	Value      int64
	ScriptType chainparams.ScriptType
}

// Config configures a child-pays-for-parent build.
type Config struct {
	Parents              []ParentRef
	SpendOutputs         []SpendOutput
	TargetPackageFeeRate float64 // sat/vB, applied to parents+child combined
	DestinationScript    []byte
	ChangeScriptType     chainparams.ScriptType
	Network              chainparams.Network

	// PackageGraph, when non-nil, is validated for cycles before the
	// child is assembled (section 4.6's package-validation step).
	PackageGraph Graph
	ChildTxID    string
}

// Result is the unsigned child transaction plus package accounting.
type Result struct {
	Transaction       *wire.MsgTx
	ChildVSize        int
	ChildFee          int64
	OutputValue       int64
	PackageVSize      int
	PackageFee        int64
	EffectiveFeeRate  float64
	Warnings          []string
}

// packageVSizeWarnThreshold flags unusually large packages that are more
// likely to be rejected by a mempool's per-package limits.
const packageVSizeWarnThreshold = 100000

// packageVSizeHardLimit rejects a package outright once it exceeds most
// nodes' ancestor/descendant package-size cap outright, rather than only
// warning.
const packageVSizeHardLimit = 404000

// minRelayFeeRate is the floor used for required_child_fee's second term:
// the child must cover its own minimum relay fee even when the parents
// already meet the target rate on their own.
const minRelayFeeRate = 1.0

// lowEffectiveFeeRateWarnThreshold flags a package whose effective rate
// fell below the minimum relay rate most nodes enforce.
const lowEffectiveFeeRateWarnThreshold = 1.0

// Build assembles the child transaction per section 4.6's procedure:
// aggregate parent vsize/fee, size the child from the actual script types
// of the outputs it spends, compute the fee required to bring the whole
// package up to the target rate, and fail if the spent outputs can't cover
// it.
func Build(cfg Config) (*Result, error) {
	if len(cfg.SpendOutputs) == 0 {
		return nil, fmt.Errorf("cpfp: at least one parent output must be spent")
	}

	if cfg.PackageGraph != nil {
		if err := DetectCycle(cfg.PackageGraph); err != nil {
			return nil, err
		}
	}

	if len(cfg.Parents) > 0 {
		if err := requireParentLinks(cfg.Parents, cfg.SpendOutputs); err != nil {
			return nil, err
		}
	}

	parentVSize, parentFee := aggregateParents(cfg.Parents)

	childVSize := estimateChildVSize(cfg.SpendOutputs, cfg.ChangeScriptType)

	totalSpendValue := int64(0)
	for _, o := range cfg.SpendOutputs {
		totalSpendValue += o.Value
	}

	requiredPackageFee := int64(math.Ceil(cfg.TargetPackageFeeRate * float64(parentVSize+childVSize)))
	requiredChildFee := requiredPackageFee - parentFee
	minChildFee := int64(math.Ceil(float64(childVSize) * minRelayFeeRate))
	if requiredChildFee < minChildFee {
		requiredChildFee = minChildFee
	}

	outputValue := totalSpendValue - requiredChildFee
	if outputValue <= 0 {
		return nil, txerrors.New(txerrors.KindInsufficientValue,
			"spent outputs total %d cannot cover required child fee %d at package rate %.2f sat/vB",
			totalSpendValue, requiredChildFee, cfg.TargetPackageFeeRate)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, o := range cfg.SpendOutputs {
		hash, err := chainhashFromHex(o.ParentTxID)
		if err != nil {
			return nil, fmt.Errorf("cpfp: invalid parent txid %q: %w", o.ParentTxID, err)
		}
		outpoint := wire.NewOutPoint(hash, o.Vout)
		txIn := wire.NewTxIn(outpoint, nil, nil)
		tx.AddTxIn(txIn)
	}
	tx.AddTxOut(wire.NewTxOut(outputValue, cfg.DestinationScript))

	actualVSize := childVSize
	actualFee := totalSpendValue - outputValue
	packageFee := parentFee + actualFee
	packageVSize := parentVSize + actualVSize
	effectiveRate := 0.0
	if packageVSize > 0 {
		effectiveRate = float64(packageFee) / float64(packageVSize)
	}

	if packageVSize > packageVSizeHardLimit {
		return nil, txerrors.New(txerrors.KindPackageTooLarge,
			"package vsize %d exceeds the %d hard limit", packageVSize, packageVSizeHardLimit)
	}

	var warnings []string
	if packageVSize > packageVSizeWarnThreshold {
		warnings = append(warnings, fmt.Sprintf("package vsize %d exceeds %d, may hit mempool package limits", packageVSize, packageVSizeWarnThreshold))
	}
	if effectiveRate < lowEffectiveFeeRateWarnThreshold {
		warnings = append(warnings, fmt.Sprintf("effective package fee rate %.4f sat/vB is below the typical relay floor", effectiveRate))
	}

	return &Result{
		Transaction:      tx,
		ChildVSize:       actualVSize,
		ChildFee:         actualFee,
		OutputValue:      outputValue,
		PackageVSize:     packageVSize,
		PackageFee:       packageFee,
		EffectiveFeeRate: effectiveRate,
		Warnings:         warnings,
	}, nil
}

// requireParentLinks validates step 7's "every child input must reference
// some parent" rule: every spend output's parent txid must appear among
// the supplied Parents.
func requireParentLinks(parents []ParentRef, spends []SpendOutput) error {
	known := make(map[string]bool, len(parents))
	for _, p := range parents {
		known[p.TxID] = true
	}
	for _, s := range spends {
		if !known[s.ParentTxID] {
			return txerrors.New(txerrors.KindNoParentLink,
				"spend output references parent %s which is not in the supplied parent set", s.ParentTxID)
		}
	}
	return nil
}

func aggregateParents(parents []ParentRef) (vsize int, fee int64) {
	for _, p := range parents {
		vsize += p.VSize
		fee += p.Fee
	}
	return vsize, fee
}

// estimateChildVSize sizes the child from the actual script types of the
// parent outputs it spends rather than a blanket per-input estimate,
// since P2TR and P2WPKH inputs differ materially in witness size.
func estimateChildVSize(spends []SpendOutput, changeType chainparams.ScriptType) int {
	inputs := make([]chainparams.ScriptType, len(spends))
	for i, s := range spends {
		inputs[i] = s.ScriptType
	}
	return chainparams.EstimateVSize(inputs, []chainparams.ScriptType{changeType})
}

func estimateVSize(tx *wire.MsgTx) int {
	return tx.SerializeSizeStripped() + (tx.SerializeSize()-tx.SerializeSizeStripped()+3)/4
}

func chainhashFromHex(s string) (*chainhash.Hash, error) {
	return chainhash.NewHashFromStr(s)
}

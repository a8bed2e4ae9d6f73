// Package selection chooses which UTXOs fund a transaction. It implements
// eight selection algorithms behind one shared contract, a dust calculator,
// a scenario dispatcher, and a parallel race/all-of selector that scores
// and picks among concurrent candidates.
package selection

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcbuilder/txbuilder/chainparams"
)

// UTXO is an immutable spendable output considered by a selector.
type UTXO struct {
	TxID          chainhash.Hash
	Vout          uint32
	Value         int64
	ScriptPubKey  []byte
	ScriptType    chainparams.ScriptType
	Confirmations uint32
	Height        *uint32
}

// Outpoint identifies the UTXO for locking and deduplication purposes.
func (u UTXO) Outpoint() string {
	return fmt.Sprintf("%s:%d", u.TxID.String(), u.Vout)
}

// Request carries the parameters a selector needs to pick inputs.
type Request struct {
	TargetValue      int64
	FeeRate          float64 // sat/vB
	DustThreshold    int64
	MinConfirmations uint32
	MaxInputs        int // 0 means unlimited

	// ChangeScriptType sizes branch-and-bound's cost of change. The other
	// selectors estimate every output at a fixed 34 vbytes,
	// and PayoutScriptType is not read by any selector.
	ChangeScriptType  chainparams.ScriptType
	PayoutScriptType  chainparams.ScriptType
	PayoutOutputCount int
}

// FailureKind is a closed set of reasons a selector can fail to produce an
// outcome.
type FailureKind string

const (
	FailInsufficientFunds FailureKind = "insufficient_funds"
	FailNoCombinationFound FailureKind = "no_combination_found"
	FailDustOnly           FailureKind = "dust_only"
	FailMaxInputsExceeded  FailureKind = "max_inputs_exceeded"
)

// Failure describes why a selector did not produce a Success outcome.
type Failure struct {
	Kind    FailureKind
	Details string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Details)
}

// Success is the positive outcome of a selection run.
type Success struct {
	Inputs            []UTXO
	Fee               int64
	Change            int64
	TotalValue        int64
	InputCount        int
	OutputCount       int
	EstimatedVSize    int
	EffectiveFeeRate  float64
	WasteMetric       float64
	ChangeKept        bool
	Algorithm         string
}

// Outcome is the tagged-variant result every selector returns: exactly one
// of Success or Failure is non-nil.
type Outcome struct {
	Success *Success
	Failure *Failure
}

func success(s *Success) Outcome { return Outcome{Success: s} }

func failure(kind FailureKind, format string, args ...interface{}) Outcome {
	return Outcome{Failure: &Failure{Kind: kind, Details: fmt.Sprintf(format, args...)}}
}

// Algorithm is a closed set of selector identities, used by the dispatcher
// and by callers requesting a specific strategy.
type Algorithm string

const (
	Accumulative    Algorithm = "accumulative"
	BranchAndBound  Algorithm = "branch_and_bound"
	Blackjack       Algorithm = "blackjack"
	Knapsack        Algorithm = "knapsack"
	SingleRandomDraw Algorithm = "single_random_draw"
	FIFO            Algorithm = "fifo"
	LIFO            Algorithm = "lifo"
	WasteOptimized  Algorithm = "waste_optimized"
)

// Selector is the shared contract every algorithm implements. Selectors are
// pure functions of their inputs: no shared mutable state, no I/O.
type Selector func(utxos []UTXO, req Request) Outcome

// registry maps each Algorithm to its implementation, used by the
// dispatcher and the parallel selector to run algorithms by name.
var registry = map[Algorithm]Selector{
	Accumulative:     SelectAccumulative,
	BranchAndBound:   SelectBranchAndBound,
	Blackjack:        SelectBlackjack,
	Knapsack:         SelectKnapsack,
	SingleRandomDraw: SelectSingleRandomDraw,
	FIFO:             SelectFIFO,
	LIFO:             SelectLIFO,
	WasteOptimized:   SelectWasteOptimized,
}

// Lookup returns the Selector function registered for an Algorithm, or nil
// if the algorithm is unrecognized.
func Lookup(a Algorithm) Selector {
	return registry[a]
}

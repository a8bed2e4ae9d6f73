package psbtx

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcbuilder/txbuilder/txerrors"
)

func buildMultisigScript(t *testing.T, k int, pubkeys [][]byte) []byte {
	t.Helper()
	builder := txscript.NewScriptBuilder().AddOp(txscript.OP_1 - 1 + byte(k))
	for _, pk := range pubkeys {
		builder.AddData(pk)
	}
	builder.AddOp(txscript.OP_1 - 1 + byte(len(pubkeys)))
	builder.AddOp(txscript.OP_CHECKMULTISIG)

	script, err := builder.Script()
	if err != nil {
		t.Fatalf("failed to build multisig script: %v", err)
	}
	return script
}

func TestFinalizeP2WPKHRequiresSignature(t *testing.T) {
	b, _ := NewBuilder(wire.TxVersion, 0)
	script := p2wpkhScript(t)
	_, err := b.AddInput(testOutpoint(1, 0), InputOpts{
		WitnessUtxo: &wire.TxOut{Value: 100000, PkScript: script},
	})
	if err != nil {
		t.Fatalf("AddInput() error = %v", err)
	}
	b.AddOutput(script, 90000, nil)

	result := b.Finalize(FinalizeOpts{})
	if result.Success {
		t.Fatal("Finalize() succeeded with no partial signature, want failure")
	}
	if len(result.FailedIndices) != 1 {
		t.Errorf("FailedIndices = %v, want [0]", result.FailedIndices)
	}
}

func TestFinalizeP2WPKHWithSignatureExtracts(t *testing.T) {
	b, _ := NewBuilder(wire.TxVersion, 0)
	script := p2wpkhScript(t)
	_, err := b.AddInput(testOutpoint(1, 0), InputOpts{
		WitnessUtxo: &wire.TxOut{Value: 100000, PkScript: script},
	})
	if err != nil {
		t.Fatalf("AddInput() error = %v", err)
	}
	b.AddOutput(script, 90000, nil)

	p := b.Packet()
	p.Inputs[0].PartialSigs = []*psbt.PartialSig{
		{PubKey: make([]byte, 33), Signature: make([]byte, 71)},
	}

	result := b.Finalize(FinalizeOpts{Extract: true})
	if !result.Success {
		t.Fatalf("Finalize() failed: %v", result.Errors)
	}
	if result.FinalizedCount != 1 {
		t.Errorf("FinalizedCount = %d, want 1", result.FinalizedCount)
	}
	if result.Transaction == nil {
		t.Fatal("Transaction is nil after successful extract")
	}
	if result.TxID == "" {
		t.Error("TxID is empty after successful extract")
	}
}

func TestFinalizeRejectsOutOfRangeIndex(t *testing.T) {
	b, _ := NewBuilder(wire.TxVersion, 0)
	script := p2wpkhScript(t)
	_, err := b.AddInput(testOutpoint(1, 0), InputOpts{
		WitnessUtxo: &wire.TxOut{Value: 100000, PkScript: script},
	})
	if err != nil {
		t.Fatalf("AddInput() error = %v", err)
	}

	result := b.Finalize(FinalizeOpts{Indices: []int{5}})
	if result.Success {
		t.Fatal("Finalize() succeeded with an out-of-range index, want failure")
	}
	if !errors.Is(result.Errors[0], txerrors.ErrInputIndexOutOfRange) {
		t.Errorf("error = %v, want ErrInputIndexOutOfRange", result.Errors[0])
	}
}

func TestFinalizeReportsMissingUtxo(t *testing.T) {
	b, _ := NewBuilder(wire.TxVersion, 0)
	_, err := b.AddInput(testOutpoint(1, 0), InputOpts{
		WitnessUtxo: &wire.TxOut{Value: 100000, PkScript: p2wpkhScript(t)},
	})
	if err != nil {
		t.Fatalf("AddInput() error = %v", err)
	}
	// AddInput refuses an input without a utxo, so detach it afterwards.
	b.Packet().Inputs[0].WitnessUtxo = nil

	result := b.Finalize(FinalizeOpts{})
	if result.Success {
		t.Fatal("Finalize() succeeded with no utxo attached, want failure")
	}
	if !errors.Is(result.Errors[0], txerrors.ErrMissingUtxo) {
		t.Errorf("error = %v, want ErrMissingUtxo", result.Errors[0])
	}
}

func TestParseMultisigScript(t *testing.T) {
	// 2-of-3 multisig: OP_2 <pk1> <pk2> <pk3> OP_3 OP_CHECKMULTISIG
	pk := func(b byte) []byte {
		key := make([]byte, 33)
		key[0] = 0x02
		key[1] = b
		return key
	}

	script := buildMultisigScript(t, 2, [][]byte{pk(1), pk(2), pk(3)})

	k, pubkeys, ok := parseMultisigScript(script)
	if !ok {
		t.Fatal("parseMultisigScript() ok = false, want true")
	}
	if k != 2 {
		t.Errorf("k = %d, want 2", k)
	}
	if len(pubkeys) != 3 {
		t.Errorf("len(pubkeys) = %d, want 3", len(pubkeys))
	}
}

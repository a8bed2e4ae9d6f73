package psbtx

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcbuilder/txbuilder/chainparams"
	"github.com/btcbuilder/txbuilder/txerrors"
)

// finalizerFunc pairs a script type's eligibility check with its
// finalization routine, the tagged-variant dispatch the finalizer
// registry uses instead of a polymorphic interface.
type finalizerFunc struct {
	canFinalize func(p *psbt.Packet, i int) bool
	finalize    func(p *psbt.Packet, i int) error
}

var finalizers = map[chainparams.ScriptType]finalizerFunc{
	chainparams.P2PKH:      {canFinalizeP2PKH, finalizeP2PKH},
	chainparams.P2WPKH:     {canFinalizeP2WPKH, finalizeP2WPKH},
	chainparams.P2SHP2WPKH: {canFinalizeP2SHP2WPKH, finalizeP2SHP2WPKH},
	chainparams.P2WSH:      {canFinalizeMultisig, finalizeMultisig},
}

// inputPkScript returns the scriptPubKey being spent by input i, preferring
// WitnessUtxo and falling back to the referenced output of NonWitnessUtxo.
func inputPkScript(p *psbt.Packet, i int) []byte {
	in := p.Inputs[i]
	if in.WitnessUtxo != nil {
		return in.WitnessUtxo.PkScript
	}
	if in.NonWitnessUtxo != nil {
		vout := p.UnsignedTx.TxIn[i].PreviousOutPoint.Index
		if int(vout) < len(in.NonWitnessUtxo.TxOut) {
			return in.NonWitnessUtxo.TxOut[vout].PkScript
		}
	}
	return nil
}

// classify determines which finalizer registry entry applies to input i,
// special-casing P2SH-wrapped-segwit since its scriptPubKey alone looks
// like plain P2SH.
func classify(p *psbt.Packet, i int) chainparams.ScriptType {
	pkScript := inputPkScript(p, i)
	if pkScript == nil {
		return chainparams.ScriptUnknown
	}

	class := chainparams.ScriptTypeFromPkScript(pkScript)
	if class == chainparams.P2SH {
		redeem := p.Inputs[i].RedeemScript
		if len(redeem) == 22 && redeem[0] == txscript.OP_0 && redeem[1] == 0x14 {
			return chainparams.P2SHP2WPKH
		}
	}
	return class
}

// CanFinalize reports whether input i has everything its script type's
// finalizer needs.
func CanFinalize(p *psbt.Packet, i int) bool {
	fn, ok := finalizers[classify(p, i)]
	if !ok {
		return false
	}
	return fn.canFinalize(p, i)
}

// diagnoseNotReady reports the specific reason input i isn't ready to
// finalize yet — a missing UTXO, a missing redeem/witness script for a
// wrapped or multisig input, or signatures simply not collected yet —
// instead of one generic "not ready" error.
func diagnoseNotReady(p *psbt.Packet, i int) error {
	in := p.Inputs[i]
	if in.WitnessUtxo == nil && in.NonWitnessUtxo == nil {
		return txerrors.New(txerrors.KindMissingUtxo, "input %d has no witness or non-witness utxo", i)
	}

	switch classify(p, i) {
	case chainparams.P2SHP2WPKH:
		if len(in.RedeemScript) == 0 {
			return txerrors.New(txerrors.KindMissingRedeemScript, "input %d is missing its redeem script", i)
		}
	case chainparams.P2WSH:
		if len(in.WitnessScript) == 0 {
			return txerrors.New(txerrors.KindMissingWitnessScript, "input %d is missing its witness script", i)
		}
	}

	return txerrors.New(txerrors.KindFinalizeFailed, "input %d is not ready to finalize", i)
}

func canFinalizeP2PKH(p *psbt.Packet, i int) bool {
	in := p.Inputs[i]
	return in.NonWitnessUtxo != nil && len(in.PartialSigs) >= 1
}

func finalizeP2PKH(p *psbt.Packet, i int) error {
	in := &p.Inputs[i]
	if len(in.PartialSigs) == 0 {
		return txerrors.New(txerrors.KindFinalizeFailed, "p2pkh input %d has no partial signature", i)
	}

	sig := in.PartialSigs[0]
	builder := txscript.NewScriptBuilder()
	builder.AddData(sig.Signature)
	builder.AddData(sig.PubKey)
	script, err := builder.Script()
	if err != nil {
		return fmt.Errorf("psbtx: failed to build p2pkh scriptSig for input %d: %w", i, err)
	}

	in.FinalScriptSig = script
	clearPartialState(in)
	return nil
}

func canFinalizeP2WPKH(p *psbt.Packet, i int) bool {
	in := p.Inputs[i]
	pkScript := inputPkScript(p, i)
	return in.WitnessUtxo != nil && len(pkScript) == 22 && pkScript[0] == txscript.OP_0 && len(in.PartialSigs) >= 1
}

func finalizeP2WPKH(p *psbt.Packet, i int) error {
	in := &p.Inputs[i]
	if len(in.PartialSigs) == 0 {
		return txerrors.New(txerrors.KindFinalizeFailed, "p2wpkh input %d has no partial signature", i)
	}

	sig := in.PartialSigs[0]
	witness, err := serializeWitness([][]byte{sig.Signature, sig.PubKey})
	if err != nil {
		return fmt.Errorf("psbtx: failed to serialize p2wpkh witness for input %d: %w", i, err)
	}

	in.FinalScriptWitness = witness
	clearPartialState(in)
	return nil
}

func canFinalizeP2SHP2WPKH(p *psbt.Packet, i int) bool {
	in := p.Inputs[i]
	return in.WitnessUtxo != nil && len(in.RedeemScript) == 22 && len(in.PartialSigs) >= 1
}

func finalizeP2SHP2WPKH(p *psbt.Packet, i int) error {
	in := &p.Inputs[i]
	if len(in.PartialSigs) == 0 {
		return txerrors.New(txerrors.KindFinalizeFailed, "p2sh-p2wpkh input %d has no partial signature", i)
	}

	sig := in.PartialSigs[0]
	witness, err := serializeWitness([][]byte{sig.Signature, sig.PubKey})
	if err != nil {
		return fmt.Errorf("psbtx: failed to serialize p2sh-p2wpkh witness for input %d: %w", i, err)
	}

	scriptSig, err := txscript.NewScriptBuilder().AddData(in.RedeemScript).Script()
	if err != nil {
		return fmt.Errorf("psbtx: failed to build p2sh-p2wpkh scriptSig for input %d: %w", i, err)
	}

	in.FinalScriptWitness = witness
	in.FinalScriptSig = scriptSig
	clearPartialState(in)
	return nil
}

// canFinalizeMultisig requires the witness script's required signature
// count k to be met by the accumulated partial signatures.
func canFinalizeMultisig(p *psbt.Packet, i int) bool {
	in := p.Inputs[i]
	if in.WitnessUtxo == nil || len(in.WitnessScript) == 0 {
		return false
	}
	k, _, ok := parseMultisigScript(in.WitnessScript)
	if !ok {
		return false
	}
	return len(in.PartialSigs) >= k
}

func finalizeMultisig(p *psbt.Packet, i int) error {
	in := &p.Inputs[i]
	k, pubkeyOrder, ok := parseMultisigScript(in.WitnessScript)
	if !ok {
		return txerrors.New(txerrors.KindFinalizeFailed, "input %d witness script is not a standard k-of-n multisig", i)
	}
	if len(in.PartialSigs) < k {
		return txerrors.New(txerrors.KindFinalizeFailed, "input %d has %d of %d required signatures", i, len(in.PartialSigs), k)
	}

	// CHECKMULTISIG requires signatures in the same order as pubkeys
	// appear in the script.
	ordered := make([][]byte, 0, k)
	for _, pubkey := range pubkeyOrder {
		for _, sig := range in.PartialSigs {
			if bytes.Equal(sig.PubKey, pubkey) {
				ordered = append(ordered, sig.Signature)
				break
			}
		}
		if len(ordered) == k {
			break
		}
	}
	if len(ordered) < k {
		return txerrors.New(txerrors.KindFinalizeFailed, "input %d could not order %d signatures against script pubkeys", i, k)
	}

	// CHECKMULTISIG's off-by-one bug consumes an extra stack item.
	stack := append([][]byte{nil}, ordered...)
	stack = append(stack, in.WitnessScript)

	witness, err := serializeWitness(stack)
	if err != nil {
		return fmt.Errorf("psbtx: failed to serialize multisig witness for input %d: %w", i, err)
	}

	in.FinalScriptWitness = witness
	clearPartialState(in)
	return nil
}

// parseMultisigScript extracts k (required signatures) and the ordered
// pubkey list from a standard `OP_k <pubkeys...> OP_n OP_CHECKMULTISIG`
// witness script.
func parseMultisigScript(script []byte) (k int, pubkeys [][]byte, ok bool) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	var opcodes []byte
	var datas [][]byte
	for tokenizer.Next() {
		opcodes = append(opcodes, tokenizer.Opcode())
		datas = append(datas, tokenizer.Data())
	}
	if tokenizer.Err() != nil || len(opcodes) < 4 {
		return 0, nil, false
	}
	last := len(opcodes) - 1
	if opcodes[last] != txscript.OP_CHECKMULTISIG {
		return 0, nil, false
	}

	n := int(opcodes[last-1]) - (txscript.OP_1 - 1)
	kOp := int(opcodes[0]) - (txscript.OP_1 - 1)
	if n < 1 || n > 16 || kOp < 1 || kOp > 16 {
		return 0, nil, false
	}
	if last-1-n != 1 {
		return 0, nil, false
	}

	for i := 1; i <= n; i++ {
		pubkeys = append(pubkeys, datas[i])
	}

	return kOp, pubkeys, true
}

func clearPartialState(in *psbt.PInput) {
	in.PartialSigs = nil
	in.RedeemScript = nil
	in.WitnessScript = nil
	in.Bip32Derivation = nil
	in.SighashType = 0
}

// serializeWitness encodes a witness stack in BIP-141 wire format: a
// CompactSize item count followed by length-prefixed items.
func serializeWitness(stack [][]byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteVarInt(&buf, 0, uint64(len(stack))); err != nil {
		return nil, err
	}
	for _, item := range stack {
		if err := wire.WriteVarBytes(&buf, 0, item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// FinalizeResult is the outcome of finalizing one or more inputs.
type FinalizeResult struct {
	Success        bool
	FinalizedCount int
	FailedIndices  []int
	Errors         []error
	Transaction    *wire.MsgTx
	TxID           string
}

// FinalizeOpts controls which inputs Finalize attempts and whether it
// extracts the final transaction afterward.
type FinalizeOpts struct {
	Indices []int // empty means all inputs
	Extract bool
}

// Finalize runs the registered finalizer for each requested input and,
// when opts.Extract is set, extracts the final transaction — but only if
// every requested index finalized successfully (section 4.4).
func (b *Builder) Finalize(opts FinalizeOpts) FinalizeResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	indices := opts.Indices
	if len(indices) == 0 {
		indices = make([]int, len(b.packet.Inputs))
		for i := range indices {
			indices[i] = i
		}
	}

	result := FinalizeResult{Success: true}
	for _, i := range indices {
		if i < 0 || i >= len(b.packet.Inputs) {
			result.Success = false
			result.FailedIndices = append(result.FailedIndices, i)
			result.Errors = append(result.Errors, txerrors.New(txerrors.KindInputIndexOutOfRange, "input index %d out of range", i))
			continue
		}

		if inputPkScript(b.packet, i) == nil {
			result.Success = false
			result.FailedIndices = append(result.FailedIndices, i)
			result.Errors = append(result.Errors, txerrors.New(txerrors.KindMissingUtxo, "input %d has no witness or non-witness utxo", i))
			continue
		}

		class := classify(b.packet, i)
		fn, ok := finalizers[class]
		if !ok {
			result.Success = false
			result.FailedIndices = append(result.FailedIndices, i)
			if class == chainparams.P2SH && len(b.packet.Inputs[i].RedeemScript) == 0 {
				result.Errors = append(result.Errors, txerrors.New(txerrors.KindMissingRedeemScript, "input %d is missing its redeem script", i))
			} else {
				result.Errors = append(result.Errors, txerrors.New(txerrors.KindFinalizeFailed, "no finalizer registered for input %d's script type", i))
			}
			continue
		}
		if !fn.canFinalize(b.packet, i) {
			result.Success = false
			result.FailedIndices = append(result.FailedIndices, i)
			result.Errors = append(result.Errors, diagnoseNotReady(b.packet, i))
			continue
		}
		if err := fn.finalize(b.packet, i); err != nil {
			result.Success = false
			result.FailedIndices = append(result.FailedIndices, i)
			result.Errors = append(result.Errors, err)
			continue
		}
		result.FinalizedCount++
	}

	if opts.Extract && result.Success {
		tx, err := psbt.Extract(b.packet)
		if err != nil {
			result.Success = false
			result.Errors = append(result.Errors, txerrors.Wrap(txerrors.KindExtractFailed, err, "failed to extract transaction"))
			return result
		}
		result.Transaction = tx
		result.TxID = tx.TxHash().String()
	}

	return result
}

// Package psbtx assembles and finalizes BIP-174 Partially Signed Bitcoin
// Transactions. The Builder owns a live *psbt.Packet exclusively until it
// is serialized; Finalize dispatches per-input to a small registry of
// script-type finalizers rather than to one branching function.
package psbtx

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcbuilder/txbuilder/txerrors"
)

// Bip32Derivation mirrors psbt.Bip32Derivation without requiring callers to
// import btcutil/psbt directly for simple input construction.
type Bip32Derivation struct {
	PubKey             []byte
	MasterKeyFingerprint uint32
	Bip32Path          []uint32
}

// InputOpts carries the per-input BIP-174 fields Builder.AddInput
// populates; an input with a segwit previous output must set WitnessUtxo,
// a legacy input must set NonWitnessUtxo (section 3's PSBT invariant).
type InputOpts struct {
	Sequence       uint32
	WitnessUtxo    *wire.TxOut
	NonWitnessUtxo *wire.MsgTx
	RedeemScript   []byte
	WitnessScript  []byte
	Derivations    []Bip32Derivation
}

// Builder assembles a PSBT incrementally. The zero value is not usable;
// construct with NewBuilder. A Builder is not safe for concurrent use from
// multiple goroutines without external synchronization beyond what its
// internal mutex provides for individual method calls.
type Builder struct {
	mu     sync.Mutex
	packet *psbt.Packet
}

// NewBuilder starts a fresh PSBT with no inputs or outputs.
func NewBuilder(version int32, locktime uint32) (*Builder, error) {
	tx := wire.NewMsgTx(version)
	tx.LockTime = locktime

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, fmt.Errorf("psbtx: failed to start packet: %w", err)
	}

	return &Builder{packet: packet}, nil
}

// AddInput appends an input for the given outpoint and returns its index.
func (b *Builder) AddInput(outpoint wire.OutPoint, opts InputOpts) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if opts.WitnessUtxo == nil && opts.NonWitnessUtxo == nil {
		return 0, txerrors.New(txerrors.KindMissingUtxo, "input for %s:%d must carry witness_utxo or non_witness_utxo", outpoint.Hash, outpoint.Index)
	}

	seq := opts.Sequence
	if seq == 0 {
		seq = wire.MaxTxInSequenceNum
	}

	txIn := wire.NewTxIn(&outpoint, nil, nil)
	txIn.Sequence = seq
	b.packet.UnsignedTx.AddTxIn(txIn)

	pin := psbt.PInput{
		WitnessUtxo:    opts.WitnessUtxo,
		NonWitnessUtxo: opts.NonWitnessUtxo,
		RedeemScript:   opts.RedeemScript,
		WitnessScript:  opts.WitnessScript,
	}
	for _, d := range opts.Derivations {
		pin.Bip32Derivation = append(pin.Bip32Derivation, &psbt.Bip32Derivation{
			PubKey:               d.PubKey,
			MasterKeyFingerprint: d.MasterKeyFingerprint,
			Bip32Path:            d.Bip32Path,
		})
	}
	b.packet.Inputs = append(b.packet.Inputs, pin)

	return len(b.packet.Inputs) - 1, nil
}

// AddOutput appends a value-bearing output paying to pkScript.
func (b *Builder) AddOutput(pkScript []byte, value int64, derivations []Bip32Derivation) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.packet.UnsignedTx.AddTxOut(wire.NewTxOut(value, pkScript))

	pout := psbt.POutput{}
	for _, d := range derivations {
		pout.Bip32Derivation = append(pout.Bip32Derivation, &psbt.Bip32Derivation{
			PubKey:               d.PubKey,
			MasterKeyFingerprint: d.MasterKeyFingerprint,
			Bip32Path:            d.Bip32Path,
		})
	}
	b.packet.Outputs = append(b.packet.Outputs, pout)

	return len(b.packet.Outputs) - 1
}

// AddOpReturn appends a zero-value OP_RETURN output carrying data (must be
// at most 80 bytes per the standardness policy most nodes enforce).
func (b *Builder) AddOpReturn(data []byte) (int, error) {
	if len(data) > 80 {
		return 0, txerrors.New(txerrors.KindCombineMismatch, "OP_RETURN payload of %d bytes exceeds the 80-byte standardness limit", len(data))
	}

	script, err := txscript.NewScriptBuilder().AddOp(txscript.OP_RETURN).AddData(data).Script()
	if err != nil {
		return 0, fmt.Errorf("psbtx: failed to build OP_RETURN script: %w", err)
	}

	return b.AddOutput(script, 0, nil), nil
}

// SetInputSequence overrides the sequence number of an already-added input,
// for example to force BIP-125 signaling.
func (b *Builder) SetInputSequence(i int, seq uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if i < 0 || i >= len(b.packet.UnsignedTx.TxIn) {
		return txerrors.New(txerrors.KindInputIndexOutOfRange, "input index %d out of range (0..%d)", i, len(b.packet.UnsignedTx.TxIn)-1)
	}
	b.packet.UnsignedTx.TxIn[i].Sequence = seq
	return nil
}

// Combine merges another Builder's maps into this one; the two must carry
// identical unsigned transactions (BIP-174 combiner role).
func (b *Builder) Combine(other *Builder) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	if b.packet.UnsignedTx.TxHash() != other.packet.UnsignedTx.TxHash() {
		return txerrors.New(txerrors.KindCombineMismatch, "unsigned transactions differ: %s vs %s",
			b.packet.UnsignedTx.TxHash(), other.packet.UnsignedTx.TxHash())
	}

	for i := range b.packet.Inputs {
		mergeInput(&b.packet.Inputs[i], &other.packet.Inputs[i])
	}
	for i := range b.packet.Outputs {
		mergeOutput(&b.packet.Outputs[i], &other.packet.Outputs[i])
	}

	return nil
}

func mergeInput(dst, src *psbt.PInput) {
	if dst.WitnessUtxo == nil {
		dst.WitnessUtxo = src.WitnessUtxo
	}
	if dst.NonWitnessUtxo == nil {
		dst.NonWitnessUtxo = src.NonWitnessUtxo
	}
	if dst.RedeemScript == nil {
		dst.RedeemScript = src.RedeemScript
	}
	if dst.WitnessScript == nil {
		dst.WitnessScript = src.WitnessScript
	}
	dst.Bip32Derivation = mergeDerivations(dst.Bip32Derivation, src.Bip32Derivation)
	dst.PartialSigs = mergePartialSigs(dst.PartialSigs, src.PartialSigs)
	if dst.SighashType == 0 {
		dst.SighashType = src.SighashType
	}
}

func mergeOutput(dst, src *psbt.POutput) {
	dst.Bip32Derivation = mergeDerivations(dst.Bip32Derivation, src.Bip32Derivation)
}

func mergeDerivations(dst, src []*psbt.Bip32Derivation) []*psbt.Bip32Derivation {
	seen := make(map[string]bool, len(dst))
	for _, d := range dst {
		seen[string(d.PubKey)] = true
	}
	for _, d := range src {
		if !seen[string(d.PubKey)] {
			dst = append(dst, d)
			seen[string(d.PubKey)] = true
		}
	}
	return dst
}

func mergePartialSigs(dst, src []*psbt.PartialSig) []*psbt.PartialSig {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[string(s.PubKey)] = true
	}
	for _, s := range src {
		if !seen[string(s.PubKey)] {
			dst = append(dst, s)
			seen[string(s.PubKey)] = true
		}
	}
	return dst
}

// Clone returns a deep-enough copy of the Builder via round-tripping
// through serialization, matching BIP-174's own notion of packet identity.
func (b *Builder) Clone() (*Builder, error) {
	b.mu.Lock()
	raw, err := b.serializeLocked()
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return FromBytes(raw)
}

// ToBase64 serializes the PSBT to its standard base64 wire encoding.
func (b *Builder) ToBase64() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, err := b.serializeLocked()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// ToHex serializes the PSBT to hex, used by callers that store or log the
// packet alongside other hex-encoded transaction data.
func (b *Builder) ToHex() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, err := b.serializeLocked()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func (b *Builder) serializeLocked() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.packet.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("psbtx: failed to serialize PSBT: %w", err)
	}
	return buf.Bytes(), nil
}

// FromBase64 parses a standard base64-encoded PSBT.
func FromBase64(s string) (*Builder, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("psbtx: invalid base64 PSBT: %w", err)
	}
	return FromBytes(raw)
}

// FromHex parses a hex-encoded PSBT.
func FromHex(s string) (*Builder, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("psbtx: invalid hex PSBT: %w", err)
	}
	return FromBytes(raw)
}

// FromBytes parses a raw-encoded PSBT.
func FromBytes(raw []byte) (*Builder, error) {
	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, fmt.Errorf("psbtx: invalid PSBT: %w", err)
	}
	return &Builder{packet: packet}, nil
}

// Packet exposes the underlying psbt.Packet for callers that need direct
// access (signing, inspection). The returned pointer aliases the Builder's
// state; callers must not mutate it concurrently with other Builder calls.
func (b *Builder) Packet() *psbt.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.packet
}

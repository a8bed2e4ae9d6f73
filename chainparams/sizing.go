package chainparams

// Weight unit constants and per-script-type size estimates used for fee and
// dust calculations across selection/, rbf/, and cpfp/. The witness inputs
// carry a base (non-witness) and witness vsize split so callers that need
// exact weight (rather than the rounded vsize) can recompute it.
const (
	// TxOverheadVBytes is version+locktime+varint counts rounded into the
	// per-transaction base cost; the segwit marker/flag is added separately.
	TxOverheadVBytes = 10

	// SegwitMarkerFlagVBytes is the 2 extra bytes (marker+flag) any
	// transaction carrying at least one witness input pays once.
	SegwitMarkerFlagVBytes = 2

	P2PKHInputVBytes  = 148
	P2PKHOutputVBytes = 34

	P2SHP2WPKHInputVBytes = 91
	P2SHOutputVBytes      = 32

	P2WPKHInputVBytes  = 68
	P2WPKHOutputVBytes = 31

	P2WSHOutputVBytes = 43

	P2TRInputVBytes  = 58
	P2TROutputVBytes = 43

	// OpReturnBaseVBytes covers the OP_RETURN opcode plus the push
	// opcode/length prefix; callers add len(data) on top.
	OpReturnBaseVBytes = 11
)

// InputVBytes returns the estimated virtual size of spending an output of
// the given script type, ignoring multisig and custom witness scripts
// (those are sized explicitly by their builder).
func InputVBytes(t ScriptType) int {
	switch t {
	case P2PKH:
		return P2PKHInputVBytes
	case P2SH:
		return P2SHP2WPKHInputVBytes
	case P2WPKH:
		return P2WPKHInputVBytes
	case P2WSH:
		return P2WPKHInputVBytes + 15
	case P2TR:
		return P2TRInputVBytes
	default:
		return P2WPKHInputVBytes
	}
}

// OutputVBytes returns the estimated virtual size of paying to the given
// script type.
func OutputVBytes(t ScriptType) int {
	switch t {
	case P2PKH:
		return P2PKHOutputVBytes
	case P2SH:
		return P2SHOutputVBytes
	case P2WPKH:
		return P2WPKHOutputVBytes
	case P2WSH:
		return P2WSHOutputVBytes
	case P2TR:
		return P2TROutputVBytes
	default:
		return P2WPKHOutputVBytes
	}
}

// EstimateVSize sums transaction overhead plus the given input and output
// script types. It adds the segwit marker/flag once when any input is a
// witness type, matching how the reference wallet code reserves space for
// a not-yet-known change output.
func EstimateVSize(inputs []ScriptType, outputs []ScriptType) int {
	total := TxOverheadVBytes
	anyWitness := false

	for _, t := range inputs {
		total += InputVBytes(t)
		if IsWitness(t) {
			anyWitness = true
		}
	}
	for _, t := range outputs {
		total += OutputVBytes(t)
	}
	if anyWitness {
		total += SegwitMarkerFlagVBytes
	}

	return total
}

package selection

import (
	"math"

	"github.com/btcbuilder/txbuilder/chainparams"
)

// dustSpendInputVSize is the assumed vsize of spending an output of this
// type later, used by the dust calculator rather than the general-purpose
// fee-sizing tables in chainparams (Bitcoin Core's own dust formula uses
// the legacy, undiscounted P2SH redemption size rather than the common
// P2SH-wrapped-segwit shortcut).
var dustSpendInputVSize = map[chainparams.ScriptType]int{
	chainparams.P2PKH:     148,
	chainparams.P2WPKH:    68,
	chainparams.P2SH:      298,
	chainparams.P2WSH:     68,
	chainparams.P2TR:      68,
	chainparams.OpReturn:  0,
}

// dustFloor is the reference per-type satoshi floor on mainnet/testnet.
var dustFloor = map[chainparams.ScriptType]int64{
	chainparams.P2PKH:  546,
	chainparams.P2WPKH: 294,
	chainparams.P2SH:   540,
	chainparams.P2WSH:  330,
	chainparams.P2TR:   330,
}

// DustThreshold computes the minimum economically spendable value for an
// output of the given type: ceil((spend_input_vsize + output_vsize) *
// fee_rate), floored at the network's reference value. regtest carries no
// floor. scriptBytes is the length of the output's scriptPubKey; pass 0 to
// use the type's typical size.
func DustThreshold(t chainparams.ScriptType, network chainparams.Network, feeRate float64, scriptBytes int) int64 {
	if t == chainparams.OpReturn {
		return 0
	}

	spendVSize, ok := dustSpendInputVSize[t]
	if !ok {
		spendVSize = dustSpendInputVSize[chainparams.P2WPKH]
	}

	if scriptBytes <= 0 {
		scriptBytes = chainparams.OutputVBytes(t) - 9 // strip the 8-byte value + 1-byte length prefix
		if scriptBytes < 0 {
			scriptBytes = 0
		}
	}
	outputVSize := 8 + 1 + scriptBytes

	computed := int64(math.Ceil(float64(spendVSize+outputVSize) * feeRate))

	if network == chainparams.Regtest {
		if computed < 0 {
			computed = 0
		}
		return computed
	}

	floor := dustFloor[t]
	if computed > floor {
		return computed
	}
	return floor
}

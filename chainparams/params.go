// Package chainparams resolves network parameters and classifies scripts
// and addresses for the transaction builder. It is the one place in the
// module that knows about mainnet/testnet4/signet/regtest differences.
package chainparams

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// Network identifies one of the four supported chains.
type Network string

const (
	Mainnet  Network = "mainnet"
	Testnet4 Network = "testnet4"
	Signet   Network = "signet"
	Regtest  Network = "regtest"
)

// ScriptType is a closed set of the output script shapes the builder
// reasons about for sizing, dust thresholds, and finalization.
type ScriptType string

const (
	P2PKH         ScriptType = "p2pkh"
	P2SH          ScriptType = "p2sh"
	P2WPKH        ScriptType = "p2wpkh"
	P2WSH         ScriptType = "p2wsh"
	P2TR          ScriptType = "p2tr"
	P2SHP2WPKH    ScriptType = "p2sh-p2wpkh"
	OpReturn      ScriptType = "op_return"
	ScriptUnknown ScriptType = "unknown"
)

// Params returns the chaincfg parameters for a network name.
func Params(network Network) (*chaincfg.Params, error) {
	switch network {
	case Mainnet:
		return &chaincfg.MainNetParams, nil
	case Testnet4:
		// testnet4 reuses the testnet3 address-encoding rules (tb1...).
		return &chaincfg.TestNet3Params, nil
	case Signet:
		return &chaincfg.SigNetParams, nil
	case Regtest:
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("chainparams: unknown network %q (supported: mainnet, testnet4, signet, regtest)", network)
	}
}

// DecodeAddress decodes and validates a Bitcoin address string against a
// network's parameters.
func DecodeAddress(address string, network Network) (btcutil.Address, error) {
	params, err := Params(network)
	if err != nil {
		return nil, err
	}

	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, fmt.Errorf("chainparams: invalid address %q: %w", address, err)
	}
	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("chainparams: address %q is not valid for network %q", address, network)
	}

	return addr, nil
}

// ScriptPubKey builds the output script that pays to address.
func ScriptPubKey(address string, network Network) ([]byte, error) {
	addr, err := DecodeAddress(address, network)
	if err != nil {
		return nil, err
	}

	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("chainparams: failed to build scriptPubKey for %q: %w", address, err)
	}

	return script, nil
}

// AddressType classifies the decoded address into one of the closed
// ScriptType values.
func AddressType(address string, network Network) (ScriptType, error) {
	addr, err := DecodeAddress(address, network)
	if err != nil {
		return ScriptUnknown, err
	}

	switch addr.(type) {
	case *btcutil.AddressPubKeyHash:
		return P2PKH, nil
	case *btcutil.AddressScriptHash:
		return P2SH, nil
	case *btcutil.AddressWitnessPubKeyHash:
		return P2WPKH, nil
	case *btcutil.AddressWitnessScriptHash:
		return P2WSH, nil
	case *btcutil.AddressTaproot:
		return P2TR, nil
	default:
		return ScriptUnknown, nil
	}
}

// ScriptTypeFromPkScript classifies a raw scriptPubKey without needing the
// encoded address string, used when working from UTXO data retrieved over
// the wire rather than from locally generated addresses.
func ScriptTypeFromPkScript(pkScript []byte) ScriptType {
	class := txscript.GetScriptClass(pkScript)
	switch class {
	case txscript.PubKeyHashTy:
		return P2PKH
	case txscript.ScriptHashTy:
		return P2SH
	case txscript.WitnessV0PubKeyHashTy:
		return P2WPKH
	case txscript.WitnessV0ScriptHashTy:
		return P2WSH
	case txscript.WitnessV1TaprootTy:
		return P2TR
	case txscript.NullDataTy:
		return OpReturn
	default:
		return ScriptUnknown
	}
}

// ScriptHash returns the ElectrumX scripthash for a scriptPubKey: SHA256 of
// the script, byte-reversed to little-endian, hex-encoded.
func ScriptHash(pkScript []byte) string {
	hash := sha256.Sum256(pkScript)
	for i, j := 0, len(hash)-1; i < j; i, j = i+1, j-1 {
		hash[i], hash[j] = hash[j], hash[i]
	}
	return hex.EncodeToString(hash[:])
}

// AddressScriptHash is a convenience wrapper combining ScriptPubKey and
// ScriptHash for a human-readable address.
func AddressScriptHash(address string, network Network) (string, error) {
	pkScript, err := ScriptPubKey(address, network)
	if err != nil {
		return "", err
	}
	return ScriptHash(pkScript), nil
}

// IsWitness reports whether a script type spends via the witness stack
// rather than the legacy scriptSig, which affects both vsize accounting
// and PSBT field population (WitnessUtxo vs NonWitnessUtxo).
func IsWitness(t ScriptType) bool {
	switch t {
	case P2WPKH, P2WSH, P2TR:
		return true
	default:
		return false
	}
}

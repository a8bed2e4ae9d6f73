package chainparams

import (
	"testing"

	"github.com/btcsuite/btcd/txscript"
)

func TestParams(t *testing.T) {
	tests := []struct {
		name    string
		network Network
		wantErr bool
	}{
		{"mainnet", Mainnet, false},
		{"testnet4", Testnet4, false},
		{"signet", Signet, false},
		{"regtest", Regtest, false},
		{"unknown", Network("doge"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := Params(tt.network)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Params(%q) expected error, got nil", tt.network)
				}
				return
			}
			if err != nil {
				t.Fatalf("Params(%q) unexpected error: %v", tt.network, err)
			}
			if params == nil {
				t.Fatalf("Params(%q) returned nil params", tt.network)
			}
		})
	}
}

func TestAddressTypeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		address string
		network Network
		want    ScriptType
	}{
		{"mainnet p2wpkh", "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", Mainnet, P2WPKH},
		{"mainnet p2pkh", "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", Mainnet, P2PKH},
		{"mainnet p2sh", "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy", Mainnet, P2SH},
		{"mainnet p2tr", "bc1p5cyxnuxmeuwuvkwfem96lqzszd02n6xdcjrs20cac6yqjjwudpxqkedrcr", Mainnet, P2TR},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AddressType(tt.address, tt.network)
			if err != nil {
				t.Fatalf("AddressType(%q) unexpected error: %v", tt.address, err)
			}
			if got != tt.want {
				t.Errorf("AddressType(%q) = %q, want %q", tt.address, got, tt.want)
			}
		})
	}
}

func TestAddressScriptHashIsDeterministic(t *testing.T) {
	address := "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"

	first, err := AddressScriptHash(address, Mainnet)
	if err != nil {
		t.Fatalf("AddressScriptHash() unexpected error: %v", err)
	}
	second, err := AddressScriptHash(address, Mainnet)
	if err != nil {
		t.Fatalf("AddressScriptHash() unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("AddressScriptHash() not deterministic: %q != %q", first, second)
	}
	if len(first) != 64 {
		t.Errorf("AddressScriptHash() length = %d, want 64 hex chars", len(first))
	}
}

func TestScriptTypeFromPkScript(t *testing.T) {
	opReturn, err := txscript.NewScriptBuilder().AddOp(txscript.OP_RETURN).AddData([]byte("hello")).Script()
	if err != nil {
		t.Fatalf("failed to build test script: %v", err)
	}

	tests := []struct {
		name string
		addr string
		want ScriptType
	}{
		{"p2wpkh", "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", P2WPKH},
		{"p2pkh", "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", P2PKH},
		{"p2sh", "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy", P2SH},
		{"p2tr", "bc1p5cyxnuxmeuwuvkwfem96lqzszd02n6xdcjrs20cac6yqjjwudpxqkedrcr", P2TR},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script, err := ScriptPubKey(tt.addr, Mainnet)
			if err != nil {
				t.Fatalf("ScriptPubKey(%q) unexpected error: %v", tt.addr, err)
			}
			if got := ScriptTypeFromPkScript(script); got != tt.want {
				t.Errorf("ScriptTypeFromPkScript(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}

	if got := ScriptTypeFromPkScript(opReturn); got != OpReturn {
		t.Errorf("ScriptTypeFromPkScript(op_return) = %q, want %q", got, OpReturn)
	}
}

package selection

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcbuilder/txbuilder/chainparams"
)

func fakeHash(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func testUTXOs(t *testing.T) []UTXO {
	t.Helper()
	return []UTXO{
		{TxID: fakeHash(1), Vout: 0, Value: 100000, ScriptType: chainparams.P2WPKH, Confirmations: 10},
		{TxID: fakeHash(2), Vout: 0, Value: 50000, ScriptType: chainparams.P2WPKH, Confirmations: 5},
		{TxID: fakeHash(3), Vout: 0, Value: 25000, ScriptType: chainparams.P2WPKH, Confirmations: 1},
	}
}

func TestSelectAccumulative(t *testing.T) {
	tests := []struct {
		name         string
		utxos        []UTXO
		targetValue  int64
		feeRate      float64
		wantErr      bool
		wantMinCount int
	}{
		{"single utxo sufficient", testUTXOs(t), 90000, 10, false, 1},
		{"needs two utxos", testUTXOs(t), 120000, 10, false, 2},
		{"insufficient funds", testUTXOs(t), 1000000, 10, true, 0},
		{"no utxos", nil, 1000, 10, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{TargetValue: tt.targetValue, FeeRate: tt.feeRate, DustThreshold: 546}
			outcome := SelectAccumulative(tt.utxos, req)

			if tt.wantErr {
				if outcome.Failure == nil {
					t.Fatalf("expected failure, got success %+v", outcome.Success)
				}
				return
			}

			if outcome.Success == nil {
				t.Fatalf("expected success, got failure %+v", outcome.Failure)
			}
			if outcome.Success.InputCount < tt.wantMinCount {
				t.Errorf("InputCount = %d, want at least %d", outcome.Success.InputCount, tt.wantMinCount)
			}
			if outcome.Success.TotalValue != sumValue(outcome.Success.Inputs) {
				t.Errorf("TotalValue = %d, want sum(inputs) = %d", outcome.Success.TotalValue, sumValue(outcome.Success.Inputs))
			}
			if outcome.Success.Change < 0 {
				t.Errorf("Change = %d, want >= 0", outcome.Success.Change)
			}
		})
	}
}

func TestFinishFoldsDustChangeIntoFee(t *testing.T) {
	utxos := []UTXO{
		{TxID: fakeHash(4), Vout: 0, Value: 100100, ScriptType: chainparams.P2WPKH},
	}
	req := Request{TargetValue: 99000, FeeRate: 1, DustThreshold: 10000}

	outcome := finish("test", utxos, req, 100)
	if outcome.Success == nil {
		t.Fatalf("expected success, got failure %+v", outcome.Failure)
	}
	if outcome.Success.Change != 0 {
		t.Errorf("Change = %d, want 0 (folded into fee as dust)", outcome.Success.Change)
	}
	if outcome.Success.ChangeKept {
		t.Errorf("ChangeKept = true, want false for dust change")
	}
}

package cpfp

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/txscript"

	"github.com/btcbuilder/txbuilder/chainparams"
	"github.com/btcbuilder/txbuilder/txerrors"
)

func destScript(t *testing.T) []byte {
	t.Helper()
	script, err := txscript.NewScriptBuilder().AddOp(txscript.OP_0).AddData(make([]byte, 20)).Script()
	if err != nil {
		t.Fatalf("failed to build test script: %v", err)
	}
	return script
}

func TestBuildRequiresSpendOutputs(t *testing.T) {
	_, err := Build(Config{TargetPackageFeeRate: 20})
	if err == nil {
		t.Fatal("expected error with no spend outputs, got nil")
	}
}

func TestBuildComputesChildFeeFromTargetPackageRate(t *testing.T) {
	txid := "00000000000000000000000000000000000000000000000000000000000001"

	result, err := Build(Config{
		Parents: []ParentRef{
			{TxID: txid, VSize: 150, Fee: 300}, // 2 sat/vB parent
		},
		SpendOutputs: []SpendOutput{
			{ParentTxID: txid, Vout: 0, Value: 50000, ScriptType: chainparams.P2WPKH},
		},
		TargetPackageFeeRate: 20,
		DestinationScript:    destScript(t),
		ChangeScriptType:     chainparams.P2WPKH,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if result.PackageFee < int64(20*float64(result.PackageVSize))-5 {
		t.Errorf("PackageFee = %d too low for target rate 20 over vsize %d", result.PackageFee, result.PackageVSize)
	}
	if result.EffectiveFeeRate < 19 {
		t.Errorf("EffectiveFeeRate = %.2f, want >= ~20", result.EffectiveFeeRate)
	}
	if result.OutputValue <= 0 || result.OutputValue >= 50000 {
		t.Errorf("OutputValue = %d, want in (0, 50000)", result.OutputValue)
	}
}

func TestBuildFailsInsufficientValue(t *testing.T) {
	txid := "00000000000000000000000000000000000000000000000000000000000002"

	_, err := Build(Config{
		Parents: []ParentRef{{TxID: txid, VSize: 150, Fee: 10}},
		SpendOutputs: []SpendOutput{
			{ParentTxID: txid, Vout: 0, Value: 500, ScriptType: chainparams.P2WPKH},
		},
		TargetPackageFeeRate: 500, // absurdly high, output can't cover it
		DestinationScript:    destScript(t),
		ChangeScriptType:     chainparams.P2WPKH,
	})

	if !errors.Is(err, txerrors.ErrInsufficientValue) {
		t.Fatalf("error = %v, want ErrInsufficientValue", err)
	}
}

func TestBuildSizesChildByActualScriptTypes(t *testing.T) {
	txid := "00000000000000000000000000000000000000000000000000000000000003"

	taproot, err := Build(Config{
		Parents: []ParentRef{{TxID: txid, VSize: 150, Fee: 300}},
		SpendOutputs: []SpendOutput{
			{ParentTxID: txid, Vout: 0, Value: 50000, ScriptType: chainparams.P2TR},
		},
		TargetPackageFeeRate: 20,
		DestinationScript:    destScript(t),
		ChangeScriptType:     chainparams.P2WPKH,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	legacy, err := Build(Config{
		Parents: []ParentRef{{TxID: txid, VSize: 150, Fee: 300}},
		SpendOutputs: []SpendOutput{
			{ParentTxID: txid, Vout: 0, Value: 50000, ScriptType: chainparams.P2PKH},
		},
		TargetPackageFeeRate: 20,
		DestinationScript:    destScript(t),
		ChangeScriptType:     chainparams.P2WPKH,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if taproot.ChildVSize >= legacy.ChildVSize {
		t.Errorf("taproot child vsize %d should be smaller than legacy %d", taproot.ChildVSize, legacy.ChildVSize)
	}
}

func TestBuildRejectsCyclicPackageGraph(t *testing.T) {
	txid := "00000000000000000000000000000000000000000000000000000000000004"

	_, err := Build(Config{
		Parents: []ParentRef{{TxID: txid, VSize: 150, Fee: 300}},
		SpendOutputs: []SpendOutput{
			{ParentTxID: txid, Vout: 0, Value: 50000, ScriptType: chainparams.P2WPKH},
		},
		TargetPackageFeeRate: 20,
		DestinationScript:    destScript(t),
		ChangeScriptType:     chainparams.P2WPKH,
		PackageGraph: Graph{
			"child": {txid},
			txid:    {"child"},
		},
	})

	if !errors.Is(err, txerrors.ErrCycleDetected) {
		t.Fatalf("error = %v, want ErrCycleDetected", err)
	}
}

func TestBuildRejectsUnlinkedParent(t *testing.T) {
	txid := "00000000000000000000000000000000000000000000000000000000000006"
	otherTxid := "00000000000000000000000000000000000000000000000000000000000007"

	_, err := Build(Config{
		Parents: []ParentRef{{TxID: txid, VSize: 150, Fee: 300}},
		SpendOutputs: []SpendOutput{
			{ParentTxID: otherTxid, Vout: 0, Value: 50000, ScriptType: chainparams.P2WPKH},
		},
		TargetPackageFeeRate: 20,
		DestinationScript:    destScript(t),
		ChangeScriptType:     chainparams.P2WPKH,
	})

	if !errors.Is(err, txerrors.ErrNoParentLink) {
		t.Fatalf("error = %v, want ErrNoParentLink", err)
	}
}

func TestBuildRejectsPackageOverHardLimit(t *testing.T) {
	txid := "00000000000000000000000000000000000000000000000000000000000008"

	_, err := Build(Config{
		Parents: []ParentRef{{TxID: txid, VSize: packageVSizeHardLimit + 1, Fee: 300}},
		SpendOutputs: []SpendOutput{
			{ParentTxID: txid, Vout: 0, Value: 50000, ScriptType: chainparams.P2WPKH},
		},
		TargetPackageFeeRate: 20,
		DestinationScript:    destScript(t),
		ChangeScriptType:     chainparams.P2WPKH,
	})

	if !errors.Is(err, txerrors.ErrPackageTooLarge) {
		t.Fatalf("error = %v, want ErrPackageTooLarge", err)
	}
}

func TestBuildWarnsOnLowEffectiveRate(t *testing.T) {
	txid := "00000000000000000000000000000000000000000000000000000000000005"

	result, err := Build(Config{
		Parents: []ParentRef{{TxID: txid, VSize: 150, Fee: 0}},
		SpendOutputs: []SpendOutput{
			{ParentTxID: txid, Vout: 0, Value: 50000, ScriptType: chainparams.P2WPKH},
		},
		TargetPackageFeeRate: 0.01,
		DestinationScript:    destScript(t),
		ChangeScriptType:     chainparams.P2WPKH,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a low-effective-rate warning, got none")
	}
}

// Command txbuild is a minimal wiring example: it connects to a pool of
// ElectrumX servers, estimates a fee rate, selects inputs for a single
// payout, and prints the resulting unsigned PSBT. It takes no flags and
// reads no config file — every component here is constructed explicitly
// in code, the way a caller embedding this module would do it.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/hashicorp/go-hclog"

	"github.com/btcbuilder/txbuilder/chainparams"
	"github.com/btcbuilder/txbuilder/electrum"
	"github.com/btcbuilder/txbuilder/psbtx"
	"github.com/btcbuilder/txbuilder/selection"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "txbuild:", err)
		os.Exit(1)
	}
}

func run() error {
	logger := hclog.New(&hclog.LoggerOptions{Name: "txbuild", Level: hclog.Info})

	pool := electrum.NewPool(electrum.PoolConfig{
		Servers:     []string{"ssl://electrum.blockstream.info:50002"},
		Strategy:    electrum.StrategyHealthBased,
		AcquireWait: 10 * time.Second,
	}, func(url string) (*electrum.Client, error) {
		return electrum.NewClient(url, electrum.WithLogger(logger))
	})
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, release, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire electrum connection: %w", err)
	}

	estimator := electrum.NewFeeEstimator(func(blocks int) (float64, error) {
		return client.EstimateFee(blocks)
	}, time.Minute)

	estimate, err := estimator.Estimate(electrum.PriorityMedium)
	release(err == nil)
	if err != nil {
		return fmt.Errorf("estimate fee: %w", err)
	}
	feeRate, _ := estimate.FeeRate.Float64()
	logger.Info("fee estimate", "priority", electrum.PriorityMedium, "sat_per_vb", feeRate, "confidence", estimate.Confidence)

	const destination = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
	const payoutValue = int64(50_000)
	payoutScript, err := chainparams.ScriptPubKey(destination, chainparams.Mainnet)
	if err != nil {
		return fmt.Errorf("decode destination address: %w", err)
	}

	req := selection.Request{
		TargetValue:      payoutValue,
		FeeRate:          feeRate,
		DustThreshold:    selection.DustThreshold(chainparams.P2WPKH, chainparams.Mainnet, feeRate, 0),
		ChangeScriptType: chainparams.P2WPKH,
		PayoutScriptType: chainparams.P2WPKH,
	}

	outcome := selection.Dispatch(exampleUTXOs(), req)
	if outcome.Failure != nil {
		return fmt.Errorf("select inputs: %w", outcome.Failure)
	}

	builder, err := psbtx.NewBuilder(wire.TxVersion, 0)
	if err != nil {
		return fmt.Errorf("start psbt: %w", err)
	}

	for _, utxo := range outcome.Success.Inputs {
		outpoint := wire.OutPoint{Hash: utxo.TxID, Index: utxo.Vout}
		if _, err := builder.AddInput(outpoint, psbtx.InputOpts{
			WitnessUtxo: wire.NewTxOut(utxo.Value, utxo.ScriptPubKey),
		}); err != nil {
			return fmt.Errorf("add input %s: %w", outpoint, err)
		}
	}

	builder.AddOutput(payoutScript, payoutValue, nil)
	if outcome.Success.ChangeKept {
		changeScript, err := chainparams.ScriptPubKey(destination, chainparams.Mainnet)
		if err != nil {
			return fmt.Errorf("decode change address: %w", err)
		}
		builder.AddOutput(changeScript, outcome.Success.Change, nil)
	}

	encoded, err := builder.ToBase64()
	if err != nil {
		return fmt.Errorf("serialize psbt: %w", err)
	}

	fmt.Printf("algorithm=%s inputs=%d fee=%d vsize=%d\n", outcome.Success.Algorithm, outcome.Success.InputCount, outcome.Success.Fee, outcome.Success.EstimatedVSize)
	fmt.Println(encoded)
	return nil
}

// exampleUTXOs stands in for a real wallet's UTXO listing (electrum.Client.ListUnspent
// plus a scripthash-to-UTXO join), omitted here to keep the example self-contained.
func exampleUTXOs() []selection.UTXO {
	raw, _ := hex.DecodeString("a3b2c1d0e9f807162534465768798a9bacbdcedfe00112233445566778899aa")
	hash, _ := chainhash.NewHash(raw)

	return []selection.UTXO{
		{
			TxID:          *hash,
			Vout:          0,
			Value:         120_000,
			ScriptPubKey:  nil,
			ScriptType:    chainparams.P2WPKH,
			Confirmations: 6,
		},
	}
}

package selection

import (
	"context"
	"testing"
	"time"
)

func TestSelectParallelModeAll(t *testing.T) {
	utxos := testUTXOs(t)
	req := Request{TargetValue: 60000, FeeRate: 5, DustThreshold: 546}
	cfg := ParallelConfig{
		Mode:           ModeAll,
		MaxConcurrency: 4,
		PerAlgoTimeout: 2 * time.Second,
		AvailableValue: sumValue(utxos),
	}

	outcome := SelectParallel(context.Background(), utxos, req, cfg)
	if outcome.Success == nil {
		t.Fatalf("expected success, got failure %+v", outcome.Failure)
	}
	if outcome.Success.TotalValue < req.TargetValue+outcome.Success.Fee {
		t.Errorf("TotalValue %d does not cover target+fee", outcome.Success.TotalValue)
	}
}

func TestSelectParallelModeRace(t *testing.T) {
	utxos := testUTXOs(t)
	req := Request{TargetValue: 60000, FeeRate: 5, DustThreshold: 546}
	cfg := ParallelConfig{
		Mode:           ModeRace,
		MaxConcurrency: 4,
		PerAlgoTimeout: 2 * time.Second,
		GracePeriod:    20 * time.Millisecond,
		AvailableValue: sumValue(utxos),
	}

	outcome := SelectParallel(context.Background(), utxos, req, cfg)
	if outcome.Success == nil {
		t.Fatalf("expected success, got failure %+v", outcome.Failure)
	}
}

func TestSelectParallelSequentialFallback(t *testing.T) {
	utxos := testUTXOs(t)
	req := Request{TargetValue: 1000000, FeeRate: 5, DustThreshold: 546}
	cfg := ParallelConfig{
		Mode:               ModeAll,
		PerAlgoTimeout:     time.Second,
		SequentialFallback: true,
	}

	outcome := SelectParallel(context.Background(), utxos, req, cfg)
	if outcome.Failure == nil {
		t.Fatalf("expected failure for impossible target, got success %+v", outcome.Success)
	}
}

package electrum

import (
	"errors"
	"testing"
	"time"
)

func TestEstimateConvertsBtcPerKvBToSatPerVB(t *testing.T) {
	fe := NewFeeEstimator(func(blocks int) (float64, error) {
		return 0.0001, nil // 0.0001 BTC/kvB -> 10 sat/vB
	}, 0)

	est, err := fe.Estimate(PriorityMedium)
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	want := "10"
	if est.FeeRate.String() != want {
		t.Errorf("FeeRate = %s, want %s", est.FeeRate.String(), want)
	}
	if est.Confidence != ConfidenceHigh {
		t.Errorf("Confidence = %q, want %q", est.Confidence, ConfidenceHigh)
	}
}

func TestEstimateFallsBackOnNoData(t *testing.T) {
	fe := NewFeeEstimator(func(blocks int) (float64, error) {
		return -1, nil
	}, 0)

	est, err := fe.Estimate(PriorityHigh)
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if est.Confidence != ConfidenceLow {
		t.Errorf("Confidence = %q, want %q", est.Confidence, ConfidenceLow)
	}
}

func TestEstimateClampsToBounds(t *testing.T) {
	fe := NewFeeEstimator(func(blocks int) (float64, error) {
		return 1.0, nil // absurdly high BTC/kvB
	}, 0)

	est, err := fe.Estimate(PriorityLow)
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	floatVal, _ := est.FeeRate.Float64()
	if floatVal > maxReasonableFeeRate {
		t.Errorf("FeeRate = %v, want <= %v", floatVal, maxReasonableFeeRate)
	}
	if est.Confidence != ConfidenceMedium {
		t.Errorf("Confidence = %q, want %q after clamping", est.Confidence, ConfidenceMedium)
	}
}

func TestEstimateUsesCacheWithinTTL(t *testing.T) {
	calls := 0
	fe := NewFeeEstimator(func(blocks int) (float64, error) {
		calls++
		return 0.0001, nil
	}, time.Minute)

	if _, err := fe.Estimate(PriorityMedium); err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if _, err := fe.Estimate(PriorityMedium); err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("underlying call invoked %d times, want 1 (second call should hit cache)", calls)
	}
}

func TestEstimateRejectsUnknownPriority(t *testing.T) {
	fe := NewFeeEstimator(func(blocks int) (float64, error) { return 0.0001, nil }, 0)

	_, err := fe.Estimate(Priority("glacial"))
	if err == nil {
		t.Fatal("Estimate() with unknown priority expected error, got nil")
	}
}

func TestEstimatePropagatesCallError(t *testing.T) {
	boom := errors.New("server unreachable")
	fe := NewFeeEstimator(func(blocks int) (float64, error) { return 0, boom }, 0)

	_, err := fe.Estimate(PriorityHigh)
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapping %v", err, boom)
	}
}

package electrum

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Priority is the closed set of confirmation urgencies a caller picks
// from instead of naming a target block count directly.
type Priority string

const (
	PriorityUrgent  Priority = "urgent"
	PriorityHigh    Priority = "high"
	PriorityMedium  Priority = "medium"
	PriorityLow     Priority = "low"
	PriorityEconomy Priority = "economy"
)

// priorityTargets maps a priority to the confirmation target (in blocks)
// passed to blockchain.estimatefee.
var priorityTargets = map[Priority]int{
	PriorityUrgent:  1,
	PriorityHigh:    3,
	PriorityMedium:  6,
	PriorityLow:     12,
	PriorityEconomy: 25,
}

const (
	minReasonableFeeRate = 1.0    // sat/vB
	maxReasonableFeeRate = 2000.0 // sat/vB
	btcPerKvBToSatPerVB  = 100000 // 1 BTC/kvB == 100,000 sat/vB
)

// Confidence labels how much the estimator trusts a given rate.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Estimate is a fee-rate quote for one priority tier.
type Estimate struct {
	Priority   Priority
	FeeRate    decimal.Decimal // sat/vB
	Confidence Confidence
	Source     string
}

type estimatorCall func(blocks int) (float64, error)

// FeeEstimator turns ElectrumX's blockchain.estimatefee (BTC/kB) into
// bounded sat/vB quotes per priority tier, cached for a short window since
// estimates don't usefully change call-to-call.
type FeeEstimator struct {
	mu       sync.Mutex
	call     estimatorCall
	cacheTTL time.Duration
	cached   map[Priority]cachedEstimate
	now      func() time.Time
}

type cachedEstimate struct {
	estimate Estimate
	expires  time.Time
}

// NewFeeEstimator wraps a client's EstimateFee call with caching and
// bounds-checking. cacheTTL of 0 disables caching.
func NewFeeEstimator(call estimatorCall, cacheTTL time.Duration) *FeeEstimator {
	return &FeeEstimator{
		call:     call,
		cacheTTL: cacheTTL,
		cached:   make(map[Priority]cachedEstimate),
		now:      time.Now,
	}
}

// Estimate returns a bounded sat/vB fee rate for priority, using the cache
// when fresh.
func (f *FeeEstimator) Estimate(priority Priority) (Estimate, error) {
	f.mu.Lock()
	if hit, ok := f.cached[priority]; ok && f.now().Before(hit.expires) {
		f.mu.Unlock()
		return hit.estimate, nil
	}
	f.mu.Unlock()

	target, ok := priorityTargets[priority]
	if !ok {
		return Estimate{}, fmt.Errorf("electrum: unknown fee priority %q", priority)
	}

	btcPerKvB, err := f.call(target)
	if err != nil {
		return Estimate{}, fmt.Errorf("electrum: fee estimate for %s failed: %w", priority, err)
	}

	estimate := toEstimate(priority, btcPerKvB)

	f.mu.Lock()
	if f.cacheTTL > 0 {
		f.cached[priority] = cachedEstimate{estimate: estimate, expires: f.now().Add(f.cacheTTL)}
	}
	f.mu.Unlock()

	return estimate, nil
}

// toEstimate converts a BTC/kB quote to a bounded sat/vB Estimate,
// treating the ElectrumX -1 "no data" sentinel as low confidence.
func toEstimate(priority Priority, btcPerKvB float64) Estimate {
	if btcPerKvB < 0 {
		return Estimate{
			Priority:   priority,
			FeeRate:    decimal.NewFromFloat(minReasonableFeeRate),
			Confidence: ConfidenceLow,
			Source:     "fallback_floor",
		}
	}

	// sat_per_vB = max(1, round(btc_per_kB * 10^8 / 1000)); decimal keeps
	// the rounding exact instead of drifting through a float64 chain.
	satPerVB := decimal.NewFromFloat(btcPerKvB).Mul(decimal.NewFromInt(btcPerKvBToSatPerVB)).Round(0)

	confidence := ConfidenceHigh
	floor := decimal.NewFromFloat(minReasonableFeeRate)
	ceiling := decimal.NewFromFloat(maxReasonableFeeRate)
	if satPerVB.LessThan(floor) {
		satPerVB = floor
		confidence = ConfidenceMedium
	}
	if satPerVB.GreaterThan(ceiling) {
		satPerVB = ceiling
		confidence = ConfidenceMedium
	}

	return Estimate{
		Priority:   priority,
		FeeRate:    satPerVB,
		Confidence: confidence,
		Source:     "blockchain.estimatefee",
	}
}

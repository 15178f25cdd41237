package core

import "math"

// Bias is the preferred direction when a frequency cannot be hit exactly.
type Bias uint8

const (
	// BiasNone accepts results on either side of the target.
	BiasNone Bias = iota
	// BiasLow never overshoots the target.
	BiasLow
	// BiasHigh never undershoots the target.
	BiasHigh
)

func (b Bias) String() string {
	switch b {
	case BiasLow:
		return "low"
	case BiasHigh:
		return "high"
	default:
		return "none"
	}
}

// maxDivisorCandidates bounds the tried-set bitmask.
const maxDivisorCandidates = 64

// TimerConfig is a solved divisor/compare pair.
type TimerConfig struct {
	Source   uint32 // input clock (Hz)
	Desired  uint32 // requested frequency (Hz)
	Achieved uint32 // source / (Divisor * Compare)
	Divisor  uint32
	Compare  uint32
	Bias     Bias
	Error    float64 // |Achieved - Desired| / Achieved
}

// Within reports whether the relative error is at most maxErr.
func (c TimerConfig) Within(maxErr float64) bool {
	return c.Error <= maxErr
}

// ErrorPPM returns the relative error in parts per million, saturated.
func (c TimerConfig) ErrorPPM() uint32 {
	ppm := c.Error * 1e6
	if math.IsInf(ppm, 0) || ppm > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(math.Round(ppm))
}

// Solve searches divisors for the configuration closest to desired.
//
// Divisors are tried from the smallest one able to reach the target upward.
// Each yields a compare value clamped to [1, maxCompare]; candidates that
// violate bias are skipped. The search ends on the first accepted candidate
// whose error is at most earlyStop, or when every divisor has been tried.
// An earlyStop of 0 keeps searching until an exact match is found.
func Solve(source, desired uint32, divisors []uint32, maxCompare uint32, bias Bias, earlyStop float64) (TimerConfig, error) {
	cfg := TimerConfig{Source: source, Desired: desired, Bias: bias, Error: math.Inf(1)}
	if desired == 0 {
		return cfg, ErrZeroDivision
	}
	if len(divisors) > maxDivisorCandidates {
		return cfg, ErrTooManyDivisors
	}
	for _, d := range divisors {
		if d == 0 {
			return cfg, ErrZeroDivision
		}
	}
	if desired > source {
		return cfg, ErrImpossibleClock
	}
	if maxCompare == 0 {
		return cfg, ErrCompareRange
	}

	var tried uint64
	best := cfg
	found := false
	for {
		i := smallestDivisor(source, desired, divisors, tried)
		if i < 0 {
			break
		}
		tried |= 1 << uint(i)

		cand, ok := evaluate(cfg, divisors[i], maxCompare)
		if !ok {
			continue
		}
		if !found || cand.Error < best.Error {
			best = cand
			found = true
		}
		if cand.Error <= earlyStop {
			break
		}
	}

	if !found {
		return cfg, ErrImpossibleClock
	}
	return best, nil
}

// smallestDivisor returns the index of the smallest untried divisor that can
// still reach desired, or -1.
func smallestDivisor(source, desired uint32, divisors []uint32, tried uint64) int {
	idx := -1
	for i, d := range divisors {
		if tried&(1<<uint(i)) != 0 {
			continue
		}
		if source/d < desired {
			continue
		}
		if idx < 0 || d < divisors[idx] {
			idx = i
		}
	}
	return idx
}

// evaluate computes the clamped compare value for one divisor and checks the
// bias preference.
func evaluate(cfg TimerConfig, divisor, maxCompare uint32) (TimerConfig, bool) {
	ideal := float64(cfg.Source) / (float64(cfg.Desired) * float64(divisor))
	compare := math.Round(ideal)
	if compare < 1 {
		compare = 1
	}
	if compare > float64(maxCompare) {
		compare = float64(maxCompare)
	}

	cfg.Divisor = divisor
	cfg.Compare = uint32(compare)
	cfg.Achieved = uint32(uint64(cfg.Source) / (uint64(divisor) * uint64(cfg.Compare)))
	if cfg.Achieved == 0 {
		return cfg, false
	}

	var delta uint32
	if cfg.Achieved > cfg.Desired {
		delta = cfg.Achieved - cfg.Desired
	} else {
		delta = cfg.Desired - cfg.Achieved
	}
	cfg.Error = float64(delta) / float64(cfg.Achieved)

	switch {
	case cfg.Bias == BiasHigh && cfg.Achieved < cfg.Desired:
		return cfg, false
	case cfg.Bias == BiasLow && cfg.Achieved > cfg.Desired:
		return cfg, false
	}
	return cfg, true
}

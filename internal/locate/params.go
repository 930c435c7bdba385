package locate

import (
	"errors"
	"fmt"
	"runtime"
)

// Default estimator parameters.
const (
	DefaultTrimFraction     = 0.35
	DefaultMinSamples       = 8
	DefaultRadiusMin        = 8.0
	DefaultRadiusMax        = 80.0
	DefaultGridStep         = 3.0
	DefaultGridMax          = 220
	DefaultFallbackQuantile = 0.20

	// minTrimFraction keeps a zero or negative fraction from discarding
	// everything above the min_samples floor.
	minTrimFraction = 0.01
)

// ErrInvalidParams is wrapped by Params.Validate failures.
var ErrInvalidParams = errors.New("invalid estimator params")

// Params is the immutable configuration of one estimator run.
type Params struct {
	TrimFraction     float64 `json:"trim_fraction"`
	MinSamples       int     `json:"min_samples"`
	RadiusMin        float64 `json:"r_min"`
	RadiusMax        float64 `json:"r_max"`
	GridStep         float64 `json:"grid_step"`
	GridMax          int     `json:"grid_max"`
	FallbackQuantile float64 `json:"fallback_quantile"`

	// Workers bounds how many groups are estimated concurrently.
	Workers int `json:"workers"`
	// ScanWorkers bounds how many row bands one grid scan fans out to.
	ScanWorkers int `json:"scan_workers"`
}

// DefaultParams returns the stock configuration.
func DefaultParams() Params {
	return Params{
		TrimFraction:     DefaultTrimFraction,
		MinSamples:       DefaultMinSamples,
		RadiusMin:        DefaultRadiusMin,
		RadiusMax:        DefaultRadiusMax,
		GridStep:         DefaultGridStep,
		GridMax:          DefaultGridMax,
		FallbackQuantile: DefaultFallbackQuantile,
		Workers:          runtime.NumCPU(),
		ScanWorkers:      1,
	}
}

// Validate checks value ranges.
func (p Params) Validate() error {
	if p.TrimFraction <= 0 || p.TrimFraction > 1 {
		return fmt.Errorf("%w: trim_fraction must be in (0, 1], got %g", ErrInvalidParams, p.TrimFraction)
	}
	if p.MinSamples < 1 {
		return fmt.Errorf("%w: min_samples must be at least 1, got %d", ErrInvalidParams, p.MinSamples)
	}
	if p.RadiusMin < 0 {
		return fmt.Errorf("%w: r_min must be non-negative, got %g", ErrInvalidParams, p.RadiusMin)
	}
	if p.RadiusMax < p.RadiusMin {
		return fmt.Errorf("%w: r_max (%g) must not be below r_min (%g)", ErrInvalidParams, p.RadiusMax, p.RadiusMin)
	}
	if p.GridMax < 3 {
		return fmt.Errorf("%w: grid_max must be at least 3, got %d", ErrInvalidParams, p.GridMax)
	}
	if p.FallbackQuantile < 0 || p.FallbackQuantile > 1 {
		return fmt.Errorf("%w: fallback_quantile must be in [0, 1], got %g", ErrInvalidParams, p.FallbackQuantile)
	}
	if p.Workers < 0 || p.ScanWorkers < 0 {
		return fmt.Errorf("%w: worker counts must be non-negative", ErrInvalidParams)
	}
	return nil
}

// trimFraction clamps the configured fraction to [minTrimFraction, 1].
func (p Params) trimFraction() float64 {
	return clamp(p.TrimFraction, minTrimFraction, 1)
}

// FallbackLabel is the mode label emitted when the relaxed combiner wins.
func (p Params) FallbackLabel() string {
	return fmt.Sprintf("%s%.2f", ModeQuantile, p.FallbackQuantile)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

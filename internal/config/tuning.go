package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/rssi.map/internal/locate"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// DefaultScanSource is the scan_src value the estimator reads by default.
const DefaultScanSource = "iw"

// maxFileSize caps config files read from disk.
const maxFileSize = 1 * 1024 * 1024

// TuningConfig is the on-disk estimator configuration. Every field is
// optional; the Get* accessors supply the default for anything left unset,
// so partial files are safe.
type TuningConfig struct {
	// Estimator params
	TrimFraction     *float64 `json:"trim_fraction,omitempty" yaml:"trim_fraction,omitempty"`
	MinSamples       *int     `json:"min_samples,omitempty" yaml:"min_samples,omitempty"`
	RadiusMin        *float64 `json:"r_min,omitempty" yaml:"r_min,omitempty"`
	RadiusMax        *float64 `json:"r_max,omitempty" yaml:"r_max,omitempty"`
	GridStep         *float64 `json:"grid_step,omitempty" yaml:"grid_step,omitempty"`
	GridMax          *int     `json:"grid_max,omitempty" yaml:"grid_max,omitempty"`
	FallbackQuantile *float64 `json:"fallback_quantile,omitempty" yaml:"fallback_quantile,omitempty"`

	// Concurrency
	Workers     *int `json:"workers,omitempty" yaml:"workers,omitempty"`
	ScanWorkers *int `json:"scan_workers,omitempty" yaml:"scan_workers,omitempty"`

	// Input selection
	ScanSource       *string `json:"scan_source,omitempty" yaml:"scan_source,omitempty"`
	ObservationLimit *int    `json:"observation_limit,omitempty" yaml:"observation_limit,omitempty"`

	// Service
	RebuildInterval *string `json:"rebuild_interval,omitempty" yaml:"rebuild_interval,omitempty"` // duration string like "15m"
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig reads a TuningConfig from a .json, .yaml or .yml file and
// validates it.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. Panics if the file cannot be loaded; intended for
// test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate range-checks every field that is set. Cross-field constraints are
// checked by locate.Params.Validate once defaults are filled in.
func (c *TuningConfig) Validate() error {
	if c.TrimFraction != nil && (*c.TrimFraction <= 0 || *c.TrimFraction > 1) {
		return fmt.Errorf("trim_fraction must be in (0, 1], got %f", *c.TrimFraction)
	}
	if c.MinSamples != nil && *c.MinSamples < 1 {
		return fmt.Errorf("min_samples must be at least 1, got %d", *c.MinSamples)
	}
	if c.RadiusMin != nil && *c.RadiusMin < 0 {
		return fmt.Errorf("r_min must be non-negative, got %f", *c.RadiusMin)
	}
	if c.GridMax != nil && *c.GridMax < 3 {
		return fmt.Errorf("grid_max must be at least 3, got %d", *c.GridMax)
	}
	if c.FallbackQuantile != nil && (*c.FallbackQuantile < 0 || *c.FallbackQuantile > 1) {
		return fmt.Errorf("fallback_quantile must be between 0 and 1, got %f", *c.FallbackQuantile)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.ScanWorkers != nil && *c.ScanWorkers < 0 {
		return fmt.Errorf("scan_workers must be non-negative, got %d", *c.ScanWorkers)
	}
	if c.ObservationLimit != nil && *c.ObservationLimit < 0 {
		return fmt.Errorf("observation_limit must be non-negative, got %d", *c.ObservationLimit)
	}
	if c.RebuildInterval != nil && *c.RebuildInterval != "" {
		if _, err := time.ParseDuration(*c.RebuildInterval); err != nil {
			return fmt.Errorf("invalid rebuild_interval '%s': %w", *c.RebuildInterval, err)
		}
	}
	return nil
}

// Params converts the config to estimator params, filling defaults.
func (c *TuningConfig) Params() locate.Params {
	return locate.Params{
		TrimFraction:     c.GetTrimFraction(),
		MinSamples:       c.GetMinSamples(),
		RadiusMin:        c.GetRadiusMin(),
		RadiusMax:        c.GetRadiusMax(),
		GridStep:         c.GetGridStep(),
		GridMax:          c.GetGridMax(),
		FallbackQuantile: c.GetFallbackQuantile(),
		Workers:          c.GetWorkers(),
		ScanWorkers:      c.GetScanWorkers(),
	}
}

// GetTrimFraction returns the trim_fraction value or the default.
func (c *TuningConfig) GetTrimFraction() float64 {
	if c.TrimFraction == nil {
		return locate.DefaultTrimFraction
	}
	return *c.TrimFraction
}

// GetMinSamples returns the min_samples value or the default.
func (c *TuningConfig) GetMinSamples() int {
	if c.MinSamples == nil {
		return locate.DefaultMinSamples
	}
	return *c.MinSamples
}

// GetRadiusMin returns the r_min value or the default.
func (c *TuningConfig) GetRadiusMin() float64 {
	if c.RadiusMin == nil {
		return locate.DefaultRadiusMin
	}
	return *c.RadiusMin
}

// GetRadiusMax returns the r_max value or the default.
func (c *TuningConfig) GetRadiusMax() float64 {
	if c.RadiusMax == nil {
		return locate.DefaultRadiusMax
	}
	return *c.RadiusMax
}

// GetGridStep returns the grid_step value or the default.
func (c *TuningConfig) GetGridStep() float64 {
	if c.GridStep == nil {
		return locate.DefaultGridStep
	}
	return *c.GridStep
}

// GetGridMax returns the grid_max value or the default.
func (c *TuningConfig) GetGridMax() int {
	if c.GridMax == nil {
		return locate.DefaultGridMax
	}
	return *c.GridMax
}

// GetFallbackQuantile returns the fallback_quantile value or the default.
func (c *TuningConfig) GetFallbackQuantile() float64 {
	if c.FallbackQuantile == nil {
		return locate.DefaultFallbackQuantile
	}
	return *c.FallbackQuantile
}

// GetWorkers returns the workers value, defaulting to the CPU count. Zero
// also means one worker per CPU.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers == 0 {
		return runtime.NumCPU()
	}
	return *c.Workers
}

// GetScanWorkers returns the scan_workers value or the default of 1.
func (c *TuningConfig) GetScanWorkers() int {
	if c.ScanWorkers == nil || *c.ScanWorkers == 0 {
		return 1
	}
	return *c.ScanWorkers
}

// GetScanSource returns the scan_source value or DefaultScanSource.
func (c *TuningConfig) GetScanSource() string {
	if c.ScanSource == nil || *c.ScanSource == "" {
		return DefaultScanSource
	}
	return *c.ScanSource
}

// GetObservationLimit returns the observation_limit value; 0 means no limit.
func (c *TuningConfig) GetObservationLimit() int {
	if c.ObservationLimit == nil {
		return 0
	}
	return *c.ObservationLimit
}

// GetRebuildInterval parses rebuild_interval. Zero disables periodic rebuilds.
func (c *TuningConfig) GetRebuildInterval() time.Duration {
	if c.RebuildInterval == nil || *c.RebuildInterval == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.RebuildInterval)
	if err != nil {
		return 0
	}
	return d
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/plate.report/internal/units"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/pipeline.defaults.json"

// PipelineConfig holds the tunable pipeline parameters. All fields are
// pointers so a JSON file may set any subset; the Get* accessors fall back
// to the defaults for fields left nil. The same shape is used for the
// startup config file and for flag overrides.
type PipelineConfig struct {
	// Detector params
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	RotationScan        *bool    `json:"rotation_scan,omitempty"`

	// Persistence gates
	MinClarity    *float64 `json:"min_clarity,omitempty"`
	MinConfidence *float64 `json:"min_confidence,omitempty"`

	// OCR params
	UseOCR      *bool   `json:"use_ocr,omitempty"`
	OCRLanguage *string `json:"ocr_language,omitempty"`

	// Speed params
	MeasureSpeed   *bool    `json:"measure_speed,omitempty"`
	DistanceMeters *float64 `json:"distance_meters,omitempty"`
	FPS            *float64 `json:"fps,omitempty"` // 0 means use the source rate

	// Output params
	SaveDir *string `json:"save_dir,omitempty"`
	Units   *string `json:"units,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields set to nil.
// Use LoadPipelineConfig to load actual values from a file.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent
// directories. Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if c.ConfidenceThreshold != nil {
		if *c.ConfidenceThreshold < 0 || *c.ConfidenceThreshold > 1 {
			return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", *c.ConfidenceThreshold)
		}
	}

	if c.MinConfidence != nil {
		if *c.MinConfidence < 0 || *c.MinConfidence > 1 {
			return fmt.Errorf("min_confidence must be between 0 and 1, got %f", *c.MinConfidence)
		}
	}

	if c.MinClarity != nil {
		if *c.MinClarity < 0 {
			return fmt.Errorf("min_clarity must be non-negative, got %f", *c.MinClarity)
		}
	}

	if c.DistanceMeters != nil {
		if *c.DistanceMeters <= 0 {
			return fmt.Errorf("distance_meters must be positive, got %f", *c.DistanceMeters)
		}
	}

	if c.FPS != nil {
		if *c.FPS < 0 {
			return fmt.Errorf("fps must be non-negative, got %f", *c.FPS)
		}
	}

	if c.Units != nil && *c.Units != "" {
		if !units.IsValid(*c.Units) {
			return fmt.Errorf("units must be one of %s, got %q", units.GetValidUnitsString(), *c.Units)
		}
	}

	return nil
}

// GetConfidenceThreshold returns the detector confidence floor or the default.
func (c *PipelineConfig) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.5 // default
	}
	return *c.ConfidenceThreshold
}

// GetRotationScan returns the rotation_scan value or the default.
func (c *PipelineConfig) GetRotationScan() bool {
	if c.RotationScan == nil {
		return false // default: upright pass only
	}
	return *c.RotationScan
}

// GetMinClarity returns the min_clarity persistence gate or the default.
func (c *PipelineConfig) GetMinClarity() float64 {
	if c.MinClarity == nil {
		return 100 // default
	}
	return *c.MinClarity
}

// GetMinConfidence returns the min_confidence persistence gate or the default.
func (c *PipelineConfig) GetMinConfidence() float64 {
	if c.MinConfidence == nil {
		return 0.55 // default
	}
	return *c.MinConfidence
}

// GetUseOCR returns the use_ocr value or the default.
func (c *PipelineConfig) GetUseOCR() bool {
	if c.UseOCR == nil {
		return false // default: similarity matching only
	}
	return *c.UseOCR
}

// GetOCRLanguage returns the ocr_language value or the default.
func (c *PipelineConfig) GetOCRLanguage() string {
	if c.OCRLanguage == nil || *c.OCRLanguage == "" {
		return "eng" // default
	}
	return *c.OCRLanguage
}

// GetMeasureSpeed returns the measure_speed value or the default.
func (c *PipelineConfig) GetMeasureSpeed() bool {
	if c.MeasureSpeed == nil {
		return false // default
	}
	return *c.MeasureSpeed
}

// GetDistanceMeters returns the distance_meters value or the default.
func (c *PipelineConfig) GetDistanceMeters() float64 {
	if c.DistanceMeters == nil {
		return 15.0 // default: field-of-view width the rig was measured at
	}
	return *c.DistanceMeters
}

// GetFPS returns the fps override or the default.
func (c *PipelineConfig) GetFPS() float64 {
	if c.FPS == nil {
		return 0 // default: use the source's reported rate
	}
	return *c.FPS
}

// GetSaveDir returns the save_dir value or the default.
func (c *PipelineConfig) GetSaveDir() string {
	if c.SaveDir == nil {
		return "" // default: crop archive disabled
	}
	return *c.SaveDir
}

// GetUnits returns the units value or the default.
func (c *PipelineConfig) GetUnits() string {
	if c.Units == nil || *c.Units == "" {
		return units.KMPH // default: speeds are stored in km/h
	}
	return *c.Units
}

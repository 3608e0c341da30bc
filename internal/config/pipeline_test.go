package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoadPipelineConfig(t *testing.T) {
	path := writeConfig(t, "pipeline.json", `{
		"confidence_threshold": 0.7,
		"rotation_scan": true,
		"min_clarity": 150,
		"min_confidence": 0.6,
		"use_ocr": true,
		"ocr_language": "tur",
		"measure_speed": true,
		"distance_meters": 20.5,
		"fps": 25,
		"save_dir": "/var/plates/crops",
		"units": "mph"
	}`)

	cfg, err := LoadPipelineConfig(path)
	if err != nil {
		t.Fatalf("LoadPipelineConfig failed: %v", err)
	}

	if got := cfg.GetConfidenceThreshold(); got != 0.7 {
		t.Errorf("Expected confidence_threshold 0.7, got %f", got)
	}
	if !cfg.GetRotationScan() {
		t.Error("Expected rotation_scan true")
	}
	if got := cfg.GetMinClarity(); got != 150 {
		t.Errorf("Expected min_clarity 150, got %f", got)
	}
	if got := cfg.GetMinConfidence(); got != 0.6 {
		t.Errorf("Expected min_confidence 0.6, got %f", got)
	}
	if !cfg.GetUseOCR() {
		t.Error("Expected use_ocr true")
	}
	if got := cfg.GetOCRLanguage(); got != "tur" {
		t.Errorf("Expected ocr_language tur, got %q", got)
	}
	if !cfg.GetMeasureSpeed() {
		t.Error("Expected measure_speed true")
	}
	if got := cfg.GetDistanceMeters(); got != 20.5 {
		t.Errorf("Expected distance_meters 20.5, got %f", got)
	}
	if got := cfg.GetFPS(); got != 25 {
		t.Errorf("Expected fps 25, got %f", got)
	}
	if got := cfg.GetSaveDir(); got != "/var/plates/crops" {
		t.Errorf("Expected save_dir /var/plates/crops, got %q", got)
	}
	if got := cfg.GetUnits(); got != "mph" {
		t.Errorf("Expected units mph, got %q", got)
	}
}

func TestLoadPipelineConfigPartial(t *testing.T) {
	path := writeConfig(t, "partial.json", `{"min_confidence": 0.8}`)

	cfg, err := LoadPipelineConfig(path)
	if err != nil {
		t.Fatalf("LoadPipelineConfig failed: %v", err)
	}

	if got := cfg.GetMinConfidence(); got != 0.8 {
		t.Errorf("Expected min_confidence 0.8, got %f", got)
	}
	// Everything else falls back to defaults.
	if got := cfg.GetConfidenceThreshold(); got != 0.5 {
		t.Errorf("Expected default confidence_threshold 0.5, got %f", got)
	}
	if got := cfg.GetMinClarity(); got != 100 {
		t.Errorf("Expected default min_clarity 100, got %f", got)
	}
	if cfg.GetUseOCR() {
		t.Error("Expected default use_ocr false")
	}
	if got := cfg.GetDistanceMeters(); got != 15.0 {
		t.Errorf("Expected default distance_meters 15.0, got %f", got)
	}
	if got := cfg.GetUnits(); got != "kmph" {
		t.Errorf("Expected default units kmph, got %q", got)
	}
}

func TestLoadPipelineConfigRejectsNonJSONExtension(t *testing.T) {
	path := writeConfig(t, "pipeline.yaml", `min_confidence: 0.8`)

	_, err := LoadPipelineConfig(path)
	if err == nil {
		t.Fatal("Expected error for non-json extension")
	}
	if !strings.Contains(err.Error(), ".json extension") {
		t.Errorf("Expected extension error, got: %v", err)
	}
}

func TestLoadPipelineConfigMissingFile(t *testing.T) {
	_, err := LoadPipelineConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestLoadPipelineConfigInvalidJSON(t *testing.T) {
	path := writeConfig(t, "broken.json", `{"min_confidence": `)

	_, err := LoadPipelineConfig(path)
	if err == nil {
		t.Fatal("Expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "failed to parse config JSON") {
		t.Errorf("Expected parse error, got: %v", err)
	}
}

func TestLoadPipelineConfigTooLarge(t *testing.T) {
	large := make([]byte, 2*1024*1024)
	for i := range large {
		large[i] = ' '
	}
	path := writeConfig(t, "large.json", string(large))

	_, err := LoadPipelineConfig(path)
	if err == nil {
		t.Fatal("Expected error for oversized file")
	}
	if !strings.Contains(err.Error(), "too large") {
		t.Errorf("Expected size error, got: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *PipelineConfig
		wantErr string
	}{
		{"empty is valid", &PipelineConfig{}, ""},
		{"confidence threshold too high", &PipelineConfig{ConfidenceThreshold: ptrFloat64(1.5)}, "confidence_threshold"},
		{"confidence threshold negative", &PipelineConfig{ConfidenceThreshold: ptrFloat64(-0.1)}, "confidence_threshold"},
		{"min confidence out of range", &PipelineConfig{MinConfidence: ptrFloat64(2)}, "min_confidence"},
		{"negative clarity", &PipelineConfig{MinClarity: ptrFloat64(-1)}, "min_clarity"},
		{"zero distance", &PipelineConfig{DistanceMeters: ptrFloat64(0)}, "distance_meters"},
		{"negative fps", &PipelineConfig{FPS: ptrFloat64(-5)}, "fps"},
		{"unknown units", &PipelineConfig{Units: ptrString("knots")}, "units"},
		{"valid units", &PipelineConfig{Units: ptrString("mph")}, ""},
		{"boundary confidence", &PipelineConfig{ConfidenceThreshold: ptrFloat64(1.0), MinConfidence: ptrFloat64(0)}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected valid config, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error mentioning %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadPipelineConfigRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, "bad.json", `{"confidence_threshold": 3.0}`)

	_, err := LoadPipelineConfig(path)
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("Expected validation wrapper, got: %v", err)
	}
}

func TestDefaultsFileMatchesAccessorDefaults(t *testing.T) {
	loaded := MustLoadDefaultConfig()
	empty := EmptyPipelineConfig()

	if loaded.GetConfidenceThreshold() != empty.GetConfidenceThreshold() {
		t.Errorf("confidence_threshold drifted: file %f, code %f",
			loaded.GetConfidenceThreshold(), empty.GetConfidenceThreshold())
	}
	if loaded.GetRotationScan() != empty.GetRotationScan() {
		t.Error("rotation_scan drifted between defaults file and code")
	}
	if loaded.GetMinClarity() != empty.GetMinClarity() {
		t.Errorf("min_clarity drifted: file %f, code %f", loaded.GetMinClarity(), empty.GetMinClarity())
	}
	if loaded.GetMinConfidence() != empty.GetMinConfidence() {
		t.Errorf("min_confidence drifted: file %f, code %f", loaded.GetMinConfidence(), empty.GetMinConfidence())
	}
	if loaded.GetUseOCR() != empty.GetUseOCR() {
		t.Error("use_ocr drifted between defaults file and code")
	}
	if loaded.GetOCRLanguage() != empty.GetOCRLanguage() {
		t.Errorf("ocr_language drifted: file %q, code %q", loaded.GetOCRLanguage(), empty.GetOCRLanguage())
	}
	if loaded.GetMeasureSpeed() != empty.GetMeasureSpeed() {
		t.Error("measure_speed drifted between defaults file and code")
	}
	if loaded.GetDistanceMeters() != empty.GetDistanceMeters() {
		t.Errorf("distance_meters drifted: file %f, code %f",
			loaded.GetDistanceMeters(), empty.GetDistanceMeters())
	}
	if loaded.GetFPS() != empty.GetFPS() {
		t.Errorf("fps drifted: file %f, code %f", loaded.GetFPS(), empty.GetFPS())
	}
	if loaded.GetSaveDir() != empty.GetSaveDir() {
		t.Errorf("save_dir drifted: file %q, code %q", loaded.GetSaveDir(), empty.GetSaveDir())
	}
	if loaded.GetUnits() != empty.GetUnits() {
		t.Errorf("units drifted: file %q, code %q", loaded.GetUnits(), empty.GetUnits())
	}
}

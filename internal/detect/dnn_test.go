package detect

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.InputWidth != 300 || cfg.InputHeight != 300 {
		t.Errorf("expected 300x300 input, got %dx%d", cfg.InputWidth, cfg.InputHeight)
	}
	if cfg.MinConfidence != 0.5 {
		t.Errorf("expected min confidence 0.5, got %v", cfg.MinConfidence)
	}
	if cfg.ClassID >= 0 {
		t.Errorf("default should accept every class, got class id %d", cfg.ClassID)
	}
}

func TestNewDNNRequiresModel(t *testing.T) {
	if _, err := NewDNN(Config{}); err == nil {
		t.Error("expected an error for an empty model path")
	}

	cfg := DefaultConfig()
	cfg.ModelPath = filepath.Join(t.TempDir(), "missing.pb")
	if _, err := NewDNN(cfg); err == nil {
		t.Error("expected an error for a missing model file")
	}
}

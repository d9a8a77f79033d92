package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultStackLimits(t *testing.T) {
	cfg := Default()
	if cfg.Stack.MaxRegisters <= 0 || cfg.Stack.MaxEnsureDepth <= 0 || cfg.Stack.MaxRescueSize <= 0 {
		t.Fatalf("expected positive default stack limits, got %+v", cfg.Stack)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml")); err == nil {
		t.Fatal("expected an error reading a missing config file")
	}
}

func TestLoadOverridesAndFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vm.yaml")
	doc := "stack:\n  max_registers: 4096\ndebug:\n  level: 2\n  profile: true\nsources:\n  primary:\n    driver: postgres\n    dsn: host=db;port=5432;dbname=app\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stack.MaxRegisters != 4096 {
		t.Fatalf("expected overridden max_registers 4096, got %d", cfg.Stack.MaxRegisters)
	}
	if cfg.Stack.MaxEnsureDepth != Default().Stack.MaxEnsureDepth {
		t.Fatalf("expected max_ensure_depth to fall back to the default, got %d", cfg.Stack.MaxEnsureDepth)
	}
	if !cfg.Debug.Profile || cfg.Debug.Level != 2 {
		t.Fatalf("expected debug overrides to apply, got %+v", cfg.Debug)
	}
	src, ok := cfg.Sources["primary"]
	if !ok || src.Driver != "postgres" {
		t.Fatalf("expected a postgres data source named primary, got %+v", cfg.Sources)
	}
}

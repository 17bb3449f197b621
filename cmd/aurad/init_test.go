package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/halcyon-dev/aura-sync/internal/config"
)

func TestRunInit(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"init", dir}); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "data", "db")); err != nil {
		t.Errorf("data/db not created: %v", err)
	}

	cfgPath := filepath.Join(dir, "aura.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("generated config does not validate: %v", err)
	}
	if len(cfg.Surfaces) == 0 {
		t.Error("generated config has no example surfaces")
	}
}

func TestRunInitPreservesExistingConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	cfgPath := filepath.Join(dir, "aura.yaml")
	custom := []byte("log_level: debug\n")
	if err := os.WriteFile(cfgPath, custom, 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"init", dir}); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, custom) {
		t.Error("init overwrote an existing aura.yaml")
	}
}

func TestRunInitReportsPath(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"init", dir}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "aura.yaml") {
		t.Errorf("init output does not mention the config file: %s", out.String())
	}
}

package deps

import (
	"os"
	"path/filepath"
	"testing"

	"epubopt/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[0].Path != present {
		t.Fatalf("expected resolved path %q, got %q", present, results[0].Path)
	}
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}

	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatalf("expected detail message for missing binary")
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}

	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("unexpected blank command status: %#v", results[2])
	}
}

func TestOptimizerRequirementsFollowConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Optimizers.JpegoptimBinary = "/opt/bin/jpegoptim"

	reqs := OptimizerRequirements(&cfg)
	if len(reqs) != 3 {
		t.Fatalf("expected three optimizers, got %d", len(reqs))
	}
	covered := map[string]string{}
	for _, req := range reqs {
		if !req.Optional {
			t.Fatalf("expected %s to be optional", req.Name)
		}
		for _, class := range req.Classes {
			covered[class] = req.Command
		}
	}
	for _, class := range config.KnownClasses {
		if _, ok := covered[class]; !ok {
			t.Fatalf("class %s has no optimizer requirement", class)
		}
	}
	if covered["jpeg"] != "/opt/bin/jpegoptim" {
		t.Fatalf("expected configured jpegoptim path, got %q", covered["jpeg"])
	}
	if covered["png"] != "pngquant" {
		t.Fatalf("expected default pngquant, got %q", covered["png"])
	}
}

func TestCheckSingle(t *testing.T) {
	t.Setenv("PATH", "")
	status := Check("minify", "minify")
	if status.Available {
		t.Fatal("expected minify to be missing with empty PATH")
	}
	if status.Name != "minify" {
		t.Fatalf("unexpected name %q", status.Name)
	}
}

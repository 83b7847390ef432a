package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"epubopt/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.TempRoot = filepath.Join(base, "tmp")
	cfgVal.History.Path = filepath.Join(base, "state", "history.db")
	cfgVal.Workflow.WorkerTimeoutSeconds = 10
	cfgVal.Workflow.KillGraceSeconds = 1

	if err := os.MkdirAll(cfgVal.Paths.TempRoot, 0o755); err != nil {
		t.Fatalf("mkdir temp root: %v", err)
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithoutHistory disables the run ledger.
func WithoutHistory() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.History.Enabled = false
	}
}

// WithStubbedOptimizers writes passthrough stub executables for every
// optimizer and points the config at them. Use WriteStub to give a single
// stub specific behaviour.
func WithStubbedOptimizers() ConfigOption {
	return func(b *configBuilder) {
		binDir := BinDir(b.t, b.baseDir)
		b.cfg.Optimizers.MinifyBinary = WriteStub(b.t, binDir, "minify", "exit 0\n")
		b.cfg.Optimizers.JpegoptimBinary = WriteStub(b.t, binDir, "jpegoptim", "exit 0\n")
		b.cfg.Optimizers.PngquantBinary = WriteStub(b.t, binDir, "pngquant", "exit 0\n")
	}
}

// BinDir returns (creating it if needed) the stub binary directory under base.
func BinDir(t testing.TB, base string) string {
	t.Helper()
	binDir := filepath.Join(base, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	return binDir
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.TempRoot)
}

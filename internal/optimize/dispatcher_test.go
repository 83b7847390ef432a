package optimize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"epubopt/internal/classify"
	"epubopt/internal/logging"
	"epubopt/internal/services"
	"epubopt/internal/testsupport"
)

const (
	shrinkBody = "for f in \"$@\"; do if [ -f \"$f\" ]; then printf x > \"$f\"; fi; done\n"
	growBody   = "for f in \"$@\"; do if [ -f \"$f\" ]; then cat \"$f\" \"$f\" > \"$f.tmp\" && mv \"$f.tmp\" \"$f\"; fi; done\n"
)

type fixture struct {
	content string
	scratch string
	buckets classify.Buckets
}

func newFixture(t *testing.T, files map[string]int64) fixture {
	t.Helper()
	base := t.TempDir()
	content := filepath.Join(base, "content")
	for rel, size := range files {
		testsupport.WriteFile(t, filepath.Join(content, filepath.FromSlash(rel)), size)
	}
	buckets, err := classify.Classify(content)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	return fixture{content: content, scratch: filepath.Join(base, "scratch"), buckets: buckets}
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return info.Size()
}

func classResult(t *testing.T, report Report, class classify.Class) ClassResult {
	t.Helper()
	for _, c := range report.Classes {
		if c.Class == class {
			return c
		}
	}
	t.Fatalf("no result for class %s", class)
	return ClassResult{}
}

func TestRunShrinksEveryClass(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutHistory())
	bin := testsupport.BinDir(t, testsupport.BaseDir(cfg))
	cfg.Optimizers.MinifyBinary = testsupport.WriteStub(t, bin, "minify", shrinkBody)
	cfg.Optimizers.JpegoptimBinary = testsupport.WriteStub(t, bin, "jpegoptim", shrinkBody)
	cfg.Optimizers.PngquantBinary = testsupport.WriteStub(t, bin, "pngquant", shrinkBody)

	fx := newFixture(t, map[string]int64{
		"OEBPS/content.opf":     200,
		"OEBPS/chapter1.xhtml":  300,
		"OEBPS/style.css":       100,
		"OEBPS/images/a.jpg":    400,
		"OEBPS/images/b.png":    500,
		"OEBPS/fonts/font.woff": 50,
	})

	report, err := New(cfg, logging.NewNop()).Run(context.Background(), fx.scratch, fx.buckets)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Classes) != 5 {
		t.Fatalf("expected 5 class results, got %d", len(report.Classes))
	}
	for _, c := range report.Classes {
		if c.Status != StatusOK {
			t.Fatalf("class %s status %s: %v", c.Class, c.Status, c.Err)
		}
		if c.Invocations != 1 {
			t.Fatalf("class %s expected 1 invocation, got %d", c.Class, c.Invocations)
		}
	}
	if got, want := report.BytesSaved(), int64(200+300+100+400+500-5); got != want {
		t.Fatalf("expected %d bytes saved, got %d", want, got)
	}
	if size := fileSize(t, filepath.Join(fx.content, "OEBPS", "fonts", "font.woff")); size != 50 {
		t.Fatalf("unclassified file changed size: %d", size)
	}
}

func TestRunRevertsGrowth(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedOptimizers())
	bin := testsupport.BinDir(t, testsupport.BaseDir(cfg))
	cfg.Optimizers.MinifyBinary = testsupport.WriteStub(t, bin, "minify-grow", growBody)

	fx := newFixture(t, map[string]int64{"style.css": 64, "extra.css": 32})
	report, err := New(cfg, logging.NewNop()).Run(context.Background(), fx.scratch, fx.buckets)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	css := classResult(t, report, classify.Stylesheet)
	if css.Reverted() != 2 {
		t.Fatalf("expected 2 reverted files, got %d", css.Reverted())
	}
	if css.Saved() != 0 {
		t.Fatalf("expected zero savings after revert, got %d", css.Saved())
	}
	if size := fileSize(t, filepath.Join(fx.content, "style.css")); size != 64 {
		t.Fatalf("expected original size 64, got %d", size)
	}
}

func TestRunWithoutGuardKeepsGrowth(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedOptimizers())
	cfg.Workflow.RegressionGuard = false
	bin := testsupport.BinDir(t, testsupport.BaseDir(cfg))
	cfg.Optimizers.MinifyBinary = testsupport.WriteStub(t, bin, "minify-grow", growBody)

	fx := newFixture(t, map[string]int64{"style.css": 64})
	report, err := New(cfg, logging.NewNop()).Run(context.Background(), fx.scratch, fx.buckets)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := report.BytesSaved(); got != -64 {
		t.Fatalf("expected -64 bytes saved, got %d", got)
	}
	if _, err := os.Stat(filepath.Join(fx.scratch, "stylesheet")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no backups without guard, stat err=%v", err)
	}
}

func TestRunMissingBinaryFailsOnlyThatClass(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedOptimizers())
	cfg.Optimizers.JpegoptimBinary = filepath.Join(t.TempDir(), "missing-jpegoptim")

	fx := newFixture(t, map[string]int64{"cover.jpg": 128, "style.css": 16, "img.png": 8})
	report, err := New(cfg, logging.NewNop()).Run(context.Background(), fx.scratch, fx.buckets)
	var partial *PartialError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialError, got %v", err)
	}
	if got := partial.FailedClasses(); !slices.Equal(got, []classify.Class{classify.JPEG}) {
		t.Fatalf("unexpected failed classes %v", got)
	}
	if !errors.Is(err, services.ErrOptimizer) || !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected optimizer and not-found markers, got %v", err)
	}
	if len(report.Failed()) != 1 {
		t.Fatalf("expected one failed class in report, got %d", len(report.Failed()))
	}
	for _, class := range []classify.Class{classify.Stylesheet, classify.PNG} {
		if c := classResult(t, report, class); c.Status != StatusOK {
			t.Fatalf("class %s should succeed, got %s", class, c.Status)
		}
	}
	jpeg := classResult(t, report, classify.JPEG)
	if jpeg.Files[0].Before != 128 || jpeg.Files[0].After != 128 {
		t.Fatalf("failed class must report unchanged sizes, got %+v", jpeg.Files[0])
	}
}

func TestRunDisabledClass(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Optimizers.DisabledClasses = []string{"png"}
	cfg.Optimizers.PngquantBinary = "definitely-not-installed-pngquant"

	fx := newFixture(t, map[string]int64{"a.png": 10})
	report, err := New(cfg, logging.NewNop()).Run(context.Background(), fx.scratch, fx.buckets)
	if err != nil {
		t.Fatalf("disabled class must not fail: %v", err)
	}
	if c := classResult(t, report, classify.PNG); c.Status != StatusDisabled || c.Invocations != 0 {
		t.Fatalf("unexpected result %+v", c)
	}
}

func TestRunFailureRestoresBatch(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedOptimizers())
	bin := testsupport.BinDir(t, testsupport.BaseDir(cfg))
	cfg.Optimizers.JpegoptimBinary = testsupport.WriteStub(t, bin, "jpegoptim-broken",
		"for f in \"$@\"; do if [ -f \"$f\" ]; then : > \"$f\"; fi; done\necho 'corrupt input' >&2\nexit 2\n")

	fx := newFixture(t, map[string]int64{"a.jpg": 20, "b.jpg": 30})
	report, err := New(cfg, logging.NewNop()).Run(context.Background(), fx.scratch, fx.buckets)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if !strings.Contains(err.Error(), "corrupt input") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
	if size := fileSize(t, filepath.Join(fx.content, "b.jpg")); size != 30 {
		t.Fatalf("expected b.jpg restored to 30 bytes, got %d", size)
	}
	if c := classResult(t, report, classify.JPEG); c.Reverted() != 2 || c.Saved() != 0 {
		t.Fatalf("unexpected jpeg result %+v", c)
	}
}

func TestRunTimeoutKillsOptimizer(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedOptimizers())
	bin := testsupport.BinDir(t, testsupport.BaseDir(cfg))
	cfg.Optimizers.PngquantBinary = testsupport.WriteStub(t, bin, "pngquant-slow", "exec sleep 30\n")

	fx := newFixture(t, map[string]int64{"a.png": 10, "style.css": 10})
	d := New(cfg, logging.NewNop())
	d.timeout = 200 * time.Millisecond

	started := time.Now()
	report, err := d.Run(context.Background(), fx.scratch, fx.buckets)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 10*time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
	if c := classResult(t, report, classify.Stylesheet); c.Status != StatusOK {
		t.Fatalf("stylesheet job should be unaffected, got %s", c.Status)
	}
}

func TestRunTimeoutWithZeroGraceStillEnds(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedOptimizers())
	cfg.Workflow.KillGraceSeconds = 0
	bin := testsupport.BinDir(t, testsupport.BaseDir(cfg))
	cfg.Optimizers.JpegoptimBinary = testsupport.WriteStub(t, bin, "jpegoptim-stubborn", "trap '' TERM\nwhile :; do sleep 0.1; done\n")

	fx := newFixture(t, map[string]int64{"a.jpg": 10, "style.css": 10})
	d := New(cfg, logging.NewNop())
	d.timeout = 300 * time.Millisecond

	started := time.Now()
	report, err := d.Run(context.Background(), fx.scratch, fx.buckets)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 10*time.Second {
		t.Fatalf("dispatcher blocked on a process ignoring SIGTERM for %s", elapsed)
	}
	if c := classResult(t, report, classify.JPEG); c.Status != StatusFailed {
		t.Fatalf("expected jpeg job to fail, got %s", c.Status)
	}
	if size := fileSize(t, filepath.Join(fx.content, "a.jpg")); size != 10 {
		t.Fatalf("expected a.jpg left at 10 bytes, got %d", size)
	}
}

func TestExecRunnerKillsProcessIgnoringTerm(t *testing.T) {
	bin := testsupport.BinDir(t, t.TempDir())
	stubborn := testsupport.WriteStub(t, bin, "stubborn", "trap '' TERM\nwhile :; do sleep 0.1; done\n")

	for _, grace := range []time.Duration{0, 200 * time.Millisecond} {
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		started := time.Now()
		err := ExecRunner(grace)(ctx, Invocation{Name: stubborn})
		elapsed := time.Since(started)
		cancel()

		if !errors.Is(err, services.ErrTimeout) {
			t.Fatalf("grace %s: expected timeout, got %v", grace, err)
		}
		if elapsed > 5*time.Second {
			t.Fatalf("grace %s: process survived %s past its deadline", grace, elapsed)
		}
	}
}

func TestRunPngquantSkipIsSuccess(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedOptimizers())
	bin := testsupport.BinDir(t, testsupport.BaseDir(cfg))
	cfg.Optimizers.PngquantBinary = testsupport.WriteStub(t, bin, "pngquant-skip", "exit 98\n")

	fx := newFixture(t, map[string]int64{"a.png": 10})
	if _, err := New(cfg, logging.NewNop()).Run(context.Background(), fx.scratch, fx.buckets); err != nil {
		t.Fatalf("exit 98 should count as success: %v", err)
	}
}

func TestRunBatchesInvocations(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedOptimizers())
	cfg.Workflow.MaxBatchFiles = 2

	fx := newFixture(t, map[string]int64{
		"1.jpg": 1, "2.jpg": 1, "3.jpg": 1, "4.jpg": 1, "5.jpg": 1,
	})

	var mu sync.Mutex
	var seen []Invocation
	d := New(cfg, logging.NewNop())
	d.WithRunner(func(_ context.Context, inv Invocation) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, inv)
		return nil
	})

	report, err := d.Run(context.Background(), fx.scratch, fx.buckets)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(seen))
	}
	if classResult(t, report, classify.JPEG).Invocations != 3 {
		t.Fatalf("expected invocation count 3")
	}
	first := seen[0]
	if first.Name != cfg.Optimizers.JpegoptimBinary {
		t.Fatalf("unexpected binary %q", first.Name)
	}
	if !slices.Contains(first.Args, "--strip-all") || !slices.Contains(first.Args, "--max=90") {
		t.Fatalf("missing jpegoptim flags: %v", first.Args)
	}
	if filepath.Base(first.Args[len(first.Args)-1]) != "2.jpg" {
		t.Fatalf("expected first batch to end with 2.jpg, got %v", first.Args)
	}
}

func TestPlanMinifyGroupsByType(t *testing.T) {
	invs := planMinify("minify", []string{"a.css", "b.xhtml", "c.html", "d.css", "e.svg", "f.opf"})
	got := map[string][]string{}
	for _, inv := range invs {
		got[inv.Args[0]] = inv.Args
	}
	if len(invs) != 4 {
		t.Fatalf("expected 4 invocations, got %d", len(invs))
	}
	css := got["--type=text/css"]
	if !slices.Equal(css[len(css)-2:], []string{"a.css", "d.css"}) {
		t.Fatalf("unexpected css group %v", css)
	}
	xml := got["--type=text/xml"]
	if !slices.Contains(xml, "b.xhtml") || !slices.Contains(xml, "f.opf") {
		t.Fatalf("xhtml and opf should use the xml minifier: %v", xml)
	}
	if !slices.Contains(got["--type=text/html"], "--html-keep-end-tags") {
		t.Fatalf("html invocation missing keep flags: %v", got["--type=text/html"])
	}
	if _, ok := got["--type=image/svg+xml"]; !ok {
		t.Fatalf("expected svg invocation")
	}
}

func TestChunk(t *testing.T) {
	batches := chunk([]string{"a", "b", "c"}, 2)
	if len(batches) != 2 || len(batches[1]) != 1 {
		t.Fatalf("unexpected batches %v", batches)
	}
	if got := chunk([]string{"a", "b"}, 0); len(got) != 1 {
		t.Fatalf("non-positive size should yield one batch, got %v", got)
	}
}

func TestCappedBuffer(t *testing.T) {
	buf := &cappedBuffer{limit: 4}
	n, err := buf.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Fatalf("Write returned %d, %v", n, err)
	}
	_, _ = buf.Write([]byte("gh"))
	if buf.String() != "abcd" {
		t.Fatalf("expected capped output, got %q", buf.String())
	}
}

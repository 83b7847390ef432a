package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"epubopt/internal/classify"
	"epubopt/internal/config"
	"epubopt/internal/history"
	"epubopt/internal/logging"
	"epubopt/internal/optimize"
	"epubopt/internal/pipeline"
	"epubopt/internal/services"
	"epubopt/internal/testsupport"
	"epubopt/internal/workspace"
)

const (
	squeezeText = "for f in \"$@\"; do if [ -f \"$f\" ]; then tr -d ' \\n' < \"$f\" > \"$f.tmp\" && mv \"$f.tmp\" \"$f\"; fi; done\n"
	halveImage  = "for f in \"$@\"; do if [ -f \"$f\" ]; then n=$(wc -c < \"$f\" | tr -d ' '); head -c $(( (n + 1) / 2 )) \"$f\" > \"$f.tmp\" && mv \"$f.tmp\" \"$f\"; fi; done\n"
	keepImage   = "for f in \"$@\"; do if [ -f \"$f\" ]; then n=$(wc -c < \"$f\" | tr -d ' '); [ \"$n\" -gt 1024 ] && head -c 1024 \"$f\" > \"$f.tmp\" && mv \"$f.tmp\" \"$f\"; fi; done\nexit 0\n"
)

func newConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedOptimizers())
	bin := testsupport.BinDir(t, testsupport.BaseDir(cfg))
	cfg.Optimizers.MinifyBinary = testsupport.WriteStub(t, bin, "minify-squeeze", squeezeText)
	cfg.Optimizers.JpegoptimBinary = testsupport.WriteStub(t, bin, "jpegoptim-halve", halveImage)
	cfg.Optimizers.PngquantBinary = testsupport.WriteStub(t, bin, "pngquant-halve", halveImage)
	return cfg
}

func scenarioBook() []testsupport.Entry {
	opf := `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<package    xmlns="http://www.idpf.org/2007/opf"    version="3.0">` + "\n" +
		strings.Repeat("    <meta    name=\"x\"    content=\"y\"/>\n", 10) +
		"</package>\n"
	xhtml := "<html>\n  <body>\n" + strings.Repeat("    <p>  Lorem   ipsum   dolor   sit   amet.  </p>\n", 200) + "  </body>\n</html>\n"
	cover := strings.Repeat("\xff\xd8\x00\x01image-bytes", 200*1024/15)
	return []testsupport.Entry{
		{Name: "mimetype", Body: "application/epub+zip", Store: true},
		{Name: "content.opf", Body: opf},
		{Name: "cover.jpg", Body: cover},
		{Name: "chapter1.xhtml", Body: xhtml},
	}
}

func assertNoWorkspaces(t *testing.T, cfg *config.Config) {
	t.Helper()
	entries, err := os.ReadDir(cfg.Paths.TempRoot)
	if err != nil {
		t.Fatalf("read temp root: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), workspace.Prefix) && entry.Name() != filepath.Base(cfg.LockDir()) {
			t.Fatalf("workspace %s left behind", entry.Name())
		}
	}
}

func states(result pipeline.Result) []pipeline.State {
	out := []pipeline.State{}
	for _, tr := range result.Transitions {
		out = append(out, tr.To)
	}
	return out
}

func TestRunScenarioArchive(t *testing.T) {
	cfg := newConfig(t)
	path := filepath.Join(t.TempDir(), "book.epub")
	book := scenarioBook()
	testsupport.WriteArchive(t, path, book...)
	before := testsupport.ArchiveContents(t, path)

	result, err := pipeline.New(cfg, logging.NewNop(), pipeline.Options{}).Run(context.Background(), path)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []pipeline.State{
		pipeline.StateWorkspaceAcquired,
		pipeline.StateExtracted,
		pipeline.StateOptimized,
		pipeline.StateRepacked,
		pipeline.StateReplaced,
		pipeline.StateReleased,
	}
	if got := states(result); !slices.Equal(got, want) {
		t.Fatalf("unexpected transitions %v", got)
	}
	if result.BytesSaved != result.OriginalSize-result.NewSize {
		t.Fatalf("bytes saved %d does not match sizes %d -> %d", result.BytesSaved, result.OriginalSize, result.NewSize)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() != result.NewSize {
		t.Fatalf("archive on disk does not match reported size: %v", err)
	}

	entries := testsupport.ReadArchive(t, path)
	if len(entries) != len(book) {
		t.Fatalf("expected %d entries, got %d", len(book), len(entries))
	}
	if entries[0].Name != "mimetype" || entries[0].Body != "application/epub+zip" {
		t.Fatalf("mimetype must stay first and intact, got %+v", entries[0])
	}
	after := testsupport.ArchiveContents(t, path)
	var deltas int64
	for name, body := range before {
		if len(after[name]) > len(body) {
			t.Fatalf("%s grew from %d to %d bytes", name, len(body), len(after[name]))
		}
		deltas += int64(len(body) - len(after[name]))
	}
	if deltas != result.Report.BytesSaved() {
		t.Fatalf("report saved %d, entry deltas sum to %d", result.Report.BytesSaved(), deltas)
	}
	if deltas == 0 {
		t.Fatal("expected the stub optimizers to shrink something")
	}
	for _, f := range result.Report.Files() {
		if _, ok := before[f.Path]; !ok {
			t.Fatalf("report path %q is not an archive entry name", f.Path)
		}
	}
	assertNoWorkspaces(t, cfg)
}

func TestRunCorruptArchiveLeavesOriginal(t *testing.T) {
	cfg := newConfig(t)
	path := filepath.Join(t.TempDir(), "broken.epub")
	testsupport.WriteArchive(t, path, testsupport.SampleBook()...)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	truncated := data[:len(data)-30]
	if err := os.WriteFile(path, truncated, 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := pipeline.New(cfg, logging.NewNop(), pipeline.Options{}).Run(context.Background(), path)
	if !errors.Is(err, services.ErrCorrupt) {
		t.Fatalf("expected corrupt archive error, got %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != string(truncated) {
		t.Fatal("original archive modified after failure")
	}
	want := []pipeline.State{pipeline.StateWorkspaceAcquired, pipeline.StateFailed, pipeline.StateReleased}
	if !slices.Equal(states(result), want) {
		t.Fatalf("unexpected transitions %v", states(result))
	}
	if result.Replaced() {
		t.Fatal("failed run must not report a replacement")
	}
	assertNoWorkspaces(t, cfg)
}

func TestRunMissingArchive(t *testing.T) {
	cfg := newConfig(t)
	result, err := pipeline.New(cfg, logging.NewNop(), pipeline.Options{}).Run(context.Background(), filepath.Join(t.TempDir(), "absent.epub"))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if result.State != pipeline.StateReleased {
		t.Fatalf("expected released final state, got %s", result.State)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	cfg := newConfig(t)
	bin := testsupport.BinDir(t, testsupport.BaseDir(cfg))
	cfg.Optimizers.JpegoptimBinary = testsupport.WriteStub(t, bin, "jpegoptim-keep", keepImage)

	path := filepath.Join(t.TempDir(), "book.epub")
	testsupport.WriteArchive(t, path, scenarioBook()...)
	p := pipeline.New(cfg, logging.NewNop(), pipeline.Options{})

	if _, err := p.Run(context.Background(), path); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	second, err := p.Run(context.Background(), path)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if second.BytesSaved != 0 {
		t.Fatalf("expected no savings on second run, got %d", second.BytesSaved)
	}
	again, _ := os.ReadFile(path)
	if string(again) != string(first) {
		t.Fatal("second run changed an already optimized archive")
	}
	if entries := testsupport.ReadArchive(t, path); len(entries) != len(scenarioBook()) {
		t.Fatalf("expected %d entries after two runs, got %d", len(scenarioBook()), len(entries))
	}
}

func TestRunMissingJPEGOptimizerIsPartial(t *testing.T) {
	cfg := newConfig(t)
	cfg.Optimizers.JpegoptimBinary = filepath.Join(t.TempDir(), "no-jpegoptim")
	store := testsupport.MustOpenHistory(t, cfg)

	path := filepath.Join(t.TempDir(), "book.epub")
	book := append(scenarioBook(), testsupport.Entry{Name: "figure.png", Body: strings.Repeat("png!", 256)})
	testsupport.WriteArchive(t, path, book...)
	before := testsupport.ArchiveContents(t, path)

	result, err := pipeline.New(cfg, logging.NewNop(), pipeline.Options{}).WithRecorder(store).Run(context.Background(), path)
	var partial *optimize.PartialError
	if !errors.As(err, &partial) {
		t.Fatalf("expected partial failure, got %v", err)
	}
	if !slices.Equal(partial.FailedClasses(), []classify.Class{classify.JPEG}) {
		t.Fatalf("unexpected failed classes %v", partial.FailedClasses())
	}
	if !result.Replaced() {
		t.Fatal("partial failure must still replace the archive")
	}

	after := testsupport.ArchiveContents(t, path)
	if after["cover.jpg"] != before["cover.jpg"] {
		t.Fatal("jpeg should be untouched when its optimizer is missing")
	}
	if len(after["figure.png"]) >= len(before["figure.png"]) {
		t.Fatal("png should still be optimized")
	}
	if len(after["chapter1.xhtml"]) >= len(before["chapter1.xhtml"]) {
		t.Fatal("markup should still be optimized")
	}

	runs, err := store.Recent(context.Background(), 1)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != history.StatusPartial || !slices.Equal(runs[0].FailedClasses, []string{"jpeg"}) {
		t.Fatalf("unexpected history %+v", runs)
	}
	if runs[0].RunID != result.RunID {
		t.Fatalf("history run id %s does not match %s", runs[0].RunID, result.RunID)
	}
}

func TestRunSkipOptimizeRoundTrips(t *testing.T) {
	cfg := newConfig(t)
	bin := testsupport.BinDir(t, testsupport.BaseDir(cfg))
	cfg.Optimizers.MinifyBinary = testsupport.WriteStub(t, bin, "minify-broken", "exit 1\n")

	path := filepath.Join(t.TempDir(), "book.epub")
	testsupport.WriteArchive(t, path, testsupport.SampleBook()...)
	before := testsupport.ArchiveContents(t, path)

	result, err := pipeline.New(cfg, logging.NewNop(), pipeline.Options{SkipOptimize: true}).Run(context.Background(), path)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.OptimizeSkipped || len(result.Report.Classes) != 0 {
		t.Fatalf("expected no optimizer jobs, got %+v", result.Report)
	}
	after := testsupport.ArchiveContents(t, path)
	if len(after) != len(before) {
		t.Fatalf("entry set changed: %d -> %d", len(before), len(after))
	}
	for name, body := range before {
		if after[name] != body {
			t.Fatalf("entry %s changed during round trip", name)
		}
	}
}

func TestRunCancelledLeavesOriginal(t *testing.T) {
	cfg := newConfig(t)
	path := filepath.Join(t.TempDir(), "book.epub")
	testsupport.WriteArchive(t, path, testsupport.SampleBook()...)
	original, _ := os.ReadFile(path)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := pipeline.New(cfg, logging.NewNop(), pipeline.Options{}).Run(ctx, path)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if result.Replaced() {
		t.Fatal("cancelled run replaced the archive")
	}
	got, _ := os.ReadFile(path)
	if string(got) != string(original) {
		t.Fatal("cancelled run modified the original")
	}
	assertNoWorkspaces(t, cfg)
}

func TestRunRecordsFailures(t *testing.T) {
	cfg := newConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	path := filepath.Join(t.TempDir(), "junk.epub")
	if err := os.WriteFile(path, []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := pipeline.New(cfg, logging.NewNop(), pipeline.Options{}).WithRecorder(store).Run(context.Background(), path); err == nil {
		t.Fatal("expected failure")
	}
	runs, err := store.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != history.StatusFailed || runs[0].ErrorMessage == "" {
		t.Fatalf("unexpected history %+v", runs)
	}
}

func TestCanTransition(t *testing.T) {
	if !pipeline.CanTransition(pipeline.StateIdle, pipeline.StateWorkspaceAcquired) {
		t.Fatal("idle -> workspace_acquired should be legal")
	}
	if pipeline.CanTransition(pipeline.StateExtracted, pipeline.StateReplaced) {
		t.Fatal("extracted -> replaced must not be legal")
	}
	if pipeline.CanTransition(pipeline.StateReleased, pipeline.StateIdle) {
		t.Fatal("released is terminal")
	}
}

package epub

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"epubopt/internal/logging"
	"epubopt/internal/services"
)

// SkippedEntry records an archive entry that was not materialized.
type SkippedEntry struct {
	Name   string
	Reason string
}

// ExtractReport summarizes an extraction.
type ExtractReport struct {
	Files   int
	Dirs    int
	Bytes   int64
	Skipped []SkippedEntry
}

// Extract writes every safe entry of the archive at archivePath beneath dest.
// Entries whose names would resolve outside dest, and symlink entries, are
// skipped and reported rather than failing the run. Unreadable archives and
// entries that fail to decompress return an error wrapping services.ErrCorrupt.
func Extract(ctx context.Context, archivePath, dest string, logger *slog.Logger) (ExtractReport, error) {
	logger = logging.NewComponentLogger(logger, "extract")
	report := ExtractReport{}

	file, err := os.Open(archivePath)
	if err != nil {
		return report, services.Wrap(services.ErrResource, "extract", "open", archivePath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return report, services.Wrap(services.ErrResource, "extract", "stat", archivePath, err)
	}

	reader, err := zip.NewReader(file, info.Size())
	if err != nil {
		return report, services.Wrap(services.ErrCorrupt, "extract", "read central directory", archivePath, err)
	}

	root, err := filepath.Abs(dest)
	if err != nil {
		return report, services.Wrap(services.ErrResource, "extract", "resolve destination", dest, err)
	}

	seen := newTargetIndex(root)
	for _, entry := range reader.File {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		target, reason := resolveTarget(root, entry)
		if reason == "" {
			reason = seen.conflict(target, isDirEntry(entry))
		}
		if reason != "" {
			report.Skipped = append(report.Skipped, SkippedEntry{Name: entry.Name, Reason: reason})
			logging.WarnWithContext(logger, "skipped unsafe archive entry", "unsafe_entry_skipped",
				logging.String("entry", entry.Name),
				logging.String("reason", reason),
				logging.String(logging.FieldErrorHint, "inspect the archive for tampering"),
				logging.String(logging.FieldImpact, "entry omitted from the rewritten archive"),
			)
			continue
		}

		if isDirEntry(entry) {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return report, services.Wrap(services.ErrResource, "extract", "create directory", entry.Name, err)
			}
			seen.addDir(target)
			report.Dirs++
			continue
		}

		n, err := extractFile(entry, target)
		if err != nil {
			return report, err
		}
		seen.addFile(target)
		report.Files++
		report.Bytes += n
	}

	logger.Debug("archive extracted",
		logging.String("archive", archivePath),
		logging.Int("files", report.Files),
		logging.Int("dirs", report.Dirs),
		logging.Int("skipped", len(report.Skipped)),
	)
	return report, nil
}

// resolveTarget returns the on-disk destination for entry, or a non-empty
// reason when the entry must be skipped.
func resolveTarget(root string, entry *zip.File) (string, string) {
	if entry.Mode()&fs.ModeSymlink != 0 {
		return "", "symlink entries are not extracted"
	}
	rel, err := SanitizeName(entry.Name)
	if err != nil {
		return "", err.Error()
	}
	target := filepath.Join(root, filepath.FromSlash(rel))
	within, err := filepath.Rel(root, target)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) || filepath.IsAbs(within) {
		return "", fmt.Sprintf("%s: %q resolves outside the workspace", services.ErrUnsafePath, entry.Name)
	}
	return target, ""
}

// targetIndex records what extraction has already placed on disk so that
// entries colliding after sanitization are skipped instead of overwriting.
type targetIndex struct {
	root  string
	files map[string]bool
	dirs  map[string]bool
}

func newTargetIndex(root string) *targetIndex {
	return &targetIndex{root: root, files: map[string]bool{}, dirs: map[string]bool{}}
}

func (x *targetIndex) conflict(target string, dir bool) string {
	if x.files[target] {
		return "duplicate of an earlier file entry"
	}
	if !dir && x.dirs[target] {
		return "conflicts with an earlier directory"
	}
	for parent := filepath.Dir(target); parent != x.root && parent != filepath.Dir(parent); parent = filepath.Dir(parent) {
		if x.files[parent] {
			return "parent path is an earlier file entry"
		}
	}
	return ""
}

func (x *targetIndex) addFile(target string) {
	x.files[target] = true
	x.addParents(target)
}

func (x *targetIndex) addDir(target string) {
	x.dirs[target] = true
	x.addParents(target)
}

func (x *targetIndex) addParents(target string) {
	for parent := filepath.Dir(target); parent != x.root && parent != filepath.Dir(parent); parent = filepath.Dir(parent) {
		x.dirs[parent] = true
	}
}

func isDirEntry(entry *zip.File) bool {
	return strings.HasSuffix(entry.Name, "/") || strings.HasSuffix(entry.Name, `\`) || entry.FileInfo().IsDir()
}

func extractFile(entry *zip.File, target string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, services.Wrap(services.ErrResource, "extract", "create parent", entry.Name, err)
	}

	rc, err := entry.Open()
	if err != nil {
		return 0, services.Wrap(services.ErrCorrupt, "extract", "open entry", entry.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, services.Wrap(services.ErrResource, "extract", "create file", entry.Name, err)
	}
	defer out.Close()

	src := &trackingReader{r: rc}
	n, err := io.Copy(out, src)
	if err != nil {
		if src.err != nil {
			return n, services.Wrap(services.ErrCorrupt, "extract", "decompress entry", entry.Name, src.err)
		}
		return n, services.Wrap(services.ErrResource, "extract", "write file", entry.Name, err)
	}
	if err := out.Close(); err != nil {
		return n, services.Wrap(services.ErrResource, "extract", "close file", entry.Name, err)
	}
	return n, nil
}

// trackingReader remembers read-side failures so they can be told apart
// from write-side failures after io.Copy returns.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}

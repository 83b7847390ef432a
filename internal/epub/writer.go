package epub

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"epubopt/internal/fileutil"
	"epubopt/internal/services"
)

const (
	// MimetypeName is the EPUB entry that must come first and uncompressed.
	MimetypeName = "mimetype"

	// DefaultCompressionLevel is used when WriteOptions leaves the level unset.
	DefaultCompressionLevel = 9

	// 1980-01-01 00:00:00 in MS-DOS date/time encoding.
	dosEpochDate = 1<<5 | 1
	dosEpochTime = 0
)

// WriteOptions controls archive output.
type WriteOptions struct {
	CompressionLevel int
	// Verify re-reads the written archive and compares entry digests against
	// the source tree before the destination is replaced.
	Verify bool
}

func (o WriteOptions) level() int {
	if o.CompressionLevel < flate.BestSpeed || o.CompressionLevel > flate.BestCompression {
		return DefaultCompressionLevel
	}
	return o.CompressionLevel
}

type treeEntry struct {
	name string
	path string
	dir  bool
}

// collectTree lists the regular files and empty directories under root as
// sorted slash-separated names. Symlinks and special files are ignored.
func collectTree(root string) ([]treeEntry, error) {
	var entries []treeEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		switch {
		case d.IsDir():
			children, err := os.ReadDir(path)
			if err != nil {
				return err
			}
			if len(children) == 0 {
				entries = append(entries, treeEntry{name: name + "/", path: path, dir: true})
			}
		case d.Type().IsRegular():
			entries = append(entries, treeEntry{name: name, path: path})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(entries, func(a, b treeEntry) int {
		if a.name == MimetypeName {
			return -1
		}
		if b.name == MimetypeName {
			return 1
		}
		return strings.Compare(a.name, b.name)
	})
	return entries, nil
}

// Repack writes the tree under root to w as a zip archive. The output depends
// only on the tree's names and contents: entries are sorted, timestamps and
// modes are fixed, and a root-level mimetype file is stored first.
func Repack(ctx context.Context, root string, w io.Writer, opts WriteOptions) error {
	entries, err := collectTree(root)
	if err != nil {
		return fmt.Errorf("walk %s: %w", root, err)
	}

	level := opts.level()
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		var werr error
		switch {
		case entry.dir:
			werr = writeDirEntry(zw, entry)
		case entry.name == MimetypeName:
			werr = writeStoredEntry(zw, entry)
		default:
			werr = writeDeflatedEntry(zw, entry)
		}
		if werr != nil {
			return fmt.Errorf("write entry %s: %w", entry.name, werr)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

func newHeader(name string, method uint16, mode fs.FileMode) *zip.FileHeader {
	hdr := &zip.FileHeader{Name: name, Method: method}
	hdr.ModifiedDate = dosEpochDate //nolint:staticcheck // Modified would add a variable extra field
	hdr.ModifiedTime = dosEpochTime //nolint:staticcheck
	hdr.SetMode(mode)
	return hdr
}

func writeDirEntry(zw *zip.Writer, entry treeEntry) error {
	_, err := zw.CreateHeader(newHeader(entry.name, zip.Store, fs.ModeDir|0o755))
	return err
}

func writeDeflatedEntry(zw *zip.Writer, entry treeEntry) error {
	in, err := os.Open(entry.path)
	if err != nil {
		return err
	}
	defer in.Close()

	dst, err := zw.CreateHeader(newHeader(entry.name, zip.Deflate, 0o644))
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, in)
	return err
}

// writeStoredEntry writes an uncompressed entry with sizes and CRC in the
// local header and no data descriptor, as EPUB readers expect for mimetype.
func writeStoredEntry(zw *zip.Writer, entry treeEntry) error {
	data, err := os.ReadFile(entry.path)
	if err != nil {
		return err
	}
	hdr := newHeader(entry.name, zip.Store, 0o644)
	hdr.CRC32 = crc32.ChecksumIEEE(data)
	hdr.CompressedSize64 = uint64(len(data))
	hdr.UncompressedSize64 = uint64(len(data))
	dst, err := zw.CreateRaw(hdr)
	if err != nil {
		return err
	}
	_, err = dst.Write(data)
	return err
}

// PendingArchive is a fully written and verified replacement archive that
// has not yet been renamed over its destination.
type PendingArchive struct {
	tmpPath string
	dst     string
	size    int64
	done    bool
}

// Size returns the byte size of the replacement archive.
func (p *PendingArchive) Size() int64 {
	return p.size
}

// Prepare repacks root into a temporary sibling of dst. The destination is
// not touched; call Commit to replace it or Discard to drop the temp file.
// Errors wrap services.ErrWriteFailed and leave no temp file behind.
func Prepare(ctx context.Context, root, dst string, opts WriteOptions) (pending *PendingArchive, err error) {
	mode := fs.FileMode(0o644)
	if info, statErr := os.Stat(dst); statErr == nil {
		mode = info.Mode().Perm()
	}

	dir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".epubopt-*")
	if err != nil {
		return nil, services.Wrap(services.ErrWriteFailed, "repack", "create temp file", dir, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err = Repack(ctx, root, tmp, opts); err != nil {
		return nil, services.Wrap(services.ErrWriteFailed, "repack", "write archive", tmpPath, err)
	}
	if err = tmp.Sync(); err != nil {
		return nil, services.Wrap(services.ErrWriteFailed, "repack", "sync", tmpPath, err)
	}
	if err = tmp.Close(); err != nil {
		return nil, services.Wrap(services.ErrWriteFailed, "repack", "close", tmpPath, err)
	}
	if opts.Verify {
		if err = Verify(ctx, tmpPath, root); err != nil {
			return nil, services.Wrap(services.ErrWriteFailed, "repack", "verify", tmpPath, err)
		}
	}
	if err = os.Chmod(tmpPath, mode); err != nil {
		return nil, services.Wrap(services.ErrWriteFailed, "repack", "chmod", tmpPath, err)
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return nil, services.Wrap(services.ErrWriteFailed, "repack", "stat", tmpPath, err)
	}
	return &PendingArchive{tmpPath: tmpPath, dst: dst, size: info.Size()}, nil
}

// Commit renames the replacement over its destination. A cancelled context
// or failed rename discards the temp file and leaves the destination as it was.
func (p *PendingArchive) Commit(ctx context.Context) error {
	if p.done {
		return services.Wrap(services.ErrWriteFailed, "replace", "commit", p.dst, errors.New("archive already committed or discarded"))
	}
	if err := ctx.Err(); err != nil {
		p.Discard()
		return err
	}
	if err := renameFile(p.tmpPath, p.dst); err != nil {
		p.Discard()
		return services.Wrap(services.ErrWriteFailed, "replace", "rename", p.dst, err)
	}
	p.done = true
	_ = fileutil.SyncDir(filepath.Dir(p.dst))
	return nil
}

// Discard removes the temp file. It is a no-op after Commit.
func (p *PendingArchive) Discard() {
	if p == nil || p.done {
		return
	}
	p.done = true
	_ = os.Remove(p.tmpPath)
}

// WriteAtomic repacks root into a temporary sibling of dst and renames it
// over dst. On any failure dst is left untouched, the temporary file is
// removed, and the error wraps services.ErrWriteFailed unless the context
// was cancelled. It returns the size of the new archive.
func WriteAtomic(ctx context.Context, root, dst string, opts WriteOptions) (int64, error) {
	pending, err := Prepare(ctx, root, dst, opts)
	if err != nil {
		return 0, err
	}
	if err := pending.Commit(ctx); err != nil {
		return 0, err
	}
	return pending.Size(), nil
}

var renameFile = os.Rename

package epub

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/klauspost/compress/zip"

	"epubopt/internal/fileutil"
)

// Verify checks that the archive at archivePath holds exactly the files and
// empty directories under root, with matching BLAKE3 digests.
func Verify(ctx context.Context, archivePath, root string) error {
	expected, err := collectTree(root)
	if err != nil {
		return fmt.Errorf("walk %s: %w", root, err)
	}
	want := make(map[string]treeEntry, len(expected))
	for _, entry := range expected {
		want[entry.name] = entry
	}

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("reopen archive: %w", err)
	}
	defer reader.Close()

	for _, f := range reader.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, ok := want[f.Name]
		if !ok {
			return fmt.Errorf("unexpected entry %q", f.Name)
		}
		delete(want, f.Name)
		if entry.dir {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open entry %q: %w", f.Name, err)
		}
		got, n, err := fileutil.HashReader(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("read entry %q: %w", f.Name, err)
		}
		source, size, err := fileutil.HashFile(entry.path)
		if err != nil {
			return err
		}
		if n != size || got != source {
			return fmt.Errorf("entry %q does not match %s", f.Name, entry.path)
		}
	}

	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for name := range want {
			missing = append(missing, name)
		}
		slices.Sort(missing)
		return fmt.Errorf("archive is missing %d entr(ies): %s", len(missing), strings.Join(missing, ", "))
	}
	return nil
}

package testsupport

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
)

// Entry describes one member of a fixture archive.
type Entry struct {
	Name string
	Body string
	// Store writes the entry uncompressed.
	Store bool
	// Mode overrides the entry mode, e.g. fs.ModeSymlink.
	Mode fs.FileMode
}

// WriteArchive builds a zip archive at path containing entries in order.
func WriteArchive(t testing.TB, path string, entries ...Entry) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, entry := range entries {
		hdr := &zip.FileHeader{Name: entry.Name, Method: zip.Deflate}
		if entry.Store {
			hdr.Method = zip.Store
		}
		if entry.Mode != 0 {
			hdr.SetMode(entry.Mode)
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("create entry %s: %v", entry.Name, err)
		}
		if _, err := io.WriteString(w, entry.Body); err != nil {
			t.Fatalf("write entry %s: %v", entry.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}

// ArchiveEntry is one member read back from an archive.
type ArchiveEntry struct {
	Name   string
	Body   string
	Method uint16
}

// ReadArchive returns the members of the archive at path in stored order.
func ReadArchive(t testing.TB, path string) []ArchiveEntry {
	t.Helper()

	reader, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open archive %s: %v", path, err)
	}
	defer reader.Close()

	out := make([]ArchiveEntry, 0, len(reader.File))
	for _, f := range reader.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", f.Name, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read entry %s: %v", f.Name, err)
		}
		out = append(out, ArchiveEntry{Name: f.Name, Body: string(body), Method: f.Method})
	}
	return out
}

// ArchiveContents maps entry names to bodies.
func ArchiveContents(t testing.TB, path string) map[string]string {
	t.Helper()
	contents := map[string]string{}
	for _, entry := range ReadArchive(t, path) {
		contents[entry.Name] = entry.Body
	}
	return contents
}

// SampleBook returns the entries of a small but well-formed EPUB.
func SampleBook() []Entry {
	return []Entry{
		{Name: "mimetype", Body: "application/epub+zip", Store: true},
		{Name: "META-INF/container.xml", Body: `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`},
		{Name: "OEBPS/content.opf", Body: `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <manifest>
    <item id="c1"    href="chapter1.xhtml" media-type="application/xhtml+xml"/>
    <item id="cover" href="cover.jpg"      media-type="image/jpeg"/>
  </manifest>
</package>
`},
		{Name: "OEBPS/chapter1.xhtml", Body: `<html>
  <body>
    <p>   Call me Ishmael.   </p>
  </body>
</html>
`},
		{Name: "OEBPS/style.css", Body: "body {\n    margin: 0;\n}\n"},
		{Name: "OEBPS/cover.jpg", Body: "\xff\xd8\xff\xe0JFIF-padding-padding-padding\xff\xd9"},
		{Name: "OEBPS/images/"},
	}
}

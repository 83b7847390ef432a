package classify_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"epubopt/internal/classify"
)

func touch(t *testing.T, root, rel string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(rel), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestForPath(t *testing.T) {
	cases := map[string]classify.Class{
		"content.opf":      classify.Markup,
		"toc.NCX.xml":      classify.Markup,
		"figure.SVG":       classify.Markup,
		"chapter1.xhtml":   classify.HTML,
		"index.HTM":        classify.HTML,
		"page.html":        classify.HTML,
		"style.css":        classify.Stylesheet,
		"cover.JPG":        classify.JPEG,
		"photo.jpeg":       classify.JPEG,
		"diagram.png":      classify.PNG,
		"dir.png/file.css": classify.Stylesheet,
	}
	for path, want := range cases {
		got, ok := classify.ForPath(path)
		if !ok || got != want {
			t.Fatalf("ForPath(%q) = %q, %v; want %q", path, got, ok, want)
		}
	}
	for _, path := range []string{"mimetype", "font.otf", "toc.ncx", "image.gif", "noext", "archive.png.bak"} {
		if class, ok := classify.ForPath(path); ok {
			t.Fatalf("ForPath(%q) unexpectedly classified as %q", path, class)
		}
	}
}

func TestClassifyBucketsAreSortedAndDisjoint(t *testing.T) {
	root := t.TempDir()
	chapter2 := touch(t, root, "OEBPS/text/chapter2.xhtml")
	chapter1 := touch(t, root, "OEBPS/text/chapter1.xhtml")
	opf := touch(t, root, "OEBPS/content.opf")
	container := touch(t, root, "META-INF/container.xml")
	cover := touch(t, root, "OEBPS/images/cover.jpg")
	touch(t, root, "mimetype")
	touch(t, root, "OEBPS/fonts/serif.otf")

	buckets, err := classify.Classify(root)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if got := strings.Join(buckets[classify.HTML], ","); got != chapter1+","+chapter2 {
		t.Fatalf("unexpected html bucket: %v", buckets[classify.HTML])
	}
	if got := strings.Join(buckets[classify.Markup], ","); got != container+","+opf {
		t.Fatalf("unexpected markup bucket: %v", buckets[classify.Markup])
	}
	if len(buckets[classify.JPEG]) != 1 || buckets[classify.JPEG][0] != cover {
		t.Fatalf("unexpected jpeg bucket: %v", buckets[classify.JPEG])
	}
	if buckets.Total() != 5 {
		t.Fatalf("expected 5 classified files, got %d", buckets.Total())
	}

	ordered := buckets.Ordered()
	want := []classify.Class{classify.Markup, classify.HTML, classify.JPEG}
	if len(ordered) != len(want) {
		t.Fatalf("unexpected ordered classes: %v", ordered)
	}
	for i := range want {
		if ordered[i] != want[i] {
			t.Fatalf("unexpected ordered classes: %v", ordered)
		}
	}

	seen := map[string]classify.Class{}
	for class, paths := range buckets {
		for _, path := range paths {
			if prev, dup := seen[path]; dup {
				t.Fatalf("%s in both %s and %s", path, prev, class)
			}
			seen[path] = class
		}
	}
}

func TestClassifyIgnoresSymlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	target := touch(t, outside, "secret.css")
	if err := os.Symlink(target, filepath.Join(root, "linked.css")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "linkdir")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	buckets, err := classify.Classify(root)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if buckets.Total() != 0 {
		t.Fatalf("expected symlinks to be ignored, got %v", buckets)
	}
}

func TestClassifyEmptyTree(t *testing.T) {
	buckets, err := classify.Classify(t.TempDir())
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(buckets.Ordered()) != 0 {
		t.Fatalf("expected no buckets, got %v", buckets)
	}
}

func TestLabelsAndParse(t *testing.T) {
	if got := classify.Stylesheet.Label(); got != "Stylesheet" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := classify.JPEG.Label(); got != "Jpeg" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := strings.Join(classify.HTML.Extensions(), ","); got != "htm,html,xhtml" {
		t.Fatalf("unexpected extensions %q", got)
	}
	class, err := classify.Parse(" PNG ")
	if err != nil || class != classify.PNG {
		t.Fatalf("Parse returned %q, %v", class, err)
	}
	if _, err := classify.Parse("gif"); err == nil {
		t.Fatal("expected error for unknown class")
	}
}

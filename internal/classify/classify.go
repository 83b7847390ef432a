// Package classify partitions an extracted archive tree into buckets of files
// that share an optimizer.
package classify

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Class names a family of resources handled by one optimizer.
type Class string

const (
	Markup     Class = "markup"
	HTML       Class = "html"
	Stylesheet Class = "stylesheet"
	JPEG       Class = "jpeg"
	PNG        Class = "png"
)

// Classes lists every class in dispatch and reporting order.
var Classes = []Class{Markup, HTML, Stylesheet, JPEG, PNG}

var extensionTable = map[string]Class{
	"xml":   Markup,
	"opf":   Markup,
	"svg":   Markup,
	"html":  HTML,
	"htm":   HTML,
	"xhtml": HTML,
	"css":   Stylesheet,
	"jpg":   JPEG,
	"jpeg":  JPEG,
	"png":   PNG,
}

// ForPath returns the class of path by lowercased extension.
func ForPath(path string) (Class, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	class, ok := extensionTable[ext]
	return class, ok
}

// Parse converts a class name into a Class.
func Parse(name string) (Class, error) {
	candidate := Class(strings.ToLower(strings.TrimSpace(name)))
	if slices.Contains(Classes, candidate) {
		return candidate, nil
	}
	return "", fmt.Errorf("unknown resource class %q", name)
}

// Label returns a display name such as "Stylesheet".
func (c Class) Label() string {
	return cases.Title(language.English).String(string(c))
}

// Extensions returns the sorted extensions mapped to c.
func (c Class) Extensions() []string {
	var exts []string
	for ext, class := range extensionTable {
		if class == c {
			exts = append(exts, ext)
		}
	}
	slices.Sort(exts)
	return exts
}

// Buckets maps each class to the absolute paths of its files in
// lexicographic order. Classes with no files are absent.
type Buckets map[Class][]string

// Ordered returns the non-empty classes in dispatch order.
func (b Buckets) Ordered() []Class {
	out := make([]Class, 0, len(b))
	for _, class := range Classes {
		if len(b[class]) > 0 {
			out = append(out, class)
		}
	}
	return out
}

// Total returns the number of classified files.
func (b Buckets) Total() int {
	n := 0
	for _, paths := range b {
		n += len(paths)
	}
	return n
}

// Classify walks root and buckets every regular file with a known extension.
// Symlinks are neither followed nor classified, and files with other
// extensions are ignored.
func Classify(root string) (Buckets, error) {
	buckets := Buckets{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if class, ok := ForPath(path); ok {
			buckets[class] = append(buckets[class], path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("classify %s: %w", root, err)
	}
	for class := range buckets {
		slices.Sort(buckets[class])
	}
	return buckets, nil
}

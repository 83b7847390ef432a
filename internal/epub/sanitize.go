package epub

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"epubopt/internal/services"
)

var errEmptyName = errors.New("empty entry name")

// SanitizeName maps a zip entry name onto a relative slash-separated path.
// Backslashes are treated as separators and absolute prefixes (leading
// slashes, drive letters) are dropped. Names containing a parent reference
// are rejected with an error wrapping services.ErrUnsafePath.
func SanitizeName(name string) (string, error) {
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: entry name contains NUL", services.ErrUnsafePath)
	}
	cleaned := strings.ReplaceAll(name, `\`, "/")
	if len(cleaned) >= 2 && cleaned[1] == ':' && isASCIILetter(cleaned[0]) {
		cleaned = cleaned[2:]
	}

	segments := make([]string, 0, strings.Count(cleaned, "/")+1)
	for _, segment := range strings.Split(cleaned, "/") {
		switch segment {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: %q escapes the extraction root", services.ErrUnsafePath, name)
		}
		segments = append(segments, segment)
	}
	if len(segments) == 0 {
		return "", fmt.Errorf("%w: %w", services.ErrUnsafePath, errEmptyName)
	}
	return path.Join(segments...), nil
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

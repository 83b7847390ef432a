package optimize

import (
	"path/filepath"
	"strconv"
	"strings"

	"epubopt/internal/classify"
	"epubopt/internal/config"
)

// pngquant exit statuses for "output would be larger" and "quality too low";
// both leave the input untouched.
const (
	pngquantSkippedLarger = 98
	pngquantQualityTooLow = 99
)

// Tool binds a resource class to the optimizer binary that shrinks it.
type Tool struct {
	Class  classify.Class
	Binary string
	plan   func(binary string, batch []string) []Invocation
}

// Plan returns the invocations that optimize batch in place.
func (t Tool) Plan(batch []string) []Invocation {
	if len(batch) == 0 {
		return nil
	}
	return t.plan(t.Binary, batch)
}

// ToolsFromConfig returns the optimizer for every class.
func ToolsFromConfig(cfg *config.Config) map[classify.Class]Tool {
	opts := cfg.Optimizers
	jpegArgs := []string{"--strip-all", "--max=" + strconv.Itoa(opts.JPEGMaxQuality), "--quiet"}
	pngArgs := []string{"--skip-if-larger", "--force", "--ext", ".png", "--quality=" + opts.PNGQuality}

	tools := map[classify.Class]Tool{
		classify.JPEG: {
			Class:  classify.JPEG,
			Binary: opts.JpegoptimBinary,
			plan: func(binary string, batch []string) []Invocation {
				return []Invocation{{Name: binary, Args: concat(jpegArgs, batch)}}
			},
		},
		classify.PNG: {
			Class:  classify.PNG,
			Binary: opts.PngquantBinary,
			plan: func(binary string, batch []string) []Invocation {
				return []Invocation{{
					Name:        binary,
					Args:        concat(pngArgs, batch),
					OKExitCodes: []int{pngquantSkippedLarger, pngquantQualityTooLow},
				}}
			},
		},
	}
	for _, class := range []classify.Class{classify.Markup, classify.HTML, classify.Stylesheet} {
		tools[class] = Tool{Class: class, Binary: opts.MinifyBinary, plan: planMinify}
	}
	return tools
}

// planMinify groups a batch by minifier type so each process gets a single
// --type. XHTML must stay well-formed, so it goes through the XML minifier.
func planMinify(binary string, batch []string) []Invocation {
	var order []string
	groups := map[string][]string{}
	for _, path := range batch {
		mime := minifyType(path)
		if _, ok := groups[mime]; !ok {
			order = append(order, mime)
		}
		groups[mime] = append(groups[mime], path)
	}

	invs := make([]Invocation, 0, len(order))
	for _, mime := range order {
		args := []string{"--type=" + mime, "--inplace"}
		if mime == "text/html" {
			args = append(args, "--html-keep-document-tags", "--html-keep-end-tags", "--html-keep-quotes")
		}
		invs = append(invs, Invocation{Name: binary, Args: concat(args, groups[mime])})
	}
	return invs
}

func minifyType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		return "image/svg+xml"
	case ".css":
		return "text/css"
	case ".html", ".htm":
		return "text/html"
	default:
		return "text/xml"
	}
}

func concat(head, tail []string) []string {
	out := make([]string, 0, len(head)+len(tail))
	out = append(out, head...)
	return append(out, tail...)
}

func chunk(paths []string, size int) [][]string {
	if size <= 0 {
		size = len(paths)
	}
	var batches [][]string
	for start := 0; start < len(paths); start += size {
		end := min(start+size, len(paths))
		batches = append(batches, paths[start:end])
	}
	return batches
}

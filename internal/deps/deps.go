package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"epubopt/internal/config"
)

// Requirement defines an external optimizer epubopt relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	// Classes lists the resource classes that fail when the command is missing.
	Classes  []string
	Optional bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Classes     []string
	Optional    bool
	Available   bool
	// Path is the resolved executable when Available is true.
	Path   string
	Detail string
}

// OptimizerRequirements returns the external binaries configured in cfg. Every
// optimizer is optional: a missing binary only fails the classes it serves.
func OptimizerRequirements(cfg *config.Config) []Requirement {
	opts := config.Default().Optimizers
	if cfg != nil {
		opts = cfg.Optimizers
	}
	return []Requirement{
		{
			Name:        "minify",
			Command:     opts.MinifyBinary,
			Description: "Minifies XML, XHTML, SVG, and CSS resources",
			Classes:     []string{"markup", "html", "stylesheet"},
			Optional:    true,
		},
		{
			Name:        "jpegoptim",
			Command:     opts.JpegoptimBinary,
			Description: "Strips metadata and recompresses JPEG images",
			Classes:     []string{"jpeg"},
			Optional:    true,
		},
		{
			Name:        "pngquant",
			Command:     opts.PngquantBinary,
			Description: "Quantizes PNG images",
			Classes:     []string{"png"},
			Optional:    true,
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Classes:     req.Classes,
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = path
		results = append(results, status)
	}
	return results
}

// Check evaluates a single command.
func Check(name, command string) Status {
	return CheckBinaries([]Requirement{{Name: name, Command: command}})[0]
}

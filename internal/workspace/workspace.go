package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"epubopt/internal/logging"
	"epubopt/internal/services"
)

const (
	// Prefix marks directories owned by epubopt under the temp root.
	Prefix = "epubopt-"

	contentDir  = "content"
	scratchDir  = "scratch"
	maxAttempts = 8
)

// Manager creates exclusively owned workspaces beneath a temp root.
type Manager struct {
	root   string
	logger *slog.Logger
	// newName returns the random suffix for a workspace directory.
	newName func() string
}

// Workspace is a directory tree owned by a single pipeline run.
type Workspace struct {
	dir    string
	logger *slog.Logger

	once       sync.Once
	releaseErr error
}

// NewManager returns a manager rooted at root. An empty root uses the system
// temp directory.
func NewManager(root string, logger *slog.Logger) *Manager {
	root = strings.TrimSpace(root)
	if root == "" {
		root = os.TempDir()
	}
	return &Manager{
		root:    filepath.Clean(root),
		logger:  logging.NewComponentLogger(logger, "workspace"),
		newName: uuid.NewString,
	}
}

// Root returns the directory new workspaces are created in.
func (m *Manager) Root() string {
	return m.root
}

// Acquire creates a fresh workspace with content and scratch subdirectories.
// Directory creation is atomic: a name collision is retried with a new name
// and never reuses an existing directory.
func (m *Manager) Acquire(ctx context.Context) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkWritable(m.root); err != nil {
		return nil, services.Wrap(services.ErrResource, "workspace", "acquire", "temp root unusable", err)
	}

	var dir string
	for attempt := 1; ; attempt++ {
		candidate := filepath.Join(m.root, Prefix+m.newName())
		err := os.Mkdir(candidate, 0o700)
		if err == nil {
			dir = candidate
			break
		}
		if !errors.Is(err, fs.ErrExist) || attempt >= maxAttempts {
			return nil, services.Wrap(services.ErrResource, "workspace", "acquire",
				fmt.Sprintf("create workspace after %d attempt(s)", attempt), err)
		}
		m.logger.Debug("workspace name collision, retrying",
			logging.String("path", candidate),
			logging.Int("attempt", attempt),
		)
	}

	for _, sub := range []string{contentDir, scratchDir} {
		if err := os.Mkdir(filepath.Join(dir, sub), 0o700); err != nil {
			_ = os.RemoveAll(dir)
			return nil, services.Wrap(services.ErrResource, "workspace", "acquire", "create "+sub, err)
		}
	}

	m.logger.Debug("workspace acquired", logging.String("path", dir))
	return &Workspace{dir: dir, logger: m.logger}, nil
}

// Dir returns the workspace root.
func (w *Workspace) Dir() string {
	return w.dir
}

// ContentDir returns the directory holding the extracted archive tree.
func (w *Workspace) ContentDir() string {
	return filepath.Join(w.dir, contentDir)
}

// ScratchDir returns the directory for transient files that are never repacked.
func (w *Workspace) ScratchDir() string {
	return filepath.Join(w.dir, scratchDir)
}

// Release removes the workspace and everything in it. Only the first call
// does any work, so callers can both defer Release and call it explicitly.
func (w *Workspace) Release() error {
	if w == nil {
		return nil
	}
	w.once.Do(func() {
		if err := os.RemoveAll(w.dir); err != nil {
			w.releaseErr = services.Wrap(services.ErrResource, "workspace", "release", w.dir, err)
			logging.WarnWithContext(w.logger, "failed to remove workspace", "workspace_release_failed",
				logging.String("path", w.dir),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove the directory manually or run `epubopt clean`"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			return
		}
		w.logger.Debug("workspace released", logging.String("path", w.dir))
	})
	return w.releaseErr
}

func checkWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	return nil
}

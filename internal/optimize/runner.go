package optimize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"slices"
	"strings"
	"syscall"
	"time"

	"epubopt/internal/services"
)

const (
	// maxStderrBytes caps the amount of stderr captured from an optimizer.
	maxStderrBytes = 64 * 1024
	// minKillGrace is used when the configured grace is not positive. A zero
	// WaitDelay would never escalate to SIGKILL.
	minKillGrace = time.Second
)

// Invocation is one external optimizer process.
type Invocation struct {
	Name string
	Args []string
	// OKExitCodes lists non-zero exit statuses that still mean success.
	OKExitCodes []int
}

func (inv Invocation) String() string {
	return strings.TrimSpace(inv.Name + " " + strings.Join(inv.Args, " "))
}

// Runner executes an invocation and must return once ctx is done.
type Runner func(ctx context.Context, inv Invocation) error

// ExecRunner returns a Runner that spawns real processes. When ctx expires
// the process receives SIGTERM and, if it is still running after grace,
// SIGKILL.
func ExecRunner(grace time.Duration) Runner {
	if grace <= 0 {
		grace = minKillGrace
	}
	return func(ctx context.Context, inv Invocation) error {
		cmd := exec.CommandContext(ctx, inv.Name, inv.Args...) //nolint:gosec
		cmd.Cancel = func() error {
			return cmd.Process.Signal(syscall.SIGTERM)
		}
		cmd.WaitDelay = grace

		stderr := &cappedBuffer{limit: maxStderrBytes}
		cmd.Stdout = io.Discard
		cmd.Stderr = stderr

		err := cmd.Run()
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s: killed after deadline", services.ErrTimeout, inv.Name)
			}
			return ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && slices.Contains(inv.OKExitCodes, exitErr.ExitCode()) {
			return nil
		}
		return fmt.Errorf("%w: %s: %w: %s", services.ErrExternalTool, inv.String(), err, strings.TrimSpace(stderr.String()))
	}
}

// cappedBuffer keeps the first limit bytes written and discards the rest.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	return c.buf.String()
}

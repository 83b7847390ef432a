package testsupport

import (
	"context"
	"testing"

	"epubopt/internal/config"
	"epubopt/internal/history"
)

// MustOpenHistory opens the run ledger configured in cfg and closes it when
// the test finishes.
func MustOpenHistory(t testing.TB, cfg *config.Config) *history.Store {
	t.Helper()

	store, err := history.Open(context.Background(), cfg.History.Path)
	if err != nil {
		t.Fatalf("history.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

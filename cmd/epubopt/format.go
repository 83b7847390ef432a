package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

func formatBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

func formatDelta(saved int64) string {
	if saved < 0 {
		return "+" + humanize.IBytes(uint64(-saved))
	}
	return formatBytes(saved)
}

func percentOf(part, whole int64) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) * 100 / float64(whole)
}

// formatSavings renders "<label>: saved X (Y%)", or "grew" when the archive
// got larger.
func formatSavings(label string, saved, original int64) string {
	if saved < 0 {
		return fmt.Sprintf("%s: grew %s (%.1f%%)", label, humanize.IBytes(uint64(-saved)), percentOf(-saved, original))
	}
	return fmt.Sprintf("%s: saved %s (%.1f%%)", label, humanize.IBytes(uint64(saved)), percentOf(saved, original))
}

// Package id provides unique identifier generation for export jobs.
package id

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// Generate creates a new unique, time-sortable export ID.
// Format: export-<ulid>
// Example: export-01hv5k3x9q8z7y6w5v4t3s2r1p
func Generate() string {
	return "export-" + strings.ToLower(ulid.Make().String())
}

// Valid reports whether s looks like an ID produced by Generate.
func Valid(s string) bool {
	raw, ok := strings.CutPrefix(s, "export-")
	if !ok {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(raw))
	return err == nil
}

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	forerrors "github.com/bwl/forest/internal/errors"
)

// parsePoint turns a flag value into a point in time. Accepts a
// duration ("24h" means that long ago), a date ("2026-08-24"), or an
// RFC3339 timestamp. Empty input is the zero time.
func parsePoint(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().Add(-d), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, forerrors.Validation("cannot parse time %q: want a duration, 2006-01-02, or RFC3339", s)
}

// readStdin slurps stdin for "-" body flags and piped captures.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

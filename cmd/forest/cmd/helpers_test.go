package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	forerrors "github.com/bwl/forest/internal/errors"
)

func TestParsePoint_Duration(t *testing.T) {
	// Given: a duration flag value
	// When: parsing it
	at, err := parsePoint("24h")

	// Then: it should mean that long ago
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), at, time.Minute)
}

func TestParsePoint_Date(t *testing.T) {
	at, err := parsePoint("2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), at)
}

func TestParsePoint_RFC3339(t *testing.T) {
	at, err := parsePoint("2026-03-01T12:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 12, at.Hour())
}

func TestParsePoint_Empty(t *testing.T) {
	at, err := parsePoint("")
	require.NoError(t, err)
	assert.True(t, at.IsZero())
}

func TestParsePoint_Garbage(t *testing.T) {
	_, err := parsePoint("not a time")
	assert.True(t, forerrors.IsKind(err, forerrors.KindValidationFailed))
}

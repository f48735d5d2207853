package cmd

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv points every command at a temp data directory with the static
// embedder, and returns the config path to pass via --config.
func testEnv(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("FOREST_DATA_DIR", filepath.Join(tmp, "data"))
	t.Setenv("FOREST_EMBEDDER", "static")
	t.Setenv("FOREST_EMBED_DIMENSIONS", "32")
	return filepath.Join(tmp, "config.yaml")
}

// runForest executes one CLI invocation, capturing everything written
// to stdout. The renderer writes to the real stdout, so the test swaps
// it for a pipe.
func runForest(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()

	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	cmd := NewRootCmd()
	cmd.SetOut(w)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	execErr := cmd.Execute()

	_ = w.Close()
	os.Stdout = old
	out, readErr := io.ReadAll(r)
	require.NoError(t, readErr)
	return string(out), execErr
}

func TestInitCmd_WritesConfigAndStore(t *testing.T) {
	// Given: a clean environment
	cfgPath := testEnv(t)

	// When: running init
	out, err := runForest(t, cfgPath, "init")

	// Then: the config file and database exist
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")
	assert.Contains(t, out, "initialized")
	assert.FileExists(t, cfgPath)
	assert.FileExists(t, filepath.Join(os.Getenv("FOREST_DATA_DIR"), "forest.db"))
}

func TestCaptureAndSearch_EndToEnd(t *testing.T) {
	// Given: two captured notes sharing vocabulary
	cfgPath := testEnv(t)
	_, err := runForest(t, cfgPath, "capture", "Salmon runs", "-b", "Salmon swim upstream in autumn rivers", "-t", "fish")
	require.NoError(t, err)
	_, err = runForest(t, cfgPath, "capture", "River temperature", "-b", "Cold rivers in autumn slow the salmon", "-t", "fish")
	require.NoError(t, err)

	// When: listing and searching
	listOut, err := runForest(t, cfgPath, "--json", "list")
	require.NoError(t, err)
	searchOut, err := runForest(t, cfgPath, "search", "salmon", "autumn", "rivers")
	require.NoError(t, err)

	// Then: both notes are stored and the search ranks them
	assert.Contains(t, listOut, `"total": 2`)
	assert.Contains(t, listOut, "Salmon runs")
	assert.Contains(t, searchOut, "Salmon runs")
	assert.Contains(t, searchOut, "River temperature")
}

func TestListCmd_TagFilter(t *testing.T) {
	// Given: notes with distinct tags
	cfgPath := testEnv(t)
	_, err := runForest(t, cfgPath, "capture", "Tagged", "-b", "body one", "-t", "keep")
	require.NoError(t, err)
	_, err = runForest(t, cfgPath, "capture", "Untagged", "-b", "body two")
	require.NoError(t, err)

	// When: filtering by tag
	out, err := runForest(t, cfgPath, "--json", "list", "-t", "keep")

	// Then: only the tagged note is listed
	require.NoError(t, err)
	assert.Contains(t, out, "Tagged")
	assert.NotContains(t, out, "Untagged")
}

func TestDocImportAndVerify_EndToEnd(t *testing.T) {
	// Given: a markdown file with two sections
	cfgPath := testEnv(t)
	path := filepath.Join(t.TempDir(), "salmon.md")
	body := "# Rivers\nSpawning grounds upstream.\n\n# Ocean\nFeeding grounds offshore."
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	// When: importing and verifying
	importOut, err := runForest(t, cfgPath, "doc", "import", path)
	require.NoError(t, err)
	verifyOut, err := runForest(t, cfgPath, "doc", "verify", "--all")
	require.NoError(t, err)

	// Then: the document imports as two chunks and passes verification
	assert.Contains(t, importOut, "2 chunks")
	assert.Contains(t, verifyOut, "ok")
}

func TestSnapshotAndDiff_EndToEnd(t *testing.T) {
	// Given: a snapshot followed by a new capture
	cfgPath := testEnv(t)
	_, err := runForest(t, cfgPath, "capture", "Before", "-b", "already here")
	require.NoError(t, err)
	snapOut, err := runForest(t, cfgPath, "snapshot", "create")
	require.NoError(t, err)
	_, err = runForest(t, cfgPath, "capture", "After", "-b", "new since the snapshot")
	require.NoError(t, err)

	// When: diffing against now-ish (the snapshot predates it)
	diffOut, err := runForest(t, cfgPath, "diff", "--since", "1ms")

	// Then: the new note shows up as added
	require.NoError(t, err)
	assert.Contains(t, snapOut, "snapshot")
	assert.Contains(t, diffOut, "After")
}

func TestStatusCmd_ReportsCounts(t *testing.T) {
	// Given: one captured note
	cfgPath := testEnv(t)
	_, err := runForest(t, cfgPath, "capture", "Only note", "-b", "solitary")
	require.NoError(t, err)

	// When: asking for status
	out, err := runForest(t, cfgPath, "--json", "status")

	// Then: the counts and pinned model are reported
	require.NoError(t, err)
	assert.Contains(t, out, `"NoteCount": 1`)
	assert.Contains(t, out, "static-hash-32")
}

func TestSearchCmd_RequiresQuery(t *testing.T) {
	cfgPath := testEnv(t)
	_, err := runForest(t, cfgPath, "search")
	assert.Error(t, err)
}

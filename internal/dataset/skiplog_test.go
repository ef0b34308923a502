package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSkipLogMissing(t *testing.T) {
	ids, err := ReadSkipLog(filepath.Join(t.TempDir(), "skipped.txt"))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestAppendSkip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speaker", "skipped.txt")

	require.NoError(t, AppendSkip(path, "3"))
	require.NoError(t, AppendSkip(path, "b"))

	ids, err := ReadSkipLog(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "b"}, ids)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "3\nb\n", string(raw))
}

func TestAppendSkipTerminatesTornLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skipped.txt")
	require.NoError(t, os.WriteFile(path, []byte("1\n2"), 0644))

	require.NoError(t, AppendSkip(path, "3"))

	ids, err := ReadSkipLog(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids)
}

func TestReadSkipLogIgnoresEmptyLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skipped.txt")
	require.NoError(t, os.WriteFile(path, []byte("1\r\n\n 2 \n"), 0644))

	ids, err := ReadSkipLog(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", " 2 "}, ids)
}

func TestAppendSkipKeepsWhitespaceIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skipped.txt")
	require.NoError(t, AppendSkip(path, " A"))
	require.NoError(t, AppendSkip(path, "B "))

	ids, err := ReadSkipLog(path)
	require.NoError(t, err)
	assert.Equal(t, []string{" A", "B "}, ids)
}

func TestAppendSkipRejectsLineBreaks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skipped.txt")
	assert.Error(t, AppendSkip(path, "B\nC"))
	assert.Error(t, AppendSkip(path, "B\r"))
	assert.Error(t, AppendSkip(path, ""))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

package dataset

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadInputFiltersByDialect(t *testing.T) {
	path := writeFile(t, t.TempDir(), "input.json",
		`[{"id": 1, "de": "x", "ch_zh": "y"}, {"id": 2, "de": "x"}]`)

	entries, err := ReadInput(path, "zh")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1", entries[0].ID)
	assert.Equal(t, "x", entries[0].SourceText)
	assert.Equal(t, "y", entries[0].TargetText)
	assert.Equal(t, "ZH", entries[0].Dialect)
}

func TestReadInputValidatesOnlyFilteredEntries(t *testing.T) {
	// Entry 2 lacks "de" but is not part of the BE subset.
	path := writeFile(t, t.TempDir(), "input.json",
		`[{"id": "a", "de": "Hallo", "ch_be": "Grüessech"}, {"id": "b", "ch_zh": "Grüezi"}]`)

	entries, err := ReadInput(path, "BE")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].ID)

	_, err = ReadInput(path, "ZH")
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, fe.Index)
}

func TestReadInputPrefersAgnosticTarget(t *testing.T) {
	path := writeFile(t, t.TempDir(), "input.json",
		`[{"id": 7, "de": "Haus", "ch": "Huus", "ch_zh": "Hus"}]`)

	entries, err := ReadInput(path, "ZH")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Huus", entries[0].TargetText)
}

func TestReadInputKeepsNumericIDText(t *testing.T) {
	path := writeFile(t, t.TempDir(), "input.json",
		`[{"id": 12345678901234567890, "de": "x", "ch_ag": "y"}]`)

	entries, err := ReadInput(path, "AG")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "12345678901234567890", entries[0].ID)
}

func TestReadRejectsBadShapes(t *testing.T) {
	tests := []struct {
		name    string
		content string
		index   int
	}{
		{"malformed", `[{"id": 1,`, -1},
		{"not a list", `{"id": 1, "de": "x"}`, -1},
		{"item not object", `["x"]`, 0},
		{"missing id", `[{"de": "x"}]`, 0},
		{"missing source", `[{"id": 1}]`, 0},
		{"bool id", `[{"id": true, "de": "x"}]`, 0},
		{"source not string", `[{"id": 1, "de": 3}]`, 0},
		{"id with newline", `[{"id": "B\nC", "de": "x"}]`, 0},
		{"id with carriage return", `[{"id": "B\r", "de": "x"}]`, 0},
		{"trailing data", `[{"id": 1, "de": "x"}] ]{garbage`, -1},
		{"second value", `[] []`, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "input.json", tt.content)
			_, err := ReadInput(path, "")
			var fe *FormatError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.index, fe.Index)
			assert.Equal(t, path, fe.Path)
		})
	}
}

func TestReadKeepsSurroundingWhitespaceInIDs(t *testing.T) {
	path := writeFile(t, t.TempDir(), "input.json", "[{\"id\": \" A \", \"de\": \"x\"}]\n\n")

	entries, err := ReadInput(path, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, " A ", entries[0].ID)
}

func TestReadMissingFile(t *testing.T) {
	_, err := ReadOutput(filepath.Join(t.TempDir(), "nope.json"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestWriteAndReadOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speaker", "output.json")
	d := 1.25
	entries := []Entry{
		{ID: "1", SourceText: "Guten Morgen <3", TargetText: "Guete Morge", Dialect: "ZH", AudioRef: "1.wav", DurationS: &d},
		{ID: "2", SourceText: "Tschüss"},
	}

	require.NoError(t, Write(path, entries))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<3", "HTML characters must not be escaped")

	got, err := ReadOutput(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, entries[0].ID, got[0].ID)
	assert.Equal(t, "Guete Morge", got[0].TargetText)
	assert.Equal(t, "ZH", got[0].Dialect)
	assert.Equal(t, "1.wav", got[0].AudioRef)
	assert.InDelta(t, 1.25, got[0].Duration(), 1e-9)
	assert.Nil(t, got[1].DurationS)
	assert.Zero(t, got[1].Duration())
}

func TestWriteEmptyIsList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.json")
	require.NoError(t, Write(path, nil))

	got, err := ReadOutput(path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output.json")
	require.NoError(t, Write(path, []Entry{{ID: "1", SourceText: "x"}}))
	require.NoError(t, Write(path, []Entry{{ID: "2", SourceText: "y"}}))

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "output.json", files[0].Name())
}

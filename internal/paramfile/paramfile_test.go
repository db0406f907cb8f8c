package paramfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/seqrun/internal/workflow"
)

const sampleInput = "title line\n" +
	"64 64 20 ! nx ny nz\n" +
	"0.1 0.2\n" +
	"5000 1000 1000 0   ! kstep kprint kbackup kstart\n" +
	"last"

func writeInput(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inputN.in")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return path
}

func TestApplyPreservesCommentsAndOtherLines(t *testing.T) {
	path := writeInput(t, sampleInput)
	err := Apply(path, []workflow.ParamEdit{
		{Line: 4, Content: "2000 1000 1000 5000"},
		{Line: 3, Content: "0.5 0.6"},
	})
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	want := "title line\n" +
		"64 64 20 ! nx ny nz\n" +
		"0.5 0.6\n" +
		"2000 1000 1000 5000 ! kstep kprint kbackup kstart\n" +
		"last"
	assert.Equal(t, want, string(got))

	lines, err := Lines(path)
	require.NoError(t, err)
	assert.Len(t, lines, 5)
	assert.Equal(t, "0.5 0.6", lines[2])
}

func TestApplySplitsAtFirstCommentMarker(t *testing.T) {
	path := writeInput(t, "1 2 3 ! first ! second\n")
	require.NoError(t, Apply(path, []workflow.ParamEdit{{Line: 1, Content: "4 5 6"}}))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "4 5 6 ! first ! second\n", string(got))
}

func TestApplyTerminatesLastLine(t *testing.T) {
	path := writeInput(t, sampleInput)
	require.NoError(t, Apply(path, []workflow.ParamEdit{{Line: 5, Content: "end"}}))
	lines, err := Lines(path)
	require.NoError(t, err)
	assert.Equal(t, "end", lines[4])
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), got[len(got)-1])
}

func TestApplyKeepsCRLF(t *testing.T) {
	path := writeInput(t, "a\r\nb\r\n")
	require.NoError(t, Apply(path, []workflow.ParamEdit{{Line: 1, Content: "z"}}))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "z\r\nb\r\n", string(got))
}

func TestApplyOutOfRangeLeavesFileUntouched(t *testing.T) {
	path := writeInput(t, sampleInput)
	err := Apply(path, []workflow.ParamEdit{
		{Line: 1, Content: "changed"},
		{Line: 99, Content: "nope"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLineOutOfRange), "err = %v", err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleInput, string(got))
}

func TestApplyRejectsMultiLineContent(t *testing.T) {
	path := writeInput(t, sampleInput)
	err := Apply(path, []workflow.ParamEdit{{Line: 4, Content: "5000 1000 1000 0\n"}})
	require.Error(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleInput, string(got))
}

func TestApplyPreservesMode(t *testing.T) {
	path := writeInput(t, sampleInput)
	require.NoError(t, Apply(path, []workflow.ParamEdit{{Line: 1, Content: "x"}}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestApplyMissingFile(t *testing.T) {
	err := Apply(filepath.Join(t.TempDir(), "missing.in"), []workflow.ParamEdit{{Line: 1, Content: "x"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

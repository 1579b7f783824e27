package selfupdate_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattigo-labs/upstage/selfupdate"
)

func TestCurrentExecutableResolvesAbsolutePath(t *testing.T) {
	path, err := selfupdate.CurrentExecutable()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
}

func TestMakeExecutableSetsOwnerExecBit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "staged-binary")
	require.NoError(t, os.WriteFile(path, []byte("binary content"), 0o600))

	require.NoError(t, selfupdate.MakeExecutable(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o100, "owner-execute bit should be set")
}

func TestReplaceAtomicallySwapsFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app")
	staging := filepath.Join(dir, "app.staged")
	require.NoError(t, os.WriteFile(target, []byte("old version"), 0o755))
	require.NoError(t, os.WriteFile(staging, []byte("new version"), 0o755))

	require.NoError(t, selfupdate.Replace(staging, target))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, []byte("new version"), got)
	_, err = os.Stat(staging)
	assert.True(t, os.IsNotExist(err))
}

func TestReplaceLeavesTargetUnchangedOnFailure(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app")
	require.NoError(t, os.WriteFile(target, []byte("old version"), 0o755))

	missingStaging := filepath.Join(dir, "does-not-exist")
	err := selfupdate.Replace(missingStaging, target)
	require.Error(t, err)

	got, readErr := os.ReadFile(target)
	require.NoError(t, readErr)
	assert.Equal(t, []byte("old version"), got, "target must be untouched on a failed rename")
}

func TestReexecReturnsErrorForUnexecutablePath(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "nowhere")
	err := selfupdate.Reexec(missing, []string{missing}, os.Environ())
	assert.Error(t, err)
}

package subvol

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsSubvolumeFalseForPlainDirectory(t *testing.T) {
	dir := t.TempDir()
	require.False(t, IsSubvolume(dir), "a plain tmp directory is never inode 256")
}

func TestIsSubvolumeFalseForMissingPath(t *testing.T) {
	require.False(t, IsSubvolume(filepath.Join(t.TempDir(), "does-not-exist")))
}

func TestDeleteMissingPathIsNoop(t *testing.T) {
	err := Delete(context.Background(), filepath.Join(t.TempDir(), "gone"))
	require.NoError(t, err)
}

func TestDeleteRefusesNonSubvolume(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain")
	require.NoError(t, os.Mkdir(plain, 0o755))

	err := Delete(context.Background(), plain)
	require.Error(t, err)

	var notSubvol *NotASubvolume
	require.ErrorAs(t, err, &notSubvol)
}

func TestCreateFailureWrapsCommandFailed(t *testing.T) {
	// A path under a nonexistent parent makes `btrfs subvolume create`
	// fail even when the binary is missing from the test environment —
	// either way we exercise the CommandFailed wrapping.
	err := Create(context.Background(), "/nonexistent-parent-dir/subvol")
	require.Error(t, err)

	var cmdErr *CommandFailed
	require.ErrorAs(t, err, &cmdErr)
	require.Equal(t, "create", cmdErr.Op)
}

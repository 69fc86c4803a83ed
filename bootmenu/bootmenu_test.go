package bootmenu

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderOrdersNewestFirstAndSetsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grub.cfg")
	entries := []Entry{
		{Generation: 1, KernelPath: "/boot/vmlinuz", InitrdPath: "/boot/initramfs.img"},
		{Generation: 3, KernelPath: "/boot/vmlinuz", InitrdPath: "/boot/initramfs.img"},
		{Generation: 2, KernelPath: "/boot/vmlinuz", InitrdPath: "/boot/initramfs.img"},
	}

	require.NoError(t, Render(path, "btrfs-uuid-xyz", entries))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	gen3 := indexOf(content, "generation 3")
	gen2 := indexOf(content, "generation 2")
	gen1 := indexOf(content, "generation 1")
	require.True(t, gen3 < gen2)
	require.True(t, gen2 < gen1)

	require.Contains(t, content, "set default=0")
	require.Contains(t, content, "gen=3")
	require.NotContains(t, content, "3 (rollback)")
	require.Contains(t, content, "2 (rollback)")
	require.Contains(t, content, "1 (rollback)")
}

func TestRenderEmptyEntriesProducesHeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grub.cfg")
	require.NoError(t, Render(path, "uuid", nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "menuentry")
}

func TestRenderLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grub.cfg")
	require.NoError(t, Render(path, "uuid", []Entry{{Generation: 1}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "grub.cfg", entries[0].Name())
}

func TestRenderOverwritesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grub.cfg")
	require.NoError(t, Render(path, "uuid", []Entry{{Generation: 1}}))
	require.NoError(t, Render(path, "uuid", []Entry{{Generation: 1}, {Generation: 2}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "generation 2")
	require.Contains(t, string(data), "generation 1")
}

func TestRenderIncludesBtrfsUUID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grub.cfg")
	require.NoError(t, Render(path, "abc-123", []Entry{{Generation: 1}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "abc-123")
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeSortsSets(t *testing.T) {
	m := &Manifest{
		Packages: []string{"zsh", "base", "linux"},
		Services: []string{"sshd", "NetworkManager"},
	}
	m.Canonicalize()

	require.Equal(t, []string{"base", "linux", "zsh"}, m.Packages)
	require.Equal(t, []string{"NetworkManager", "sshd"}, m.Services)
}

func TestCanonicalizePreservesInitramfsOrder(t *testing.T) {
	m := &Manifest{
		InitramfsModules: []string{"btrfs", "ext4", "vfat"},
		InitramfsHooks:   []string{"base", "udev", "autodetect", "modconf", "block", "filesystems"},
	}
	m.Canonicalize()

	require.Equal(t, []string{"btrfs", "ext4", "vfat"}, m.InitramfsModules)
	require.Equal(t, []string{"base", "udev", "autodetect", "modconf", "block", "filesystems"}, m.InitramfsHooks)
}

func TestCanonicalizeSortsUserGroups(t *testing.T) {
	m := &Manifest{
		Packages: []string{"base"},
		User:     &User{Name: "arch", Groups: []string{"wheel", "video", "audio"}},
	}
	m.Canonicalize()

	require.Equal(t, []string{"audio", "video", "wheel"}, m.User.Groups)
}

func TestValidateRejectsUserWithEmptyName(t *testing.T) {
	m := &Manifest{Packages: []string{"base"}, User: &User{Shell: "/bin/bash"}}
	require.Error(t, m.Validate())
}

func TestValidateAcceptsNilUser(t *testing.T) {
	m := &Manifest{Packages: []string{"base"}}
	require.NoError(t, m.Validate())
}

func TestValidateRejectsPathClash(t *testing.T) {
	m := &Manifest{
		Files:    map[string]File{"/etc/hostname": {Content: "x"}},
		Symlinks: map[string]string{"/etc/hostname": "/etc/other"},
	}
	require.Error(t, m.Validate())
}

func TestValidateRejectsEmptyPackageName(t *testing.T) {
	m := &Manifest{Packages: []string{"base", ""}}
	require.Error(t, m.Validate())
}

func TestWriteAtomicThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	uid := 1000
	m := &Manifest{
		Hostname: "workstation",
		Timezone: "America/New_York",
		Locale:   "en_US.UTF-8",
		User:     &User{Name: "arch", Shell: "/bin/bash", Groups: []string{"wheel", "video"}, UID: &uid},
		Packages: []string{"linux", "base"},
		Files: map[string]File{
			"/etc/hostname": {Mode: 0o644, Content: "workstation\n"},
		},
		Services: []string{"sshd"},
	}
	require.NoError(t, m.WriteAtomic(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"base", "linux"}, loaded.Packages)
	require.Equal(t, "workstation", loaded.Hostname)
	require.Equal(t, "America/New_York", loaded.Timezone)
	require.Equal(t, "en_US.UTF-8", loaded.Locale)
	require.NotNil(t, loaded.User)
	require.Equal(t, "arch", loaded.User.Name)
	require.Equal(t, []string{"video", "wheel"}, loaded.User.Groups)
	require.NotNil(t, loaded.User.UID)
	require.Equal(t, 1000, *loaded.User.UID)
}

func TestWriteAtomicLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	m := &Manifest{Packages: []string{"base"}}
	require.NoError(t, m.WriteAtomic(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "manifest.json", entries[0].Name())
}

func TestEqualIgnoresFieldOrder(t *testing.T) {
	a := &Manifest{Packages: []string{"a", "b"}, Services: []string{"x"}}
	b := &Manifest{Packages: []string{"b", "a"}, Services: []string{"x"}}
	require.True(t, Equal(a, b))

	c := &Manifest{Packages: []string{"a", "b", "c"}}
	require.False(t, Equal(a, c))
}

package builder

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"darch/config"
	"darch/fsorch"
	"darch/ledger"
	"darch/log"
	"darch/manifest"
	"darch/runner"
	"darch/subvol"
)

// fakeVolumes wraps a real *subvol.Manager for the read-only enumeration
// methods (Path/ListGenerations/NextNumber/LatestComplete, none of which
// shell out to btrfs) but replaces Create/Snapshot/Delete with plain
// directory operations, so builder tests never invoke the btrfs CLI.
type fakeVolumes struct {
	*subvol.Manager
}

func (f *fakeVolumes) Create(ctx context.Context, n int) error {
	return os.MkdirAll(f.Path(n), 0o755)
}

func (f *fakeVolumes) Snapshot(ctx context.Context, src, dst int) error {
	return copyTree(f.Path(src), f.Path(dst))
}

func (f *fakeVolumes) Delete(ctx context.Context, n int) error {
	return os.RemoveAll(f.Path(n))
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode())
		}

		if d.Type()&os.ModeSymlink != 0 {
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(linkTarget, target)
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()

		info, err := d.Info()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
		if err != nil {
			return err
		}
		defer out.Close()

		_, err = io.Copy(out, in)
		return err
	})
}

func newTestBuilder(t *testing.T) (*Builder, *fakeVolumes, *fsorch.MockScope) {
	t.Helper()

	imageRoot := t.TempDir()
	cfg := config.Default()
	cfg.ImagePath = imageRoot
	cfg.CachePath = t.TempDir()
	cfg.LogsPath = filepath.Join(imageRoot, "logs")

	require.NoError(t, os.MkdirAll(cfg.VarDir(), 0o755))

	ledgerDB, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledgerDB.Close() })

	volumes := &fakeVolumes{Manager: subvol.NewManager(cfg.ImagesDir())}
	mock := fsorch.NewMockScope()

	b := &Builder{
		Cfg:     cfg,
		Logger:  mustNewLogger(t, cfg.LogsPath),
		Ledger:  ledgerDB,
		Volumes: volumes,
		NewScope: func(root string, logger log.LibraryLogger) (fsorch.Executor, error) {
			require.NoError(t, os.MkdirAll(root, 0o755))
			mock.BasePath = root
			return mock, nil
		},
		Runner: func(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
			// Stand in for pacstrap: real bootstrap tooling would
			// populate <root>/var/lib/pacman, which the next build step
			// relocates, so the stub lays down the same skeleton.
			if len(cmd.Argv) >= 2 {
				_ = os.MkdirAll(filepath.Join(cmd.Argv[1], "var/lib/pacman"), 0o755)
				_ = os.MkdirAll(filepath.Join(cmd.Argv[1], "etc"), 0o755)
			}
			return &runner.Result{ExitCode: 0}, nil
		},
	}
	return b, volumes, mock
}

func mustNewLogger(t *testing.T, logsPath string) *log.Logger {
	t.Helper()
	l, err := log.NewLogger(logsPath)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func testManifest() *manifest.Manifest {
	return &manifest.Manifest{
		Hostname: "vm",
		Packages: []string{"base", "linux", "btrfs-progs", "vim"},
	}
}

func TestBuildFreshWhenNoPredecessorExists(t *testing.T) {
	b, volumes, _ := newTestBuilder(t)

	result, err := b.Build(context.Background(), testManifest(), false)
	require.NoError(t, err)
	require.Equal(t, 1, result.Generation)
	require.Equal(t, "fresh", result.Mode)

	root := volumes.Path(1)
	data, err := os.ReadFile(filepath.Join(root, "config.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"vim"`)

	_, err = os.Lstat(filepath.Join(root, "current"))
	require.NoError(t, err)

	target, err := os.Readlink(filepath.Join(root, "var/lib/pacman"))
	require.NoError(t, err)
	require.Equal(t, "../../../current/pacman", target)
}

func TestBuildFreshUnmountsPackageCacheBeforeWipingVar(t *testing.T) {
	// remove-var wipes the chroot's /var wholesale; the package cache
	// bind mount sits underneath /var/cache/pacman/pkg and must already
	// be released by then, or the wipe recurses into the host's real
	// cache directory instead of the chroot's copy.
	b, _, mock := newTestBuilder(t)

	_, err := b.Build(context.Background(), testManifest(), false)
	require.NoError(t, err)

	require.Contains(t, mock.UnmountCalls, "/var/cache/pacman/pkg")
}

func TestBuildFreshWritesDeclaredFilesAndSymlinks(t *testing.T) {
	b, volumes, _ := newTestBuilder(t)

	m := testManifest()
	m.Files = map[string]manifest.File{"/etc/motd": {Mode: 0o644, Content: "welcome\n"}}
	m.Symlinks = map[string]string{"/etc/localtime-link": "/usr/share/zoneinfo/UTC"}

	_, err := b.Build(context.Background(), m, false)
	require.NoError(t, err)

	root := volumes.Path(1)
	data, err := os.ReadFile(filepath.Join(root, "etc/motd"))
	require.NoError(t, err)
	require.Equal(t, "welcome\n", string(data))

	link, err := os.Readlink(filepath.Join(root, "etc/localtime-link"))
	require.NoError(t, err)
	require.Equal(t, "/usr/share/zoneinfo/UTC", link)
}

func TestBuildFreshDeletesCrashedPriorAttemptAtSameNumber(t *testing.T) {
	// Simulates a retry at the same generation number after a crash —
	// the scenario addressed by buildFresh's create-subvolume step, not
	// by NextNumber (which always allocates past any existing entry;
	// reclaiming N=3 in the spec's own mid-build-failure scenario
	// depends on the driver's GC pass running first).
	b, volumes, _ := newTestBuilder(t)

	stale := volumes.Path(1)
	require.NoError(t, os.MkdirAll(filepath.Join(stale, "leftover"), 0o755))

	genLog, err := log.NewGenerationLogger(b.Cfg.LogsPath, 1, "retry-test")
	require.NoError(t, err)
	defer genLog.Close()

	result, err := b.buildFresh(context.Background(), 1, testManifest(), genLog)
	require.NoError(t, err)
	require.Equal(t, 1, result.Generation)

	_, err = os.Stat(filepath.Join(stale, "leftover"))
	require.True(t, os.IsNotExist(err), "stale content from the crashed attempt should be gone")
}

func TestBuildIncrementalSnapshotsAndAppliesDiff(t *testing.T) {
	b, volumes, _ := newTestBuilder(t)

	first := testManifest()
	_, err := b.Build(context.Background(), first, false)
	require.NoError(t, err)

	second := &manifest.Manifest{
		Hostname: "vm",
		Packages: []string{"base", "linux", "btrfs-progs", "htop"},
	}
	result, err := b.Build(context.Background(), second, false)
	require.NoError(t, err)
	require.Equal(t, 2, result.Generation)
	require.Equal(t, "incremental", result.Mode)

	root := volumes.Path(2)
	_, err = os.Stat(filepath.Join(root, "config.json.prev"))
	require.True(t, os.IsNotExist(err), "config.json.prev must not survive a successful build")

	loaded, err := manifest.Load(filepath.Join(root, "config.json"))
	require.NoError(t, err)
	require.Equal(t, []string{"base", "btrfs-progs", "htop", "linux"}, loaded.Packages)
}

func TestBuildSkipsWhenManifestHashUnchanged(t *testing.T) {
	b, _, mock := newTestBuilder(t)

	m := testManifest()
	first, err := b.Build(context.Background(), m, false)
	require.NoError(t, err)
	require.False(t, first.Skipped)

	callsBeforeSecondBuild := len(mock.ExecuteCalls)

	second, err := b.Build(context.Background(), testManifest(), false)
	require.NoError(t, err)
	require.True(t, second.Skipped)
	require.Equal(t, first.Generation, second.Generation)
	require.Equal(t, "incremental", second.Mode)
	require.Equal(t, callsBeforeSecondBuild, len(mock.ExecuteCalls), "a skipped build must not touch the chroot at all")
}

func TestBuildForceFreshIgnoresExistingPredecessor(t *testing.T) {
	b, _, _ := newTestBuilder(t)

	_, err := b.Build(context.Background(), testManifest(), false)
	require.NoError(t, err)

	result, err := b.Build(context.Background(), testManifest(), true)
	require.NoError(t, err)
	require.Equal(t, "fresh", result.Mode)
	require.Equal(t, 2, result.Generation)
}

func TestBuildRecordsLedgerEntryOnSuccess(t *testing.T) {
	b, _, _ := newTestBuilder(t)

	_, err := b.Build(context.Background(), testManifest(), false)
	require.NoError(t, err)

	rec, err := b.Ledger.LatestForGeneration(1)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "success", rec.Status)
	require.Equal(t, "fresh", rec.Mode)
}

func TestBuildRejectsInvalidManifest(t *testing.T) {
	b, _, _ := newTestBuilder(t)

	bad := &manifest.Manifest{Packages: []string{"base", ""}}
	_, err := b.Build(context.Background(), bad, false)
	require.Error(t, err)
}

func TestBuildFreshRunsUserDeclaration(t *testing.T) {
	b, _, mock := newTestBuilder(t)

	m := testManifest()
	m.User = &manifest.User{Name: "arch", Shell: "/bin/bash", Groups: []string{"wheel"}}

	_, err := b.Build(context.Background(), m, false)
	require.NoError(t, err)

	found := false
	for _, call := range mock.ExecuteCalls {
		if len(call.Argv) > 0 && call.Argv[0] == "useradd" {
			found = true
			require.Contains(t, call.Argv, "arch")
		}
	}
	require.True(t, found, "expected a useradd invocation inside the chroot")
}

func TestBuildIncrementalRunsUserDeclaration(t *testing.T) {
	b, _, mock := newTestBuilder(t)

	first := testManifest()
	_, err := b.Build(context.Background(), first, false)
	require.NoError(t, err)

	second := testManifest()
	second.User = &manifest.User{Name: "arch", Shell: "/bin/bash", Groups: []string{"wheel"}}
	result, err := b.Build(context.Background(), second, false)
	require.NoError(t, err)
	require.Equal(t, "incremental", result.Mode)

	found := false
	for _, call := range mock.ExecuteCalls {
		if len(call.Argv) > 0 && call.Argv[0] == "useradd" {
			found = true
			require.Contains(t, call.Argv, "arch")
		}
	}
	require.True(t, found, "expected a useradd invocation inside the chroot for the incremental build")
}

package builder

import (
	"context"

	"darch/fsorch"
	"darch/log"
	"darch/runner"
	"darch/subvol"
)

// VolumeManager is the subset of *subvol.Manager the builder depends on,
// narrowed to an interface so tests can substitute a fake that never
// touches a real btrfs filesystem — the same seam fsorch.Executor gives
// the chroot/mount side of a build.
type VolumeManager interface {
	Path(n int) string
	ListGenerations() ([]subvol.Generation, error)
	NextNumber() (int, error)
	LatestComplete() (*subvol.Generation, error)
	Create(ctx context.Context, n int) error
	Snapshot(ctx context.Context, src, dst int) error
	Delete(ctx context.Context, n int) error
}

// ScopeFactory opens a new fsorch.Executor rooted at root. Production
// code wires this to fsorch.NewScope; tests wire it to a func returning
// fsorch.NewMockScope(), so the builder's step sequencing can be
// exercised without root privilege.
type ScopeFactory func(root string, logger log.LibraryLogger) (fsorch.Executor, error)

// defaultScopeFactory adapts fsorch.NewScope to the ScopeFactory shape.
func defaultScopeFactory(root string, logger log.LibraryLogger) (fsorch.Executor, error) {
	return fsorch.NewScope(root, logger)
}

// CommandRunner executes a command outside any chroot — the shape the
// bootstrap tool needs, since pacstrap populates a target directory from
// the host's own package manager rather than running inside the target.
// Production code wires this to runner.Run; tests substitute a stub that
// creates the directories a bootstrap would leave without invoking a real
// binary.
type CommandRunner func(ctx context.Context, cmd runner.Command) (*runner.Result, error)

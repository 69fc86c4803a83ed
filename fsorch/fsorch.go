// Package fsorch generalizes the teacher's per-worker chroot Environment
// into one scoped chroot per generation build: a Scope accumulates
// mounts and bind-mounts as they're made, then releases them in reverse
// order on Close, exactly as the teacher's BSDEnvironment tracks mounted
// paths for LIFO teardown with retry. Where the teacher shells out to
// mount(8)/executes "chroot" as a subprocess (BSD has no portable mount
// syscall from Go for nullfs/devfs), this package targets Linux only and
// calls unix.Mount/unix.Unmount directly for every mount kind it needs
// (bind, proc, sysfs, devtmpfs), and uses runner.RunChroot's native
// syscall.SysProcAttr-based chroot instead of an external chroot(8)
// process.
package fsorch

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"darch/log"
	"darch/runner"
)

// SetupFailed reports that preparing a Scope failed at a specific step.
type SetupFailed struct {
	Op  string
	Err error
}

func (e *SetupFailed) Error() string { return fmt.Sprintf("fsorch: setup failed (%s): %v", e.Op, e.Err) }
func (e *SetupFailed) Unwrap() error { return e.Err }

// PartialReleaseWarning reports that Close could not unmount everything.
// It never masks an earlier error returned from the build itself — it is
// only surfaced through the logger and as Close's own return value.
type PartialReleaseWarning struct {
	Remaining []string
}

func (e *PartialReleaseWarning) Error() string {
	return fmt.Sprintf("fsorch: %d mount(s) could not be released: %v", len(e.Remaining), e.Remaining)
}

// mountRecord is one mount this Scope made, in the order it was made.
type mountRecord struct {
	target string
}

// Scope owns the chroot root for one generation build and every mount
// made into it. Release mounts in the reverse order they were made by
// calling Close exactly once.
type Scope struct {
	root   string
	logger log.LibraryLogger
	mounts []mountRecord
}

// NewScope prepares root as a chroot target: ensures the directory
// exists. No mounts are made until BindMount/MountKernel are called.
func NewScope(root string, logger log.LibraryLogger) (*Scope, error) {
	if logger == nil {
		logger = log.NoOpLogger{}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &SetupFailed{Op: "mkdir-root", Err: err}
	}
	return &Scope{root: root, logger: logger}, nil
}

// Root returns the chroot base path, for copying files in before Execute.
func (s *Scope) Root() string { return s.root }

// BindMount bind-mounts source onto target (relative to Root()), creating
// the mount point directory first. readOnly makes a second MS_REMOUNT
// pass with MS_RDONLY, since Linux bind mounts ignore MS_RDONLY on the
// initial mount call.
func (s *Scope) BindMount(source, relTarget string, readOnly bool) error {
	target := s.root + relTarget
	if err := os.MkdirAll(target, 0o755); err != nil {
		return &SetupFailed{Op: "mkdir-" + relTarget, Err: err}
	}

	if err := unix.Mount(source, target, "", unix.MS_BIND, ""); err != nil {
		return &SetupFailed{Op: "bind-" + relTarget, Err: err}
	}
	s.mounts = append(s.mounts, mountRecord{target: target})

	if readOnly {
		if err := unix.Mount("", target, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
			return &SetupFailed{Op: "remount-ro-" + relTarget, Err: err}
		}
	}
	return nil
}

// MountKernel mounts one of the pseudo-filesystems a chroot build needs
// to run a package manager and initramfs generator: proc, sysfs, or
// devtmpfs.
func (s *Scope) MountKernel(relTarget, fstype string) error {
	target := s.root + relTarget
	if err := os.MkdirAll(target, 0o755); err != nil {
		return &SetupFailed{Op: "mkdir-" + relTarget, Err: err}
	}
	if err := unix.Mount(fstype, target, fstype, 0, ""); err != nil {
		return &SetupFailed{Op: "mount-" + fstype, Err: err}
	}
	s.mounts = append(s.mounts, mountRecord{target: target})
	return nil
}

// Execute runs argv inside the chroot.
func (s *Scope) Execute(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
	return runner.RunChroot(ctx, s.root, cmd)
}

// Unmount releases one mount made earlier by BindMount or MountKernel,
// ahead of Close. A build step that is about to remove or replace the
// directory tree under a mount point (e.g. wiping /var before bind-
// mounting the persistent one over it) must call this first — Close
// alone is too late, since it only runs at Scope teardown, well after
// such a step would have already recursed into the live mount.
func (s *Scope) Unmount(relTarget string) error {
	target := s.root + relTarget
	if err := unmountWithRetry(target); err != nil {
		return &SetupFailed{Op: "unmount-" + relTarget, Err: err}
	}
	for i, m := range s.mounts {
		if m.target == target {
			s.mounts = append(s.mounts[:i], s.mounts[i+1:]...)
			break
		}
	}
	return nil
}

// Executor is the surface the builder depends on, so tests can substitute
// a mock in place of a real, root-privileged Scope.
type Executor interface {
	Root() string
	BindMount(source, relTarget string, readOnly bool) error
	MountKernel(relTarget, fstype string) error
	Unmount(relTarget string) error
	Execute(ctx context.Context, cmd runner.Command) (*runner.Result, error)
	Close() error
}

// Close unmounts everything this Scope mounted, in reverse order, and
// retries transient EBUSY failures. Unlike the teacher's Cleanup, which
// never returns an error for post-retry failures, Close does return a
// *PartialReleaseWarning so the caller can decide whether a partially
// torn down build root is fatal — but it always attempts every mount
// regardless of earlier failures, so one stuck mount cannot hide another.
func (s *Scope) Close() error {
	var remaining []string

	for i := len(s.mounts) - 1; i >= 0; i-- {
		target := s.mounts[i].target
		if err := unmountWithRetry(target); err != nil {
			s.logger.Warn("fsorch: failed to unmount %s: %v", target, err)
			remaining = append(remaining, target)
		}
	}

	s.mounts = nil

	if len(remaining) > 0 {
		return &PartialReleaseWarning{Remaining: remaining}
	}
	return nil
}

func unmountWithRetry(target string) error {
	const retries = 10
	var lastErr error
	for i := 0; i < retries; i++ {
		err := unix.Unmount(target, 0)
		switch err {
		case nil, unix.EINVAL, unix.ENOENT:
			return nil
		}
		lastErr = err
		if err != unix.EBUSY {
			return err
		}
		time.Sleep(200 * time.Millisecond)
	}
	return lastErr
}

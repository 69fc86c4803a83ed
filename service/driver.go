package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"darch/bootmenu"
	"darch/builder"
	"darch/gc"
	"darch/lockmgr"
	"darch/manifest"
	"darch/subvol"
)

// ApplyOptions controls one invocation of the top-level driver.
type ApplyOptions struct {
	Next       *manifest.Manifest
	ForceFresh bool // --rebuild: always perform a fresh build
}

// ApplyResult reports what Apply did.
type ApplyResult struct {
	Build *builder.Result
}

// Apply sequences the driver in §4.10's order: acquire the lock, check
// prerequisites, run GC to reap crashed-build leftovers, build, regenerate
// the boot menu, then release the lock. Every step after lock acquisition
// runs under the same held lock so no second invocation can interleave.
func (s *Service) Apply(ctx context.Context, opts ApplyOptions) (*ApplyResult, error) {
	lock, err := lockmgr.Acquire(s.cfg.LockPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			s.logger.Warn("service: %v", err)
		}
	}()

	if err := s.checkPrerequisites(); err != nil {
		return nil, err
	}

	if _, err := s.gcCollector().Run(ctx); err != nil {
		return nil, fmt.Errorf("service: gc before build: %w", err)
	}

	result, err := s.builder.Build(ctx, opts.Next, opts.ForceFresh)
	if err != nil {
		return nil, err
	}

	if err := s.regenerateBootMenu(); err != nil {
		// The new generation is already complete on disk; a menu-regen
		// failure leaves it installed but not yet the boot default, so
		// this is reported but does not undo the build.
		return &ApplyResult{Build: result}, fmt.Errorf("service: regenerate boot menu: %w", err)
	}

	return &ApplyResult{Build: result}, nil
}

// GC runs the garbage collector alone, under the lock, honoring an
// optional override of KeepMax (the CLI's `gc --keep N`).
func (s *Service) GC(ctx context.Context, keepOverride int) (*gc.Result, error) {
	lock, err := lockmgr.Acquire(s.cfg.LockPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			s.logger.Warn("service: %v", err)
		}
	}()

	collector := s.gcCollector()
	if keepOverride > 0 {
		collector.Policy.KeepMax = keepOverride
	}
	return collector.Run(ctx)
}

// Rollback regenerates the boot menu with the second-newest complete
// generation as default, leaving every subvolume untouched.
func (s *Service) Rollback(ctx context.Context) error {
	lock, err := lockmgr.Acquire(s.cfg.LockPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			s.logger.Warn("service: %v", err)
		}
	}()

	gens, err := s.volumes.ListGenerations()
	if err != nil {
		return fmt.Errorf("service: list generations: %w", err)
	}

	var complete []int
	for _, g := range gens {
		if g.Complete {
			complete = append(complete, g.Number)
		}
	}
	if len(complete) < 2 {
		return &builder.InvariantViolation{Msg: "rollback requires at least two complete generations"}
	}

	// complete is ascending by number (subvol.Manager.ListGenerations's
	// contract); the rollback target is the second-newest.
	target := complete[len(complete)-2]
	return s.writeBootMenuDefaulting(target)
}

func (s *Service) checkPrerequisites() error {
	if _, err := os.Stat(s.cfg.ImagePath); err != nil {
		return &MissingPrerequisite{What: fmt.Sprintf("image path %s: %v", s.cfg.ImagePath, err)}
	}
	for _, tool := range []string{s.cfg.PackageManager, s.cfg.BootstrapTool, s.cfg.InitramfsTool, s.cfg.BootloaderTool} {
		if _, err := exec.LookPath(tool); err != nil {
			return &MissingPrerequisite{What: fmt.Sprintf("tool %q not found in PATH", tool)}
		}
	}
	return nil
}

func (s *Service) gcCollector() *gc.Collector {
	c := gc.New(s.volumes, gc.Policy{
		KeepMin: s.cfg.KeepMin,
		KeepMax: s.cfg.KeepMax,
		MinAge:  s.cfg.MinAge,
		MaxAge:  s.cfg.MaxAge,
	})
	c.Protect = s.protectActiveGeneration
	return c
}

// protectActiveGeneration reports whether n is the generation the live
// host currently boots into, discovered via the /current self-symlink
// inside the image root. On a build host constructing images for another
// machine, this symlink does not exist and nothing is protected — per
// §4.9 the protection only applies when the driver runs on a live darch
// host.
func (s *Service) protectActiveGeneration(n int) bool {
	target, err := os.Readlink(s.cfg.ImagePath + "/current")
	if err != nil {
		return false
	}
	return target == fmt.Sprintf("@images/gen-%d", n)
}

func (s *Service) regenerateBootMenu() error {
	gens, err := s.volumes.ListGenerations()
	if err != nil {
		return err
	}
	return s.writeBootMenu(gens)
}

func (s *Service) writeBootMenuDefaulting(target int) error {
	gens, err := s.volumes.ListGenerations()
	if err != nil {
		return err
	}
	return s.writeBootMenu(gens, target)
}

// writeBootMenu renders every complete generation, newest first. An
// optional preferred generation overrides which entry bootmenu.Render
// marks as the boot default (used by Rollback); without it, Render's own
// default of "highest-numbered generation" applies.
func (s *Service) writeBootMenu(gens []subvol.Generation, preferred ...int) error {
	var entries []bootmenu.Entry
	for _, g := range gens {
		if !g.Complete {
			continue
		}
		entries = append(entries, bootmenu.Entry{
			Generation: g.Number,
			KernelPath: fmt.Sprintf("/gen-%d/boot/vmlinuz-linux", g.Number),
			InitrdPath: fmt.Sprintf("/gen-%d/boot/initramfs-linux.img", g.Number),
		})
	}
	return bootmenu.Render(s.cfg.GrubCfgPath, s.cfg.BtrfsUUID, entries, preferred...)
}

func isAlreadyRunning(err error) bool {
	var e *lockmgr.AlreadyRunning
	return errors.As(err, &e)
}

func isMissingPrerequisite(err error) bool {
	var e *MissingPrerequisite
	return errors.As(err, &e)
}

func isInvariantViolation(err error) bool {
	var e *builder.InvariantViolation
	return errors.As(err, &e)
}

func isStepFailed(err error) bool {
	return builder.IsStepFailed(err)
}

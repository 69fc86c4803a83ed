package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"darch/diff"
	"darch/fsorch"
	"darch/log"
	"darch/manifest"
	"darch/runner"
	"darch/subvol"
)

// buildIncremental builds generation n as a writable snapshot of prev,
// then applies exactly the diff between prev's manifest and next —
// package removals, then additions, then identity changes, then file and
// symlink writes, regenerating the initramfs only if the diff says so.
// The user declaration is applied only when prev declared no user;
// changes to an already-declared user are not applied.
func (b *Builder) buildIncremental(ctx context.Context, n int, prev *subvol.Generation, next *manifest.Manifest, genLog *log.GenerationLogger) (*Result, error) {
	fail := func(step string, err error) (*Result, error) {
		return nil, &StepFailed{Generation: n, Step: step, Err: err}
	}

	if prev == nil {
		return nil, &InvariantViolation{Msg: "buildIncremental called with no complete predecessor"}
	}

	root := b.Volumes.Path(n)

	genLog.WriteStep("snapshot-predecessor")
	if err := b.Volumes.Snapshot(ctx, prev.Number, n); err != nil {
		return fail("snapshot-predecessor", err)
	}

	genLog.WriteStep("retire-inherited-marker")
	configPath := filepath.Join(root, "config.json")
	prevMarkerPath := filepath.Join(root, "config.json.prev")
	if err := os.Rename(configPath, prevMarkerPath); err != nil {
		return fail("retire-inherited-marker", err)
	}

	scope, err := b.NewScope(root, b.Logger)
	if err != nil {
		return fail("open-scope", err)
	}
	defer func() {
		if err := scope.Close(); err != nil {
			genLog.WriteOutput(fmt.Sprintf("scope teardown: %v", err))
			b.Logger.Warn("builder: generation %d: %v", n, err)
		}
	}()

	genLog.WriteStep("mount-build-resources")
	if err := scope.BindMount(b.Cfg.CachePath, "/var/cache/pacman/pkg", false); err != nil {
		return fail("mount-build-resources", err)
	}
	if err := mountChrootPseudoFS(scope); err != nil {
		return fail("mount-build-resources", err)
	}

	d := diff.Compute(prev.Manifest, next)

	genLog.WriteStep("apply-removed-symlinks-and-files")
	for _, path := range d.Symlinks.Removed {
		os.Remove(filepath.Join(root, path))
	}
	for _, path := range d.Files.Removed {
		os.Remove(filepath.Join(root, path))
	}

	genLog.WriteStep("apply-package-removals")
	if len(d.Packages.Removed) > 0 {
		argv := append([]string{b.Cfg.PackageManager, "-Rns", "--noconfirm"}, sortedCopy(d.Packages.Removed)...)
		if err := runChrootChecked(ctx, scope, argv); err != nil {
			return fail("apply-package-removals", err)
		}
	}

	genLog.WriteStep("apply-package-additions")
	if len(d.Packages.Added) > 0 {
		argv := append([]string{b.Cfg.PackageManager, "-S", "--noconfirm"}, sortedCopy(d.Packages.Added)...)
		if err := runChrootChecked(ctx, scope, argv); err != nil {
			return fail("apply-package-additions", err)
		}
	}

	genLog.WriteStep("apply-identity-changes")
	if d.IdentityChanged {
		if err := applyIdentity(ctx, b, scope, genLog, next); err != nil {
			return fail("apply-identity-changes", err)
		}
	}

	genLog.WriteStep("write-files-and-symlinks")
	addedOrModified := map[string]manifest.File{}
	for _, path := range d.Files.Added {
		addedOrModified[path] = next.Files[path]
	}
	for _, path := range d.Files.Modified {
		addedOrModified[path] = next.Files[path]
	}
	if err := writeFiles(root, addedOrModified); err != nil {
		return fail("write-files-and-symlinks", err)
	}

	addedSymlinks := map[string]string{}
	for _, path := range d.Symlinks.Added {
		addedSymlinks[path] = next.Symlinks[path]
	}
	if err := writeSymlinks(root, addedSymlinks); err != nil {
		return fail("write-files-and-symlinks", err)
	}

	genLog.WriteStep("apply-user")
	if next.User != nil && (prev.Manifest == nil || prev.Manifest.User == nil) {
		if err := applyUser(ctx, scope, next.User); err != nil {
			return fail("apply-user", err)
		}
	}

	genLog.WriteStep("regenerate-initramfs")
	if d.InitramfsNeeded {
		if err := runChrootChecked(ctx, scope, []string{b.Cfg.InitramfsTool, "-P"}); err != nil {
			return fail("regenerate-initramfs", err)
		}
	} else {
		b.Logger.Skipped(n, "regenerate-initramfs")
	}

	genLog.WriteStep("retire-previous-marker")
	if err := os.Remove(prevMarkerPath); err != nil {
		return fail("retire-previous-marker", err)
	}

	genLog.WriteStep("write-completion-marker")
	if err := next.WriteAtomic(configPath); err != nil {
		return fail("write-completion-marker", err)
	}

	return &Result{Generation: n, Mode: "incremental"}, nil
}

func runChrootChecked(ctx context.Context, scope fsorch.Executor, argv []string) error {
	res, err := scope.Execute(ctx, runner.Command{Argv: argv})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%v exited %d", argv, res.ExitCode)
	}
	return nil
}

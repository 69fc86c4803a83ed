package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"darch/fsorch"
	"darch/log"
	"darch/manifest"
	"darch/runner"
)

// buildFresh bootstraps generation n from scratch: no predecessor
// subvolume to snapshot, every package installed by the bootstrap tool,
// every file and symlink written from nothing.
func (b *Builder) buildFresh(ctx context.Context, n int, next *manifest.Manifest, genLog *log.GenerationLogger) (*Result, error) {
	fail := func(step string, err error) (*Result, error) {
		return nil, &StepFailed{Generation: n, Step: step, Err: err}
	}

	root := b.Volumes.Path(n)

	genLog.WriteStep("create-subvolume")
	if _, err := os.Stat(root); err == nil {
		// A crashed prior attempt left this number's subvolume behind;
		// it is incomplete by construction (config.json is written last),
		// so it is safe to discard and start over.
		if err := b.Volumes.Delete(ctx, n); err != nil {
			return fail("create-subvolume", err)
		}
	}
	if err := b.Volumes.Create(ctx, n); err != nil {
		return fail("create-subvolume", err)
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

	genLog.WriteStep("bind-package-cache")
	if err := scope.BindMount(b.Cfg.CachePath, "/var/cache/pacman/pkg", false); err != nil {
		return fail("bind-package-cache", err)
	}

	genLog.WriteStep("bootstrap-packages")
	packages := sortedCopy(next.Packages)
	bootstrapArgv := append([]string{b.Cfg.BootstrapTool, root}, packages...)
	if res, err := b.Runner(ctx, runner.Command{Argv: bootstrapArgv}); err != nil {
		return fail("bootstrap-packages", err)
	} else if res.ExitCode != 0 {
		return fail("bootstrap-packages", fmt.Errorf("%s exited %d", b.Cfg.BootstrapTool, res.ExitCode))
	}

	genLog.WriteStep("relocate-pacman-state")
	if err := os.Rename(filepath.Join(root, "var/lib/pacman"), filepath.Join(root, "pacman")); err != nil {
		return fail("relocate-pacman-state", err)
	}

	genLog.WriteStep("create-self-reference")
	if err := os.Symlink(".", filepath.Join(root, "current")); err != nil {
		return fail("create-self-reference", err)
	}

	genLog.WriteStep("unmount-package-cache")
	if err := scope.Unmount("/var/cache/pacman/pkg"); err != nil {
		return fail("unmount-package-cache", err)
	}

	genLog.WriteStep("remove-var")
	if err := os.RemoveAll(filepath.Join(root, "var")); err != nil {
		return fail("remove-var", err)
	}

	genLog.WriteStep("mount-persistent-var")
	if err := scope.BindMount(b.Cfg.VarDir(), "/var", false); err != nil {
		return fail("mount-persistent-var", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "var/lib"), 0o755); err != nil {
		return fail("mount-persistent-var", err)
	}
	// This relative path exits @var three levels up to the tmpfs root,
	// follows /current into this generation, then down into /pacman.
	if err := os.Symlink("../../../current/pacman", filepath.Join(root, "var/lib/pacman")); err != nil {
		return fail("mount-persistent-var", err)
	}

	genLog.WriteStep("mount-chroot-pseudo-filesystems")
	if err := mountChrootPseudoFS(scope); err != nil {
		return fail("mount-chroot-pseudo-filesystems", err)
	}

	genLog.WriteStep("identity-configuration")
	if err := applyIdentity(ctx, b, scope, genLog, next); err != nil {
		return fail("identity-configuration", err)
	}

	genLog.WriteStep("write-files-and-symlinks")
	if err := writeFiles(root, next.Files); err != nil {
		return fail("write-files-and-symlinks", err)
	}
	if err := writeSymlinks(root, next.Symlinks); err != nil {
		return fail("write-files-and-symlinks", err)
	}

	genLog.WriteStep("apply-user")
	if next.User != nil {
		if err := applyUser(ctx, scope, next.User); err != nil {
			return fail("apply-user", err)
		}
	}

	genLog.WriteStep("write-completion-marker")
	if err := next.WriteAtomic(filepath.Join(root, "config.json")); err != nil {
		return fail("write-completion-marker", err)
	}

	return &Result{Generation: n, Mode: "fresh"}, nil
}

// mountChrootPseudoFS binds the pseudo-filesystems a chroot build needs
// to run a package manager and initramfs generator, and the host /dev
// and /run a build step might touch.
func mountChrootPseudoFS(scope fsorch.Executor) error {
	if err := scope.MountKernel("/proc", "proc"); err != nil {
		return err
	}
	if err := scope.MountKernel("/sys", "sysfs"); err != nil {
		return err
	}
	if err := scope.BindMount("/dev", "/dev", false); err != nil {
		return err
	}
	if err := scope.BindMount("/run", "/run", false); err != nil {
		return err
	}
	return nil
}

// applyIdentity runs the chroot-side identity configuration steps common
// to both fresh and incremental builds: clock, locale, hostname,
// timezone, initramfs, and boot loader installation.
func applyIdentity(ctx context.Context, b *Builder, scope fsorch.Executor, genLog *log.GenerationLogger, m *manifest.Manifest) error {
	run := func(argv ...string) error {
		res, err := scope.Execute(ctx, runner.Command{Argv: argv})
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("%v exited %d", argv, res.ExitCode)
		}
		return nil
	}

	if err := run("hwclock", "--systohc"); err != nil {
		return fmt.Errorf("hwclock: %w", err)
	}

	if m.Hostname != "" {
		if err := os.WriteFile(filepath.Join(scope.Root(), "etc/hostname"), []byte(m.Hostname+"\n"), 0o644); err != nil {
			return fmt.Errorf("write hostname: %w", err)
		}
	}

	if m.Timezone != "" {
		link := filepath.Join(scope.Root(), "etc/localtime")
		os.Remove(link)
		if err := os.Symlink(filepath.Join("/usr/share/zoneinfo", m.Timezone), link); err != nil {
			return fmt.Errorf("set timezone: %w", err)
		}
	}

	if m.Locale != "" {
		content := fmt.Sprintf("%s UTF-8\n", m.Locale)
		if err := os.WriteFile(filepath.Join(scope.Root(), "etc/locale.gen"), []byte(content), 0o644); err != nil {
			return fmt.Errorf("write locale.gen: %w", err)
		}
		if err := run(b.Cfg.LocaleGenTool); err != nil {
			return fmt.Errorf("locale-gen: %w", err)
		}
		if err := os.WriteFile(filepath.Join(scope.Root(), "etc/locale.conf"), []byte("LANG="+m.Locale+"\n"), 0o644); err != nil {
			return fmt.Errorf("write locale.conf: %w", err)
		}
	}

	if err := run("passwd", "--lock", "root"); err != nil {
		return fmt.Errorf("lock root password: %w", err)
	}

	if err := run(b.Cfg.InitramfsTool, "-P"); err != nil {
		return fmt.Errorf("mkinitcpio: %w", err)
	}

	if err := run(b.Cfg.BootloaderTool, "--target=x86_64-efi", "--efi-directory=/efi", "--bootloader-id=darch"); err != nil {
		return fmt.Errorf("install boot loader: %w", err)
	}

	return nil
}

func writeFiles(root string, files map[string]manifest.File) error {
	for path, file := range files {
		target := filepath.Join(root, path)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		if err := os.WriteFile(target, []byte(file.Content), file.Mode); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

func writeSymlinks(root string, symlinks map[string]string) error {
	for path, linkTarget := range symlinks {
		target := filepath.Join(root, path)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("symlink %s: %w", path, err)
		}
		os.Remove(target)
		if err := os.Symlink(linkTarget, target); err != nil {
			return fmt.Errorf("symlink %s: %w", path, err)
		}
	}
	return nil
}

func applyUser(ctx context.Context, scope fsorch.Executor, u *manifest.User) error {
	argv := []string{"useradd", "-m"}
	if u.Shell != "" {
		argv = append(argv, "-s", u.Shell)
	}
	if len(u.Groups) > 0 {
		argv = append(argv, "-G", joinComma(sortedCopy(u.Groups)))
	}
	if u.UID != nil {
		argv = append(argv, "-u", fmt.Sprintf("%d", *u.UID))
	}
	argv = append(argv, u.Name)

	res, err := scope.Execute(ctx, runner.Command{Argv: argv})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("useradd exited %d", res.ExitCode)
	}
	return nil
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func joinComma(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ","
		}
		out += item
	}
	return out
}

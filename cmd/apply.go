package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"darch/manifest"
	"darch/runner"
	"darch/service"
)

var (
	applyConfigFile string
	applyRebuild    bool
	applyUpgrade    bool
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Build or update the running system from a declarative configuration",
	Run:   runApply,
}

func init() {
	applyCmd.Flags().StringVar(&applyConfigFile, "config", "", "path to the declarative configuration file")
	applyCmd.Flags().BoolVar(&applyRebuild, "rebuild", false, "force a fresh build, discarding incremental snapshotting")
	applyCmd.Flags().BoolVar(&applyUpgrade, "upgrade", false, "refresh the host's package sync databases before the build (packages already installed in a generation are not upgraded)")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) {
	if applyConfigFile == "" {
		fmt.Fprintln(os.Stderr, "error: --config is required")
		setExitCode(1)
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		setExitCode(1)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		setExitCode(1)
		return
	}

	next, err := manifest.Load(applyConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid configuration: %v\n", err)
		setExitCode(1)
		return
	}
	svc, err := service.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		setExitCode(1)
		return
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if applyUpgrade {
		// Refreshes the host's package cache/sync databases ahead of the
		// build, so the bootstrap tool and the diff engine's package
		// additions resolve against current versions rather than a stale
		// cache. Runs against the host, not inside any generation.
		res, err := runner.Run(ctx, runner.Command{Argv: []string{cfg.PackageManager, "-Sy"}})
		if err == nil && res.ExitCode != 0 {
			err = fmt.Errorf("%s -Sy exited %d", cfg.PackageManager, res.ExitCode)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: package database refresh failed: %v\n", err)
			setExitCode(3)
			return
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "\nreceived signal %v, waiting for the current step to finish...\n", sig)
		cancel()
	}()

	result, err := svc.Apply(ctx, service.ApplyOptions{Next: next, ForceFresh: applyRebuild})
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		fmt.Fprintln(os.Stderr, "the incomplete generation will be reaped by the next gc run")
		setExitCode(service.ExitCode(err))
		return
	}

	fmt.Printf("built generation %d (%s)\n", result.Build.Generation, result.Build.Mode)
	setExitCode(0)
}

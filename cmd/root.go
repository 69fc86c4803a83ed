// Package cmd implements darch's cobra command tree, replacing the
// teacher's half-finished main.go/cmd/build.go skeleton with the
// complete `apply`/`list`/`rollback`/`gc`/`history`/`monitor` surface of
// §6, in the shape the teacher was visibly moving toward (cmd/build.go's
// buildCmd, cmd/monitor.go's doMonitor).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"darch/config"
)

var (
	configPath string
	profile    string
)

var rootCmd = &cobra.Command{
	Use:   "darch",
	Short: "Build and manage btrfs-generation Arch Linux images",
	Long: `darch assembles bootable Arch Linux disk images from immutable,
numbered btrfs generations. A declarative configuration describes the
desired package set, files, symlinks, services, and identity; darch
materializes the packages, files, symlinks, and identity into a new
generation, updates the boot menu, and garbage-collects older
generations. Services are recorded in the generation's manifest but no
build step enables or disables them.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "tool-config", "", "path to darch.ini (defaults to /etc/darch/darch.ini)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "darch.ini profile section to apply")
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return lastExitCode
}

// lastExitCode is set by subcommands via setExitCode, letting Execute
// report the structured exit code (§7) even when cobra itself reports
// no error (commands print their own failure and set this directly
// instead of returning an error, so cobra doesn't print a second,
// redundant usage-and-error block).
var lastExitCode int

func setExitCode(code int) {
	lastExitCode = code
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath, profile)
}

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"darch/service"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Set the prior complete generation as the boot default",
	Run:   runRollback,
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
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

	if err := svc.Rollback(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		setExitCode(service.ExitCode(err))
		return
	}

	fmt.Println("boot menu regenerated; prior generation is now the default")
	setExitCode(0)
}

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"darch/service"
)

var gcKeep int

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete incomplete generations and age/count-prune complete ones",
	Run:   runGC,
}

func init() {
	gcCmd.Flags().IntVar(&gcKeep, "keep", 0, "override the configured keep_max threshold")
	rootCmd.AddCommand(gcCmd)
}

func runGC(cmd *cobra.Command, args []string) {
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

	result, err := svc.GC(context.Background(), gcKeep)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		setExitCode(service.ExitCode(err))
		return
	}

	fmt.Printf("deleted %d incomplete, %d aged-out; kept %d generations\n",
		len(result.IncompleteDeleted), len(result.AgedOutDeleted), len(result.Kept))
	setExitCode(0)
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"darch/service"
)

var historyGeneration int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded build attempts from the ledger",
	Long: `history surfaces the ledger's build-attempt records: start
time, mode, and outcome for every generation darch has attempted. The
ledger is non-authoritative — config.json alone decides whether a
generation is complete — history is read-only diagnostics.`,
	Run: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyGeneration, "generation", 0, "limit output to one generation number")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) {
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

	records, err := svc.Ledger().History()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		setExitCode(3)
		return
	}

	for _, r := range records {
		if historyGeneration != 0 && r.Generation != historyGeneration {
			continue
		}
		line := fmt.Sprintf("gen-%-4d %-8s %-11s started %s", r.Generation, r.Mode, r.Status,
			r.StartTime.Format("2006-01-02 15:04:05"))
		if r.Status == "failed" && r.FailureStep != "" {
			line += fmt.Sprintf(" (failed at %s)", r.FailureStep)
		}
		fmt.Println(line)
	}
	setExitCode(0)
}

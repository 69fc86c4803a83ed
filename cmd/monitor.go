package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"darch/monitor"
	"darch/service"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch generation history and the in-progress build live",
	Run:   runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) {
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

	poller := &monitor.Poller{
		Volumes:  svc,
		Ledger:   svc.Ledger(),
		LogsPath: cfg.LogsPath,
	}
	view := monitor.NewView()

	done := make(chan struct{})
	view.SetInterruptHandler(func() { close(done) })

	go func() {
		if err := monitor.Run(view, poller, time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "monitor error: %v\n", err)
		}
	}()

	<-done
	view.Stop()
	setExitCode(0)
}

package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"darch/service"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Enumerate complete generations",
	Run:   runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) {
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

	gens, err := svc.ListGenerations()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		setExitCode(3)
		return
	}

	sort.Slice(gens, func(i, j int) bool { return gens[i].Number > gens[j].Number })

	for _, g := range gens {
		if !g.Complete {
			continue
		}
		status := "incomplete"
		if g.Complete {
			status = "complete"
		}
		created := ""
		if g.CreatedAt != nil {
			created = g.CreatedAt.ModTime().Format("2006-01-02 15:04:05")
		}
		fmt.Printf("gen-%-4d %-10s %s\n", g.Number, status, created)
	}
	setExitCode(0)
}

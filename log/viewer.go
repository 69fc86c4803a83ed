package log

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"darch/config"
)

// ListLogs lists all available log files for the given tool configuration.
func ListLogs(cfg *config.Config) {
	fmt.Println("Available log files:")
	fmt.Println()
	fmt.Println("Summary logs:")
	fmt.Println("  00 or build    - 00_last_build.log")
	fmt.Println("  01 or success  - 01_success.log")
	fmt.Println("  02 or failure  - 02_failure.log")
	fmt.Println("  03 or skipped  - 03_skipped_steps.log")
	fmt.Println("  04 or abnormal - 04_abnormal_output.log")
	fmt.Println("  05 or debug    - 05_debug.log")
	fmt.Println()
	fmt.Println("Generation logs:")
	fmt.Println("  Each build writes generations/gen-N-<uuid>.log; the files")
	fmt.Println("  present are listed below and can be viewed directly.")
	fmt.Println()

	genDir := filepath.Join(cfg.LogsPath, "generations")
	if _, err := os.Stat(genDir); err == nil {
		fmt.Println("Recent generation logs:")
		filepath.Walk(genDir, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() || !strings.HasSuffix(path, ".log") {
				return nil
			}
			relPath, _ := filepath.Rel(genDir, path)
			fmt.Printf("  %s\n", relPath)
			return nil
		})
	}
}

// ViewLog prints a named log file, through a pager when one is available.
func ViewLog(cfg *config.Config, logName string) {
	logPath := filepath.Join(cfg.LogsPath, logName)

	file, err := os.Open(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
		return
	}
	defer file.Close()

	if usePager() {
		viewWithPager(logPath)
	} else {
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			fmt.Println(scanner.Text())
		}
	}
}

// ViewGenerationLog views the per-attempt step log for one build.
func ViewGenerationLog(cfg *config.Config, generation int, buildID string) {
	logPath := filepath.Join(cfg.LogsPath, "generations", fmt.Sprintf("gen-%d-%s.log", generation, buildID))

	file, err := os.Open(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening generation log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Log file: %s\n", logPath)
		return
	}
	defer file.Close()

	if usePager() {
		viewWithPager(logPath)
	} else {
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			fmt.Println(scanner.Text())
		}
	}
}

func usePager() bool {
	pager := os.Getenv("PAGER")
	if pager == "" {
		pager = "less"
	}
	_, err := os.Stat("/usr/bin/" + pager)
	return err == nil
}

func viewWithPager(path string) {
	pager := os.Getenv("PAGER")
	if pager == "" {
		pager = "less"
	}

	cmd := exec.Command(pager, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Run()
}

// TailLog shows the last N lines of a log file.
func TailLog(cfg *config.Config, logName string, lines int) {
	logPath := filepath.Join(cfg.LogsPath, logName)

	file, err := os.Open(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
		return
	}
	defer file.Close()

	var allLines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		allLines = append(allLines, scanner.Text())
	}

	start := len(allLines) - lines
	if start < 0 {
		start = 0
	}
	for i := start; i < len(allLines); i++ {
		fmt.Println(allLines[i])
	}
}

// GrepLog searches for a pattern in a log file.
func GrepLog(cfg *config.Config, logName, pattern string) {
	logPath := filepath.Join(cfg.LogsPath, logName)

	file, err := os.Open(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if strings.Contains(scanner.Text(), pattern) {
			fmt.Printf("%d: %s\n", lineNum, scanner.Text())
		}
	}
}

// GetLogSummary returns counts of build outcomes recorded in the summary logs.
func GetLogSummary(cfg *config.Config) map[string]int {
	summary := make(map[string]int)

	if n, err := countLines(filepath.Join(cfg.LogsPath, "01_success.log")); err == nil {
		summary["success"] = n
	}
	if n, err := countLines(filepath.Join(cfg.LogsPath, "02_failure.log")); err == nil {
		summary["failed"] = n
	}
	if n, err := countLines(filepath.Join(cfg.LogsPath, "03_skipped_steps.log")); err == nil {
		summary["skipped"] = n
	}

	return summary
}

func countLines(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	count := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			count++
		}
	}
	return count, scanner.Err()
}

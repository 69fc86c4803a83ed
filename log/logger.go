package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"darch/config"
)

// Logger manages the set of log files darch writes for a single build
// invocation: one aggregate results log plus focused logs for each
// outcome category, mirroring how a build run is reported on the
// terminal but durable after the process exits.
type Logger struct {
	cfg          *config.Config
	resultsFile  *os.File
	successFile  *os.File
	failureFile  *os.File
	skippedFile  *os.File
	abnormalFile *os.File
	debugFile    *os.File
	mu           sync.Mutex
}

// NewLogger creates the logs directory (if needed) and opens a fresh set
// of log files under it, truncating any left over from a previous run.
func NewLogger(logsPath string) (*Logger, error) {
	if err := os.MkdirAll(logsPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	l := &Logger{}

	var err error
	if l.resultsFile, err = os.Create(filepath.Join(logsPath, "00_last_build.log")); err != nil {
		return nil, err
	}
	if l.successFile, err = os.Create(filepath.Join(logsPath, "01_success.log")); err != nil {
		return nil, err
	}
	if l.failureFile, err = os.Create(filepath.Join(logsPath, "02_failure.log")); err != nil {
		return nil, err
	}
	if l.skippedFile, err = os.Create(filepath.Join(logsPath, "03_skipped_steps.log")); err != nil {
		return nil, err
	}
	if l.abnormalFile, err = os.Create(filepath.Join(logsPath, "04_abnormal_output.log")); err != nil {
		return nil, err
	}
	if l.debugFile, err = os.Create(filepath.Join(logsPath, "05_debug.log")); err != nil {
		return nil, err
	}

	l.writeHeaders()
	return l, nil
}

// Close closes all open log files.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, f := range []*os.File{l.resultsFile, l.successFile, l.failureFile, l.skippedFile, l.abnormalFile, l.debugFile} {
		if f != nil {
			f.Close()
		}
	}
}

func (l *Logger) writeHeaders() {
	timestamp := time.Now().Format(time.RFC3339)

	fmt.Fprintf(l.resultsFile, "darch build log - %s\n", timestamp)
	fmt.Fprintf(l.resultsFile, "%s\n\n", strings.Repeat("=", 70))

	fmt.Fprintf(l.successFile, "# Successful generations - %s\n\n", timestamp)
	fmt.Fprintf(l.failureFile, "# Failed builds - %s\n\n", timestamp)
	fmt.Fprintf(l.skippedFile, "# Skipped steps - %s\n\n", timestamp)
	fmt.Fprintf(l.abnormalFile, "Abnormal command output - %s\n\n", timestamp)
	fmt.Fprintf(l.debugFile, "Debug log - %s\n\n", timestamp)
}

// Success records a completed generation build.
func (l *Logger) Success(generation int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("15:04:05")
	msg := fmt.Sprintf("[%s] SUCCESS: generation %d\n", ts, generation)

	l.resultsFile.WriteString(msg)
	l.successFile.WriteString(fmt.Sprintf("gen-%d\n", generation))

	l.resultsFile.Sync()
	l.successFile.Sync()
}

// Failed records a build failure at a given step.
func (l *Logger) Failed(generation int, step string, cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("15:04:05")
	msg := fmt.Sprintf("[%s] FAILED: generation %d (step: %s): %v\n", ts, generation, step, cause)

	l.resultsFile.WriteString(msg)
	l.failureFile.WriteString(fmt.Sprintf("gen-%d (step: %s): %v\n", generation, step, cause))

	l.resultsFile.Sync()
	l.failureFile.Sync()
}

// Skipped records a build step that was skipped because the diff found
// nothing to do.
func (l *Logger) Skipped(generation int, step string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("15:04:05")
	msg := fmt.Sprintf("[%s] SKIPPED: generation %d (step: %s)\n", ts, generation, step)

	l.resultsFile.WriteString(msg)
	l.skippedFile.WriteString(fmt.Sprintf("gen-%d: %s\n", generation, step))

	l.resultsFile.Sync()
	l.skippedFile.Sync()
}

// Abnormal records raw captured output from a command that exited
// non-zero or otherwise behaved unexpectedly.
func (l *Logger) Abnormal(context, output string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("15:04:05")
	msg := fmt.Sprintf("[%s] ABNORMAL: %s\n%s\n\n", ts, context, output)

	l.abnormalFile.WriteString(msg)
	l.abnormalFile.Sync()
}

// Debug implements LibraryLogger.
func (l *Logger) Debug(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("15:04:05")
	l.debugFile.WriteString(fmt.Sprintf("[%s] "+format+"\n", append([]any{ts}, args...)...))
	l.debugFile.Sync()
}

// Error implements LibraryLogger.
func (l *Logger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("15:04:05")
	msg := fmt.Sprintf("[%s] ERROR: "+format+"\n", append([]any{ts}, args...)...)

	l.resultsFile.WriteString(msg)
	l.debugFile.WriteString(msg)

	l.resultsFile.Sync()
	l.debugFile.Sync()
}

// Info implements LibraryLogger.
func (l *Logger) Info(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("15:04:05")
	l.resultsFile.WriteString(fmt.Sprintf("[%s] INFO: "+format+"\n", append([]any{ts}, args...)...))
	l.resultsFile.Sync()
}

// Warn implements LibraryLogger.
func (l *Logger) Warn(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("15:04:05")
	msg := fmt.Sprintf("[%s] WARN: "+format+"\n", append([]any{ts}, args...)...)
	l.resultsFile.WriteString(msg)
	l.resultsFile.Sync()
}

// WriteSummary appends a final summary block to the results log.
func (l *Logger) WriteSummary(generation int, mode string, success bool, duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(l.resultsFile, "\n%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(l.resultsFile, "BUILD SUMMARY\n")
	fmt.Fprintf(l.resultsFile, "%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(l.resultsFile, "Generation:  %d\n", generation)
	fmt.Fprintf(l.resultsFile, "Mode:        %s\n", mode)
	fmt.Fprintf(l.resultsFile, "Result:      %s\n", map[bool]string{true: "success", false: "failed"}[success])
	fmt.Fprintf(l.resultsFile, "Duration:    %s\n", duration)
	fmt.Fprintf(l.resultsFile, "%s\n", strings.Repeat("=", 70))

	l.resultsFile.Sync()
}

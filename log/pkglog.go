package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// GenerationLogger is the per-attempt step log for a single generation
// build, opened alongside the Ledger record for the same attempt (one
// file, LogsPath/generations/gen-<N>-<build UUID>.log, kept after the
// run so a failure can be diagnosed without re-running).
type GenerationLogger struct {
	mu         sync.Mutex
	file       *os.File
	generation int
}

// NewGenerationLogger opens (creating if necessary) the step log for one
// build attempt.
func NewGenerationLogger(logsPath string, generation int, buildID string) (*GenerationLogger, error) {
	dir := filepath.Join(logsPath, "generations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create generation log directory: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("gen-%d-%s.log", generation, buildID)))
	if err != nil {
		return nil, err
	}
	gl := &GenerationLogger{file: f, generation: generation}
	gl.writeHeader()
	return gl, nil
}

func (gl *GenerationLogger) writeHeader() {
	gl.mu.Lock()
	defer gl.mu.Unlock()

	fmt.Fprintf(gl.file, "%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(gl.file, "Build log: generation %d\n", gl.generation)
	fmt.Fprintf(gl.file, "Started: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(gl.file, "%s\n\n", strings.Repeat("=", 70))
	gl.file.Sync()
}

// WriteStep logs the start of a named build step (e.g. "install-packages",
// "write-files", "regenerate-initramfs").
func (gl *GenerationLogger) WriteStep(step string) {
	gl.mu.Lock()
	defer gl.mu.Unlock()

	fmt.Fprintf(gl.file, "\n%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(gl.file, "Step: %s\n", step)
	fmt.Fprintf(gl.file, "Time: %s\n", time.Now().Format("15:04:05"))
	fmt.Fprintf(gl.file, "%s\n", strings.Repeat("=", 70))
	gl.file.Sync()
}

// WriteOutput appends raw command output under the current step.
func (gl *GenerationLogger) WriteOutput(output string) {
	gl.mu.Lock()
	defer gl.mu.Unlock()

	gl.file.WriteString(output)
	if !strings.HasSuffix(output, "\n") {
		gl.file.WriteString("\n")
	}
	gl.file.Sync()
}

// WriteSuccess closes out the log with a success footer.
func (gl *GenerationLogger) WriteSuccess(duration time.Duration) {
	gl.mu.Lock()
	defer gl.mu.Unlock()

	fmt.Fprintf(gl.file, "\n%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(gl.file, "BUILD SUCCESS\n")
	fmt.Fprintf(gl.file, "Completed: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(gl.file, "Duration: %s\n", duration)
	fmt.Fprintf(gl.file, "%s\n", strings.Repeat("=", 70))
	gl.file.Sync()
}

// WriteFailure closes out the log with a failure footer naming the step
// that failed.
func (gl *GenerationLogger) WriteFailure(duration time.Duration, step string, cause error) {
	gl.mu.Lock()
	defer gl.mu.Unlock()

	fmt.Fprintf(gl.file, "\n%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(gl.file, "BUILD FAILED\n")
	fmt.Fprintf(gl.file, "Step: %s\n", step)
	fmt.Fprintf(gl.file, "Reason: %v\n", cause)
	fmt.Fprintf(gl.file, "Completed: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(gl.file, "Duration: %s\n", duration)
	fmt.Fprintf(gl.file, "%s\n", strings.Repeat("=", 70))
	gl.file.Sync()
}

// Close closes the underlying file.
func (gl *GenerationLogger) Close() error {
	gl.mu.Lock()
	defer gl.mu.Unlock()
	return gl.file.Close()
}

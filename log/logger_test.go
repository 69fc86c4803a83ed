package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	logsPath := filepath.Join(t.TempDir(), "logs")

	logger, err := NewLogger(logsPath)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(logsPath); os.IsNotExist(err) {
		t.Error("logs directory was not created")
	}

	expectedFiles := []string{
		"00_last_build.log",
		"01_success.log",
		"02_failure.log",
		"03_skipped_steps.log",
		"04_abnormal_output.log",
		"05_debug.log",
	}
	for _, filename := range expectedFiles {
		if _, err := os.Stat(filepath.Join(logsPath, filename)); os.IsNotExist(err) {
			t.Errorf("log file %s was not created", filename)
		}
	}
}

func TestLoggerSuccess(t *testing.T) {
	logsPath := filepath.Join(t.TempDir(), "logs")
	logger, err := NewLogger(logsPath)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	logger.Success(7)

	data, err := os.ReadFile(filepath.Join(logsPath, "01_success.log"))
	if err != nil {
		t.Fatalf("reading success log: %v", err)
	}
	if !strings.Contains(string(data), "gen-7") {
		t.Errorf("success log missing generation entry: %s", data)
	}
}

func TestLoggerFailed(t *testing.T) {
	logsPath := filepath.Join(t.TempDir(), "logs")
	logger, err := NewLogger(logsPath)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	logger.Failed(3, "install-packages", os.ErrDeadlineExceeded)

	data, err := os.ReadFile(filepath.Join(logsPath, "02_failure.log"))
	if err != nil {
		t.Fatalf("reading failure log: %v", err)
	}
	if !strings.Contains(string(data), "gen-3") || !strings.Contains(string(data), "install-packages") {
		t.Errorf("failure log missing expected detail: %s", data)
	}
}

func TestLoggerSkipped(t *testing.T) {
	logsPath := filepath.Join(t.TempDir(), "logs")
	logger, err := NewLogger(logsPath)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	logger.Skipped(4, "regenerate-initramfs")

	data, err := os.ReadFile(filepath.Join(logsPath, "03_skipped_steps.log"))
	if err != nil {
		t.Fatalf("reading skipped log: %v", err)
	}
	if !strings.Contains(string(data), "regenerate-initramfs") {
		t.Errorf("skipped log missing step name: %s", data)
	}
}

func TestLoggerImplementsLibraryLogger(t *testing.T) {
	logsPath := filepath.Join(t.TempDir(), "logs")
	logger, err := NewLogger(logsPath)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	var _ LibraryLogger = logger

	logger.Info("starting build %d", 1)
	logger.Warn("retrying step %s", "mount")
	logger.Error("step %s failed", "mount")
	logger.Debug("verbose detail")

	data, err := os.ReadFile(filepath.Join(logsPath, "00_last_build.log"))
	if err != nil {
		t.Fatalf("reading results log: %v", err)
	}
	if !strings.Contains(string(data), "starting build 1") {
		t.Errorf("results log missing info message: %s", data)
	}
}

func TestLoggerWriteSummary(t *testing.T) {
	logsPath := filepath.Join(t.TempDir(), "logs")
	logger, err := NewLogger(logsPath)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	logger.WriteSummary(9, "incremental", true, 2*time.Second)

	data, err := os.ReadFile(filepath.Join(logsPath, "00_last_build.log"))
	if err != nil {
		t.Fatalf("reading results log: %v", err)
	}
	if !strings.Contains(string(data), "Generation:  9") {
		t.Errorf("summary missing generation: %s", data)
	}
}

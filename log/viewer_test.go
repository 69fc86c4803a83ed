package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"darch/config"
)

func TestGetLogSummary(t *testing.T) {
	cfg := &config.Config{LogsPath: filepath.Join(t.TempDir(), "logs")}
	os.MkdirAll(cfg.LogsPath, 0o755)

	os.WriteFile(filepath.Join(cfg.LogsPath, "01_success.log"), []byte("# Header\n\ngen-1\ngen-2\ngen-3\n"), 0o644)
	os.WriteFile(filepath.Join(cfg.LogsPath, "02_failure.log"), []byte("# Header\n\ngen-4 (step: install)\n"), 0o644)
	os.WriteFile(filepath.Join(cfg.LogsPath, "03_skipped_steps.log"), []byte("# Header\n\ngen-5: regenerate-initramfs\n"), 0o644)

	summary := GetLogSummary(cfg)
	if summary["success"] != 3 {
		t.Errorf("success count = %d, want 3", summary["success"])
	}
	if summary["failed"] != 1 {
		t.Errorf("failed count = %d, want 1", summary["failed"])
	}
	if summary["skipped"] != 1 {
		t.Errorf("skipped count = %d, want 1", summary["skipped"])
	}
}

func TestGetLogSummaryMissingFiles(t *testing.T) {
	cfg := &config.Config{LogsPath: filepath.Join(t.TempDir(), "logs")}
	os.MkdirAll(cfg.LogsPath, 0o755)

	summary := GetLogSummary(cfg)
	if summary["success"] != 0 {
		t.Errorf("success count = %d, want 0 for missing file", summary["success"])
	}
}

func TestCountLines(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "test.log")

	tests := []struct {
		name        string
		content     string
		expectCount int
	}{
		{"empty file", "", 0},
		{"single line", "line1\n", 1},
		{"multiple lines", "line1\nline2\nline3\n", 3},
		{"with empty lines", "line1\n\nline2\n\nline3\n", 3},
		{"with comment lines", "line1\n# comment\nline2\n", 2},
		{"whitespace only lines", "line1\n   \nline2\n\t\n", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := os.WriteFile(testFile, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("failed to write test file: %v", err)
			}

			count, err := countLines(testFile)
			if err != nil {
				t.Fatalf("countLines failed: %v", err)
			}
			if count != tt.expectCount {
				t.Errorf("countLines() = %d, want %d", count, tt.expectCount)
			}
		})
	}
}

func TestCountLinesNonExistentFile(t *testing.T) {
	if _, err := countLines("/nonexistent/file.log"); err == nil {
		t.Error("countLines should return error for non-existent file")
	}
}

func TestUsePager(t *testing.T) {
	originalPager := os.Getenv("PAGER")
	defer os.Setenv("PAGER", originalPager)

	os.Setenv("PAGER", "nonexistentpager")
	if usePager() {
		t.Error("usePager should be false for a pager that doesn't exist on disk")
	}
}

func TestListLogs(t *testing.T) {
	cfg := &config.Config{LogsPath: filepath.Join(t.TempDir(), "logs")}
	os.MkdirAll(cfg.LogsPath, 0o755)

	genDir := filepath.Join(cfg.LogsPath, "generations")
	os.MkdirAll(genDir, 0o755)
	os.WriteFile(filepath.Join(genDir, "gen-1-abc.log"), []byte("test"), 0o644)

	ListLogs(cfg)
}

func TestViewLogNonExistentFile(t *testing.T) {
	cfg := &config.Config{LogsPath: filepath.Join(t.TempDir(), "logs")}
	os.MkdirAll(cfg.LogsPath, 0o755)

	ViewLog(cfg, "nonexistent.log")
}

func TestViewGenerationLogNonExistentFile(t *testing.T) {
	cfg := &config.Config{LogsPath: filepath.Join(t.TempDir(), "logs")}
	os.MkdirAll(cfg.LogsPath, 0o755)

	ViewGenerationLog(cfg, 1, "nonexistent")
}

func TestTailLog(t *testing.T) {
	cfg := &config.Config{LogsPath: filepath.Join(t.TempDir(), "logs")}
	os.MkdirAll(cfg.LogsPath, 0o755)

	content := strings.Join([]string{"line1", "line2", "line3", "line4", "line5"}, "\n")
	os.WriteFile(filepath.Join(cfg.LogsPath, "test.log"), []byte(content), 0o644)

	TailLog(cfg, "test.log", 3)
}

func TestTailLogNonExistentFile(t *testing.T) {
	cfg := &config.Config{LogsPath: filepath.Join(t.TempDir(), "logs")}
	os.MkdirAll(cfg.LogsPath, 0o755)

	TailLog(cfg, "nonexistent.log", 10)
}

func TestGrepLog(t *testing.T) {
	cfg := &config.Config{LogsPath: filepath.Join(t.TempDir(), "logs")}
	os.MkdirAll(cfg.LogsPath, 0o755)

	content := strings.Join([]string{
		"normal line",
		"ERROR: something went wrong",
		"another normal line",
		"ERROR: another error",
	}, "\n")
	os.WriteFile(filepath.Join(cfg.LogsPath, "test.log"), []byte(content), 0o644)

	GrepLog(cfg, "test.log", "ERROR")
}

func TestGrepLogNonExistentFile(t *testing.T) {
	cfg := &config.Config{LogsPath: filepath.Join(t.TempDir(), "logs")}
	os.MkdirAll(cfg.LogsPath, 0o755)

	GrepLog(cfg, "nonexistent.log", "pattern")
}

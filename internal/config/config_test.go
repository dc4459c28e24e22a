package config

import (
	"log/slog"
	"strings"
	"testing"
)

func clearExtractEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"JOB_ID", "AWS_BATCH_JOB_ID", "ARRAY_INDEX", "AWS_BATCH_JOB_ARRAY_INDEX",
		"CHUNK_SIZE", "MANIFEST_BUCKET", "MANIFEST_KEY", "OUTPUT_BUCKET",
		"OUTPUT_PREFIX", "EXCHANGE", "OCR_QUEUE_URL", "ENABLE_OCR_QUEUE",
		"OCR_PAGE_CHUNK_SIZE", "ENABLE_INLINE_OCR", "GIBBERISH_REPLACEMENT_RATIO",
		"LOG_LEVEL", "OCR_OUTPUT_BUCKET",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadExtractDefaults(t *testing.T) {
	clearExtractEnv(t)
	t.Setenv("MANIFEST_BUCKET", "mb")
	t.Setenv("MANIFEST_KEY", "m.csv")
	t.Setenv("OUTPUT_BUCKET", "ob")

	cfg := LoadExtract()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	if cfg.ArrayIndex != 0 {
		t.Errorf("array index = %d", cfg.ArrayIndex)
	}
	if cfg.ChunkSize != 1000 {
		t.Errorf("chunk size = %d", cfg.ChunkSize)
	}
	if cfg.OutputPrefix != "processed" {
		t.Errorf("output prefix = %q", cfg.OutputPrefix)
	}
	if !cfg.EnableOCRQueue {
		t.Error("ocr queue should default enabled")
	}
	if cfg.OCRPageChunkSize != 10 {
		t.Errorf("page chunk size = %d", cfg.OCRPageChunkSize)
	}
	if cfg.Gibberish.ReplacementRatio != 0.05 || cfg.Gibberish.MinTextLength != 20 {
		t.Errorf("gibberish = %+v", cfg.Gibberish)
	}
	if !strings.HasPrefix(cfg.JobID, "local-") {
		t.Errorf("job id = %q", cfg.JobID)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("log level = %v", cfg.LogLevel)
	}
	// Bboxes default next to the processed output.
	if cfg.BBoxBucket != "ob" {
		t.Errorf("bbox bucket = %q", cfg.BBoxBucket)
	}
}

func TestLoadExtractBatchEnvFallback(t *testing.T) {
	clearExtractEnv(t)
	t.Setenv("AWS_BATCH_JOB_ID", "batch-123")
	t.Setenv("AWS_BATCH_JOB_ARRAY_INDEX", "7")

	cfg := LoadExtract()
	if cfg.JobID != "batch-123" {
		t.Errorf("job id = %q", cfg.JobID)
	}
	if cfg.ArrayIndex != 7 {
		t.Errorf("array index = %d", cfg.ArrayIndex)
	}
}

func TestLoadExtractExplicitOverrides(t *testing.T) {
	clearExtractEnv(t)
	t.Setenv("JOB_ID", "manual-run")
	t.Setenv("AWS_BATCH_JOB_ID", "batch-123")
	t.Setenv("ARRAY_INDEX", "2")
	t.Setenv("CHUNK_SIZE", "250")
	t.Setenv("EXCHANGE", "HKEX")
	t.Setenv("GIBBERISH_REPLACEMENT_RATIO", "0.2")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("OCR_OUTPUT_BUCKET", "bbox-bucket")
	t.Setenv("OUTPUT_BUCKET", "ob")

	cfg := LoadExtract()
	if cfg.JobID != "manual-run" {
		t.Errorf("explicit job id lost: %q", cfg.JobID)
	}
	if cfg.ArrayIndex != 2 || cfg.ChunkSize != 250 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Exchange != "HKEX" {
		t.Errorf("exchange = %q", cfg.Exchange)
	}
	if cfg.Gibberish.ReplacementRatio != 0.2 {
		t.Errorf("replacement ratio = %v", cfg.Gibberish.ReplacementRatio)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("log level = %v", cfg.LogLevel)
	}
	if cfg.BBoxBucket != "bbox-bucket" {
		t.Errorf("bbox bucket = %q", cfg.BBoxBucket)
	}
}

func TestExtractValidate(t *testing.T) {
	clearExtractEnv(t)
	cfg := LoadExtract()

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, name := range []string{"MANIFEST_BUCKET", "MANIFEST_KEY", "OUTPUT_BUCKET"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q missing %s", err.Error(), name)
		}
	}
}

func clearOCRWorkerEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OCR_QUEUE_URL", "OCR_OUTPUT_BUCKET", "OUTPUT_BUCKET", "OUTPUT_PREFIX",
		"OCR_QUEUE_WAIT_SECONDS", "OCR_QUEUE_VISIBILITY_TIMEOUT",
		"OCR_QUEUE_MAX_MESSAGES", "OCR_WORKER_RUN_ONCE", "WARM_OCR_ON_STARTUP",
		"ECS_SCALE_IN_PROTECTION_ENABLED", "ECS_TASK_PROTECTION_MINUTES",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadOCRWorkerDefaults(t *testing.T) {
	clearOCRWorkerEnv(t)
	t.Setenv("OCR_QUEUE_URL", "https://sqs.test/q")
	t.Setenv("OUTPUT_BUCKET", "ob")

	cfg := LoadOCRWorker()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	if cfg.WaitSeconds != 20 || cfg.VisibilityTimeout != 900 || cfg.MaxMessages != 1 {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.WarmOnStartup || !cfg.ScaleInProtection {
		t.Errorf("warm/protection defaults = %+v", cfg)
	}
	if cfg.ProtectionMinutes != 30 {
		t.Errorf("protection minutes = %d", cfg.ProtectionMinutes)
	}
	// OUTPUT_BUCKET backfills when no dedicated OCR bucket is set.
	if cfg.OutputBucket != "ob" {
		t.Errorf("output bucket = %q", cfg.OutputBucket)
	}
}

func TestLoadOCRWorkerClampsRanges(t *testing.T) {
	clearOCRWorkerEnv(t)
	t.Setenv("OCR_QUEUE_WAIT_SECONDS", "99")
	t.Setenv("OCR_QUEUE_VISIBILITY_TIMEOUT", "-5")
	t.Setenv("OCR_QUEUE_MAX_MESSAGES", "50")
	t.Setenv("ECS_TASK_PROTECTION_MINUTES", "100000")

	cfg := LoadOCRWorker()
	if cfg.WaitSeconds != 20 {
		t.Errorf("wait seconds = %d, want default 20", cfg.WaitSeconds)
	}
	if cfg.VisibilityTimeout != 900 {
		t.Errorf("visibility = %d, want default 900", cfg.VisibilityTimeout)
	}
	if cfg.MaxMessages != 1 {
		t.Errorf("max messages = %d, want default 1", cfg.MaxMessages)
	}
	if cfg.ProtectionMinutes != 30 {
		t.Errorf("protection minutes = %d, want default 30", cfg.ProtectionMinutes)
	}
}

func TestOCRWorkerValidate(t *testing.T) {
	clearOCRWorkerEnv(t)
	cfg := LoadOCRWorker()

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "OCR_QUEUE_URL") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// Package config loads worker configuration from the environment. Both
// binaries are configured exclusively through environment variables (the
// Batch and ECS schedulers inject them); viper supplies defaults and
// type coercion.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/nzhao20-glitch/filing-etl/internal/extract"
	"github.com/nzhao20-glitch/filing-etl/internal/ocrqueue"
)

// Extract is the extraction worker configuration.
type Extract struct {
	JobID      string
	ArrayIndex int
	ChunkSize  int

	ManifestBucket    string
	ManifestKey       string
	ManifestChunkMode bool

	OutputBucket string
	OutputPrefix string
	Exchange     string

	MetadataBucket string
	MetadataKey    string

	EnableTracking bool
	EnableDedup    bool
	JobsTable      string
	ErrorsTable    string
	DedupTable     string

	OCRQueueURL      string
	EnableOCRQueue   bool
	OCRPageChunkSize int

	EnableInlineOCR bool
	OCREndpoint     string
	RenderDPI       int
	BBoxBucket      string

	Gibberish              extract.GibberishConfig
	EnableGibberishMetrics bool

	DatabaseURL string
	LogLevel    slog.Level
}

// LoadExtract reads the extraction worker configuration from the
// environment.
func LoadExtract() Extract {
	v := newViper()

	v.SetDefault("job_id", "")
	v.SetDefault("array_index", -1)
	v.SetDefault("chunk_size", 1000)
	v.SetDefault("manifest_bucket", "")
	v.SetDefault("manifest_key", "")
	v.SetDefault("manifest_chunk_mode", false)
	v.SetDefault("output_bucket", "")
	v.SetDefault("output_prefix", "processed")
	v.SetDefault("exchange", "")
	v.SetDefault("metadata_bucket", "")
	v.SetDefault("metadata_key", "")
	v.SetDefault("enable_job_tracking", false)
	v.SetDefault("enable_dedup", false)
	v.SetDefault("dynamodb_jobs_table", "")
	v.SetDefault("dynamodb_errors_table", "")
	v.SetDefault("dynamodb_dedup_table", "")
	v.SetDefault("ocr_queue_url", "")
	v.SetDefault("enable_ocr_queue", true)
	v.SetDefault("ocr_page_chunk_size", ocrqueue.DefaultPageChunkSize)
	v.SetDefault("enable_inline_ocr", false)
	v.SetDefault("ocr_endpoint", "")
	v.SetDefault("ocr_render_dpi", 0)
	v.SetDefault("ocr_output_bucket", "")
	v.SetDefault("gibberish_replacement_ratio", extract.DefaultReplacementRatio)
	v.SetDefault("gibberish_unprintable_ratio", extract.DefaultUnprintableRatio)
	v.SetDefault("gibberish_min_text_length", extract.DefaultMinTextLength)
	v.SetDefault("enable_gibberish_metrics", true)
	v.SetDefault("database_url", "")
	v.SetDefault("log_level", "INFO")

	cfg := Extract{
		JobID:             v.GetString("job_id"),
		ArrayIndex:        v.GetInt("array_index"),
		ChunkSize:         v.GetInt("chunk_size"),
		ManifestBucket:    v.GetString("manifest_bucket"),
		ManifestKey:       v.GetString("manifest_key"),
		ManifestChunkMode: v.GetBool("manifest_chunk_mode"),
		OutputBucket:      v.GetString("output_bucket"),
		OutputPrefix:      v.GetString("output_prefix"),
		Exchange:          v.GetString("exchange"),
		MetadataBucket:    v.GetString("metadata_bucket"),
		MetadataKey:       v.GetString("metadata_key"),
		EnableTracking:    v.GetBool("enable_job_tracking"),
		EnableDedup:       v.GetBool("enable_dedup"),
		JobsTable:         v.GetString("dynamodb_jobs_table"),
		ErrorsTable:       v.GetString("dynamodb_errors_table"),
		DedupTable:        v.GetString("dynamodb_dedup_table"),
		OCRQueueURL:       v.GetString("ocr_queue_url"),
		EnableOCRQueue:    v.GetBool("enable_ocr_queue"),
		OCRPageChunkSize:  intAtLeast(v, "ocr_page_chunk_size", ocrqueue.DefaultPageChunkSize, 1),
		EnableInlineOCR:   v.GetBool("enable_inline_ocr"),
		OCREndpoint:       v.GetString("ocr_endpoint"),
		RenderDPI:         v.GetInt("ocr_render_dpi"),
		BBoxBucket:        v.GetString("ocr_output_bucket"),
		Gibberish: extract.GibberishConfig{
			ReplacementRatio: v.GetFloat64("gibberish_replacement_ratio"),
			UnprintableRatio: v.GetFloat64("gibberish_unprintable_ratio"),
			MinTextLength:    v.GetInt("gibberish_min_text_length"),
		},
		EnableGibberishMetrics: v.GetBool("enable_gibberish_metrics"),
		DatabaseURL:            v.GetString("database_url"),
		LogLevel:               parseLevel(v.GetString("log_level")),
	}

	// AWS Batch injects its own identifiers; honor them when the plain
	// variables are unset so the same image runs in both environments.
	if cfg.JobID == "" {
		cfg.JobID = v.GetString("aws_batch_job_id")
	}
	if cfg.JobID == "" {
		cfg.JobID = fmt.Sprintf("local-%d", os.Getpid())
	}
	if cfg.ArrayIndex < 0 {
		cfg.ArrayIndex = v.GetInt("aws_batch_job_array_index")
	}
	if cfg.ArrayIndex < 0 {
		cfg.ArrayIndex = 0
	}
	// Bounding boxes land next to the processed output unless a
	// dedicated extraction bucket is configured.
	if cfg.BBoxBucket == "" {
		cfg.BBoxBucket = cfg.OutputBucket
	}
	return cfg
}

// Validate reports the required variables that are missing.
func (c Extract) Validate() error {
	var missing []string
	if c.ManifestBucket == "" {
		missing = append(missing, "MANIFEST_BUCKET")
	}
	if c.ManifestKey == "" {
		missing = append(missing, "MANIFEST_KEY")
	}
	if c.OutputBucket == "" {
		missing = append(missing, "OUTPUT_BUCKET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// OCRWorker is the OCR worker configuration.
type OCRWorker struct {
	QueueURL     string
	OutputBucket string
	OutputPrefix string

	WaitSeconds       int
	VisibilityTimeout int
	MaxMessages       int
	RunOnce           bool

	WarmOnStartup bool
	OCREndpoint   string
	RenderDPI     int

	ScaleInProtection bool
	ProtectionMinutes int

	LogLevel slog.Level
}

// LoadOCRWorker reads the OCR worker configuration from the environment.
func LoadOCRWorker() OCRWorker {
	v := newViper()

	v.SetDefault("ocr_queue_url", "")
	v.SetDefault("ocr_output_bucket", "")
	v.SetDefault("output_bucket", "")
	v.SetDefault("output_prefix", "processed")
	v.SetDefault("ocr_queue_wait_seconds", 20)
	v.SetDefault("ocr_queue_visibility_timeout", 900)
	v.SetDefault("ocr_queue_max_messages", 1)
	v.SetDefault("ocr_worker_run_once", false)
	v.SetDefault("warm_ocr_on_startup", true)
	v.SetDefault("ocr_endpoint", "")
	v.SetDefault("ocr_render_dpi", 0)
	v.SetDefault("ecs_scale_in_protection_enabled", true)
	v.SetDefault("ecs_task_protection_minutes", 30)
	v.SetDefault("log_level", "INFO")

	cfg := OCRWorker{
		QueueURL:          v.GetString("ocr_queue_url"),
		OutputBucket:      v.GetString("ocr_output_bucket"),
		OutputPrefix:      v.GetString("output_prefix"),
		WaitSeconds:       intInRange(v, "ocr_queue_wait_seconds", 20, 0, 20),
		VisibilityTimeout: intInRange(v, "ocr_queue_visibility_timeout", 900, 0, 43200),
		MaxMessages:       intInRange(v, "ocr_queue_max_messages", 1, 1, 10),
		RunOnce:           v.GetBool("ocr_worker_run_once"),
		WarmOnStartup:     v.GetBool("warm_ocr_on_startup"),
		OCREndpoint:       v.GetString("ocr_endpoint"),
		RenderDPI:         v.GetInt("ocr_render_dpi"),
		ScaleInProtection: v.GetBool("ecs_scale_in_protection_enabled"),
		ProtectionMinutes: intInRange(v, "ecs_task_protection_minutes", 30, 1, 2880),
		LogLevel:          parseLevel(v.GetString("log_level")),
	}
	if cfg.OutputBucket == "" {
		cfg.OutputBucket = v.GetString("output_bucket")
	}
	if cfg.OutputPrefix == "" {
		cfg.OutputPrefix = "processed"
	}
	return cfg
}

// Validate reports the required variables that are missing.
func (c OCRWorker) Validate() error {
	var missing []string
	if c.QueueURL == "" {
		missing = append(missing, "OCR_QUEUE_URL")
	}
	if c.OutputBucket == "" {
		missing = append(missing, "OCR_OUTPUT_BUCKET or OUTPUT_BUCKET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	return v
}

// intInRange clamps out-of-bounds or unparseable values back to the
// default rather than failing startup.
func intInRange(v *viper.Viper, key string, def, minVal, maxVal int) int {
	val := v.GetInt(key)
	if val < minVal || val > maxVal {
		return def
	}
	return val
}

func intAtLeast(v *viper.Viper, key string, def, minVal int) int {
	val := v.GetInt(key)
	if val < minVal {
		return def
	}
	return val
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

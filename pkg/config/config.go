// Package config loads scanarchiver's runtime configuration from
// environment variables via viper, the way warren's cmd/warren bound its
// flags through pflag/viper-compatible sources.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every environment-derived setting named in the spec,
// plus the repair-tool addition carried in from the expanded spec.
type Config struct {
	ScanURL string
	DataDir string
	RawDir  string
	CursorDir string
	TmpDir  string

	GCSBucket            string
	GCSEnabled           bool
	GCSQueueHighWater    int
	GCSQueueLowWater     int
	GCSByteHighWater     int64
	GCSByteLowWater      int64
	GCSUploadConcurrency int

	APITimeout  time.Duration
	InsecureTLS bool

	BatchSize      int
	TestSampleSize int
	SkipDataTests  bool

	RepairVerifySampleSize int
}

// Load binds the fixed set of SCAN_* / GCS_* / DATA_* environment
// variables and returns a populated Config. Defaults mirror spec §6.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_dir", "/data")
	v.SetDefault("raw_dir", "/data/raw")
	v.SetDefault("cursor_dir", "/data/cursor")
	v.SetDefault("tmp_dir", "/data/tmp")
	v.SetDefault("gcs_enabled", false)
	v.SetDefault("gcs_queue_high_water", 1000)
	v.SetDefault("gcs_queue_low_water", 200)
	v.SetDefault("gcs_byte_high_water", 1<<30)
	v.SetDefault("gcs_byte_low_water", 1<<28)
	v.SetDefault("gcs_upload_concurrency", 4)
	v.SetDefault("api_timeout_ms", 30000)
	v.SetDefault("insecure_tls", "false")
	v.SetDefault("batch_size", 1000)
	v.SetDefault("test_sample_size", 50)
	v.SetDefault("skip_data_tests", false)
	v.SetDefault("repair_verify_sample_size", 50)

	for _, key := range []string{
		"scan_url", "data_dir", "raw_dir", "cursor_dir", "tmp_dir",
		"gcs_bucket", "gcs_enabled", "gcs_queue_high_water", "gcs_queue_low_water",
		"gcs_byte_high_water", "gcs_byte_low_water", "gcs_upload_concurrency",
		"api_timeout_ms", "insecure_tls", "batch_size", "test_sample_size",
		"skip_data_tests", "repair_verify_sample_size",
	} {
		_ = v.BindEnv(key)
	}

	if v.GetString("scan_url") == "" {
		return Config{}, fmt.Errorf("SCAN_URL is required")
	}

	cfg := Config{
		ScanURL:   v.GetString("scan_url"),
		DataDir:   v.GetString("data_dir"),
		RawDir:    v.GetString("raw_dir"),
		CursorDir: v.GetString("cursor_dir"),
		TmpDir:    v.GetString("tmp_dir"),

		GCSBucket:            v.GetString("gcs_bucket"),
		GCSEnabled:           v.GetBool("gcs_enabled"),
		GCSQueueHighWater:    v.GetInt("gcs_queue_high_water"),
		GCSQueueLowWater:     v.GetInt("gcs_queue_low_water"),
		GCSByteHighWater:     v.GetInt64("gcs_byte_high_water"),
		GCSByteLowWater:      v.GetInt64("gcs_byte_low_water"),
		GCSUploadConcurrency: v.GetInt("gcs_upload_concurrency"),

		APITimeout:  time.Duration(v.GetInt("api_timeout_ms")) * time.Millisecond,
		InsecureTLS: v.GetString("insecure_tls") == "true",

		BatchSize:      v.GetInt("batch_size"),
		TestSampleSize: v.GetInt("test_sample_size"),
		SkipDataTests:  v.GetBool("skip_data_tests"),

		RepairVerifySampleSize: v.GetInt("repair_verify_sample_size"),
	}

	if cfg.GCSEnabled && cfg.GCSBucket == "" {
		return Config{}, fmt.Errorf("GCS_BUCKET is required when GCS_ENABLED is true")
	}

	return cfg, nil
}

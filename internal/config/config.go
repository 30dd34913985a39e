// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Static errors for configuration validation.
var (
	// ErrInvalidPort is returned when PORT is outside 1-65535.
	ErrInvalidPort = errors.New("config: PORT must be between 1 and 65535")
	// ErrInvalidAuthorization is returned when a library authorization value is unknown.
	ErrInvalidAuthorization = errors.New("config: LIBRARY_AUTHORIZATION and LIBRARY_PROMPT_ANSWER must be NOT_DETERMINED, AUTHORIZED, DENIED or RESTRICTED")
	// ErrS3Incomplete is returned when only one of S3_BUCKET and S3_REGION is set.
	ErrS3Incomplete = errors.New("config: S3_BUCKET and S3_REGION must be set together")
	// ErrInvalidJPEGQuality is returned when PREVIEW_JPEG_QUALITY is outside 1-100.
	ErrInvalidJPEGQuality = errors.New("config: PREVIEW_JPEG_QUALITY must be between 1 and 100")
)

var authorizationValues = map[string]bool{
	"NOT_DETERMINED": true,
	"AUTHORIZED":     true,
	"DENIED":         true,
	"RESTRICTED":     true,
}

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Storage settings
	CacheDir string `env:"CACHE_DIR" json:"cache_dir,omitempty"` // Empty: OS user cache dir
	InboxDir string `env:"INBOX_DIR" json:"inbox_dir,omitempty"` // Empty: inbox picker disabled

	InboxDebounce time.Duration `env:"INBOX_DEBOUNCE, default=500ms" json:"inbox_debounce"`

	// Library settings
	LibraryDir           string `env:"LIBRARY_DIR" json:"library_dir,omitempty"`
	LibraryIndex         string `env:"LIBRARY_INDEX" json:"library_index,omitempty"`
	LibraryAuthorization string `env:"LIBRARY_AUTHORIZATION, default=NOT_DETERMINED" json:"library_authorization"`
	LibraryPromptAnswer  string `env:"LIBRARY_PROMPT_ANSWER, default=AUTHORIZED" json:"library_prompt_answer"`

	// Optional S3 settings; when set, the library uploads to the bucket
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3Prefix           string `env:"S3_PREFIX, default=library" json:"s3_prefix"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Media toolchain
	FFmpegPath  string `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"`
	FFprobePath string `env:"FFPROBE_PATH" json:"ffprobe_path,omitempty"`

	// Preview settings
	PreviewRealtime    bool `env:"PREVIEW_REALTIME, default=true" json:"preview_realtime"`
	PreviewJPEGQuality int  `env:"PREVIEW_JPEG_QUALITY, default=80" json:"preview_jpeg_quality"`

	// Logging settings
	LogFormat          string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel           string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
	LogFile            string `env:"LOG_FILE" json:"log_file,omitempty"`         // Optional rotating file sink
	LogFileMaxSizeMB   int    `env:"LOG_FILE_MAX_SIZE_MB, default=50" json:"log_file_max_size_mb"`
	LogFileMaxBackups  int    `env:"LOG_FILE_MAX_BACKUPS, default=3" json:"log_file_max_backups"`
	LogFileMaxAgeDays  int    `env:"LOG_FILE_MAX_AGE_DAYS, default=14" json:"log_file_max_age_days"`
	LogFileCompression bool   `env:"LOG_FILE_COMPRESS, default=false" json:"log_file_compress"`
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// InboxEnabled returns true if an inbox directory is configured.
func (c *Config) InboxEnabled() bool {
	return c.InboxDir != ""
}

// LibraryPath returns the library directory, defaulting to ~/Videos/filteredvideo.
func (c *Config) LibraryPath() string {
	if c.LibraryDir != "" {
		return c.LibraryDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, "Videos", "filteredvideo")
}

// LibraryIndexPath returns the library index database path.
func (c *Config) LibraryIndexPath() string {
	if c.LibraryIndex != "" {
		return c.LibraryIndex
	}
	return filepath.Join(c.LibraryPath(), "library.db")
}

// Load reads an optional .env file and then the environment using go-envconfig.
// Variables already set in the environment win over the .env file.
// files defaults to ".env"; missing files are ignored.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load env file: %w", err)
	}

	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if !authorizationValues[strings.ToUpper(c.LibraryAuthorization)] ||
		!authorizationValues[strings.ToUpper(c.LibraryPromptAnswer)] {
		return ErrInvalidAuthorization
	}
	if (c.S3Bucket == "") != (c.S3Region == "") {
		return ErrS3Incomplete
	}
	if c.PreviewJPEGQuality < 1 || c.PreviewJPEGQuality > 100 {
		return ErrInvalidJPEGQuality
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs. When LogFile is set, logs
// are also written to a size-rotated file.
func (c *Config) NewLogger() *slog.Logger {
	var out io.Writer = os.Stdout
	if c.LogFile != "" {
		out = io.MultiWriter(os.Stdout, c.logFileWriter())
	}
	return c.newLogger(out)
}

func (c *Config) logFileWriter() *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    c.LogFileMaxSizeMB,
		MaxBackups: c.LogFileMaxBackups,
		MaxAge:     c.LogFileMaxAgeDays,
		Compress:   c.LogFileCompression,
	}
}

func (c *Config) newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, CacheDir: %s, InboxDir: %s, LibraryDir: %s, LibraryAuthorization: %s, S3Bucket: %s, S3Region: %s, S3Endpoint: %s, PreviewRealtime: %t, LogFormat: %s, LogLevel: %s, LogFile: %s}",
		c.Port,
		c.CacheDir,
		c.InboxDir,
		c.LibraryDir,
		c.LibraryAuthorization,
		c.S3Bucket,
		c.S3Region,
		c.S3Endpoint,
		c.PreviewRealtime,
		c.LogFormat,
		c.LogLevel,
		c.LogFile,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PORT", "CACHE_DIR", "INBOX_DIR", "INBOX_DEBOUNCE",
	"LIBRARY_DIR", "LIBRARY_INDEX", "LIBRARY_AUTHORIZATION", "LIBRARY_PROMPT_ANSWER",
	"S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_PREFIX", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY",
	"FFMPEG_PATH", "FFPROBE_PATH", "PREVIEW_REALTIME", "PREVIEW_JPEG_QUALITY",
	"LOG_FORMAT", "LOG_LEVEL", "LOG_FILE", "LOG_FILE_MAX_SIZE_MB", "LOG_FILE_MAX_BACKUPS",
	"LOG_FILE_MAX_AGE_DAYS", "LOG_FILE_COMPRESS",
}

// clearEnv unsets every variable Load reads. Values are restored after the test,
// including any a .env file set.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Empty(t, cfg.CacheDir)
	assert.Empty(t, cfg.InboxDir)
	assert.Equal(t, 500*time.Millisecond, cfg.InboxDebounce)
	assert.Equal(t, "NOT_DETERMINED", cfg.LibraryAuthorization)
	assert.Equal(t, "AUTHORIZED", cfg.LibraryPromptAnswer)
	assert.Equal(t, "library", cfg.S3Prefix)
	assert.True(t, cfg.PreviewRealtime)
	assert.Equal(t, 80, cfg.PreviewJPEGQuality)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.LogFile)
	assert.Equal(t, 50, cfg.LogFileMaxSizeMB)
	assert.False(t, cfg.S3Enabled())
	assert.False(t, cfg.InboxEnabled())
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("CACHE_DIR", "/var/cache/fv")
	t.Setenv("INBOX_DIR", "/srv/inbox")
	t.Setenv("INBOX_DEBOUNCE", "2s")
	t.Setenv("LIBRARY_DIR", "/srv/library")
	t.Setenv("LIBRARY_AUTHORIZATION", "DENIED")
	t.Setenv("S3_BUCKET", "videos")
	t.Setenv("S3_REGION", "eu-west-1")
	t.Setenv("S3_ENDPOINT", "http://minio:9000")
	t.Setenv("FFMPEG_PATH", "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv("PREVIEW_REALTIME", "false")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "/var/cache/fv", cfg.CacheDir)
	assert.Equal(t, "/srv/inbox", cfg.InboxDir)
	assert.Equal(t, 2*time.Second, cfg.InboxDebounce)
	assert.Equal(t, "/srv/library", cfg.LibraryPath())
	assert.Equal(t, "/srv/library/library.db", cfg.LibraryIndexPath())
	assert.Equal(t, "DENIED", cfg.LibraryAuthorization)
	assert.Equal(t, "http://minio:9000", cfg.S3Endpoint)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.FFmpegPath)
	assert.False(t, cfg.PreviewRealtime)
	assert.True(t, cfg.S3Enabled())
	assert.True(t, cfg.InboxEnabled())
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PORT=7070\nLOG_LEVEL=warn\n"), 0o600))
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "error", cfg.LogLevel, "the environment wins over the .env file")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want error
	}{
		{"port out of range", "PORT", "70000", ErrInvalidPort},
		{"authorization", "LIBRARY_AUTHORIZATION", "MAYBE", ErrInvalidAuthorization},
		{"prompt answer", "LIBRARY_PROMPT_ANSWER", "LATER", ErrInvalidAuthorization},
		{"bucket without region", "S3_BUCKET", "videos", ErrS3Incomplete},
		{"jpeg quality", "PREVIEW_JPEG_QUALITY", "0", ErrInvalidJPEGQuality},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)

			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("not an integer", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PORT", "abc")

		_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
		assert.Error(t, err)
	})
}

func TestLoad_MalformedEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, err := Load(dir)
	assert.Error(t, err, "a directory is not an env file")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		Port:                 8080,
		LibraryAuthorization: "authorized",
		LibraryPromptAnswer:  "DENIED",
		PreviewJPEGQuality:   80,
	}
	assert.NoError(t, valid.Validate(), "authorization values are case-insensitive")

	withS3 := valid
	withS3.S3Bucket, withS3.S3Region = "b", "r"
	assert.NoError(t, withS3.Validate())

	regionOnly := valid
	regionOnly.S3Region = "r"
	assert.ErrorIs(t, regionOnly.Validate(), ErrS3Incomplete)
}

func TestConfig_LibraryPathDefault(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	cfg := &Config{}

	assert.Equal(t, filepath.Join("/home/tester", "Videos", "filteredvideo"), cfg.LibraryPath())
	assert.Equal(t, filepath.Join("/home/tester", "Videos", "filteredvideo", "library.db"), cfg.LibraryIndexPath())

	cfg.LibraryIndex = "/data/index.db"
	assert.Equal(t, "/data/index.db", cfg.LibraryIndexPath())
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		Port:               8080,
		CacheDir:           "/tmp/test",
		S3Bucket:           "bucket",
		S3Region:           "region",
		AWSAccessKeyID:     "AKIAEXAMPLE",
		AWSSecretAccessKey: "secret-key",
		LogFormat:          "json",
		LogLevel:           "info",
	}

	str := cfg.String()

	// Should contain non-sensitive values
	assert.Contains(t, str, "8080")
	assert.Contains(t, str, "/tmp/test")
	assert.Contains(t, str, "bucket")

	// Should NOT contain sensitive values
	assert.NotContains(t, str, "secret-key")
	assert.NotContains(t, str, "AKIAEXAMPLE")
}

func TestConfig_NewLogger_JSON(t *testing.T) {
	cfg := &Config{LogFormat: "json", LogLevel: "info"}

	var buf bytes.Buffer
	logger := cfg.newLogger(&buf)
	logger.Info("test message", slog.String("job_id", "export-1"))
	logger.Debug("hidden")

	assert.Contains(t, buf.String(), `"msg":"test message"`)
	assert.Contains(t, buf.String(), `"job_id":"export-1"`)
	assert.NotContains(t, buf.String(), "hidden")
	assert.NotNil(t, cfg.NewLogger())
}

func TestConfig_NewLogger_Text(t *testing.T) {
	cfg := &Config{LogFormat: "text", LogLevel: "debug"}

	var buf bytes.Buffer
	cfg.newLogger(&buf).Debug("visible")

	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "msg=visible")
}

func TestConfig_NewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "filteredvideo.log")
	cfg := &Config{LogFormat: "json", LogLevel: "info", LogFile: path, LogFileMaxSizeMB: 1}

	cfg.NewLogger().Info("to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoFFmpeg skips the test if ffmpeg or ffprobe is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH, skipping test")
	}
}

// createTestVideo creates a simple test video using ffmpeg.
func createTestVideo(t *testing.T, path string, duration float64, color string) {
	t.Helper()

	// Create a simple video with solid color and silent audio
	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=%s:s=64x48:r=25:d=%.1f", color, duration),
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=r=44100:cl=mono:d=%.1f", duration),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-shortest",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\noutput: %s", err, output)
	}
}

func TestNewFFmpeg(t *testing.T) {
	t.Run("default paths", func(t *testing.T) {
		f := NewFFmpeg("", "")
		if f.ffmpegPath != "ffmpeg" {
			t.Errorf("expected default path 'ffmpeg', got %q", f.ffmpegPath)
		}
		if f.ffprobePath != "ffprobe" {
			t.Errorf("expected default path 'ffprobe', got %q", f.ffprobePath)
		}
	})

	t.Run("custom paths", func(t *testing.T) {
		f := NewFFmpeg("/usr/local/bin/ffmpeg", "/usr/local/bin/ffprobe")
		if f.ffmpegPath != "/usr/local/bin/ffmpeg" {
			t.Errorf("expected custom path, got %q", f.ffmpegPath)
		}
		if f.ffprobePath != "/usr/local/bin/ffprobe" {
			t.Errorf("expected custom path, got %q", f.ffprobePath)
		}
	})
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"25/1", 25, false},
		{"30000/1001", 30000.0 / 1001.0, false},
		{"24", 24, false},
		{"0/0", 0, true},
		{"", 0, true},
		{"abc", 0, true},
		{"25/x", 0, true},
		{"-5", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRate(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidFrameRate) {
					t.Errorf("ParseRate(%q) error = %v, want ErrInvalidFrameRate", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRate(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseRate(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseProbe(t *testing.T) {
	t.Run("video with audio", func(t *testing.T) {
		data := []byte(`{
			"streams": [
				{"codec_type": "video", "width": 1920, "height": 1080, "avg_frame_rate": "30000/1001", "r_frame_rate": "30000/1001", "duration": "9.9"},
				{"codec_type": "audio"}
			],
			"format": {"duration": "10.010000"}
		}`)

		info, err := parseProbe(data)
		if err != nil {
			t.Fatalf("parseProbe failed: %v", err)
		}
		if info.Width != 1920 || info.Height != 1080 {
			t.Errorf("dimensions = %dx%d, want 1920x1080", info.Width, info.Height)
		}
		if info.Duration != 10.01 {
			t.Errorf("duration = %v, want 10.01", info.Duration)
		}
		if !info.HasAudio {
			t.Error("expected HasAudio")
		}
		if info.FrameSize() != 1920*1080*4 {
			t.Errorf("FrameSize() = %d", info.FrameSize())
		}
	})

	t.Run("falls back to r_frame_rate", func(t *testing.T) {
		data := []byte(`{
			"streams": [{"codec_type": "video", "width": 64, "height": 48, "avg_frame_rate": "0/0", "r_frame_rate": "25/1"}],
			"format": {"duration": "2.0"}
		}`)

		info, err := parseProbe(data)
		if err != nil {
			t.Fatalf("parseProbe failed: %v", err)
		}
		if info.FPS() != 25 {
			t.Errorf("FPS() = %v, want 25", info.FPS())
		}
		if info.HasAudio {
			t.Error("expected no audio")
		}
	})

	t.Run("no video stream", func(t *testing.T) {
		data := []byte(`{"streams": [{"codec_type": "audio"}], "format": {"duration": "2.0"}}`)
		if _, err := parseProbe(data); !errors.Is(err, ErrNoVideoStream) {
			t.Errorf("expected ErrNoVideoStream, got %v", err)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		if _, err := parseProbe([]byte("not json")); err == nil {
			t.Error("expected error for invalid JSON")
		}
	})
}

func TestParseProbe_Rotation(t *testing.T) {
	tests := []struct {
		name       string
		stream     string
		wantWidth  int
		wantHeight int
		wantRot    int
	}{
		{
			name:       "display matrix portrait",
			stream:     `"side_data_list": [{"side_data_type": "Display Matrix", "rotation": -90}]`,
			wantWidth:  1080,
			wantHeight: 1920,
			wantRot:    90,
		},
		{
			name:       "display matrix counter-clockwise",
			stream:     `"side_data_list": [{"side_data_type": "Display Matrix", "rotation": 90}]`,
			wantWidth:  1080,
			wantHeight: 1920,
			wantRot:    270,
		},
		{
			name:       "legacy rotate tag",
			stream:     `"tags": {"rotate": "90"}`,
			wantWidth:  1080,
			wantHeight: 1920,
			wantRot:    90,
		},
		{
			name:       "upside down keeps size",
			stream:     `"side_data_list": [{"rotation": 180}]`,
			wantWidth:  1920,
			wantHeight: 1080,
			wantRot:    180,
		},
		{
			name:       "side data without rotation",
			stream:     `"side_data_list": [{"side_data_type": "CPB properties"}]`,
			wantWidth:  1920,
			wantHeight: 1080,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte(`{
				"streams": [{"codec_type": "video", "width": 1920, "height": 1080, "avg_frame_rate": "30/1", ` + tt.stream + `}],
				"format": {"duration": "3.0"}
			}`)

			info, err := parseProbe(data)
			require.NoError(t, err)
			assert.Equal(t, tt.wantWidth, info.Width)
			assert.Equal(t, tt.wantHeight, info.Height)
			assert.Equal(t, tt.wantRot, info.Rotation)
			assert.Equal(t, tt.wantWidth*tt.wantHeight*4, info.FrameSize())
		})
	}
}

func TestNewReference(t *testing.T) {
	t.Run("accepts movies", func(t *testing.T) {
		ref, err := NewReference("clips/holiday.MOV", "")
		if err != nil {
			t.Fatalf("NewReference failed: %v", err)
		}
		if !filepath.IsAbs(ref.Path) {
			t.Errorf("expected absolute path, got %q", ref.Path)
		}
		if ref.Name != "holiday.MOV" {
			t.Errorf("Name = %q, want holiday.MOV", ref.Name)
		}
	})

	t.Run("rejects other kinds", func(t *testing.T) {
		for _, p := range []string{"photo.jpg", "notes.txt", "noext"} {
			if _, err := NewReference(p, ""); !errors.Is(err, ErrNotMovie) {
				t.Errorf("NewReference(%q) error = %v, want ErrNotMovie", p, err)
			}
		}
	})

	t.Run("zero value", func(t *testing.T) {
		if !(Reference{}).IsZero() {
			t.Error("expected zero reference")
		}
	})
}

func TestFFmpeg_Probe(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	f := NewFFmpeg("", "")
	ctx := context.Background()

	t.Run("probes generated video", func(t *testing.T) {
		src := filepath.Join(tmpDir, "probe.mp4")
		createTestVideo(t, src, 1.0, "red")

		info, err := f.Probe(ctx, src)
		if err != nil {
			t.Fatalf("Probe failed: %v", err)
		}
		if info.Width != 64 || info.Height != 48 {
			t.Errorf("dimensions = %dx%d, want 64x48", info.Width, info.Height)
		}
		if info.FPS() != 25 {
			t.Errorf("FPS() = %v, want 25", info.FPS())
		}
		if info.Duration < 0.9 || info.Duration > 1.2 {
			t.Errorf("duration = %.2f, want ~1.0", info.Duration)
		}
	})

	t.Run("non-existent file", func(t *testing.T) {
		_, err := f.Probe(ctx, "/nonexistent/video.mp4")
		if !errors.Is(err, ErrFFprobeExecution) {
			t.Errorf("expected ErrFFprobeExecution, got %v", err)
		}
	})
}

func TestFFmpeg_DecodeEncode(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	f := NewFFmpeg("", "")
	ctx := context.Background()

	src := filepath.Join(tmpDir, "source.mp4")
	createTestVideo(t, src, 1.0, "blue")

	info, err := f.Probe(ctx, src)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}

	reader, err := f.OpenReader(ctx, src, info)
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}

	dst := filepath.Join(tmpDir, "out.mp4")
	writer, err := f.OpenWriter(ctx, dst, info, src)
	if err != nil {
		t.Fatalf("OpenWriter failed: %v", err)
	}

	frames := 0
	for {
		img, err := reader.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}
		if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 48 {
			t.Fatalf("unexpected frame bounds %v", img.Bounds())
		}
		if err := writer.WriteFrame(img); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
		frames++
	}
	if err := reader.Close(); err != nil {
		t.Fatalf("reader Close failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer Close failed: %v", err)
	}

	if frames < 24 || frames > 26 {
		t.Errorf("decoded %d frames, want ~25", frames)
	}

	out, err := f.Probe(ctx, dst)
	if err != nil {
		t.Fatalf("Probe output failed: %v", err)
	}
	if out.Duration < info.Duration-0.1 || out.Duration > info.Duration+0.1 {
		t.Errorf("output duration %.2f, source %.2f", out.Duration, info.Duration)
	}
}

func TestFFmpegWriter_RejectsWrongSize(t *testing.T) {
	skipIfNoFFmpeg(t)

	f := NewFFmpeg("", "")
	info := Info{Width: 64, Height: 48, FrameRate: "25/1"}
	w, err := f.OpenWriter(context.Background(), filepath.Join(t.TempDir(), "bad.mp4"), info, "")
	if err != nil {
		t.Fatalf("OpenWriter failed: %v", err)
	}
	defer func() { _ = w.Abort() }()

	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	img.Set(0, 0, color.White)
	if err := w.WriteFrame(img); !errors.Is(err, ErrFrameSize) {
		t.Errorf("expected ErrFrameSize, got %v", err)
	}
}

func TestFFmpeg_OpenReaderRejectsEmptyInfo(t *testing.T) {
	f := NewFFmpeg("", "")
	if _, err := f.OpenReader(context.Background(), "x.mp4", Info{}); !errors.Is(err, ErrNoVideoStream) {
		t.Errorf("expected ErrNoVideoStream, got %v", err)
	}
	if _, err := f.OpenWriter(context.Background(), os.DevNull, Info{}, ""); !errors.Is(err, ErrNoVideoStream) {
		t.Errorf("expected ErrNoVideoStream, got %v", err)
	}
}

func TestFFmpegError(t *testing.T) {
	err := &FFmpegError{
		Args:   []string{"-i", "input.mp4", "-f", "rawvideo", "-"},
		Stderr: "Error opening input file",
		Err:    fmt.Errorf("exit status 1"),
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "exit status 1") {
		t.Error("Error() should contain underlying error")
	}
	if !strings.Contains(errStr, "Error opening input file") {
		t.Error("Error() should contain stderr")
	}

	unwrapped := err.Unwrap()
	if unwrapped == nil || unwrapped.Error() != "exit status 1" {
		t.Errorf("Unwrap() returned wrong error: %v", unwrapped)
	}
}

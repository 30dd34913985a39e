package session

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/filteredvideo/internal/events"
	"github.com/maauso/filteredvideo/internal/export"
	"github.com/maauso/filteredvideo/internal/media"
	"github.com/maauso/filteredvideo/internal/preview"
)

func TestSession_FFmpegExportKeepsDuration(t *testing.T) {
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not found in PATH, skipping test", bin)
		}
	}

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "source.mov")
	out, err := exec.Command("ffmpeg", "-y",
		"-f", "lavfi", "-i", "testsrc2=s=64x48:r=30:d=1.5",
		"-f", "lavfi", "-i", "sine=frequency=220:d=1.5",
		"-c:v", "libx264", "-preset", "ultrafast", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-shortest", srcPath,
	).CombinedOutput()
	require.NoError(t, err, "create test video: %s", out)

	codec := media.NewFFmpeg("", "")
	hub := events.NewHub(64)
	settled, cancelSub := hub.Subscribe()
	defer cancelSub()

	s := New(Config{
		Codec:           codec,
		Surface:         preview.NewMJPEGSurface(0),
		RealtimePreview: true,
		Exporter:        export.NewExporter(codec, quietLogger()),
		Events:          hub,
		Destination:     filepath.Join(dir, "cache", "video.mp4"),
		Logger:          quietLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()
	defer func() { _ = s.Close(context.Background()) }()

	ref, err := media.NewReference(srcPath, "")
	require.NoError(t, err)
	require.NoError(t, s.SetSource(ctx, ref))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "cache"), 0o750))
	job, err := s.StartExport(ctx, "")
	require.NoError(t, err)

	timeout := time.After(2 * time.Minute)
wait:
	for {
		select {
		case e := <-settled:
			if e.Type == events.ExportSettled {
				break wait
			}
		case <-timeout:
			t.Fatal("export did not settle")
		}
	}

	stored, err := s.Job(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, export.StatusCompleted, stored.Status, stored.Error)

	in, err := codec.Probe(ctx, srcPath)
	require.NoError(t, err)
	got, err := codec.Probe(ctx, stored.Destination)
	require.NoError(t, err)
	assert.InDelta(t, in.Duration, got.Duration, 0.1)
	assert.Equal(t, in.Width, got.Width)
	assert.True(t, got.HasAudio)
}

package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os/exec"
	"strconv"
	"sync"
)

// Compile-time check that FFmpeg implements Codec.
var _ Codec = (*FFmpeg)(nil)

// ErrFFprobeExecution is returned when the ffprobe command fails.
var ErrFFprobeExecution = errors.New("ffprobe execution failed")

// FFmpeg implements Codec using the ffmpeg and ffprobe CLIs.
type FFmpeg struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFmpeg creates a new FFmpeg codec.
// Empty paths default to the binaries found via PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		Duration     string `json:"duration"`
		Tags         struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []struct {
			Rotation *float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe returns the stream information of the video at path.
func (f *FFmpeg) Probe(ctx context.Context, path string) (Info, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Info{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return Info{}, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	return parseProbe(stdout.Bytes())
}

// parseProbe converts ffprobe JSON output into Info.
func parseProbe(data []byte) (Info, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var info Info
	video := false
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if video {
				continue
			}
			video = true
			info.Width = s.Width
			info.Height = s.Height
			info.FrameRate = s.AvgFrameRate
			if _, err := ParseRate(info.FrameRate); err != nil {
				info.FrameRate = s.RFrameRate
			}
			if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
				info.Duration = d
			}
			// The display matrix counts counter-clockwise, the legacy tag clockwise.
			for _, sd := range s.SideDataList {
				if sd.Rotation != nil {
					info.Rotation = normalizeRotation(-int(math.Round(*sd.Rotation)))
					break
				}
			}
			if info.Rotation == 0 {
				if r, err := strconv.Atoi(s.Tags.Rotate); err == nil {
					info.Rotation = normalizeRotation(r)
				}
			}
			// Frames are decoded upright, so report the displayed size.
			if info.Rotation == 90 || info.Rotation == 270 {
				info.Width, info.Height = info.Height, info.Width
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if !video || info.Width <= 0 || info.Height <= 0 {
		return Info{}, ErrNoVideoStream
	}
	if _, err := ParseRate(info.FrameRate); err != nil {
		return Info{}, err
	}
	if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		info.Duration = d
	}
	return info, nil
}

// normalizeRotation maps any multiple of 90 degrees into [0, 360).
// Other angles are treated as upright.
func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	if deg%90 != 0 {
		return 0
	}
	return deg
}

// OpenReader starts decoding path into constant-rate upright RGBA frames.
// ffmpeg applies the stream's display rotation, matching the size parseProbe reports.
func (f *FFmpeg) OpenReader(ctx context.Context, path string, info Info) (FrameReader, error) {
	if info.FrameSize() <= 0 {
		return nil, ErrNoVideoStream
	}
	args := []string{
		"-v", "error",
		"-i", path,
		"-map", "0:v:0",
		"-r", info.FrameRate, // Force constant frame rate so frame count tracks duration
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-",
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open decoder stdout: %w", err)
	}
	r := &ffmpegReader{cmd: cmd, stdout: stdout, args: args, info: info}
	cmd.Stderr = &r.stderr
	if err := cmd.Start(); err != nil {
		return nil, &FFmpegError{Args: args, Err: err}
	}
	return r, nil
}

// OpenWriter starts an encoder writing an mp4 to dst at the highest quality preset.
// Audio is taken from audioFrom when it has an audio stream. The moov atom is left at
// the end of the file; the output is not optimised for progressive download.
func (f *FFmpeg) OpenWriter(ctx context.Context, dst string, info Info, audioFrom string) (FrameWriter, error) {
	if info.FrameSize() <= 0 {
		return nil, ErrNoVideoStream
	}
	args := []string{
		"-y", // Overwrite output file without asking
		"-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"-r", info.FrameRate,
		"-i", "-",
	}
	if info.HasAudio && audioFrom != "" {
		args = append(args, "-i", audioFrom, "-map", "0:v:0", "-map", "1:a:0?")
	}
	args = append(args,
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2", // libx264 needs even dimensions
		"-c:v", "libx264",
		"-preset", "veryslow",
		"-crf", "17",
		"-pix_fmt", "yuv420p",
	)
	if info.HasAudio && audioFrom != "" {
		args = append(args, "-c:a", "aac", "-b:a", "256k")
	}
	args = append(args, "-f", "mp4", dst)

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open encoder stdin: %w", err)
	}
	w := &ffmpegWriter{cmd: cmd, stdin: stdin, args: args, info: info, ctx: ctx}
	cmd.Stderr = &w.stderr
	if err := cmd.Start(); err != nil {
		return nil, &FFmpegError{Args: args, Err: err}
	}
	return w, nil
}

type ffmpegReader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
	args   []string
	info   Info

	once   sync.Once
	closed error
	eof    bool
}

func (r *ffmpegReader) ReadFrame() (*image.RGBA, error) {
	if r.eof {
		return nil, io.EOF
	}
	img := image.NewRGBA(image.Rect(0, 0, r.info.Width, r.info.Height))
	_, err := io.ReadFull(r.stdout, img.Pix)
	switch {
	case err == nil:
		return img, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		// A truncated trailing frame is dropped.
		r.eof = true
		if werr := r.wait(); werr != nil {
			return nil, werr
		}
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("read frame: %w", err)
	}
}

func (r *ffmpegReader) wait() error {
	r.once.Do(func() {
		if err := r.cmd.Wait(); err != nil {
			r.closed = &FFmpegError{Args: r.args, Stderr: r.stderr.String(), Err: err}
		}
	})
	return r.closed
}

func (r *ffmpegReader) Close() error {
	if !r.eof {
		// Stop the decoder early; its exit status is irrelevant.
		if r.cmd.Process != nil {
			_ = r.cmd.Process.Kill()
		}
		_ = r.stdout.Close()
		_ = r.wait()
		return nil
	}
	return r.wait()
}

type ffmpegWriter struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	args   []string
	info   Info
	ctx    context.Context
}

func (w *ffmpegWriter) WriteFrame(img *image.RGBA) error {
	b := img.Bounds()
	if b.Dx() != w.info.Width || b.Dy() != w.info.Height {
		return fmt.Errorf("%w: got %dx%d, want %dx%d", ErrFrameSize, b.Dx(), b.Dy(), w.info.Width, w.info.Height)
	}
	rowLen := w.info.Width * 4
	if img.Stride == rowLen && len(img.Pix) >= w.info.FrameSize() {
		_, err := w.stdin.Write(img.Pix[:w.info.FrameSize()])
		return w.writeErr(err)
	}
	for y := 0; y < w.info.Height; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		if _, err := w.stdin.Write(img.Pix[off : off+rowLen]); err != nil {
			return w.writeErr(err)
		}
	}
	return nil
}

func (w *ffmpegWriter) writeErr(err error) error {
	if err == nil {
		return nil
	}
	if w.ctx.Err() != nil {
		return fmt.Errorf("ffmpeg cancelled: %w", w.ctx.Err())
	}
	return fmt.Errorf("write frame: %w", err)
}

func (w *ffmpegWriter) Close() error {
	if err := w.stdin.Close(); err != nil {
		return fmt.Errorf("close encoder stdin: %w", err)
	}
	if err := w.cmd.Wait(); err != nil {
		if w.ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", w.ctx.Err())
		}
		return &FFmpegError{Args: w.args, Stderr: w.stderr.String(), Err: err}
	}
	return nil
}

func (w *ffmpegWriter) Abort() error {
	_ = w.stdin.Close()
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	_ = w.cmd.Wait()
	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

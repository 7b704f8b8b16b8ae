package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
)

// ErrNoFrame is returned when the input has no frame at the requested time
var ErrNoFrame = errors.New("no frame at requested time")

const rgbaBytes = 4

func rawVideoArgs(width, height int, filters *FilterBuilder) []string {
	chain := filters.Scale(width, height).Format("rgba").Build()
	return []string{
		"-an", "-sn",
		"-vf", chain,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	}
}

// FrameAt seeks to t seconds and decodes one frame as width x height RGBA
func (e *Executor) FrameAt(ctx context.Context, input string, t float64, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}

	args := e.baseArgs("error")
	args = append(args, Range{Start: t}.args()...)
	args = append(args, "-i", input, "-frames:v", "1")
	args = append(args, rawVideoArgs(width, height, NewFilterBuilder())...)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Seeking past the last frame yields no output rather than a clean error
	size := width * height * rgbaBytes
	if stdout.Len() < size {
		if runErr != nil {
			return nil, fmt.Errorf("%w at %.3fs: %v: %s", ErrNoFrame, t, runErr, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, fmt.Errorf("%w at %.3fs", ErrNoFrame, t)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, stdout.Bytes()[:size])
	return img, nil
}

// FrameReader decodes a range of the input sequentially at a fixed rate
type FrameReader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *stderrTail
	width  int
	height int
	frame  *image.RGBA
	done   chan struct{}
	exited bool
}

// NewFrameReader starts decoding rng of input as width x height RGBA at fps
func (e *Executor) NewFrameReader(ctx context.Context, input string, rng Range, fps float64, width, height int) (*FrameReader, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("fps must be positive")
	}

	args := e.baseArgs("error")
	args = append(args, rng.args()...)
	args = append(args, "-i", input)
	args = append(args, rawVideoArgs(width, height, NewFilterBuilder().FPS(fps))...)

	e.logger.Debug().
		Str("input", input).
		Float64("start", rng.Start).
		Float64("duration", rng.Duration).
		Float64("fps", fps).
		Msg("starting frame reader")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	r := &FrameReader{
		cmd:    cmd,
		stdout: stdout,
		stderr: newStderrTail(20),
		width:  width,
		height: height,
		frame:  image.NewRGBA(image.Rect(0, 0, width, height)),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		r.stderr.consume(stderr, e.logger)
	}()
	return r, nil
}

// Next returns the next decoded frame or io.EOF. The frame buffer is reused
// and only valid until the following call.
func (r *FrameReader) Next() (*image.RGBA, error) {
	if r.exited {
		return nil, io.EOF
	}
	if _, err := io.ReadFull(r.stdout, r.frame.Pix); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, r.finish()
		}
		return nil, err
	}
	return r.frame, nil
}

// finish reaps the decoder once its output is drained
func (r *FrameReader) finish() error {
	r.exited = true
	<-r.done
	if err := r.cmd.Wait(); err != nil {
		return fmt.Errorf("decode failed: %w: %s", err, r.stderr.String())
	}
	return io.EOF
}

// Close stops the decoder and reaps the process
func (r *FrameReader) Close() error {
	if r.exited {
		return nil
	}
	r.exited = true
	_ = r.stdout.Close()
	if r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
	<-r.done
	_ = r.cmd.Wait()
	return nil
}

// EncodeOptions configures a raw-frame encode
type EncodeOptions struct {
	Output     string
	Width      int
	Height     int
	FPS        float64
	VideoCodec string
	AudioCodec string
	CRF        int
	Preset     string
	// AudioSource supplies the soundtrack for AudioRange; empty encodes silence.
	AudioSource string
	AudioRange  Range
}

// Encoder accepts RGBA frames on stdin and writes an encoded container
type Encoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *stderrTail
	done   chan struct{}
	width  int
	height int
	frames int
}

// NewEncoder starts an ffmpeg process encoding raw frames to opts.Output
func (e *Executor) NewEncoder(ctx context.Context, opts EncodeOptions) (*Encoder, error) {
	if opts.Output == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", opts.Width, opts.Height)
	}
	if opts.FPS <= 0 {
		return nil, fmt.Errorf("fps must be positive")
	}

	args := encodeArgs(opts)
	args = append(e.baseArgs("error"), args...)

	e.logger.Info().
		Str("output", opts.Output).
		Int("width", opts.Width).
		Int("height", opts.Height).
		Float64("fps", opts.FPS).
		Msg("starting encoder")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	enc := &Encoder{
		cmd:    cmd,
		stdin:  stdin,
		stderr: newStderrTail(20),
		done:   make(chan struct{}),
		width:  opts.Width,
		height: opts.Height,
	}
	go func() {
		defer close(enc.done)
		enc.stderr.consume(stderr, e.logger)
	}()
	return enc, nil
}

func encodeArgs(opts EncodeOptions) []string {
	videoCodec := orDefault(opts.VideoCodec, DefaultVideoCodec)
	audioCodec := orDefault(opts.AudioCodec, DefaultAudioCodec)
	preset := orDefault(opts.Preset, DefaultPreset)
	crf := opts.CRF
	if crf == 0 {
		crf = DefaultCRF
	}
	rate := strconv.FormatFloat(opts.FPS, 'f', -1, 64)

	args := []string{
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-framerate", rate,
		"-i", "pipe:0",
	}
	if opts.AudioSource != "" {
		args = append(args, opts.AudioRange.args()...)
		args = append(args, "-i", opts.AudioSource)
	}

	args = append(args,
		"-map", "0:v:0",
		"-vf", NewFilterBuilder().EvenDimensions().Format("yuv420p").Build(),
		"-c:v", videoCodec,
		"-crf", strconv.Itoa(crf),
		"-preset", preset,
		"-r", rate,
	)
	if opts.AudioSource != "" {
		args = append(args,
			"-map", "1:a:0?",
			"-c:a", audioCodec,
			"-shortest",
		)
	}

	return append(args, "-movflags", "+faststart", opts.Output)
}

// WriteFrame sends one frame to the encoder
func (enc *Encoder) WriteFrame(img *image.RGBA) error {
	b := img.Bounds()
	if b.Dx() != enc.width || b.Dy() != enc.height {
		return fmt.Errorf("frame size %dx%d does not match encoder %dx%d", b.Dx(), b.Dy(), enc.width, enc.height)
	}

	rowBytes := enc.width * rgbaBytes
	if img.Stride == rowBytes {
		start := img.PixOffset(b.Min.X, b.Min.Y)
		if _, err := enc.stdin.Write(img.Pix[start : start+rowBytes*enc.height]); err != nil {
			return enc.fail(err)
		}
	} else {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			start := img.PixOffset(b.Min.X, y)
			if _, err := enc.stdin.Write(img.Pix[start : start+rowBytes]); err != nil {
				return enc.fail(err)
			}
		}
	}
	enc.frames++
	return nil
}

// Frames reports how many frames were written
func (enc *Encoder) Frames() int {
	return enc.frames
}

func (enc *Encoder) fail(err error) error {
	return fmt.Errorf("write frame %d: %w", enc.frames, err)
}

// Close flushes the encoder and waits for the container to be finalized
func (enc *Encoder) Close() error {
	closeErr := enc.stdin.Close()
	<-enc.done
	if err := enc.cmd.Wait(); err != nil {
		return fmt.Errorf("encode failed: %w: %s", err, enc.stderr.String())
	}
	if closeErr != nil {
		return fmt.Errorf("close encoder input: %w", closeErr)
	}
	return nil
}

// Abort kills the encoder without finalizing the output
func (enc *Encoder) Abort() {
	_ = enc.stdin.Close()
	if enc.cmd.Process != nil {
		_ = enc.cmd.Process.Kill()
	}
	<-enc.done
	_ = enc.cmd.Wait()
}

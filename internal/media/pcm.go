package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/playcall/internal/feed"
	"github.com/MrWong99/playcall/pkg/audio"
)

// defaultChunkDuration is the playback time covered by one decoded packet.
const defaultChunkDuration = 20 * time.Millisecond

// Fallback native format when ffprobe reports no sample rate or channel
// count for the audio stream.
const (
	fallbackSampleRate = 44100
	fallbackChannels   = 2
)

// SourceOption is a functional option for configuring a FileSource.
type SourceOption func(*FileSource)

// WithFFmpeg overrides the ffmpeg binary. Default: "ffmpeg" on PATH.
func WithFFmpeg(binary string) SourceOption {
	return func(s *FileSource) {
		if binary != "" {
			s.ffmpegBin = binary
		}
	}
}

// WithFFprobe overrides the ffprobe binary. Default: "ffprobe" on PATH.
func WithFFprobe(binary string) SourceOption {
	return func(s *FileSource) {
		if binary != "" {
			s.ffprobeBin = binary
		}
	}
}

// WithChunkDuration sets the playback time covered by one packet.
func WithChunkDuration(d time.Duration) SourceOption {
	return func(s *FileSource) {
		if d > 0 {
			s.chunk = d
		}
	}
}

// WithSourceLogger sets the logger used by the decoder.
func WithSourceLogger(log *slog.Logger) SourceOption {
	return func(s *FileSource) {
		if log != nil {
			s.log = log
		}
	}
}

// FileSource opens a media file (or anything ffmpeg can read, including
// network URIs) as a feed source. It implements [feed.Source].
type FileSource struct {
	path       string
	ffmpegBin  string
	ffprobeBin string
	chunk      time.Duration
	log        *slog.Logger
}

var _ feed.Source = (*FileSource)(nil)

// NewFileSource creates a source over the media at path.
func NewFileSource(path string, opts ...SourceOption) *FileSource {
	s := &FileSource{
		path:       path,
		ffmpegBin:  "ffmpeg",
		ffprobeBin: "ffprobe",
		chunk:      defaultChunkDuration,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open probes the source and spawns the decoder process. It returns
// [feed.ErrNoAudio] (wrapped) when the container carries no audio stream and
// a hard error when the source cannot be inspected at all.
func (s *FileSource) Open(ctx context.Context) (feed.Decoder, error) {
	res, err := Inspect(ctx, s.ffprobeBin, s.path)
	if err != nil {
		return nil, err
	}

	stream, ok := res.AudioStream()
	if !ok {
		return nil, fmt.Errorf("%w: %s", feed.ErrNoAudio, s.path)
	}

	rate := stream.SampleRateHz()
	if rate <= 0 {
		rate = fallbackSampleRate
	}
	channels := stream.Channels
	if channels <= 0 {
		channels = fallbackChannels
	}
	// The canonical converter downmixes mono and stereo only; surround
	// layouts are folded down to stereo by ffmpeg before they reach it.
	if channels > 2 {
		channels = 2
	}

	dec := &pcmDecoder{
		ctx:      ctx,
		path:     s.path,
		binary:   s.ffmpegBin,
		rate:     rate,
		channels: channels,
		// One packet = chunk duration worth of interleaved s16le samples.
		packetBytes: int(s.chunk.Seconds()*float64(rate)) * channels * 2,
		log:         s.log,
	}
	if dec.packetBytes <= 0 {
		dec.packetBytes = 2 * channels
	}

	if err := dec.spawn(); err != nil {
		return nil, err
	}

	s.log.Info("media source opened",
		"path", s.path,
		"codec", stream.CodecName,
		"sample_rate", rate,
		"channels", channels,
		"duration_s", res.DurationSeconds(),
	)
	return dec, nil
}

// pcmDecoder reads raw s16le PCM from an ffmpeg child process decoding the
// source's first audio stream at its native rate. Rewinding respawns the
// process from the start of the file. Used from a single goroutine.
type pcmDecoder struct {
	ctx         context.Context
	path        string
	binary      string
	rate        int
	channels    int
	packetBytes int
	log         *slog.Logger

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
	pos    time.Duration

	mu     sync.Mutex
	closed bool
}

var _ feed.Decoder = (*pcmDecoder)(nil)

// spawn starts a fresh ffmpeg process positioned at the start of the source.
func (d *pcmDecoder) spawn() error {
	d.stderr = &tailBuffer{}
	cmd := exec.CommandContext(d.ctx, d.binary,
		"-hide_banner", "-loglevel", "error",
		"-i", d.path,
		"-vn", "-map", "0:a:0",
		"-f", "s16le", "-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(d.rate),
		"-ac", strconv.Itoa(d.channels),
		"pipe:1",
	)
	cmd.Stderr = d.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("media: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("media: start decoder: %w", err)
	}

	d.cmd = cmd
	d.stdout = stdout
	d.pos = 0
	return nil
}

// reap kills the current decoder process and waits for it.
func (d *pcmDecoder) reap() {
	if d.cmd == nil {
		return
	}
	if d.stdout != nil {
		d.stdout.Close()
	}
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	_ = d.cmd.Wait()
	d.cmd = nil
	d.stdout = nil
}

// ReadPacket returns the next run of native PCM samples. A short final
// packet is returned as-is; the following call reports io.EOF.
func (d *pcmDecoder) ReadPacket() (audio.Chunk, error) {
	if d.stdout == nil {
		// A failed Rewind left no process behind; the caller's fault path
		// will retry.
		return audio.Chunk{}, fmt.Errorf("media: decoder not running")
	}
	buf := make([]byte, d.packetBytes)
	n, err := io.ReadFull(d.stdout, buf)
	if n > 0 {
		chunk := audio.Chunk{
			Data:       buf[:n],
			SampleRate: d.rate,
			Channels:   d.channels,
			Timestamp:  d.pos,
		}
		d.pos += chunk.Duration()
		return chunk, nil
	}

	if err == io.EOF || err == io.ErrUnexpectedEOF {
		// Distinguish a clean end of stream from a decoder crash: a failed
		// process turns the fault path on instead of the loop path.
		werr := d.cmd.Wait()
		d.cmd = nil
		d.stdout = nil
		if werr != nil && d.ctx.Err() == nil {
			return audio.Chunk{}, fmt.Errorf("media: decoder exited: %w: %s", werr, d.stderr.Tail())
		}
		return audio.Chunk{}, io.EOF
	}
	return audio.Chunk{}, fmt.Errorf("media: read packet: %w: %s", err, d.stderr.Tail())
}

// Rewind respawns the decoder at the start of the source.
func (d *pcmDecoder) Rewind() error {
	d.reap()
	if d.ctx.Err() != nil {
		return d.ctx.Err()
	}
	if err := d.spawn(); err != nil {
		return fmt.Errorf("media: rewind: %w", err)
	}
	d.log.Debug("media decoder rewound", "path", d.path)
	return nil
}

// Close kills the decoder process and releases the pipes. Safe to call more
// than once.
func (d *pcmDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.reap()
	return nil
}

// tailBuffer keeps the last portion of the decoder's stderr for fault logs.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

const tailBufferSize = 1024

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > tailBufferSize {
		t.buf = t.buf[len(t.buf)-tailBufferSize:]
	}
	return len(p), nil
}

// Tail returns the captured stderr tail, trimmed.
func (t *tailBuffer) Tail() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

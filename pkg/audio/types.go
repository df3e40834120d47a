package audio

import "time"

// Chunk represents a single run of PCM audio flowing through the pipeline.
// Chunks are the atomic unit of audio transport — demuxed from the media
// source, normalised by the format converter, and fed to the realtime session.
type Chunk struct {
	// PCM audio data, little-endian int16 samples, channels interleaved.
	Data []byte

	// SampleRate in Hz (e.g., 44100 for typical video audio, 16000 for session input).
	SampleRate int

	// Channels: 1 for mono (session input), 2 for stereo (most video sources).
	Channels int

	// Timestamp marks where this chunk starts, relative to the start of the source.
	Timestamp time.Duration
}

// Duration returns the playback time the chunk covers. Zero or invalid
// formats yield zero.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	samples := len(c.Data) / 2 / c.Channels
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

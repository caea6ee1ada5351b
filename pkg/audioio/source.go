package audioio

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrDeviceUnavailable indicates the audio device could not be opened:
// missing hardware, busy device, or denied access.
var ErrDeviceUnavailable = errors.New("audioio: device unavailable")

// Frame represents one buffer of audio data.
type Frame struct {
	// Samples contains interleaved PCM16 samples (little-endian order
	// when serialized).
	Samples []int16

	// SampleRate is the sample rate of this frame.
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int
}

// Bytes returns the raw little-endian bytes of the frame.
func (f *Frame) Bytes() []byte {
	buf := make([]byte, len(f.Samples)*2)
	for i, s := range f.Samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}

// FromBytes populates the frame from raw PCM16 bytes.
func (f *Frame) FromBytes(data []byte, sampleRate, channels int) {
	f.SampleRate = sampleRate
	f.Channels = channels
	f.Samples = make([]int16, len(data)/2)
	for i := range f.Samples {
		f.Samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
}

// Channel extracts the samples of a single channel.
func (f *Frame) Channel(ch int) []int16 {
	if ch < 0 || ch >= f.Channels {
		return nil
	}
	out := make([]int16, 0, len(f.Samples)/f.Channels)
	for i := ch; i < len(f.Samples); i += f.Channels {
		out = append(out, f.Samples[i])
	}
	return out
}

// Duration returns the play time of this frame.
func (f *Frame) Duration() time.Duration {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	frames := len(f.Samples) / f.Channels
	return time.Duration(float64(frames) / float64(f.SampleRate) * float64(time.Second))
}

// Source captures audio from a microphone or other input device.
type Source interface {
	// Start begins audio capture. Returns ErrDeviceUnavailable if the
	// device cannot be opened.
	Start(ctx context.Context) error

	// Stop halts audio capture.
	// It is safe to call Stop multiple times.
	Stop() error

	// Read reads the next frame, blocking if necessary.
	// Returns io.EOF when the source is stopped.
	Read(ctx context.Context) (Frame, error)

	// Stream returns a channel that receives captured frames.
	// The channel is closed when the source is stopped.
	Stream() <-chan Frame

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "alsa", "coreaudio", "mock").
	Name() string

	// Close releases all resources.
	// After Close, the source cannot be restarted.
	io.Closer
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	// FramesRead is the total number of frames read.
	FramesRead int64 `json:"frames_read"`

	// SamplesRead is the total number of samples read.
	SamplesRead int64 `json:"samples_read"`

	// Overruns is the number of buffer overruns (dropped audio).
	Overruns int64 `json:"overruns"`

	// Running indicates if the source is currently capturing.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}

// Package pcm converts between float32 sample buffers and the wire format
// used by the voice service: little-endian 16-bit PCM, base64 encoded.
//
// The conversion is lossy only by int16 quantization. Samples outside
// [-1, 1] are clamped before conversion so an overdriven microphone frame
// cannot wrap around to the opposite polarity.
package pcm

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// Standard rates for the call pipeline.
const (
	// CaptureRate is the microphone sample rate expected by the service.
	CaptureRate = 16000

	// PlaybackRate is the sample rate of audio returned by the service.
	PlaybackRate = 24000

	// FrameSamples is the fixed capture frame size.
	FrameSamples = 4096
)

// ErrDecode indicates a malformed or unexpected audio payload.
var ErrDecode = errors.New("pcm: malformed audio payload")

// EncodeFrame converts float32 samples in [-1, 1] to base64-encoded
// little-endian PCM16. Out-of-range samples are clamped.
func EncodeFrame(samples []float32) string {
	return base64.StdEncoding.EncodeToString(SamplesToBytes(FloatsToSamples(samples)))
}

// DecodeBase64 decodes base64 PCM16 into mono float32 samples.
func DecodeBase64(s string) ([]float32, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	channels, err := Decode(data, 1)
	if err != nil {
		return nil, err
	}
	return channels[0], nil
}

// Decode converts raw interleaved PCM16 bytes into per-channel float32
// buffers. The frame count is len(samples)/channels.
func Decode(data []byte, channels int) ([][]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: %d channels", ErrDecode, channels)
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrDecode, len(data))
	}

	samples := BytesToSamples(data)
	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("%w: %d samples not divisible by %d channels", ErrDecode, len(samples), channels)
	}

	frames := len(samples) / channels
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i, s := range samples {
		out[i%channels][i/channels] = float32(s) / 32768.0
	}
	return out, nil
}

// FloatsToSamples converts float32 samples in [-1, 1] to int16,
// clamping out-of-range values.
func FloatsToSamples(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, f := range samples {
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		v := int32(f * 32768)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// SamplesToFloats converts int16 samples to float32 in [-1, 1).
func SamplesToFloats(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

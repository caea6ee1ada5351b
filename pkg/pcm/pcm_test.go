package pcm

import (
	"encoding/base64"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	in := []float32{0, 0.25, -0.25, 0.5, -0.5, 0.999, -0.999, 1, -1}

	encoded := EncodeFrame(in)
	out, err := DecodeBase64(encoded)
	require.NoError(t, err)
	require.Len(t, out, len(in))

	// Recovery within int16 quantization error.
	for i := range in {
		want := in[i]
		if want > 1 {
			want = 1
		} else if want < -1 {
			want = -1
		}
		assert.InDelta(t, want, out[i], 1.0/32768.0, "sample %d", i)
	}
}

func TestEncodeFrame_ClampsOutOfRange(t *testing.T) {
	encoded := EncodeFrame([]float32{2.0, -3.0, 1.5})
	data, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	samples := BytesToSamples(data)
	require.Len(t, samples, 3)
	assert.Equal(t, int16(32767), samples[0], "positive overdrive must saturate, not wrap")
	assert.Equal(t, int16(-32768), samples[1], "negative overdrive must saturate, not wrap")
	assert.Equal(t, int16(32767), samples[2])
}

func TestDecode_DeinterleavesChannels(t *testing.T) {
	// Interleaved stereo: L0 R0 L1 R1
	samples := []int16{100, -100, 200, -200}
	channels, err := Decode(SamplesToBytes(samples), 2)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	require.Len(t, channels[0], 2, "frameCount = totalSamples / numChannels")

	assert.InDelta(t, 100.0/32768.0, channels[0][0], 1e-9)
	assert.InDelta(t, -100.0/32768.0, channels[1][0], 1e-9)
	assert.InDelta(t, 200.0/32768.0, channels[0][1], 1e-9)
	assert.InDelta(t, -200.0/32768.0, channels[1][1], 1e-9)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3}, 1)
	assert.ErrorIs(t, err, ErrDecode, "odd byte count")

	_, err = Decode(SamplesToBytes([]int16{1, 2, 3}), 2)
	assert.ErrorIs(t, err, ErrDecode, "sample count not divisible by channels")

	_, err = Decode(nil, 0)
	assert.ErrorIs(t, err, ErrDecode, "zero channels")

	_, err = DecodeBase64("not base64!!!")
	assert.ErrorIs(t, err, ErrDecode)
}

func TestBytesSamplesRoundtrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	assert.Equal(t, samples, BytesToSamples(SamplesToBytes(samples)))
}

func TestResample(t *testing.T) {
	t.Run("same rate", func(t *testing.T) {
		samples := []int16{100, 200, 300}
		assert.Equal(t, samples, Resample(samples, 16000, 16000))
	})

	t.Run("upsample 16k to 24k", func(t *testing.T) {
		samples := make([]int16, 320) // 20ms at 16kHz
		for i := range samples {
			samples[i] = int16(i * 10)
		}
		out := Resample(samples, 16000, 24000)
		assert.Equal(t, 480, len(out))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, Resample(nil, 16000, 24000))
	})
}

func TestQuantizationError_Sine(t *testing.T) {
	in := make([]float32, FrameSamples)
	for i := range in {
		in[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / CaptureRate))
	}

	out, err := DecodeBase64(EncodeFrame(in))
	require.NoError(t, err)
	for i := range in {
		if math.Abs(float64(in[i])-float64(out[i])) > 1.0/32768.0 {
			t.Fatalf("sample %d: %f -> %f exceeds quantization error", i, in[i], out[i])
		}
	}
}

package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simhire/callsim/pkg/audioio"
)

// recordingSender collects frames in arrival order.
type recordingSender struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (r *recordingSender) SendAudio(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, pcm)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func captureConfig() audioio.Config {
	cfg := audioio.DefaultCaptureConfig()
	cfg.Backend = audioio.BackendMock
	cfg.FrameDuration = 10 * time.Millisecond
	return cfg
}

func TestFrontend_ForwardsFrames(t *testing.T) {
	src := audioio.NewMockSource(captureConfig(), nil, audioio.WithSineWave(440, 0.5))
	sender := &recordingSender{}
	f := New(src)
	f.Attach(sender)

	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()

	require.Eventually(t, func() bool { return sender.count() >= 3 },
		2*time.Second, 10*time.Millisecond)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	for i, frame := range sender.frames[:3] {
		require.NotEmpty(t, frame, "frame %d empty", i)
		assert.Zero(t, len(frame)%2, "frame %d not PCM16 aligned", i)
	}
	assert.GreaterOrEqual(t, f.Sent(), int64(3))
}

func TestFrontend_DeviceUnavailable(t *testing.T) {
	src := audioio.NewMockSource(captureConfig(), nil,
		audioio.WithStartError(audioio.ErrDeviceUnavailable))
	f := New(src)
	f.Attach(&recordingSender{})

	err := f.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, audioio.ErrDeviceUnavailable)

	// Stop before a successful Start must be safe.
	f.Stop()
}

func TestFrontend_StopIdempotent(t *testing.T) {
	src := audioio.NewMockSource(captureConfig(), nil, audioio.WithSineWave(440, 0.5))
	sender := &recordingSender{}
	f := New(src)
	f.Attach(sender)

	require.NoError(t, f.Start(context.Background()))
	require.Eventually(t, func() bool { return sender.count() >= 1 },
		2*time.Second, 10*time.Millisecond)

	f.Stop()
	sentAtStop := f.Sent()
	f.Stop()

	// No frames flow after stop.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, sentAtStop, f.Sent())
}

func TestFrontend_DoubleStartRejected(t *testing.T) {
	src := audioio.NewMockSource(captureConfig(), nil)
	f := New(src)
	f.Attach(&recordingSender{})

	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()

	assert.Error(t, f.Start(context.Background()))
}

func TestFrontend_FramesBeforeAttachDrainAfter(t *testing.T) {
	src := audioio.NewMockSource(captureConfig(), nil, audioio.WithSineWave(440, 0.5))
	f := New(src)

	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()

	// Capture runs with no sender wired; frames pile up in the queue.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.Sent())

	sender := &recordingSender{}
	f.Attach(sender)

	require.Eventually(t, func() bool { return sender.count() >= 2 },
		2*time.Second, 10*time.Millisecond)
}

func TestFrontend_SenderErrorsDoNotStopPump(t *testing.T) {
	src := audioio.NewMockSource(captureConfig(), nil, audioio.WithSineWave(440, 0.5))
	sender := &recordingSender{err: assert.AnError}
	f := New(src)
	f.Attach(sender)

	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()

	// Let a few failed sends happen, then recover the sender.
	time.Sleep(50 * time.Millisecond)
	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()

	require.Eventually(t, func() bool { return sender.count() >= 1 },
		2*time.Second, 10*time.Millisecond)
}

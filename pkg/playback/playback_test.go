package playback

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simhire/callsim/pkg/audioio"
	"github.com/simhire/callsim/pkg/pcm"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// instantWait advances the fake clock by the full wait instead of sleeping,
// so scheduled chunks play immediately in test time.
func instantWait(clk *fakeClock) func(time.Duration, <-chan struct{}) bool {
	return func(d time.Duration, cancel <-chan struct{}) bool {
		select {
		case <-cancel:
			return false
		default:
		}
		clk.Advance(d)
		return true
	}
}

func startedMockSink(t *testing.T) *audioio.MockSink {
	t.Helper()
	sink := audioio.NewMockSink(audioio.DefaultPlaybackConfig(), nil)
	require.NoError(t, sink.Start(context.Background()))
	t.Cleanup(func() { sink.Close() })
	return sink
}

// chunkOf builds a PCM16 chunk whose every sample is the marker value,
// lasting the given duration at the playback rate.
func chunkOf(marker int16, dur time.Duration) []byte {
	n := int(dur * pcm.PlaybackRate / time.Second)
	data := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(marker))
	}
	return data
}

func TestScheduler_GaplessCursor(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := NewScheduler(startedMockSink(t), WithNowFunc(clk.Now), WithWaitFunc(instantWait(clk)))
	defer s.Stop()

	t0 := clk.Now()

	_, err := s.Enqueue(chunkOf(1, 100*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(100*time.Millisecond), s.Cursor())

	// Second chunk arrives while the first is still pending: it must start
	// exactly at the first chunk's end, no gap, no overlap.
	_, err = s.Enqueue(chunkOf(2, 50*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(150*time.Millisecond), s.Cursor())

	_, err = s.Enqueue(chunkOf(3, 20*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(170*time.Millisecond), s.Cursor())
}

func TestScheduler_PastCursorStartsNow(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := NewScheduler(startedMockSink(t), WithNowFunc(clk.Now), WithWaitFunc(instantWait(clk)))
	defer s.Stop()

	_, err := s.Enqueue(chunkOf(1, 50*time.Millisecond))
	require.NoError(t, err)

	// Clock drifts well past the cursor: the next chunk starts at now,
	// never in the past.
	clk.Advance(5 * time.Second)
	now := clk.Now()

	_, err = s.Enqueue(chunkOf(2, 50*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, now.Add(50*time.Millisecond), s.Cursor())
}

func TestScheduler_CursorMonotonic(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := NewScheduler(startedMockSink(t), WithNowFunc(clk.Now), WithWaitFunc(instantWait(clk)))
	defer s.Stop()

	durations := []time.Duration{
		10 * time.Millisecond, 250 * time.Millisecond, 1 * time.Millisecond,
		80 * time.Millisecond, 500 * time.Millisecond,
	}
	prev := s.Cursor()
	for i, dur := range durations {
		if i%2 == 1 {
			clk.Advance(200 * time.Millisecond)
		}
		_, err := s.Enqueue(chunkOf(int16(i), dur))
		require.NoError(t, err)
		cur := s.Cursor()
		assert.True(t, cur.After(prev), "cursor went backwards at chunk %d", i)
		prev = cur
	}
}

func TestScheduler_PlaysInArrivalOrder(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sink := startedMockSink(t)
	s := NewScheduler(sink, WithNowFunc(clk.Now), WithWaitFunc(instantWait(clk)))
	defer s.Stop()

	for i := int16(1); i <= 5; i++ {
		_, err := s.Enqueue(chunkOf(i, 10*time.Millisecond))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return s.Played() == 5 },
		2*time.Second, 5*time.Millisecond)

	written := sink.Written()
	require.Len(t, written, 5)
	for i, frame := range written {
		assert.Equal(t, int16(i+1), frame.Samples[0], "chunk %d out of order", i)
		assert.Equal(t, pcm.PlaybackRate, frame.SampleRate)
	}
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_MalformedChunkSkipped(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sink := startedMockSink(t)
	s := NewScheduler(sink, WithNowFunc(clk.Now), WithWaitFunc(instantWait(clk)))
	defer s.Stop()

	_, err := s.Enqueue(nil)
	assert.ErrorIs(t, err, pcm.ErrDecode)
	_, err = s.Enqueue([]byte{0x01, 0x02, 0x03})
	assert.ErrorIs(t, err, pcm.ErrDecode)
	assert.Equal(t, int64(2), s.Skips())

	// Malformed chunks do not move the cursor or block later audio.
	assert.True(t, s.Cursor().IsZero())

	_, err = s.Enqueue(chunkOf(7, 10*time.Millisecond))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Played() == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int16(7), sink.Written()[0].Samples[0])
}

func TestScheduler_InterruptDropsPending(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sink := startedMockSink(t)

	// Hold chunks at their wait so Interrupt catches them pending.
	release := make(chan struct{})
	var once sync.Once
	holdWait := func(d time.Duration, cancel <-chan struct{}) bool {
		select {
		case <-release:
		case <-cancel:
			return false
		}
		clk.Advance(d)
		return true
	}
	s := NewScheduler(sink, WithNowFunc(clk.Now), WithWaitFunc(holdWait))
	defer s.Stop()

	_, err := s.Enqueue(chunkOf(1, 100*time.Millisecond))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Played() == 1 },
		2*time.Second, 5*time.Millisecond)

	// These two are pending when the interrupt lands.
	_, err = s.Enqueue(chunkOf(2, 100*time.Millisecond))
	require.NoError(t, err)
	_, err = s.Enqueue(chunkOf(3, 100*time.Millisecond))
	require.NoError(t, err)

	s.Interrupt()
	once.Do(func() { close(release) })

	assert.True(t, s.Cursor().IsZero(), "interrupt resets the cursor")

	// Audio after the interrupt plays normally.
	_, err = s.Enqueue(chunkOf(4, 100*time.Millisecond))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Played() == 2 },
		2*time.Second, 5*time.Millisecond)

	written := sink.Written()
	require.Len(t, written, 1, "pre-interrupt buffered audio is cleared")
	assert.Equal(t, int16(4), written[0].Samples[0])
}

func TestScheduler_StopCancelsPending(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sink := startedMockSink(t)

	// Wait hook that blocks until cancelled, holding chunks in flight.
	blockingWait := func(d time.Duration, cancel <-chan struct{}) bool {
		<-cancel
		return false
	}
	s := NewScheduler(sink, WithNowFunc(clk.Now), WithWaitFunc(blockingWait))

	for i := int16(1); i <= 3; i++ {
		_, err := s.Enqueue(chunkOf(i, time.Second))
		require.NoError(t, err)
	}

	// The first chunk starts at now and plays without waiting. The others
	// sit in the blocking wait until Stop cancels them.
	require.Eventually(t, func() bool { return s.Played() == 1 },
		2*time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop() // idempotent

	assert.Equal(t, 0, s.Pending())
	assert.Len(t, sink.Written(), 0, "stop clears buffered sink audio")
}

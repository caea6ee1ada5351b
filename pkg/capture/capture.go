// Package capture pumps microphone frames into the voice session.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/simhire/callsim/internal/log"
	"github.com/simhire/callsim/pkg/audioio"
	"github.com/simhire/callsim/pkg/pcm"
)

// Sender receives encoded capture frames. Satisfied by the live session
// client.
type Sender interface {
	SendAudio(pcm []byte) error
}

// sendQueueDepth bounds frames waiting on a slow sender. When the queue is
// full the oldest frame is dropped: live audio only, stale audio is worse
// than a gap.
const sendQueueDepth = 32

// Frontend reads frames from a capture source and forwards channel 0 as
// PCM16 to the sender, fire-and-forget. The source opens before any
// sender exists; frames captured in between wait in the queue until
// Attach wires one in.
type Frontend struct {
	source audioio.Source
	sender Sender
	logger *slog.Logger

	mu       sync.Mutex
	started  bool
	attached bool
	cancel   context.CancelFunc

	queue    chan []byte
	stopOnce sync.Once
	stopped  chan struct{}
	pumpDone chan struct{}
	sendDone chan struct{}

	sent    atomic.Int64
	dropped atomic.Int64
}

func New(source audioio.Source) *Frontend {
	return &Frontend{
		source:   source,
		logger:   log.L().With("component", "capture"),
		queue:    make(chan []byte, sendQueueDepth),
		stopped:  make(chan struct{}),
		pumpDone: make(chan struct{}),
		sendDone: make(chan struct{}),
	}
}

// Start opens the capture source and begins pumping. A source that cannot
// be opened surfaces as an error wrapping audioio.ErrDeviceUnavailable.
func (f *Frontend) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return fmt.Errorf("capture: already started")
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	if err := f.source.Start(pumpCtx); err != nil {
		cancel()
		f.mu.Unlock()
		return fmt.Errorf("capture: open source: %w", err)
	}
	f.started = true
	f.cancel = cancel
	f.mu.Unlock()

	go f.pump(pumpCtx)

	f.logger.Info("capture started",
		"source", f.source.Name(),
		"sample_rate", f.source.Config().SampleRate)
	return nil
}

// Attach wires in the sender and starts forwarding. Frames captured
// before Attach drain first, in capture order. Only the first call takes
// effect.
func (f *Frontend) Attach(sender Sender) {
	f.mu.Lock()
	if f.attached || sender == nil {
		f.mu.Unlock()
		return
	}
	f.sender = sender
	f.attached = true
	f.mu.Unlock()

	go f.sendLoop()
}

func (f *Frontend) pump(ctx context.Context) {
	defer close(f.pumpDone)
	for {
		frame, err := f.source.Read(ctx)
		if err != nil {
			// EOF after Stop, or the context ended.
			return
		}

		data := frame.Channel(0)
		if data == nil {
			data = frame.Samples
		}
		// Hardware that cannot open at the wire rate delivers frames at
		// its native rate; resample before sending.
		if frame.SampleRate != pcm.CaptureRate && frame.SampleRate > 0 {
			data = pcm.Resample(data, frame.SampleRate, pcm.CaptureRate)
		}
		encoded := pcm.SamplesToBytes(data)

		select {
		case f.queue <- encoded:
		case <-f.stopped:
			return
		default:
			// Queue full: drop the oldest frame to keep audio live.
			select {
			case <-f.queue:
				f.dropped.Add(1)
			default:
			}
			select {
			case f.queue <- encoded:
			case <-f.stopped:
				return
			}
		}
	}
}

func (f *Frontend) sendLoop() {
	defer close(f.sendDone)
	for {
		select {
		case <-f.stopped:
			return
		case data := <-f.queue:
			if err := f.sender.SendAudio(data); err != nil {
				f.logger.Warn("send failed", "error", err)
				continue
			}
			f.sent.Add(1)
		}
	}
}

// Stop halts the pump and the capture source. Idempotent and nil-safe to
// call before Start.
func (f *Frontend) Stop() {
	f.stopOnce.Do(func() {
		close(f.stopped)

		f.mu.Lock()
		started := f.started
		attached := f.attached
		cancel := f.cancel
		f.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if !started {
			return
		}

		if err := f.source.Stop(); err != nil {
			f.logger.Debug("source stop failed", "error", err)
		}
		<-f.pumpDone
		if attached {
			<-f.sendDone
		}

		f.logger.Info("capture stopped",
			"frames_sent", f.sent.Load(),
			"frames_dropped", f.dropped.Load())
	})
}

// Sent returns the number of frames delivered to the sender.
func (f *Frontend) Sent() int64 { return f.sent.Load() }

// Dropped returns the number of frames discarded under backpressure.
func (f *Frontend) Dropped() int64 { return f.dropped.Load() }

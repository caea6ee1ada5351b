// Package call runs the lifecycle of one simulated client call: answer or
// decline, the live audio loop, and teardown.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/simhire/callsim/internal/log"
	"github.com/simhire/callsim/internal/metrics"
	"github.com/simhire/callsim/pkg/audioio"
	"github.com/simhire/callsim/pkg/capture"
	"github.com/simhire/callsim/pkg/live"
	"github.com/simhire/callsim/pkg/playback"
	"github.com/simhire/callsim/pkg/transcript"
)

// State is the call lifecycle phase. Transitions only move forward:
// Ringing to Connected to Ended, or Ringing straight to Ended on decline.
type State int32

const (
	StateRinging State = iota
	StateConnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateRinging:
		return "ringing"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

var (
	// ErrNotRinging is returned by Answer or Decline after the call has
	// left the Ringing state.
	ErrNotRinging = errors.New("call: not ringing")
)

// declinedResult is the entire result of a declined call.
const declinedResult = "Candidate rejected the call."

// apologyLine is what the client says when the pipeline fails. The
// candidate never sees the underlying error.
const apologyLine = "I'm so sorry, something has just come up on my end and I have to go. Let me call you back another time."

// Session is the slice of the live client the call depends on.
type Session interface {
	Events() <-chan live.ServerEvent
	SendAudio(pcm []byte) error
	Close() error
}

// DialFunc opens a voice session. Tests substitute a scripted session.
type DialFunc func(ctx context.Context, cfg live.Config) (Session, error)

func liveDial(ctx context.Context, cfg live.Config) (Session, error) {
	return live.Dial(ctx, cfg)
}

// Config assembles the pieces of one call.
type Config struct {
	Live   live.Config
	Source audioio.Source
	Sink   audioio.Sink

	// MaxDuration caps the call. Zero means no cap.
	MaxDuration time.Duration
	// ApologyDelay is how long the scripted apology stays on the line
	// before the call ends itself.
	ApologyDelay time.Duration
	// ResultDelay holds the final transcript before Wait returns it.
	ResultDelay time.Duration

	// Dial defaults to the live service dialer.
	Dial DialFunc

	// OnState and OnEntry feed the dashboard. May be nil.
	OnState func(State)
	OnEntry func(transcript.Entry)
}

// Call is one simulated client call.
type Call struct {
	id     uuid.UUID
	cfg    Config
	logger *slog.Logger

	state atomic.Int32

	assembler *transcript.Assembler
	collector *MetricsCollector

	mu        sync.Mutex
	session   Session
	frontend  *capture.Frontend
	scheduler *playback.Scheduler
	maxTimer  *time.Timer
	result    string

	failOnce    sync.Once
	cleanupOnce sync.Once
	doneOnce    sync.Once
	done        chan struct{}
}

// New creates a call in the Ringing state. No resources are acquired
// until Answer.
func New(cfg Config) *Call {
	if cfg.Dial == nil {
		cfg.Dial = liveDial
	}
	c := &Call{
		id:        uuid.New(),
		cfg:       cfg,
		assembler: transcript.New(),
		collector: NewMetricsCollector(),
		done:      make(chan struct{}),
	}
	c.logger = log.L().With("call", c.id.String()[:8])
	c.setState(StateRinging)
	return c
}

func (c *Call) ID() uuid.UUID { return c.id }

// State returns the current lifecycle phase.
func (c *Call) State() State {
	return State(c.state.Load())
}

func (c *Call) setState(s State) {
	c.state.Store(int32(s))
	metrics.SetCallState(s.String())
	if c.cfg.OnState != nil {
		c.cfg.OnState(s)
	}
}

func (c *Call) transition(from, to State) bool {
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	metrics.SetCallState(to.String())
	if c.cfg.OnState != nil {
		c.cfg.OnState(to)
	}
	return true
}

// Decline rejects a ringing call. Nothing is opened, nothing to clean up.
func (c *Call) Decline() error {
	if !c.transition(StateRinging, StateEnded) {
		return ErrNotRinging
	}
	c.logger.Info("call declined")
	c.finish(declinedResult, 0)
	return nil
}

// Answer connects the call: opens the microphone, dials the voice
// session, opens the speaker, and starts the event dispatcher. A device
// that cannot be opened still produces an in-character apology on the
// transcript before the call ends itself.
func (c *Call) Answer(ctx context.Context) error {
	if !c.transition(StateRinging, StateConnected) {
		return ErrNotRinging
	}
	c.logger.Info("call answered")

	// Microphone first: a denied device must never leave a half-open
	// session behind. Frames captured while the dial is in flight wait
	// in the frontend queue.
	frontend := capture.New(c.cfg.Source)
	c.mu.Lock()
	c.frontend = frontend
	c.mu.Unlock()
	if err := frontend.Start(ctx); err != nil {
		c.fail("open input device", err)
		return fmt.Errorf("call: open capture: %w", err)
	}

	session, err := c.cfg.Dial(ctx, c.cfg.Live)
	if err != nil {
		c.fail("dial voice session", err)
		return fmt.Errorf("call: dial: %w", err)
	}
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	frontend.Attach(session)

	if err := c.cfg.Sink.Start(ctx); err != nil {
		c.fail("open output device", err)
		return fmt.Errorf("call: open sink: %w", err)
	}
	c.mu.Lock()
	c.scheduler = playback.NewScheduler(c.cfg.Sink)
	c.mu.Unlock()

	if c.cfg.MaxDuration > 0 {
		c.mu.Lock()
		c.maxTimer = time.AfterFunc(c.cfg.MaxDuration, func() {
			c.logger.Info("call reached max duration")
			c.end("max duration")
		})
		c.mu.Unlock()
	}

	go c.dispatch()
	return nil
}

// Hangup ends a connected call at the candidate's request.
func (c *Call) Hangup() {
	if !c.transition(StateConnected, StateEnded) {
		return
	}
	c.logger.Info("call hung up")
	c.teardown()
}

// dispatch is the single consumer of session events. It feeds the
// playback scheduler and the transcript assembler; fragment and turn
// ordering holds because nothing else reads the stream.
func (c *Call) dispatch() {
	events := func() <-chan live.ServerEvent {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.session.Events()
	}()

	for ev := range events {
		if ev.Err != nil {
			c.fail("voice session", ev.Err)
			return
		}
		if ev.Closed {
			c.logger.Info("remote side ended the call")
			c.end("remote hangup")
			return
		}

		if len(ev.Audio) > 0 {
			c.collector.MarkFirstAudio()
			c.mu.Lock()
			sched := c.scheduler
			c.mu.Unlock()
			if _, err := sched.Enqueue(ev.Audio); err != nil {
				metrics.DecodeSkips.Inc()
			} else {
				metrics.ChunksPlayed.Inc()
			}
		}
		if ev.InputText != "" {
			c.assembler.AddInput(ev.InputText)
		}
		if ev.OutputText != "" {
			c.assembler.AddOutput(ev.OutputText)
		}
		if ev.Interrupted {
			c.mu.Lock()
			sched := c.scheduler
			c.mu.Unlock()
			sched.Interrupt()
		}
		if ev.TurnComplete {
			c.commitTurn()
			c.collector.MarkTurnEnd()
		}
	}

	// Stream ended without a terminal event: local close during teardown.
	c.end("session closed")
}

func (c *Call) commitTurn() {
	for _, e := range c.assembler.CommitTurn() {
		metrics.TranscriptEntries.WithLabelValues(string(e.Speaker)).Inc()
		if c.cfg.OnEntry != nil {
			c.cfg.OnEntry(e)
		}
	}
}

// fail handles a pipeline failure: one scripted apology on the
// transcript, then the call ends itself after the apology delay.
func (c *Call) fail(op string, err error) {
	c.failOnce.Do(func() {
		c.logger.Error("call failed", "op", op, "error", err)

		entry := transcript.Entry{Speaker: transcript.SpeakerAI, Text: apologyLine}
		c.assembler.AddEntry(entry.Speaker, entry.Text)
		metrics.TranscriptEntries.WithLabelValues(string(entry.Speaker)).Inc()
		if c.cfg.OnEntry != nil {
			c.cfg.OnEntry(entry)
		}

		time.AfterFunc(c.cfg.ApologyDelay, func() {
			c.end("pipeline failure")
		})
	})
}

// end moves the call to Ended from whatever state it is in and tears it
// down. Safe to call from multiple triggers.
func (c *Call) end(reason string) {
	if !c.transition(StateConnected, StateEnded) {
		if c.State() != StateEnded {
			c.setState(StateEnded)
		}
	}
	c.logger.Info("call ended", "reason", reason)
	c.teardown()
}

// teardown releases resources in a fixed order, swallowing errors. Each
// step is nil-safe so the sequence holds no matter how far Answer got.
func (c *Call) teardown() {
	c.cleanupOnce.Do(func() {
		c.mu.Lock()
		frontend := c.frontend
		scheduler := c.scheduler
		session := c.session
		timer := c.maxTimer
		c.mu.Unlock()

		if timer != nil {
			timer.Stop()
		}

		// Capture pump first, then its device, then output, then the
		// session. Repeats and partial setups are both safe.
		if frontend != nil {
			frontend.Stop()
			metrics.FramesSent.Add(float64(frontend.Sent()))
			metrics.FramesDropped.Add(float64(frontend.Dropped()))
		}
		if c.cfg.Source != nil {
			_ = c.cfg.Source.Close()
		}
		if scheduler != nil {
			scheduler.Stop()
		}
		if c.cfg.Sink != nil {
			_ = c.cfg.Sink.Stop()
			_ = c.cfg.Sink.Close()
		}
		if session != nil {
			_ = session.Close()
		}

		c.finish(c.assembler.Render(), c.cfg.ResultDelay)
	})
}

// finish publishes the result after the display delay and releases Wait.
func (c *Call) finish(result string, delay time.Duration) {
	c.doneOnce.Do(func() {
		go func() {
			if delay > 0 {
				time.Sleep(delay)
			}
			c.mu.Lock()
			c.result = result
			c.mu.Unlock()
			close(c.done)
		}()
	})
}

// Wait blocks until the call has ended and its result is ready.
func (c *Call) Wait(ctx context.Context) (string, error) {
	select {
	case <-c.done:
		return c.Result(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Result returns the rendered transcript, or the decline message. Empty
// until the call has ended.
func (c *Call) Result() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Transcript returns the committed entries so far.
func (c *Call) Transcript() []transcript.Entry {
	return c.assembler.Entries()
}

// Latency returns the per-turn latency collector.
func (c *Call) Latency() *MetricsCollector {
	return c.collector
}

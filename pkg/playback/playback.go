// Package playback schedules decoded audio chunks for gapless playback.
//
// Chunks arrive faster than real time. The scheduler keeps a cursor at the
// end of the last scheduled chunk and starts each new chunk at
// max(cursor, now), so back-to-back chunks play without gaps or overlap and
// a chunk arriving after a silence starts immediately.
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/simhire/callsim/internal/log"
	"github.com/simhire/callsim/pkg/audioio"
	"github.com/simhire/callsim/pkg/pcm"
)

// queueDepth bounds chunks waiting for their start time. The pump drains
// far faster than audio arrives, so this only matters under a stalled sink.
const queueDepth = 256

type chunk struct {
	id    uuid.UUID
	data  []byte
	start time.Time
	dur   time.Duration
	gen   int64
}

// Scheduler plays PCM16 chunks on a Sink in strict arrival order.
type Scheduler struct {
	sink   audioio.Sink
	logger *slog.Logger

	now  func() time.Time
	wait func(d time.Duration, cancel <-chan struct{}) bool

	mu     sync.Mutex
	cursor time.Time
	active map[uuid.UUID]*chunk
	gen    int64

	queue    chan *chunk
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	skips  atomic.Int64
	played atomic.Int64
}

// Option adjusts scheduler behavior, mainly for tests.
type Option func(*Scheduler)

// WithNowFunc replaces the wall clock.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithWaitFunc replaces the sleep-until-start hook. It must return false
// when cancelled via the channel.
func WithWaitFunc(wait func(d time.Duration, cancel <-chan struct{}) bool) Option {
	return func(s *Scheduler) { s.wait = wait }
}

// NewScheduler starts the pump goroutine immediately.
func NewScheduler(sink audioio.Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:   sink,
		logger: log.L().With("component", "playback"),
		now:    time.Now,
		wait:   sleepWait,
		active: make(map[uuid.UUID]*chunk),
		queue:  make(chan *chunk, queueDepth),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.pump()
	return s
}

func sleepWait(d time.Duration, cancel <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-cancel:
		return false
	}
}

// Enqueue schedules one PCM16 chunk at 24 kHz mono. Malformed chunks are
// counted and skipped; playback continues with the next chunk.
func (s *Scheduler) Enqueue(data []byte) (uuid.UUID, error) {
	if len(data) == 0 || len(data)%2 != 0 {
		s.skips.Add(1)
		s.logger.Warn("skipping malformed audio chunk", "bytes", len(data))
		return uuid.Nil, fmt.Errorf("%w: %d byte chunk", pcm.ErrDecode, len(data))
	}

	dur := time.Duration(len(data)/2) * time.Second / pcm.PlaybackRate

	s.mu.Lock()
	start := s.now()
	if s.cursor.After(start) {
		start = s.cursor
	}
	c := &chunk{id: uuid.New(), data: data, start: start, dur: dur, gen: s.gen}
	s.cursor = start.Add(dur)
	s.active[c.id] = c
	s.mu.Unlock()

	select {
	case s.queue <- c:
		return c.id, nil
	case <-s.stop:
		s.remove(c.id)
		return uuid.Nil, nil
	}
}

func (s *Scheduler) pump() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case c := <-s.queue:
			if s.stale(c) {
				s.remove(c.id)
				continue
			}
			if d := c.start.Sub(s.now()); d > 0 {
				if !s.wait(d, s.stop) {
					s.remove(c.id)
					return
				}
				if s.stale(c) {
					s.remove(c.id)
					continue
				}
			}
			frame := audioio.Frame{
				Samples:    pcm.BytesToSamples(c.data),
				SampleRate: pcm.PlaybackRate,
				Channels:   1,
			}
			if err := s.sink.Write(context.Background(), frame); err != nil {
				s.logger.Warn("sink write failed", "error", err)
			} else {
				s.played.Add(1)
			}
			s.remove(c.id)
		}
	}
}

func (s *Scheduler) stale(c *chunk) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.gen != s.gen
}

// Interrupt discards all pending chunks and buffered sink audio, then
// resets the cursor so the next chunk starts immediately. The pump keeps
// running; used when the far side starts a new turn mid-playback.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	s.gen++
	s.cursor = time.Time{}
	s.mu.Unlock()

	if err := s.sink.Clear(); err != nil {
		s.logger.Debug("sink clear failed", "error", err)
	}
	s.logger.Debug("playback interrupted")
}

func (s *Scheduler) remove(id uuid.UUID) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// Stop cancels all pending chunks and clears buffered sink audio.
// Audio mid-flight may be truncated. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done

		s.mu.Lock()
		for id := range s.active {
			delete(s.active, id)
		}
		s.mu.Unlock()

		if err := s.sink.Clear(); err != nil {
			s.logger.Debug("sink clear failed", "error", err)
		}
	})
}

// Cursor returns the end time of the last scheduled chunk. Zero means
// nothing has been scheduled yet.
func (s *Scheduler) Cursor() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Pending returns the number of chunks scheduled but not yet played.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Skips returns the number of malformed chunks rejected.
func (s *Scheduler) Skips() int64 { return s.skips.Load() }

// Played returns the number of chunks written to the sink.
func (s *Scheduler) Played() int64 { return s.played.Load() }

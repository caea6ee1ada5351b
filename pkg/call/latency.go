package call

import (
	"sync"
	"time"

	"github.com/simhire/callsim/internal/metrics"
)

// TurnMetrics holds latency measurements for one conversation turn.
// Latency is measured from the service's turn-complete signal to the first
// response audio chunk of the following turn.
type TurnMetrics struct {
	TurnEndTime     time.Time
	FirstAudioTime  time.Time
	ResponseLatency time.Duration

	// AudioChunksIn counts service audio chunks received this turn.
	AudioChunksIn int
}

// MetricsCollector collects per-turn latency. Goroutine-safe; the
// dispatcher and callbacks may hit it concurrently.
type MetricsCollector struct {
	mu      sync.Mutex
	current TurnMetrics
	history []TurnMetrics

	now func() time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]TurnMetrics, 0, 64),
		now:     time.Now,
	}
}

// MarkTurnEnd records the end of a turn and resets for the next one.
func (m *MetricsCollector) MarkTurnEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current.TurnEndTime.IsZero() {
		m.history = append(m.history, m.current)
		if len(m.history) > 64 {
			m.history = m.history[1:]
		}
	}
	m.current = TurnMetrics{TurnEndTime: m.now()}
}

// MarkFirstAudio records the first response audio chunk of the turn.
func (m *MetricsCollector) MarkFirstAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.AudioChunksIn++
	if !m.current.FirstAudioTime.IsZero() || m.current.TurnEndTime.IsZero() {
		return
	}
	m.current.FirstAudioTime = m.now()
	m.current.ResponseLatency = m.current.FirstAudioTime.Sub(m.current.TurnEndTime)
	metrics.TurnLatency.Observe(m.current.ResponseLatency.Seconds())
}

// History returns completed turns, most recent last.
func (m *MetricsCollector) History() []TurnMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TurnMetrics, len(m.history))
	copy(out, m.history)
	return out
}

// AverageLatency returns the mean response latency over recorded turns,
// or zero with no data.
func (m *MetricsCollector) AverageLatency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total time.Duration
	var n int
	for _, t := range m.history {
		if t.ResponseLatency > 0 {
			total += t.ResponseLatency
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}

package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simhire/callsim/pkg/audioio"
	"github.com/simhire/callsim/pkg/live"
	"github.com/simhire/callsim/pkg/transcript"
)

// fakeSession feeds scripted server events to the dispatcher and records
// outbound audio.
type fakeSession struct {
	events chan live.ServerEvent

	mu   sync.Mutex
	sent [][]byte

	closeOnce sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan live.ServerEvent, 32)}
}

func (f *fakeSession) Events() <-chan live.ServerEvent { return f.events }

func (f *fakeSession) SendAudio(pcm []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, pcm)
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) Close() error {
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeSession) push(ev live.ServerEvent) { f.events <- ev }

func testConfig(t *testing.T, session *fakeSession) Config {
	t.Helper()

	srcCfg := audioio.DefaultCaptureConfig()
	srcCfg.Backend = audioio.BackendMock
	srcCfg.FrameDuration = 10 * time.Millisecond

	return Config{
		Source: audioio.NewMockSource(srcCfg, nil, audioio.WithSineWave(440, 0.5)),
		Sink:   audioio.NewMockSink(audioio.DefaultPlaybackConfig(), nil),
		Dial: func(ctx context.Context, cfg live.Config) (Session, error) {
			return session, nil
		},
	}
}

func TestCall_Decline(t *testing.T) {
	c := New(testConfig(t, newFakeSession()))
	require.Equal(t, StateRinging, c.State())

	require.NoError(t, c.Decline())
	assert.Equal(t, StateEnded, c.State())

	result, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Candidate rejected the call.", result)
	assert.Empty(t, c.Transcript())

	// The call is over; answering and declining again both refuse.
	assert.ErrorIs(t, c.Answer(context.Background()), ErrNotRinging)
	assert.ErrorIs(t, c.Decline(), ErrNotRinging)
}

func TestCall_EndToEnd(t *testing.T) {
	session := newFakeSession()
	c := New(testConfig(t, session))

	require.NoError(t, c.Answer(context.Background()))
	assert.Equal(t, StateConnected, c.State())

	// One conversational turn: the candidate's speech transcribes in three
	// fragments, the reply arrives as audio plus two text fragments.
	session.push(live.ServerEvent{InputText: "Hello"})
	session.push(live.ServerEvent{InputText: " there"})
	session.push(live.ServerEvent{InputText: "!"})
	session.push(live.ServerEvent{Audio: make([]byte, 4800), OutputText: "Hi, "})
	session.push(live.ServerEvent{Audio: make([]byte, 4800), OutputText: "thanks for calling."})
	session.push(live.ServerEvent{TurnComplete: true})
	session.push(live.ServerEvent{Closed: true})

	result, err := c.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateEnded, c.State())
	assert.Equal(t, "You: Hello there!\nClient: Hi, thanks for calling.", result)

	entries := c.Transcript()
	require.Len(t, entries, 2)
	assert.Equal(t, transcript.SpeakerCandidate, entries[0].Speaker)
	assert.Equal(t, transcript.SpeakerAI, entries[1].Speaker)

	// The microphone pumped frames to the session while connected.
	session.mu.Lock()
	defer session.mu.Unlock()
	assert.NotEmpty(t, session.sent)
}

func TestCall_MicDenied(t *testing.T) {
	session := newFakeSession()
	cfg := testConfig(t, session)

	srcCfg := audioio.DefaultCaptureConfig()
	srcCfg.Backend = audioio.BackendMock
	cfg.Source = audioio.NewMockSource(srcCfg, nil,
		audioio.WithStartError(audioio.ErrDeviceUnavailable))
	cfg.Dial = func(ctx context.Context, _ live.Config) (Session, error) {
		t.Fatal("dialed a session after the microphone was denied")
		return nil, nil
	}

	c := New(cfg)
	err := c.Answer(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, audioio.ErrDeviceUnavailable)

	// The candidate hears an apology, never the error.
	result, werr := c.Wait(context.Background())
	require.NoError(t, werr)
	assert.Equal(t, StateEnded, c.State())

	entries := c.Transcript()
	require.Len(t, entries, 1)
	assert.Equal(t, transcript.SpeakerAI, entries[0].Speaker)
	assert.NotContains(t, result, "device unavailable")
	assert.Contains(t, result, "Client: ")
}

func TestCall_TransportErrorApologizes(t *testing.T) {
	session := newFakeSession()
	c := New(testConfig(t, session))

	require.NoError(t, c.Answer(context.Background()))
	session.push(live.ServerEvent{Err: &live.TransportError{Op: "receive", Err: assert.AnError}})

	result, err := c.Wait(context.Background())
	require.NoError(t, err)

	entries := c.Transcript()
	require.Len(t, entries, 1)
	assert.Equal(t, transcript.SpeakerAI, entries[0].Speaker)
	assert.NotContains(t, result, "assert.AnError")
}

func TestCall_DialFailure(t *testing.T) {
	cfg := testConfig(t, newFakeSession())
	cfg.Dial = func(ctx context.Context, _ live.Config) (Session, error) {
		return nil, assert.AnError
	}

	c := New(cfg)
	require.Error(t, c.Answer(context.Background()))

	_, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateEnded, c.State())

	entries := c.Transcript()
	require.Len(t, entries, 1)
	assert.Equal(t, transcript.SpeakerAI, entries[0].Speaker)
}

func TestCall_HangupAndDoubleTeardown(t *testing.T) {
	session := newFakeSession()
	c := New(testConfig(t, session))

	require.NoError(t, c.Answer(context.Background()))

	c.Hangup()
	c.Hangup() // repeat must be harmless

	_, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateEnded, c.State())

	// The session was closed exactly once and further hangups still do
	// nothing after the event stream has drained.
	c.Hangup()
}

func TestCall_MaxDuration(t *testing.T) {
	session := newFakeSession()
	cfg := testConfig(t, session)
	cfg.MaxDuration = 20 * time.Millisecond

	c := New(cfg)
	require.NoError(t, c.Answer(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateEnded, c.State())
}

func TestCall_StateCallback(t *testing.T) {
	session := newFakeSession()
	cfg := testConfig(t, session)

	var mu sync.Mutex
	var states []State
	cfg.OnState = func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}
	var entries []transcript.Entry
	cfg.OnEntry = func(e transcript.Entry) {
		mu.Lock()
		entries = append(entries, e)
		mu.Unlock()
	}

	c := New(cfg)
	require.NoError(t, c.Answer(context.Background()))
	session.push(live.ServerEvent{InputText: "Hi"})
	session.push(live.ServerEvent{TurnComplete: true})
	session.push(live.ServerEvent{Closed: true})

	_, err := c.Wait(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateRinging, StateConnected, StateEnded}, states)
	require.Len(t, entries, 1)
	assert.Equal(t, "Hi", entries[0].Text)
}

//go:build darwin

package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
)

// coreAudioSource captures audio through sox, which talks to CoreAudio.
// This is the development path on macOS.
type coreAudioSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	streamCh chan Frame
	stopCh   chan struct{}

	framesRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newCoreAudioSource(cfg Config, logger *slog.Logger) (Source, error) {
	return &coreAudioSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan Frame, 10),
		stopCh:   make(chan struct{}),
	}, nil
}

func (s *coreAudioSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	cmd := exec.CommandContext(ctx, "sox",
		"-q", "-d",
		"-t", "raw",
		"-b", "16",
		"-e", "signed-integer",
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", strconv.Itoa(s.cfg.Channels),
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: sox: %v", ErrDeviceUnavailable, err)
	}

	s.cmd = cmd
	s.stdout = stdout
	s.running = true
	s.stopCh = make(chan struct{})
	s.streamCh = make(chan Frame, 10)

	go s.captureLoop()

	s.logger.Info("coreaudio source started")

	return nil
}

func (s *coreAudioSource) captureLoop() {
	buf := make([]byte, s.cfg.FrameBytes())

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if _, err := io.ReadFull(s.stdout, buf); err != nil {
			s.logger.Debug("coreaudio capture ended", "err", err)
			s.Stop()
			return
		}

		var frame Frame
		frame.FromBytes(buf, s.cfg.SampleRate, s.cfg.Channels)

		select {
		case s.streamCh <- frame:
			s.framesRead.Add(1)
			s.samplesRead.Add(int64(len(frame.Samples)))
		default:
			s.overruns.Add(1)
		}
	}
}

func (s *coreAudioSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	close(s.stopCh)
	close(s.streamCh)

	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	s.cmd = nil
	s.stdout = nil

	s.logger.Info("coreaudio source stopped")

	return nil
}

func (s *coreAudioSource) Read(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case frame, ok := <-s.streamCh:
		if !ok {
			return Frame{}, io.EOF
		}
		return frame, nil
	}
}

func (s *coreAudioSource) Stream() <-chan Frame { return s.streamCh }

func (s *coreAudioSource) Config() Config { return s.cfg }

func (s *coreAudioSource) Name() string { return "coreaudio" }

func (s *coreAudioSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Stop()
	return nil
}

func (s *coreAudioSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		FramesRead:  s.framesRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "coreaudio",
	}
}

var _ SourceWithStats = (*coreAudioSource)(nil)

// coreAudioSink plays audio by piping raw PCM16 into sox.
type coreAudioSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser

	framesWritten  atomic.Int64
	samplesWritten atomic.Int64
	underruns      atomic.Int64
}

func newCoreAudioSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return &coreAudioSink{cfg: cfg, logger: logger}, nil
}

func (s *coreAudioSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	if err := s.spawnLocked(); err != nil {
		return err
	}
	s.running = true

	s.logger.Info("coreaudio sink started")

	return nil
}

func (s *coreAudioSink) spawnLocked() error {
	cmd := exec.Command("sox",
		"-q",
		"-t", "raw",
		"-b", "16",
		"-e", "signed-integer",
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", strconv.Itoa(s.cfg.Channels),
		"-", "-d",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: sox: %v", ErrDeviceUnavailable, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	return nil
}

func (s *coreAudioSink) killLocked() {
	if s.stdin != nil {
		s.stdin.Close()
		s.stdin = nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	s.cmd = nil
}

func (s *coreAudioSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.killLocked()

	s.logger.Info("coreaudio sink stopped")

	return nil
}

func (s *coreAudioSink) Write(ctx context.Context, frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.running {
		return io.ErrClosedPipe
	}

	if s.stdin == nil {
		if err := s.spawnLocked(); err != nil {
			return err
		}
	}

	if _, err := s.stdin.Write(frame.Bytes()); err != nil {
		s.underruns.Add(1)
		s.killLocked()
		return fmt.Errorf("audioio: write to sox: %w", err)
	}

	s.framesWritten.Add(1)
	s.samplesWritten.Add(int64(len(frame.Samples)))

	return nil
}

func (s *coreAudioSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdin == nil {
		return nil
	}

	s.stdin.Close()
	s.stdin = nil

	done := make(chan error, 1)
	cmd := s.cmd
	s.cmd = nil
	go func() {
		if cmd != nil {
			done <- cmd.Wait()
		} else {
			done <- nil
		}
	}()

	select {
	case <-ctx.Done():
		if cmd != nil && cmd.Process != nil {
			cmd.Process.Kill()
		}
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *coreAudioSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.killLocked()
	return nil
}

func (s *coreAudioSink) Config() Config { return s.cfg }

func (s *coreAudioSink) Name() string { return "coreaudio" }

func (s *coreAudioSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Stop()
	return nil
}

func (s *coreAudioSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SinkStats{
		FramesWritten:  s.framesWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Underruns:      s.underruns.Load(),
		Running:        running,
		Backend:        "coreaudio",
	}
}

var _ SinkWithStats = (*coreAudioSink)(nil)

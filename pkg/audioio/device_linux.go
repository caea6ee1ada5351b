//go:build linux

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

// alsaSource captures audio by piping arecord output.
// This is the production implementation for Linux workstations.
type alsaSource struct {
	cfg    Config
	logger *slog.Logger
	device string

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

func newALSASource(cfg Config, logger *slog.Logger) (Source, error) {
	device := cfg.Device
	if device == "" {
		device = "default"
	}

	return &alsaSource{
		cfg:      cfg,
		logger:   logger,
		device:   device,
		streamCh: make(chan Frame, 10),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start spawns arecord and begins reading raw PCM16 from its stdout.
func (s *alsaSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	cmd := exec.CommandContext(ctx, "arecord",
		"-q",
		"-D", s.device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", strconv.Itoa(s.cfg.Channels),
		"-t", "raw",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: arecord: %v", ErrDeviceUnavailable, err)
	}

	s.cmd = cmd
	s.stdout = stdout
	s.running = true
	s.stopCh = make(chan struct{})
	s.streamCh = make(chan Frame, 10)

	go s.captureLoop()

	s.logger.Info("alsa audio source started", "device", s.device)

	return nil
}

func (s *alsaSource) captureLoop() {
	buf := make([]byte, s.cfg.FrameBytes())

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if _, err := io.ReadFull(s.stdout, buf); err != nil {
			// Device went away or Stop killed the process.
			s.logger.Debug("alsa capture ended", "err", err)
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
			s.logger.Debug("alsa source: buffer full, dropping frame")
		}
	}
}

// Stop halts audio capture. Safe to call repeatedly.
func (s *alsaSource) Stop() error {
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

	s.logger.Info("alsa audio source stopped")

	return nil
}

func (s *alsaSource) Read(ctx context.Context) (Frame, error) {
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

func (s *alsaSource) Stream() <-chan Frame {
	return s.streamCh
}

func (s *alsaSource) Config() Config { return s.cfg }

func (s *alsaSource) Name() string { return "alsa" }

func (s *alsaSource) Close() error {
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

func (s *alsaSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		FramesRead:  s.framesRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "alsa",
	}
}

var _ SourceWithStats = (*alsaSource)(nil)

// alsaSink plays audio by piping raw PCM16 into aplay.
type alsaSink struct {
	cfg    Config
	logger *slog.Logger
	device string

	mu      sync.Mutex
	running bool
	closed  bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser

	framesWritten  atomic.Int64
	samplesWritten atomic.Int64
	underruns      atomic.Int64
}

func newALSASink(cfg Config, logger *slog.Logger) (Sink, error) {
	device := cfg.Device
	if device == "" {
		device = "default"
	}

	return &alsaSink{
		cfg:    cfg,
		logger: logger,
		device: device,
	}, nil
}

func (s *alsaSink) Start(ctx context.Context) error {
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

	s.logger.Info("alsa audio sink started", "device", s.device)

	return nil
}

func (s *alsaSink) spawnLocked() error {
	cmd := exec.Command("aplay",
		"-q",
		"-D", s.device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", strconv.Itoa(s.cfg.Channels),
		"-t", "raw",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: aplay: %v", ErrDeviceUnavailable, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	return nil
}

func (s *alsaSink) killLocked() {
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

func (s *alsaSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.killLocked()

	s.logger.Info("alsa audio sink stopped")

	return nil
}

func (s *alsaSink) Write(ctx context.Context, frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.running {
		return io.ErrClosedPipe
	}

	// Respawn if Clear killed the previous process.
	if s.stdin == nil {
		if err := s.spawnLocked(); err != nil {
			return err
		}
	}

	if _, err := s.stdin.Write(frame.Bytes()); err != nil {
		s.underruns.Add(1)
		s.killLocked()
		return fmt.Errorf("audioio: write to aplay: %w", err)
	}

	s.framesWritten.Add(1)
	s.samplesWritten.Add(int64(len(frame.Samples)))

	return nil
}

func (s *alsaSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdin == nil {
		return nil
	}

	// Closing stdin lets aplay drain and exit on its own.
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

func (s *alsaSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.killLocked()
	return nil
}

func (s *alsaSink) Config() Config { return s.cfg }

func (s *alsaSink) Name() string { return "alsa" }

func (s *alsaSink) Close() error {
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

func (s *alsaSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SinkStats{
		FramesWritten:  s.framesWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Underruns:      s.underruns.Load(),
		Running:        running,
		Backend:        "alsa",
	}
}

var _ SinkWithStats = (*alsaSink)(nil)

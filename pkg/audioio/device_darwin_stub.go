//go:build !darwin

package audioio

import (
	"fmt"
	"log/slog"
)

// newCoreAudioSource returns an error on non-macOS platforms.
func newCoreAudioSource(cfg Config, logger *slog.Logger) (Source, error) {
	return nil, fmt.Errorf("%w: CoreAudio is only available on macOS", ErrDeviceUnavailable)
}

// newCoreAudioSink returns an error on non-macOS platforms.
func newCoreAudioSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return nil, fmt.Errorf("%w: CoreAudio is only available on macOS", ErrDeviceUnavailable)
}

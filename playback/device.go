package playback

import (
	"time"

	"github.com/pkg/errors"
)

// Callback fills out with interleaved samples for one device block. It runs
// on the device's real-time goroutine and must not block or allocate.
type Callback func(out []float32)

// Config describes the stream a device is opened with.
type Config struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

// BlockDuration is the wall-clock length of one callback block.
func (c Config) BlockDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.FramesPerBuffer) * time.Second / time.Duration(c.SampleRate)
}

// BlockSize is the number of interleaved samples requested per callback.
func (c Config) BlockSize() int {
	return c.FramesPerBuffer * c.Channels
}

// Device is an output device that pulls samples through a Callback on its
// own schedule.
type Device interface {
	// Play starts pulling from the callback. Starting a playing device is a no-op.
	Play() error
	// Stop halts the callback. Stopping a stopped device is a no-op.
	Stop() error
	// IsPlaying reports whether the callback is currently being driven.
	IsPlaying() bool
	// Close stops the device and releases it. Further calls fail with ErrDeviceClosed.
	Close() error
}

// Opener creates a device for cfg that drives cb.
type Opener func(cfg Config, cb Callback) (Device, error)

var (
	ErrDeviceClosed  = errors.New("playback device closed")
	ErrInvalidConfig = errors.New("invalid playback config")
)

// DefaultFramesPerBuffer is used when a Config leaves FramesPerBuffer unset.
const DefaultFramesPerBuffer = 256

func (c Config) withDefaults() Config {
	if c.FramesPerBuffer <= 0 {
		c.FramesPerBuffer = DefaultFramesPerBuffer
	}
	return c
}

func (c Config) validate() error {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "rate=%d channels=%d", c.SampleRate, c.Channels)
	}
	return nil
}

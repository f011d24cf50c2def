package playback

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// NullDevice pulls from its callback at the real-time cadence and throws the
// samples away. It keeps the ring buffer draining when there is no audio
// hardware, e.g. headless runs and tests.
type NullDevice struct {
	cfg    Config
	pump   *pump
	mu     sync.Mutex
	closed bool
}

// OpenNull is an Opener for NullDevice. observe, if non-nil, sees every block
// after the callback filled it.
func OpenNull(observe func(block []float32)) Opener {
	return func(cfg Config, cb Callback) (Device, error) {
		return NewNullDevice(cfg, cb, observe)
	}
}

// NewNullDevice creates a stopped NullDevice.
func NewNullDevice(cfg Config, cb Callback, observe func(block []float32)) (*NullDevice, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	var sink func([]float32) error
	if observe != nil {
		sink = func(block []float32) error {
			observe(block)
			return nil
		}
	}
	logrus.WithFields(logrus.Fields{
		"component":  "playback",
		"device":     "null",
		"sampleRate": cfg.SampleRate,
		"channels":   cfg.Channels,
	}).Debug("Opened null playback device")
	return &NullDevice{cfg: cfg, pump: newPump(cfg, cb, sink)}, nil
}

func (d *NullDevice) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDeviceClosed
	}
	d.pump.start()
	return nil
}

func (d *NullDevice) Stop() error {
	d.pump.stop()
	return nil
}

func (d *NullDevice) IsPlaying() bool {
	return d.pump.isPlaying()
}

func (d *NullDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	d.pump.stop()
	return nil
}

// Config returns the stream configuration the device was opened with.
func (d *NullDevice) Config() Config {
	return d.cfg
}

package audio

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/richinsley/goreceiver/playback"
	"github.com/richinsley/goreceiver/ringbuffer"
)

// Renderer receives negotiated audio and owns the playback device.
type Renderer interface {
	// SetFormat prepares buffering and playback for f. It is called before
	// any samples of f are played.
	SetFormat(f Format) error
	// PlaySamples queues interleaved samples in the last format set and makes
	// sure playback is running.
	PlaySamples(samples []float32) error
	// StopPlaying stops playback. Stopping a stopped renderer is a no-op.
	StopPlaying() error
}

// ErrNoFormat is returned by PlaySamples before the first SetFormat.
var ErrNoFormat = errors.New("audio format not set")

// DeviceRendererConfig configures a DeviceRenderer.
type DeviceRendererConfig struct {
	// Open creates the playback device for every accepted format.
	Open playback.Opener
	// FramesPerBuffer is the device block size in frames.
	FramesPerBuffer int
	// BufferFrames sizes the ring buffer in whole audio frames. Defaults to 1.
	BufferFrames int
}

// RendererStats are counters kept by DeviceRenderer.
type RendererStats struct {
	Format           Format
	Layout           Layout
	Buffered         int
	DroppedSamples   int64
	UnderflowSamples int64
	Playing          bool
}

// DeviceRenderer buffers samples in a ring buffer that a playback device
// drains from its real-time callback.
//
// One mutex guards the ring buffer and the device pointer. It is held only
// around buffer and field access, never across device calls: devices wait for
// their in-flight callback on Stop, and the callback takes the same mutex.
type DeviceRenderer struct {
	cfg DeviceRendererConfig

	mu       sync.Mutex
	buffer   *ringbuffer.RingBuffer[float32]
	device   playback.Device
	format   Format
	layout   Layout
	hasFmt   bool
	remapped []float32

	dropped   atomic.Int64
	underflow atomic.Int64
}

// NewDeviceRenderer creates a renderer with no format and no device.
func NewDeviceRenderer(cfg DeviceRendererConfig) *DeviceRenderer {
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = 1
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = playback.DefaultFramesPerBuffer
	}
	if cfg.Open == nil {
		cfg.Open = playback.OpenNull(nil)
	}
	return &DeviceRenderer{cfg: cfg}
}

// SetFormat reallocates the ring buffer for f and replaces the playback
// device with one opened at f's rate and the closest supported layout.
func (r *DeviceRenderer) SetFormat(f Format) error {
	if !f.Valid() {
		return errors.Wrapf(ErrInvalidFormat, "%s", f)
	}
	log := logrus.WithFields(logrus.Fields{
		"component": "audio",
		"format":    f.String(),
	})

	layout, exact := ClosestLayout(f.Channels)
	if !exact {
		log.WithField("layout", layout.String()).
			Warnf("Unsupported number of audio channels: %d. There may be audio artifacts.", f.Channels)
	}

	r.mu.Lock()
	old := r.device
	r.device = nil
	r.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			log.WithField("error", err).Warn("Failed to close previous playback device")
		}
	}

	r.mu.Lock()
	r.buffer = ringbuffer.New[float32](f.BufferSize() * r.cfg.BufferFrames)
	r.format = f
	r.layout = layout
	r.hasFmt = true
	r.mu.Unlock()

	dev, err := r.cfg.Open(playback.Config{
		SampleRate:      f.SampleRate,
		Channels:        layout.Channels(),
		FramesPerBuffer: r.cfg.FramesPerBuffer,
	}, r.fill)
	if err != nil {
		return errors.Wrapf(err, "failed to open playback device for %s", f)
	}

	r.mu.Lock()
	r.device = dev
	r.mu.Unlock()

	log.WithField("layout", layout.String()).Info("Audio format set")
	return nil
}

// PlaySamples writes samples in order and starts the device if it is idle.
// Samples that do not fit are dropped.
func (r *DeviceRenderer) PlaySamples(samples []float32) error {
	r.mu.Lock()
	if !r.hasFmt {
		r.mu.Unlock()
		return ErrNoFormat
	}
	in := samples
	if r.format.Channels != r.layout.Channels() {
		r.remapped = Remap(r.remapped, samples, r.format.Channels, r.layout.Channels())
		in = r.remapped
	}
	accepted := r.buffer.WriteSlice(in)
	dev := r.device
	r.mu.Unlock()

	if dropped := len(in) - accepted; dropped > 0 {
		r.dropped.Add(int64(dropped))
	}
	if dev == nil {
		return nil
	}
	if dev.IsPlaying() {
		return nil
	}
	return dev.Play()
}

// StopPlaying stops the device and discards buffered samples.
func (r *DeviceRenderer) StopPlaying() error {
	r.mu.Lock()
	dev := r.device
	r.mu.Unlock()

	var err error
	if dev != nil && dev.IsPlaying() {
		err = dev.Stop()
	}

	r.mu.Lock()
	if r.buffer != nil {
		r.buffer.Clear()
	}
	r.mu.Unlock()
	return err
}

// Close releases the playback device. The renderer can be reused by calling
// SetFormat again.
func (r *DeviceRenderer) Close() error {
	r.mu.Lock()
	dev := r.device
	r.device = nil
	r.hasFmt = false
	if r.buffer != nil {
		r.buffer.Clear()
	}
	r.mu.Unlock()

	if dev != nil {
		return dev.Close()
	}
	return nil
}

// fill is the device callback. Missing samples are replaced with silence.
func (r *DeviceRenderer) fill(out []float32) {
	r.mu.Lock()
	n := 0
	if r.buffer != nil {
		n = r.buffer.ReadInto(out)
	} else {
		clear(out)
	}
	r.mu.Unlock()

	if short := len(out) - n; short > 0 {
		r.underflow.Add(int64(short))
	}
}

// Stats returns a snapshot of the renderer counters.
func (r *DeviceRenderer) Stats() RendererStats {
	r.mu.Lock()
	s := RendererStats{
		Format: r.format,
		Layout: r.layout,
	}
	if r.buffer != nil {
		s.Buffered = r.buffer.Len()
	}
	dev := r.device
	r.mu.Unlock()

	if dev != nil {
		s.Playing = dev.IsPlaying()
	}
	s.DroppedSamples = r.dropped.Load()
	s.UnderflowSamples = r.underflow.Load()
	return s
}

// BufferCap returns the capacity of the current ring buffer, or 0 before the
// first SetFormat.
func (r *DeviceRenderer) BufferCap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buffer == nil {
		return 0
	}
	return r.buffer.Cap()
}

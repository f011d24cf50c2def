package audio

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/goreceiver/playback"
)

type fakeDevice struct {
	mu      sync.Mutex
	cfg     playback.Config
	cb      playback.Callback
	playing bool
	closed  bool
	plays   int
}

func (d *fakeDevice) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return playback.ErrDeviceClosed
	}
	d.playing = true
	d.plays++
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing = false
	return nil
}

func (d *fakeDevice) IsPlaying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing = false
	d.closed = true
	return nil
}

// pull drives the captured callback the way a device thread would.
func (d *fakeDevice) pull(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = -1
	}
	d.cb(out)
	return out
}

type fakeOpener struct {
	devices []*fakeDevice
}

func (o *fakeOpener) open(cfg playback.Config, cb playback.Callback) (playback.Device, error) {
	d := &fakeDevice{cfg: cfg, cb: cb}
	o.devices = append(o.devices, d)
	return d, nil
}

func (o *fakeOpener) last() *fakeDevice {
	return o.devices[len(o.devices)-1]
}

func newTestRenderer(o *fakeOpener) *DeviceRenderer {
	return NewDeviceRenderer(DeviceRendererConfig{Open: o.open, FramesPerBuffer: 256})
}

func ramp(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(i + 1)
	}
	return s
}

func TestRendererPlayBeforeFormat(t *testing.T) {
	r := newTestRenderer(&fakeOpener{})
	assert.ErrorIs(t, r.PlaySamples([]float32{1}), ErrNoFormat)
	assert.Equal(t, 0, r.BufferCap())
}

func TestRendererSetFormatSizesBuffer(t *testing.T) {
	o := &fakeOpener{}
	r := newTestRenderer(o)

	require.NoError(t, r.SetFormat(Format{SampleRate: 48000, Channels: 2, SamplesPerFrame: 480}))
	assert.Equal(t, 960, r.BufferCap())
	assert.Equal(t, playback.Config{SampleRate: 48000, Channels: 2, FramesPerBuffer: 256}, o.last().cfg)

	require.NoError(t, r.SetFormat(Format{SampleRate: 44100, Channels: 1, SamplesPerFrame: 441}))
	assert.Equal(t, 441, r.BufferCap())
	require.Len(t, o.devices, 2)
	assert.True(t, o.devices[0].closed, "previous device closed on format change")
	assert.Equal(t, 44100, o.last().cfg.SampleRate)
	assert.Equal(t, 1, o.last().cfg.Channels)
}

func TestRendererUnderflowPadsWithSilence(t *testing.T) {
	o := &fakeOpener{}
	r := newTestRenderer(o)
	require.NoError(t, r.SetFormat(Format{SampleRate: 48000, Channels: 1, SamplesPerFrame: 480}))

	require.NoError(t, r.PlaySamples(ramp(100)))
	dev := o.last()
	assert.True(t, dev.IsPlaying())

	out := dev.pull(256)
	assert.Equal(t, ramp(100), out[:100])
	for i, v := range out[100:] {
		require.Zero(t, v, "sample %d", 100+i)
	}
	assert.Equal(t, int64(156), r.Stats().UnderflowSamples)
}

func TestRendererOverflowDropsNewest(t *testing.T) {
	o := &fakeOpener{}
	r := newTestRenderer(o)
	require.NoError(t, r.SetFormat(Format{SampleRate: 8000, Channels: 1, SamplesPerFrame: 4}))

	require.NoError(t, r.PlaySamples([]float32{1, 2, 3}))
	require.NoError(t, r.PlaySamples([]float32{4, 5, 6}))

	assert.Equal(t, []float32{1, 2, 3, 4}, o.last().pull(4))
	assert.Equal(t, int64(2), r.Stats().DroppedSamples)
}

func TestRendererFoldsUnsupportedLayout(t *testing.T) {
	o := &fakeOpener{}
	r := newTestRenderer(o)
	require.NoError(t, r.SetFormat(Format{SampleRate: 48000, Channels: 4, SamplesPerFrame: 2}))
	assert.Equal(t, 2, o.last().cfg.Channels)
	assert.Equal(t, Stereo, r.Stats().Layout)

	require.NoError(t, r.PlaySamples([]float32{1, 2, 3, 4, 5, 6, 7, 8}))
	assert.Equal(t, []float32{2, 3, 6, 7}, o.last().pull(4))
}

func TestRendererStopPlaying(t *testing.T) {
	o := &fakeOpener{}
	r := newTestRenderer(o)

	// No device yet.
	require.NoError(t, r.StopPlaying())

	require.NoError(t, r.SetFormat(Format{SampleRate: 48000, Channels: 2, SamplesPerFrame: 4}))
	require.NoError(t, r.PlaySamples(ramp(8)))
	require.NoError(t, r.StopPlaying())
	assert.False(t, o.last().IsPlaying())
	assert.Zero(t, r.Stats().Buffered)

	require.NoError(t, r.StopPlaying())

	// Playback resumes on the next samples.
	require.NoError(t, r.PlaySamples(ramp(8)))
	assert.True(t, o.last().IsPlaying())
	assert.Equal(t, 2, o.last().plays)
}

func TestRendererClose(t *testing.T) {
	o := &fakeOpener{}
	r := newTestRenderer(o)
	require.NoError(t, r.SetFormat(Format{SampleRate: 48000, Channels: 2, SamplesPerFrame: 4}))
	require.NoError(t, r.Close())
	assert.True(t, o.last().closed)
	assert.ErrorIs(t, r.PlaySamples(ramp(8)), ErrNoFormat)
	require.NoError(t, r.Close())
}

func TestRendererBufferFrames(t *testing.T) {
	o := &fakeOpener{}
	r := NewDeviceRenderer(DeviceRendererConfig{Open: o.open, BufferFrames: 3})
	require.NoError(t, r.SetFormat(Format{SampleRate: 48000, Channels: 2, SamplesPerFrame: 480}))
	assert.Equal(t, 2880, r.BufferCap())
	assert.Equal(t, playback.DefaultFramesPerBuffer, o.last().cfg.FramesPerBuffer)
}

// Package portaudio plays audio through the default PortAudio output device.
//
// We'll be using portaudio for audio output.
// macos:	brew install portaudio
// debian:	sudo apt-get install portaudio19-dev
// windows:	pacman -S mingw-w64-x86_64-portaudio
package portaudio

import (
	"sync"

	pa "github.com/gordonklaus/portaudio"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/richinsley/goreceiver/playback"
)

// Device is a playback.Device on a PortAudio output stream. PortAudio calls
// the callback on its own real-time thread.
type Device struct {
	cfg    playback.Config
	cb     playback.Callback
	stream *pa.Stream

	mu      sync.Mutex
	playing bool
	closed  bool
}

// Open is a playback.Opener for the default PortAudio output device.
func Open(cfg playback.Config, cb playback.Callback) (playback.Device, error) {
	return New(cfg, cb)
}

// New initializes PortAudio and opens a stopped output stream. PortAudio
// reference-counts Initialize/Terminate, so every Device pairs its own.
func New(cfg playback.Config, cb playback.Callback) (*Device, error) {
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = playback.DefaultFramesPerBuffer
	}
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 {
		return nil, errors.Wrapf(playback.ErrInvalidConfig, "rate=%d channels=%d", cfg.SampleRate, cfg.Channels)
	}
	if err := pa.Initialize(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize portaudio")
	}

	d := &Device{cfg: cfg, cb: cb}
	stream, err := pa.OpenDefaultStream(0, cfg.Channels, float64(cfg.SampleRate), cfg.FramesPerBuffer, d.audioCallback)
	if err != nil {
		pa.Terminate()
		return nil, errors.Wrap(err, "failed to open portaudio output stream")
	}
	d.stream = stream

	logrus.WithFields(logrus.Fields{
		"component":       "playback",
		"device":          "portaudio",
		"sampleRate":      cfg.SampleRate,
		"channels":        cfg.Channels,
		"framesPerBuffer": cfg.FramesPerBuffer,
	}).Info("Opened portaudio output stream")
	return d, nil
}

// audioCallback receives interleaved output because the stream was opened
// with a []float32 callback.
func (d *Device) audioCallback(out []float32) {
	d.cb(out)
}

func (d *Device) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return playback.ErrDeviceClosed
	}
	if d.playing {
		return nil
	}
	if err := d.stream.Start(); err != nil {
		return errors.Wrap(err, "failed to start portaudio stream")
	}
	d.playing = true
	return nil
}

// Stop blocks until the in-flight callback returns. Callers must not hold a
// lock the callback needs.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || !d.playing {
		return nil
	}
	d.playing = false
	if err := d.stream.Stop(); err != nil {
		return errors.Wrap(err, "failed to stop portaudio stream")
	}
	return nil
}

func (d *Device) IsPlaying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.playing = false
	if err := d.stream.Close(); err != nil {
		pa.Terminate()
		return errors.Wrap(err, "failed to close portaudio stream")
	}
	return pa.Terminate()
}

// Package receiver drives a capture source: it pulls video on every host tick,
// runs audio capture on a background worker and hands audio to the playback
// path on the tick goroutine.
//
// The host calls Tick once per loop iteration and the lifecycle hooks (Enable,
// Disable, Restart, Destroy) whenever it needs to. Hooks may be called from any
// goroutine and any number of times.
package receiver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/richinsley/goreceiver/audio"
	"github.com/richinsley/goreceiver/capture"
	"github.com/richinsley/goreceiver/convert"
	"github.com/richinsley/goreceiver/video"
)

const (
	DefaultRetryInterval   = 100 * time.Millisecond
	DefaultCaptureTimeout  = 100 * time.Millisecond
	DefaultShutdownTimeout = time.Second
	DefaultMailboxSize     = 16
)

// Config configures a Receiver.
type Config struct {
	Source     capture.Source
	SourceName string
	// Renderer plays negotiated audio. Audio is discarded when nil.
	Renderer audio.Renderer
	// Sink receives decoded video. Video is only captured and dropped when nil.
	Sink *video.Sink
	// Tap observes every audio block handed to the renderer.
	Tap audio.Tap
	// NewConverter creates the pixel converter of each session. Defaults to
	// convert.NewUYVYConverter.
	NewConverter func() convert.Converter

	RetryInterval   time.Duration
	CaptureTimeout  time.Duration
	ShutdownTimeout time.Duration
	MailboxSize     int
}

func (c Config) withDefaults() Config {
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.CaptureTimeout <= 0 {
		c.CaptureTimeout = DefaultCaptureTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = DefaultMailboxSize
	}
	if c.NewConverter == nil {
		c.NewConverter = func() convert.Converter { return convert.NewUYVYConverter() }
	}
	return c
}

// Stats are receiver counters.
type Stats struct {
	State         State
	Sessions      int64
	AudioFrames   int64
	VideoFrames   int64
	AudioErrors   int64
	VideoErrors   int64
	WorkerFaults  int64
	FormatChanges int
}

// Receiver owns at most one capture session at a time.
//
// mu serializes Tick and the lifecycle hooks. The audio worker never takes it.
// Queries (State, Metadata, Stats) do not take it either, so they are safe to
// call from a video consumer running inside Tick.
type Receiver struct {
	cfg        Config
	log        *logrus.Entry
	negotiator *audio.FormatNegotiator

	mu        sync.Mutex
	enabled   bool
	destroyed bool
	ended     bool
	session   *session

	current  atomic.Pointer[session]
	idle     atomic.Int32
	metadata atomic.Value
	changes  atomic.Int64

	sessions     atomic.Int64
	audioFrames  atomic.Int64
	videoFrames  atomic.Int64
	audioErrors  atomic.Int64
	videoErrors  atomic.Int64
	workerFaults atomic.Int64
}

// New creates an enabled receiver. Nothing is opened until the first Tick.
func New(cfg Config) (*Receiver, error) {
	if cfg.Source == nil {
		return nil, errors.New("receiver needs a capture source")
	}
	cfg = cfg.withDefaults()
	r := &Receiver{
		cfg:        cfg,
		negotiator: audio.NewFormatNegotiator(cfg.Renderer),
		enabled:    true,
		log: logrus.WithFields(logrus.Fields{
			"component": "receiver",
			"source":    cfg.SourceName,
		}),
	}
	r.negotiator.SetTap(cfg.Tap)
	r.metadata.Store("")
	r.idle.Store(int32(Idle))
	return r, nil
}

// Tick runs one host loop step: replace a session whose worker has exited,
// create the session and its handle when missing, play the audio the worker
// posted, publish one video frame and make sure the worker runs.
func (r *Receiver) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed || !r.enabled {
		return
	}

	if s := r.session; s != nil && s.stopped() {
		r.drain(s)
		r.detach()
		switch {
		case errors.Is(s.exitErr, capture.ErrStreamEnded):
			r.ended = true
		case s.exitErr != nil:
			r.workerFaults.Add(1)
			fallthrough
		default:
			r.log.WithField("session", s.id).Info("Re-establishing capture session")
		}
	}
	if r.ended {
		return
	}

	s := r.session
	if s == nil {
		s = newSession(int(r.sessions.Add(1)), &r.cfg)
		r.session = s
		r.current.Store(s)
	}
	s.prepare()
	r.drain(s)
	r.processVideoFrame(s)
	s.start()
}

// drain plays what the worker posted, at most one mailbox worth per tick.
func (r *Receiver) drain(s *session) {
	for i := 0; i < cap(s.mailbox); i++ {
		select {
		case m := <-s.mailbox:
			r.handle(m)
		default:
			return
		}
	}
}

func (r *Receiver) handle(m Message) {
	switch m := m.(type) {
	case AudioFrameMessage:
		r.audioFrames.Add(1)
		if err := r.negotiator.Process(&m.Frame); err != nil {
			r.audioErrors.Add(1)
			r.log.WithFields(logrus.Fields{
				"format": m.Frame.Format.String(),
				"error":  err,
			}).Warn("Failed to play audio frame")
		}
		r.changes.Store(int64(r.negotiator.Changes()))
	case WorkerExitMessage:
		r.log.WithField("error", m.Err).Debug("Audio capture worker exited")
	}
}

// processVideoFrame publishes at most one frame. A missing handle or frame
// makes it a no-op.
func (r *Receiver) processVideoFrame(s *session) {
	f, err := s.captureVideo()
	if err != nil {
		r.videoErrors.Add(1)
		r.log.WithField("error", err).Warn("Failed to capture video frame")
		return
	}
	if f == nil {
		return
	}
	r.videoFrames.Add(1)
	r.metadata.Store(f.Metadata)
	if r.cfg.Sink != nil {
		r.cfg.Sink.Publish(*f)
	}
}

// detach forgets the current session after making sure its resources are
// released. Caller holds mu.
func (r *Receiver) detach() {
	s := r.session
	if s == nil {
		return
	}
	r.session = nil
	r.current.Store(nil)
	r.idle.Store(int32(Stopped))

	s.signal()
	if s.started {
		timer := time.NewTimer(r.cfg.ShutdownTimeout)
		defer timer.Stop()
		select {
		case <-s.done:
		case <-timer.C:
			// The worker is stuck in a capture call. It releases the
			// handle itself when that call returns.
			s.log.WithField("timeout", r.cfg.ShutdownTimeout).
				Warn("Audio capture worker did not stop in time")
			return
		}
	}
	s.release()
	s.state.Store(int32(Stopped))
}

// releaseInternalObjects stops playback and tears the session down. Caller
// holds mu.
func (r *Receiver) releaseInternalObjects() {
	r.stopRenderer()
	r.detach()
}

func (r *Receiver) stopRenderer() {
	if r.cfg.Renderer == nil {
		return
	}
	if err := r.cfg.Renderer.StopPlaying(); err != nil {
		r.log.WithField("error", err).Warn("Failed to stop audio playback")
	}
}

// Enable lets the next Tick start capturing.
func (r *Receiver) Enable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return
	}
	r.enabled = true
	r.ended = false
}

// Disable tears the session down, waiting at most ShutdownTimeout for the
// worker.
func (r *Receiver) Disable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return
	}
	r.enabled = false
	r.releaseInternalObjects()
}

// Restart tears the session down. The next Tick builds a new one from scratch.
func (r *Receiver) Restart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return
	}
	r.log.Info("Restarting capture")
	r.releaseInternalObjects()
	r.ended = false
	r.metadata.Store("")
	r.idle.Store(int32(Starting))
}

// Destroy stops playback and cancels the worker without waiting for it. The
// worker releases the handle on its way out. Every later call is a no-op.
func (r *Receiver) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return
	}
	r.destroyed = true
	r.enabled = false
	r.stopRenderer()

	s := r.session
	r.session = nil
	r.current.Store(nil)
	r.idle.Store(int32(Stopped))
	if s == nil {
		return
	}
	s.signal()
	if !s.started {
		s.release()
		s.state.Store(int32(Stopped))
	}
}

// State returns the state of the current session.
func (r *Receiver) State() State {
	if s := r.current.Load(); s != nil {
		return s.State()
	}
	return State(r.idle.Load())
}

// Metadata returns the metadata of the last video frame, empty when that frame
// carried none.
func (r *Receiver) Metadata() string {
	return r.metadata.Load().(string)
}

func (r *Receiver) Stats() Stats {
	return Stats{
		State:         r.State(),
		Sessions:      r.sessions.Load(),
		AudioFrames:   r.audioFrames.Load(),
		VideoFrames:   r.videoFrames.Load(),
		AudioErrors:   r.audioErrors.Load(),
		VideoErrors:   r.videoErrors.Load(),
		WorkerFaults:  r.workerFaults.Load(),
		FormatChanges: int(r.changes.Load()),
	}
}

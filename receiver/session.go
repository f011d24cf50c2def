package receiver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/richinsley/goreceiver/capture"
	"github.com/richinsley/goreceiver/convert"
	"github.com/richinsley/goreceiver/video"
)

// session binds one capture handle to one audio worker. It is created by the
// tick goroutine and torn down either by it or, when teardown gave up waiting,
// by the exiting worker.
//
// mu guards the handle. Capture calls hold it for reading so video and audio
// can be captured at the same time; installing and releasing the handle hold it
// for writing, so a handle is never closed under an in-flight capture.
type session struct {
	id  int
	cfg *Config
	log *logrus.Entry

	ctx     context.Context
	cancel  context.CancelFunc
	mailbox chan Message
	done    chan struct{}
	started bool // tick goroutine only

	state   atomic.Int32
	exitErr error // written before done is closed

	mu        sync.RWMutex
	handle    capture.Handle
	converter convert.Converter
	closed    bool
	opening   bool
	lastTry   time.Time
}

func newSession(id int, cfg *Config) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:      id,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		mailbox: make(chan Message, cfg.MailboxSize),
		done:    make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"component": "receiver",
			"session":   id,
			"source":    cfg.SourceName,
		}),
	}
	s.state.Store(int32(Starting))
	return s
}

func (s *session) State() State {
	return State(s.state.Load())
}

// prepare opens the handle if there is none. Attempts are at least
// RetryInterval apart; an unavailable source is not an error. The lock is not
// held while Open runs, so the video step never waits on a slow source.
func (s *session) prepare() bool {
	s.mu.RLock()
	ready, closed := s.handle != nil, s.closed
	s.mu.RUnlock()
	if ready {
		return true
	}
	if closed {
		return false
	}

	s.mu.Lock()
	if s.handle != nil {
		s.mu.Unlock()
		return true
	}
	if s.closed || s.opening || (!s.lastTry.IsZero() && time.Since(s.lastTry) < s.cfg.RetryInterval) {
		s.mu.Unlock()
		return false
	}
	s.lastTry = time.Now()
	s.opening = true
	s.mu.Unlock()

	h, err := s.cfg.Source.Open(s.cfg.SourceName)

	s.mu.Lock()
	s.opening = false
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, capture.ErrSourceUnavailable) {
			s.log.WithField("error", err).Debug("Capture source not available yet")
		} else {
			s.log.WithField("error", err).Warn("Failed to open capture source")
		}
		return false
	}
	if s.closed || s.ctx.Err() != nil {
		// Torn down while Open ran.
		s.mu.Unlock()
		if cerr := h.Close(); cerr != nil {
			s.log.WithField("error", cerr).Warn("Failed to close capture handle")
		}
		s.log.Debug("Discarded capture handle opened during teardown")
		return false
	}
	s.handle = h
	s.converter = s.cfg.NewConverter()
	s.mu.Unlock()

	s.log.Info("Capture handle created")
	return true
}

// release closes the handle and drops the converter. It runs any number of
// times and from either goroutine; only the first call closes anything.
func (s *session) release() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.converter = nil
	s.closed = true
	s.mu.Unlock()

	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		s.log.WithField("error", err).Warn("Failed to close capture handle")
		return
	}
	s.log.Debug("Capture handle released")
}

// captureVideo grabs one video frame without waiting and decodes it. The
// native frame is freed before returning.
func (s *session) captureVideo() (*video.Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == nil {
		return nil, nil
	}
	vf, err := s.handle.CaptureVideo(0)
	if err != nil || vf == nil {
		return nil, err
	}
	defer s.handle.FreeVideoFrame(vf)

	img, err := s.converter.Decode(vf.Width, vf.Height, capture.CheckAlpha(vf.FourCC), vf.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s frame", vf.FourCC)
	}
	return &video.Frame{Image: img, Metadata: vf.Metadata, Timecode: vf.Timecode}, nil
}

// captureAudio waits up to CaptureTimeout for an audio frame and returns a
// copy of it. The native frame is freed before returning.
func (s *session) captureAudio() (*AudioFrameMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == nil {
		return nil, nil
	}
	frame, err := s.handle.CaptureAudio(s.cfg.CaptureTimeout)
	if err != nil || frame == nil {
		return nil, err
	}
	msg := &AudioFrameMessage{Frame: frame.Clone()}
	s.handle.FreeAudioFrame(frame)
	return msg, nil
}

// start launches the audio worker. Tick goroutine only.
func (s *session) start() {
	if s.started {
		return
	}
	s.started = true
	go s.run()
}

// run is the audio worker. Whatever ends it, the handle is released, the
// state becomes Stopped and done is closed.
func (s *session) run() {
	defer close(s.done)
	defer func() {
		if p := recover(); p != nil {
			s.exitErr = errors.Errorf("audio capture worker panic: %v", p)
			s.log.WithField("panic", p).Error("Audio capture worker crashed")
		}
		s.state.Store(int32(Stopped))
		s.release()
		select {
		case s.mailbox <- WorkerExitMessage{Err: s.exitErr}:
		default:
		}
	}()

	s.state.CompareAndSwap(int32(Starting), int32(Running))
	s.log.Debug("Audio capture worker started")
	s.exitErr = s.loop()
	switch {
	case s.exitErr == nil:
		s.log.Debug("Audio capture worker cancelled")
	case errors.Is(s.exitErr, capture.ErrStreamEnded):
		s.log.Info("Capture stream ended")
	default:
		s.log.WithField("error", s.exitErr).Error("Audio capture failed")
	}
}

func (s *session) loop() error {
	for s.ctx.Err() == nil {
		if !s.prepare() {
			if !s.sleep(s.cfg.RetryInterval) {
				return nil
			}
			continue
		}
		msg, err := s.captureAudio()
		if err != nil {
			return err
		}
		if msg == nil {
			continue
		}
		select {
		case s.mailbox <- *msg:
		case <-s.ctx.Done():
			return nil
		}
	}
	return nil
}

// sleep waits for d and reports false if the session was cancelled first.
func (s *session) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// stopped reports whether the worker has exited.
func (s *session) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// signal moves the session to Cancelling and cancels it.
func (s *session) signal() {
	s.state.CompareAndSwap(int32(Starting), int32(Cancelling))
	s.state.CompareAndSwap(int32(Running), int32(Cancelling))
	s.cancel()
}

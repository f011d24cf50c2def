// Package headless is a windowless host loop: it ticks at a fixed rate until
// its context is cancelled or its duration runs out.
package headless

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/richinsley/goreceiver/graphics"
)

var _ graphics.Context = (*Headless)(nil)

type Headless struct {
	ctx      context.Context
	cancel   context.CancelFunc
	period   time.Duration
	start    time.Time
	next     time.Time
	deadline time.Time
	frames   int64
	log      *logrus.Entry
}

// NewHeadless ticks fps times a second. A zero duration runs until parent is
// cancelled or Shutdown is called.
func NewHeadless(parent context.Context, fps float64, duration time.Duration) *Headless {
	if fps <= 0 {
		fps = 60
	}
	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	h := &Headless{
		ctx:    ctx,
		cancel: cancel,
		period: time.Duration(float64(time.Second) / fps),
		start:  now,
		next:   now,
		log:    logrus.WithField("component", "headless"),
	}
	if duration > 0 {
		h.deadline = now.Add(duration)
	}
	h.log.WithFields(logrus.Fields{"fps": fps, "duration": duration}).Info("Headless host loop started")
	return h
}

func (h *Headless) ShouldClose() bool {
	if h.ctx.Err() != nil {
		return true
	}
	return !h.deadline.IsZero() && !time.Now().Before(h.deadline)
}

// EndFrame sleeps until the next tick. A loop that fell more than a frame
// behind resynchronizes instead of bursting.
func (h *Headless) EndFrame() {
	h.frames++
	now := time.Now()
	h.next = h.next.Add(h.period)
	if now.Sub(h.next) > h.period {
		h.next = now
	}
	wait := h.next.Sub(now)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-h.ctx.Done():
	}
}

func (h *Headless) Time() float64 {
	return time.Since(h.start).Seconds()
}

// Frames is the number of frames ended so far.
func (h *Headless) Frames() int64 {
	return h.frames
}

func (h *Headless) Shutdown() {
	h.cancel()
	h.log.WithField("frames", h.frames).Info("Headless host loop stopped")
}

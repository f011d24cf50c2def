// Package graphics defines the host loop the receiver is ticked from.
package graphics

import (
	"context"
	"time"
)

// Context is a host loop: a window or a plain ticker.
type Context interface {
	ShouldClose() bool
	// EndFrame presents the frame and blocks until the next tick is due.
	EndFrame()
	// Time is the number of seconds since the context was created.
	Time() float64
	Shutdown()
}

// Surface is a Context with a GL framebuffer.
type Surface interface {
	Context
	MakeCurrent()
	GetFramebufferSize() (int, int)
}

// Run calls step once per frame until the context asks to close. It returns
// the number of frames run.
func Run(ctx Context, step func()) int {
	frames := 0
	for !ctx.ShouldClose() {
		step()
		ctx.EndFrame()
		frames++
	}
	return frames
}

type bounded struct {
	Context
	ctx      context.Context
	deadline time.Time
}

// Bounded wraps c so it also closes once ctx is done or, when d is positive,
// once d has elapsed.
func Bounded(ctx context.Context, c Context, d time.Duration) Context {
	b := &bounded{Context: c, ctx: ctx}
	if d > 0 {
		b.deadline = time.Now().Add(d)
	}
	return b
}

func (b *bounded) ShouldClose() bool {
	if b.ctx.Err() != nil {
		return true
	}
	if !b.deadline.IsZero() && !time.Now().Before(b.deadline) {
		return true
	}
	return b.Context.ShouldClose()
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	glfw "github.com/go-gl/glfw/v3.3/glfw"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/richinsley/goreceiver/analysis"
	"github.com/richinsley/goreceiver/audio"
	"github.com/richinsley/goreceiver/capture"
	"github.com/richinsley/goreceiver/glfwcontext"
	"github.com/richinsley/goreceiver/graphics"
	"github.com/richinsley/goreceiver/headless"
	"github.com/richinsley/goreceiver/options"
	"github.com/richinsley/goreceiver/playback"
	"github.com/richinsley/goreceiver/playback/portaudio"
	"github.com/richinsley/goreceiver/receiver"
	"github.com/richinsley/goreceiver/renderer"
	"github.com/richinsley/goreceiver/video"
)

const statsInterval = 5 * time.Second

// app is everything the host loop ticks.
type app struct {
	opts     *options.ReceiverOptions
	renderer *audio.DeviceRenderer
	sink     *video.Sink
	analyzer *analysis.Analyzer
	receiver *receiver.Receiver
	log      *logrus.Entry

	enabled   bool
	lastStats time.Time
}

func newOpener(opts *options.ReceiverOptions) (playback.Opener, error) {
	switch opts.AudioOutput {
	case options.OutputPortAudio:
		return portaudio.Open, nil
	case options.OutputFFmpeg:
		return playback.OpenFFmpeg(playback.FFmpegConfig{
			FFMPEGPath:   opts.FFMPEGPath,
			OutputDevice: opts.OutputDevice,
		}), nil
	case options.OutputNull:
		return playback.OpenNull(nil), nil
	}
	return nil, errors.Errorf("unknown audio output %q", opts.AudioOutput)
}

func newApp(opts *options.ReceiverOptions) (*app, error) {
	src, err := capture.New(opts.SourceKind, opts.CaptureConfig())
	if err != nil {
		return nil, err
	}
	opener, err := newOpener(opts)
	if err != nil {
		return nil, err
	}

	a := &app{
		opts: opts,
		renderer: audio.NewDeviceRenderer(audio.DeviceRendererConfig{
			Open:            opener,
			FramesPerBuffer: opts.FramesPerBuffer,
			BufferFrames:    opts.BufferFrames,
		}),
		sink:     video.NewSink(),
		analyzer: analysis.NewAnalyzer(),
		enabled:  true,
		log:      logrus.WithField("component", "main"),
	}
	a.receiver, err = receiver.New(receiver.Config{
		Source:          src,
		SourceName:      opts.SourceName,
		Renderer:        a.renderer,
		Sink:            a.sink,
		Tap:             a.analyzer.Tap(),
		RetryInterval:   opts.RetryInterval,
		CaptureTimeout:  opts.CaptureTimeout,
		ShutdownTimeout: opts.ShutdownTimeout,
		MailboxSize:     opts.MailboxSize,
	})
	if err != nil {
		a.renderer.Close()
		return nil, err
	}
	return a, nil
}

// tick runs one host loop step.
func (a *app) tick() {
	a.receiver.Tick()
	if now := time.Now(); now.Sub(a.lastStats) >= statsInterval {
		a.lastStats = now
		a.logStats(logrus.DebugLevel)
	}
}

func (a *app) toggle() {
	a.enabled = !a.enabled
	if a.enabled {
		a.log.Info("Enabling capture")
		a.receiver.Enable()
		return
	}
	a.log.Info("Disabling capture")
	a.receiver.Disable()
	a.analyzer.Reset()
}

func (a *app) restart() {
	a.receiver.Restart()
	a.analyzer.Reset()
	a.sink.Reset()
}

func (a *app) logStats(level logrus.Level) {
	rs := a.receiver.Stats()
	ps := a.renderer.Stats()
	a.log.WithFields(logrus.Fields{
		"state":         rs.State.String(),
		"sessions":      rs.Sessions,
		"audioFrames":   rs.AudioFrames,
		"videoFrames":   rs.VideoFrames,
		"audioErrors":   rs.AudioErrors,
		"videoErrors":   rs.VideoErrors,
		"workerFaults":  rs.WorkerFaults,
		"formatChanges": rs.FormatChanges,
		"format":        ps.Format.String(),
		"buffered":      ps.Buffered,
		"dropped":       ps.DroppedSamples,
		"underflow":     ps.UnderflowSamples,
		"level":         a.analyzer.Level(),
	}).Log(level, "Receiver stats")
}

// shutdown disables the receiver, which waits a bounded time for the audio
// worker, then destroys it and closes the playback device.
func (a *app) shutdown() {
	a.receiver.Disable()
	a.receiver.Destroy()
	if err := a.renderer.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close audio renderer")
	}
	a.logStats(logrus.InfoLevel)
}

func run(parent context.Context, opts *options.ReceiverOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.shutdown()

	a.log.WithFields(logrus.Fields{
		"source":   opts.SourceKind,
		"name":     opts.SourceName,
		"output":   opts.AudioOutput,
		"headless": opts.Headless,
	}).Info("Starting receiver")

	duration := time.Duration(opts.Duration * float64(time.Second))
	if opts.Headless {
		h := headless.NewHeadless(ctx, float64(opts.FPS), duration)
		defer h.Shutdown()
		graphics.Run(h, a.tick)
		return nil
	}
	return runWindowed(ctx, a, duration)
}

func runWindowed(ctx context.Context, a *app, duration time.Duration) error {
	if err := glfwcontext.InitGraphics(); err != nil {
		return err
	}
	defer glfwcontext.TerminateGraphics()

	win, err := glfwcontext.New(a.opts.Width, a.opts.Height, "goreceiver", true)
	if err != nil {
		return err
	}
	defer win.Shutdown()
	win.MakeCurrent()
	glfwcontext.SwapInterval(1)

	presenter, err := renderer.NewPresenter(win, a.sink, a.analyzer)
	if err != nil {
		return err
	}
	defer presenter.Shutdown()

	win.RegisterKeyCallback(glfw.KeyR, a.restart)
	win.RegisterKeyCallback(glfw.KeySpace, a.toggle)

	var state receiver.State = -1
	graphics.Run(graphics.Bounded(ctx, win, duration), func() {
		a.tick()
		presenter.Draw()
		if s := a.receiver.State(); s != state {
			state = s
			win.SetTitle(fmt.Sprintf("goreceiver - %s (%s)", a.opts.SourceName, s))
		}
	})
	return nil
}

package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/richinsley/goreceiver/audio"
)

// FFmpegConfig configures an FFmpegSource.
type FFmpegConfig struct {
	FFMPEGPath string
	// InputFormat is passed as -f before the input, e.g. avfoundation or lavfi.
	InputFormat string
	// Realtime reads file inputs at their native rate (-re).
	Realtime bool
	// Audio is the format ffmpeg resamples to.
	Audio   audio.Format
	Width   int
	Height  int
	FPS     float64
	NoVideo bool
}

// FFmpegSource captures any input ffmpeg can open. Each handle runs one ffmpeg
// process for audio (f32le) and, unless disabled, one for video (uyvy422
// rawvideo).
type FFmpegSource struct {
	cfg FFmpegConfig
}

func NewFFmpegSource(cfg FFmpegConfig) *FFmpegSource {
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 48000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 2
	}
	if cfg.Audio.SamplesPerFrame <= 0 {
		cfg.Audio.SamplesPerFrame = 1024
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 640, 360
	}
	cfg.Width &^= 1
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	return &FFmpegSource{cfg: cfg}
}

func (s *FFmpegSource) binary() string {
	if s.cfg.FFMPEGPath != "" {
		return s.cfg.FFMPEGPath
	}
	return "ffmpeg"
}

func (s *FFmpegSource) inputArgs() ffmpeg.KwArgs {
	args := ffmpeg.KwArgs{}
	if s.cfg.InputFormat != "" {
		args["f"] = s.cfg.InputFormat
	}
	if s.cfg.Realtime {
		args["re"] = ""
	}
	return args
}

func (s *FFmpegSource) audioArgs() ffmpeg.KwArgs {
	return ffmpeg.KwArgs{
		"vn":     "",
		"f":      "f32le",
		"acodec": "pcm_f32le",
		"ar":     strconv.Itoa(s.cfg.Audio.SampleRate),
		"ac":     strconv.Itoa(s.cfg.Audio.Channels),
	}
}

func (s *FFmpegSource) videoArgs() ffmpeg.KwArgs {
	return ffmpeg.KwArgs{
		"an":      "",
		"f":       "rawvideo",
		"pix_fmt": "uyvy422",
		"s":       fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		"r":       strconv.FormatFloat(s.cfg.FPS, 'f', -1, 64),
	}
}

// Open starts the ffmpeg pipelines for name. A missing ffmpeg binary is
// reported as unavailable.
func (s *FFmpegSource) Open(name string) (Handle, error) {
	if _, err := exec.LookPath(s.binary()); err != nil {
		return nil, errors.Wrapf(ErrSourceUnavailable, "ffmpeg binary %q: %v", s.binary(), err)
	}

	h := &ffmpegHandle{
		cfg:    s.cfg,
		audio:  make(chan *audio.Frame, 8),
		stop:   make(chan struct{}),
		fresh:  make(chan struct{}, 1),
		ended:  make(chan struct{}),
		vended: make(chan struct{}),
	}

	acmd, aout, err := s.start(name, s.audioArgs(), "audio")
	if err != nil {
		return nil, err
	}
	h.cmds = append(h.cmds, acmd)
	h.wg.Add(1)
	go h.readAudio(aout)

	if s.cfg.NoVideo {
		close(h.vended)
	} else {
		vcmd, vout, err := s.start(name, s.videoArgs(), "video")
		if err != nil {
			h.Close()
			return nil, err
		}
		h.cmds = append(h.cmds, vcmd)
		h.wg.Add(1)
		go h.readVideo(vout)
	}

	logrus.WithFields(logrus.Fields{
		"component": "capture",
		"source":    "ffmpeg",
		"name":      name,
		"format":    s.cfg.Audio.String(),
		"video":     !s.cfg.NoVideo,
	}).Info("Opened ffmpeg source")
	return h, nil
}

// start launches one ffmpeg process writing to a pipe.
func (s *FFmpegSource) start(name string, outputArgs ffmpeg.KwArgs, kind string) (*exec.Cmd, io.ReadCloser, error) {
	pipeReader, pipeWriter := io.Pipe()
	stderr := logrus.WithFields(logrus.Fields{
		"component": "capture",
		"source":    "ffmpeg",
		"stream":    kind,
	}).WriterLevel(logrus.DebugLevel)

	stream := ffmpeg.Input(name, s.inputArgs()).
		Output("pipe:", outputArgs).
		WithOutput(pipeWriter).
		WithErrorOutput(stderr)
	if s.cfg.FFMPEGPath != "" {
		stream = stream.SetFfmpegPath(s.cfg.FFMPEGPath)
	}

	cmd := stream.Compile()
	if err := cmd.Start(); err != nil {
		pipeWriter.Close()
		stderr.Close()
		return nil, nil, errors.Wrapf(err, "failed to start ffmpeg %s capture", kind)
	}
	go func() {
		err := cmd.Wait()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"component": "capture",
				"source":    "ffmpeg",
				"stream":    kind,
				"error":     err,
			}).Debug("FFmpeg capture process exited")
		}
		pipeWriter.CloseWithError(io.EOF)
		stderr.Close()
	}()
	return cmd, pipeReader, nil
}

type ffmpegHandle struct {
	cfg  FFmpegConfig
	cmds []*exec.Cmd
	wg   sync.WaitGroup

	audio  chan *audio.Frame
	stop   chan struct{}
	ended  chan struct{}
	vended chan struct{}

	mu     sync.Mutex
	latest *VideoFrame
	fresh  chan struct{}

	closed  atomic.Bool
	readErr error
}

func (h *ffmpegHandle) readAudio(r io.ReadCloser) {
	defer h.wg.Done()
	defer close(h.ended)
	defer r.Close()

	f := h.cfg.Audio
	raw := make([]byte, f.BufferSize()*4)
	var sample int64
	for {
		if _, err := io.ReadFull(r, raw); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				h.mu.Lock()
				h.readErr = errors.Wrap(err, "failed to read ffmpeg audio")
				h.mu.Unlock()
			}
			return
		}
		frame := &audio.Frame{
			Format:   f,
			Data:     make([]float32, f.BufferSize()),
			Timecode: sample * 10_000_000 / int64(f.SampleRate),
		}
		for i := 0; i < f.SamplesPerFrame; i++ {
			for c := 0; c < f.Channels; c++ {
				bits := binary.LittleEndian.Uint32(raw[(i*f.Channels+c)*4:])
				frame.Data[c*f.SamplesPerFrame+i] = math.Float32frombits(bits)
			}
		}
		sample += int64(f.SamplesPerFrame)

		select {
		case h.audio <- frame:
		case <-h.stop:
			return
		}
	}
}

func (h *ffmpegHandle) readVideo(r io.ReadCloser) {
	defer h.wg.Done()
	defer close(h.vended)
	defer r.Close()

	stride := h.cfg.Width * 2
	size := stride * h.cfg.Height
	period := time.Duration(float64(time.Second) / h.cfg.FPS)
	var n int64
	for {
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return
		}
		n++
		frame := &VideoFrame{
			Width:    h.cfg.Width,
			Height:   h.cfg.Height,
			Stride:   stride,
			FourCC:   FourCCUYVY,
			Data:     data,
			Timecode: int64(time.Duration(n)*period) / 100,
		}
		h.mu.Lock()
		h.latest = frame
		h.mu.Unlock()
		select {
		case h.fresh <- struct{}{}:
		default:
		}
		select {
		case <-h.stop:
			return
		default:
		}
	}
}

// CaptureAudio waits up to timeout for the next frame. Frames are delivered in
// order; ErrStreamEnded follows the last one.
func (h *ffmpegHandle) CaptureAudio(timeout time.Duration) (*audio.Frame, error) {
	if h.closed.Load() {
		return nil, ErrHandleClosed
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-h.audio:
		return f, nil
	case <-h.ended:
		select {
		case f := <-h.audio:
			return f, nil
		default:
		}
		h.mu.Lock()
		err := h.readErr
		h.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, ErrStreamEnded
	case <-timer.C:
		return nil, nil
	}
}

// CaptureVideo returns the most recent frame if one arrived since the last
// call. Older frames are dropped.
func (h *ffmpegHandle) CaptureVideo(timeout time.Duration) (*VideoFrame, error) {
	if h.closed.Load() {
		return nil, ErrHandleClosed
	}
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-h.fresh:
		case <-h.vended:
		case <-timer.C:
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	f := h.latest
	h.latest = nil
	return f, nil
}

func (h *ffmpegHandle) FreeVideoFrame(f *VideoFrame) {
	if f != nil {
		f.Data = nil
	}
}

func (h *ffmpegHandle) FreeAudioFrame(f *audio.Frame) {
	if f != nil {
		f.Data = nil
	}
}

// Close kills the ffmpeg processes and waits for the readers to finish.
func (h *ffmpegHandle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	close(h.stop)
	var firstErr error
	for _, cmd := range h.cmds {
		if cmd.Process == nil {
			continue
		}
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) && firstErr == nil {
			firstErr = err
		}
	}
	h.wg.Wait()
	return firstErr
}

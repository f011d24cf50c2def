package capture

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/richinsley/goreceiver/audio"
)

// ToneConfig configures a ToneSource.
type ToneConfig struct {
	// Audio is the primary format. Defaults to 48000Hz/2ch/480.
	Audio audio.Format
	// AltAudio is used on odd cycles when FormatCycle is set. Defaults to
	// 44100Hz/1ch/441.
	AltAudio audio.Format
	// FormatCycle switches between Audio and AltAudio every FormatCycle frames.
	FormatCycle int
	Frequency   float64
	Width       int
	Height      int
	Alpha       bool
	Metadata    string
	// Realtime paces audio frames at their play duration.
	Realtime bool

	// FailOpens makes the first FailOpens calls to Open report the source as
	// unavailable.
	FailOpens int
	// PanicAfter makes CaptureAudio panic on every handle once it has produced
	// that many frames.
	PanicAfter int
}

// ToneSource is a synthetic source producing a sine tone and color bars.
type ToneSource struct {
	cfg ToneConfig

	mu        sync.Mutex
	failOpens int
	opened    int

	live        atomic.Int64
	outstanding atomic.Int64
}

// NewToneSource creates a tone source, filling in defaults.
func NewToneSource(cfg ToneConfig) *ToneSource {
	if cfg.Audio.SampleRate <= 0 || cfg.Audio.Channels <= 0 || cfg.Audio.SamplesPerFrame <= 0 {
		cfg.Audio = audio.Format{SampleRate: 48000, Channels: 2, SamplesPerFrame: 480}
	}
	if cfg.AltAudio.SampleRate <= 0 || cfg.AltAudio.Channels <= 0 || cfg.AltAudio.SamplesPerFrame <= 0 {
		cfg.AltAudio = audio.Format{SampleRate: 44100, Channels: 1, SamplesPerFrame: 441}
	}
	if cfg.Frequency <= 0 {
		cfg.Frequency = 440
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 320, 180
	}
	cfg.Width &^= 1
	return &ToneSource{cfg: cfg, failOpens: cfg.FailOpens}
}

// Open returns a new handle. name only labels the handle in logs.
func (s *ToneSource) Open(name string) (Handle, error) {
	s.mu.Lock()
	if s.failOpens > 0 {
		s.failOpens--
		s.mu.Unlock()
		return nil, errors.Wrapf(ErrSourceUnavailable, "tone %q", name)
	}
	s.opened++
	id := s.opened
	s.mu.Unlock()

	s.live.Add(1)
	logrus.WithFields(logrus.Fields{
		"component": "capture",
		"source":    "tone",
		"name":      name,
		"handle":    id,
	}).Debug("Opened tone handle")

	h := &toneHandle{
		src:   s,
		id:    id,
		bars:  colorBars(s.cfg.Width, s.cfg.Height, s.cfg.Alpha),
		pacer: pacer{enabled: s.cfg.Realtime},
	}
	return h, nil
}

// Opened returns how many handles have been opened.
func (s *ToneSource) Opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Live returns how many handles are open.
func (s *ToneSource) Live() int {
	return int(s.live.Load())
}

// Outstanding returns how many captured frames have not been freed.
func (s *ToneSource) Outstanding() int {
	return int(s.outstanding.Load())
}

type toneHandle struct {
	src  *ToneSource
	id   int
	bars []byte

	closed atomic.Bool
	pacer  pacer
	frames int
	sample int64
	video  int64
}

func (h *toneHandle) format() audio.Format {
	cfg := h.src.cfg
	if cfg.FormatCycle > 0 && (h.frames/cfg.FormatCycle)%2 == 1 {
		return cfg.AltAudio
	}
	return cfg.Audio
}

func (h *toneHandle) CaptureAudio(timeout time.Duration) (*audio.Frame, error) {
	if h.closed.Load() {
		return nil, ErrHandleClosed
	}
	cfg := h.src.cfg
	if cfg.PanicAfter > 0 && h.frames >= cfg.PanicAfter {
		panic("tone source: injected capture fault")
	}

	f := h.format()
	if !h.pacer.wait(frameDuration(f.SamplesPerFrame, f.SampleRate), timeout) {
		return nil, nil
	}

	frame := &audio.Frame{
		Format:   f,
		Data:     make([]float32, f.BufferSize()),
		Timecode: h.sample * 10_000_000 / int64(f.SampleRate),
	}
	step := 2 * math.Pi * cfg.Frequency / float64(f.SampleRate)
	for i := 0; i < f.SamplesPerFrame; i++ {
		v := float32(0.25 * math.Sin(step*float64(h.sample+int64(i))))
		for c := 0; c < f.Channels; c++ {
			frame.Data[c*f.SamplesPerFrame+i] = v
		}
	}
	h.sample += int64(f.SamplesPerFrame)
	h.frames++
	h.src.outstanding.Add(1)
	return frame, nil
}

// CaptureVideo returns a new frame on every call.
func (h *toneHandle) CaptureVideo(time.Duration) (*VideoFrame, error) {
	if h.closed.Load() {
		return nil, ErrHandleClosed
	}
	cfg := h.src.cfg
	data := make([]byte, len(h.bars))
	copy(data, h.bars)
	fourcc := FourCCUYVY
	if cfg.Alpha {
		fourcc = FourCCUYVA
	}
	h.video++
	h.src.outstanding.Add(1)
	return &VideoFrame{
		Width:    cfg.Width,
		Height:   cfg.Height,
		Stride:   cfg.Width * 2,
		FourCC:   fourcc,
		Data:     data,
		Metadata: cfg.Metadata,
		Timecode: h.video,
	}, nil
}

func (h *toneHandle) FreeVideoFrame(f *VideoFrame) {
	if f == nil {
		return
	}
	f.Data = nil
	h.src.outstanding.Add(-1)
}

func (h *toneHandle) FreeAudioFrame(f *audio.Frame) {
	if f == nil {
		return
	}
	f.Data = nil
	h.src.outstanding.Add(-1)
}

func (h *toneHandle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	h.src.live.Add(-1)
	logrus.WithFields(logrus.Fields{
		"component": "capture",
		"source":    "tone",
		"handle":    h.id,
	}).Debug("Closed tone handle")
	return nil
}

var barColors = [][3]float64{
	{1, 1, 1}, {1, 1, 0}, {0, 1, 1}, {0, 1, 0},
	{1, 0, 1}, {1, 0, 0}, {0, 0, 1}, {0, 0, 0},
}

// colorBars renders eight vertical bars as UYVY, followed by an opaque alpha
// plane when alpha is set.
func colorBars(width, height int, alpha bool) []byte {
	stride := width * 2
	size := stride * height
	if alpha {
		size += width * height
	}
	buf := make([]byte, size)

	row := buf[:stride]
	for x := 0; x < width; x += 2 {
		y, cb, cr := rgbToYCbCr709(barColors[x*len(barColors)/width])
		row[x*2] = cb
		row[x*2+1] = y
		row[x*2+2] = cr
		row[x*2+3] = y
	}
	for line := 1; line < height; line++ {
		copy(buf[line*stride:(line+1)*stride], row)
	}
	if alpha {
		for i := stride * height; i < size; i++ {
			buf[i] = 0xff
		}
	}
	return buf
}

// rgbToYCbCr709 converts full range RGB in [0,1] to limited range BT.709.
func rgbToYCbCr709(c [3]float64) (y, cb, cr uint8) {
	r, g, b := c[0], c[1], c[2]
	ly := 0.2126*r + 0.7152*g + 0.0722*b
	pb := (b - ly) / 1.8556
	pr := (r - ly) / 1.5748
	return uint8(math.Round(16 + 219*ly)), uint8(math.Round(128 + 224*pb)), uint8(math.Round(128 + 224*pr))
}

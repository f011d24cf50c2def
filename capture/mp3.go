package capture

import (
	"encoding/binary"
	"io"
	"io/fs"
	"os"
	"sync/atomic"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/richinsley/goreceiver/audio"
)

// MP3Config configures an MP3Source.
type MP3Config struct {
	// SamplesPerFrame is the number of samples per channel in each frame.
	// Defaults to 1024.
	SamplesPerFrame int
	// Realtime paces frames at their play duration.
	Realtime bool
	// Loop rewinds at the end of the file instead of ending the stream.
	Loop bool
}

// MP3Source plays an MP3 file as an audio-only capture source. The decoder
// always produces 16-bit stereo.
type MP3Source struct {
	cfg MP3Config
}

func NewMP3Source(cfg MP3Config) *MP3Source {
	if cfg.SamplesPerFrame <= 0 {
		cfg.SamplesPerFrame = 1024
	}
	return &MP3Source{cfg: cfg}
}

// Open opens the file at path. A missing file is reported as unavailable.
func (s *MP3Source) Open(path string) (Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(ErrSourceUnavailable, "mp3 %q", path)
		}
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}

	logrus.WithFields(logrus.Fields{
		"component":  "capture",
		"source":     "mp3",
		"path":       path,
		"sampleRate": dec.SampleRate(),
	}).Info("Opened mp3 source")

	format := audio.Format{
		SampleRate:      dec.SampleRate(),
		Channels:        2,
		SamplesPerFrame: s.cfg.SamplesPerFrame,
	}
	return &mp3Handle{
		cfg:    s.cfg,
		file:   f,
		dec:    dec,
		format: format,
		raw:    make([]byte, format.BufferSize()*2),
		pacer:  pacer{enabled: s.cfg.Realtime},
	}, nil
}

type mp3Handle struct {
	cfg    MP3Config
	file   *os.File
	dec    *mp3.Decoder
	format audio.Format
	raw    []byte
	pacer  pacer
	sample int64

	closed atomic.Bool
	ended  bool
}

func (h *mp3Handle) CaptureAudio(timeout time.Duration) (*audio.Frame, error) {
	if h.closed.Load() {
		return nil, ErrHandleClosed
	}
	if h.ended {
		return nil, ErrStreamEnded
	}
	if !h.pacer.wait(frameDuration(h.format.SamplesPerFrame, h.format.SampleRate), timeout) {
		return nil, nil
	}

	n, err := h.fill()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		h.ended = true
		return nil, ErrStreamEnded
	}

	spf := h.format.SamplesPerFrame
	frame := &audio.Frame{
		Format:   h.format,
		Data:     make([]float32, h.format.BufferSize()),
		Timecode: h.sample * 10_000_000 / int64(h.format.SampleRate),
	}
	for i := 0; i < spf; i++ {
		l := int16(binary.LittleEndian.Uint16(h.raw[i*4:]))
		r := int16(binary.LittleEndian.Uint16(h.raw[i*4+2:]))
		frame.Data[i] = float32(l) / 32768
		frame.Data[spf+i] = float32(r) / 32768
	}
	h.sample += int64(spf)
	return frame, nil
}

// fill reads one frame of PCM into raw, zero padding a short tail. It rewinds
// once at the end of the file when looping.
func (h *mp3Handle) fill() (int, error) {
	n, err := io.ReadFull(h.dec, h.raw)
	if err == io.EOF && h.cfg.Loop {
		if _, serr := h.dec.Seek(0, io.SeekStart); serr != nil {
			return 0, errors.Wrap(serr, "failed to rewind mp3")
		}
		n, err = io.ReadFull(h.dec, h.raw)
	}
	switch err {
	case nil:
	case io.EOF, io.ErrUnexpectedEOF:
		clear(h.raw[n:])
		if !h.cfg.Loop {
			h.ended = n > 0
		}
	default:
		return 0, errors.Wrap(err, "failed to read mp3")
	}
	return n, nil
}

// CaptureVideo never yields a frame.
func (h *mp3Handle) CaptureVideo(time.Duration) (*VideoFrame, error) {
	if h.closed.Load() {
		return nil, ErrHandleClosed
	}
	return nil, nil
}

func (h *mp3Handle) FreeVideoFrame(*VideoFrame) {}

func (h *mp3Handle) FreeAudioFrame(f *audio.Frame) {
	if f != nil {
		f.Data = nil
	}
}

func (h *mp3Handle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	return h.file.Close()
}

package receiver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/richinsley/goreceiver/audio"
	"github.com/richinsley/goreceiver/capture"
)

var (
	stereo48 = audio.Format{SampleRate: 48000, Channels: 2, SamplesPerFrame: 480}
	mono44   = audio.Format{SampleRate: 44100, Channels: 1, SamplesPerFrame: 441}
)

type fakeSource struct {
	mu          sync.Mutex
	unavailable int
	attempts    int
	handles     []*fakeHandle

	// format picks the format of the n-th audio frame of a handle.
	format func(n int) audio.Format
	// panicAt makes the first handle panic when capturing its n-th frame.
	panicAt int
	// endAt makes the first handle end its stream at its n-th frame.
	endAt int
	// block, when set, makes audio captures wait for it to be closed.
	block    chan struct{}
	entered  chan struct{}
	metadata string
	// openBlock, when set, makes Open calls that get past unavailable wait
	// for it to be closed.
	openBlock   chan struct{}
	openEntered chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		format:      func(int) audio.Format { return stereo48 },
		entered:     make(chan struct{}, 1),
		openEntered: make(chan struct{}, 1),
	}
}

func (s *fakeSource) Open(name string) (capture.Handle, error) {
	s.mu.Lock()
	s.attempts++
	if s.unavailable > 0 {
		s.unavailable--
		s.mu.Unlock()
		return nil, errors.Wrap(capture.ErrSourceUnavailable, name)
	}
	block := s.openBlock
	s.mu.Unlock()

	if block != nil {
		select {
		case s.openEntered <- struct{}{}:
		default:
		}
		<-block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	h := &fakeHandle{src: s, id: len(s.handles) + 1}
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *fakeSource) opened() []*fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeHandle(nil), s.handles...)
}

func (s *fakeSource) openAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

type fakeHandle struct {
	src *fakeSource
	id  int

	closes    atomic.Int32
	misuse    atomic.Int32
	audioN    int
	audioOut  atomic.Int32
	audioFree atomic.Int32
	videoOut  atomic.Int32
	videoFree atomic.Int32
}

func (h *fakeHandle) closed() bool {
	return h.closes.Load() > 0
}

func (h *fakeHandle) CaptureAudio(timeout time.Duration) (*audio.Frame, error) {
	if h.closed() {
		h.misuse.Add(1)
		return nil, capture.ErrHandleClosed
	}
	if h.src.block != nil {
		select {
		case h.src.entered <- struct{}{}:
		default:
		}
		<-h.src.block
		return nil, nil
	}
	n := h.audioN
	h.audioN++
	if h.id == 1 && h.src.panicAt > 0 && n == h.src.panicAt {
		panic("native capture crashed")
	}
	if h.id == 1 && h.src.endAt > 0 && n >= h.src.endAt {
		return nil, capture.ErrStreamEnded
	}
	time.Sleep(time.Millisecond)
	f := h.src.format(n)
	h.audioOut.Add(1)
	return &audio.Frame{Format: f, Data: make([]float32, f.BufferSize()), Timecode: int64(n)}, nil
}

func (h *fakeHandle) CaptureVideo(time.Duration) (*capture.VideoFrame, error) {
	if h.closed() {
		h.misuse.Add(1)
		return nil, capture.ErrHandleClosed
	}
	h.videoOut.Add(1)
	return &capture.VideoFrame{
		Width:    4,
		Height:   2,
		Stride:   8,
		FourCC:   capture.FourCCUYVY,
		Data:     make([]byte, 16),
		Metadata: h.src.metadata,
	}, nil
}

func (h *fakeHandle) FreeVideoFrame(*capture.VideoFrame) { h.videoFree.Add(1) }
func (h *fakeHandle) FreeAudioFrame(*audio.Frame)        { h.audioFree.Add(1) }

func (h *fakeHandle) Close() error {
	h.closes.Add(1)
	return nil
}

type fakeRenderer struct {
	mu      sync.Mutex
	calls   []string
	formats []audio.Format
	played  int
	stops   int
}

func (r *fakeRenderer) SetFormat(f audio.Format) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "set")
	r.formats = append(r.formats, f)
	return nil
}

func (r *fakeRenderer) PlaySamples([]float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "play")
	r.played++
	return nil
}

func (r *fakeRenderer) StopPlaying() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

func (r *fakeRenderer) snapshot() (calls []string, formats []audio.Format, played, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...), append([]audio.Format(nil), r.formats...), r.played, r.stops
}

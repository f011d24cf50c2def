// Package capture provides the sources the receiver pulls audio and video
// frames from.
//
// A Source opens Handles. A Handle is not safe for arbitrary concurrent use:
// the receiver serializes calls on it, capturing video from the tick goroutine
// and audio from its worker, and never closes it while a capture is in flight.
package capture

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/richinsley/goreceiver/audio"
)

var (
	// ErrSourceUnavailable means the source cannot be opened right now. Callers
	// retry later.
	ErrSourceUnavailable = errors.New("capture source unavailable")
	// ErrStreamEnded is returned by a capture call once the source has no more
	// frames.
	ErrStreamEnded = errors.New("capture stream ended")
	// ErrHandleClosed is returned by capture calls on a closed handle.
	ErrHandleClosed = errors.New("capture handle closed")
)

// Source creates capture handles.
type Source interface {
	// Open connects to the named stream. It returns an error wrapping
	// ErrSourceUnavailable when the stream is not there yet.
	Open(name string) (Handle, error)
}

// Handle is an open capture connection. Capture calls return (nil, nil) when no
// frame arrived within the timeout. Every returned frame must be handed back
// with the matching Free call.
type Handle interface {
	CaptureVideo(timeout time.Duration) (*VideoFrame, error)
	CaptureAudio(timeout time.Duration) (*audio.Frame, error)
	FreeVideoFrame(f *VideoFrame)
	FreeAudioFrame(f *audio.Frame)
	Close() error
}

// FourCC tags the pixel layout of a VideoFrame.
type FourCC int

const (
	FourCCUYVY FourCC = iota
	FourCCUYVA
	FourCCBGRA
	FourCCRGBA
)

func (f FourCC) String() string {
	switch f {
	case FourCCUYVY:
		return "UYVY"
	case FourCCUYVA:
		return "UYVA"
	case FourCCBGRA:
		return "BGRA"
	case FourCCRGBA:
		return "RGBA"
	}
	return "unknown"
}

// CheckAlpha reports whether frames in layout f carry an alpha channel.
func CheckAlpha(f FourCC) bool {
	return f == FourCCUYVA || f == FourCCBGRA || f == FourCCRGBA
}

// VideoFrame is one raw captured picture. For UYVA the alpha plane, one byte
// per pixel, follows the Height*Stride bytes of UYVY data.
type VideoFrame struct {
	Width    int
	Height   int
	Stride   int
	FourCC   FourCC
	Data     []byte
	Metadata string
	Timecode int64 // 100ns units
}

// Config carries the settings shared by every source kind. Fields a kind does
// not use are ignored.
type Config struct {
	FFMPEGPath  string
	InputFormat string
	Realtime    bool
	Loop        bool
	Audio       audio.Format
	Width       int
	Height      int
	FPS         float64
	NoVideo     bool
	Metadata    string
	FormatCycle int
}

// Source kinds accepted by New.
const (
	KindFFmpeg = "ffmpeg"
	KindMP3    = "mp3"
	KindTone   = "tone"
)

// Kinds lists the source kinds New understands.
func Kinds() []string {
	return []string{KindFFmpeg, KindMP3, KindTone}
}

// New builds a source of the given kind.
func New(kind string, cfg Config) (Source, error) {
	switch strings.ToLower(kind) {
	case KindFFmpeg:
		return NewFFmpegSource(FFmpegConfig{
			FFMPEGPath:  cfg.FFMPEGPath,
			InputFormat: cfg.InputFormat,
			Realtime:    cfg.Realtime,
			Audio:       cfg.Audio,
			Width:       cfg.Width,
			Height:      cfg.Height,
			FPS:         cfg.FPS,
			NoVideo:     cfg.NoVideo,
		}), nil
	case KindMP3:
		return NewMP3Source(MP3Config{
			SamplesPerFrame: cfg.Audio.SamplesPerFrame,
			Realtime:        cfg.Realtime,
			Loop:            cfg.Loop,
		}), nil
	case KindTone:
		return NewToneSource(ToneConfig{
			Audio:       cfg.Audio,
			Width:       cfg.Width,
			Height:      cfg.Height,
			Metadata:    cfg.Metadata,
			Realtime:    cfg.Realtime,
			FormatCycle: cfg.FormatCycle,
		}), nil
	}
	return nil, errors.Errorf("unknown capture source kind %q", kind)
}

// pacer releases frames at their play duration, measured from the first one.
type pacer struct {
	enabled bool
	next    time.Time
}

// wait blocks until the next frame is due and reports true, or gives up after
// timeout and reports false. d is the play duration of the frame being
// released. A disabled pacer never waits.
func (p *pacer) wait(d, timeout time.Duration) bool {
	if !p.enabled {
		return true
	}
	now := time.Now()
	if p.next.IsZero() {
		p.next = now
	}
	if ahead := p.next.Sub(now); ahead > 0 {
		if ahead > timeout {
			time.Sleep(timeout)
			return false
		}
		time.Sleep(ahead)
	}
	p.next = p.next.Add(d)
	return true
}

// frameDuration is the play time of n samples at rate.
func frameDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}

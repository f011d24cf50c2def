package audio

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInvalidFormat is returned for formats with a non-positive rate, channel
// count or frame size.
var ErrInvalidFormat = errors.New("invalid audio format")

// Format describes the shape of captured audio. Two formats are equal when
// every field matches; a change in any field means the playback path has to be
// reconfigured.
type Format struct {
	SampleRate      int
	Channels        int
	SamplesPerFrame int
}

// BufferSize is the number of samples in one frame across all channels.
func (f Format) BufferSize() int {
	return f.SamplesPerFrame * f.Channels
}

// Valid reports whether every field of f is positive.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0 && f.SamplesPerFrame > 0
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%d", f.SampleRate, f.Channels, f.SamplesPerFrame)
}

// Frame is one block of captured audio. Data is planar: channel c occupies
// Data[c*SamplesPerFrame : (c+1)*SamplesPerFrame].
type Frame struct {
	Format   Format
	Data     []float32
	Timecode int64 // 100ns units
}

// Interleave writes the frame into dst as interleaved samples and returns the
// written prefix of dst. dst is grown when it is too small.
func (f *Frame) Interleave(dst []float32) []float32 {
	n := f.Format.BufferSize()
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	channels := f.Format.Channels
	spf := f.Format.SamplesPerFrame
	for c := 0; c < channels; c++ {
		plane := f.Data[c*spf : (c+1)*spf]
		for i, v := range plane {
			dst[i*channels+c] = v
		}
	}
	return dst
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() Frame {
	data := make([]float32, len(f.Data))
	copy(data, f.Data)
	return Frame{Format: f.Format, Data: data, Timecode: f.Timecode}
}

package audio

// Layout is a speaker layout the playback path can drive natively.
type Layout int

const (
	Mono   Layout = 1
	Stereo Layout = 2
)

// Channels returns the number of channels of the layout.
func (l Layout) Channels() int {
	return int(l)
}

func (l Layout) String() string {
	switch l {
	case Mono:
		return "mono"
	case Stereo:
		return "stereo"
	}
	return "unknown"
}

// ClosestLayout maps a channel count onto a supported layout. exact is false
// when the count had to be folded.
func ClosestLayout(channels int) (layout Layout, exact bool) {
	switch {
	case channels == 1:
		return Mono, true
	case channels == 2:
		return Stereo, true
	case channels < 1:
		return Mono, false
	default:
		return Stereo, false
	}
}

// Remap converts interleaved samples from one channel count to another into
// dst and returns the written prefix of dst.
//
//   - same count: copy
//   - to mono: average of all channels
//   - mono to N: duplicate
//   - N to stereo: even source channels mix left, odd ones mix right
func Remap(dst, src []float32, from, to int) []float32 {
	if from <= 0 || to <= 0 {
		return dst[:0]
	}
	frames := len(src) / from
	n := frames * to
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]

	switch {
	case from == to:
		copy(dst, src[:n])
	case to == 1:
		scale := 1 / float32(from)
		for i := 0; i < frames; i++ {
			var sum float32
			for _, v := range src[i*from : (i+1)*from] {
				sum += v
			}
			dst[i] = sum * scale
		}
	case from == 1:
		for i := 0; i < frames; i++ {
			for c := 0; c < to; c++ {
				dst[i*to+c] = src[i]
			}
		}
	default:
		for i := range dst {
			dst[i] = 0
		}
		counts := make([]float32, to)
		for c := 0; c < from; c++ {
			counts[c%to]++
		}
		for i := 0; i < frames; i++ {
			for c := 0; c < from; c++ {
				dst[i*to+c%to] += src[i*from+c] / counts[c%to]
			}
		}
	}
	return dst
}

// DownmixStereoToMono converts an interleaved stereo float32 buffer to mono
// by averaging the left and right channels.
func DownmixStereoToMono(stereo []float32) []float32 {
	return Remap(nil, stereo, 2, 1)
}

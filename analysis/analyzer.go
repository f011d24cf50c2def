// Package analysis computes the spectrum and waveform of the audio being
// played, for display next to the video.
package analysis

import (
	"math"
	"sync"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/richinsley/goreceiver/audio"
)

const (
	// Bins is the number of spectrum and waveform values returned.
	Bins = 512
	// Shadertoy uses an fftSize of 2048, which gives 1024 frequency bins.
	fftInputSize      = 2048
	historyBufferSize = fftInputSize * 4

	minDecibels     = -100.0
	maxDecibels     = -30.0
	smoothingFactor = 0.8
)

// Analyzer keeps a mono history of pushed audio. Push and the query methods may
// be called from different goroutines.
type Analyzer struct {
	mu            sync.Mutex
	historyBuffer []float32
	bufferPos     int
	mono          []float32
	level         float32

	window  []float64
	samples []float64
	lastFFT []float64
}

func NewAnalyzer() *Analyzer {
	a := &Analyzer{
		historyBuffer: make([]float32, historyBufferSize),
		window:        window.Blackman(fftInputSize),
		samples:       make([]float64, fftInputSize),
		lastFFT:       make([]float64, Bins),
	}
	for i := range a.lastFFT {
		a.lastFFT[i] = minDecibels
	}
	return a
}

// Push appends an interleaved block, folded to mono.
func (a *Analyzer) Push(interleaved []float32, channels int) {
	if channels <= 0 || len(interleaved) < channels {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.mono = audio.Remap(a.mono, interleaved, channels, 1)
	var sum float64
	for _, s := range a.mono {
		a.historyBuffer[a.bufferPos] = s
		a.bufferPos = (a.bufferPos + 1) % historyBufferSize
		sum += float64(s) * float64(s)
	}
	a.level = float32(math.Sqrt(sum / float64(len(a.mono))))
}

// Tap adapts the analyzer to an audio.Tap.
func (a *Analyzer) Tap() audio.Tap {
	return func(f audio.Format, interleaved []float32) {
		a.Push(interleaved, f.Channels)
	}
}

// recent copies the newest n samples into dst. Caller holds mu.
func (a *Analyzer) recent(dst []float64, n int) {
	for i := 0; i < n; i++ {
		index := (a.bufferPos - n + i + historyBufferSize) % historyBufferSize
		dst[i] = float64(a.historyBuffer[index])
	}
}

// Spectrum returns Bins smoothed magnitudes scaled from [-100dB, -30dB] to
// [0, 1]. Every call advances the smoothing by one step.
func (a *Analyzer) Spectrum() []float32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.recent(a.samples, fftInputSize)
	for i := range a.samples {
		a.samples[i] *= a.window[i]
	}
	fftResult := fft.FFTReal(a.samples)

	out := make([]float32, Bins)
	for i := 0; i < Bins; i++ {
		re := real(fftResult[i])
		im := imag(fftResult[i])
		magnitude := math.Sqrt(re*re+im*im) * (2.0 / float64(fftInputSize))
		db := 20 * math.Log10(magnitude+1e-9)

		a.lastFFT[i] = smoothingFactor*a.lastFFT[i] + (1.0-smoothingFactor)*db
		smoothedDb := a.lastFFT[i]

		switch {
		case smoothedDb < minDecibels:
			out[i] = 0
		case smoothedDb > maxDecibels:
			out[i] = 1
		default:
			out[i] = float32((smoothedDb - minDecibels) / (maxDecibels - minDecibels))
		}
	}
	return out
}

// Waveform returns the newest Bins samples scaled from [-1, 1] to [0, 1].
func (a *Analyzer) Waveform() []float32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]float32, Bins)
	for i := range out {
		index := (a.bufferPos - Bins + i + historyBufferSize) % historyBufferSize
		out[i] = (a.historyBuffer[index] + 1.0) * 0.5
	}
	return out
}

// Level returns the RMS of the last pushed block.
func (a *Analyzer) Level() float32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.level
}

// Reset clears history and smoothing.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.historyBuffer)
	a.bufferPos = 0
	a.level = 0
	for i := range a.lastFFT {
		a.lastFFT[i] = minDecibels
	}
}

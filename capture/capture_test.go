package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/goreceiver/audio"
)

func TestNewKinds(t *testing.T) {
	for _, kind := range Kinds() {
		src, err := New(kind, Config{})
		require.NoError(t, err, kind)
		assert.NotNil(t, src, kind)
	}
	_, err := New("ndi", Config{})
	assert.Error(t, err)

	src, err := New("TONE", Config{})
	require.NoError(t, err)
	assert.IsType(t, &ToneSource{}, src)
}

func TestCheckAlpha(t *testing.T) {
	assert.False(t, CheckAlpha(FourCCUYVY))
	assert.True(t, CheckAlpha(FourCCUYVA))
	assert.True(t, CheckAlpha(FourCCBGRA))
	assert.True(t, CheckAlpha(FourCCRGBA))
	assert.Equal(t, "UYVA", FourCCUYVA.String())
}

func TestToneAudioFrames(t *testing.T) {
	src := NewToneSource(ToneConfig{})
	h, err := src.Open("test")
	require.NoError(t, err)
	defer h.Close()

	f, err := h.CaptureAudio(10 * time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, audio.Format{SampleRate: 48000, Channels: 2, SamplesPerFrame: 480}, f.Format)
	require.Len(t, f.Data, 960)
	// Both planes carry the same tone.
	assert.Equal(t, f.Data[:480], f.Data[480:])
	assert.Zero(t, f.Data[0])
	assert.NotZero(t, f.Data[10])

	next, err := h.CaptureAudio(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), next.Timecode)

	assert.Equal(t, 2, src.Outstanding())
	h.FreeAudioFrame(f)
	h.FreeAudioFrame(next)
	assert.Zero(t, src.Outstanding())
}

func TestToneFormatCycle(t *testing.T) {
	src := NewToneSource(ToneConfig{FormatCycle: 2})
	h, err := src.Open("cycle")
	require.NoError(t, err)
	defer h.Close()

	var rates []int
	for i := 0; i < 6; i++ {
		f, err := h.CaptureAudio(time.Millisecond)
		require.NoError(t, err)
		rates = append(rates, f.Format.SampleRate)
		h.FreeAudioFrame(f)
	}
	assert.Equal(t, []int{48000, 48000, 44100, 44100, 48000, 48000}, rates)
}

func TestToneRealtimeTimesOut(t *testing.T) {
	src := NewToneSource(ToneConfig{
		Audio:    audio.Format{SampleRate: 1000, Channels: 1, SamplesPerFrame: 1000},
		Realtime: true,
	})
	h, err := src.Open("paced")
	require.NoError(t, err)
	defer h.Close()

	f, err := h.CaptureAudio(time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, f, "first frame is due immediately")

	start := time.Now()
	f, err = h.CaptureAudio(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, f, "next frame is a second away")
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestToneVideoFrame(t *testing.T) {
	src := NewToneSource(ToneConfig{Width: 16, Height: 2, Metadata: "<meta/>"})
	h, err := src.Open("video")
	require.NoError(t, err)
	defer h.Close()

	f, err := h.CaptureVideo(0)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, FourCCUYVY, f.FourCC)
	assert.Equal(t, 32, f.Stride)
	assert.Len(t, f.Data, 64)
	assert.Equal(t, "<meta/>", f.Metadata)
	// The first bar is white, the last black.
	assert.Equal(t, []byte{128, 235, 128, 235}, f.Data[:4])
	assert.Equal(t, []byte{128, 16, 128, 16}, f.Data[28:32])
	h.FreeVideoFrame(f)
	assert.Zero(t, src.Outstanding())
}

func TestToneAlphaPlane(t *testing.T) {
	src := NewToneSource(ToneConfig{Width: 4, Height: 2, Alpha: true})
	h, err := src.Open("alpha")
	require.NoError(t, err)
	defer h.Close()

	f, err := h.CaptureVideo(0)
	require.NoError(t, err)
	assert.Equal(t, FourCCUYVA, f.FourCC)
	require.Len(t, f.Data, 4*2*2+4*2)
	for _, a := range f.Data[16:] {
		assert.Equal(t, byte(0xff), a)
	}
}

func TestToneFaults(t *testing.T) {
	src := NewToneSource(ToneConfig{FailOpens: 2, PanicAfter: 1})

	for i := 0; i < 2; i++ {
		_, err := src.Open("faulty")
		assert.ErrorIs(t, err, ErrSourceUnavailable)
	}
	h, err := src.Open("faulty")
	require.NoError(t, err)
	assert.Equal(t, 1, src.Opened())
	assert.Equal(t, 1, src.Live())

	_, err = h.CaptureAudio(time.Millisecond)
	require.NoError(t, err)
	assert.Panics(t, func() { _, _ = h.CaptureAudio(time.Millisecond) })

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.Zero(t, src.Live())
	_, err = h.CaptureAudio(time.Millisecond)
	assert.ErrorIs(t, err, ErrHandleClosed)
	_, err = h.CaptureVideo(0)
	assert.ErrorIs(t, err, ErrHandleClosed)
}

func TestMP3Unavailable(t *testing.T) {
	src := NewMP3Source(MP3Config{})
	_, err := src.Open(filepath.Join(t.TempDir(), "missing.mp3"))
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestMP3Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.mp3")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, err := NewMP3Source(MP3Config{}).Open(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSourceUnavailable)
}

func TestFFmpegMissingBinary(t *testing.T) {
	src := NewFFmpegSource(FFmpegConfig{FFMPEGPath: filepath.Join(t.TempDir(), "no-ffmpeg")})
	_, err := src.Open("testsrc")
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestFFmpegArgs(t *testing.T) {
	src := NewFFmpegSource(FFmpegConfig{InputFormat: "lavfi", Realtime: true, Width: 641, Height: 360, FPS: 25})
	in := src.inputArgs()
	assert.Equal(t, "lavfi", in["f"])
	assert.Contains(t, in, "re")

	a := src.audioArgs()
	assert.Equal(t, "f32le", a["f"])
	assert.Equal(t, "48000", a["ar"])
	assert.Equal(t, "2", a["ac"])

	v := src.videoArgs()
	assert.Equal(t, "uyvy422", v["pix_fmt"])
	assert.Equal(t, "640x360", v["s"])
	assert.Equal(t, "25", v["r"])
}

func TestPacer(t *testing.T) {
	p := pacer{}
	assert.True(t, p.wait(time.Hour, 0), "disabled pacer never waits")

	p = pacer{enabled: true}
	assert.True(t, p.wait(50*time.Millisecond, time.Millisecond))
	assert.False(t, p.wait(50*time.Millisecond, time.Millisecond))
	assert.True(t, p.wait(50*time.Millisecond, time.Second))
}

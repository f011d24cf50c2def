package options

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/goreceiver/audio"
)

func noDotEnv(v *viper.Viper) *viper.Viper {
	v.Set("env_file", "")
	return v
}

func TestLoadDefaults(t *testing.T) {
	opts, err := Load(noDotEnv(viper.New()))
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions(), opts)
	assert.Equal(t, audio.Format{SampleRate: 48000, Channels: 2, SamplesPerFrame: 480}, opts.AudioFormat())
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("GORECEIVER_SOURCE_KIND", "mp3")
	t.Setenv("GORECEIVER_SOURCE_NAME", "song.mp3")
	t.Setenv("GORECEIVER_RETRY_INTERVAL", "250ms")
	t.Setenv("GORECEIVER_HEADLESS", "true")

	opts, err := Load(noDotEnv(viper.New()))
	require.NoError(t, err)
	assert.Equal(t, "mp3", opts.SourceKind)
	assert.Equal(t, "song.mp3", opts.SourceName)
	assert.Equal(t, 250*time.Millisecond, opts.RetryInterval)
	assert.True(t, opts.Headless)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receiver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
source_kind: ffmpeg
source_name: testsrc
input_format: lavfi
sample_rate: 44100
shutdown_timeout: 2s
audio_output: "null"
`), 0o644))

	v := noDotEnv(viper.New())
	v.Set("config", path)
	opts, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "ffmpeg", opts.SourceKind)
	assert.Equal(t, "lavfi", opts.InputFormat)
	assert.Equal(t, 44100, opts.SampleRate)
	assert.Equal(t, 2*time.Second, opts.ShutdownTimeout)
	assert.Equal(t, OutputNull, opts.AudioOutput)

	cc := opts.CaptureConfig()
	assert.Equal(t, "lavfi", cc.InputFormat)
	assert.Equal(t, 44100, cc.Audio.SampleRate)
}

func TestLoadMissingConfigFile(t *testing.T) {
	v := noDotEnv(viper.New())
	v.Set("config", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load(v)
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("GORECEIVER_MAILBOX_SIZE=32\n"), 0o644))
	t.Setenv("GORECEIVER_MAILBOX_SIZE", "")
	os.Unsetenv("GORECEIVER_MAILBOX_SIZE")

	v := viper.New()
	v.Set("env_file", path)
	opts, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 32, opts.MailboxSize)

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
	assert.NoError(t, LoadDotEnv(""))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *ReceiverOptions)
	}{
		{"source kind", func(o *ReceiverOptions) { o.SourceKind = "ndi" }},
		{"audio output", func(o *ReceiverOptions) { o.AudioOutput = "alsa" }},
		{"sample rate", func(o *ReceiverOptions) { o.SampleRate = 0 }},
		{"channels", func(o *ReceiverOptions) { o.Channels = -1 }},
		{"buffer frames", func(o *ReceiverOptions) { o.BufferFrames = 0 }},
		{"mailbox", func(o *ReceiverOptions) { o.MailboxSize = 0 }},
		{"retry interval", func(o *ReceiverOptions) { o.RetryInterval = 0 }},
		{"shutdown timeout", func(o *ReceiverOptions) { o.ShutdownTimeout = -time.Second }},
		{"duration", func(o *ReceiverOptions) { o.Duration = -1 }},
		{"log level", func(o *ReceiverOptions) { o.LogLevel = "loud" }},
		{"log format", func(o *ReceiverOptions) { o.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(o)
			assert.Error(t, o.Validate())
		})
	}
	assert.NoError(t, DefaultOptions().Validate())
}

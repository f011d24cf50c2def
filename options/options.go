package options

import (
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/richinsley/goreceiver/audio"
	"github.com/richinsley/goreceiver/capture"
)

// EnvPrefix prefixes every environment variable, e.g. GORECEIVER_SOURCE_KIND.
const EnvPrefix = "GORECEIVER"

// Audio outputs.
const (
	OutputPortAudio = "portaudio"
	OutputFFmpeg    = "ffmpeg"
	OutputNull      = "null"
)

type ReceiverOptions struct {
	// Source
	SourceKind  string `mapstructure:"source_kind"`
	SourceName  string `mapstructure:"source_name"`
	InputFormat string `mapstructure:"input_format"`
	FFMPEGPath  string `mapstructure:"ffmpeg_path"`
	Realtime    bool   `mapstructure:"realtime"`
	Loop        bool   `mapstructure:"loop"`
	FormatCycle int    `mapstructure:"format_cycle"`
	Metadata    string `mapstructure:"metadata"`
	NoVideo     bool   `mapstructure:"no_video"`

	// Captured audio format (tone and ffmpeg sources)
	SampleRate      int `mapstructure:"sample_rate"`
	Channels        int `mapstructure:"channels"`
	SamplesPerFrame int `mapstructure:"samples_per_frame"`

	// Video
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
	FPS    int `mapstructure:"fps"`

	// Playback
	AudioOutput     string `mapstructure:"audio_output"`
	OutputDevice    string `mapstructure:"output_device"`
	FramesPerBuffer int    `mapstructure:"frames_per_buffer"`
	BufferFrames    int    `mapstructure:"buffer_frames"`

	// Session
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	CaptureTimeout  time.Duration `mapstructure:"capture_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MailboxSize     int           `mapstructure:"mailbox_size"`

	// Host
	Headless bool    `mapstructure:"headless"`
	Duration float64 `mapstructure:"duration"` // seconds, 0 runs until interrupted

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// DefaultOptions returns the options used when nothing else is configured.
func DefaultOptions() *ReceiverOptions {
	return &ReceiverOptions{
		SourceKind:      capture.KindTone,
		SourceName:      "tone",
		Realtime:        true,
		SampleRate:      48000,
		Channels:        2,
		SamplesPerFrame: 480,
		Width:           640,
		Height:          360,
		FPS:             60,
		AudioOutput:     OutputPortAudio,
		FramesPerBuffer: 256,
		BufferFrames:    1,
		RetryInterval:   100 * time.Millisecond,
		CaptureTimeout:  100 * time.Millisecond,
		ShutdownTimeout: time.Second,
		MailboxSize:     16,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// SetDefaults registers every option with its default on v, so environment
// variables are seen by Unmarshal even without a flag or config entry.
func SetDefaults(v *viper.Viper) {
	d := DefaultOptions()
	v.SetDefault("source_kind", d.SourceKind)
	v.SetDefault("source_name", d.SourceName)
	v.SetDefault("input_format", d.InputFormat)
	v.SetDefault("ffmpeg_path", d.FFMPEGPath)
	v.SetDefault("realtime", d.Realtime)
	v.SetDefault("loop", d.Loop)
	v.SetDefault("format_cycle", d.FormatCycle)
	v.SetDefault("metadata", d.Metadata)
	v.SetDefault("no_video", d.NoVideo)
	v.SetDefault("sample_rate", d.SampleRate)
	v.SetDefault("channels", d.Channels)
	v.SetDefault("samples_per_frame", d.SamplesPerFrame)
	v.SetDefault("width", d.Width)
	v.SetDefault("height", d.Height)
	v.SetDefault("fps", d.FPS)
	v.SetDefault("audio_output", d.AudioOutput)
	v.SetDefault("output_device", d.OutputDevice)
	v.SetDefault("frames_per_buffer", d.FramesPerBuffer)
	v.SetDefault("buffer_frames", d.BufferFrames)
	v.SetDefault("retry_interval", d.RetryInterval)
	v.SetDefault("capture_timeout", d.CaptureTimeout)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("mailbox_size", d.MailboxSize)
	v.SetDefault("headless", d.Headless)
	v.SetDefault("duration", d.Duration)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("env_file", ".env")
}

// Load reads options from v: flags bound to v, GORECEIVER_* environment
// variables (after loading the env_file, .env by default) and the config file
// named by the "config" key.
func Load(v *viper.Viper) (*ReceiverOptions, error) {
	SetDefaults(v)

	if err := LoadDotEnv(v.GetString("env_file")); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "error reading config %s", path)
		}
		logrus.WithField("config", v.ConfigFileUsed()).Debug("Loaded config file")
	}

	opts := DefaultOptions()
	if err := v.Unmarshal(opts); err != nil {
		return nil, errors.Wrap(err, "error unmarshaling config")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// LoadDotEnv loads environment variables from path. Variables already set win.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errors.Wrapf(err, "error loading %s", path)
	}
	return nil
}

// Validate rejects options the receiver cannot run with.
func (o *ReceiverOptions) Validate() error {
	if !slices.Contains(capture.Kinds(), strings.ToLower(o.SourceKind)) {
		return errors.Errorf("unknown source kind %q, want one of %v", o.SourceKind, capture.Kinds())
	}
	switch o.AudioOutput {
	case OutputPortAudio, OutputFFmpeg, OutputNull:
	default:
		return errors.Errorf("unknown audio output %q", o.AudioOutput)
	}

	positive := []struct {
		name  string
		value int
	}{
		{"sample_rate", o.SampleRate},
		{"channels", o.Channels},
		{"samples_per_frame", o.SamplesPerFrame},
		{"width", o.Width},
		{"height", o.Height},
		{"fps", o.FPS},
		{"frames_per_buffer", o.FramesPerBuffer},
		{"buffer_frames", o.BufferFrames},
		{"mailbox_size", o.MailboxSize},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return errors.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}
	for name, d := range map[string]time.Duration{
		"retry_interval":   o.RetryInterval,
		"capture_timeout":  o.CaptureTimeout,
		"shutdown_timeout": o.ShutdownTimeout,
	} {
		if d <= 0 {
			return errors.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if o.Duration < 0 {
		return errors.Errorf("duration must not be negative, got %g", o.Duration)
	}
	if _, err := logrus.ParseLevel(o.LogLevel); err != nil {
		return errors.Wrap(err, "invalid log_level")
	}
	if o.LogFormat != "text" && o.LogFormat != "json" {
		return errors.Errorf("unknown log_format %q", o.LogFormat)
	}
	return nil
}

// AudioFormat is the format requested from the tone and ffmpeg sources.
func (o *ReceiverOptions) AudioFormat() audio.Format {
	return audio.Format{
		SampleRate:      o.SampleRate,
		Channels:        o.Channels,
		SamplesPerFrame: o.SamplesPerFrame,
	}
}

// CaptureConfig is the source configuration the options describe.
func (o *ReceiverOptions) CaptureConfig() capture.Config {
	return capture.Config{
		FFMPEGPath:  o.FFMPEGPath,
		InputFormat: o.InputFormat,
		Realtime:    o.Realtime,
		Loop:        o.Loop,
		Audio:       o.AudioFormat(),
		Width:       o.Width,
		Height:      o.Height,
		FPS:         float64(o.FPS),
		NoVideo:     o.NoVideo,
		Metadata:    o.Metadata,
		FormatCycle: o.FormatCycle,
	}
}

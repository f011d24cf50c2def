package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/richinsley/goreceiver/options"
)

var version = "0.1.0"

func init() {
	// GLFW and GL calls must stay on the main thread.
	runtime.LockOSThread()
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	d := options.DefaultOptions()

	rootCmd := &cobra.Command{
		Use:   "goreceiver",
		Short: "Capture receiver",
		Long: `goreceiver captures audio and video from a source, plays the audio on an
output device and presents the video with a live audio spectrum.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options.Load(v)
			if err != nil {
				return err
			}
			configureLogging(opts)
			return run(cmd.Context(), opts)
		},
	}

	f := rootCmd.Flags()
	f.String("config", "", "config file (yaml, json, toml)")
	f.String("env-file", ".env", "environment file loaded before GORECEIVER_* variables are read")

	f.String("source-kind", d.SourceKind, "capture source: ffmpeg, mp3 or tone")
	f.String("source-name", d.SourceName, "source to open: ffmpeg input, mp3 file or tone label")
	f.String("input-format", d.InputFormat, "ffmpeg input format, e.g. lavfi, v4l2, avfoundation")
	f.String("ffmpeg-path", d.FFMPEGPath, "path to the ffmpeg executable")
	f.Bool("realtime", d.Realtime, "pace file and synthetic sources to their native rate")
	f.Bool("loop", d.Loop, "restart file sources at end of stream")
	f.Int("format-cycle", d.FormatCycle, "tone source: switch audio format every N frames (0 disables)")
	f.String("metadata", d.Metadata, "tone source: metadata attached to video frames")
	f.Bool("no-video", d.NoVideo, "capture audio only")

	f.Int("sample-rate", d.SampleRate, "captured audio sample rate")
	f.Int("channels", d.Channels, "captured audio channel count")
	f.Int("samples-per-frame", d.SamplesPerFrame, "samples per channel in one captured audio frame")
	f.Int("width", d.Width, "video and window width")
	f.Int("height", d.Height, "video and window height")
	f.Int("fps", d.FPS, "host loop and video frame rate")

	f.String("audio-output", d.AudioOutput, "audio output: portaudio, ffmpeg or null")
	f.String("output-device", d.OutputDevice, "ffmpeg output device, e.g. pulse, alsa, audiotoolbox")
	f.Int("frames-per-buffer", d.FramesPerBuffer, "playback device block size in frames")
	f.Int("buffer-frames", d.BufferFrames, "playback ring buffer size in captured audio frames")

	f.Duration("retry-interval", d.RetryInterval, "minimum time between source open attempts")
	f.Duration("capture-timeout", d.CaptureTimeout, "audio capture wait per call")
	f.Duration("shutdown-timeout", d.ShutdownTimeout, "how long teardown waits for the audio worker")
	f.Int("mailbox-size", d.MailboxSize, "audio frames queued between worker and host loop")

	f.Bool("headless", d.Headless, "run without a window")
	f.Float64("duration", d.Duration, "seconds to run, 0 runs until interrupted")

	f.String("log-level", d.LogLevel, "log level: trace, debug, info, warn, error")
	f.String("log-format", d.LogFormat, "log format: text or json")

	bindFlags(v, rootCmd)
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// bindFlags binds every flag to the viper key with dashes replaced by
// underscores, so flags, env vars and config files share one key space.
func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(fl *pflag.Flag) {
		key := strings.ReplaceAll(fl.Name, "-", "_")
		if err := v.BindPFlag(key, fl); err != nil {
			logrus.WithError(err).WithField("flag", fl.Name).Fatal("Failed to bind flag")
		}
	})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("goreceiver v%s\n", version)
		},
	}
}

func configureLogging(opts *options.ReceiverOptions) {
	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if opts.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

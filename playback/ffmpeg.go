package playback

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FFmpegConfig selects the ffmpeg binary and the OS output device it plays to.
type FFmpegConfig struct {
	FFMPEGPath   string
	OutputDevice string
}

// FFmpegDevice plays audio by piping f32le blocks into an ffmpeg process that
// writes to the platform's audio output. Blocks are pulled from the callback
// at the real-time cadence by an internal pump goroutine.
type FFmpegDevice struct {
	cfg   Config
	ffcfg FFmpegConfig
	pump  *pump

	mu         sync.Mutex
	cmd        *exec.Cmd
	pipeWriter *io.PipeWriter
	closed     bool
	encoded    []byte
}

// OpenFFmpeg is an Opener for FFmpegDevice.
func OpenFFmpeg(ffcfg FFmpegConfig) Opener {
	return func(cfg Config, cb Callback) (Device, error) {
		return NewFFmpegDevice(cfg, ffcfg, cb)
	}
}

// NewFFmpegDevice creates a stopped device. The ffmpeg process is launched on
// the first Play.
func NewFFmpegDevice(cfg Config, ffcfg FFmpegConfig, cb Callback) (*FFmpegDevice, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	d := &FFmpegDevice{
		cfg:     cfg,
		ffcfg:   ffcfg,
		encoded: make([]byte, cfg.BlockSize()*4),
	}
	d.pump = newPump(cfg, cb, d.writeBlock)
	return d, nil
}

func (d *FFmpegDevice) outputArgs() (outputDevice string, outputArgs ffmpeg.KwArgs) {
	outputArgs = ffmpeg.KwArgs{}
	outputDevice = d.ffcfg.OutputDevice
	switch runtime.GOOS {
	case "darwin":
		outputArgs["f"] = "audiotoolbox"
		if outputDevice != "" {
			outputArgs["audio_device_index"] = outputDevice
		}
		outputDevice = "-"
	case "linux":
		outputArgs["f"] = "pulse" // or "alsa"
		if outputDevice == "" {
			outputDevice = "default"
		}
	case "windows":
		outputArgs["f"] = "dshow"
	}
	return outputDevice, outputArgs
}

// inputArgs describes the raw stream written on the pipe.
func (d *FFmpegDevice) inputArgs() ffmpeg.KwArgs {
	return ffmpeg.KwArgs{
		"f":  "f32le",
		"ar": strconv.Itoa(d.cfg.SampleRate),
		"ac": strconv.Itoa(d.cfg.Channels),
	}
}

func (d *FFmpegDevice) launch() error {
	outputDevice, outputArgs := d.outputArgs()

	pipeReader, pipeWriter := io.Pipe()
	stream := ffmpeg.Input("pipe:", d.inputArgs()).
		Output(outputDevice, outputArgs).
		WithInput(pipeReader).
		ErrorToStdOut()
	if d.ffcfg.FFMPEGPath != "" {
		stream = stream.SetFfmpegPath(d.ffcfg.FFMPEGPath)
	}

	cmd := stream.Compile()
	if err := cmd.Start(); err != nil {
		pipeWriter.Close()
		return errors.Wrap(err, "failed to start ffmpeg audio output")
	}
	d.cmd = cmd
	d.pipeWriter = pipeWriter

	go func() {
		if err := cmd.Wait(); err != nil {
			logrus.WithFields(logrus.Fields{
				"component": "playback",
				"device":    "ffmpeg",
				"error":     err,
			}).Warn("FFmpeg audio output finished with error")
		}
		pipeWriter.Close()
	}()

	logrus.WithFields(logrus.Fields{
		"component":  "playback",
		"device":     "ffmpeg",
		"output":     outputDevice,
		"sampleRate": d.cfg.SampleRate,
		"channels":   d.cfg.Channels,
	}).Info("Started ffmpeg audio output")
	return nil
}

// writeBlock runs on the pump goroutine only.
func (d *FFmpegDevice) writeBlock(block []float32) error {
	for i, v := range block {
		binary.LittleEndian.PutUint32(d.encoded[i*4:], math.Float32bits(v))
	}
	d.mu.Lock()
	w := d.pipeWriter
	d.mu.Unlock()
	if w == nil {
		return ErrDeviceClosed
	}
	_, err := w.Write(d.encoded[:len(block)*4])
	return err
}

func (d *FFmpegDevice) Play() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDeviceClosed
	}
	if d.cmd == nil {
		if err := d.launch(); err != nil {
			d.mu.Unlock()
			return err
		}
	}
	d.mu.Unlock()
	d.pump.start()
	return nil
}

func (d *FFmpegDevice) Stop() error {
	d.pump.stop()
	return nil
}

func (d *FFmpegDevice) IsPlaying() bool {
	return d.pump.isPlaying()
}

// Close stops the pump, closes the pipe and kills the ffmpeg process.
func (d *FFmpegDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	w := d.pipeWriter
	cmd := d.cmd
	d.mu.Unlock()

	// Unblock a pump stuck on a full pipe before waiting for it.
	if w != nil {
		w.Close()
	}
	d.pump.stop()

	d.mu.Lock()
	d.pipeWriter = nil
	d.cmd = nil
	d.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	return nil
}

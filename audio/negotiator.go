package audio

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrShortFrame is returned for frames holding fewer samples than their
// format declares.
var ErrShortFrame = errors.New("audio frame shorter than its format")

// Tap observes every block handed to the renderer, after interleaving.
type Tap func(f Format, interleaved []float32)

// FormatNegotiator sits between captured frames and a Renderer. It calls
// SetFormat exactly once per format change, always before the first samples
// of the new format reach PlaySamples.
//
// A FormatNegotiator is not safe for concurrent use; it belongs to the
// goroutine that owns the renderer.
type FormatNegotiator struct {
	renderer Renderer
	tap      Tap

	last     Format
	accepted bool
	changes  int
	buffer   []float32
}

// NewFormatNegotiator creates a negotiator feeding r. r may be nil, in which
// case frames are discarded.
func NewFormatNegotiator(r Renderer) *FormatNegotiator {
	return &FormatNegotiator{renderer: r}
}

// SetTap installs t to observe accepted blocks. A nil t removes the tap.
func (n *FormatNegotiator) SetTap(t Tap) {
	n.tap = t
}

// Process negotiates the frame's format and plays its samples. When
// SetFormat fails the frame is dropped and the next frame retries.
func (n *FormatNegotiator) Process(frame *Frame) error {
	if n.renderer == nil || frame == nil {
		return nil
	}
	if !frame.Format.Valid() {
		return errors.Wrapf(ErrInvalidFormat, "%s", frame.Format)
	}
	if len(frame.Data) < frame.Format.BufferSize() {
		return errors.Wrapf(ErrShortFrame, "%d samples for %s", len(frame.Data), frame.Format)
	}

	if !n.accepted || frame.Format != n.last {
		if err := n.renderer.SetFormat(frame.Format); err != nil {
			n.accepted = false
			return errors.Wrap(err, "set format")
		}
		logrus.WithFields(logrus.Fields{
			"component": "audio",
			"previous":  n.last.String(),
			"format":    frame.Format.String(),
		}).Debug("Audio format negotiated")
		n.last = frame.Format
		n.accepted = true
		n.changes++
		n.buffer = make([]float32, frame.Format.BufferSize())
	}

	n.buffer = frame.Interleave(n.buffer)
	if n.tap != nil {
		n.tap(frame.Format, n.buffer)
	}
	return n.renderer.PlaySamples(n.buffer)
}

// Format returns the last accepted format and whether there is one.
func (n *FormatNegotiator) Format() (Format, bool) {
	return n.last, n.accepted
}

// Changes returns how many times SetFormat succeeded.
func (n *FormatNegotiator) Changes() int {
	return n.changes
}

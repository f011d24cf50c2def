package receiver

import "github.com/richinsley/goreceiver/audio"

// Message is posted by a session's audio worker to the tick goroutine.
type Message interface {
	isMessage()
}

// AudioFrameMessage carries a captured frame. The frame owns its data; the
// native frame it was copied from has already been freed.
type AudioFrameMessage struct {
	Frame audio.Frame
}

// WorkerExitMessage is the last message of a worker. Err is nil when the worker
// was cancelled.
type WorkerExitMessage struct {
	Err error
}

func (AudioFrameMessage) isMessage() {}
func (WorkerExitMessage) isMessage() {}

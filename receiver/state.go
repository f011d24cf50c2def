package receiver

// State is the lifecycle state of the capture session.
type State int32

const (
	// Idle: no session has been started yet.
	Idle State = iota
	// Starting: a session exists or will be created on the next tick, and its
	// audio worker is not running yet.
	Starting
	// Running: the audio worker is capturing.
	Running
	// Cancelling: teardown has signalled the worker and is waiting for it.
	Cancelling
	// Stopped: the worker has exited and its resources are released.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Cancelling:
		return "cancelling"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

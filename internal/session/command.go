package session

// Command is a control message for the capture worker.
type Command int

const (
	// CommandStart begins (or resumes) a Running phase.
	CommandStart Command = iota + 1
	// CommandStop ends the current Running phase.
	CommandStop
)

func (c Command) String() string {
	switch c {
	case CommandStart:
		return "start"
	case CommandStop:
		return "stop"
	default:
		return "unknown"
	}
}

// State is the lifecycle state of a session.
type State string

const (
	// StateStopped: the worker is waiting for a Start command.
	StateStopped State = "stopped"
	// StateRunning: the worker is reading, decoding and delivering frames.
	StateRunning State = "running"
	// StateClosed: the worker has exited and resources are released.
	StateClosed State = "closed"
)

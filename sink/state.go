package sink

// state is one of the sink's nine possible states: the eight-state
// machine's CLOSED, STARTING, PLAYING, PAUSING, PAUSED, RESUME, DRAINING
// and CLOSING, plus SHUTDOWN, which only Close enters.
type state int

const (
	stateClosed state = iota
	stateStarting
	statePlaying
	statePausing
	statePaused
	stateResume
	stateDraining
	stateClosing
	stateShutdown
)

// bufferState reports whether the producer may deposit bytes while the
// sink is in s. Exactly {PLAYING, PAUSING, PAUSED, RESUME, DRAINING}
// carry it.
func (s state) bufferState() bool {
	switch s {
	case statePlaying, statePausing, statePaused, stateResume, stateDraining:
		return true
	default:
		return false
	}
}

func (s state) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateStarting:
		return "starting"
	case statePlaying:
		return "playing"
	case statePausing:
		return "pausing"
	case statePaused:
		return "paused"
	case stateResume:
		return "resume"
	case stateDraining:
		return "draining"
	case stateClosing:
		return "closing"
	case stateShutdown:
		return "shutdown"
	default:
		return "invalid"
	}
}

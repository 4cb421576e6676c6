package relay

// Direction identifies one of the two pumps of a session.
type Direction int

const (
	// Inbound moves bytes from the connection to local output.
	Inbound Direction = iota
	// Outbound moves bytes from local input to the connection.
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

func (d Direction) other() Direction { return 1 - d }

// Outcome is how a session ended.
type Outcome int

const (
	// Completed means the session was stopped from outside.
	Completed Outcome = iota
	// ConnectionClosedByPeer means the connection reached EOF.
	ConnectionClosedByPeer
	// LocalInputClosed means local input reached EOF.
	LocalInputClosed
	// Failed means a pump hit a read or write error.  Run returns the
	// error alongside it.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case ConnectionClosedByPeer:
		return "peer-closed"
	case LocalInputClosed:
		return "input-closed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// State is the lifecycle of an Engine.
type State int32

const (
	Idle State = iota
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

package syncview

// ConnState is the live-connection state of an Adapter.
type ConnState int

const (
	// Reconnecting: the live connection is down and being re-dialed
	// within the grace window.
	Reconnecting ConnState = iota
	// Live: subscribed; changes arrive as pushed events.
	Live
	// Degraded: the grace window ran out; history is polled while
	// re-dialing continues.
	Degraded
)

func (s ConnState) String() string {
	switch s {
	case Live:
		return "live"
	case Degraded:
		return "degraded"
	}
	return "reconnecting"
}

type Trigger int

const (
	Disconnected Trigger = iota
	GraceExpired
	Resubscribed
)

func (t Trigger) String() string {
	switch t {
	case GraceExpired:
		return "grace-expired"
	case Resubscribed:
		return "resubscribed"
	}
	return "disconnected"
}

// Next is the transition table. Triggers that do not apply to the current
// state leave it unchanged.
func (s ConnState) Next(t Trigger) ConnState {
	switch t {
	case Resubscribed:
		return Live
	case Disconnected:
		if s == Live {
			return Reconnecting
		}
	case GraceExpired:
		if s == Reconnecting {
			return Degraded
		}
	}
	return s
}

// Polling reports whether history should be polled in this state.
func (s ConnState) Polling() bool { return s == Degraded }

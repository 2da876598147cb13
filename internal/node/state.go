package node

import "fmt"

// State is the duty-cycle operating state
type State int32

const (
	StateInit State = iota
	StateLowPower
	StateActive
	StateTransmitting
	// StateReceiving is reserved; the machine never enters it
	StateReceiving
	StateReceiveComplete
)

var stateNames = [...]string{"init", "low_power", "active", "transmitting", "receiving", "receive_complete"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// JoinState tracks the network join as seen by the loop
type JoinState int32

const (
	JoinUnjoined JoinState = iota
	// JoinRecentlyJoined is held while the post-join actions run
	JoinRecentlyJoined
	JoinJoined
)

func (j JoinState) String() string {
	switch j {
	case JoinUnjoined:
		return "unjoined"
	case JoinRecentlyJoined:
		return "recently_joined"
	case JoinJoined:
		return "joined"
	default:
		return fmt.Sprintf("JoinState(%d)", int32(j))
	}
}

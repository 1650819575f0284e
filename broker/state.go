package broker

// State is the connection lifecycle position of a Manager
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Role selects which side of the broker a Manager serves
type Role string

const (
	// RoleConsumer subscribes to zone sensor topics
	RoleConsumer Role = "consumer"
	// RoleProducer only publishes
	RoleProducer Role = "producer"
)

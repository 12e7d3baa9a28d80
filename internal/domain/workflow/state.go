package workflow

// State represents a stage in the installation request lifecycle
type State string

const (
	StatePendingApproval     State = "PENDING_APPROVAL"
	StatePendingInstallation State = "PENDING_INSTALLATION"
	StateUserCreated         State = "USER_CREATED"
	StateConfigPending       State = "CONFIG_PENDING"
	StateScheduled           State = "SCHEDULED"
	StateCompleted           State = "COMPLETED"
	StateCancelled           State = "CANCELLED"
)

// stateRank orders the forward path. Cancelled sits outside it.
var stateRank = map[State]int{
	StatePendingApproval:     1,
	StatePendingInstallation: 2,
	StateUserCreated:         3,
	StateConfigPending:       4,
	StateScheduled:           5,
	StateCompleted:           6,
}

var terminalStates = map[State]bool{
	StateCompleted: true,
	StateCancelled: true,
}

// IsTerminal returns true if no further transitions are allowed from the state
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsValid returns true if the state is a known workflow state
func (s State) IsValid() bool {
	if s == StateCancelled {
		return true
	}
	_, ok := stateRank[s]
	return ok
}

// AtLeast reports whether s is at or beyond other on the forward path.
// Cancelled is never at least anything.
func (s State) AtLeast(other State) bool {
	rank, ok := stateRank[s]
	if !ok {
		return false
	}
	return rank >= stateRank[other]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// AllStates lists every state in forward order followed by Cancelled
func AllStates() []State {
	return []State{
		StatePendingApproval,
		StatePendingInstallation,
		StateUserCreated,
		StateConfigPending,
		StateScheduled,
		StateCompleted,
		StateCancelled,
	}
}

package matter

// NodeState is the lifecycle of a Node, from construction through the
// running states (uncommissioned, window open, commissioned) to shutdown.
type NodeState int

const (
	NodeStateUninitialized NodeState = iota
	NodeStateInitialized
	NodeStateStarting

	// Running states. Uncommissioned nodes advertise as commissionable;
	// commissioned nodes advertise operationally.
	NodeStateUncommissioned
	NodeStateCommissioningOpen
	NodeStateCommissioned

	NodeStateStopping
	NodeStateStopped
)

var nodeStateNames = map[NodeState]string{
	NodeStateUninitialized:     "Uninitialized",
	NodeStateInitialized:       "Initialized",
	NodeStateStarting:          "Starting",
	NodeStateUncommissioned:    "Uncommissioned",
	NodeStateCommissioningOpen: "CommissioningOpen",
	NodeStateCommissioned:      "Commissioned",
	NodeStateStopping:          "Stopping",
	NodeStateStopped:           "Stopped",
}

func (s NodeState) String() string {
	if name, ok := nodeStateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// IsRunning reports whether the node is serving traffic.
func (s NodeState) IsRunning() bool {
	return s == NodeStateUncommissioned || s == NodeStateCommissioningOpen || s == NodeStateCommissioned
}

// CanStart reports whether Start is legal from this state.
func (s NodeState) CanStart() bool { return s == NodeStateInitialized }

// CanStop reports whether Stop is legal from this state.
func (s NodeState) CanStop() bool { return s.IsRunning() || s == NodeStateStarting }

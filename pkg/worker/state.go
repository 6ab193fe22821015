package worker

// State is a worker's lifecycle state
type State int

const (
	// Inactive is the initial state and the normal terminal state
	Inactive State = iota
	// Working means a task owns the worker and is preparing the next step
	Working
	// Requesting means a model request has been sent
	Requesting
	// Receiving means the model response is streaming in
	Receiving
	// Waiting means the task is blocked on operator confirmation
	Waiting
	// UsingTool means a tool invocation is running
	UsingTool
	// InactiveFailed is the terminal state after an unrecoverable error
	InactiveFailed
)

var stateNames = map[State]string{
	Inactive:       "inactive",
	Working:        "working",
	Requesting:     "requesting",
	Receiving:      "receiving",
	Waiting:        "waiting",
	UsingTool:      "using_tool",
	InactiveFailed: "inactive_failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsTerminal reports whether no task is driving the worker in this state
func (s State) IsTerminal() bool {
	return s == Inactive || s == InactiveFailed
}

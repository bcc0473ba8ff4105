package cycle

// State is one position in the improvement cycle state machine.
type State int

const (
	StateAnalyzing State = iota
	StateSynthesizing
	StateExecuting
	StateEvaluating
	StateDeciding
	StateSucceeded
	StateExhausted
	StateAborted
)

var stateNames = map[State]string{
	StateAnalyzing:    "analyzing",
	StateSynthesizing: "synthesizing",
	StateExecuting:    "executing",
	StateEvaluating:   "evaluating",
	StateDeciding:     "deciding",
	StateSucceeded:    "succeeded",
	StateExhausted:    "exhausted",
	StateAborted:      "aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the state ends a chain.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateExhausted || s == StateAborted
}

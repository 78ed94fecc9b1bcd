package registry

// transitionMatrix enumerates the allowed status transitions. Self
// transitions are always allowed and are not listed here explicitly.
var transitionMatrix = map[Status]map[Status]bool{
	StatusStarting: {
		StatusUp:           true,
		StatusDown:         true,
		StatusOutOfService: true,
		StatusUnknown:      true,
	},
	StatusUp: {
		StatusDown:         true,
		StatusOutOfService: true,
		StatusUnknown:      true,
	},
	StatusDown: {
		StatusUp:           true,
		StatusStarting:     true,
		StatusOutOfService: true,
		StatusUnknown:      true,
	},
	StatusOutOfService: {
		StatusUp:       true,
		StatusDown:     true,
		StatusStarting: true,
		StatusUnknown:  true,
	},
	StatusUnknown: {
		StatusUp:           true,
		StatusDown:         true,
		StatusStarting:     true,
		StatusOutOfService: true,
	},
}

// allowedTransition reports whether moving from one status to another is
// permitted by the state machine. Self-transitions are always allowed.
func allowedTransition(from, to Status) bool {
	if from == to {
		return true
	}
	return transitionMatrix[from][to]
}

// IsHealthy reports whether s represents a healthy, discoverable instance.
func (s Status) IsHealthy() bool { return s == StatusUp }

// IsAvailable is an alias for IsHealthy: status UP is the only available state.
func (s Status) IsAvailable() bool { return s == StatusUp }

// IsTerminal reports whether s is the OUT_OF_SERVICE terminal-by-operator state.
func (s Status) IsTerminal() bool { return s == StatusOutOfService }

package statemachine

// GridTieState is the top level state of the grid connection.
type GridTieState int

const (
	StateUndefined GridTieState = iota
	StateGoingOnGrid
	StateOnGrid
	StateGoingOffGrid
	StateOffGrid
	StateError
)

func (s GridTieState) String() string {
	switch s {
	case StateGoingOnGrid:
		return "going_on_grid"
	case StateOnGrid:
		return "on_grid"
	case StateGoingOffGrid:
		return "going_off_grid"
	case StateOffGrid:
		return "off_grid"
	case StateError:
		return "error"
	default:
		return "undefined"
	}
}

// OnGridState is the sub state while the unit follows the grid.
type OnGridState int

const (
	OnGridUndefined OnGridState = iota
	OnGridIdle
	OnGridRun
)

func (s OnGridState) String() string {
	switch s {
	case OnGridIdle:
		return "idle"
	case OnGridRun:
		return "run"
	default:
		return "undefined"
	}
}

// ErrorState is the sub state of the error handler.
type ErrorState int

const (
	ErrorReadErrors ErrorState = iota
	ErrorHandleErrors
	ErrorAcknowledgeErrors
	ErrorHardReset
	ErrorHandlingNotPossible
	ErrorFinishErrorHandling
)

func (s ErrorState) String() string {
	switch s {
	case ErrorHandleErrors:
		return "handle_errors"
	case ErrorAcknowledgeErrors:
		return "acknowledge_errors"
	case ErrorHardReset:
		return "hard_reset"
	case ErrorHandlingNotPossible:
		return "error_handling_not_possible"
	case ErrorFinishErrorHandling:
		return "finish_error_handling"
	default:
		return "read_errors"
	}
}

// GridMode is what the grid presence inputs report.
type GridMode int

const (
	GridModeUndefined GridMode = iota
	GridModeOnGrid
	GridModeOffGrid
)

func (m GridMode) String() string {
	switch m {
	case GridModeOnGrid:
		return "on_grid"
	case GridModeOffGrid:
		return "off_grid"
	default:
		return "undefined"
	}
}

// ParseGridMode accepts the config spellings of a static grid mode.
// An empty string means the mode is derived from the NA protection inputs.
func ParseGridMode(s string) (GridMode, bool) {
	switch s {
	case "on_grid":
		return GridModeOnGrid, true
	case "off_grid":
		return GridModeOffGrid, true
	}
	return GridModeUndefined, false
}

// DeriveGridMode maps the two NA protection relays to a grid mode. The relays
// disagreeing means the grid is returning or failing.
func DeriveGridMode(na1, na2 bool) GridMode {
	switch {
	case na1 && na2:
		return GridModeOnGrid
	case !na1 && !na2:
		return GridModeOffGrid
	default:
		return GridModeUndefined
	}
}

// Command selects which command set the controller prepares for this cycle.
type Command int

const (
	// CommandNone keeps the pending blocks as they are.
	CommandNone Command = iota
	CommandStart
	CommandRun
	CommandBlackstart
	CommandAcknowledge
)

func (c Command) String() string {
	switch c {
	case CommandStart:
		return "start"
	case CommandRun:
		return "run"
	case CommandBlackstart:
		return "blackstart"
	case CommandAcknowledge:
		return "acknowledge"
	default:
		return "none"
	}
}

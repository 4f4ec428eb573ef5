// Package pipeline drives a single user turn through entity extraction,
// intent classification and command building, tracking the turn's state and
// abandoning older turns of the same session when a newer one arrives.
package pipeline

// State 表示一轮输入在流水线中的状态。
type State string

const (
	StateReceived             State = "received"
	StateEntitiesExtracted    State = "entities_extracted"
	StateClassified           State = "classified"
	StateRejected             State = "rejected"
	StateParametersExtracted  State = "parameters_extracted"
	StateDisambiguation       State = "disambiguation"
	StateValidated            State = "validated"
	StateInvalid              State = "invalid"
	StateCommandReady         State = "command_ready"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateSuperseded           State = "superseded"
)

// transitions 列出每个状态允许进入的下一状态。任何非终止状态都可以被取代。
var transitions = map[State][]State{
	StateReceived:            {StateEntitiesExtracted, StateRejected},
	StateEntitiesExtracted:   {StateClassified, StateRejected},
	StateClassified:          {StateParametersExtracted, StateRejected},
	StateParametersExtracted: {StateDisambiguation, StateValidated},
	StateValidated:           {StateInvalid, StateCommandReady},
	StateCommandReady:        {StateAwaitingConfirmation},
}

// Terminal 判断状态是否为该轮的终止状态。
func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateDisambiguation, StateInvalid, StateCommandReady,
		StateAwaitingConfirmation, StateSuperseded:
		return true
	}
	return false
}

// CanTransition 判断状态迁移是否合法。
func CanTransition(from, to State) bool {
	if to == StateSuperseded {
		return from != StateSuperseded && (!from.Terminal() || from == StateCommandReady)
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsValidState 检查状态是否为支持的枚举值。
func IsValidState(s State) bool {
	switch s {
	case StateReceived, StateEntitiesExtracted, StateClassified, StateRejected,
		StateParametersExtracted, StateDisambiguation, StateValidated, StateInvalid,
		StateCommandReady, StateAwaitingConfirmation, StateSuperseded:
		return true
	}
	return false
}

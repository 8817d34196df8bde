package orchestrator

import (
	"fmt"
	"strings"
)

// PipelineState is the position of a conversation's current user turn in
// the pipeline. It is not persisted.
type PipelineState int

const (
	StateIdle PipelineState = iota
	StateRouting
	StateSingleAgentTurn
	StateTwoAgentHandoff
	StateToolCommandTurn
)

func (s PipelineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRouting:
		return "routing"
	case StateSingleAgentTurn:
		return "single_agent_turn"
	case StateTwoAgentHandoff:
		return "two_agent_handoff"
	case StateToolCommandTurn:
		return "tool_command_turn"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Mode string

const (
	ModeGeneral Mode = "general"
	ModeSpec    Mode = "spec"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeGeneral:
		return ModeGeneral, nil
	case ModeSpec:
		return ModeSpec, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

package domain

// YieldReason explains why a step was emitted.
type YieldReason string

const (
	YieldEndTurn        YieldReason = "end_turn"
	YieldToolUse        YieldReason = "tool_use"
	YieldMaxTokens      YieldReason = "max_tokens"
	YieldCede           YieldReason = "cede"
	YieldCommand        YieldReason = "command"
	YieldSuspend        YieldReason = "suspend"
	YieldAwaitingResume YieldReason = "awaiting_resume"
	YieldExternal       YieldReason = "external"
)

// Done reports whether no further executor call is expected without new
// external input.
func (r YieldReason) Done() bool {
	switch r {
	case YieldEndTurn, YieldMaxTokens, YieldAwaitingResume:
		return true
	}
	return false
}

// WantsContinuation reports whether the executor asked to be called again.
func (r YieldReason) WantsContinuation() bool {
	return r == YieldToolUse || r == YieldMaxTokens
}

// Valid reports whether r is one of the known reasons.
func (r YieldReason) Valid() bool {
	switch r {
	case YieldEndTurn, YieldToolUse, YieldMaxTokens, YieldCede, YieldCommand,
		YieldSuspend, YieldAwaitingResume, YieldExternal:
		return true
	}
	return false
}

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleCommand   Role = "command"
)

// Well-known suspend reasons set by the runtime itself.
const (
	SuspendReasonStepLimit = "step_limit"
)

// Policy warning codes.
const (
	WarnWorkerEndTurn = "worker_end_turn"
	WarnWorkerStepCap = "worker_step_limit"
	WarnUnknownYield  = "unknown_yield_reason"
)

package engine

import "errors"

var (
	// ErrNoEligibleAgent is returned when auto-assignment finds no
	// active agent. Callers leave the task pending; this is not a
	// task failure.
	ErrNoEligibleAgent = errors.New("no eligible agent available")

	// ErrAgentNotActive is returned when a task's owner cannot
	// process it this cycle
	ErrAgentNotActive = errors.New("assigned agent is not active")

	// ErrRecoveryExhausted is returned when a task has used up its
	// recovery attempts and must be escalated
	ErrRecoveryExhausted = errors.New("recovery attempts exhausted")
)

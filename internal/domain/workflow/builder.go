package workflow

import (
	"context"
	"fmt"
)

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder interface {
	// Configure returns a state configuration for the given state
	Configure(state State) StateConfiguration

	// Build creates a new state machine instance with the given initial state
	Build(initialState State) StateMachine
}

// StateConfiguration configures transitions for a specific state
type StateConfiguration interface {
	// Permit allows a trigger to transition to the target state.
	// Permitting the same trigger twice keeps the last target.
	Permit(trigger Trigger, toState State) StateConfiguration
}

type transitionKey struct {
	from    State
	trigger Trigger
}

type transitionTable map[transitionKey]State

type stateMachineBuilder struct {
	table transitionTable
}

type stateConfig struct {
	from  State
	table transitionTable
}

type stateMachine struct {
	current State
	table   transitionTable
}

// NewBuilder creates a new state machine builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{table: make(transitionTable)}
}

func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}
	return &stateConfig{from: state, table: b.table}
}

// Build copies the transition table so later Configure calls do not
// leak into machines already built.
func (b *stateMachineBuilder) Build(initialState State) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}

	table := make(transitionTable, len(b.table))
	for key, to := range b.table {
		table[key] = to
	}

	return &stateMachine{current: initialState, table: table}
}

func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	c.table[transitionKey{from: c.from, trigger: trigger}] = toState
	return c
}

func (m *stateMachine) State() State {
	return m.current
}

func (m *stateMachine) CanFire(trigger Trigger) bool {
	_, ok := m.table[transitionKey{from: m.current, trigger: trigger}]
	return ok
}

func (m *stateMachine) Fire(ctx context.Context, trigger Trigger) error {
	to, ok := m.table[transitionKey{from: m.current, trigger: trigger}]
	if !ok {
		return fmt.Errorf("%w: cannot fire trigger %s from state %s", ErrInvalidTransition, trigger, m.current)
	}
	m.current = to
	return nil
}

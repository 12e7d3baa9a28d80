package workflow

import (
	"context"
	"fmt"
	"sort"
)

// GuardFunc decides whether a guarded edge may be taken
type GuardFunc func(ctx context.Context) bool

// StateMachineBuilder collects the transition table and builds machines from it
type StateMachineBuilder interface {
	// Configure returns the edge configuration for the given source state
	Configure(state State) StateConfiguration

	// Build creates a machine positioned at the given state
	Build(initialState State) StateMachine
}

// StateConfiguration declares the outgoing edges of one source state
type StateConfiguration interface {
	// Permit adds an unconditional edge
	Permit(trigger Trigger, toState State) StateConfiguration

	// PermitIf adds an edge that is only taken when guard returns true
	PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration
}

type edge struct {
	toState State
	guard   GuardFunc
}

type stateConfig struct {
	edges map[Trigger][]edge
}

type stateMachineBuilder struct {
	configurations map[State]*stateConfig
}

type stateMachine struct {
	currentState   State
	configurations map[State]*stateConfig
}

// NewBuilder creates an empty builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{
		configurations: make(map[State]*stateConfig),
	}
}

func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig{edges: make(map[Trigger][]edge)}
		b.configurations[state] = config
	}
	return config
}

// Build copies the table so machines never observe later Configure calls
func (b *stateMachineBuilder) Build(initialState State) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}

	configs := make(map[State]*stateConfig, len(b.configurations))
	for state, config := range b.configurations {
		edges := make(map[Trigger][]edge, len(config.edges))
		for trigger, list := range config.edges {
			edges[trigger] = append([]edge(nil), list...)
		}
		configs[state] = &stateConfig{edges: edges}
	}

	return &stateMachine{
		currentState:   initialState,
		configurations: configs,
	}
}

func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	return c.PermitIf(trigger, toState, nil)
}

func (c *stateConfig) PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	c.edges[trigger] = append(c.edges[trigger], edge{toState: toState, guard: guard})
	return c
}

func (m *stateMachine) State() State {
	return m.currentState
}

func (m *stateMachine) CanFire(trigger Trigger) bool {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return false
	}
	return len(config.edges[trigger]) > 0
}

func (m *stateMachine) Target(ctx context.Context, trigger Trigger) (State, error) {
	config, exists := m.configurations[m.currentState]
	if !exists || len(config.edges[trigger]) == 0 {
		return "", fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, trigger, m.currentState)
	}

	// first edge whose guard passes wins
	for _, e := range config.edges[trigger] {
		if e.guard == nil || e.guard(ctx) {
			return e.toState, nil
		}
	}
	return "", fmt.Errorf("%w: %s from %s", ErrGuardFailed, trigger, m.currentState)
}

func (m *stateMachine) Fire(ctx context.Context, trigger Trigger) error {
	target, err := m.Target(ctx, trigger)
	if err != nil {
		return err
	}
	m.currentState = target
	return nil
}

// PermittedTriggers is sorted so callers get a stable order
func (m *stateMachine) PermittedTriggers() []Trigger {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return []Trigger{}
	}

	triggers := make([]Trigger, 0, len(config.edges))
	for trigger, edges := range config.edges {
		if len(edges) > 0 {
			triggers = append(triggers, trigger)
		}
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}

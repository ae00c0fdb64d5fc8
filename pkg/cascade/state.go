package cascade

import (
	"fmt"

	"github.com/zen-systems/toolcascade/pkg/schema"
)

// State is a cascade state.
type State int

const (
	StatePending State = iota
	StatePrimary
	StateSpecializedFallback
	StateGenericFallback
	StateSynthesizing
	StateValidating
	StateSucceeded
	StateFailed
)

var stateNames = map[State]string{
	StatePending:             "PENDING",
	StatePrimary:             "PRIMARY",
	StateSpecializedFallback: "SPECIALIZED_FALLBACK",
	StateGenericFallback:     "GENERIC_FALLBACK",
	StateSynthesizing:        "SYNTHESIZING",
	StateValidating:          "VALIDATING",
	StateSucceeded:           "SUCCEEDED",
	StateFailed:              "FAILED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether s ends the cascade.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Tier maps an invoking state to the attempt tier.
func (s State) Tier() schema.Tier {
	switch s {
	case StatePrimary:
		return schema.TierPrimary
	case StateSpecializedFallback:
		return schema.TierSpecializedFallback
	case StateGenericFallback:
		return schema.TierGenericFallback
	case StateSynthesizing:
		return schema.TierSynthesized
	}
	return 0
}

// Event drives a state transition.
type Event int

const (
	// EventStart begins the cascade.
	EventStart Event = iota
	// EventCandidate means an attempt cleared the confidence threshold.
	EventCandidate
	// EventTierFailed means the current tier has no candidate left.
	EventTierFailed
	// EventAccepted means the validator accepted the candidate.
	EventAccepted
	// EventRejected means the validator rejected the candidate. It fails the
	// tier the candidate came from.
	EventRejected
	// EventExhausted means the attempt cap was reached.
	EventExhausted
	// EventCanceled means the context is done.
	EventCanceled
)

type transitionKey struct {
	from  State
	event Event
}

var transitions = map[transitionKey]State{
	{StatePending, EventStart}: StatePrimary,

	{StatePrimary, EventCandidate}:  StateValidating,
	{StatePrimary, EventTierFailed}: StateSpecializedFallback,

	{StateSpecializedFallback, EventCandidate}:  StateValidating,
	{StateSpecializedFallback, EventTierFailed}: StateGenericFallback,

	{StateGenericFallback, EventCandidate}:  StateValidating,
	{StateGenericFallback, EventTierFailed}: StateSynthesizing,

	{StateSynthesizing, EventCandidate}:  StateValidating,
	{StateSynthesizing, EventTierFailed}: StateFailed,

	{StateValidating, EventAccepted}: StateSucceeded,
}

// machine tracks the current state and the tier being validated.
type machine struct {
	state State
	// tier is the invoking state a VALIDATING candidate came from.
	tier State
}

func newMachine() *machine {
	return &machine{state: StatePending, tier: StatePending}
}

// fire applies ev. Exhaustion and cancellation end any non-terminal state.
func (m *machine) fire(ev Event) (State, error) {
	if m.state.Terminal() {
		return m.state, fmt.Errorf("cascade already %s", m.state)
	}
	switch ev {
	case EventExhausted, EventCanceled:
		m.state = StateFailed
		return m.state, nil
	case EventRejected:
		if m.state != StateValidating {
			return m.state, fmt.Errorf("reject outside validation in %s", m.state)
		}
		m.state = m.tier
		ev = EventTierFailed
	}

	next, ok := transitions[transitionKey{m.state, ev}]
	if !ok {
		return m.state, fmt.Errorf("no transition from %s on event %d", m.state, ev)
	}
	if next == StateValidating {
		m.tier = m.state
	}
	m.state = next
	return m.state, nil
}

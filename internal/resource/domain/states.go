package domain

import "errors"

// State is the lifecycle state of a resource. Scheduled states mark
// intent recorded synchronously; their unsuffixed counterparts mean a
// backend operation is in flight.
type State string

const (
	StateProvisioningScheduled State = "provisioning_scheduled"
	StateProvisioning          State = "provisioning"
	StateOnline                State = "online"
	StateOffline               State = "offline"
	StateStartingScheduled     State = "starting_scheduled"
	StateStarting              State = "starting"
	StateStoppingScheduled     State = "stopping_scheduled"
	StateStopping              State = "stopping"
	StateRestartingScheduled   State = "restarting_scheduled"
	StateRestarting            State = "restarting"
	StateDeletionScheduled     State = "deletion_scheduled"
	StateDeleting              State = "deleting"
	StateDeleted               State = "deleted"
	StateErred                 State = "erred"
)

// transitions is the explicit edge list of the resource state machine.
// Erred is not listed as a target here; any non-terminal state may move
// to erred, which CanTransition handles separately.
var transitions = map[State][]State{
	StateProvisioningScheduled: {StateProvisioning},
	StateProvisioning:          {StateOnline, StateOffline},
	StateOnline:                {StateStoppingScheduled, StateRestartingScheduled},
	StateOffline:               {StateStartingScheduled, StateDeletionScheduled},
	StateStartingScheduled:     {StateStarting},
	StateStarting:              {StateOnline},
	StateStoppingScheduled:     {StateStopping},
	StateStopping:              {StateOffline},
	StateRestartingScheduled:   {StateRestarting},
	StateRestarting:            {StateOnline},
	StateDeletionScheduled:     {StateDeleting},
	StateDeleting:              {StateDeleted},
	StateErred:                 {StateDeletionScheduled},
	StateDeleted:               {},
}

// IsTerminal reports whether no transition may leave the state.
func (s State) IsTerminal() bool { return s == StateDeleted }

func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the edge from -> to exists.
func CanTransition(from, to State) bool {
	if to == StateErred {
		return !from.IsTerminal() && from != StateErred
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Sources returns every state from which to is reachable, in a stable
// order. Used to build status-guarded UPDATE clauses.
func Sources(to State) []State {
	ordered := []State{
		StateProvisioningScheduled, StateProvisioning,
		StateOnline, StateOffline,
		StateStartingScheduled, StateStarting,
		StateStoppingScheduled, StateStopping,
		StateRestartingScheduled, StateRestarting,
		StateDeletionScheduled, StateDeleting,
		StateDeleted, StateErred,
	}
	var sources []State
	for _, from := range ordered {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// LinkState is the backend-sync state of a service project link.
type LinkState string

const (
	LinkStateNew               LinkState = "new"
	LinkStateCreationScheduled LinkState = "creation_scheduled"
	LinkStateCreating          LinkState = "creating"
	LinkStateInSync            LinkState = "in_sync"
	LinkStateErred             LinkState = "erred"
)

var linkTransitions = map[LinkState][]LinkState{
	LinkStateNew:               {LinkStateCreationScheduled},
	LinkStateCreationScheduled: {LinkStateCreating},
	LinkStateCreating:          {LinkStateInSync},
	LinkStateInSync:            {},
	// an erred link recovers by rescheduling the sync
	LinkStateErred: {LinkStateCreationScheduled},
}

func (s LinkState) Valid() bool {
	_, ok := linkTransitions[s]
	return ok
}

func CanTransitionLink(from, to LinkState) bool {
	if to == LinkStateErred {
		return from != LinkStateErred
	}
	for _, next := range linkTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func LinkSources(to LinkState) []LinkState {
	ordered := []LinkState{
		LinkStateNew, LinkStateCreationScheduled,
		LinkStateCreating, LinkStateInSync, LinkStateErred,
	}
	var sources []LinkState
	for _, from := range ordered {
		if CanTransitionLink(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// ErrIllegalTransition is returned when the current state has no edge
// to the requested one.
var ErrIllegalTransition = errors.New("illegal_state_transition")

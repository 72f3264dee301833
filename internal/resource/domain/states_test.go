package domain

import (
	"strings"
	"testing"
)

func TestResourceTransitionTable(t *testing.T) {
	legal := []struct{ from, to State }{
		{StateProvisioningScheduled, StateProvisioning},
		{StateProvisioning, StateOnline},
		{StateProvisioning, StateOffline},
		{StateOnline, StateStoppingScheduled},
		{StateOnline, StateRestartingScheduled},
		{StateOffline, StateStartingScheduled},
		{StateOffline, StateDeletionScheduled},
		{StateStartingScheduled, StateStarting},
		{StateStarting, StateOnline},
		{StateStoppingScheduled, StateStopping},
		{StateStopping, StateOffline},
		{StateRestartingScheduled, StateRestarting},
		{StateRestarting, StateOnline},
		{StateDeletionScheduled, StateDeleting},
		{StateDeleting, StateDeleted},
		{StateErred, StateDeletionScheduled},
	}
	for _, tc := range legal {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be legal", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to State }{
		{StateOnline, StateStartingScheduled},
		{StateOffline, StateStoppingScheduled},
		{StateOnline, StateDeletionScheduled},
		{StateProvisioningScheduled, StateOnline},
		{StateDeleted, StateProvisioning},
		{StateDeleted, StateDeletionScheduled},
		{StateErred, StateOnline},
		{StateStarting, StateOffline},
	}
	for _, tc := range illegal {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be illegal", tc.from, tc.to)
		}
	}
}

func TestErredReachableFromAnyNonTerminal(t *testing.T) {
	all := []State{
		StateProvisioningScheduled, StateProvisioning,
		StateOnline, StateOffline,
		StateStartingScheduled, StateStarting,
		StateStoppingScheduled, StateStopping,
		StateRestartingScheduled, StateRestarting,
		StateDeletionScheduled, StateDeleting,
	}
	for _, from := range all {
		if !CanTransition(from, StateErred) {
			t.Errorf("expected %s -> erred to be legal", from)
		}
	}
	if CanTransition(StateDeleted, StateErred) {
		t.Errorf("deleted is terminal, erred must not be reachable")
	}
	if CanTransition(StateErred, StateErred) {
		t.Errorf("erred -> erred must not be legal")
	}

	if got, want := len(Sources(StateErred)), len(all); got != want {
		t.Errorf("Sources(erred) = %d states, want %d", got, want)
	}
}

func TestLinkTransitionTable(t *testing.T) {
	legal := []struct{ from, to LinkState }{
		{LinkStateNew, LinkStateCreationScheduled},
		{LinkStateCreationScheduled, LinkStateCreating},
		{LinkStateCreating, LinkStateInSync},
		{LinkStateErred, LinkStateCreationScheduled},
		{LinkStateCreating, LinkStateErred},
		{LinkStateInSync, LinkStateErred},
	}
	for _, tc := range legal {
		if !CanTransitionLink(tc.from, tc.to) {
			t.Errorf("expected link %s -> %s to be legal", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to LinkState }{
		{LinkStateNew, LinkStateInSync},
		{LinkStateInSync, LinkStateCreating},
		{LinkStateErred, LinkStateErred},
		{LinkStateNew, LinkStateCreating},
	}
	for _, tc := range illegal {
		if CanTransitionLink(tc.from, tc.to) {
			t.Errorf("expected link %s -> %s to be illegal", tc.from, tc.to)
		}
	}
}

func TestSanitizeErrorMessage(t *testing.T) {
	got := SanitizeErrorMessage("  multi\n line \t failure  ")
	if got != "multi line failure" {
		t.Fatalf("sanitize = %q", got)
	}

	long := strings.Repeat("x", 2000)
	if got := SanitizeErrorMessage(long); len(got) != 500 {
		t.Fatalf("expected truncation to 500 chars, got %d", len(got))
	}
}

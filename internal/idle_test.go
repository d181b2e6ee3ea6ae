package internal

import (
	"testing"
	"time"
)

// newDisguisedTree builds a small hierarchy with one ordinary leaf and
// the disguise entry after it.
func newDisguisedTree(t *testing.T) *Tree {
	t.Helper()
	tree := NewTree("files")
	tree, err := tree.Insert(tree.Root(), Node{ID: "notes.txt", Name: "notes.txt", Leaf: true})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	tree, err = tree.Insert(tree.Root(), Node{ID: "~disguise", Name: "index.bak", Leaf: true, Disguise: true})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return tree
}

func TestIdlePanicTiming(t *testing.T) {
	origin := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	c := NewIdleController(newDisguisedTree(t), origin)

	// last activity at origin, polls every 30s: every tick strictly
	// before origin+5min must stay calm
	for tick := origin.Add(idlePoll); tick.Before(origin.Add(idleLimit)); tick = tick.Add(idlePoll) {
		if c.Tick(tick) || c.Panicked() {
			t.Fatalf("panicked early at %v", tick)
		}
	}
	if !c.Tick(origin.Add(idleLimit)) {
		t.Fatal("first tick at the limit should panic")
	}
	if !c.Panicked() {
		t.Fatal("panic flag not set")
	}
	// already panicked: further ticks are no-ops
	if c.Tick(origin.Add(idleLimit + idlePoll)) {
		t.Fatal("tick reported a fresh panic while already panicked")
	}
}

func TestContinuousHiddenTriggersPanic(t *testing.T) {
	origin := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	c := NewIdleController(newDisguisedTree(t), origin)
	c.VisibilityChanged(false, origin)

	// activity keeps flowing, but the surface stays hidden
	for tick := origin.Add(idlePoll); tick.Before(origin.Add(idleLimit)); tick = tick.Add(idlePoll) {
		c.Activity(tick)
		if c.Tick(tick) {
			t.Fatalf("panicked early at %v", tick)
		}
	}
	c.Activity(origin.Add(idleLimit))
	if !c.Tick(origin.Add(idleLimit)) {
		t.Fatal("continuously hidden for the limit should panic")
	}
}

func TestVisibilityReturnResetsHiddenClock(t *testing.T) {
	origin := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	c := NewIdleController(newDisguisedTree(t), origin)
	c.VisibilityChanged(false, origin)
	c.VisibilityChanged(true, origin.Add(4*time.Minute))
	c.VisibilityChanged(false, origin.Add(4*time.Minute))

	c.Activity(origin.Add(idleLimit))
	if c.Tick(origin.Add(idleLimit)) {
		t.Fatal("hidden clock was not reset by a visible interval")
	}
}

func TestResumeDoesNotResetIdleClock(t *testing.T) {
	origin := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	tree := newDisguisedTree(t)
	c := NewIdleController(tree, origin)

	if !c.Tick(origin.Add(idleLimit)) {
		t.Fatal("expected panic")
	}
	c.Resume()
	if c.Panicked() {
		t.Fatal("resume did not clear panic")
	}
	if c.Focus() != NodeID("~disguise") {
		t.Fatalf("resume focus = %q, want the disguise node", c.Focus())
	}
	// no fresh activity: the very next poll hides it again
	if !c.Tick(origin.Add(idleLimit + idlePoll)) {
		t.Fatal("resume must not reset the idle clock")
	}
}

func TestPanicRedirectsFocusOffDisguise(t *testing.T) {
	origin := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	tree := newDisguisedTree(t)
	c := NewIdleController(tree, origin)
	c.SetFocus(NodeID("~disguise"))

	c.Hide()
	if !c.Panicked() {
		t.Fatal("manual hide did not panic")
	}
	if c.Focus() != NodeID("notes.txt") {
		t.Fatalf("focus = %q, want first non-disguise leaf", c.Focus())
	}
}

func TestPanicClearsFocusWhenNoOtherLeaf(t *testing.T) {
	origin := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	tree := NewTree("files")
	tree, err := tree.Insert(tree.Root(), Node{ID: "~disguise", Name: "index.bak", Leaf: true, Disguise: true})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	c := NewIdleController(tree, origin)
	c.SetFocus(NodeID("~disguise"))

	c.Hide()
	if c.Focus() != "" {
		t.Fatalf("focus = %q, want cleared", c.Focus())
	}
}

func TestPanicKeepsFocusOutsideDisguise(t *testing.T) {
	origin := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	c := NewIdleController(newDisguisedTree(t), origin)
	c.SetFocus(NodeID("notes.txt"))

	c.Hide()
	if c.Focus() != NodeID("notes.txt") {
		t.Fatalf("focus = %q, want untouched", c.Focus())
	}
}

func TestTickWithoutDisguiseNeverPanics(t *testing.T) {
	origin := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	tree := NewTree("files")
	c := NewIdleController(tree, origin)
	if c.Tick(origin.Add(2 * idleLimit)) {
		t.Fatal("panicked with no disguise surface present")
	}
}

package internal

import "time"

const (
	// idlePoll is how often the policy is evaluated. The controller is
	// polled, not event-driven: activity signals only stamp a time.
	idlePoll = 30 * time.Second

	// idleLimit is how long without activity, or continuously hidden,
	// before panic is entered.
	idleLimit = 5 * time.Minute
)

// IdleController watches activity and visibility and flips the local
// panic flag that gates the disguise surface. Panic only ever gates
// what is shown; synchronization is untouched underneath.
type IdleController struct {
	tree  *Tree
	focus NodeID

	lastActivity time.Time
	hiddenSince  time.Time // zero while visible
	panicked     bool
}

func NewIdleController(tree *Tree, now time.Time) *IdleController {
	controller := &IdleController{
		tree:         tree,
		lastActivity: now,
	}
	if tree != nil {
		if id, ok := tree.DisguiseNode(); ok {
			controller.focus = id
		}
	}
	return controller
}

// SetTree swaps the content hierarchy the controller redirects focus
// over (the browser rebuilds it when the directory changes).
func (c *IdleController) SetTree(tree *Tree) { c.tree = tree }

// Activity stamps the most recent user input. Any pointer, key, click,
// or scroll event counts.
func (c *IdleController) Activity(now time.Time) {
	c.lastActivity = now
}

// VisibilityChanged tracks how long the surface has been continuously
// hidden.
func (c *IdleController) VisibilityChanged(visible bool, now time.Time) {
	if visible {
		c.hiddenSince = time.Time{}
		return
	}
	if c.hiddenSince.IsZero() {
		c.hiddenSince = now
	}
}

// Tick evaluates the idle policy at the poll interval. Returns true
// when this tick entered panic.
func (c *IdleController) Tick(now time.Time) bool {
	if c.panicked || c.tree == nil {
		return false
	}
	if _, ok := c.tree.DisguiseNode(); !ok {
		return false
	}
	idle := now.Sub(c.lastActivity) >= idleLimit
	hidden := !c.hiddenSince.IsZero() && now.Sub(c.hiddenSince) >= idleLimit
	if !idle && !hidden {
		return false
	}
	c.enterPanic()
	return true
}

// Hide enters panic unconditionally: manual chord and explicit command
// both land here, independent of the idle policy.
func (c *IdleController) Hide() {
	c.enterPanic()
}

// Resume clears panic and focuses the disguise surface. It does not
// reset the idle clock: with no fresh activity, the next poll may
// legitimately hide it again.
func (c *IdleController) Resume() {
	c.panicked = false
	if c.tree != nil {
		if id, ok := c.tree.DisguiseNode(); ok {
			c.focus = id
		}
	}
}

func (c *IdleController) Panicked() bool { return c.panicked }

// Focus is the node the surface should consider selected; empty when
// focus was cleared.
func (c *IdleController) Focus() NodeID { return c.focus }

// SetFocus records the user's selection.
func (c *IdleController) SetFocus(id NodeID) { c.focus = id }

// enterPanic raises the flag and, if focus currently rests on the
// disguise surface or inside it, redirects it to the first
// non-disguise leaf in pre-order, or clears it when none exists.
func (c *IdleController) enterPanic() {
	c.panicked = true
	if c.tree == nil {
		return
	}
	disguise, ok := c.tree.DisguiseNode()
	if !ok || !c.tree.Contains(disguise, c.focus) {
		return
	}
	if leaf, ok := c.tree.FirstLeaf(func(node *Node) bool { return node.Disguise }); ok {
		c.focus = leaf
		return
	}
	c.focus = ""
}

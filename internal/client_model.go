package internal

import (
	"os"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"understory/internal/store"
)

// typingTick drives the typing debounce between keypresses.
const typingTick = 250 * time.Millisecond

// TUIModel holds the whole client: the disguise browser, the chat
// surface layered behind it, and the components that keep both fed.
type TUIModel struct {
	textInput textinput.Model

	store      store.Store
	session    *Session
	reconciler *Reconciler
	presence   *Presence
	idle       *IdleController
	rings      *RingNotifier
	tree       *Tree

	room     string
	username string

	msgSub  *store.Subscription
	presSub *store.Subscription
	ringSub *store.Subscription

	mode        appMode
	notices     []Notice
	replyTarget *Message

	browseIndex int
	expanded    map[NodeID]bool
}

type appMode int

const (
	modeBrowser appMode = iota
	modeNamePrompt
	modeChat
)

// BellAlerter rings the terminal bell on stderr so bubbletea's stdout
// rendering stays untouched.
type BellAlerter struct{}

func (BellAlerter) Alert(string) error {
	_, err := os.Stderr.WriteString("\a")
	return err
}

func NewTUIModel(st store.Store, session *Session, room, username, browsePath string) *TUIModel {
	input := textinput.New()
	input.Placeholder = ""
	input.CharLimit = 0
	input.Prompt = ""

	tree := BuildFileTree(browsePath, 3)
	tree = plantDisguise(tree)

	model := &TUIModel{
		textInput:  input,
		store:      st,
		session:    session,
		reconciler: NewReconciler(st, session),
		presence:   NewPresence(st),
		rings:      NewRingNotifier(st, BellAlerter{}),
		tree:       tree,
		room:       room,
		username:   username,
		mode:       modeBrowser,
		expanded:   map[NodeID]bool{tree.Root(): true},
	}
	model.idle = NewIdleController(tree, time.Now())
	model.idle.SetFocus(tree.Root())
	return model
}

// plantDisguise inserts the one entry that opens the chat surface. It
// poses as a stale backup file so it draws no attention in the list.
func plantDisguise(tree *Tree) *Tree {
	next, err := tree.Insert(tree.Root(), Node{
		ID:       NodeID("~disguise"),
		Name:     "index.bak",
		Leaf:     true,
		Disguise: true,
		Size:     4096,
	})
	if err != nil {
		return tree
	}
	return next
}

// Init starts the idle poll. Subscriptions begin only once the user
// unlocks the chat surface.
func (model *TUIModel) Init() tea.Cmd {
	return model.idlePollCmd()
}

package internal

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"understory/internal/store"
)

type (
	messageSnapshotMsg  store.Snapshot
	presenceSnapshotMsg store.Snapshot
	ringSnapshotMsg     store.Snapshot
	streamClosedMsg     struct{}
	idleTickMsg         time.Time
	typingTickMsg       time.Time
	sendDoneMsg         struct{ err error }
)

// idlePollCmd schedules the next idle evaluation. The poll runs for
// the lifetime of the program regardless of mode.
func (model *TUIModel) idlePollCmd() tea.Cmd {
	return tea.Tick(idlePoll, func(t time.Time) tea.Msg {
		return idleTickMsg(t)
	})
}

// typingTickCmd nudges Update often enough for the typing debounce to
// expire between keypresses.
func (model *TUIModel) typingTickCmd() tea.Cmd {
	return tea.Tick(typingTick, func(t time.Time) tea.Msg {
		return typingTickMsg(t)
	})
}

// waitSnapshot blocks on one subscription delivery and re-arms from
// Update, the same chained-read shape as a websocket read loop.
func waitSnapshot(sub *store.Subscription, wrap func(store.Snapshot) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		snapshot, ok := <-sub.C
		if !ok {
			return streamClosedMsg{}
		}
		return wrap(snapshot)
	}
}

func waitMessages(sub *store.Subscription) tea.Cmd {
	return waitSnapshot(sub, func(s store.Snapshot) tea.Msg { return messageSnapshotMsg(s) })
}

func waitPresence(sub *store.Subscription) tea.Cmd {
	return waitSnapshot(sub, func(s store.Snapshot) tea.Msg { return presenceSnapshotMsg(s) })
}

func waitRings(sub *store.Subscription) tea.Cmd {
	return waitSnapshot(sub, func(s store.Snapshot) tea.Msg { return ringSnapshotMsg(s) })
}

// attachCmds opens all three room subscriptions and starts their read
// chains. Called after login and after resume from a detached state.
func (model *TUIModel) attachCmds() (tea.Cmd, error) {
	msgSub, err := model.reconciler.Attach(model.room, model.username)
	if err != nil {
		return nil, err
	}
	presSub, err := model.presence.Attach(model.room, model.username)
	if err != nil {
		model.reconciler.Detach()
		return nil, err
	}
	ringSub, err := model.rings.Attach(model.room, model.username)
	if err != nil {
		model.reconciler.Detach()
		model.presence.Detach()
		return nil, err
	}
	model.msgSub = msgSub
	model.presSub = presSub
	model.ringSub = ringSub
	return tea.Batch(waitMessages(msgSub), waitPresence(presSub), waitRings(ringSub)), nil
}

func (model *TUIModel) detachAll() {
	model.reconciler.Detach()
	model.presence.Detach()
	model.rings.Detach()
	model.msgSub = nil
	model.presSub = nil
	model.ringSub = nil
}

func (model *TUIModel) sendCmd(body string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return sendDoneMsg{err: model.reconciler.Send(ctx, body)}
	}
}

// markSeenCmd unions self into the receipts of every currently visible
// unseen message. Fire-and-forget.
func (model *TUIModel) markSeenCmd(msgs []Message) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		model.reconciler.MarkSeen(ctx, msgs)
		return nil
	}
}

func (model *TUIModel) ringCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, notice := range model.rings.Ring(ctx) {
			return noticeMsg(notice)
		}
		return nil
	}
}

type noticeMsg Notice

// RunTUI starts the bubbletea program over an already-dialed store.
func RunTUI(st store.Store, session *Session, room, username, browsePath string) error {
	program := tea.NewProgram(NewTUIModel(st, session, room, username, browsePath), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

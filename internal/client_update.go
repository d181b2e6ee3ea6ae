package internal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"understory/internal/store"
)

const maxNotices = 5

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		now := time.Now()
		model.idle.Activity(now)

		if typedMessage.Type == tea.KeyCtrlC {
			return model, model.quitCmd()
		}
		// The chord works from every mode: hide when the chat is up,
		// unlock when it is not.
		if typedMessage.Type == tea.KeyCtrlH {
			if model.mode == modeChat && !model.idle.Panicked() {
				model.idle.Hide()
				model.hideChat()
				return model, nil
			}
			return model, model.unlockChat()
		}

		switch model.mode {
		case modeBrowser:
			return model.updateBrowser(typedMessage)
		case modeNamePrompt:
			return model.updateNamePrompt(typedMessage)
		case modeChat:
			return model.updateChat(typedMessage, now)
		}
		return model, nil

	case idleTickMsg:
		now := time.Time(typedMessage)
		ctx, cancel := opContext()
		defer cancel()
		model.presence.Tick(ctx, now)
		if model.idle.Tick(now) {
			model.hideChat()
		}
		return model, model.idlePollCmd()

	case typingTickMsg:
		ctx, cancel := opContext()
		defer cancel()
		model.presence.Tick(ctx, time.Time(typedMessage))
		if model.presence.TypingPending() {
			return model, model.typingTickCmd()
		}
		return model, nil

	case messageSnapshotMsg:
		if model.msgSub == nil {
			return model, nil
		}
		if summary := model.reconciler.Apply(store.Snapshot(typedMessage)); summary != nil && summary.Count > 0 {
			model.pushNotice(Notice{Severity: SeverityInfo, Text: fmt.Sprintf("%d unread", summary.Count)})
		}
		next := waitMessages(model.msgSub)
		if model.chatVisible() {
			return model, tea.Batch(next, model.markSeenCmd(model.reconciler.Messages()))
		}
		return model, next

	case presenceSnapshotMsg:
		if model.presSub == nil {
			return model, nil
		}
		for _, notice := range model.presence.Apply(store.Snapshot(typedMessage), time.Now()) {
			model.pushNotice(Notice{Severity: SeverityInfo, Text: fmt.Sprintf("%s is %s", notice.User, notice.Status)})
		}
		return model, waitPresence(model.presSub)

	case ringSnapshotMsg:
		if model.ringSub == nil {
			return model, nil
		}
		for _, notice := range model.rings.Observe(store.Snapshot(typedMessage), time.Now()) {
			model.pushNotice(notice)
		}
		return model, waitRings(model.ringSub)

	case streamClosedMsg:
		model.detachAll()
		model.pushNotice(Notice{Severity: SeverityError, Text: "connection lost"})
		return model, nil

	case sendDoneMsg:
		if typedMessage.err != nil {
			model.pushNotice(Notice{Severity: SeverityError, Text: sendErrorText(typedMessage.err)})
			return model, nil
		}
		model.textInput.SetValue("")
		model.replyTarget = nil
		return model, nil

	case noticeMsg:
		model.pushNotice(Notice(typedMessage))
		return model, nil
	}
	return model, nil
}

func (model *TUIModel) updateBrowser(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	rows := model.visibleRows()
	switch key.String() {
	case "up", "k":
		if model.browseIndex > 0 {
			model.browseIndex--
		}
	case "down", "j":
		if model.browseIndex < len(rows)-1 {
			model.browseIndex++
		}
	case "enter":
		if model.browseIndex >= len(rows) {
			return model, nil
		}
		node := model.tree.Node(rows[model.browseIndex])
		if node == nil {
			return model, nil
		}
		if node.Disguise {
			return model, model.unlockChat()
		}
		if !node.Leaf {
			model.expanded[node.ID] = !model.expanded[node.ID]
		}
	case "q":
		return model, model.quitCmd()
	}
	rows = model.visibleRows()
	if model.browseIndex >= len(rows) {
		model.browseIndex = 0
	}
	if model.browseIndex < len(rows) {
		model.idle.SetFocus(rows[model.browseIndex])
	}
	return model, nil
}

func (model *TUIModel) updateNamePrompt(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEnter:
		trimmed := strings.TrimSpace(model.textInput.Value())
		if trimmed == "" {
			model.pushNotice(Notice{Severity: SeverityError, Text: "name cannot be empty"})
			return model, nil
		}
		model.username = trimmed
		model.textInput.SetValue("")
		if err := model.session.Login(model.room, model.username); err != nil {
			model.pushNotice(Notice{Severity: SeverityError, Text: "login failed: " + err.Error()})
			return model, nil
		}
		return model, model.openChat()
	case tea.KeyEsc:
		model.mode = modeBrowser
		model.textInput.SetValue("")
		model.textInput.Blur()
		return model, nil
	default:
		var cmd tea.Cmd
		model.textInput, cmd = model.textInput.Update(key)
		return model, cmd
	}
}

func (model *TUIModel) updateChat(key tea.KeyMsg, now time.Time) (tea.Model, tea.Cmd) {
	if model.idle.Panicked() {
		// The surface is gated; nothing to type into.
		return model, nil
	}
	switch key.Type {
	case tea.KeyEsc:
		model.hideChat()
		return model, nil
	case tea.KeyEnter:
		trimmed := strings.TrimSpace(model.textInput.Value())
		if strings.HasPrefix(trimmed, "/") {
			model.textInput.SetValue("")
			return model.runCommand(trimmed)
		}
		body := trimmed
		if model.replyTarget != nil {
			body = ComposeReply(*model.replyTarget, trimmed)
		}
		return model, model.sendCmd(body)
	}

	wasPending := model.presence.TypingPending()
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	ctx, cancel := opContext()
	model.presence.TypingActivity(ctx, now)
	cancel()
	if !wasPending && model.presence.TypingPending() {
		return model, tea.Batch(cmd, model.typingTickCmd())
	}
	return model, cmd
}

// runCommand dispatches the slash commands available from the chat
// surface.
func (model *TUIModel) runCommand(raw string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return model, nil
	}
	switch strings.ToLower(fields[0]) {
	case "/hide":
		model.idle.Hide()
		model.hideChat()
		return model, nil
	case "/resume":
		return model, model.unlockChat()
	case "/clear":
		model.reconciler.ClearLocal(time.Now())
		model.pushNotice(Notice{Severity: SeverityInfo, Text: "transcript cleared locally"})
		return model, nil
	case "/ring":
		return model, model.ringCmd()
	case "/reply":
		if len(fields) < 2 {
			model.pushNotice(Notice{Severity: SeverityError, Text: "usage: /reply N"})
			return model, nil
		}
		index, err := strconv.Atoi(fields[1])
		msgs := model.reconciler.Messages()
		if err != nil || index < 1 || index > len(msgs) {
			model.pushNotice(Notice{Severity: SeverityError, Text: "no such message"})
			return model, nil
		}
		target := msgs[index-1]
		model.replyTarget = &target
		return model, nil
	case "/logout":
		ctx, cancel := opContext()
		model.presence.Logout(ctx)
		cancel()
		bestEffort("logout", model.session.Logout())
		model.detachAll()
		model.mode = modeBrowser
		model.textInput.Blur()
		model.pushNotice(Notice{Severity: SeverityInfo, Text: "logged out"})
		return model, nil
	case "/quit":
		return model, model.quitCmd()
	default:
		model.pushNotice(Notice{Severity: SeverityError, Text: "unknown command " + fields[0]})
		return model, nil
	}
}

// unlockChat brings the chat surface up: clears any panic state,
// prompts for a name when no session exists, and attaches the room
// subscriptions on first entry.
func (model *TUIModel) unlockChat() tea.Cmd {
	model.idle.Resume()
	if !model.session.LoggedIn() {
		model.mode = modeNamePrompt
		model.textInput.Placeholder = "display name"
		model.textInput.Prompt = "name> "
		return model.textInput.Focus()
	}
	model.username = model.session.User
	return model.openChat()
}

func (model *TUIModel) openChat() tea.Cmd {
	model.mode = modeChat
	model.textInput.Placeholder = "message"
	model.textInput.Prompt = "> "
	focusCmd := model.textInput.Focus()

	ctx, cancel := opContext()
	model.presence.Login(ctx)
	model.presence.VisibilityChanged(ctx, true)
	cancel()
	model.idle.VisibilityChanged(true, time.Now())

	if model.msgSub != nil {
		return focusCmd
	}
	subCmds, err := model.attachCmds()
	if err != nil {
		model.pushNotice(Notice{Severity: SeverityError, Text: "subscribe failed: " + err.Error()})
		return focusCmd
	}
	return tea.Batch(focusCmd, subCmds)
}

// hideChat drops back to the browser. Subscriptions stay attached, so
// reconciliation and receipts keep flowing underneath.
func (model *TUIModel) hideChat() {
	model.mode = modeBrowser
	model.textInput.Blur()
	ctx, cancel := opContext()
	model.presence.VisibilityChanged(ctx, false)
	cancel()
	model.idle.VisibilityChanged(false, time.Now())
	for i, id := range model.visibleRows() {
		if id == model.idle.Focus() {
			model.browseIndex = i
			break
		}
	}
}

func (model *TUIModel) quitCmd() tea.Cmd {
	model.presence.Unload()
	return tea.Quit
}

// chatVisible reports whether receipts may be written: the transcript
// must be the active, shown, non-panicked surface.
func (model *TUIModel) chatVisible() bool {
	return model.mode == modeChat && !model.idle.Panicked()
}

func (model *TUIModel) pushNotice(notice Notice) {
	model.notices = append(model.notices, notice)
	if len(model.notices) > maxNotices {
		model.notices = model.notices[len(model.notices)-maxNotices:]
	}
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}

func sendErrorText(err error) string {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return "message is empty"
	case errors.Is(err, ErrNotLoggedIn):
		return "not logged in"
	default:
		return "send failed: " + err.Error()
	}
}

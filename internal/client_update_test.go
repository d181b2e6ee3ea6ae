package internal

import (
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"understory/internal/store"
)

// newChatModel builds a TUI model over a seeded browse directory and
// brings the chat surface up.
func newChatModel(t *testing.T) *TUIModel {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("notes"), 0o644); err != nil {
		t.Fatalf("seed browse dir: %v", err)
	}
	model := NewTUIModel(store.NewMemory(), newTestSession(t), "den", "alice", dir)
	if cmd := model.unlockChat(); cmd == nil {
		t.Fatal("unlockChat returned no command")
	}
	if model.mode != modeChat {
		t.Fatalf("mode = %d, want chat", model.mode)
	}
	return model
}

func TestChordHideMatchesHideCommand(t *testing.T) {
	chord := newChatModel(t)
	command := newChatModel(t)

	// The user last browsed with the disguise entry selected; both hide
	// paths must redirect focus off it.
	chord.idle.SetFocus(NodeID("~disguise"))
	command.idle.SetFocus(NodeID("~disguise"))

	updated, _ := chord.Update(tea.KeyMsg{Type: tea.KeyCtrlH})
	chord = updated.(*TUIModel)
	command.runCommand("/hide")

	if !chord.idle.Panicked() {
		t.Error("chord hide: panicked = false, want true")
	}
	if !command.idle.Panicked() {
		t.Error("/hide: panicked = false, want true")
	}
	if chord.mode != modeBrowser {
		t.Errorf("chord hide: mode = %d, want browser", chord.mode)
	}
	if command.mode != modeBrowser {
		t.Errorf("/hide: mode = %d, want browser", command.mode)
	}
	if chord.idle.Focus() == NodeID("~disguise") {
		t.Error("chord hide: focus still on the disguise entry")
	}
	if chord.idle.Focus() != command.idle.Focus() {
		t.Errorf("focus after chord = %q, after /hide = %q", chord.idle.Focus(), command.idle.Focus())
	}
}

func TestCommandVerbIsCaseInsensitive(t *testing.T) {
	model := newChatModel(t)
	model.runCommand("/HIDE")
	if !model.idle.Panicked() {
		t.Error("/HIDE did not hide")
	}
}

func TestUnknownCommandEchoesTypedForm(t *testing.T) {
	model := newChatModel(t)
	model.runCommand("/Frobnicate")
	last := model.notices[len(model.notices)-1]
	if last.Severity != SeverityError || last.Text != "unknown command /Frobnicate" {
		t.Errorf("notice = %+v, want unknown-command error echoing /Frobnicate", last)
	}
}

package app

import (
	"errors"
	"fmt"
	"os"

	intrnl "understory/internal"
	"understory/internal/store"
)

// RunClient dials the remote store and launches the Bubble Tea TUI.
func RunClient(cfg ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	session := intrnl.LoadSession(dataDir)

	room := cfg.Room
	if room == "" {
		room = session.Room
	}
	if room == "" {
		room = "lobby"
	}
	username := cfg.Username
	if username == "" {
		username = session.User
	}

	browsePath := cfg.BrowsePath
	if browsePath == "" {
		browsePath = intrnl.DefaultBrowsePath()
	}

	remote, err := store.DialRemote(cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("dial store: %w", err)
	}
	defer remote.Close()

	return intrnl.RunTUI(remote, session, room, username, browsePath)
}

package app

import (
	"os"
	"path/filepath"
	"runtime"
)

// ServerConfig defines how the store backend should run.
type ServerConfig struct {
	Addr   string
	Path   string
	DBPath string
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL  string
	Room       string
	Username   string
	DataDir    string
	BrowsePath string
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("UNDERSTORY_DB_PATH"); env != "" {
		return env
	}
	return filepath.Join(DefaultDataDir(), "understory.db")
}

// DefaultDataDir returns where the session and watermark files live.
func DefaultDataDir() string {
	if env := os.Getenv("UNDERSTORY_DATA_DIR"); env != "" {
		return env
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "understory")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Understory")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Understory")
		}
		return filepath.Join(home, ".local", "share", "understory")
	}
	return filepath.Join(".", ".understory")
}

// NormalizeStorePath guarantees the websocket path starts with '/' and
// falls back to /store when empty.
func NormalizeStorePath(path string) string {
	if path == "" {
		return "/store"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}

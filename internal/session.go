package internal

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// Session holds the local identity and the per-(room,user) hide-before
// watermarks. Both persist as JSON under the data directory so a
// restart rejoins the same room with the same suppression in place.
// The watermark only ever moves forward.
type Session struct {
	Room string
	User string

	dataDir    string
	watermarks map[string]time.Time
}

type sessionFile struct {
	Room string `json:"room"`
	User string `json:"user"`
}

// LoadSession restores identity and watermarks from dataDir. A missing
// or unreadable session file yields a logged-out session, not an error.
func LoadSession(dataDir string) *Session {
	session := &Session{
		dataDir:    dataDir,
		watermarks: make(map[string]time.Time),
	}
	if data, err := os.ReadFile(filepath.Join(dataDir, "session.json")); err == nil {
		var file sessionFile
		if err := json.Unmarshal(data, &file); err == nil {
			session.Room = file.Room
			session.User = file.User
		}
	}
	if data, err := os.ReadFile(filepath.Join(dataDir, "watermarks.json")); err == nil {
		var marks map[string]int64
		if err := json.Unmarshal(data, &marks); err == nil {
			for key, ms := range marks {
				session.watermarks[key] = time.UnixMilli(ms)
			}
		}
	}
	return session
}

// LoggedIn reports whether an identity is set.
func (s *Session) LoggedIn() bool {
	return s != nil && s.Room != "" && s.User != ""
}

// Login records the identity and persists it for auto-rejoin.
func (s *Session) Login(room, user string) error {
	s.Room = room
	s.User = user
	return writeJSONFile(filepath.Join(s.dataDir, "session.json"), sessionFile{Room: room, User: user})
}

// Logout clears the identity. Watermarks are kept: they are scoped per
// (room,user) and apply again if the same identity returns.
func (s *Session) Logout() error {
	s.Room = ""
	s.User = ""
	path := filepath.Join(s.dataDir, "session.json")
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Watermark returns the hide-before time for (room,user); zero when
// none is set.
func (s *Session) Watermark(room, user string) time.Time {
	return s.watermarks[room+"/"+user]
}

// SetWatermark advances the watermark for (room,user). Attempts to move
// it backwards are ignored.
func (s *Session) SetWatermark(room, user string, mark time.Time) {
	key := room + "/" + user
	if existing, ok := s.watermarks[key]; ok && !mark.After(existing) {
		return
	}
	s.watermarks[key] = mark

	marks := make(map[string]int64, len(s.watermarks))
	for k, t := range s.watermarks {
		marks[k] = t.UnixMilli()
	}
	bestEffort("session: save watermarks", writeJSONFile(filepath.Join(s.dataDir, "watermarks.json"), marks))
}

// writeJSONFile writes atomically via a temp file and rename.
func writeJSONFile(path string, payload any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

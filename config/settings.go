package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server   ServerSettings   `json:"server"`
	Webhook  WebhookSettings  `json:"webhook"`
	Jellyfin JellyfinSettings `json:"jellyfin"`
	AniList  AniListSettings  `json:"anilist"`
	Database DatabaseSettings `json:"database"`
	Log      LogConfig        `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// WebhookSettings controls authentication of inbound webhook calls.
type WebhookSettings struct {
	// APIKey must be passed by the media server as the X-Api-Key header or
	// apikey query parameter. Generated on first start when empty.
	APIKey string `json:"apiKey"`
}

// JellyfinSettings defines how to reach the media server's metadata API.
type JellyfinSettings struct {
	// URL is the fallback base URL used when the webhook payload carries no
	// server URL of its own.
	URL    string `json:"url"`
	APIKey string `json:"apiKey"`
}

// UserToken maps a media-server username to an AniList access token.
type UserToken struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// AniListSettings defines AniList integration configuration.
type AniListSettings struct {
	// Token is the shared fallback token used for usernames without an entry
	// in UserTokens.
	Token      string      `json:"token,omitempty"`
	UserTokens []UserToken `json:"userTokens,omitempty"`

	// AutoAdd allows creating a new list entry when a first episode finishes
	// for a show not yet on the user's list.
	AutoAdd bool `json:"autoAdd"`
}

// TokenFor resolves the AniList token for a media-server username. The
// per-user table wins; the shared token is the fallback. The second return is
// false when neither exists.
func (a *AniListSettings) TokenFor(username string) (string, bool) {
	for _, ut := range a.UserTokens {
		if strings.EqualFold(ut.Username, username) && ut.Token != "" {
			return ut.Token, true
		}
	}
	if a.Token != "" {
		return a.Token, true
	}
	return "", false
}

// DatabaseSettings defines where the scrobble history database lives.
type DatabaseSettings struct {
	Path string `json:"path"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// DefaultSettings returns sane defaults for a fresh install.
func DefaultSettings() Settings {
	return Settings{
		Server:   ServerSettings{Host: "0.0.0.0", Port: 8777},
		Webhook:  WebhookSettings{APIKey: ""},
		Jellyfin: JellyfinSettings{URL: "", APIKey: ""},
		AniList:  AniListSettings{AutoAdd: false},
		Database: DatabaseSettings{Path: "cache/history.db"},
		Log: LogConfig{
			File:       "cache/logs/anibridge.log",
			Level:      "info",
			MaxSize:    20,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
	}
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// EnsureDir ensures parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads settings from disk or creates defaults if missing.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	var s Settings
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return Settings{}, err
	}

	// Backfill defaults for configs that predate newer settings
	if strings.TrimSpace(s.Server.Host) == "" {
		s.Server.Host = "0.0.0.0"
	}
	if s.Server.Port == 0 {
		s.Server.Port = 8777
	}
	if strings.TrimSpace(s.Database.Path) == "" {
		s.Database.Path = "cache/history.db"
	}
	if strings.TrimSpace(s.Log.File) == "" {
		s.Log.File = "cache/logs/anibridge.log"
	}
	if s.Log.MaxSize == 0 {
		s.Log.MaxSize = 20
	}
	if s.Log.MaxBackups == 0 {
		s.Log.MaxBackups = 3
	}
	if s.Log.MaxAge == 0 {
		s.Log.MaxAge = 7
	}

	return s, nil
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}

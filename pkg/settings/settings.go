package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

// DefaultSignalURL is the public relay used when nothing else is configured
const DefaultSignalURL = "wss://gopeep.tineestudio.se"

// ICE holds NAT traversal settings
type ICE struct {
	STUNServers []string `toml:"stun_servers"`
	TURNServer  string   `toml:"turn_server"`
	TURNUser    string   `toml:"turn_user"`
	TURNPass    string   `toml:"turn_pass"`
	ForceRelay  bool     `toml:"force_relay"`
}

// Settings holds persistable viewer preferences
type Settings struct {
	SignalURL string `toml:"signal_url"`
	Room      string `toml:"room"`
	Password  string `toml:"password"`
	AutoLoad  bool   `toml:"auto_load"`
	// RetryTime of 0 means the session default, negative disables reconnects
	RetryTime int    `toml:"retry_time"`
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	ICE       ICE    `toml:"ice"`
}

// DefaultSettings returns the default settings
func DefaultSettings() Settings {
	return Settings{
		SignalURL: DefaultSignalURL,
		AutoLoad:  true,
		LogLevel:  "info",
	}
}

// DefaultPath returns the config file path.
// Uses XDG_CONFIG_HOME if set, otherwise the platform user config dir.
func DefaultPath() (string, error) {
	var configDir string

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "peepview")
	} else {
		userConfigDir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("failed to locate config dir: %w", err)
		}
		configDir = filepath.Join(userConfigDir, "peepview")
	}

	return filepath.Join(configDir, "config.toml"), nil
}

// Load reads settings from path. A missing file yields the defaults. A file
// that cannot be parsed also yields the defaults, together with the error.
func Load(path string) (Settings, error) {
	settings := DefaultSettings()

	if _, err := toml.DecodeFile(path, &settings); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultSettings(), nil
		}
		return DefaultSettings(), fmt.Errorf("load settings %s: %w", path, err)
	}

	settings.Room = strings.TrimSpace(settings.Room)
	settings.SignalURL = strings.TrimSpace(settings.SignalURL)
	settings.ICE.STUNServers = normalizeServers(settings.ICE.STUNServers)

	return settings, nil
}

// Save writes settings to path, creating its directory
func Save(path string, settings Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(settings); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	// 0600 since the file may hold room and TURN passwords
	return os.WriteFile(path, buf.Bytes(), 0600)
}

// Validate reports settings that cannot work
func (s Settings) Validate() error {
	if s.LogLevel != "" {
		if _, err := logrus.ParseLevel(s.LogLevel); err != nil {
			return fmt.Errorf("invalid log_level %q", s.LogLevel)
		}
	}
	if s.ICE.TURNUser != "" && s.ICE.TURNServer == "" {
		return errors.New("turn_user is set but turn_server is empty")
	}
	if s.ICE.ForceRelay && s.ICE.TURNServer == "" {
		return errors.New("force_relay requires turn_server")
	}
	return nil
}

func normalizeServers(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, server := range in {
		v := strings.TrimSpace(server)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

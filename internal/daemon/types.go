package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/steveyegge/netlaunch/internal/trigger"
	"github.com/steveyegge/netlaunch/internal/util"
)

// Config locates the daemon's files.
type Config struct {
	// Home is the netlaunch home directory.
	Home string

	// ConfigPath is the listener config file.
	ConfigPath string

	// LogFile is where the daemon writes its log.
	LogFile string

	// PidFile holds the PID of the running daemon.
	PidFile string

	// Foreground also copies the log to stderr.
	Foreground bool
}

// DefaultConfig returns the file layout under home.
func DefaultConfig(home, configPath string) *Config {
	return &Config{
		Home:       home,
		ConfigPath: configPath,
		LogFile:    filepath.Join(home, "daemon", "netlaunch.log"),
		PidFile:    pidFile(home),
	}
}

func pidFile(home string) string {
	return filepath.Join(home, "daemon", "netlaunch.pid")
}

func lockFile(home string) string {
	return filepath.Join(home, "daemon", "netlaunch.lock")
}

// StateFile returns the path of the daemon state file.
func StateFile(home string) string {
	return filepath.Join(home, "daemon", "state.json")
}

// State is the daemon's last published snapshot, read by `netlaunch daemon
// status` and `netlaunch listeners`.
type State struct {
	Running    bool                     `json:"running"`
	PID        int                      `json:"pid"`
	Version    string                   `json:"version,omitempty"`
	StartedAt  time.Time                `json:"started_at"`
	UpdatedAt  time.Time                `json:"updated_at"`
	ConfigPath string                   `json:"config_path,omitempty"`
	Reloads    int                      `json:"reloads"`
	Telemetry  bool                     `json:"telemetry"`
	Targets    int                      `json:"targets"`
	Listeners  []trigger.ListenerStatus `json:"listeners"`
}

// LoadState reads the state file. A missing file yields an empty state.
func LoadState(home string) (*State, error) {
	data, err := os.ReadFile(StateFile(home))
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	return &state, nil
}

// SaveState writes the state file atomically.
func SaveState(home string, state *State) error {
	if err := os.MkdirAll(filepath.Dir(StateFile(home)), 0755); err != nil {
		return fmt.Errorf("creating daemon directory: %w", err)
	}
	return util.AtomicWriteJSON(StateFile(home), state)
}

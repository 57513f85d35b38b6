// Package config defines the netlaunch configuration file: the listener
// table, the test sender defaults and daemon tuning knobs.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ConfigVersion is the current supported config schema version.
const ConfigVersion = 1

// DefaultFileName is the config file name inside the netlaunch home.
const DefaultFileName = "netlaunch.toml"

// EnvHome overrides the netlaunch home directory.
const EnvHome = "NETLAUNCH_HOME"

// Protocol is the transport a listener uses.
type Protocol string

const (
	ProtocolUDP Protocol = "udp"
	ProtocolTCP Protocol = "tcp"
)

// Valid reports whether p is a supported transport.
func (p Protocol) Valid() bool {
	return p == ProtocolUDP || p == ProtocolTCP
}

// Defaults for [daemon] values left unset in the file.
const (
	DefaultWindowPollInterval = 100 * time.Millisecond
	DefaultReadTimeout        = 5 * time.Second
	DefaultBindBackoffInitial = 1 * time.Second
	DefaultBindBackoffMax     = 1 * time.Minute
	DefaultBindAddress        = "0.0.0.0"
)

// Config is the whole netlaunch config file.
type Config struct {
	Version   int              `toml:"version" yaml:"version"`
	Daemon    DaemonConfig     `toml:"daemon" yaml:"daemon"`
	Listeners []ListenerConfig `toml:"listener" yaml:"listeners"`
	Sender    SenderConfig     `toml:"sender" yaml:"sender"`
}

// DaemonConfig tunes the supervisor and process controller.
type DaemonConfig struct {
	// WindowPollInterval is how often a launched process is checked for a window.
	WindowPollInterval time.Duration `toml:"window_poll_interval" yaml:"window_poll_interval"`

	// ReadTimeout bounds the single read on an accepted TCP connection.
	ReadTimeout time.Duration `toml:"read_timeout" yaml:"read_timeout"`

	// BindBackoffInitial is the first delay after a failed bind.
	BindBackoffInitial time.Duration `toml:"bind_backoff_initial" yaml:"bind_backoff_initial"`

	// BindBackoffMax caps the delay between bind attempts.
	BindBackoffMax time.Duration `toml:"bind_backoff_max" yaml:"bind_backoff_max"`

	// Watch reloads the config file when it changes on disk.
	Watch bool `toml:"watch" yaml:"watch"`
}

// ListenerConfig is one configured trigger.
type ListenerConfig struct {
	Name       string   `toml:"name" yaml:"name"`
	Trigger    string   `toml:"trigger" yaml:"trigger"`
	KillSuffix bool     `toml:"kill_suffix" yaml:"kill_suffix"`
	Protocol   Protocol `toml:"protocol" yaml:"protocol"`
	Address    string   `toml:"address" yaml:"address"`
	Port       int      `toml:"port" yaml:"port"`
	Target     string   `toml:"target" yaml:"target"`
	Args       []string `toml:"args,omitempty" yaml:"args,omitempty"`
	Disabled   bool     `toml:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// SenderConfig holds the defaults for `netlaunch send`.
type SenderConfig struct {
	Message  string   `toml:"message" yaml:"message"`
	Protocol Protocol `toml:"protocol" yaml:"protocol"`
	IP       string   `toml:"ip" yaml:"ip"`
	Port     int      `toml:"port" yaml:"port"`
}

// ID returns the listener identity used by the supervisor.
func (l ListenerConfig) ID() string {
	if l.Name != "" {
		return l.Name
	}
	return fmt.Sprintf("%s-%d", l.Protocol, l.Port)
}

// Endpoint returns the host:port the listener binds.
func (l ListenerConfig) Endpoint() string {
	addr := l.Address
	if addr == "" {
		addr = DefaultBindAddress
	}
	return net.JoinHostPort(addr, strconv.Itoa(l.Port))
}

// ShouldListen reports whether a session should be kept running.
func (l ListenerConfig) ShouldListen() bool {
	return !l.Disabled
}

// NeedsRestart reports whether moving from old to updated invalidates a
// running session. Trigger, kill suffix and target changes only affect future
// dispatch decisions.
func NeedsRestart(old, updated ListenerConfig) bool {
	return old.Protocol != updated.Protocol ||
		old.Endpoint() != updated.Endpoint()
}

// Default returns the config written on first start.
func Default() *Config {
	cfg := &Config{
		Version: ConfigVersion,
		Listeners: []ListenerConfig{
			{
				Name:       "example",
				Trigger:    "go",
				KillSuffix: true,
				Protocol:   ProtocolUDP,
				Address:    DefaultBindAddress,
				Port:       9001,
				Target:     "",
				Disabled:   true,
			},
		},
		Sender: SenderConfig{
			Message:  "go",
			Protocol: ProtocolUDP,
			IP:       "127.0.0.1",
			Port:     9001,
		},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills unset values. It never overrides explicit settings.
func (c *Config) applyDefaults() {
	if c.Daemon.WindowPollInterval <= 0 {
		c.Daemon.WindowPollInterval = DefaultWindowPollInterval
	}
	if c.Daemon.ReadTimeout <= 0 {
		c.Daemon.ReadTimeout = DefaultReadTimeout
	}
	if c.Daemon.BindBackoffInitial <= 0 {
		c.Daemon.BindBackoffInitial = DefaultBindBackoffInitial
	}
	if c.Daemon.BindBackoffMax <= 0 {
		c.Daemon.BindBackoffMax = DefaultBindBackoffMax
	}
	if c.Daemon.BindBackoffMax < c.Daemon.BindBackoffInitial {
		c.Daemon.BindBackoffMax = c.Daemon.BindBackoffInitial
	}
	for i := range c.Listeners {
		l := &c.Listeners[i]
		l.Protocol = Protocol(strings.ToLower(string(l.Protocol)))
		if l.Address == "" {
			l.Address = DefaultBindAddress
		}
	}
	c.Sender.Protocol = Protocol(strings.ToLower(string(c.Sender.Protocol)))
	if c.Sender.Protocol == "" {
		c.Sender.Protocol = ProtocolUDP
	}
}

// Listener returns the listener with the given ID.
func (c *Config) Listener(id string) (ListenerConfig, bool) {
	for _, l := range c.Listeners {
		if l.ID() == id {
			return l, true
		}
	}
	return ListenerConfig{}, false
}

// HomeDir returns the netlaunch home directory ($NETLAUNCH_HOME or ~/.netlaunch).
func HomeDir() string {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".netlaunch"
	}
	return filepath.Join(home, ".netlaunch")
}

// DefaultPath returns the config file path inside HomeDir.
func DefaultPath() string {
	return filepath.Join(HomeDir(), DefaultFileName)
}

package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/netlaunch/internal/util"
)

// Format is a config file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatFor picks the encoding from the file extension. Anything that is not
// .yaml or .yml is TOML.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Digest identifies the exact bytes of a config file.
type Digest [sha256.Size]byte

// FileDigest returns the digest of the file at path. A missing file yields
// the zero Digest and no error.
func FileDigest(path string) (Digest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Digest{}, nil
		}
		return Digest{}, fmt.Errorf("reading config: %w", err)
	}
	return sha256.Sum256(data), nil
}

// Load reads, decodes and validates the config at path.
// A missing file is reported with an error wrapping os.ErrNotExist.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadDigest(path)
	return cfg, err
}

// LoadDigest is Load that also returns the digest of the bytes it parsed, so
// callers can later tell whether the file was edited since.
func LoadDigest(path string) (*Config, Digest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Digest{}, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := Decode(data, FormatFor(path))
	if err != nil {
		return nil, Digest{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, sha256.Sum256(data), nil
}

// LoadOrInit loads the config at path, writing Default() there first if the
// file does not exist yet. The bool reports whether the file was created.
func LoadOrInit(path string) (*Config, Digest, bool, error) {
	cfg, sum, err := LoadDigest(path)
	if err == nil {
		return cfg, sum, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, Digest{}, false, err
	}

	cfg = Default()
	sum, err = SaveDigest(path, cfg)
	if err != nil {
		return nil, Digest{}, false, err
	}
	return cfg, sum, true, nil
}

// Decode parses data in the given format, applies defaults and validates.
func Decode(data []byte, format Format) (*Config, error) {
	var cfg Config
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	default:
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Encode renders cfg in the given format.
func Encode(cfg *Config, format Format) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
	default:
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Save writes cfg to path atomically, in the format chosen by its extension.
func Save(path string, cfg *Config) error {
	_, err := SaveDigest(path, cfg)
	return err
}

// SaveDigest is Save that also returns the digest of the written bytes.
func SaveDigest(path string, cfg *Config) (Digest, error) {
	data, err := Encode(cfg, FormatFor(path))
	if err != nil {
		return Digest{}, fmt.Errorf("encoding config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return Digest{}, fmt.Errorf("writing config: %w", err)
	}
	return sha256.Sum256(data), nil
}

// Validate checks the version, each listener and endpoint uniqueness.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return fmt.Errorf("config version missing (expected %d)", ConfigVersion)
	}
	if c.Version != ConfigVersion {
		return fmt.Errorf("unsupported config version %d (expected %d)", c.Version, ConfigVersion)
	}

	names := make(map[string]int, len(c.Listeners))
	for i, l := range c.Listeners {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("listener %d (%s): %w", i+1, l.ID(), err)
		}
		if prev, ok := names[l.ID()]; ok {
			return fmt.Errorf("listener %d: name %q already used by listener %d", i+1, l.ID(), prev)
		}
		names[l.ID()] = i + 1

		for j := 0; j < i; j++ {
			if endpointsConflict(c.Listeners[j], l) {
				return fmt.Errorf("listener %d (%s): %s %s conflicts with listener %d (%s)",
					i+1, l.ID(), l.Protocol, l.Endpoint(), j+1, c.Listeners[j].ID())
			}
		}
	}

	if c.Sender.Protocol != "" && !c.Sender.Protocol.Valid() {
		return fmt.Errorf("sender: unknown protocol %q", c.Sender.Protocol)
	}
	return nil
}

// Validate checks a single listener.
func (l ListenerConfig) Validate() error {
	if !l.Protocol.Valid() {
		return fmt.Errorf("unknown protocol %q (expected udp or tcp)", l.Protocol)
	}
	if l.Port < 1 || l.Port > 65535 {
		return fmt.Errorf("port %d out of range", l.Port)
	}
	if l.Trigger == "" {
		return fmt.Errorf("trigger message is empty")
	}
	if l.Address != "" && net.ParseIP(l.Address) == nil {
		return fmt.Errorf("address %q is not an IP address", l.Address)
	}
	if l.ShouldListen() && l.Target == "" {
		return fmt.Errorf("target path is empty")
	}
	return nil
}

// endpointsConflict reports whether two enabled listeners would fight over the
// same port. A wildcard address conflicts with every address on that port.
func endpointsConflict(a, b ListenerConfig) bool {
	if !a.ShouldListen() || !b.ShouldListen() {
		return false
	}
	if a.Protocol != b.Protocol || a.Port != b.Port {
		return false
	}
	return a.Address == b.Address || isWildcard(a.Address) || isWildcard(b.Address)
}

func isWildcard(addr string) bool {
	ip := net.ParseIP(addr)
	return addr == "" || (ip != nil && ip.IsUnspecified())
}

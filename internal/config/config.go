// Package config loads turnd's TOML configuration file.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// DefaultDefaultLifetime is the allocation lifetime applied when a config
// file doesn't set default_lifetime.
const DefaultDefaultLifetime = 600 * time.Second

// DefaultNonceTTL is the nonce rotation period applied when a config file
// doesn't set nonce_ttl.
const DefaultNonceTTL = time.Hour

// DefaultWorkers is the worker-thread count applied when a config file
// doesn't set workers.
const DefaultWorkers = 1

// Config is turnd's top-level configuration, loaded from a TOML file.
type Config struct {
	// Realm is the STUN/TURN realm advertised in REALM attributes and used
	// to derive the long-term credential key.
	Realm string `toml:"realm"`

	// Interfaces lists the sockets turnd binds, one transport loop per
	// entry.
	Interfaces []InterfaceConfig `toml:"interfaces"`

	// Workers is the number of goroutines reading each UDP interface. Values
	// above 1 require SO_REUSEPORT support and are only meaningful for UDP
	// entries.
	Workers int `toml:"workers"`

	// DefaultLifetime is the allocation lifetime granted on Allocate, and on
	// Refresh when the request carries no LIFETIME attribute.
	DefaultLifetime duration `toml:"default_lifetime"`

	// NonceTTL is how long a nonce stays valid before the router rotates it.
	NonceTTL duration `toml:"nonce_ttl"`

	// Auth configures the credential backend.
	Auth AuthConfig `toml:"auth"`
}

// InterfaceConfig describes one socket turnd should bind.
type InterfaceConfig struct {
	// Transport is "udp" or "tcp".
	Transport string `toml:"transport"`

	// Bind is the local address to listen on, e.g. "0.0.0.0:3478".
	Bind string `toml:"bind"`

	// External is the address clients should be told this interface is
	// reachable at, e.g. "203.0.113.10:3478". Used for RESPONSE-ORIGIN and
	// XOR-RELAYED-ADDRESS.
	External string `toml:"external"`
}

// AuthConfig selects and configures the credential backend.
type AuthConfig struct {
	// SharedSecret, when set, wires a REST-API credential backend
	// (internal/restauth) instead of the in-memory password map.
	SharedSecret string `toml:"shared_secret,omitempty"`

	// Users is a static username→password map served by the in-memory
	// backend when SharedSecret is unset.
	Users map[string]string `toml:"users,omitempty"`
}

// duration lets the config file write lifetimes as TOML duration strings
// ("600s", "1h") while Config exposes them as time.Duration.
type duration time.Duration

func (d duration) Duration() time.Duration { return time.Duration(d) }

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", string(text), err)
	}
	*d = duration(parsed)
	return nil
}

// Load reads and validates a turnd configuration file at path, applying
// defaults for any zero-valued optional field.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.DefaultLifetime.Duration() <= 0 {
		cfg.DefaultLifetime = duration(DefaultDefaultLifetime)
	}
	if cfg.NonceTTL.Duration() <= 0 {
		cfg.NonceTTL = duration(DefaultNonceTTL)
	}
}

func validate(cfg *Config) error {
	if cfg.Realm == "" {
		return errors.New("realm must not be empty")
	}
	if len(cfg.Interfaces) == 0 {
		return errors.New("at least one interface must be configured")
	}
	for i, iface := range cfg.Interfaces {
		switch iface.Transport {
		case "udp", "tcp":
		default:
			return errors.Errorf("interfaces[%d]: transport must be \"udp\" or \"tcp\", got %q", i, iface.Transport)
		}
		if iface.Bind == "" {
			return errors.Errorf("interfaces[%d]: bind must not be empty", i)
		}
		if iface.External == "" {
			return errors.Errorf("interfaces[%d]: external must not be empty", i)
		}
	}
	return nil
}

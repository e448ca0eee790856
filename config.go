package snmp3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the configuration of a notification receiving engine.
type Config struct {
	Listen        string          `yaml:"listen"`
	MetricsListen string          `yaml:"metricsListen"`
	EngineID      EngineIDConfig  `yaml:"engineID"`
	RateLimit     RateLimitConfig `yaml:"rateLimit"`
	Users         []UserConfig    `yaml:"users"`
}

// EngineIDConfig describes the local engine ID. Format "random" generates an
// octet formatted ID; "hex" takes Data as the complete binary ID in hex.
type EngineIDConfig struct {
	Enterprise uint32 `yaml:"enterprise"`
	Format     string `yaml:"format"`
	Data       string `yaml:"data"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"perSecond"`
	Burst     int     `yaml:"burst"`
}

type UserConfig struct {
	Name         string `yaml:"name"`
	EngineID     string `yaml:"engineID"`
	AuthProtocol string `yaml:"authProtocol"`
	AuthPassword string `yaml:"authPassword"`
	PrivProtocol string `yaml:"privProtocol"`
	PrivPassword string `yaml:"privPassword"`
}

const (
	defaultListen        = ":162"
	defaultMetricsListen = ":9162"
)

// LoadConfig reads a YAML configuration file and applies the environment
// overrides.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.ApplyEnvOverrides()
	return c, nil
}

func ParseConfig(data []byte) (*Config, error) {
	c := &Config{
		Listen:        defaultListen,
		MetricsListen: defaultMetricsListen,
		EngineID:      EngineIDConfig{Format: "random"},
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// ApplyEnvOverrides lets SNMP3_LISTEN and SNMP3_METRICS_LISTEN replace the
// listen addresses.
func (c *Config) ApplyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("SNMP3_LISTEN")); v != "" {
		c.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("SNMP3_METRICS_LISTEN")); v != "" {
		c.MetricsListen = v
	}
}

func (c *Config) LocalEngineID() (EngineID, error) {
	e := c.EngineID
	switch strings.ToLower(strings.TrimSpace(e.Format)) {
	case "", "random":
		return NewRandomEngineID(e.Enterprise)
	case "hex":
		return ParseEngineIDHex(e.Data)
	}
	f, err := ParseEngineIDFormat(e.Format)
	if err != nil {
		return EngineID{}, err
	}
	return NewFormattedEngineID(e.Enterprise, f, e.Data)
}

// UserTable validates the users against r and the password policy and
// returns them as a MemoryUserTable.
func (c *Config) UserTable(r *Registry) (*MemoryUserTable, error) {
	t := NewMemoryUserTable()
	for i, u := range c.Users {
		entry, err := u.entry(r)
		if err != nil {
			return nil, fmt.Errorf("users[%d] %q: %w", i, u.Name, err)
		}
		if err := t.AddUser(entry); err != nil {
			return nil, fmt.Errorf("users[%d] %q: %w", i, u.Name, err)
		}
	}
	return t, nil
}

func (u UserConfig) entry(r *Registry) (USMUserEntry, error) {
	if u.Name == "" {
		return USMUserEntry{}, fmt.Errorf("missing name")
	}
	var id EngineID
	if u.EngineID != "" {
		var err error
		if id, err = ParseEngineIDHex(u.EngineID); err != nil {
			return USMUserEntry{}, err
		}
	}
	auth, err := r.AuthProtocol(u.AuthProtocol)
	if err != nil {
		return USMUserEntry{}, err
	}
	priv, err := r.Privacy(u.PrivProtocol)
	if err != nil {
		return USMUserEntry{}, err
	}
	if auth != AuthProtocolNone {
		if err := checkPassword(u.AuthPassword); err != nil {
			return USMUserEntry{}, fmt.Errorf("authPassword: %w", err)
		}
	}
	if priv != nil {
		if auth == AuthProtocolNone {
			return USMUserEntry{}, fmt.Errorf("privProtocol %s requires an authProtocol", priv.Name())
		}
		if err := checkPassword(u.PrivPassword); err != nil {
			return USMUserEntry{}, fmt.Errorf("privPassword: %w", err)
		}
	}
	return USMUserEntry{
		Name:         u.Name,
		EngineID:     id,
		AuthProtocol: u.AuthProtocol,
		AuthPassword: u.AuthPassword,
		PrivProtocol: u.PrivProtocol,
		PrivPassword: u.PrivPassword,
	}, nil
}

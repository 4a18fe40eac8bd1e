// Package config handles cosmetic agent configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level agent configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Engine  EngineConfig  `yaml:"engine"`
	Filter  FilterConfig  `yaml:"filter"`
	Journal JournalConfig `yaml:"journal"`
	HTTP    HTTPConfig    `yaml:"http"`
	Pages   []PageConfig  `yaml:"pages"`
	Sinks   []SinkConfig  `yaml:"sinks"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote          string        `yaml:"remote"`
	MemoryLimit     int64         `yaml:"memory_limit"`
	RecycleInterval time.Duration `yaml:"recycle_interval"`
	Stealth         string        `yaml:"stealth"` // headless | headful
	XvfbDisplay     string        `yaml:"xvfb_display"`
	LoadTimeout     time.Duration `yaml:"load_timeout"`
}

// Engine transports.
const (
	TransportTCP   = "tcp"
	TransportQUIC  = "quic"
	TransportStdio = "stdio"
	// TransportLocal runs the reference engine in-process from RulesFile.
	TransportLocal = "local"
	// TransportNone leaves the channel unestablished: every ask completes
	// with an empty reply.
	TransportNone = "none"
)

// EngineConfig locates the rule engine. Address is host:port for tcp and
// quic, the engine command line for stdio.
type EngineConfig struct {
	Transport          string        `yaml:"transport"`
	Address            string        `yaml:"address"`
	ServerName         string        `yaml:"server_name"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	RulesFile          string        `yaml:"rules_file"`
}

// FilterConfig tunes per-page sessions.
type FilterConfig struct {
	MutationWindow  time.Duration `yaml:"mutation_window"`
	HighHighWindow  time.Duration `yaml:"high_high_window"`
	PreloadSelector string        `yaml:"preload_selector"`
	ExceptionsAttr  string        `yaml:"exceptions_attr"`
	PostloadClass   string        `yaml:"postload_class"`
	ObserveStatic   bool          `yaml:"observe_static"`
}

// JournalConfig locates the SQLite report journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig enables the status API when Addr is set.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// PageConfig defines a page to filter at startup.
type PageConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// SinkConfig defines a report output backend.
type SinkConfig struct {
	Type  string   `yaml:"type"`  // stdout | webhook
	URL   string   `yaml:"url"`   // for webhook
	Kinds []string `yaml:"kinds"` // cosmetic | net; empty means both
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) validate() error {
	switch c.Engine.Transport {
	case "", TransportNone:
	case TransportTCP, TransportQUIC, TransportStdio:
		if c.Engine.Address == "" {
			return fmt.Errorf("engine transport %s needs an address", c.Engine.Transport)
		}
	case TransportLocal:
		if c.Engine.RulesFile == "" {
			return fmt.Errorf("engine transport local needs a rules_file")
		}
	default:
		return fmt.Errorf("unknown engine transport %q", c.Engine.Transport)
	}
	for i, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("pages[%d]: url is required", i)
		}
	}
	for i, sc := range c.Sinks {
		for _, k := range sc.Kinds {
			if k != "cosmetic" && k != "net" {
				return fmt.Errorf("sinks[%d]: unknown report kind %q", i, k)
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.LoadTimeout <= 0 {
		c.Browser.LoadTimeout = 30 * time.Second
	}
	if c.Engine.Transport == "" {
		c.Engine.Transport = TransportNone
		if c.Engine.RulesFile != "" {
			c.Engine.Transport = TransportLocal
		}
	}
	if c.Engine.DialTimeout <= 0 {
		c.Engine.DialTimeout = 10 * time.Second
	}
	if c.Filter.MutationWindow <= 0 {
		c.Filter.MutationWindow = 75 * time.Millisecond
	}
	if c.Filter.HighHighWindow <= 0 {
		c.Filter.HighHighWindow = 300 * time.Millisecond
	}
	if c.Filter.PreloadSelector == "" {
		c.Filter.PreloadSelector = "style.cosmetic-preload"
	}
	if c.Filter.ExceptionsAttr == "" {
		c.Filter.ExceptionsAttr = "data-cosmetic-exceptions"
	}
	if c.Filter.PostloadClass == "" {
		c.Filter.PostloadClass = "cosmetic-postload"
	}
}

package cosmetic

import (
	"github.com/hazyhaar/domfilter/cosmetic/internal/config"
)

// Config is the top-level agent configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// EngineConfig locates the rule engine.
type EngineConfig = config.EngineConfig

// FilterConfig tunes per-page sessions.
type FilterConfig = config.FilterConfig

// JournalConfig locates the report journal.
type JournalConfig = config.JournalConfig

// HTTPConfig enables the status API.
type HTTPConfig = config.HTTPConfig

// PageConfig defines a page to filter at startup.
type PageConfig = config.PageConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// Engine transports.
const (
	TransportTCP   = config.TransportTCP
	TransportQUIC  = config.TransportQUIC
	TransportStdio = config.TransportStdio
	TransportLocal = config.TransportLocal
	TransportNone  = config.TransportNone
)

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}

package metrics

// Settings configures the Prometheus exporter of a worker
type Settings struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Path    string `toml:"path"`
}

var defaultSettings = Settings{
	Addr: ":9626",
	Path: "/metrics",
}

// DefaultSettings returns a copy of the default exporter settings
func DefaultSettings() *Settings {
	s := defaultSettings
	return &s
}

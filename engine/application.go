package engine

type ApplicationConfig struct {
	// Path of the TOML config file. Empty runs on config.Default.
	ConfigPath string
	// Reload the config file when it changes on disk.
	WatchConfig bool
	// Stop after this many frames. Zero runs until the context is cancelled.
	MaxFrames uint64
}

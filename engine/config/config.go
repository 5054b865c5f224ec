package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	MaxFramesInFlight = 4
)

// Duration decodes TOML strings such as "5s" or "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Jobs      JobsConfig      `toml:"jobs"`
	Bindless  BindlessConfig  `toml:"bindless"`
	Streaming StreamingConfig `toml:"streaming"`
}

type EngineConfig struct {
	Name           string `toml:"name"`
	LogLevel       string `toml:"log_level"`
	FramesInFlight int    `toml:"frames_in_flight"`
	// TargetFPS of zero disables frame pacing.
	TargetFPS     float64  `toml:"target_fps"`
	FenceWatchdog Duration `toml:"fence_watchdog"`
	Width         uint32   `toml:"width"`
	Height        uint32   `toml:"height"`
}

type JobsConfig struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
}

type BindlessConfig struct {
	TextureSlots int `toml:"texture_slots"`
	PatchSlots   int `toml:"patch_slots"`
	// Capacity of the per-frame instance buffer, in transforms.
	MaxInstances int `toml:"max_instances"`
}

type StreamingConfig struct {
	Enabled    bool   `toml:"enabled"`
	TextureDir string `toml:"texture_dir"`
	// Streamed images larger than this are scaled down. Zero keeps them as is.
	MaxDimension int `toml:"max_dimension"`
}

func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Name:           "kiln",
			LogLevel:       "info",
			FramesInFlight: 2,
			TargetFPS:      60,
			FenceWatchdog:  Duration{5 * time.Second},
			Width:          1280,
			Height:         720,
		},
		Jobs: JobsConfig{
			Workers:   4,
			QueueSize: 256,
		},
		Bindless: BindlessConfig{
			TextureSlots: 4096,
			PatchSlots:   1024,
			MaxInstances: 16384,
		},
		Streaming: StreamingConfig{
			Enabled:      false,
			TextureDir:   "assets/textures",
			MaxDimension: 2048,
		},
	}
}

// Load reads path on top of Default. Keys missing from the file keep their
// default value; unknown keys are an error.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Engine.FramesInFlight < 1 || c.Engine.FramesInFlight > MaxFramesInFlight {
		errs = append(errs, fmt.Errorf("engine.frames_in_flight must be in [1, %d], got %d", MaxFramesInFlight, c.Engine.FramesInFlight))
	}
	if c.Engine.TargetFPS < 0 {
		errs = append(errs, fmt.Errorf("engine.target_fps must be non-negative, got %f", c.Engine.TargetFPS))
	}
	if c.Engine.FenceWatchdog.Duration <= 0 {
		errs = append(errs, errors.New("engine.fence_watchdog must be positive"))
	}
	if c.Engine.Width == 0 || c.Engine.Height == 0 {
		errs = append(errs, errors.New("engine.width and engine.height must be non-zero"))
	}
	if c.Jobs.Workers <= 0 {
		errs = append(errs, fmt.Errorf("jobs.workers must be greater than zero, got %d", c.Jobs.Workers))
	}
	if c.Jobs.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("jobs.queue_size must be non-negative, got %d", c.Jobs.QueueSize))
	}
	if c.Bindless.TextureSlots <= 0 {
		errs = append(errs, fmt.Errorf("bindless.texture_slots must be greater than zero, got %d", c.Bindless.TextureSlots))
	}
	if c.Bindless.PatchSlots <= 0 {
		errs = append(errs, fmt.Errorf("bindless.patch_slots must be greater than zero, got %d", c.Bindless.PatchSlots))
	}
	if c.Bindless.MaxInstances <= 0 {
		errs = append(errs, fmt.Errorf("bindless.max_instances must be greater than zero, got %d", c.Bindless.MaxInstances))
	}
	if c.Streaming.MaxDimension < 0 {
		errs = append(errs, fmt.Errorf("streaming.max_dimension must be non-negative, got %d", c.Streaming.MaxDimension))
	}
	if c.Streaming.Enabled && c.Streaming.TextureDir == "" {
		errs = append(errs, errors.New("streaming.texture_dir is required when streaming is enabled"))
	}
	return errors.Join(errs...)
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate:\nhave %v\nwant nil", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiln.toml")
	writeFile(t, path, `
[engine]
log_level = "debug"
frames_in_flight = 3
fence_watchdog = "250ms"

[bindless]
texture_slots = 16
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load:\nhave %v\nwant nil", err)
	}
	if cfg.Engine.FramesInFlight != 3 {
		t.Fatalf("FramesInFlight:\nhave %d\nwant 3", cfg.Engine.FramesInFlight)
	}
	if cfg.Engine.FenceWatchdog.Duration != 250*time.Millisecond {
		t.Fatalf("FenceWatchdog:\nhave %v\nwant 250ms", cfg.Engine.FenceWatchdog)
	}
	if cfg.Bindless.TextureSlots != 16 {
		t.Fatalf("TextureSlots:\nhave %d\nwant 16", cfg.Bindless.TextureSlots)
	}
	// Untouched keys keep their defaults.
	if want := Default().Bindless.PatchSlots; cfg.Bindless.PatchSlots != want {
		t.Fatalf("PatchSlots:\nhave %d\nwant %d", cfg.Bindless.PatchSlots, want)
	}
}

func TestLoadRejects(t *testing.T) {
	for _, x := range [...]struct {
		name, content, wantSubstr string
	}{
		{"frames", "[engine]\nframes_in_flight = 0\n", "frames_in_flight"},
		{"workers", "[jobs]\nworkers = 0\n", "jobs.workers"},
		{"max dimension", "[streaming]\nmax_dimension = -1\n", "max_dimension"},
		{"unknown", "[engine]\nshadows = true\n", "decode"},
		{"duration", "[engine]\nfence_watchdog = \"soon\"\n", "decode"},
	} {
		t.Run(x.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "kiln.toml")
			writeFile(t, path, x.content)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), x.wantSubstr) {
				t.Fatalf("Load:\nhave %v\nwant error containing %q", err, x.wantSubstr)
			}
		})
	}
}

func TestWatcherReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiln.toml")
	writeFile(t, path, "[engine]\ntarget_fps = 30.0\n")

	changes := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) {
		select {
		case changes <- c:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher:\nhave %v\nwant nil", err)
	}
	defer w.Close()

	writeFile(t, path, "[engine]\ntarget_fps = 144.0\n")
	// Truncation may be observed as its own write, reloading defaults first.
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.Engine.TargetFPS == 144 {
				return
			}
		case <-timeout:
			t.Fatal("watcher: no reload with target_fps = 144 within 5s")
		}
	}
}

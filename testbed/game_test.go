package testbed

import (
	"context"
	"testing"

	"github.com/spaghettifunk/kiln/engine"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/headless"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestTestbedRuns(t *testing.T) {
	core.SetLogOutput(discard{})
	backend := headless.New(headless.Config{})
	tb := NewTestGame(&engine.ApplicationConfig{MaxFrames: 4}, backend)

	e, err := engine.New(tb.Game, backend)
	if err != nil {
		t.Fatalf("New:\nhave %v\nwant nil", err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize:\nhave %v\nwant nil", err)
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run:\nhave %v\nwant nil", err)
	}
	if got := tb.SystemManager.Renderer.FrameNumber(); got != 4 {
		t.Fatalf("FrameNumber:\nhave %d\nwant 4", got)
	}
	if got := tb.World.Models.Len(); got != 12 {
		t.Fatalf("models:\nhave %d\nwant 12", got)
	}
	if err := e.Shutdown(); err != nil {
		t.Fatalf("Shutdown:\nhave %v\nwant nil", err)
	}
}

package engine

import (
	"github.com/spaghettifunk/kiln/engine/scene"
	"github.com/spaghettifunk/kiln/engine/systems"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	// Set by the engine before FnInitialize runs.
	SystemManager *systems.SystemManager
	World         *scene.World
	State         interface{}
	FnInitialize  Initialize
	FnUpdate      Update
	FnOnResize    OnResize
	FnShutdown    Shutdown
}

type Initialize func() error

// Update runs once per frame before the frame is drawn. It is the only place
// the game should write to the world.
type Update func(deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error

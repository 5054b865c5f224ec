/*
Runs the testbed scene through the frame systems on the headless backend.
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/kiln/engine"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/headless"
	"github.com/spaghettifunk/kiln/testbed"
)

func main() {
	app := &engine.ApplicationConfig{}
	flag.StringVar(&app.ConfigPath, "config", "", "path to a TOML config file")
	flag.BoolVar(&app.WatchConfig, "watch", false, "reload the config file when it changes")
	flag.Uint64Var(&app.MaxFrames, "frames", 0, "stop after this many frames, 0 runs until interrupted")
	flag.Parse()

	backend := headless.New(headless.Config{})
	tb := testbed.NewTestGame(app, backend)

	e, err := engine.New(tb.Game, backend)
	if err != nil {
		core.LogFatal(err.Error())
	}
	if err := e.Initialize(); err != nil {
		core.LogError(err.Error())
		_ = e.Shutdown()
		os.Exit(1)
	}

	// capture sigterm and other system calls here
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	runErr := e.Run(ctx)
	if err := e.Shutdown(); err != nil {
		core.LogError(err.Error())
	}
	if runErr != nil {
		core.LogError(runErr.Error())
		os.Exit(1)
	}
}

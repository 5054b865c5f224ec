//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed against the headless backend with kiln.toml.
func (Run) Engine() error {
	fmt.Println("Run engine...")
	return goCmd("run", ".", "-config", "kiln.toml", "-watch")
}

// Runs a fixed number of frames and exits, for smoke testing.
func (Run) Frames() error {
	return goCmd("run", ".", "-config", "kiln.toml", "-frames", "600")
}

//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Builds the kiln binary into bin/.
func (Build) Engine() error {
	return goCmd("build", "-o", "bin/kiln", ".")
}

// Builds with engine assertions compiled out.
func (Build) Final() error {
	return goCmd("build", "-tags", "final", "-o", "bin/kiln", ".")
}

type Test mg.Namespace

// Runs every package test.
func (Test) All() error {
	return goCmd("test", "./...")
}

// Runs the tests under the race detector. Gathers, culling and streaming
// all run on the job workers, so this is the one that matters.
func (Test) Race() error {
	return goCmd("test", "-race", "./...")
}

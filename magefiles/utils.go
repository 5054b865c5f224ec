//go:build mage

package main

import (
	"fmt"
	"strings"

	"github.com/magefile/mage/sh"
)

// goCmd runs the go tool with output streamed to the terminal.
func goCmd(args ...string) error {
	fmt.Printf("Executing: go %s\n", strings.Join(args, " "))
	if err := sh.RunV("go", args...); err != nil {
		return fmt.Errorf("go %s: %w", args[0], err)
	}
	return nil
}

//go:build !final

package core

import "fmt"

// AssertionsEnabled is false when built with the "final" tag.
const AssertionsEnabled = true

type AssertionError struct {
	Message string
}

func (e *AssertionError) Error() string {
	return "assertion failed: " + e.Message
}

// Assert logs and panics when condition is false.
func Assert(condition bool, msg string, args ...interface{}) {
	if condition {
		return
	}
	err := &AssertionError{Message: fmt.Sprintf(msg, args...)}
	LogError(err.Error())
	panic(err)
}

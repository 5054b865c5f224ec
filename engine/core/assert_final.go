//go:build final

package core

const AssertionsEnabled = false

type AssertionError struct {
	Message string
}

func (e *AssertionError) Error() string {
	return "assertion failed: " + e.Message
}

func Assert(condition bool, msg string, args ...interface{}) {}

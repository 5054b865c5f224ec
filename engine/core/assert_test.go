//go:build !final

package core

import (
	"errors"
	"testing"
)

func TestAssert(t *testing.T) {
	Assert(true, "never fires")

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Assert(false): did not panic")
		}
		err, ok := r.(*AssertionError)
		if !ok {
			t.Fatalf("Assert(false): recovered value:\nhave %T\nwant *AssertionError", r)
		}
		if want := "slot 7 out of range"; err.Message != want {
			t.Fatalf("AssertionError.Message:\nhave %q\nwant %q", err.Message, want)
		}
	}()
	SetLogOutput(discard{})
	Assert(false, "slot %d out of range", 7)
}

func TestSetLogLevel(t *testing.T) {
	for _, x := range [...]struct {
		level string
		fail  bool
	}{
		{"debug", false},
		{"info", false},
		{"warn", false},
		{"error", false},
		{"loud", true},
	} {
		err := SetLogLevel(x.level)
		if (err != nil) != x.fail {
			t.Fatalf("SetLogLevel(%q):\nhave %v\nwant failure=%t", x.level, err, x.fail)
		}
	}
	_ = SetLogLevel("info")
}

func TestSentinelWrapping(t *testing.T) {
	err := errors.Join(ErrUnknown, ErrPresentation)
	if !errors.Is(err, ErrPresentation) {
		t.Fatal("errors.Is(ErrPresentation): have false\nwant true")
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

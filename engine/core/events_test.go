package core

import "testing"

func TestEventDispatch(t *testing.T) {
	es := NewEventSystem()
	var order []string
	listen := func(name string, handled bool) FnOnEvent {
		return func(EventContext) bool {
			order = append(order, name)
			return handled
		}
	}

	if !es.Register(EVENT_CODE_RESIZED, "first", listen("first", false)) {
		t.Fatal("Register(first): have false\nwant true")
	}
	if !es.Register(EVENT_CODE_RESIZED, "second", listen("second", true)) {
		t.Fatal("Register(second): have false\nwant true")
	}
	_ = es.Register(EVENT_CODE_RESIZED, "third", listen("third", false))
	if es.Register(EVENT_CODE_RESIZED, "first", listen("again", false)) {
		t.Fatal("duplicate Register: have true\nwant false")
	}

	// second handles it, so third never runs
	if !es.Fire(EventContext{Type: EVENT_CODE_RESIZED, Data: &ResizeEvent{Width: 1, Height: 1}}) {
		t.Fatal("Fire: have false\nwant true")
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("listeners:\nhave %v\nwant [first second]", order)
	}

	order = nil
	if !es.Unregister(EVENT_CODE_RESIZED, "second") {
		t.Fatal("Unregister: have false\nwant true")
	}
	if es.Unregister(EVENT_CODE_RESIZED, "second") {
		t.Fatal("second Unregister: have true\nwant false")
	}
	if es.Fire(EventContext{Type: EVENT_CODE_RESIZED}) {
		t.Fatal("Fire without a handler returning true: have true\nwant false")
	}
	if len(order) != 2 || order[1] != "third" {
		t.Fatalf("listeners after Unregister:\nhave %v\nwant [first third]", order)
	}

	es.Shutdown()
	if es.Fire(EventContext{Type: EVENT_CODE_RESIZED}) {
		t.Fatal("Fire after Shutdown: have true\nwant false")
	}
}

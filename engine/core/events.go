package core

import "sync"

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// The presentation target changed size.
	/* Context usage:
	 * Data = *ResizeEvent
	 */
	EVENT_CODE_RESIZED SystemEventCode = 0x08

	// The presentation target was lost and must be recreated at its current size.
	EVENT_CODE_DEFAULT_RENDERTARGET_REFRESH_REQUIRED SystemEventCode = 0x11

	// A new configuration was loaded from disk.
	/* Context usage:
	 * Data = *config.Config
	 */
	EVENT_CODE_CONFIG_RELOADED SystemEventCode = 0x12

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

type EventContext struct {
	Type   SystemEventCode
	Sender interface{}
	Data   interface{}
}

type ResizeEvent struct {
	Width  uint32
	Height uint32
}

// Should return true if handled.
type FnOnEvent func(context EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventSystem dispatches events to the listeners registered for their code.
// Listeners run synchronously on the goroutine calling Fire.
type EventSystem struct {
	mu         sync.RWMutex
	registered map[SystemEventCode][]registeredEvent
}

func NewEventSystem() *EventSystem {
	return &EventSystem{
		registered: make(map[SystemEventCode][]registeredEvent),
	}
}

/**
 * Register to listen for when events are sent with the provided code. A listener
 * can register once per code; a second registration returns false.
 * @param code The event code to listen for.
 * @param listener Identifies the registration for Unregister. Must be comparable.
 * @param onEvent The callback invoked when the event code is fired.
 * @returns true if the event is successfully registered; otherwise false.
 */
func (es *EventSystem) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if onEvent == nil {
		return false
	}
	es.mu.Lock()
	defer es.mu.Unlock()
	for _, e := range es.registered[code] {
		if e.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	es.registered[code] = append(es.registered[code], registeredEvent{listener: listener, callback: onEvent})
	return true
}

// Unregister removes the listener's registration for code and reports
// whether there was one.
func (es *EventSystem) Unregister(code SystemEventCode, listener interface{}) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	events := es.registered[code]
	for i, e := range events {
		if e.listener == listener {
			es.registered[code] = append(events[:i:i], events[i+1:]...)
			return true
		}
	}
	return false
}

/**
 * Fires an event to listeners of its code in registration order. If a handler
 * returns true, the event is considered handled and is not passed on to any
 * more listeners.
 * @returns true if handled, otherwise false.
 */
func (es *EventSystem) Fire(context EventContext) bool {
	es.mu.RLock()
	events := es.registered[context.Type]
	es.mu.RUnlock()

	// Handlers may register or unregister; they see the list as it was.
	for _, e := range events {
		if e.callback(context) {
			return true
		}
	}
	return false
}

// Shutdown drops every registration.
func (es *EventSystem) Shutdown() {
	es.mu.Lock()
	defer es.mu.Unlock()
	clear(es.registered)
}

package events

import (
	"fmt"
	"strings"
	"sync"
	"time"

	console "medfinder/internal/utils/logger"
)

var log = console.New("EVENTS")

// Names emitted by the services.
const (
	UsageReserved  = "usage.reserved"
	UsageCompleted = "usage.completed"
	UsageReleased  = "usage.released"
	UsageSwept     = "usage.swept"

	ResponseCreated   = "ai_response.created"
	ResponseCompleted = "ai_response.completed"
	ResponseFailed    = "ai_response.failed"
	ResponsesDeleted  = "ai_response.deleted"

	UserRegistered  = "user.registered"
	UserRoleChanged = "user.role_changed"
	UserDeleted     = "user.deleted"

	BillingTrackFailed = "billing.track_failed"
)

type Event struct {
	Name string
	Data interface{}
	At   time.Time
}

type EventHandler func(Event)

type EventBus struct {
	handlers map[string][]EventHandler
	mu       sync.RWMutex
	inflight sync.WaitGroup
}

var defaultBus = NewEventBus()

func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[string][]EventHandler),
	}
}

// On registers a handler for an event. A pattern ending in ".*" matches
// every event with that prefix, and "*" matches everything.
func (bus *EventBus) On(pattern string, handler EventHandler) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	bus.handlers[pattern] = append(bus.handlers[pattern], handler)
	log.Debug("Registered handler for event: %s", pattern)
}

func (bus *EventBus) matching(event string) []EventHandler {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	var out []EventHandler
	out = append(out, bus.handlers[event]...)
	out = append(out, bus.handlers["*"]...)
	if i := strings.Index(event, "."); i > 0 {
		out = append(out, bus.handlers[event[:i]+".*"]...)
	}
	return out
}

// Emit triggers an event with the given data. Handlers run on their own
// goroutines; a panicking handler is logged and does not affect others.
func (bus *EventBus) Emit(event string, data interface{}) {
	handlers := bus.matching(event)
	if len(handlers) == 0 {
		return
	}

	log.Debug("Emitting event: %s", event)

	ev := Event{Name: event, Data: data, At: time.Now()}
	for _, handler := range handlers {
		bus.inflight.Add(1)
		go func(h EventHandler) {
			defer bus.inflight.Done()
			defer func() {
				if r := recover(); r != nil {
					_ = log.Error("Panic in event handler for "+event, fmt.Errorf("panic: %v", r))
				}
			}()
			h(ev)
		}(handler)
	}
}

// Wait blocks until every handler started so far has returned.
func (bus *EventBus) Wait() {
	bus.inflight.Wait()
}

// Default returns the process-wide bus used by On and Emit.
func Default() *EventBus {
	return defaultBus
}

func On(pattern string, handler EventHandler) {
	defaultBus.On(pattern, handler)
}

func Emit(event string, data interface{}) {
	defaultBus.Emit(event, data)
}

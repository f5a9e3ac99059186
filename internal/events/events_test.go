package events

import (
	"sort"
	"sync"
	"testing"
)

func TestEmitDispatchesByNameAndPattern(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	var got []string
	record := func(tag string) EventHandler {
		return func(ev Event) {
			mu.Lock()
			got = append(got, tag+":"+ev.Name)
			mu.Unlock()
		}
	}

	bus.On(UsageReserved, record("exact"))
	bus.On("usage.*", record("prefix"))
	bus.On("*", record("all"))
	bus.On(UserDeleted, record("other"))

	bus.Emit(UsageReserved, "u1")
	bus.Wait()

	sort.Strings(got)
	want := []string{"all:usage.reserved", "exact:usage.reserved", "prefix:usage.reserved"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestEmitCarriesData(t *testing.T) {
	bus := NewEventBus()
	done := make(chan Event, 1)
	bus.On(ResponseCompleted, func(ev Event) { done <- ev })

	bus.Emit(ResponseCompleted, map[string]string{"id": "r1"})
	ev := <-done
	if ev.Data.(map[string]string)["id"] != "r1" || ev.At.IsZero() {
		t.Errorf("event = %+v", ev)
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	bus := NewEventBus()
	ok := make(chan struct{}, 1)
	bus.On(UserDeleted, func(Event) { panic("boom") })
	bus.On(UserDeleted, func(Event) { ok <- struct{}{} })

	bus.Emit(UserDeleted, nil)
	bus.Wait()

	select {
	case <-ok:
	default:
		t.Fatal("second handler did not run")
	}
}

func TestEmitWithoutHandlers(t *testing.T) {
	bus := NewEventBus()
	bus.Emit("nothing.here", nil)
	bus.Wait()
}

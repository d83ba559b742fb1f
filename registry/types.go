package registry

import (
	"time"

	wasmsandbox "github.com/wippyai/wasm-sandbox"
)

// EventType identifies a registry lifecycle change.
type EventType uint8

const (
	EventInserted EventType = iota
	EventReplaced
	EventRemoved
)

func (t EventType) String() string {
	switch t {
	case EventInserted:
		return "inserted"
	case EventReplaced:
		return "replaced"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event describes one change. Info is the entry that was added, or the
// entry that went away for EventRemoved.
type Event struct {
	Info Info
	Name string
	Type EventType
}

// Observer receives registry lifecycle events.
type Observer interface {
	OnRegistryEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnRegistryEvent(e Event) { f(e) }

// Entry is what callers hand to Insert.
type Entry struct {
	Capsule wasmsandbox.Capsule
	Name    string
	Digest  string
	Size    int
}

// Info is a read-only snapshot of an entry.
type Info struct {
	Created  time.Time
	LastRun  time.Time
	Name     string
	Digest   string
	Flavour  string
	Size     int
	Runs     uint64
	Failures uint64
}

package registry

import (
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	wasmsandbox "github.com/wippyai/wasm-sandbox"
	"github.com/wippyai/wasm-sandbox/errors"
)

type slot struct {
	capsule wasmsandbox.Capsule
	info    Info
	run     sync.Mutex
}

// Registry is a name-keyed table of live capsules.
type Registry struct {
	entries   map[string]*slot
	observers []Observer
	clock     func() time.Time
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*slot),
		clock:   time.Now,
	}
}

// Insert stores e under e.Name, closing any capsule it replaces.
func (r *Registry) Insert(ctx context.Context, e Entry) error {
	if e.Name == "" {
		return errors.InvalidInput(errors.PhaseRegistry, "empty capsule name")
	}
	if e.Capsule == nil {
		return errors.InvalidInput(errors.PhaseRegistry, "nil capsule")
	}

	s := &slot{
		capsule: e.Capsule,
		info: Info{
			Created: r.clock(),
			Name:    e.Name,
			Digest:  e.Digest,
			Size:    e.Size,
			Flavour: flavourOf(e.Capsule),
		},
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.Closed(errors.PhaseRegistry, "registry")
	}
	old, replaced := r.entries[e.Name]
	r.entries[e.Name] = s
	r.mu.Unlock()

	evt := EventInserted
	if replaced {
		evt = EventReplaced
		r.closeSlot(ctx, old)
	}
	r.notify(Event{Type: evt, Name: e.Name, Info: s.info})
	return nil
}

// Remove drops the entry under name and closes its capsule. Removing an
// absent name does nothing and reports false.
func (r *Registry) Remove(ctx context.Context, name string) bool {
	r.mu.Lock()
	s, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	info := r.closeSlot(ctx, s)
	r.notify(Event{Type: EventRemoved, Name: name, Info: info})
	return true
}

// Execute runs the capsule under name. A failed run leaves the entry in
// place.
func (r *Registry) Execute(ctx context.Context, name string) (wasmsandbox.Output, error) {
	r.mu.RLock()
	s, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return wasmsandbox.Output{}, errors.NotFound(errors.PhaseRegistry, "capsule", name)
	}

	s.run.Lock()
	defer s.run.Unlock()
	if s.capsule == nil {
		// Removed while waiting for the previous run.
		return wasmsandbox.Output{}, errors.NotFound(errors.PhaseRegistry, "capsule", name)
	}

	out, err := s.capsule.Run(wasmsandbox.WithName(ctx, name))
	s.info.Runs++
	s.info.LastRun = r.clock()
	if err != nil {
		s.info.Failures++
		Logger().Debug("capsule run failed", zap.String("capsule", name), zap.Error(err))
		return wasmsandbox.Output{}, errors.EngineFault(name, err)
	}
	return out, nil
}

// Get returns a snapshot of the entry under name.
func (r *Registry) Get(name string) (Info, bool) {
	r.mu.RLock()
	s, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Info{}, false
	}
	s.run.Lock()
	defer s.run.Unlock()
	return s.info, true
}

// Names returns the names present at the time of the call, sorted.
func (r *Registry) Names() iter.Seq[string] {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)

	return slices.Values(names)
}

// Infos returns snapshots of every entry, sorted by name.
func (r *Registry) Infos() []Info {
	infos := make([]Info, 0, r.Len())
	for name := range r.Names() {
		if info, ok := r.Get(name); ok {
			infos = append(infos, info)
		}
	}
	return infos
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Subscribe adds an observer for lifecycle events.
func (r *Registry) Subscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, o)
}

// Close removes every entry and rejects further inserts.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	for name := range r.Names() {
		r.Remove(ctx, name)
	}
	return nil
}

func (r *Registry) closeSlot(ctx context.Context, s *slot) Info {
	s.run.Lock()
	defer s.run.Unlock()
	if s.capsule != nil {
		if err := s.capsule.Close(ctx); err != nil {
			Logger().Warn("capsule close failed", zap.String("capsule", s.info.Name), zap.Error(err))
		}
		s.capsule = nil
	}
	return s.info
}

func (r *Registry) notify(e Event) {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	for _, o := range r.observers {
		o.OnRegistryEvent(e)
	}
}

func flavourOf(c wasmsandbox.Capsule) string {
	if d, ok := c.(wasmsandbox.Describer); ok {
		return d.Flavour()
	}
	return ""
}

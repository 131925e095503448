package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/location-coordinator/model"
)

var (
	// ErrModuleExists indicates a module with the same handle is already registered.
	ErrModuleExists = errors.New("module already exists")
	// ErrModuleNotFound indicates the handle does not name a registered module.
	ErrModuleNotFound = errors.New("module not found")
	// ErrModuleInvalid indicates a descriptor failed validation.
	ErrModuleInvalid = errors.New("invalid module")
)

// EventType indicates what kind of change happened in the catalog.
type EventType int

const (
	EventModuleAdded EventType = iota
	EventModuleRemoved
	EventModuleUpdated
)

// Event is emitted to subscribers when the catalog changes.
type Event struct {
	Type   EventType
	Module model.ModuleDescriptor
}

// Catalog is an in-memory, thread-safe store of module descriptors. It is
// the module-handle resolution service consumed by the coordinator.
type Catalog struct {
	mu sync.RWMutex

	modules map[model.ModuleHandle]model.ModuleDescriptor

	subs   map[int]func(Event)
	nextID int
}

// NewCatalog constructs an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		modules: make(map[model.ModuleHandle]model.ModuleDescriptor),
		subs:    make(map[int]func(Event)),
	}
}

func validate(d model.ModuleDescriptor) error {
	if d.Handle < 0 {
		return fmt.Errorf("%w: handle %d is negative", ErrModuleInvalid, d.Handle)
	}
	if d.Class == model.ModuleClassUnknown {
		return fmt.Errorf("%w: handle %d has no module class", ErrModuleInvalid, d.Handle)
	}
	if d.GNSSAttached && d.Class != model.ModuleClassCellular {
		return fmt.Errorf("%w: handle %d: gnss_attached only applies to cellular modules", ErrModuleInvalid, d.Handle)
	}
	if d.Wifi && d.Class != model.ModuleClassShortRange {
		return fmt.Errorf("%w: handle %d: wifi only applies to short-range modules", ErrModuleInvalid, d.Handle)
	}
	return nil
}

// Add registers a module. It fails if the handle is already in use.
func (c *Catalog) Add(d model.ModuleDescriptor) error {
	if err := validate(d); err != nil {
		return err
	}

	c.mu.Lock()
	if _, exists := c.modules[d.Handle]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: handle %d", ErrModuleExists, d.Handle)
	}
	c.modules[d.Handle] = d
	subs := c.subscribersLocked()
	c.mu.Unlock()

	notify(subs, Event{Type: EventModuleAdded, Module: d})
	return nil
}

// Remove unregisters a module.
func (c *Catalog) Remove(h model.ModuleHandle) error {
	c.mu.Lock()
	d, ok := c.modules[h]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: handle %d", ErrModuleNotFound, h)
	}
	delete(c.modules, h)
	subs := c.subscribersLocked()
	c.mu.Unlock()

	notify(subs, Event{Type: EventModuleRemoved, Module: d})
	return nil
}

// Replace swaps the catalog contents for mods and notifies subscribers of
// every addition, removal and change. Nothing is modified if any
// descriptor is invalid or duplicated.
func (c *Catalog) Replace(mods []model.ModuleDescriptor) error {
	next := make(map[model.ModuleHandle]model.ModuleDescriptor, len(mods))
	for _, d := range mods {
		if err := validate(d); err != nil {
			return err
		}
		if _, dup := next[d.Handle]; dup {
			return fmt.Errorf("%w: handle %d", ErrModuleExists, d.Handle)
		}
		next[d.Handle] = d
	}

	c.mu.Lock()
	var events []Event
	for h, old := range c.modules {
		cur, ok := next[h]
		switch {
		case !ok:
			events = append(events, Event{Type: EventModuleRemoved, Module: old})
		case cur != old:
			events = append(events, Event{Type: EventModuleUpdated, Module: cur})
		}
	}
	for h, d := range next {
		if _, ok := c.modules[h]; !ok {
			events = append(events, Event{Type: EventModuleAdded, Module: d})
		}
	}
	c.modules = next
	subs := c.subscribersLocked()
	c.mu.Unlock()

	sort.Slice(events, func(i, j int) bool {
		if events[i].Module.Handle != events[j].Module.Handle {
			return events[i].Module.Handle < events[j].Module.Handle
		}
		return events[i].Type < events[j].Type
	})
	for _, ev := range events {
		notify(subs, ev)
	}
	return nil
}

// Resolve returns the descriptor registered for h.
func (c *Catalog) Resolve(h model.ModuleHandle) (model.ModuleDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.modules[h]
	return d, ok
}

// List returns a snapshot of all modules ordered by handle.
func (c *Catalog) List() []model.ModuleDescriptor {
	c.mu.RLock()
	res := make([]model.ModuleDescriptor, 0, len(c.modules))
	for _, d := range c.modules {
		res = append(res, d)
	}
	c.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].Handle < res[j].Handle })
	return res
}

// Len returns the number of registered modules.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.modules)
}

// Subscribe registers a callback for catalog events. It returns an
// unsubscribe function that is safe to call more than once.
func (c *Catalog) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Catalog) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, c.subs[id])
	}
	return subs
}

// notify runs outside the catalog lock so subscribers may call back in.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}

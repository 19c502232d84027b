// Package registry confines the one piece of real process-wide global
// state this core needs: the name -> switch mapping admin tooling
// walks to answer `list` (spec.md §9, §6). It is lazily initialized on
// first Register and torn down once the last entry is Unregistered, so
// a process that never constructs a switch never pays for the map.
//
// The registry stores switches as `any` rather than a narrow
// interface: the only concrete switch type (ofswitch.Switch) already
// depends on nothing in this package, and giving registry an Info()-
// shaped interface here would mean either importing ofswitch (making
// this package depend on the very thing that would want to register
// itself with it) or duplicating ofswitch.Info's fields under a
// different name. Callers that need typed access (the admin package)
// type-assert back to *ofswitch.Switch themselves.
package registry

import (
	"sort"
	"sync"
)

var (
	mu sync.RWMutex
	// switches is the global switches_by_name map (spec.md §9). It is
	// nil until the first Register and is set back to nil once the
	// last entry is removed, rather than kept around empty.
	switches map[string]any
)

// ErrExists indicates Register was called with a name already present
// in the registry.
type ErrExists string

func (e ErrExists) Error() string { return "registry: switch already registered: " + string(e) }

// Register adds sw under name. It is an error to register a name
// already present; callers destroy the existing switch (or choose a
// different name) before retrying.
func Register(name string, sw any) error {
	mu.Lock()
	defer mu.Unlock()

	if switches == nil {
		switches = make(map[string]any)
	}
	if _, ok := switches[name]; ok {
		return ErrExists(name)
	}
	switches[name] = sw
	return nil
}

// Unregister removes name from the registry. It is a no-op if name is
// not present. Once the last entry is removed, the backing map is
// released so the registry returns to its pre-first-use state.
func Unregister(name string) {
	mu.Lock()
	defer mu.Unlock()

	delete(switches, name)
	if len(switches) == 0 {
		switches = nil
	}
}

// Lookup returns the switch registered under name, if any.
func Lookup(name string) (any, bool) {
	mu.RLock()
	defer mu.RUnlock()

	sw, ok := switches[name]
	return sw, ok
}

// Names returns every registered switch name, sorted for stable
// output (the admin `list` command relies on this).
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(switches))
	for name := range switches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

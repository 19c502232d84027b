// Package porttable implements the port table (C4): a mirror of
// datapath-visible ports keyed both by OF port number and by name,
// reconciled against periodic or event-driven datapath queries.
package porttable

import (
	"bytes"
	"io"

	"github.com/netrack/ofcore/ofp"
)

// Querier is supplied by the switch aggregate (ofswitch), which alone
// knows how to ask its datapath provider about a named port. A nil,
// nil result means the datapath has no port by that name.
type Querier interface {
	QueryPort(name string) (*QueryResult, error)
}

// QueryResult is one freshly queried phy_port record: the decoded OF
// port fields plus a handle (a netdev descriptor, in the provider's
// terms) that the table takes ownership of and closes when the entry
// is replaced or removed.
type QueryResult struct {
	Port   ofp.Port
	Handle io.Closer
}

// EventKind distinguishes the three port-status reasons this package
// can emit; it mirrors ofp.PortReason but is distinct from it because
// a single reconciliation can emit a Delete followed by an Add (the
// renumber case) — two events, not one.
type EventKind uint8

const (
	EventAdd EventKind = iota
	EventModify
	EventDelete
)

// Event is one port-status change produced by UpdatePort.
type Event struct {
	Kind EventKind
	Port ofp.Port
}

// RateLimiter is the narrow logging surface this package needs.
type RateLimiter interface {
	Printf(format string, args ...interface{})
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...interface{}) {}

// Table is the switch's port mirror: ofp_port → Port and name → Port,
// kept in agreement (invariant 4).
type Table struct {
	byNo    map[ofp.PortNo]*ofp.Port
	byName  map[string]*ofp.Port
	handles map[ofp.PortNo]io.Closer
	logger  RateLimiter
}

// New allocates an empty port table.
func New(logger RateLimiter) *Table {
	if logger == nil {
		logger = discardLogger{}
	}
	return &Table{
		byNo:    make(map[ofp.PortNo]*ofp.Port),
		byName:  make(map[string]*ofp.Port),
		handles: make(map[ofp.PortNo]io.Closer),
		logger:  logger,
	}
}

// Get returns the port registered under the given OF port number.
func (t *Table) Get(no ofp.PortNo) (*ofp.Port, bool) {
	p, ok := t.byNo[no]
	return p, ok
}

// GetByName returns the port registered under the given name.
func (t *Table) GetByName(name string) (*ofp.Port, bool) {
	p, ok := t.byName[name]
	return p, ok
}

// All returns every port currently known, in no particular order.
func (t *Table) All() []ofp.Port {
	out := make([]ofp.Port, 0, len(t.byNo))
	for _, p := range t.byNo {
		out = append(out, *p)
	}
	return out
}

func (t *Table) closeHandle(no ofp.PortNo) {
	if h, ok := t.handles[no]; ok {
		h.Close()
		delete(t.handles, no)
	}
}

func (t *Table) install(p ofp.Port, h io.Closer) *ofp.Port {
	entry := p
	t.byNo[entry.PortNo] = &entry
	t.byName[entry.Name] = &entry
	if h != nil {
		t.handles[entry.PortNo] = h
	}
	return &entry
}

func (t *Table) remove(p *ofp.Port) {
	t.closeHandle(p.PortNo)
	delete(t.handles, p.PortNo)
	if cur, ok := t.byNo[p.PortNo]; ok && cur == p {
		delete(t.byNo, p.PortNo)
	}
	if cur, ok := t.byName[p.Name]; ok && cur == p {
		delete(t.byName, p.Name)
	}
}

// equal implements §4.4's equality rule: hardware MAC, state, feature
// bitmaps, and only the PORT_DOWN bit of config. Name and number are
// compared separately by the caller.
func equal(a, b *ofp.Port) bool {
	if !bytes.Equal([]byte(a.HWAddr), []byte(b.HWAddr)) {
		return false
	}
	if a.State != b.State {
		return false
	}
	if a.Curr != b.Curr || a.Advertised != b.Advertised || a.Supported != b.Supported || a.Peer != b.Peer {
		return false
	}
	return (a.Config & ofp.PortConfigDown) == (b.Config & ofp.PortConfigDown)
}

// UpdatePort runs the §4.4 reconciliation algorithm for one named
// port, returning the port-status events to broadcast to every
// connection.
func (t *Table) UpdatePort(name string, q Querier) ([]Event, error) {
	result, err := q.QueryPort(name)
	if err != nil {
		return nil, err
	}

	if result == nil {
		if p, ok := t.byName[name]; ok {
			removed := *p
			t.remove(p)
			return []Event{{Kind: EventDelete, Port: removed}}, nil
		}
		return nil, nil
	}

	fresh := result.Port
	existingByNo, hasNo := t.byNo[fresh.PortNo]

	if hasNo && existingByNo.Name == name {
		if equal(existingByNo, &fresh) {
			// Still reopen: the datapath may have reopened the
			// underlying device even when the reported state is
			// unchanged.
			t.closeHandle(fresh.PortNo)
			if result.Handle != nil {
				t.handles[fresh.PortNo] = result.Handle
			}
			return nil, nil
		}

		t.closeHandle(fresh.PortNo)
		*existingByNo = fresh
		if result.Handle != nil {
			t.handles[fresh.PortNo] = result.Handle
		}
		return []Event{{Kind: EventModify, Port: fresh}}, nil
	}

	var events []Event
	if sameName, ok := t.byName[name]; ok {
		removed := *sameName
		t.remove(sameName)
		events = append(events, Event{Kind: EventDelete, Port: removed})
	}
	if hasNo {
		removed := *existingByNo
		t.remove(existingByNo)
		events = append(events, Event{Kind: EventDelete, Port: removed})
	}

	t.install(fresh, result.Handle)
	events = append(events, Event{Kind: EventAdd, Port: fresh})
	return events, nil
}

// Populate installs the initial port set enumerated from the datapath
// at switch construction, silently skipping ports that collide on
// number or name with one already installed (logged once at the
// configured rate limit).
func (t *Table) Populate(results []QueryResult) {
	for _, r := range results {
		if _, ok := t.byNo[r.Port.PortNo]; ok {
			t.logger.Printf("porttable: duplicate port number %d for %q, skipped", r.Port.PortNo, r.Port.Name)
			continue
		}
		if _, ok := t.byName[r.Port.Name]; ok {
			t.logger.Printf("porttable: duplicate port name %q, skipped", r.Port.Name)
			continue
		}
		t.install(r.Port, r.Handle)
	}
}

// reservedFloor is the lowest reserved OF port number (§3: "reserved
// range ≥ MAX"); PortLocal is the one reserved value PORT_MOD must
// still accept, and PortAny plays the role the spec calls NONE — a
// wildcard, never a real target.
const reservedFloor = ofp.PortMax

// ValidatePortModTarget reports whether no is an acceptable PORT_MOD
// target: any non-reserved port, or the reserved PortLocal.
func ValidatePortModTarget(no ofp.PortNo) bool {
	if no < reservedFloor {
		return true
	}
	return no == ofp.PortLocal
}

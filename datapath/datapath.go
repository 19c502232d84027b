// Package datapath declares the provider contract (§6): the only
// downward collaborator the core (C1-C6) depends on. A provider mirrors
// rules and ports onto some concrete forwarding plane — an Open vSwitch
// bridge driven through its CLI tools (datapath/ovsexec), a userspace
// software switch, or, in tests, an in-memory fake. The core holds
// exactly one Provider per switch instance and never swaps it at
// runtime (§9's "closed capability set... no runtime provider swap is
// required").
package datapath

import (
	"errors"
	"io"

	"github.com/netrack/ofcore/flowtable"
	"github.com/netrack/ofcore/ofp"
	"github.com/netrack/ofcore/porttable"
)

// ErrDeviceGone indicates Run observed the underlying forwarding plane
// disappear (e.g. a deleted kernel datapath, an unplugged device). It
// is fatal to the owning switch (§7, §5's resource lifecycle).
var ErrDeviceGone = errors.New("datapath: device gone")

// ErrNoBufferSpace indicates a provider notification channel
// overflowed. The core's response is a full port rescan, not
// connection teardown (§7).
var ErrNoBufferSpace = errors.New("datapath: no buffer space, rescan required")

// ErrNotSupported indicates an optional operation the provider does
// not implement. Controller-visible callers convert this to an OF
// error; passthrough callers (sFlow, NetFlow, mirrors) ignore it (§7).
var ErrNotSupported = errors.New("datapath: not supported by provider")

// Factory enumerates and constructs providers by type and name —
// §6's "enumerate_types, enumerate_names, del" provider factory
// operations. A type names a provider implementation (e.g. "ovsnl");
// a name identifies one instance of it (e.g. a datapath name).
type Factory interface {
	// Types lists the provider implementations this factory can open.
	Types() []string

	// Names lists the existing instances of the given provider type.
	Names(typ string) ([]string, error)

	// Del destroys the named instance without opening it.
	Del(typ, name string) error

	// Open constructs a Provider bound to the named instance. The
	// returned Provider is not yet constructed against a switch; the
	// switch aggregate calls Construct once it has assigned it.
	Open(typ, name string) (Provider, error)
}

// PortCursor iterates the provider's current port set for initial
// bulk population (§4.4's Populate, fed by "port_dump_start /
// port_dump_next / port_dump_done").
type PortCursor interface {
	// Next returns the next enumerated port, or ok=false once
	// exhausted.
	Next() (result porttable.QueryResult, ok bool, err error)

	// Done releases resources held by the cursor. Safe to call after
	// Next has already returned ok=false.
	Done() error
}

// Provider is the full datapath contract a switch aggregate (C6) holds
// a handle to. It composes the narrower views flowtable.Provider and
// porttable.Querier already declare (so those packages need no import
// dependency on this one), and adds the lifecycle, port-mutation, and
// passthrough operations §6's table lists beyond flow/port mirroring.
type Provider interface {
	flowtable.Provider
	porttable.Querier

	// Construct opens provider state bound to one switch instance.
	// Destruct releases it; it is infallible in the sense that the
	// owning switch proceeds with teardown regardless of its result,
	// but a non-nil error is still logged (§5's resource lifecycle).
	Construct() error
	Destruct() error

	// Run performs one bounded unit of periodic work: polling for
	// datapath-generated events (expired flows, port changes,
	// buffered-packet delivery) that the core cannot observe any other
	// way. Run returns ErrDeviceGone if the underlying forwarding
	// plane has disappeared.
	Run() error

	// Wait returns the file descriptors and a timeout (milliseconds,
	// -1 for none) the host poll loop should block on before calling
	// Run again (§5's "wait() registers the file descriptors and
	// timers that should wake the loop").
	Wait() (fds []uintptr, timeoutMs int)

	// PortAdd creates a new port on the datapath (e.g. attaching a
	// netdev). The returned handle is owned by the caller exactly as
	// with porttable.QueryResult.Handle.
	PortAdd(name string, config ofp.PortConfig) (*ofp.Port, io.Closer, error)

	// PortDel removes a port from the datapath by number.
	PortDel(no ofp.PortNo) error

	// PortDumpStart begins a bulk enumeration of every port currently
	// on the datapath, used for the switch's initial porttable.Populate.
	PortDumpStart() (PortCursor, error)

	// PortPoll returns the names of ports the datapath has reported
	// changed (added, removed, or modified) since the last call, for
	// the owning switch to reconcile one at a time via
	// porttable.Table.UpdatePort. An empty slice means no change.
	PortPoll() ([]string, error)

	// RuleRemove asks the provider to evict one rule without the core
	// having initiated the removal (the datapath-initiated half of
	// idle-timeout expiry: the provider alone observes traffic, per
	// §5's cancellation/timeouts note). It returns ok=false if the
	// rule is already gone.
	RuleRemove(r *flowtable.Rule) (ok bool, err error)

	// RuleExecute re-applies a rule's current action list to an
	// ad-hoc packet, used when a FLOW_MOD carries a buffered packet
	// that must be processed through the newly installed rule.
	RuleExecute(r *flowtable.Rule, data []byte) error

	// PacketOut executes an ad-hoc action list against an ad-hoc
	// packet, outside of any installed rule (PACKET_OUT handling).
	PacketOut(actions ofp.Instructions, data []byte) error

	// GetDropFrags and SetDropFrags read and write the datapath's
	// IP-fragment handling policy (ofp.ConfigFlagFrag*).
	GetDropFrags() (ofp.ConfigFlag, error)
	SetDropFrags(ofp.ConfigFlag) error
}

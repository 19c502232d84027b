// Package ovsexec is a datapath.Provider backed by the Open vSwitch
// command-line tools (ovs-vsctl, ovs-ofctl, ovs-dpctl) rather than a
// kernel netlink channel. It is grounded on the exec-wrapping shape of
// _examples/digitalocean-go-openvswitch/ovs's DataPathService/OvsCLI:
// a CLI interface around one external binary, and an Error type that
// carries the combined output and exit status of a failed invocation.
//
// Open vSwitch's control plane is split across three programs with no
// single shared wire protocol a Go client can speak directly without
// either linking against the C ovsdb/ofproto libraries or reimplementing
// OVSDB JSON-RPC and the full OpenFlow wire format a second time inside
// this provider. Shelling out to the tools already installed alongside
// any real Open vSwitch deployment is the teacher's own answer to that
// problem (ovs/datapath.go), so this provider does the same for ports,
// flows and packet-out instead of only for datapath lifecycle.
package ovsexec

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/netrack/ofcore/datapath"
	"github.com/netrack/ofcore/flowtable"
	"github.com/netrack/ofcore/ofp"
	"github.com/netrack/ofcore/porttable"
)

// Error is returned when one of the wrapped CLI tools exits non-zero.
// It mirrors ovs.Error: the combined output is preserved for
// diagnostics alongside the *exec.ExitError.
type Error struct {
	Out []byte
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Err, bytes.TrimSpace(e.Out))
}

func (e *Error) Unwrap() error { return e.Err }

// CLI is the contract a Provider uses to invoke one of the ovs-*
// binaries; tests substitute a fake to avoid shelling out for real.
type CLI interface {
	Exec(bin string, args ...string) ([]byte, error)
}

// execCLI runs the named binary via os/exec, optionally under sudo.
type execCLI struct {
	sudo bool
}

func (c execCLI) Exec(bin string, args ...string) ([]byte, error) {
	name, fullArgs := bin, args
	if c.sudo {
		name, fullArgs = "sudo", append([]string{bin}, args...)
	}

	cmd := exec.Command(name, fullArgs...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, &Error{Out: out, Err: err}
	}
	return out, nil
}

// Option configures a Provider at construction time.
type Option func(*Provider)

// Sudo runs every ovs-* invocation under sudo, matching how these
// tools are normally installed (root-owned unix sockets/netlink).
func Sudo() Option {
	return func(p *Provider) { p.cli = execCLI{sudo: true} }
}

// dpLiveness is the narrow view of *ovsnl.Client a Provider needs for
// Run: a direct kernel check rather than a shelled-out ovs-vsctl call.
type dpLiveness interface {
	Exists(name string) (bool, error)
}

// WithDatapathClient makes Run check liveness through dp (normally an
// *ovsnl.Client bound to the kernel's ovs_datapath generic netlink
// family) instead of shelling out to `ovs-vsctl br-exists`. The
// kernel datapath name is usually "ovs-system", distinct from the
// bridge name ovs-vsctl/ovs-ofctl operate on, so it is passed
// separately.
func WithDatapathClient(dp dpLiveness, datapathName string) Option {
	return func(p *Provider) {
		p.dp = dp
		p.datapathName = datapathName
	}
}

// Provider implements datapath.Provider against one Open vSwitch
// bridge, identified by name, using the vsctl/ofctl/dpctl CLIs.
type Provider struct {
	// Bridge is the Open vSwitch bridge this provider manages.
	Bridge string

	cli CLI

	dp           dpLiveness
	datapathName string

	mu        sync.Mutex
	ports     map[ofp.PortNo]string // port no -> name, for PortDel
	lastPorts map[string]bool       // last PortDumpStart/PortPoll snapshot
	dropFrags ofp.ConfigFlag
}

// New returns a Provider for the named bridge. bridge must already
// identify (or be about to identify, via Construct) an Open vSwitch
// bridge reachable by the local vsctl/ofctl/dpctl tools.
func New(bridge string, opts ...Option) *Provider {
	p := &Provider{
		Bridge:    bridge,
		cli:       execCLI{},
		ports:     make(map[ofp.PortNo]string),
		dropFrags: ofp.ConfigFlagFragNormal,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) vsctl(args ...string) ([]byte, error) { return p.cli.Exec("ovs-vsctl", args...) }
func (p *Provider) ofctl(args ...string) ([]byte, error) { return p.cli.Exec("ovs-ofctl", args...) }

// Construct creates the backing bridge if it does not already exist.
func (p *Provider) Construct() error {
	_, err := p.vsctl("--may-exist", "add-br", p.Bridge)
	return err
}

// Destruct removes the backing bridge. Errors are logged by the
// caller (ofswitch.Destroy), not retried here.
func (p *Provider) Destruct() error {
	_, err := p.vsctl("--if-exists", "del-br", p.Bridge)
	return err
}

// Run polls for the bridge's continued existence. ovs-vsctl/ofctl
// expose no push notification channel to a CLI client, so this is the
// provider's entire "event" surface: the owning switch calls Run on
// whatever cadence Wait requests, and a disappeared bridge surfaces as
// datapath.ErrDeviceGone exactly as a netlink-backed provider would
// report a vanished datapath.
func (p *Provider) Run() error {
	if p.dp != nil {
		exists, err := p.dp.Exists(p.datapathName)
		if err != nil {
			return fmt.Errorf("ovsexec: datapath liveness check: %w", err)
		}
		if !exists {
			return datapath.ErrDeviceGone
		}
		return nil
	}

	if _, err := p.vsctl("br-exists", p.Bridge); err != nil {
		return datapath.ErrDeviceGone
	}
	return nil
}

// Wait reports no file descriptors (this provider has none to offer a
// poll(2) loop) and a fixed interval to re-invoke Run.
func (p *Provider) Wait() ([]uintptr, int) { return nil, 1000 }

// PortAdd attaches name to the bridge as a new port.
func (p *Provider) PortAdd(name string, config ofp.PortConfig) (*ofp.Port, io.Closer, error) {
	if _, err := p.vsctl("add-port", p.Bridge, name); err != nil {
		return nil, nil, err
	}

	port, err := p.portByName(name)
	if err != nil {
		return nil, nil, err
	}

	p.mu.Lock()
	p.ports[port.PortNo] = name
	p.mu.Unlock()

	closer := closerFunc(func() error {
		_, err := p.vsctl("--if-exists", "del-port", p.Bridge, name)
		return err
	})
	return port, closer, nil
}

// PortDel removes the port previously returned by PortAdd or
// discovered via PortDumpStart.
func (p *Provider) PortDel(no ofp.PortNo) error {
	p.mu.Lock()
	name, ok := p.ports[no]
	delete(p.ports, no)
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("ovsexec: unknown port number %d", no)
	}
	_, err := p.vsctl("--if-exists", "del-port", p.Bridge, name)
	return err
}

// PortDumpStart enumerates every port currently on the bridge via
// `ovs-ofctl show`, the same command a human uses to inspect a
// running switch.
func (p *Provider) PortDumpStart() (datapath.PortCursor, error) {
	ports, err := p.showPorts()
	if err != nil {
		return nil, err
	}

	names := make(map[string]bool, len(ports))
	for _, r := range ports {
		names[r.Port.Name] = true

		p.mu.Lock()
		p.ports[r.Port.PortNo] = r.Port.Name
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.lastPorts = names
	p.mu.Unlock()

	return &portCursor{results: ports}, nil
}

// PortPoll diffs the bridge's current port set against the snapshot
// taken by the last PortDumpStart/PortPoll call, returning the names
// of ports that were added or removed meanwhile.
func (p *Provider) PortPoll() ([]string, error) {
	ports, err := p.showPorts()
	if err != nil {
		return nil, err
	}

	current := make(map[string]bool, len(ports))
	for _, r := range ports {
		current[r.Port.Name] = true
	}

	p.mu.Lock()
	last := p.lastPorts
	p.lastPorts = current
	p.mu.Unlock()

	var changed []string
	for name := range current {
		if !last[name] {
			changed = append(changed, name)
		}
	}
	for name := range last {
		if !current[name] {
			changed = append(changed, name)
		}
	}
	return changed, nil
}

// RuleConstruct installs r as a flow on the bridge.
func (p *Provider) RuleConstruct(r *flowtable.Rule) error {
	_, err := p.ofctl("add-flow", p.Bridge, flowSpec(r))
	return err
}

// RuleDestruct removes the flow installed for r, identified by its
// cookie (C3's rules are always installed with a unique cookie, per
// flowtable's own bookkeeping).
func (p *Provider) RuleDestruct(r *flowtable.Rule) error {
	_, err := p.ofctl("del-flows", p.Bridge, cookieMatch(r.Cookie))
	return err
}

// RuleModifyActions replaces r's installed action list in place via
// mod-flows, matched by cookie so the flow's counters survive the
// update (OVS preserves stats across mod-flows, unlike add-flow).
func (p *Provider) RuleModifyActions(r *flowtable.Rule, actions ofp.Instructions) error {
	spec := cookieMatch(r.Cookie) + "," + instructionsSpec(actions)
	_, err := p.ofctl("mod-flows", p.Bridge, spec)
	return err
}

// RuleGetStats returns r's packet/byte counters via dump-flows,
// filtered to the flow's cookie.
func (p *Provider) RuleGetStats(r *flowtable.Rule) (packets, bytes uint64, err error) {
	out, err := p.ofctl("dump-flows", p.Bridge, cookieMatch(r.Cookie))
	if err != nil {
		return 0, 0, err
	}
	return parseFlowCounters(out)
}

// RuleRemove evicts r's flow, identified by its cookie, for the
// datapath-initiated removal path (idle/hard timeout expiry that the
// provider, not the core, observed first). It reports ok=false, and
// deletes nothing, when no flow with r's cookie is installed.
func (p *Provider) RuleRemove(r *flowtable.Rule) (ok bool, err error) {
	out, err := p.ofctl("dump-flows", p.Bridge, cookieMatch(r.Cookie))
	if err != nil {
		return false, err
	}
	if !bytes.Contains(out, []byte("cookie=")) {
		return false, nil
	}
	if _, err := p.ofctl("del-flows", p.Bridge, cookieMatch(r.Cookie)); err != nil {
		return false, err
	}
	return true, nil
}

// RuleExecute re-injects data through the actions currently installed
// for r, via packet-out.
func (p *Provider) RuleExecute(r *flowtable.Rule, data []byte) error {
	_, err := p.ofctl("packet-out", p.Bridge, "in_port=local",
		actionsSpec(instructionActions(r.Instructions)), hex.EncodeToString(data))
	return err
}

// PacketOut executes an ad-hoc action list against an ad-hoc packet.
func (p *Provider) PacketOut(actions ofp.Instructions, data []byte) error {
	_, err := p.ofctl("packet-out", p.Bridge, "in_port=local",
		actionsSpec(instructionActions(actions)), hex.EncodeToString(data))
	return err
}

// Flush removes every flow from every table on the bridge.
func (p *Provider) Flush() error {
	_, err := p.ofctl("del-flows", p.Bridge)
	return err
}

// QueryPort looks up one port by name via `ovs-ofctl show`.
func (p *Provider) QueryPort(name string) (*porttable.QueryResult, error) {
	ports, err := p.showPorts()
	if err != nil {
		return nil, err
	}
	for _, r := range ports {
		if r.Port.Name == name {
			res := r
			return &res, nil
		}
	}
	return nil, fmt.Errorf("ovsexec: no such port: %s", name)
}

// GetDropFrags and SetDropFrags track the fragment handling policy
// in memory: Open vSwitch does not expose a per-bridge "drop
// fragments" knob through vsctl/ofctl the way the OpenFlow wire
// protocol's SET_CONFIG message does, so this provider honors the
// setting only insofar as the rules the core installs above it
// account for fragmented traffic explicitly.
func (p *Provider) GetDropFrags() (ofp.ConfigFlag, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropFrags, nil
}

func (p *Provider) SetDropFrags(flag ofp.ConfigFlag) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropFrags = flag
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func (p *Provider) portByName(name string) (*ofp.Port, error) {
	ports, err := p.showPorts()
	if err != nil {
		return nil, err
	}
	for _, r := range ports {
		if r.Port.Name == name {
			port := r.Port
			return &port, nil
		}
	}
	return nil, fmt.Errorf("ovsexec: port %s not found after add-port", name)
}

var showPortLine = regexp.MustCompile(`^\s*(\d+)\((\S+)\):`)

// showPorts parses the port listing out of `ovs-ofctl show <bridge>`.
// The output format is stable across OVS releases: one line per port
// shaped "N(name): addr:... ...".
func (p *Provider) showPorts() ([]porttable.QueryResult, error) {
	out, err := p.ofctl("show", p.Bridge)
	if err != nil {
		return nil, err
	}

	var results []porttable.QueryResult
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		m := showPortLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}

		no, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			continue
		}

		results = append(results, porttable.QueryResult{
			Port: ofp.Port{
				PortNo: ofp.PortNo(no),
				Name:   m[2],
			},
		})
	}
	return results, scanner.Err()
}

type portCursor struct {
	results []porttable.QueryResult
	pos     int
}

func (c *portCursor) Next() (porttable.QueryResult, bool, error) {
	if c.pos >= len(c.results) {
		return porttable.QueryResult{}, false, nil
	}
	r := c.results[c.pos]
	c.pos++
	return r, true, nil
}

func (c *portCursor) Done() error { return nil }

// flowSpec renders r as an ovs-ofctl add-flow/mod-flow argument:
// cookie, table, priority, a best-effort match translation for the
// match fields this core's callers actually populate (in_port,
// eth_type, ip_proto), and the rule's action list.
func flowSpec(r *flowtable.Rule) string {
	fields := []string{
		cookieMatch(r.Cookie),
		"table=0",
		fmt.Sprintf("priority=%d", r.Priority),
	}

	if r.IdleTimeout > 0 {
		fields = append(fields, fmt.Sprintf("idle_timeout=%d", r.IdleTimeout))
	}
	if r.HardTimeout > 0 {
		fields = append(fields, fmt.Sprintf("hard_timeout=%d", r.HardTimeout))
	}

	fields = append(fields, matchFields(r.Match)...)

	spec := strings.Join(fields, ",")
	if action := instructionsSpec(r.Instructions); action != "" {
		spec += "," + action
	}
	return spec
}

func cookieMatch(cookie uint64) string {
	return fmt.Sprintf("cookie=0x%x/-1", cookie)
}

// matchFields translates the XM entries this module actually emits
// (see ofputil/match.go) into ovs-ofctl field=value matches. Any XM
// type not recognized here is skipped rather than rejected: a
// CLI-driven provider degrades to a broader match instead of failing
// the whole flow install outright.
func matchFields(m ofp.Match) []string {
	var out []string
	for _, xm := range m.Fields {
		switch xm.Type {
		case ofp.XMTypeInPort:
			out = append(out, fmt.Sprintf("in_port=%d", beUint32(xm.Value)))
		case ofp.XMTypeEthType:
			out = append(out, fmt.Sprintf("dl_type=0x%04x", beUint16(xm.Value)))
		case ofp.XMTypeIPProto:
			out = append(out, fmt.Sprintf("nw_proto=%d", beUint8(xm.Value)))
		}
	}
	return out
}

func instructionsSpec(instr ofp.Instructions) string {
	actions := instructionActions(instr)
	if len(actions) == 0 {
		return "actions=drop"
	}
	return "actions=" + actionsSpec(actions)
}

func instructionActions(instr ofp.Instructions) ofp.Actions {
	for _, i := range instr {
		if aa, ok := i.(*ofp.InstructionApplyActions); ok {
			return aa.Actions
		}
	}
	return nil
}

func actionsSpec(actions ofp.Actions) string {
	var parts []string
	for _, a := range actions {
		switch out := a.(type) {
		case *ofp.ActionOutput:
			parts = append(parts, fmt.Sprintf("output:%d", out.Port))
		}
	}
	if len(parts) == 0 {
		return "drop"
	}
	return strings.Join(parts, ",")
}

func beUint32(v ofp.XMValue) uint32 {
	var n uint32
	for _, b := range v {
		n = n<<8 | uint32(b)
	}
	return n
}

func beUint16(v ofp.XMValue) uint16 {
	var n uint16
	for _, b := range v {
		n = n<<8 | uint16(b)
	}
	return n
}

func beUint8(v ofp.XMValue) uint8 {
	if len(v) == 0 {
		return 0
	}
	return v[len(v)-1]
}

var flowCounters = regexp.MustCompile(`n_packets=(\d+), n_bytes=(\d+)`)

func parseFlowCounters(out []byte) (packets, bytes uint64, err error) {
	m := flowCounters.FindSubmatch(out)
	if m == nil {
		return 0, 0, nil
	}
	packets, err = strconv.ParseUint(string(m[1]), 10, 64)
	if err != nil {
		return 0, 0, err
	}
	bytes, err = strconv.ParseUint(string(m[2]), 10, 64)
	return packets, bytes, err
}

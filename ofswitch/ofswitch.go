// Package ofswitch implements the switch aggregate (C6): a thin
// composition object holding the flow tables (C3), the port table
// (C4), and a datapath provider (§6), wired together behind the
// message dispatcher (C5). It is the public surface a transport layer
// drives: one Switch per controller-visible datapath instance (§4.6).
package ofswitch

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/ioutil"
	"sync"

	"github.com/netrack/ofcore"
	"github.com/netrack/ofcore/classifier"
	"github.com/netrack/ofcore/datapath"
	"github.com/netrack/ofcore/flowtable"
	"github.com/netrack/ofcore/nx"
	"github.com/netrack/ofcore/ofp"
	"github.com/netrack/ofcore/porttable"
	"github.com/netrack/ofcore/registry"
)

// FailMode selects the switch's behavior when it has no connection to
// any controller (§4.6's "set fail-mode"). The core only stores and
// forwards this value to the provider via PassthroughConfigurator; the
// actual standalone forwarding behavior, if any, is provider-specific.
type FailMode uint8

const (
	FailModeSecure FailMode = iota
	FailModeStandalone
)

func (m FailMode) String() string {
	if m == FailModeStandalone {
		return "standalone"
	}
	return "secure"
}

// SFlowConfig is the passthrough sFlow configuration (§4.6).
type SFlowConfig struct {
	Enabled  bool
	Targets  []string
	Sampling uint32
}

// NetFlowConfig is the passthrough NetFlow configuration (§4.6).
type NetFlowConfig struct {
	Enabled       bool
	Targets       []string
	ActiveTimeout uint32
}

// PassthroughConfig bundles every setting §4.6 describes as
// passthrough: the core only stores it and forwards it whole to the
// provider, which is free to ignore any part it doesn't implement.
type PassthroughConfig struct {
	FailMode    FailMode
	Controllers []string
	SFlow       SFlowConfig
	NetFlow     NetFlowConfig
	Mirrors     []string
	Bundles     []string
	FloodVLANs  []string
}

// PassthroughConfigurator is implemented by providers that act on the
// out-of-band configuration PassthroughConfig carries. A provider that
// does not implement it still has its configuration recorded on the
// Switch (retrievable through Info), it just has no effect beyond
// that; this is not an error (§7: optional passthroughs ignore
// ErrNotSupported).
type PassthroughConfigurator interface {
	ConfigurePassthrough(PassthroughConfig) error
}

// Options configures a new Switch.
type Options struct {
	// DatapathID is the 64-bit switch identifier FEATURES_REPLY
	// carries. Zero selects a randomized, locally-administered
	// fallback (SPEC_FULL.md's fallback DPID derivation) so a Switch
	// is always constructible even when the provider can't supply one
	// and the caller hasn't chosen one.
	DatapathID uint64

	// NumTables is the number of flow tables to report in
	// FEATURES_REPLY and to accept FLOW_MOD/multipart requests
	// against. OF1.0 callers should leave this at its zero value,
	// which New treats as 1 (table id 0 only).
	NumTables uint8

	// NumBuffers is the max packets buffered at once, reported in
	// FEATURES_REPLY.
	NumBuffers uint32

	Logger *of.Logger

	// Clock overrides the flow tables' time source; nil uses
	// flowtable.RealClock.
	Clock flowtable.Clock

	// OnFlowRemoved, if set, is called for a non-hidden rule with
	// SendFlowRemoved set when a delete, an expiry or a hard-timeout
	// sweep removes it (§4.3); rules removed by Add's replacement or by
	// Flush are not reported. The transport layer supplies this
	// to broadcast a FLOW_REMOVED to every interested controller
	// connection; a nil value means removals are not reported, which is
	// valid — the flow table still enforces timeouts either way.
	OnFlowRemoved func(flowtable.RemovedNotification)
}

// randomDatapathID derives a fallback datapath id the way a locally
// administered MAC address is derived: a random 46 bits with the
// locally-administered bit set and the multicast bit cleared in the
// top octet, so two switches started without an explicit id are
// overwhelmingly unlikely to collide on a shared network.
func randomDatapathID() uint64 {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is an operating-system-level fault, not
		// one this constructor can meaningfully recover from; fall
		// back to a fixed locally-administered address rather than
		// panicking the caller.
		b = [6]byte{0x02, 0, 0, 0, 0, 1}
	}
	b[0] = (b[0] | 0x02) &^ 0x01
	var id uint64
	for _, x := range b {
		id = id<<8 | uint64(x)
	}
	return id
}

// Switch is the C6 aggregate: one instance exists per datapath the
// host manages, composing C2-C5 behind a per-table classifier and a
// port mirror over a single datapath.Provider.
type Switch struct {
	Name       string
	DatapathID uint64
	NumBuffers uint32

	mu     sync.RWMutex
	tables map[ofp.Table]*flowtable.Table
	ports  *porttable.Table

	provider      datapath.Provider
	logger        *of.RateLimitedLogger
	clock         flowtable.Clock
	onFlowRemoved func(flowtable.RemovedNotification)

	numTables uint8
	config    ofp.ConfigFlag
	missSend  uint16

	passthrough PassthroughConfig
	description ofp.Description

	dead bool
}

// New constructs a Switch over provider, populates its port table from
// the provider's initial port dump, and calls provider.Construct. The
// returned Switch owns provider for its lifetime; callers must call
// Destroy exactly once.
func New(name string, provider datapath.Provider, opts Options) (*Switch, error) {
	if opts.NumTables == 0 {
		opts.NumTables = 1
	}
	if opts.DatapathID == 0 {
		opts.DatapathID = randomDatapathID()
	}

	logger := of.NewRateLimitedLogger(opts.Logger, 0, 1)

	s := &Switch{
		Name:       name,
		DatapathID: opts.DatapathID,
		NumBuffers: opts.NumBuffers,
		tables:     make(map[ofp.Table]*flowtable.Table),
		ports:      porttable.New(logger),
		provider:      provider,
		logger:        logger,
		clock:         opts.Clock,
		onFlowRemoved: opts.OnFlowRemoved,
		numTables:  opts.NumTables,
		missSend:   of.DefaultMissSendLen,
		description: ofp.Description{
			Manufacturer: "netrack",
			Software:     "ofcore",
			Datapath:     name,
		},
	}

	if err := provider.Construct(); err != nil {
		return nil, fmt.Errorf("ofswitch: construct: %w", err)
	}

	cursor, err := provider.PortDumpStart()
	if err != nil {
		provider.Destruct()
		return nil, fmt.Errorf("ofswitch: initial port dump: %w", err)
	}
	defer cursor.Done()

	var results []porttable.QueryResult
	for {
		r, ok, err := cursor.Next()
		if err != nil {
			provider.Destruct()
			return nil, fmt.Errorf("ofswitch: initial port dump: %w", err)
		}
		if !ok {
			break
		}
		results = append(results, r)
	}
	s.ports.Populate(results)

	if err := registry.Register(name, s); err != nil {
		provider.Destruct()
		return nil, fmt.Errorf("ofswitch: %w", err)
	}

	return s, nil
}

// table returns (lazily creating) the flow table for id. Callers must
// hold s.mu.
func (s *Switch) table(id ofp.Table) *flowtable.Table {
	if t, ok := s.tables[id]; ok {
		return t
	}
	var notifier flowtable.Notifier
	if s.onFlowRemoved != nil {
		notifier = flowtable.NotifierFunc(s.onFlowRemoved)
	}
	t := flowtable.New(id, s.provider, s.clock, notifier, s.logger)
	s.tables[id] = t
	return t
}

// Table returns the flow table for id, if id is within [0, NumTables).
func (s *Switch) Table(id ofp.Table) (*flowtable.Table, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uint8(id) >= s.numTables {
		return nil, false
	}
	return s.table(id), true
}

// Destroy flushes every flow table, removes the switch from the
// registry, and releases the provider. It does not close the port
// handles held by the port table. It is safe to call once after New
// succeeds.
func (s *Switch) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tables {
		if err := t.Flush(); err != nil {
			s.logger.Printf("ofswitch: %s: flush on destroy failed: %s", s.Name, err)
		}
	}
	registry.Unregister(s.Name)
	return s.provider.Destruct()
}

// Alive reports whether the switch is still processing requests. It
// becomes false once the provider has reported ErrDeviceGone (§7).
func (s *Switch) Alive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.dead
}

func (s *Switch) markDead() {
	s.mu.Lock()
	s.dead = true
	s.mu.Unlock()
}

// Run drives one iteration of the provider's event loop (flow expiry,
// port reconciliation). It is meant to be called from the host's
// single-threaded poll loop once datapath.Provider.Wait's descriptors
// are ready, or on its timeout (§5).
func (s *Switch) Run(nowMs int64) error {
	if err := s.provider.Run(); err != nil {
		if errors.Is(err, datapath.ErrDeviceGone) {
			s.markDead()
		}
		return err
	}

	s.mu.Lock()
	tables := make([]*flowtable.Table, 0, len(s.tables))
	for _, t := range s.tables {
		tables = append(tables, t)
	}
	s.mu.Unlock()

	for _, t := range tables {
		if err := t.SweepHardTimeouts(nowMs); err != nil {
			return err
		}
	}

	changed, err := s.provider.PortPoll()
	if err != nil {
		return err
	}
	for _, name := range changed {
		s.mu.Lock()
		_, err := s.ports.UpdatePort(name, s.provider)
		s.mu.Unlock()
		if err != nil {
			s.logger.Printf("ofswitch: %s: port reconcile of %q failed: %s", s.Name, name, err)
		}
	}
	return nil
}

// Wait returns the descriptors and timeout the host poll loop should
// block on before calling Run again (§5).
func (s *Switch) Wait() ([]uintptr, int) {
	return s.provider.Wait()
}

// SetFailMode stores and forwards the switch's no-controller behavior.
func (s *Switch) SetFailMode(m FailMode) error {
	s.mu.Lock()
	s.passthrough.FailMode = m
	cfg := s.passthrough
	s.mu.Unlock()
	return s.configurePassthrough(cfg)
}

// SetControllers stores and forwards the switch's configured
// controller addresses.
func (s *Switch) SetControllers(addrs []string) error {
	s.mu.Lock()
	s.passthrough.Controllers = addrs
	cfg := s.passthrough
	s.mu.Unlock()
	return s.configurePassthrough(cfg)
}

// SetSFlow stores and forwards the switch's sFlow configuration.
func (s *Switch) SetSFlow(c SFlowConfig) error {
	s.mu.Lock()
	s.passthrough.SFlow = c
	cfg := s.passthrough
	s.mu.Unlock()
	return s.configurePassthrough(cfg)
}

// SetNetFlow stores and forwards the switch's NetFlow configuration.
func (s *Switch) SetNetFlow(c NetFlowConfig) error {
	s.mu.Lock()
	s.passthrough.NetFlow = c
	cfg := s.passthrough
	s.mu.Unlock()
	return s.configurePassthrough(cfg)
}

// SetMirrors, SetBundles, and SetFloodVLANs register the named
// passthrough groups (§4.6).
func (s *Switch) SetMirrors(names []string) error    { return s.setPassthroughList(&s.passthrough.Mirrors, names) }
func (s *Switch) SetBundles(names []string) error    { return s.setPassthroughList(&s.passthrough.Bundles, names) }
func (s *Switch) SetFloodVLANs(names []string) error { return s.setPassthroughList(&s.passthrough.FloodVLANs, names) }

func (s *Switch) setPassthroughList(field *[]string, names []string) error {
	s.mu.Lock()
	*field = names
	cfg := s.passthrough
	s.mu.Unlock()
	return s.configurePassthrough(cfg)
}

func (s *Switch) configurePassthrough(cfg PassthroughConfig) error {
	c, ok := s.provider.(PassthroughConfigurator)
	if !ok {
		return nil
	}
	if err := c.ConfigurePassthrough(cfg); err != nil {
		if errors.Is(err, datapath.ErrNotSupported) {
			return nil
		}
		return err
	}
	return nil
}

// SetDescription stores the description multipart reply's contents.
func (s *Switch) SetDescription(d ofp.Description) {
	s.mu.Lock()
	s.description = d
	s.mu.Unlock()
}

// Info is the admin-facing snapshot of a switch (§6's admin command
// surface, fed to the registry/admin packages).
type Info struct {
	Name       string
	DatapathID uint64
	NumTables  uint8
	NumPorts   int
	FailMode   FailMode
	Alive      bool
}

// Info returns a point-in-time snapshot for the admin `list` command.
func (s *Switch) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		Name:       s.Name,
		DatapathID: s.DatapathID,
		NumTables:  s.numTables,
		NumPorts:   len(s.ports.All()),
		FailMode:   s.passthrough.FailMode,
		Alive:      !s.dead,
	}
}

// aggregateStats implements Open Question decision #3's table_id
// dispatch boundary: TableAll sums every table; any id other than 0
// and TableAll yields an empty result rather than an error, since
// OF1.0's baseline pipeline has no table beyond 0 and a controller
// querying an out-of-range id is asking about a table that, from this
// switch's point of view, simply holds nothing.
func (s *Switch) aggregateStats(req *ofp.AggregateStatsRequest) (ofp.AggregateStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out ofp.AggregateStats
	if req.Table == ofp.TableAll {
		for _, t := range s.tables {
			p, b, f, err := t.AggregateStats(&req.Match)
			if err != nil {
				return ofp.AggregateStats{}, err
			}
			out.PacketCount += p
			out.ByteCount += b
			out.FlowCount += f
		}
		return out, nil
	}

	if req.Table != 0 {
		s.logger.Printf("ofswitch: %s: aggregate-stats for out-of-range table_id %d, returning empty", s.Name, req.Table)
		return out, nil
	}

	t := s.table(0)
	p, b, f, err := t.AggregateStats(&req.Match)
	if err != nil {
		return ofp.AggregateStats{}, err
	}
	out.PacketCount, out.ByteCount, out.FlowCount = p, b, f
	return out, nil
}

// eachTable runs fn against every table the switch has created,
// stopping at the first error, the same TableAll fan-out
// aggregateStats uses for a stats query (ofp/flow.go's Table doc
// comment: "TableAll can also be used to delete matching flows from
// all tables").
func (s *Switch) eachTable(fn func(*flowtable.Table) error) error {
	s.mu.Lock()
	tables := make([]*flowtable.Table, 0, len(s.tables))
	for _, t := range s.tables {
		tables = append(tables, t)
	}
	s.mu.Unlock()

	for _, t := range tables {
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

// providerErrorClass maps a plain error returned by the datapath
// provider (§6's operations, which speak in bare Go errors, not
// ofp.Error) to the OF error class/code a FLOW_MOD/PORT_MOD failure
// should answer with (§7's "provider errors" class). A true fatal
// return means the error is fatal (device gone) and the caller must
// not attempt to reply on the wire at all.
func providerErrorClass(err error) (class ofp.ErrType, code ofp.ErrCode, fatal bool) {
	switch {
	case errors.Is(err, datapath.ErrDeviceGone):
		return 0, 0, true
	case errors.Is(err, datapath.ErrNoBufferSpace):
		return ofp.ErrTypeFlowModFailed, ofp.ErrCodeFlowModFailedUnknown, false
	case errors.Is(err, datapath.ErrNotSupported):
		return ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestBadType, false
	default:
		return ofp.ErrTypeFlowModFailed, ofp.ErrCodeFlowModFailedUnknown, false
	}
}

// handleProviderError answers r appropriately for an error returned by
// a datapath.Provider call, marking the switch dead on ErrDeviceGone.
func (s *Switch) handleProviderError(rw of.ResponseWriter, r *of.Request, err error) {
	class, code, fatal := providerErrorClass(err)
	if fatal {
		s.markDead()
		return
	}
	s.logger.Printf("ofswitch: %s: provider error: %s", s.Name, err)
	of.ReplyError(rw, r, of.Of(class, code, r.XID))
}

// HandleFlowMod decodes and applies a FLOW_MOD to the table it names,
// translating the result into a wire reply on failure (§4.6, §7).
func (s *Switch) HandleFlowMod(rw of.ResponseWriter, r *of.Request) {
	var fm ofp.FlowMod
	if _, err := fm.ReadFrom(r.Body); err != nil {
		of.ReplyError(rw, r, of.Of(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen, r.XID))
		return
	}

	matchMode := ofp.MatchModeLoose
	if fm.Command == ofp.FlowAdd || fm.Command == ofp.FlowModifyStrict || fm.Command == ofp.FlowDeleteStrict {
		matchMode = ofp.MatchModeStrict
	}
	if ofErr := fm.Match.Validate(matchMode); ofErr != nil {
		of.ReplyError(rw, r, of.Of(ofErr.Type, ofErr.Code, r.XID))
		return
	}

	isDelete := fm.Command == ofp.FlowDelete || fm.Command == ofp.FlowDeleteStrict

	var table *flowtable.Table
	if fm.Table == ofp.TableAll {
		if !isDelete {
			of.ReplyError(rw, r, of.Of(ofp.ErrTypeFlowModFailed, ofp.ErrCodeFlowModFailedBadTableID, r.XID))
			return
		}
	} else {
		s.mu.Lock()
		if uint8(fm.Table) >= s.numTables {
			s.mu.Unlock()
			of.ReplyError(rw, r, of.Of(ofp.ErrTypeFlowModFailed, ofp.ErrCodeFlowModFailedBadTableID, r.XID))
			return
		}
		table = s.table(fm.Table)
		s.mu.Unlock()
	}

	nowMs := s.nowMs()
	rule := &flowtable.Rule{
		Cookie:          fm.Cookie,
		IdleTimeout:     fm.IdleTimeout,
		HardTimeout:     fm.HardTimeout,
		SendFlowRemoved: fm.Flags&ofp.FlowFlagSendFlowRem != 0,
		Instructions:    fm.Instructions,
	}

	var ofErr *ofp.Error
	var err error
	switch fm.Command {
	case ofp.FlowAdd:
		ofErr, err = table.Add(nowMs, fm.Match, classifier.Priority(fm.Priority), fm.Flags&ofp.FlowFlagCheckOverlap != 0, rule)
	case ofp.FlowModify:
		ofErr, err = table.ModifyLoose(nowMs, fm.Match, classifier.Priority(fm.Priority), fm.Cookie, false, fm.Instructions, rule)
	case ofp.FlowModifyStrict:
		ofErr, err = table.ModifyStrict(fm.Match, classifier.Priority(fm.Priority), fm.Cookie, false, fm.Instructions)
	case ofp.FlowDelete:
		if fm.Table == ofp.TableAll {
			err = s.eachTable(func(t *flowtable.Table) error {
				return t.DeleteLoose(nowMs, fm.Match, ofp.FlowReasonDelete)
			})
		} else {
			err = table.DeleteLoose(nowMs, fm.Match, ofp.FlowReasonDelete)
		}
	case ofp.FlowDeleteStrict:
		if fm.Table == ofp.TableAll {
			err = s.eachTable(func(t *flowtable.Table) error {
				return t.DeleteStrict(nowMs, fm.Match, classifier.Priority(fm.Priority), ofp.FlowReasonDelete)
			})
		} else {
			err = table.DeleteStrict(nowMs, fm.Match, classifier.Priority(fm.Priority), ofp.FlowReasonDelete)
		}
	default:
		of.ReplyError(rw, r, of.Of(ofp.ErrTypeFlowModFailed, ofp.ErrCodeFlowModFailedBadCommand, r.XID))
		return
	}

	if err != nil {
		s.handleProviderError(rw, r, err)
		return
	}
	if ofErr != nil {
		of.ReplyError(rw, r, of.Of(ofErr.Type, ofErr.Code, r.XID))
		return
	}

	if fm.Buffer == ofp.NoBuffer {
		return
	}
	data, _, err := of.ResolveBuffer(s.bufferStoreOrNil(), fm.Buffer)
	if err != nil || data == nil {
		return
	}
	if err := s.provider.RuleExecute(rule, data); err != nil {
		s.logger.Printf("ofswitch: %s: buffered-packet replay failed: %s", s.Name, err)
	}
}

// bufferStoreOrNil exposes the optional of.BufferStore capability a
// provider may implement; most don't, and for those it returns a store
// that holds nothing, so ResolveBuffer reports the buffer id as
// unknown, which is how a
// FLOW_MOD without a buffered packet (NoBuffer) is already handled.
func (s *Switch) bufferStoreOrNil() of.BufferStore {
	if bs, ok := s.provider.(of.BufferStore); ok {
		return bs
	}
	return discardBufferStore{}
}

type discardBufferStore struct{}

func (discardBufferStore) Take(uint32) ([]byte, ofp.Match, bool) { return nil, ofp.Match{}, false }

func (s *Switch) nowMs() int64 {
	clock := s.clock
	if clock == nil {
		clock = flowtable.RealClock{}
	}
	return clock.NowMs()
}

// HandlePortMod validates and applies a PORT_MOD (§4.4, §4.6).
func (s *Switch) HandlePortMod(rw of.ResponseWriter, r *of.Request) {
	var pm ofp.PortMod
	if _, err := pm.ReadFrom(r.Body); err != nil {
		of.ReplyError(rw, r, of.Of(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen, r.XID))
		return
	}
	if !porttable.ValidatePortModTarget(pm.PortNo) {
		of.ReplyError(rw, r, of.Of(ofp.ErrTypePortModFailed, ofp.ErrCodePortModFailedBadPort, r.XID))
		return
	}

	// §6's provider table has no dedicated "port modify" entry — only
	// port_add/port_del/port_dump/port_poll. PORT_MOD's only field
	// porttable.equal recognizes is the PORT_DOWN config bit (§4.4), so
	// it is applied to the cached record directly; the provider's own
	// view is reconciled on the next PortPoll-driven UpdatePort, the
	// same path any other out-of-band datapath change takes.
	s.mu.Lock()
	port, ok := s.ports.Get(pm.PortNo)
	if !ok {
		s.mu.Unlock()
		of.ReplyError(rw, r, of.Of(ofp.ErrTypePortModFailed, ofp.ErrCodePortModFailedBadPort, r.XID))
		return
	}
	port.Config = (port.Config &^ ofp.PortConfigDown) | (pm.Config & ofp.PortConfigDown)
	s.mu.Unlock()
}

// HandlePacketOut decodes a PACKET_OUT and drives it through the
// provider's ad-hoc PacketOut operation (§4.5's mutatingTypes, §6's
// packet_out). A buffered packet is resolved through the same
// of.ResolveBuffer path HandleFlowMod uses for a buffered FLOW_MOD.
func (s *Switch) HandlePacketOut(rw of.ResponseWriter, r *of.Request) {
	var po ofp.PacketOut
	if _, err := po.ReadFrom(r.Body); err != nil {
		of.ReplyError(rw, r, of.Of(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen, r.XID))
		return
	}

	var data []byte
	if po.Buffer == ofp.NoBuffer {
		raw, err := ioutil.ReadAll(r.Body)
		if err != nil {
			of.ReplyError(rw, r, of.Of(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen, r.XID))
			return
		}
		data = raw
	} else {
		buffered, _, err := of.ResolveBuffer(s.bufferStoreOrNil(), po.Buffer)
		if err != nil {
			if ofErr, ok := err.(*of.Error); ok {
				of.ReplyError(rw, r, ofErr)
			}
			return
		}
		data = buffered
	}

	instructions := ofp.Instructions{&ofp.InstructionApplyActions{Actions: po.Actions}}
	if err := s.provider.PacketOut(instructions, data); err != nil {
		s.handleProviderError(rw, r, err)
	}
}

// HandleFeaturesRequest answers FEATURES_REQUEST with this switch's
// identity and capabilities (§4.6).
func (s *Switch) HandleFeaturesRequest(rw of.ResponseWriter, r *of.Request) {
	s.mu.RLock()
	feat := ofp.SwitchFeatures{
		DatapathID:   s.DatapathID,
		NumBuffers:   s.NumBuffers,
		NumTables:    s.numTables,
		Capabilities: ofp.CapabilityFlowStats | ofp.CapabilityTableStats | ofp.CapabilityPortStats,
	}
	s.mu.RUnlock()

	*rw.Header() = of.Header{Version: r.Header.Version, Type: of.TypeFeaturesReply, XID: r.XID}
	feat.WriteTo(rw)
	rw.WriteHeader()
}

// HandleGetConfigRequest answers GET_CONFIG_REQUEST (§4.6).
func (s *Switch) HandleGetConfigRequest(rw of.ResponseWriter, r *of.Request) {
	s.mu.RLock()
	cfg := ofp.SwitchConfig{Flags: s.config, MissSendLength: s.missSend}
	s.mu.RUnlock()

	*rw.Header() = of.Header{Version: r.Header.Version, Type: of.TypeGetConfigReply, XID: r.XID}
	cfg.WriteTo(rw)
	rw.WriteHeader()
}

// HandleSetConfig applies SET_CONFIG, including the drop-fragments
// policy passthrough to the provider (§4.6, §6's GetDropFrags/SetDropFrags).
func (s *Switch) HandleSetConfig(rw of.ResponseWriter, r *of.Request) {
	var cfg ofp.SwitchConfig
	if _, err := cfg.ReadFrom(r.Body); err != nil {
		return
	}

	s.mu.Lock()
	s.config = cfg.Flags
	s.missSend = cfg.MissSendLength
	s.mu.Unlock()

	if err := s.provider.SetDropFrags(cfg.Flags); err != nil && !errors.Is(err, datapath.ErrNotSupported) {
		s.logger.Printf("ofswitch: %s: set-drop-frags failed: %s", s.Name, err)
	}
}

// HandleMultipartRequest answers the MULTIPART_REQUEST types this
// switch serves: description and aggregate flow statistics. Other
// types answer BAD_REQUEST/BAD_MULTIPART, matching a switch that does
// not implement every optional multipart type (§6, §7).
func (s *Switch) HandleMultipartRequest(rw of.ResponseWriter, r *of.Request) {
	var req ofp.MultipartRequest
	if _, err := req.ReadFrom(r.Body); err != nil {
		of.ReplyError(rw, r, of.Of(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen, r.XID))
		return
	}

	switch req.Type {
	case ofp.MultipartTypeDescription:
		s.mu.RLock()
		desc := s.description
		s.mu.RUnlock()

		*rw.Header() = of.Header{Version: r.Header.Version, Type: of.TypeMultipartReply, XID: r.XID}
		reply := ofp.MultipartReply{Type: req.Type}
		reply.WriteTo(rw)
		desc.WriteTo(rw)
		rw.WriteHeader()

	case ofp.MultipartTypeAggregate:
		var areq ofp.AggregateStatsRequest
		if _, err := areq.ReadFrom(req.Body); err != nil {
			of.ReplyError(rw, r, of.Of(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestLen, r.XID))
			return
		}
		stats, err := s.aggregateStats(&areq)
		if err != nil {
			s.handleProviderError(rw, r, err)
			return
		}

		*rw.Header() = of.Header{Version: r.Header.Version, Type: of.TypeMultipartReply, XID: r.XID}
		reply := ofp.MultipartReply{Type: req.Type}
		reply.WriteTo(rw)
		stats.WriteTo(rw)
		rw.WriteHeader()

	default:
		of.ReplyError(rw, r, of.Of(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestBadMultipart, r.XID))
	}
}

// Handler builds the per-connection TypeMux this switch serves its
// messages through, layering RoleGuard and the liveness handlers
// already provided by the core dispatcher (§4.5, §4.6). Nicira vendor
// messages (nx package) are demuxed ahead of the TypeMux dispatch: a
// TypeExperimenter request whose body matches one of nx.Matchers() has
// its Header.Type rewritten to the specific internal type before mux
// ever sees it.
func (s *Switch) Handler(state *of.ConnState) of.Handler {
	mux := of.NewTypeMux()
	mux.HandleFunc(of.TypeFlowMod, s.HandleFlowMod)
	mux.HandleFunc(of.TypePortMod, s.HandlePortMod)
	mux.HandleFunc(of.TypePacketOut, s.HandlePacketOut)
	mux.HandleFunc(of.TypeFeaturesRequest, s.HandleFeaturesRequest)
	mux.HandleFunc(of.TypeGetConfigRequest, s.HandleGetConfigRequest)
	mux.HandleFunc(of.TypeSetConfig, s.HandleSetConfig)
	mux.HandleFunc(of.TypeMultipartRequest, s.HandleMultipartRequest)
	mux.Handle(of.TypeBarrierRequest, of.BarrierHandler)
	mux.Handle(of.TypeEchoRequest, of.EchoHandler)
	mux.Handle(of.TypeFlowAge, of.DiscardHandler)

	mux.HandleFunc(of.TypeSetFlowFormat, func(rw of.ResponseWriter, r *of.Request) {
		var m nx.SetFlowFormat
		if _, err := m.ReadFrom(r.Body); err != nil {
			return
		}
		state.SetFlowFormat(m.Format)
	})
	mux.HandleFunc(of.TypeSetPacketInFormat, func(rw of.ResponseWriter, r *of.Request) {
		var m nx.SetPacketInFormat
		if _, err := m.ReadFrom(r.Body); err != nil {
			return
		}
		state.SetPacketInFormat(m.Format)
	})
	mux.HandleFunc(of.TypeSetControllerID, func(rw of.ResponseWriter, r *of.Request) {
		var m nx.SetControllerID
		if _, err := m.ReadFrom(r.Body); err != nil {
			return
		}
		state.SetControllerID(m.ControllerID)
	})

	matchers := nx.Matchers()
	demux := of.HandlerFunc(func(rw of.ResponseWriter, r *of.Request) {
		if r.Header.Type == of.TypeExperimenter {
			for _, m := range matchers {
				if m.Match(r) {
					break
				}
			}
		}
		mux.Serve(rw, r)
	})

	return of.RoleGuard(state, demux)
}

package ofswitch

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/netrack/ofcore"
	"github.com/netrack/ofcore/datapath"
	"github.com/netrack/ofcore/flowtable"
	"github.com/netrack/ofcore/nx"
	"github.com/netrack/ofcore/ofp"
	"github.com/netrack/ofcore/porttable"
)

// fakeProvider is an in-memory datapath.Provider stand-in: it mirrors
// rules into a slice and ports into a static list, with no real
// forwarding plane underneath.
type fakeProvider struct {
	rules      []*flowtable.Rule
	ports      []porttable.QueryResult
	dropFrags  ofp.ConfigFlag
	runErr     error
	portPoll   []string
	notSupport bool

	packetOutActions ofp.Instructions
	packetOutData    []byte
}

func (p *fakeProvider) RuleConstruct(r *flowtable.Rule) error { p.rules = append(p.rules, r); return nil }
func (p *fakeProvider) RuleDestruct(r *flowtable.Rule) error {
	for i, rr := range p.rules {
		if rr == r {
			p.rules = append(p.rules[:i], p.rules[i+1:]...)
			break
		}
	}
	return nil
}
func (p *fakeProvider) RuleModifyActions(r *flowtable.Rule, a ofp.Instructions) error { return nil }
func (p *fakeProvider) RuleGetStats(r *flowtable.Rule) (uint64, uint64, error)        { return 1, 2, nil }
func (p *fakeProvider) Flush() error                                                 { p.rules = nil; return nil }

func (p *fakeProvider) QueryPort(name string) (*porttable.QueryResult, error) {
	for _, r := range p.ports {
		if r.Port.Name == name {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

func (p *fakeProvider) Construct() error { return nil }
func (p *fakeProvider) Destruct() error  { return nil }
func (p *fakeProvider) Run() error       { return p.runErr }
func (p *fakeProvider) Wait() ([]uintptr, int) { return nil, -1 }

func (p *fakeProvider) PortAdd(name string, config ofp.PortConfig) (*ofp.Port, io.Closer, error) {
	if p.notSupport {
		return nil, nil, datapath.ErrNotSupported
	}
	return &ofp.Port{}, nil, nil
}
func (p *fakeProvider) PortDel(no ofp.PortNo) error { return nil }

type fakeCursor struct {
	results []porttable.QueryResult
	i       int
}

func (c *fakeCursor) Next() (porttable.QueryResult, bool, error) {
	if c.i >= len(c.results) {
		return porttable.QueryResult{}, false, nil
	}
	r := c.results[c.i]
	c.i++
	return r, true, nil
}
func (c *fakeCursor) Done() error { return nil }

func (p *fakeProvider) PortDumpStart() (datapath.PortCursor, error) {
	return &fakeCursor{results: p.ports}, nil
}
func (p *fakeProvider) PortPoll() ([]string, error) { return p.portPoll, nil }

func (p *fakeProvider) RuleRemove(r *flowtable.Rule) (bool, error) { return true, nil }
func (p *fakeProvider) RuleExecute(r *flowtable.Rule, data []byte) error { return nil }
func (p *fakeProvider) PacketOut(actions ofp.Instructions, data []byte) error {
	p.packetOutActions = actions
	p.packetOutData = data
	return nil
}
func (p *fakeProvider) GetDropFrags() (ofp.ConfigFlag, error) { return p.dropFrags, nil }
func (p *fakeProvider) SetDropFrags(f ofp.ConfigFlag) error   { p.dropFrags = f; return nil }

// fakeConn is a minimal of.Conn sufficient to back a response writer in
// tests, mirroring the root package's own dispatch_test.go fixture.
type fakeConn struct{ out bytes.Buffer }

func (c *fakeConn) Read([]byte) (int, error)                   { return 0, net.ErrClosed }
func (c *fakeConn) Write(b []byte) (int, error)                { return c.out.Write(b) }
func (c *fakeConn) Close() error                                { return nil }
func (c *fakeConn) LocalAddr() net.Addr                         { return nil }
func (c *fakeConn) RemoteAddr() net.Addr                        { return nil }
func (c *fakeConn) SetDeadline(time.Time) error                 { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error              { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error             { return nil }
func (c *fakeConn) Hijack() (net.Conn, *bufio.ReadWriter, error) { return nil, nil, nil }
func (c *fakeConn) Receive() (*of.Request, error)                { return nil, net.ErrClosed }
func (c *fakeConn) Send(r *of.Request) error                     { return nil }
func (c *fakeConn) Flush() error                                 { return nil }

// fakeResponseWriter implements of.ResponseWriter directly over a
// fakeConn, since of.response is unexported outside the root package.
type fakeResponseWriter struct {
	conn   *fakeConn
	header of.Header
	body   bytes.Buffer
}

func (w *fakeResponseWriter) Header() *of.Header                { return &w.header }
func (w *fakeResponseWriter) Write(b []byte) (int, error)       { return w.body.Write(b) }
func (w *fakeResponseWriter) Close() error                      { return w.conn.Close() }
func (w *fakeResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) { return w.conn.Hijack() }
func (w *fakeResponseWriter) WriteHeader() error {
	w.header.Length = uint16(of.HeaderLen + w.body.Len())
	if _, err := w.header.WriteTo(&w.conn.out); err != nil {
		return err
	}
	_, err := w.body.WriteTo(&w.conn.out)
	return err
}

func newTestSwitch(t *testing.T, p *fakeProvider) *Switch {
	t.Helper()
	sw, err := New(t.Name(), p, Options{DatapathID: 1, NumTables: 2, Clock: fixedClock(1000)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sw.Destroy() })
	return sw
}

type fixedClock int64

func (c fixedClock) NowMs() int64 { return int64(c) }

func TestNewPopulatesPortsFromProvider(t *testing.T) {
	p := &fakeProvider{ports: []porttable.QueryResult{
		{Port: ofp.Port{PortNo: 1, Name: "eth0"}},
	}}
	sw := newTestSwitch(t, p)

	if info := sw.Info(); info.NumPorts != 1 {
		t.Fatalf("NumPorts = %d; want 1", info.NumPorts)
	}
}

func TestNewFallsBackToRandomDatapathID(t *testing.T) {
	p := &fakeProvider{}
	sw, err := New(t.Name(), p, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer sw.Destroy()
	if sw.DatapathID == 0 {
		t.Fatalf("expected a non-zero fallback datapath id")
	}
}

func readHeader(t *testing.T, raw []byte) of.Header {
	t.Helper()
	var hdr of.Header
	if _, err := hdr.ReadFrom(bytes.NewReader(raw)); err != nil {
		t.Fatal(err)
	}
	return hdr
}

func TestHandleFlowModAddInstallsRule(t *testing.T) {
	p := &fakeProvider{}
	sw := newTestSwitch(t, p)

	fm := ofp.FlowMod{Command: ofp.FlowAdd, Buffer: ofp.NoBuffer, OutPort: ofp.PortAny, OutGroup: ofp.GroupAny}
	var buf bytes.Buffer
	fm.WriteTo(&buf)

	conn := &fakeConn{}
	rw := &fakeResponseWriter{conn: conn}
	r := &of.Request{Header: of.Header{Version: of.VersionOF12, Type: of.TypeFlowMod, XID: 1}, Body: bytes.NewReader(buf.Bytes()), XID: 1}

	sw.HandleFlowMod(rw, r)

	if conn.out.Len() != 0 {
		t.Fatalf("expected no error reply on success, got %d bytes", conn.out.Len())
	}
	if len(p.rules) != 1 {
		t.Fatalf("rules installed = %d; want 1", len(p.rules))
	}
}

func TestHandleFlowModBadTableIDFails(t *testing.T) {
	p := &fakeProvider{}
	sw := newTestSwitch(t, p)

	fm := ofp.FlowMod{Command: ofp.FlowAdd, Table: 5, Buffer: ofp.NoBuffer, OutPort: ofp.PortAny, OutGroup: ofp.GroupAny}
	var buf bytes.Buffer
	fm.WriteTo(&buf)

	conn := &fakeConn{}
	rw := &fakeResponseWriter{conn: conn}
	r := &of.Request{Header: of.Header{Version: of.VersionOF12, Type: of.TypeFlowMod, XID: 1}, Body: bytes.NewReader(buf.Bytes()), XID: 1}

	sw.HandleFlowMod(rw, r)

	hdr := readHeader(t, conn.out.Bytes())
	if hdr.Type != of.TypeError {
		t.Fatalf("hdr.Type = %v; want TypeError", hdr.Type)
	}

	var ofErr ofp.Error
	if _, err := ofErr.ReadFrom(bytes.NewReader(conn.out.Bytes()[of.HeaderLen:])); err != nil {
		t.Fatal(err)
	}
	if ofErr.Type != ofp.ErrTypeFlowModFailed || ofErr.Code != ofp.ErrCodeFlowModFailedBadTableID {
		t.Fatalf("ofErr = %+v; want FLOW_MOD_FAILED/BAD_TABLE_ID", ofErr)
	}
}

func TestHandleFlowModDeleteTableAllFansOutAcrossTables(t *testing.T) {
	p := &fakeProvider{}
	sw := newTestSwitch(t, p)

	nowMs := int64(1000)
	t0, _ := sw.Table(0)
	t1, _ := sw.Table(1)
	if _, err := t0.Add(nowMs, ofp.Match{}, 1, false, &flowtable.Rule{}); err != nil {
		t.Fatal(err)
	}
	if _, err := t1.Add(nowMs, ofp.Match{}, 1, false, &flowtable.Rule{}); err != nil {
		t.Fatal(err)
	}

	fm := ofp.FlowMod{Command: ofp.FlowDelete, Table: ofp.TableAll, Buffer: ofp.NoBuffer, OutPort: ofp.PortAny, OutGroup: ofp.GroupAny}
	var buf bytes.Buffer
	fm.WriteTo(&buf)

	conn := &fakeConn{}
	rw := &fakeResponseWriter{conn: conn}
	r := &of.Request{Header: of.Header{Version: of.VersionOF12, Type: of.TypeFlowMod, XID: 1}, Body: bytes.NewReader(buf.Bytes()), XID: 1}

	sw.HandleFlowMod(rw, r)

	if conn.out.Len() != 0 {
		t.Fatalf("expected no error reply, got %d bytes", conn.out.Len())
	}

	stats, err := sw.aggregateStats(&ofp.AggregateStatsRequest{Table: ofp.TableAll})
	if err != nil {
		t.Fatal(err)
	}
	if stats.FlowCount != 0 {
		t.Fatalf("FlowCount after delete-all = %d; want 0 across every table", stats.FlowCount)
	}
}

func TestHandlePacketOutCallsProvider(t *testing.T) {
	p := &fakeProvider{}
	sw := newTestSwitch(t, p)

	po := ofp.PacketOut{Buffer: ofp.NoBuffer, InPort: ofp.PortController}
	var buf bytes.Buffer
	po.WriteTo(&buf)
	buf.Write([]byte("hello"))

	conn := &fakeConn{}
	rw := &fakeResponseWriter{conn: conn}
	r := &of.Request{Header: of.Header{Version: of.VersionOF12, Type: of.TypePacketOut, XID: 1}, Body: bytes.NewReader(buf.Bytes()), XID: 1}

	sw.HandlePacketOut(rw, r)

	if conn.out.Len() != 0 {
		t.Fatalf("expected no error reply, got %d bytes", conn.out.Len())
	}
	if string(p.packetOutData) != "hello" {
		t.Fatalf("packetOutData = %q; want %q", p.packetOutData, "hello")
	}
}

func TestAggregateStatsOutOfRangeTableIsEmpty(t *testing.T) {
	p := &fakeProvider{}
	sw := newTestSwitch(t, p)

	stats, err := sw.aggregateStats(&ofp.AggregateStatsRequest{Table: 5})
	if err != nil {
		t.Fatal(err)
	}
	if stats.FlowCount != 0 || stats.PacketCount != 0 {
		t.Fatalf("stats = %+v; want all-zero for an out-of-range table_id", stats)
	}
}

func TestAggregateStatsTableAllSumsTables(t *testing.T) {
	p := &fakeProvider{}
	sw := newTestSwitch(t, p)

	nowMs := int64(1000)
	t0, _ := sw.Table(0)
	t1, _ := sw.Table(1)
	if _, err := t0.Add(nowMs, ofp.Match{}, 1, false, &flowtable.Rule{}); err != nil {
		t.Fatal(err)
	}
	if _, err := t1.Add(nowMs, ofp.Match{}, 1, false, &flowtable.Rule{}); err != nil {
		t.Fatal(err)
	}

	stats, err := sw.aggregateStats(&ofp.AggregateStatsRequest{Table: ofp.TableAll})
	if err != nil {
		t.Fatal(err)
	}
	if stats.FlowCount != 2 {
		t.Fatalf("FlowCount = %d; want 2 across both tables", stats.FlowCount)
	}
}

func TestHandlePortModAppliesDownBitOnly(t *testing.T) {
	p := &fakeProvider{ports: []porttable.QueryResult{{Port: ofp.Port{PortNo: 1, Name: "eth0"}}}}
	sw := newTestSwitch(t, p)

	pm := ofp.PortMod{PortNo: 1, Config: ofp.PortConfigDown, Mask: ofp.PortConfigDown}
	var buf bytes.Buffer
	pm.WriteTo(&buf)

	conn := &fakeConn{}
	rw := &fakeResponseWriter{conn: conn}
	r := &of.Request{Header: of.Header{Version: of.VersionOF12, Type: of.TypePortMod, XID: 1}, Body: bytes.NewReader(buf.Bytes()), XID: 1}

	sw.HandlePortMod(rw, r)

	port, ok := sw.ports.Get(1)
	if !ok {
		t.Fatal("expected port 1 to exist")
	}
	if port.Config&ofp.PortConfigDown == 0 {
		t.Fatalf("expected PORT_DOWN to be set after PORT_MOD")
	}
}

func TestHandleFeaturesRequestReportsDatapathID(t *testing.T) {
	p := &fakeProvider{}
	sw := newTestSwitch(t, p)

	conn := &fakeConn{}
	rw := &fakeResponseWriter{conn: conn}
	r := &of.Request{Header: of.Header{Version: of.VersionOF12, Type: of.TypeFeaturesRequest, XID: 7}, XID: 7}

	sw.HandleFeaturesRequest(rw, r)

	hdr := readHeader(t, conn.out.Bytes())
	if hdr.Type != of.TypeFeaturesReply || hdr.XID != 7 {
		t.Fatalf("hdr = %+v; want FEATURES_REPLY echoing xid 7", hdr)
	}

	var feat ofp.SwitchFeatures
	if _, err := feat.ReadFrom(bytes.NewReader(conn.out.Bytes()[of.HeaderLen:])); err != nil {
		t.Fatal(err)
	}
	if feat.DatapathID != sw.DatapathID {
		t.Fatalf("DatapathID = %d; want %d", feat.DatapathID, sw.DatapathID)
	}
}

func TestRunMarksSwitchDeadOnDeviceGone(t *testing.T) {
	p := &fakeProvider{runErr: datapath.ErrDeviceGone}
	sw := newTestSwitch(t, p)

	if err := sw.Run(1000); err == nil {
		t.Fatal("expected Run to propagate the provider's error")
	}
	if sw.Alive() {
		t.Fatalf("expected the switch to be marked dead after ErrDeviceGone")
	}
}

func TestHandlerDemuxesNiciraVendorMessage(t *testing.T) {
	p := &fakeProvider{}
	sw := newTestSwitch(t, p)

	state := of.NewConnState(of.KindPrimary)
	handler := sw.Handler(state)

	var body bytes.Buffer
	msg := nx.NewSetFlowFormat(of.FlowFormatNXM)
	if _, err := msg.WriteTo(&body); err != nil {
		t.Fatal(err)
	}

	conn := &fakeConn{}
	rw := &fakeResponseWriter{conn: conn}
	r := &of.Request{
		Header: of.Header{Version: of.VersionOF12, Type: of.TypeExperimenter, XID: 1},
		Body:   bytes.NewReader(body.Bytes()),
		XID:    1,
	}

	handler.Serve(rw, r)

	if got := state.FlowFormat(); got != of.FlowFormatNXM {
		t.Fatalf("FlowFormat = %v; want %v", got, of.FlowFormatNXM)
	}
}

func TestHandlerLeavesUnmatchedExperimenterToDefault(t *testing.T) {
	p := &fakeProvider{}
	sw := newTestSwitch(t, p)

	state := of.NewConnState(of.KindPrimary)
	handler := sw.Handler(state)

	conn := &fakeConn{}
	rw := &fakeResponseWriter{conn: conn}
	r := &of.Request{
		Header: of.Header{Version: of.VersionOF12, Type: of.TypeExperimenter, XID: 1},
		Body:   bytes.NewReader([]byte{0, 0, 0, 1, 0, 0, 0, 1}),
		XID:    1,
	}

	// Must not panic on an unrecognized vendor id; falls through to the
	// TypeMux's DefaultHandler, which discards it.
	handler.Serve(rw, r)
}

func TestSetFailModeIgnoresUnsupportedProvider(t *testing.T) {
	p := &fakeProvider{}
	sw := newTestSwitch(t, p)

	if err := sw.SetFailMode(FailModeStandalone); err != nil {
		t.Fatalf("SetFailMode on a provider without PassthroughConfigurator should not fail: %s", err)
	}
	if sw.Info().FailMode != FailModeStandalone {
		t.Fatalf("FailMode not recorded locally")
	}
}

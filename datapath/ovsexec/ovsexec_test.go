package ovsexec

import (
	"errors"
	"strings"
	"testing"

	"github.com/netrack/ofcore/datapath"
	"github.com/netrack/ofcore/flowtable"
	"github.com/netrack/ofcore/ofp"
)

// fakeCLI mirrors ovs.MockOvsCLI: a scripted stand-in for the real
// ovs-vsctl/ovs-ofctl/ovs-dpctl binaries, switching on the invoked
// binary and its first argument.
type fakeCLI struct {
	calls [][]string
	show  string
	err   error
}

func (c *fakeCLI) Exec(bin string, args ...string) ([]byte, error) {
	c.calls = append(c.calls, append([]string{bin}, args...))

	if c.err != nil {
		return nil, c.err
	}

	if bin == "ovs-ofctl" && len(args) > 0 && args[0] == "show" {
		return []byte(c.show), nil
	}
	if bin == "ovs-ofctl" && len(args) > 0 && args[0] == "dump-flows" {
		return []byte("cookie=0x1, table=0, n_packets=3, n_bytes=180, actions=drop\n"), nil
	}
	return []byte{}, nil
}

func newTestProvider(cli *fakeCLI) *Provider {
	p := New("br-test")
	p.cli = cli
	return p
}

func (c *fakeCLI) lastCall() []string {
	if len(c.calls) == 0 {
		return nil
	}
	return c.calls[len(c.calls)-1]
}

func TestConstructAddsBridgeMayExist(t *testing.T) {
	cli := &fakeCLI{}
	p := newTestProvider(cli)

	if err := p.Construct(); err != nil {
		t.Fatal(err)
	}

	call := cli.lastCall()
	want := []string{"ovs-vsctl", "--may-exist", "add-br", "br-test"}
	if strings.Join(call, " ") != strings.Join(want, " ") {
		t.Fatalf("call = %v; want %v", call, want)
	}
}

func TestDestructRemovesBridgeIfExists(t *testing.T) {
	cli := &fakeCLI{}
	p := newTestProvider(cli)

	if err := p.Destruct(); err != nil {
		t.Fatal(err)
	}

	call := cli.lastCall()
	want := []string{"ovs-vsctl", "--if-exists", "del-br", "br-test"}
	if strings.Join(call, " ") != strings.Join(want, " ") {
		t.Fatalf("call = %v; want %v", call, want)
	}
}

func TestRunReportsDeviceGoneWhenBridgeMissing(t *testing.T) {
	cli := &fakeCLI{err: errors.New("ovs-vsctl: no bridge named br-test")}
	p := newTestProvider(cli)

	err := p.Run()
	if !errors.Is(err, datapath.ErrDeviceGone) {
		t.Fatalf("Run() = %v; want datapath.ErrDeviceGone", err)
	}
}

type fakeDPLiveness struct {
	exists bool
	err    error
}

func (f fakeDPLiveness) Exists(name string) (bool, error) { return f.exists, f.err }

func TestRunPrefersDatapathClientOverShellCheck(t *testing.T) {
	cli := &fakeCLI{}
	p := New("br-test", func(p *Provider) {
		p.cli = cli
	})
	WithDatapathClient(fakeDPLiveness{exists: true}, "ovs-system")(p)

	if err := p.Run(); err != nil {
		t.Fatalf("Run() = %v; want nil", err)
	}
	if len(cli.calls) != 0 {
		t.Fatalf("expected no shell calls when a datapath client is set, got %v", cli.calls)
	}
}

func TestRunReportsDeviceGoneFromDatapathClient(t *testing.T) {
	p := New("br-test", WithDatapathClient(fakeDPLiveness{exists: false}, "ovs-system"))

	if err := p.Run(); !errors.Is(err, datapath.ErrDeviceGone) {
		t.Fatalf("Run() = %v; want datapath.ErrDeviceGone", err)
	}
}

func TestShowPortsParsesPortListing(t *testing.T) {
	cli := &fakeCLI{show: "OFPT_FEATURES_REPLY:\n" +
		" 1(eth0): addr:00:11:22:33:44:55\n" +
		"     config:     0\n" +
		" 2(eth1): addr:00:11:22:33:44:56\n" +
		" LOCAL(br-test): addr:00:00:00:00:00:01\n"}
	p := newTestProvider(cli)

	results, err := p.showPorts()
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d ports; want 2 (LOCAL line has a non-numeric port id and is skipped)", len(results))
	}
	if results[0].Port.Name != "eth0" || results[0].Port.PortNo != 1 {
		t.Fatalf("unexpected first port: %+v", results[0])
	}
	if results[1].Port.Name != "eth1" || results[1].Port.PortNo != 2 {
		t.Fatalf("unexpected second port: %+v", results[1])
	}
}

func TestPortPollReportsAddedAndRemovedNames(t *testing.T) {
	cli := &fakeCLI{show: " 1(eth0): addr:00:11:22:33:44:55\n"}
	p := newTestProvider(cli)

	if _, err := p.PortDumpStart(); err != nil {
		t.Fatal(err)
	}

	cli.show = " 2(eth1): addr:00:11:22:33:44:56\n"
	changed, err := p.PortPoll()
	if err != nil {
		t.Fatal(err)
	}

	var gotEth0, gotEth1 bool
	for _, name := range changed {
		switch name {
		case "eth0":
			gotEth0 = true
		case "eth1":
			gotEth1 = true
		}
	}
	if !gotEth0 || !gotEth1 {
		t.Fatalf("changed = %v; want both eth0 (removed) and eth1 (added)", changed)
	}
}

func TestRuleConstructBuildsCookieAndActionSpec(t *testing.T) {
	cli := &fakeCLI{}
	p := newTestProvider(cli)

	r := &flowtable.Rule{
		Cookie:   0x2a,
		Priority: 100,
		Instructions: ofp.Instructions{
			&ofp.InstructionApplyActions{
				Actions: ofp.Actions{&ofp.ActionOutput{Port: 3}},
			},
		},
	}

	if err := p.RuleConstruct(r); err != nil {
		t.Fatal(err)
	}

	call := cli.lastCall()
	if len(call) != 4 || call[0] != "ovs-ofctl" || call[1] != "add-flow" || call[2] != "br-test" {
		t.Fatalf("unexpected call: %v", call)
	}
	spec := call[3]
	if !strings.Contains(spec, "cookie=0x2a") {
		t.Fatalf("spec %q missing cookie", spec)
	}
	if !strings.Contains(spec, "priority=100") {
		t.Fatalf("spec %q missing priority", spec)
	}
	if !strings.Contains(spec, "actions=output:3") {
		t.Fatalf("spec %q missing action", spec)
	}
}

func TestRuleConstructDefaultsToDropWithNoActions(t *testing.T) {
	cli := &fakeCLI{}
	p := newTestProvider(cli)

	r := &flowtable.Rule{Cookie: 1, Priority: 1}
	if err := p.RuleConstruct(r); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(cli.lastCall()[3], "actions=drop") {
		t.Fatalf("spec %q; want drop default", cli.lastCall()[3])
	}
}

func TestRuleGetStatsParsesCounters(t *testing.T) {
	cli := &fakeCLI{}
	p := newTestProvider(cli)

	packets, bytes, err := p.RuleGetStats(&flowtable.Rule{Cookie: 1})
	if err != nil {
		t.Fatal(err)
	}
	if packets != 3 || bytes != 180 {
		t.Fatalf("got packets=%d bytes=%d; want 3, 180", packets, bytes)
	}
}

func TestGetSetDropFragsRoundTrips(t *testing.T) {
	p := newTestProvider(&fakeCLI{})

	if err := p.SetDropFrags(ofp.ConfigFlagFragDrop); err != nil {
		t.Fatal(err)
	}
	got, err := p.GetDropFrags()
	if err != nil {
		t.Fatal(err)
	}
	if got != ofp.ConfigFlagFragDrop {
		t.Fatalf("GetDropFrags() = %v; want ConfigFlagFragDrop", got)
	}
}

package flowtable

import (
	"testing"

	"github.com/netrack/ofcore/classifier"
	"github.com/netrack/ofcore/ofp"
)

type fakeProvider struct {
	constructed []*Rule
	destructed  []*Rule
	modified    int
	flushed     bool
	stats       map[*Rule][2]uint64
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{stats: make(map[*Rule][2]uint64)}
}

func (p *fakeProvider) RuleConstruct(r *Rule) error {
	p.constructed = append(p.constructed, r)
	return nil
}

func (p *fakeProvider) RuleDestruct(r *Rule) error {
	p.destructed = append(p.destructed, r)
	return nil
}

func (p *fakeProvider) RuleModifyActions(r *Rule, actions ofp.Instructions) error {
	p.modified++
	return nil
}

func (p *fakeProvider) RuleGetStats(r *Rule) (uint64, uint64, error) {
	s := p.stats[r]
	return s[0], s[1], nil
}

func (p *fakeProvider) Flush() error {
	p.flushed = true
	return nil
}

type fakeNotifier struct {
	events []RemovedNotification
}

func (n *fakeNotifier) NotifyFlowRemoved(e RemovedNotification) {
	n.events = append(n.events, e)
}

func exactMatch(octet byte) ofp.Match {
	return ofp.Match{Fields: []ofp.XM{
		{Class: ofp.XMClassOpenflowBasic, Type: ofp.XMTypeIPv4Src, Value: ofp.XMValue{10, 0, 0, octet}},
	}}
}

func wildcardMatch(octet byte, maskBits int) ofp.Match {
	mask := make(ofp.XMValue, 4)
	for i := 0; i < maskBits/8; i++ {
		mask[i] = 0xff
	}
	return ofp.Match{Fields: []ofp.XM{
		{Class: ofp.XMClassOpenflowBasic, Type: ofp.XMTypeIPv4Src, Value: ofp.XMValue{10, 0, 0, octet}, Mask: mask},
	}}
}

func TestAddThenLookup(t *testing.T) {
	p := newFakeProvider()
	tbl := New(0, p, nil, nil, nil)

	ofErr, err := tbl.Add(0, exactMatch(1), 100, false, &Rule{})
	if err != nil || ofErr != nil {
		t.Fatalf("Add: %v, %v", ofErr, err)
	}

	m := exactMatch(1)
	r, ok := tbl.Lookup(&m)
	if !ok {
		t.Fatalf("expected a lookup hit")
	}
	if len(p.constructed) != 1 || p.constructed[0] != r {
		t.Fatalf("provider RuleConstruct not invoked with the installed rule")
	}
}

// TestAddReplacesExactPredecessor covers the idempotent-ADD law.
func TestAddReplacesExactPredecessor(t *testing.T) {
	p := newFakeProvider()
	tbl := New(0, p, nil, nil, nil)

	m := exactMatch(1)
	if _, err := tbl.Add(0, m, 100, false, &Rule{Cookie: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Add(0, m, 100, false, &Rule{Cookie: 2}); err != nil {
		t.Fatal(err)
	}

	if got := tbl.c.Len(); got != 1 {
		t.Fatalf("Len() = %d; want 1 (replace, not accumulate)", got)
	}
	r, ok := tbl.c.FindExactly(&m, 100)
	if !ok || r.Cookie != 2 {
		t.Fatalf("expected the second ADD's rule to survive, got %+v", r)
	}
	if len(p.destructed) != 1 {
		t.Fatalf("expected the replaced predecessor to be destructed")
	}
}

// TestAddOverlapRejected covers seed scenario 2.
func TestAddOverlapRejected(t *testing.T) {
	p := newFakeProvider()
	tbl := New(0, p, nil, nil, nil)

	if _, err := tbl.Add(0, wildcardMatch(0, 24), 100, false, &Rule{}); err != nil {
		t.Fatal(err)
	}

	ofErr, err := tbl.Add(0, wildcardMatch(1, 32), 100, true, &Rule{})
	if err != nil {
		t.Fatal(err)
	}
	if ofErr == nil || ofErr.Type != ofp.ErrTypeFlowModFailed || ofErr.Code != ofp.ErrCodeFlowModFailedOverlap {
		t.Fatalf("expected FLOW_MOD_FAILED/OVERLAP, got %v", ofErr)
	}

	// Without the check, both coexist.
	ofErr, err = tbl.Add(0, wildcardMatch(1, 32), 100, false, &Rule{})
	if err != nil || ofErr != nil {
		t.Fatalf("Add without CHECK_OVERLAP should succeed: %v, %v", ofErr, err)
	}
	if tbl.c.Len() != 2 {
		t.Fatalf("Len() = %d; want 2", tbl.c.Len())
	}
}

// TestModifyLooseFallsThroughToAdd covers the MODIFY-matches-nothing law.
func TestModifyLooseFallsThroughToAdd(t *testing.T) {
	p := newFakeProvider()
	tbl := New(0, p, nil, nil, nil)

	m := exactMatch(1)
	ofErr, err := tbl.ModifyLoose(0, m, 100, 0, false, nil, &Rule{})
	if err != nil || ofErr != nil {
		t.Fatalf("ModifyLoose fallthrough: %v, %v", ofErr, err)
	}
	if tbl.c.Len() != 1 {
		t.Fatalf("expected ModifyLoose with no match to install a rule")
	}
}

func TestModifyLooseSkipsDatapathOnNoopActions(t *testing.T) {
	p := newFakeProvider()
	tbl := New(0, p, nil, nil, nil)

	m := exactMatch(1)
	actions := ofp.Instructions{&ofp.InstructionApplyActions{Actions: ofp.Actions{&ofp.ActionOutput{Port: 2}}}}
	if _, err := tbl.Add(0, m, 100, false, &Rule{Instructions: actions}); err != nil {
		t.Fatal(err)
	}

	if _, err := tbl.ModifyLoose(0, m, 100, 0, false, actions, &Rule{}); err != nil {
		t.Fatal(err)
	}
	if p.modified != 0 {
		t.Fatalf("expected the no-op action replacement to skip the datapath call")
	}
}

func TestDeleteAfterDeleteIsNoop(t *testing.T) {
	p := newFakeProvider()
	tbl := New(0, p, nil, nil, nil)

	m := exactMatch(1)
	if _, err := tbl.Add(0, m, 100, false, &Rule{}); err != nil {
		t.Fatal(err)
	}
	if err := tbl.DeleteStrict(0, m, 100, ofp.FlowReasonDelete); err != nil {
		t.Fatal(err)
	}
	if err := tbl.DeleteStrict(0, m, 100, ofp.FlowReasonDelete); err != nil {
		t.Fatal(err)
	}
	if len(p.destructed) != 1 {
		t.Fatalf("second DeleteStrict should be a no-op, got %d destructs", len(p.destructed))
	}
}

// TestHardTimeoutExpiry covers seed scenario 4.
func TestHardTimeoutExpiry(t *testing.T) {
	p := newFakeProvider()
	n := &fakeNotifier{}
	tbl := New(0, p, nil, n, nil)

	m := exactMatch(1)
	if _, err := tbl.Add(0, m, 100, false, &Rule{HardTimeout: 1, SendFlowRemoved: true}); err != nil {
		t.Fatal(err)
	}

	if err := tbl.SweepHardTimeouts(1200); err != nil {
		t.Fatal(err)
	}

	if len(n.events) != 1 || n.events[0].Reason != ofp.FlowReasonHardTimeout {
		t.Fatalf("expected one HARD_TIMEOUT notification, got %+v", n.events)
	}
	if _, ok := tbl.Lookup(&m); ok {
		t.Fatalf("expired rule should no longer be found by Lookup")
	}
}

func TestHiddenRuleExcludedFromDeleteLooseAndNotifications(t *testing.T) {
	p := newFakeProvider()
	n := &fakeNotifier{}
	tbl := New(0, p, nil, n, nil)

	m := ofp.Match{}
	if _, err := tbl.Add(0, m, classifier.HiddenThreshold+1, false, &Rule{SendFlowRemoved: true}); err != nil {
		t.Fatal(err)
	}

	if err := tbl.DeleteLoose(0, m, ofp.FlowReasonDelete); err != nil {
		t.Fatal(err)
	}
	if tbl.c.Len() != 1 {
		t.Fatalf("delete-loose must not remove hidden rules")
	}
	if len(n.events) != 0 {
		t.Fatalf("hidden rules must not emit flow-removed notifications")
	}
}

func TestAggregateStatsExcludesHiddenRules(t *testing.T) {
	p := newFakeProvider()
	tbl := New(0, p, nil, nil, nil)

	visible := &Rule{}
	if _, err := tbl.Add(0, exactMatch(1), 100, false, visible); err != nil {
		t.Fatal(err)
	}
	hidden := &Rule{}
	if _, err := tbl.Add(0, exactMatch(2), classifier.HiddenThreshold+1, false, hidden); err != nil {
		t.Fatal(err)
	}
	p.stats[visible] = [2]uint64{10, 1000}
	p.stats[hidden] = [2]uint64{99, 9999}

	packets, bytesCount, flows, err := tbl.AggregateStats(&ofp.Match{})
	if err != nil {
		t.Fatal(err)
	}
	if packets != 10 || bytesCount != 1000 || flows != 1 {
		t.Fatalf("AggregateStats = (%d, %d, %d); want (10, 1000, 1) excluding hidden rule", packets, bytesCount, flows)
	}
}

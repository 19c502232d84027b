// Package flowtable implements flow lifecycle (C3): install, modify,
// delete, timeout expiry, removal notifications, and per-rule/
// aggregate statistics, layered over classifier.Classifier.
package flowtable

import (
	"bytes"
	"time"

	"github.com/netrack/ofcore/classifier"
	"github.com/netrack/ofcore/ofp"
)

// Clock abstracts the monotonic wall-clock source so tests can control
// elapsed time; production code uses RealClock. §4.3: "now_ms is
// monotonic wall time sampled once per message."
type Clock interface {
	NowMs() int64
}

// RealClock implements Clock using the host clock.
type RealClock struct{}

// NowMs returns the current time in milliseconds.
func (RealClock) NowMs() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// Provider is the subset of the datapath provider contract (§6) the
// flow table needs: mirroring rule construction, action updates,
// removal, and fetching live counters. It is a narrower view of the
// same provider datapath.Provider exposes, so flowtable has no import
// dependency on the datapath package.
type Provider interface {
	RuleConstruct(r *Rule) error
	RuleDestruct(r *Rule) error
	RuleModifyActions(r *Rule, actions ofp.Instructions) error
	RuleGetStats(r *Rule) (packets, bytes uint64, err error)
	Flush() error
}

// Rule is one classifier entry together with the lifecycle state C3
// owns: timeouts, cookie, notification preference, and the creation
// timestamp duration/statistics are computed from.
type Rule struct {
	Match       ofp.Match
	Priority    classifier.Priority
	Cookie      uint64
	IdleTimeout uint16
	HardTimeout uint16
	CreatedMs   int64

	SendFlowRemoved bool
	Instructions    ofp.Instructions

	// deadlineMs is precomputed at install/refresh time to avoid
	// recomputation on every expiry scan; 0 means no hard deadline.
	deadlineMs int64
}

// ClassifierMatch implements classifier.Entry.
func (r *Rule) ClassifierMatch() *ofp.Match { return &r.Match }

// ClassifierPriority implements classifier.Entry.
func (r *Rule) ClassifierPriority() classifier.Priority { return r.Priority }

// Hidden reports whether r is a hidden, non-controller-visible rule.
func (r *Rule) Hidden() bool { return r.Priority.Hidden() }

// Duration returns the seconds/nanoseconds elapsed since r was
// created, measured against nowMs (§4.3's duration computation).
func (r *Rule) Duration(nowMs int64) (sec uint32, nsec uint32) {
	elapsed := nowMs - r.CreatedMs
	if elapsed < 0 {
		elapsed = 0
	}
	return uint32(elapsed / 1000), uint32((elapsed % 1000) * 1_000_000)
}

// RemovedNotification is the payload of a flow-removed event (§4.3).
type RemovedNotification struct {
	Match        ofp.Match
	Cookie       uint64
	Priority     uint16
	Reason       ofp.FlowRemovedReason
	DurationSec  uint32
	DurationNSec uint32
	IdleTimeout  uint16
	PacketCount  uint64
	ByteCount    uint64
}

// Notifier is called whenever a non-hidden rule with SendFlowRemoved
// set is removed by a delete, an expiry or a hard-timeout sweep. Add's
// replacement of an exact predecessor and Flush remove rules without
// notifying.
type Notifier interface {
	NotifyFlowRemoved(RemovedNotification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(RemovedNotification)

// NotifyFlowRemoved implements Notifier.
func (f NotifierFunc) NotifyFlowRemoved(n RemovedNotification) { f(n) }

// Table owns one flow classifier plus its lifecycle policy: install,
// modify, delete, timeout sweeps, and aggregate statistics. One Table
// exists per OpenFlow table id on the switch (the OF1.0 baseline has a
// single table id 0; OF1.1+'s multi-table pipeline is represented by
// the owning switch keeping one Table per id — see the ofswitch
// package).
type Table struct {
	ID       ofp.Table
	c        *classifier.Classifier[*Rule]
	provider Provider
	clock    Clock
	notifier Notifier
	logger   RateLimiter
}

// RateLimiter is the narrow logging surface Table needs; of.RateLimitedLogger
// satisfies it.
type RateLimiter interface {
	Printf(format string, args ...interface{})
}

// discardLogger drops every line; used when no logger is supplied.
type discardLogger struct{}

func (discardLogger) Printf(string, ...interface{}) {}

// New allocates an empty Table for the given OF table id.
func New(id ofp.Table, provider Provider, clock Clock, notifier Notifier, logger RateLimiter) *Table {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = discardLogger{}
	}
	return &Table{
		ID:       id,
		c:        classifier.New[*Rule](),
		provider: provider,
		clock:    clock,
		notifier: notifier,
		logger:   logger,
	}
}

// equalInstructions reports whether two instruction sets encode
// identically, used by MODIFY's no-op check (§4.3: "equal action
// vectors skip the datapath call").
func equalInstructions(a, b ofp.Instructions) bool {
	var abuf, bbuf bytes.Buffer
	if _, err := a.WriteTo(&abuf); err != nil {
		return false
	}
	if _, err := b.WriteTo(&bbuf); err != nil {
		return false
	}
	return bytes.Equal(abuf.Bytes(), bbuf.Bytes())
}

// Add installs a new rule, replacing any existing exact (match,
// priority) predecessor (§4.3 replacement policy). If checkOverlap is
// set and an overlapping rule exists at the same priority, Add fails
// with ofp.ErrCodeFlowModFailedOverlap and installs nothing.
func (t *Table) Add(nowMs int64, match ofp.Match, priority classifier.Priority, checkOverlap bool, rule *Rule) (*ofp.Error, error) {
	if checkOverlap && t.c.Overlaps(&match, priority) {
		return &ofp.Error{Type: ofp.ErrTypeFlowModFailed, Code: ofp.ErrCodeFlowModFailedOverlap}, nil
	}

	if prev, ok := t.c.FindExactly(&match, priority); ok {
		t.c.Remove(&match, priority)
		if err := t.provider.RuleDestruct(prev); err != nil {
			return nil, err
		}
	}

	rule.Match = match
	rule.Priority = priority
	rule.CreatedMs = nowMs
	if rule.HardTimeout > 0 {
		rule.deadlineMs = nowMs + int64(rule.HardTimeout)*1000
	}

	if err := t.provider.RuleConstruct(rule); err != nil {
		return nil, err
	}
	t.c.Insert(rule)
	return nil, nil
}

// ModifyLoose replaces the action list (and, if supplied, the cookie)
// of every rule whose match is subsumed by match. If no rule matches,
// it falls through to Add at the given priority (§4.3, Open Question
// decision: intentional, matching observed controller expectations).
func (t *Table) ModifyLoose(nowMs int64, match ofp.Match, priority classifier.Priority, cookie uint64, setCookie bool, instructions ofp.Instructions, rule *Rule) (*ofp.Error, error) {
	cur := t.c.CursorInit(&match)
	matched := false

	for {
		r, ok := cur.Next()
		if !ok {
			break
		}
		matched = true
		if err := t.modifyOne(r, cookie, setCookie, instructions); err != nil {
			return nil, err
		}
	}

	if !matched {
		return t.Add(nowMs, match, priority, false, rule)
	}
	return nil, nil
}

// ModifyStrict replaces the exact (match, priority) rule's action
// list, if it exists; a miss is a silent no-op (OF1.0-1.2 do not error
// on a strict-modify miss).
func (t *Table) ModifyStrict(match ofp.Match, priority classifier.Priority, cookie uint64, setCookie bool, instructions ofp.Instructions) (*ofp.Error, error) {
	r, ok := t.c.FindExactly(&match, priority)
	if !ok {
		return nil, nil
	}
	return nil, t.modifyOne(r, cookie, setCookie, instructions)
}

func (t *Table) modifyOne(r *Rule, cookie uint64, setCookie bool, instructions ofp.Instructions) error {
	if setCookie {
		r.Cookie = cookie
	}
	if equalInstructions(r.Instructions, instructions) {
		return nil
	}
	if err := t.provider.RuleModifyActions(r, instructions); err != nil {
		return err
	}
	r.Instructions = instructions
	return nil
}

// DeleteLoose removes every non-strict-matching rule (excluding hidden
// rules, per §4.2's "not returned by OF stats or delete-loose"),
// emitting a removal notification for each where SendFlowRemoved is
// set.
func (t *Table) DeleteLoose(nowMs int64, match ofp.Match, reason ofp.FlowRemovedReason) error {
	cur := t.c.CursorInit(&match)
	for {
		r, ok := cur.Next()
		if !ok {
			return nil
		}
		if r.Hidden() {
			continue
		}
		if err := t.remove(nowMs, r, reason); err != nil {
			return err
		}
	}
}

// DeleteStrict removes the exact (match, priority) rule, if present.
func (t *Table) DeleteStrict(nowMs int64, match ofp.Match, priority classifier.Priority, reason ofp.FlowRemovedReason) error {
	r, ok := t.c.FindExactly(&match, priority)
	if !ok {
		return nil
	}
	return t.remove(nowMs, r, reason)
}

// Expire is called by the periodic sweep (driven by the owning
// switch's run loop) with a rule the datapath provider reported as
// timed out. The rule is removed and, unless hidden, a removal
// notification is emitted subject to SendFlowRemoved.
func (t *Table) Expire(nowMs int64, r *Rule, reason ofp.FlowRemovedReason) error {
	return t.remove(nowMs, r, reason)
}

// SweepHardTimeouts removes every rule whose hard timeout has elapsed
// as of nowMs, emitting notifications. This models
// the "core expires a rule within one polling quantum" half of
// invariant 5; the companion idle-timeout half is driven by the
// datapath provider, which alone observes traffic.
func (t *Table) SweepHardTimeouts(nowMs int64) error {
	for _, r := range t.c.All() {
		if r.deadlineMs == 0 || nowMs < r.deadlineMs {
			continue
		}
		if err := t.remove(nowMs, r, ofp.FlowReasonHardTimeout); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) remove(nowMs int64, r *Rule, reason ofp.FlowRemovedReason) error {
	t.c.Remove(&r.Match, r.Priority)

	if !r.Hidden() && r.SendFlowRemoved && t.notifier != nil {
		sec, nsec := r.Duration(nowMs)
		packets, byteCount, err := t.provider.RuleGetStats(r)
		if err != nil {
			t.logger.Printf("flowtable: stats fetch on removal failed: %s", err)
		}
		t.notifier.NotifyFlowRemoved(RemovedNotification{
			Match:        r.Match,
			Cookie:       r.Cookie,
			Priority:     uint16(r.Priority),
			Reason:       reason,
			DurationSec:  sec,
			DurationNSec: nsec,
			IdleTimeout:  r.IdleTimeout,
			PacketCount:  packets,
			ByteCount:    byteCount,
		})
	}

	return t.provider.RuleDestruct(r)
}

// Flush removes every rule, issuing a single batched provider call
// where supported.
func (t *Table) Flush() error {
	for _, r := range t.c.All() {
		t.c.Remove(&r.Match, r.Priority)
	}
	return t.provider.Flush()
}

// Lookup returns the highest-priority rule whose match subsumes flow.
func (t *Table) Lookup(flow *ofp.Match) (*Rule, bool) {
	return t.c.Lookup(flow)
}

// AggregateStats accumulates packet_count, byte_count, and flow_count
// over every non-hidden rule subsumed by match. Table ids other than
// 0 and 0xff are the caller's concern (the owning switch multiplexes
// per-table Tables and returns an empty result for unknown ids, per
// §4.3's boundary behavior); this method always scans its own table.
func (t *Table) AggregateStats(match *ofp.Match) (packets, byteCount uint64, flowCount uint32, err error) {
	cur := t.c.CursorInit(match)
	for {
		r, ok := cur.Next()
		if !ok {
			return packets, byteCount, flowCount, nil
		}
		if r.Hidden() {
			continue
		}
		p, b, serr := t.provider.RuleGetStats(r)
		if serr != nil {
			return 0, 0, 0, serr
		}
		packets += p
		byteCount += b
		flowCount++
	}
}

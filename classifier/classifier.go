package classifier

import "github.com/netrack/ofcore/ofp"

// Priority is the classifier's internal priority type. The OF wire
// field is 16 bits (0..65535, controller-visible); this core widens it
// to 32 bits so hidden, internally-installed rules can be placed above
// the entire controller-visible range without colliding with it (see
// Hidden, and DESIGN.md's Open Question decisions).
type Priority int32

// HiddenThreshold is the lowest priority reserved for rules installed
// by internal subsystems rather than a controller. Hidden rules are
// omitted from OF stats, delete-loose, and per-controller flow-removed
// notifications, but are included in admin dumps.
const HiddenThreshold Priority = 1 << 16

// Hidden reports whether p denotes a hidden, non-controller-visible
// rule.
func (p Priority) Hidden() bool {
	return p >= HiddenThreshold
}

// Entry is the minimal shape a classifier needs from whatever payload
// type T a caller instantiates Classifier with. flowtable.Rule
// implements it; tests may use a bare struct.
type Entry interface {
	ClassifierMatch() *ofp.Match
	ClassifierPriority() Priority
}

type entry[T Entry] struct {
	value T
	seq   uint64
}

// Classifier stores (match, priority) → T, answering the three core
// queries (find_exactly, lookup, overlaps) plus safe cursor traversal.
// §5 establishes the core as single-threaded cooperative: no lock
// guards the entries slice, matching the rest of this codebase's
// concurrency model.
//
// The representation is a flat, insertion-ordered slice searched
// linearly; this is the simplest of the concrete strategies §4.2
// explicitly leaves open ("tuple-space search, decision tree, etc.")
// and is adequate for the rule-set sizes a single software switch
// carries. Swapping it for a tuple-space index later would not change
// this type's exported behavior.
type Classifier[T Entry] struct {
	entries []entry[T]
	nextSeq uint64
}

// New allocates an empty Classifier.
func New[T Entry]() *Classifier[T] {
	return &Classifier[T]{}
}

// Insert adds v to the classifier. It does not check for or replace an
// existing exact (match, priority) entry — ADD's replacement policy
// (§4.3) is the flow-lifecycle layer's responsibility, built from
// FindExactly and Remove.
func (c *Classifier[T]) Insert(v T) {
	c.entries = append(c.entries, entry[T]{value: v, seq: c.nextSeq})
	c.nextSeq++
}

// FindExactly returns the entry whose match and priority exactly equal
// the arguments, if one exists.
func (c *Classifier[T]) FindExactly(match *ofp.Match, priority Priority) (T, bool) {
	for _, e := range c.entries {
		if e.value.ClassifierPriority() == priority && Equal(e.value.ClassifierMatch(), match) {
			return e.value, true
		}
	}
	var zero T
	return zero, false
}

// Remove deletes the entry with the exact (match, priority) pair,
// returning it. At most one such entry can exist (invariant 2).
func (c *Classifier[T]) Remove(match *ofp.Match, priority Priority) (T, bool) {
	for i, e := range c.entries {
		if e.value.ClassifierPriority() == priority && Equal(e.value.ClassifierMatch(), match) {
			c.entries = append(c.entries[:i:i], c.entries[i+1:]...)
			return e.value, true
		}
	}
	var zero T
	return zero, false
}

// RemoveValue deletes an entry by identity (pointer or value equality
// via ==), used when the caller already holds the exact value — e.g.
// during timeout expiry, where only the rule pointer is known. T must
// be comparable for this to distinguish entries sharing a match and
// priority, which cannot otherwise occur (invariant 2) but callers
// should prefer Remove when they have match+priority in hand.
func (c *Classifier[T]) RemoveValue(v T) bool {
	for i, e := range c.entries {
		if any(e.value) == any(v) {
			c.entries = append(c.entries[:i:i], c.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Lookup returns the highest-priority entry whose match subsumes flow.
// Ties at equal priority are broken by insertion order: the
// earliest-inserted entry wins (DESIGN.md Open Question decision 4).
func (c *Classifier[T]) Lookup(flow *ofp.Match) (T, bool) {
	var (
		best    T
		bestSeq uint64
		bestPri Priority
		found   bool
	)

	for _, e := range c.entries {
		if !Subsumes(e.value.ClassifierMatch(), flow) {
			continue
		}
		pri := e.value.ClassifierPriority()
		if !found || pri > bestPri || (pri == bestPri && e.seq < bestSeq) {
			best, bestSeq, bestPri, found = e.value, e.seq, pri, true
		}
	}
	return best, found
}

// Overlaps reports whether any existing entry at the given priority
// shares a concrete flow with match.
func (c *Classifier[T]) Overlaps(match *ofp.Match, priority Priority) bool {
	for _, e := range c.entries {
		if e.value.ClassifierPriority() != priority {
			continue
		}
		if Overlaps(e.value.ClassifierMatch(), match) {
			return true
		}
	}
	return false
}

// Len returns the number of entries, hidden or not.
func (c *Classifier[T]) Len() int {
	return len(c.entries)
}

// All returns every entry in insertion order, hidden rules included —
// the shape an admin dump needs (§4.2: "Admin dumps include them").
func (c *Classifier[T]) All() []T {
	out := make([]T, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.value
	}
	return out
}

// Cursor is a SAFE traversal handle: deleting the entry Next just
// returned is permitted mid-traversal (§5, "cursor stability under
// concurrent SAFE iteration"). It is implemented as a point-in-time
// snapshot of the matching entries, so later mutation of the live
// classifier — including removing the current entry — never disturbs
// an in-progress traversal. Entries inserted after CursorInit need not
// be visited (§5: "insertion during traversal is implementation
// defined").
type Cursor[T Entry] struct {
	snapshot []T
	pos      int
}

// CursorInit yields a cursor over every entry whose match is subsumed
// by target. A target with no fields (all-wildcard) enumerates every
// rule.
func (c *Classifier[T]) CursorInit(target *ofp.Match) *Cursor[T] {
	cur := &Cursor[T]{}
	for _, e := range c.entries {
		if Subsumes(target, e.value.ClassifierMatch()) {
			cur.snapshot = append(cur.snapshot, e.value)
		}
	}
	return cur
}

// Next returns the next entry in the traversal, or false when
// exhausted.
func (cur *Cursor[T]) Next() (T, bool) {
	if cur.pos >= len(cur.snapshot) {
		var zero T
		return zero, false
	}
	v := cur.snapshot[cur.pos]
	cur.pos++
	return v, true
}

// Done reports whether the cursor is exhausted.
func (cur *Cursor[T]) Done() bool {
	return cur.pos >= len(cur.snapshot)
}

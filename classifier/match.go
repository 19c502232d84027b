// Package classifier implements the priority-ordered, wildcarded
// match→rule table described by the core's flow-classifier component:
// exact lookup, concrete-flow lookup, overlap detection, and safe
// cursor traversal. It operates purely on ofp.Match values; it has no
// notion of timeouts, counters, or datapath mirroring — that belongs
// to the flowtable package, which embeds a classifier.Classifier.
package classifier

import (
	"bytes"

	"github.com/netrack/ofcore/ofp"
)

type xmKey struct {
	class ofp.XMClass
	typ   ofp.XMType
}

func fieldMap(m *ofp.Match) map[xmKey]ofp.XM {
	if m == nil {
		return nil
	}
	out := make(map[xmKey]ofp.XM, len(m.Fields))
	for _, f := range m.Fields {
		out[xmKey{f.Class, f.Type}] = f
	}
	return out
}

func fullMask(n int) []byte {
	m := make([]byte, n)
	for i := range m {
		m[i] = 0xff
	}
	return m
}

// xmSubsumes reports whether every concrete flow matched by concrete is
// also matched by general: every bit general constrains must also be
// constrained, identically, by concrete.
func xmSubsumes(general, concrete ofp.XM) bool {
	gmask := general.Mask
	if gmask == nil {
		gmask = fullMask(len(general.Value))
	}
	cmask := concrete.Mask
	if cmask == nil {
		cmask = fullMask(len(concrete.Value))
	}

	for i, gm := range gmask {
		if gm == 0 {
			continue
		}
		var cm byte
		if i < len(cmask) {
			cm = cmask[i]
		}
		if gm&^cm != 0 {
			// general constrains bits concrete leaves free.
			return false
		}

		var gv, cv byte
		if i < len(general.Value) {
			gv = general.Value[i]
		}
		if i < len(concrete.Value) {
			cv = concrete.Value[i]
		}
		if gv&gm != cv&gm {
			return false
		}
	}
	return true
}

// xmOverlaps reports whether some concrete value satisfies both a and b.
func xmOverlaps(a, b ofp.XM) bool {
	amask := a.Mask
	if amask == nil {
		amask = fullMask(len(a.Value))
	}
	bmask := b.Mask
	if bmask == nil {
		bmask = fullMask(len(b.Value))
	}

	n := len(amask)
	if len(bmask) > n {
		n = len(bmask)
	}

	for i := 0; i < n; i++ {
		var am, bm byte
		if i < len(amask) {
			am = amask[i]
		}
		if i < len(bmask) {
			bm = bmask[i]
		}

		common := am & bm
		if common == 0 {
			continue
		}

		var av, bv byte
		if i < len(a.Value) {
			av = a.Value[i]
		}
		if i < len(b.Value) {
			bv = b.Value[i]
		}
		if av&common != bv&common {
			return false
		}
	}
	return true
}

// Subsumes reports whether every concrete flow matched by concrete is
// also matched by general. A nil or field-less general match is the
// catch-all and subsumes everything (§8: "a match of 0 bytes is a
// catch-all").
func Subsumes(general, concrete *ofp.Match) bool {
	gf := fieldMap(general)
	if len(gf) == 0 {
		return true
	}
	cf := fieldMap(concrete)
	for key, gxm := range gf {
		cxm, ok := cf[key]
		if !ok {
			// general restricts a dimension concrete doesn't carry
			// at all: concrete cannot be a subset of general.
			return false
		}
		if !xmSubsumes(gxm, cxm) {
			return false
		}
	}
	return true
}

// Overlaps reports whether a and b admit at least one concrete flow in
// common: for every field they share, their masked regions must agree;
// fields present in only one of them impose no restriction on the
// other.
func Overlaps(a, b *ofp.Match) bool {
	bf := fieldMap(b)
	for key, axm := range fieldMap(a) {
		bxm, ok := bf[key]
		if !ok {
			continue
		}
		if !xmOverlaps(axm, bxm) {
			return false
		}
	}
	return true
}

// Equal reports whether a and b are the same match: same fields, same
// values, same masks. Used for the "distinct matches within a priority
// level" and find_exactly invariants.
func Equal(a, b *ofp.Match) bool {
	af, bf := fieldMap(a), fieldMap(b)
	if len(af) != len(bf) {
		return false
	}
	for key, axm := range af {
		bxm, ok := bf[key]
		if !ok {
			return false
		}
		if !bytes.Equal(axm.Value, bxm.Value) {
			return false
		}
		if !bytes.Equal(axm.Mask, bxm.Mask) {
			return false
		}
	}
	return true
}

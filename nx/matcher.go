package nx

import (
	"bytes"
	"io/ioutil"

	of "github.com/netrack/ofcore"
)

// Matcher admits TypeExperimenter requests carrying VendorID and a
// specific Subtype, then rewrites the request's Type to the more
// specific internal constant (of.TypeSetFlowFormat and friends) so a
// handler registered on that type can Serve it directly. It restores
// Request.Body after peeking at it, the same way of.CookieFilter does,
// so the handler still observes the full vendor message.
type Matcher struct {
	Subtype Subtype
	// Type is the internal of.Type the request is rewritten to once
	// matched (e.g. of.TypeSetFlowFormat for SubtypeSetFlowFormat).
	Type of.Type
}

// Match implements of.Matcher.
func (m *Matcher) Match(r *of.Request) bool {
	if r.Header.Type != of.TypeExperimenter {
		return false
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		return false
	}
	r.Body = bytes.NewReader(body)

	var h Header
	if _, err := h.ReadFrom(bytes.NewReader(body)); err != nil {
		return false
	}
	if h.Vendor != VendorID || h.Subtype != m.Subtype {
		return false
	}

	r.Header.Type = m.Type
	return true
}

// Matchers returns one Matcher per Nicira vendor message this core
// knows about, each rewriting Request.Type to its corresponding
// internal of.Type. Run them against a TypeExperimenter request ahead
// of a TypeMux dispatch, e.g.:
//
//	if r.Header.Type == of.TypeExperimenter {
//		for _, m := range nx.Matchers() {
//			if m.Match(r) {
//				break
//			}
//		}
//	}
//	mux.Serve(rw, r)
func Matchers() []*Matcher {
	return []*Matcher{
		{SubtypeSetFlowFormat, of.TypeSetFlowFormat},
		{SubtypeSetPacketInFormat, of.TypeSetPacketInFormat},
		{SubtypeSetControllerID, of.TypeSetControllerID},
		{SubtypeFlowAge, of.TypeFlowAge},
	}
}

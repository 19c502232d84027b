package ofputil

import (
	"bytes"

	"github.com/netrack/ofcore"
	"github.com/netrack/ofcore/ofp"
)

// TableFlush builds a FLOW_MOD request that deletes every flow entry
// in table, matching any packet.
func TableFlush(version of.Version, table ofp.Table) *of.Request {
	var buf bytes.Buffer
	fm := ofp.FlowMod{
		Table:    table,
		Command:  ofp.FlowDelete,
		Buffer:   ofp.NoBuffer,
		OutPort:  ofp.PortAny,
		OutGroup: ofp.GroupAny,
		Match:    ofp.Match{ofp.MatchTypeXM, nil},
	}
	fm.WriteTo(&buf)
	return of.NewRequest(version, of.TypeFlowMod, &buf)
}

// FlowFlush builds a FLOW_MOD request that deletes the flow entries in
// table matching match.
func FlowFlush(version of.Version, table ofp.Table, match ofp.Match) *of.Request {
	var buf bytes.Buffer
	fm := ofp.FlowMod{
		Table:    table,
		Command:  ofp.FlowDelete,
		Buffer:   ofp.NoBuffer,
		OutPort:  ofp.PortAny,
		OutGroup: ofp.GroupAny,
		Match:    match,
	}
	fm.WriteTo(&buf)
	return of.NewRequest(version, of.TypeFlowMod, &buf)
}

// FlowDrop builds a FLOW_MOD request that installs a lowest-priority
// catch-all rule in table with no instructions, silently discarding
// every packet that falls through to it.
func FlowDrop(version of.Version, table ofp.Table) *of.Request {
	var buf bytes.Buffer
	fm := ofp.FlowMod{
		Table:   table,
		Command: ofp.FlowAdd,
		Buffer:  ofp.NoBuffer,
		Match:   ofp.Match{ofp.MatchTypeXM, nil},
	}
	fm.WriteTo(&buf)
	return of.NewRequest(version, of.TypeFlowMod, &buf)
}

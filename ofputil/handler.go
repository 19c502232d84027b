package ofputil

import (
	"github.com/netrack/ofcore"
	"github.com/netrack/ofcore/ofp"
)

// HelloHandler returns a handler that replies to each request with a
// HELLO message negotiating down to version, echoing the request's
// transaction id. Unlike of.EchoHandler and of.BarrierHandler, which
// the dispatcher (C5) wires in directly because every connection needs
// them, HelloHandler is meant for the transport's own accept path,
// before a connection has a ConnState to dispatch through.
//
// The optional h runs after the reply is written, e.g. to log the
// negotiated version or seed per-connection state.
func HelloHandler(version of.Version, h of.Handler) of.Handler {
	return of.HandlerFunc(func(rw of.ResponseWriter, r *of.Request) {
		*rw.Header() = of.Header{Version: version, Type: of.TypeHello, XID: r.XID}
		rw.WriteHeader()

		if h != nil {
			h.Serve(rw, r)
		}
	})
}

// TableMissDrop sends FlowDrop, via the provided sender, for each of
// the numTables tables a FEATURES_REPLY reports, turning a freshly
// connected switch into one that silently discards unmatched traffic
// instead of punting it to the controller. It stops at and returns the
// first error send reports.
func TableMissDrop(version of.Version, numTables uint8, send func(*of.Request) error) error {
	for i := uint8(0); i < numTables; i++ {
		if err := send(FlowDrop(version, ofp.Table(i))); err != nil {
			return err
		}
	}
	return nil
}

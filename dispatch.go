package of

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"sync"

	"github.com/netrack/ofcore/ofp"
)

// ConnRole is a connection's controller-assigned permission level
// (§3, §4.5's role enforcement).
type ConnRole uint8

const (
	RoleOther ConnRole = iota
	RoleMaster
	RoleSlave
)

var connRoleText = map[ConnRole]string{
	RoleOther:  "other",
	RoleMaster: "master",
	RoleSlave:  "slave",
}

func (r ConnRole) String() string {
	if text, ok := connRoleText[r]; ok {
		return text
	}
	return fmt.Sprintf("ConnRole(%d)", uint8(r))
}

// ConnKind distinguishes primary controller connections, subject to
// role enforcement, from service connections, which are exempt
// (§4.5, GLOSSARY).
type ConnKind uint8

const (
	KindPrimary ConnKind = iota
	KindService
)

// FlowFormat selects the match dialect a connection has negotiated.
// The wire codec (ofp.Match) already speaks the OXM/NXM TLV form
// uniformly; this only changes which fields a FlowFormatOF10Basic
// connection is allowed to rely on.
type FlowFormat uint8

const (
	FlowFormatOF10Basic FlowFormat = iota
	FlowFormatTunIDFromCookie
	FlowFormatNXM
	FlowFormatOXM
)

// PacketInFormat selects the packet-in encoding a connection has
// negotiated.
type PacketInFormat uint8

const (
	PacketInFormatOF10 PacketInFormat = iota
	PacketInFormatNXM
)

// DefaultMissSendLen is the truncation length for punted packets
// before a SET_CONFIG message negotiates otherwise (the standard
// OpenFlow default).
const DefaultMissSendLen = 128

// ConnState holds the per-connection negotiated state the dispatcher
// consults and mutates (§4.5): role, kind, flow_format,
// packet_in_format, miss_send_len, and async_config. One ConnState
// exists per controller connection. Its methods are safe for
// concurrent use: the transport may run one goroutine per connection
// even though the core it feeds is single-threaded (§5).
type ConnState struct {
	Kind ConnKind

	mu             sync.RWMutex
	role           ConnRole
	flowFormat     FlowFormat
	packetInFormat PacketInFormat
	missSendLen    uint16
	asyncConfig    uint32
	controllerID   uint16
}

// NewConnState allocates connection state for a freshly accepted
// connection of the given kind.
func NewConnState(kind ConnKind) *ConnState {
	return &ConnState{Kind: kind, missSendLen: DefaultMissSendLen}
}

// Role returns the connection's current role.
func (s *ConnState) Role() ConnRole {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// SetRole updates the connection's role, e.g. in response to a
// ROLE_REQUEST.
func (s *ConnState) SetRole(r ConnRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = r
}

// FlowFormat returns the connection's negotiated match dialect.
func (s *ConnState) FlowFormat() FlowFormat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flowFormat
}

// SetFlowFormat updates the connection's negotiated match dialect.
// Downgrades are permitted as well as upgrades (§4.5).
func (s *ConnState) SetFlowFormat(f FlowFormat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowFormat = f
}

// PacketInFormat returns the connection's negotiated packet-in
// encoding.
func (s *ConnState) PacketInFormat() PacketInFormat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.packetInFormat
}

// SetPacketInFormat updates the connection's negotiated packet-in
// encoding.
func (s *ConnState) SetPacketInFormat(f PacketInFormat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packetInFormat = f
}

// MissSendLen returns the number of bytes of a punted packet the
// connection wants to see.
func (s *ConnState) MissSendLen() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.missSendLen
}

// SetMissSendLen updates the connection's truncation length, as set
// by SET_CONFIG.
func (s *ConnState) SetMissSendLen(n uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missSendLen = n
}

// AsyncConfig returns the connection's asynchronous-message mask.
func (s *ConnState) AsyncConfig() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.asyncConfig
}

// SetAsyncConfig updates the connection's asynchronous-message mask.
func (s *ConnState) SetAsyncConfig(mask uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asyncConfig = mask
}

// ControllerID returns the id a Nicira SET_CONTROLLER_ID message
// assigned this connection, or 0 if it never sent one (the default
// controller id in a single-controller deployment).
func (s *ConnState) ControllerID() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.controllerID
}

// SetControllerID updates the connection's controller id.
func (s *ConnState) SetControllerID(id uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controllerID = id
}

// mutatingTypes is the set of message types §4.5's role enforcement
// guards.
var mutatingTypes = map[Type]bool{
	TypeFlowMod:   true,
	TypePortMod:   true,
	TypePacketOut: true,
	TypeSetConfig: true,
}

// RoleGuard wraps next so that a primary connection in the slave role
// is rejected with BAD_REQUEST/IS_SLAVE for any mutating message type
// (FLOW_MOD, PORT_MOD, PACKET_OUT, SET_CONFIG); service connections
// and primaries in the master or other role pass through unchanged
// (§4.5, seed scenario 5).
func RoleGuard(state *ConnState, next Handler) Handler {
	return HandlerFunc(func(rw ResponseWriter, r *Request) {
		if state.Kind == KindPrimary && state.Role() == RoleSlave && mutatingTypes[r.Header.Type] {
			writeErrorReply(rw, r, ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestIsSlave)
			return
		}
		next.Serve(rw, r)
	})
}

// writeErrorReply answers r with an ofp.Error reply of the given
// class/code, embedding up to the first 64 bytes of the offending
// message as the error's diagnostic Data (§7's error-reply framing).
func writeErrorReply(rw ResponseWriter, r *Request, class ofp.ErrType, code ofp.ErrCode) {
	ReplyError(rw, r, Of(class, code, r.XID))
}

// ReplyError answers r with e's OF wire representation when e is the
// Of arm, embedding up to the first 64 bytes of the offending message
// as diagnostic data (§7), and reports whether a reply was written.
// The Io arm has no wire representation — ReplyError leaves r
// untouched and returns false, so callers handle it separately (e.g.
// tearing the connection down on ErrDeviceGone).
func ReplyError(rw ResponseWriter, r *Request, e *Error) bool {
	if _, _, ok := e.IsOf(); !ok {
		return false
	}

	body, _ := ioutil.ReadAll(r.Body)
	r.Body = bytes.NewReader(body)

	*rw.Header() = Header{Version: r.Header.Version, Type: TypeError, XID: r.XID}
	ofErr := e.reply(body)
	ofErr.WriteTo(rw)
	rw.WriteHeader()
	return true
}

// BarrierHandler answers a barrier request immediately: every handler
// this core dispatches to runs synchronously with respect to the
// single-threaded switch loop, so there is nothing to wait for (§4.5).
// A provider that introduces asynchronous work must queue completion
// outside this handler instead of delaying the reply here.
var BarrierHandler = HandlerFunc(func(rw ResponseWriter, r *Request) {
	*rw.Header() = Header{Version: r.Header.Version, Type: TypeBarrierReply, XID: r.XID}
	rw.WriteHeader()
})

// EchoHandler answers an echo request with an echo reply carrying the
// same xid and payload (§4.5).
var EchoHandler = HandlerFunc(func(rw ResponseWriter, r *Request) {
	var req ofp.EchoRequest
	if _, err := req.ReadFrom(r.Body); err != nil {
		return
	}

	*rw.Header() = Header{Version: r.Header.Version, Type: TypeEchoReply, XID: r.XID}
	reply := ofp.EchoReply{Data: req.Data}
	reply.WriteTo(rw)
	rw.WriteHeader()
})

// BufferStore retrieves and releases packets the datapath has
// buffered on the controller's behalf, keyed by the buffer id a prior
// PACKET_IN stamped (§4.5's "buffered packets").
type BufferStore interface {
	// Take returns the buffered packet for id and removes it from the
	// store. ok is false if id is unknown or has already been
	// consumed.
	Take(id uint32) (data []byte, match ofp.Match, ok bool)
}

// ResolveBuffer looks up the packet referenced by a PACKET_OUT or
// flow-installing FLOW_MOD's buffer id, returning the stored frame to
// feed the action list. A buffer id of ofp.NoBuffer is not an error —
// it means the request carries its own payload and store is not
// consulted.
func ResolveBuffer(store BufferStore, bufferID uint32) (data []byte, match ofp.Match, err error) {
	if bufferID == ofp.NoBuffer {
		return nil, ofp.Match{}, nil
	}
	data, match, ok := store.Take(bufferID)
	if !ok {
		return nil, ofp.Match{}, Of(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestBufferUnknown, 0)
	}
	return data, match, nil
}

// PacketInSink formats and sends packets the datapath could not
// classify to one controller connection, applying that connection's
// negotiated packet_in_format and miss_send_len (§4.5's "controller
// punting").
type PacketInSink struct {
	Conn    Conn
	State   *ConnState
	Version Version
}

// Send truncates data to the connection's miss_send_len, stamps
// bufferID (ofp.NoBuffer when the provider does not buffer), and
// frames a PACKET_IN request addressed to the connection.
//
// OF1.0-1.2 have a single wire PACKET_IN layout (ofp/packet.go);
// packet_in_format only changes which match dialect Match carries, and
// the OXM encoder ofp/match.go already implements emits NXM-compatible
// TLVs bit-for-bit (NXM is OXM's direct predecessor), so no separate
// encode path is needed here.
func (s *PacketInSink) Send(xid, bufferID uint32, reason ofp.PacketInReason, table ofp.Table, cookie uint64, match ofp.Match, data []byte) error {
	total := uint16(len(data))
	if missSendLen := int(s.State.MissSendLen()); len(data) > missSendLen {
		data = data[:missSendLen]
	}

	pi := &ofp.PacketIn{
		Buffer: bufferID,
		Length: total,
		Reason: reason,
		Table:  table,
		Cookie: cookie,
		Match:  match,
		Data:   data,
	}

	var buf bytes.Buffer
	if _, err := pi.WriteTo(&buf); err != nil {
		return err
	}

	req := NewRequest(s.Version, TypePacketIn, &buf)
	req.XID = xid
	return s.Conn.Send(req)
}

package of

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Type enumerates the OpenFlow message types this core understands.
// Values track the OF1.2 numbering; OF1.0/OF1.1 headers are renumbered
// on decode (see internalType in wiretype.go) so that handlers only ever
// see this closed set.
type Type uint8

const (
	TypeHello Type = iota
	TypeError
	TypeEchoRequest
	TypeEchoReply
	TypeExperimenter

	TypeFeaturesRequest
	TypeFeaturesReply
	TypeGetConfigRequest
	TypeGetConfigReply
	TypeSetConfig

	TypePacketIn
	TypeFlowRemoved
	TypePortStatus

	TypePacketOut
	TypeFlowMod
	TypePortMod

	TypeBarrierRequest
	TypeBarrierReply

	TypeQueueGetConfigRequest
	TypeQueueGetConfigReply

	TypeMultipartRequest
	TypeMultipartReply

	TypeRoleRequest
	TypeRoleReply

	// Nicira vendor extensions, carried inside TypeExperimenter on the
	// wire but dispatched as distinct types internally (see nx package).
	TypeSetFlowFormat
	TypeSetPacketInFormat
	TypeSetControllerID
	TypeFlowAge
)

var typeText = map[Type]string{
	TypeHello:                 "HELLO",
	TypeError:                 "ERROR",
	TypeEchoRequest:           "ECHO_REQUEST",
	TypeEchoReply:             "ECHO_REPLY",
	TypeExperimenter:          "EXPERIMENTER",
	TypeFeaturesRequest:       "FEATURES_REQUEST",
	TypeFeaturesReply:         "FEATURES_REPLY",
	TypeGetConfigRequest:      "GET_CONFIG_REQUEST",
	TypeGetConfigReply:        "GET_CONFIG_REPLY",
	TypeSetConfig:             "SET_CONFIG",
	TypePacketIn:              "PACKET_IN",
	TypeFlowRemoved:           "FLOW_REMOVED",
	TypePortStatus:            "PORT_STATUS",
	TypePacketOut:             "PACKET_OUT",
	TypeFlowMod:               "FLOW_MOD",
	TypePortMod:               "PORT_MOD",
	TypeBarrierRequest:        "BARRIER_REQUEST",
	TypeBarrierReply:          "BARRIER_REPLY",
	TypeQueueGetConfigRequest: "QUEUE_GET_CONFIG_REQUEST",
	TypeQueueGetConfigReply:   "QUEUE_GET_CONFIG_REPLY",
	TypeMultipartRequest:      "MULTIPART_REQUEST",
	TypeMultipartReply:        "MULTIPART_REPLY",
	TypeRoleRequest:           "ROLE_REQUEST",
	TypeRoleReply:             "ROLE_REPLY",
	TypeSetFlowFormat:         "NXT_SET_FLOW_FORMAT",
	TypeSetPacketInFormat:     "NXT_SET_PACKET_IN_FORMAT",
	TypeSetControllerID:       "NXT_SET_CONTROLLER_ID",
	TypeFlowAge:               "NXT_FLOW_AGE",
}

func (t Type) String() string {
	if text, ok := typeText[t]; ok {
		return text
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// HeaderLen is the fixed length of the OpenFlow message header.
const HeaderLen = 8

// MaxMessageLen is the largest message the wire format can frame: the
// header's Length field is a uint16 covering the whole message.
const MaxMessageLen = 0xffff

// Header is the 8-byte preamble common to every OpenFlow message.
type Header struct {
	Version Version
	Type    Type
	// Length is the total message length, including this header.
	Length uint16
	// XID is the transaction id; replies echo the request's XID.
	XID uint32
}

// Copy returns a shallow copy of the header, useful for building a reply
// that must echo the request's XID and version.
func (h Header) Copy() Header {
	return h
}

// WriteTo implements io.WriterTo.
func (h Header) WriteTo(w io.Writer) (int64, error) {
	wh := wireHeader{uint8(h.Version), wireType(h.Version, h.Type), h.Length, h.XID}
	if err := binary.Write(w, binary.BigEndian, wh); err != nil {
		return 0, err
	}
	return HeaderLen, nil
}

// ReadFrom implements io.ReaderFrom. It decodes the version and the
// version-specific wire type, normalizing Type to the values in this
// file regardless of which OF version was on the wire.
func (h *Header) ReadFrom(r io.Reader) (int64, error) {
	var wh wireHeader
	if err := binary.Read(r, binary.BigEndian, &wh); err != nil {
		return 0, err
	}

	h.Version = Version(wh.Version)
	h.Length = wh.Length
	h.XID = wh.XID

	t, err := internalType(h.Version, wh.Type)
	if err != nil {
		return HeaderLen, err
	}
	h.Type = t
	return HeaderLen, nil
}

// wireHeader is the exact on-wire layout of the OpenFlow header.
type wireHeader struct {
	Version uint8
	Type    uint8
	Length  uint16
	XID     uint32
}

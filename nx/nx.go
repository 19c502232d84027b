// Package nx implements the small subset of Nicira vendor extension
// messages this core dispatches as distinct internal types
// (of.TypeSetFlowFormat, of.TypeSetPacketInFormat, of.TypeSetControllerID,
// of.TypeFlowAge): every one of them travels on the wire inside
// TypeExperimenter, tagged with VendorID and a message-specific Subtype.
package nx

import (
	"io"

	of "github.com/netrack/ofcore"
	"github.com/netrack/ofcore/internal/encoding"
)

// VendorID is the experimenter id Nicira registered for its OpenFlow
// vendor extensions.
const VendorID uint32 = 0x00002320

// Subtype identifies a Nicira vendor message within the shared
// TypeExperimenter envelope.
type Subtype uint32

const (
	SubtypeSetFlowFormat     Subtype = 8
	SubtypeFlowAge           Subtype = 18
	SubtypeSetPacketInFormat Subtype = 16
	SubtypeSetControllerID   Subtype = 20
)

// Header is the preamble every Nicira vendor message body starts with,
// right after the OpenFlow header's own framing.
type Header struct {
	Vendor  uint32
	Subtype Subtype
}

// WriteTo implements io.WriterTo.
func (h Header) WriteTo(w io.Writer) (int64, error) {
	return encoding.WriteTo(w, h.Vendor, h.Subtype)
}

// ReadFrom implements io.ReaderFrom.
func (h *Header) ReadFrom(r io.Reader) (int64, error) {
	return encoding.ReadFrom(r, &h.Vendor, &h.Subtype)
}

// SetFlowFormat is NXT_SET_FLOW_FORMAT: it tells the switch which match
// encoding FlowMod/FlowStats/FlowRemoved/PacketIn bodies will use from
// this point in the connection onward. Format reuses of.FlowFormat
// (the same enum ConnState.SetFlowFormat takes) rather than a
// redeclared one; of.FlowFormatOXM has no Nicira wire value, and
// ReadFrom stores the decoded format without checking it.
type SetFlowFormat struct {
	Header
	Format of.FlowFormat
}

// NewSetFlowFormat builds a SetFlowFormat message selecting f.
func NewSetFlowFormat(f of.FlowFormat) *SetFlowFormat {
	return &SetFlowFormat{Header{VendorID, SubtypeSetFlowFormat}, f}
}

// WriteTo implements io.WriterTo.
func (m *SetFlowFormat) WriteTo(w io.Writer) (int64, error) {
	return encoding.WriteTo(w, &m.Header, m.Format)
}

// ReadFrom implements io.ReaderFrom.
func (m *SetFlowFormat) ReadFrom(r io.Reader) (int64, error) {
	return encoding.ReadFrom(r, &m.Header, &m.Format)
}

// SetPacketInFormat is NXT_SET_PACKET_IN_FORMAT. Format reuses
// of.PacketInFormat, the same enum ConnState.SetPacketInFormat takes.
type SetPacketInFormat struct {
	Header
	Format of.PacketInFormat
}

// NewSetPacketInFormat builds a SetPacketInFormat message selecting f.
func NewSetPacketInFormat(f of.PacketInFormat) *SetPacketInFormat {
	return &SetPacketInFormat{Header{VendorID, SubtypeSetPacketInFormat}, f}
}

// WriteTo implements io.WriterTo.
func (m *SetPacketInFormat) WriteTo(w io.Writer) (int64, error) {
	return encoding.WriteTo(w, &m.Header, m.Format)
}

// ReadFrom implements io.ReaderFrom.
func (m *SetPacketInFormat) ReadFrom(r io.Reader) (int64, error) {
	return encoding.ReadFrom(r, &m.Header, &m.Format)
}

// reserved6 pads nx_controller_id's 6 reserved bytes.
type reserved6 [6]uint8

// SetControllerID is NXT_SET_CONTROLLER_ID: it tags the connection with
// a controller id that the switch echoes back in PacketIn/FlowRemoved
// so a multi-controller deployment can tell which controller asked for
// a given flow.
type SetControllerID struct {
	Header
	reserved     reserved6
	ControllerID uint16
}

// NewSetControllerID builds a SetControllerID message for id.
func NewSetControllerID(id uint16) *SetControllerID {
	return &SetControllerID{Header: Header{VendorID, SubtypeSetControllerID}, ControllerID: id}
}

// WriteTo implements io.WriterTo.
func (m *SetControllerID) WriteTo(w io.Writer) (int64, error) {
	return encoding.WriteTo(w, &m.Header, m.reserved, m.ControllerID)
}

// ReadFrom implements io.ReaderFrom.
func (m *SetControllerID) ReadFrom(r io.Reader) (int64, error) {
	return encoding.ReadFrom(r, &m.Header, &m.reserved, &m.ControllerID)
}

// FlowAge is NXT_FLOW_AGE, a deprecated ping the switch used to send
// controllers to force idle/hard timeout evaluation early. It carries
// no body beyond the vendor header.
type FlowAge struct {
	Header
}

// NewFlowAge builds a FlowAge message.
func NewFlowAge() *FlowAge {
	return &FlowAge{Header{VendorID, SubtypeFlowAge}}
}

// WriteTo implements io.WriterTo.
func (m *FlowAge) WriteTo(w io.Writer) (int64, error) {
	return m.Header.WriteTo(w)
}

// ReadFrom implements io.ReaderFrom.
func (m *FlowAge) ReadFrom(r io.Reader) (int64, error) {
	return m.Header.ReadFrom(r)
}

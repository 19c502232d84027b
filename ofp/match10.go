package ofp

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/netrack/ofcore/internal/encoding"
)

// Wildcards is the OpenFlow 1.0 match wildcard bitmap (OFPFW_*): a bit
// set here means the corresponding MatchV10 field is not significant.
// This is the first of the two wildcarded-match encodings the codec
// supports; XM/Match above is the second, TLV-based one used by
// OF1.1/1.2.
type Wildcards uint32

const (
	WildcardInPort Wildcards = 1 << iota
	WildcardDLVlan
	WildcardDLSrc
	WildcardDLDst
	WildcardDLType
	WildcardNWProto
	WildcardTPSrc
	WildcardTPDst
)

const (
	wildcardNWSrcShift = 8
	wildcardNWDstShift = 14
	wildcardNWBits     = 6
	wildcardNWMask     = (1 << wildcardNWBits) - 1

	// WildcardDLVlanPCP and WildcardNWTos sit above the two 6-bit
	// nw_src/nw_dst wildcard-count fields (bits 8-13 and 14-19).
	WildcardDLVlanPCP Wildcards = 1 << 20
	WildcardNWTos     Wildcards = 1 << 21

	// WildcardAll wildcards every field of a MatchV10.
	WildcardAll Wildcards = 1<<22 - 1
)

// nwWildcardBits returns the number of low-order bits of an IPv4
// address field that are wildcarded, clamped to [0, 32].
func nwWildcardBits(w Wildcards, shift uint) int {
	bits := int((w >> shift) & wildcardNWMask)
	if bits > 32 {
		bits = 32
	}
	return bits
}

func setNWWildcardBits(w *Wildcards, shift uint, bits int) {
	if bits > 32 {
		bits = 32
	}
	*w &^= Wildcards(wildcardNWMask) << shift
	*w |= Wildcards(bits) << shift
}

// MatchV10 is the fixed 40-byte ofp_match structure used to describe
// wildcarded flow matches in OpenFlow 1.0. Unlike the OXM/NXM TLV form
// (Match/XM above), every field has a fixed position and width; the
// Wildcards bitmap and the nw_src/nw_dst prefix-length subfields say
// which fields and address bits are significant.
type MatchV10 struct {
	Wildcards Wildcards

	InPort uint16

	DLSrc net.HardwareAddr
	DLDst net.HardwareAddr

	DLVlan    uint16
	DLVlanPCP uint8

	DLType uint16

	NWTos   uint8
	NWProto uint8

	NWSrc uint32
	NWDst uint32

	TPSrc uint16
	TPDst uint16
}

// WriteTo implements io.WriterTo. It serializes the match into the
// fixed 40-byte OpenFlow 1.0 wire layout.
func (m *MatchV10) WriteTo(w io.Writer) (int64, error) {
	dlSrc, dlDst := m.DLSrc, m.DLDst
	if len(dlSrc) != 6 {
		dlSrc = make(net.HardwareAddr, 6)
	}
	if len(dlDst) != 6 {
		dlDst = make(net.HardwareAddr, 6)
	}

	return encoding.WriteTo(w, m.Wildcards, m.InPort, dlSrc, dlDst,
		m.DLVlan, m.DLVlanPCP, pad1{}, m.DLType, m.NWTos, m.NWProto,
		pad2{}, m.NWSrc, m.NWDst, m.TPSrc, m.TPDst,
	)
}

// ReadFrom implements io.ReaderFrom. It deserializes a MatchV10 from
// its fixed 40-byte OpenFlow 1.0 wire layout.
func (m *MatchV10) ReadFrom(r io.Reader) (int64, error) {
	m.DLSrc = make(net.HardwareAddr, 6)
	m.DLDst = make(net.HardwareAddr, 6)

	return encoding.ReadFrom(r, &m.Wildcards, &m.InPort, &m.DLSrc,
		&m.DLDst, &m.DLVlan, &m.DLVlanPCP, &defaultPad1, &m.DLType,
		&m.NWTos, &m.NWProto, &defaultPad2, &m.NWSrc, &m.NWDst,
		&m.TPSrc, &m.TPDst,
	)
}

// NWSrcPrefixLen returns the significant prefix length of the source
// address match, i.e. 32 minus the wildcarded bit count, clamped to
// [0, 32]. A prefix length of 0 means the field carries no
// restriction at all.
func (m *MatchV10) NWSrcPrefixLen() int {
	return 32 - nwWildcardBits(m.Wildcards, wildcardNWSrcShift)
}

// NWDstPrefixLen is the destination-address analogue of NWSrcPrefixLen.
func (m *MatchV10) NWDstPrefixLen() int {
	return 32 - nwWildcardBits(m.Wildcards, wildcardNWDstShift)
}

// SetNWSrcPrefixLen sets the nw_src wildcard-count subfield so that
// prefixLen significant bits remain (0 wildcards the whole field).
func (m *MatchV10) SetNWSrcPrefixLen(prefixLen int) {
	setNWWildcardBits(&m.Wildcards, wildcardNWSrcShift, 32-prefixLen)
}

// SetNWDstPrefixLen is the destination-address analogue of
// SetNWSrcPrefixLen.
func (m *MatchV10) SetNWDstPrefixLen(prefixLen int) {
	setNWWildcardBits(&m.Wildcards, wildcardNWDstShift, 32-prefixLen)
}

func ipv4Mask(prefixLen int) net.IPMask {
	if prefixLen <= 0 {
		return net.CIDRMask(0, 32)
	}
	if prefixLen > 32 {
		prefixLen = 32
	}
	return net.CIDRMask(prefixLen, 32)
}

func u32XM(t XMType, v uint32) XM {
	val := make(XMValue, 4)
	binary.BigEndian.PutUint32(val, v)
	return XM{Class: XMClassOpenflowBasic, Type: t, Value: val}
}

func u16XM(t XMType, v uint16) XM {
	val := make(XMValue, 2)
	binary.BigEndian.PutUint16(val, v)
	return XM{Class: XMClassOpenflowBasic, Type: t, Value: val}
}

func u8XM(t XMType, v uint8) XM {
	return XM{Class: XMClassOpenflowBasic, Type: t, Value: XMValue{v}}
}

// ToMatch converts the fixed-width OF1.0 match into the internal,
// version-agnostic Match/XM representation the classifier (C2) and
// the rest of the codec operate on. Wildcarded fields produce no XM
// entry; a masked nw_src/nw_dst produces an XM carrying both Value and
// Mask. OF1.0 has no notion of a partial Ethernet-address mask, so
// DLSrc/DLDst are always either fully present or fully wildcarded.
func (m *MatchV10) ToMatch() Match {
	var fields []XM
	w := m.Wildcards

	if w&WildcardInPort == 0 {
		fields = append(fields, u32XM(XMTypeInPort, uint32(m.InPort)))
	}
	if w&WildcardDLSrc == 0 && len(m.DLSrc) == 6 {
		fields = append(fields, XM{Class: XMClassOpenflowBasic, Type: XMTypeEthSrc, Value: XMValue(m.DLSrc)})
	}
	if w&WildcardDLDst == 0 && len(m.DLDst) == 6 {
		fields = append(fields, XM{Class: XMClassOpenflowBasic, Type: XMTypeEthDst, Value: XMValue(m.DLDst)})
	}
	if w&WildcardDLVlan == 0 {
		fields = append(fields, u16XM(XMTypeVlanID, m.DLVlan))
	}
	if w&WildcardDLVlanPCP == 0 {
		fields = append(fields, u8XM(XMTypeVlanPCP, m.DLVlanPCP))
	}
	if w&WildcardDLType == 0 {
		fields = append(fields, u16XM(XMTypeEthType, m.DLType))
	}
	if w&WildcardNWTos == 0 {
		fields = append(fields, u8XM(XMTypeIPDSCP, m.NWTos>>2))
		fields = append(fields, u8XM(XMTypeIPECN, m.NWTos&0x3))
	}
	if w&WildcardNWProto == 0 {
		fields = append(fields, u8XM(XMTypeIPProto, m.NWProto))
	}
	if prefix := m.NWSrcPrefixLen(); prefix > 0 {
		fields = append(fields, maskedIPv4XM(XMTypeIPv4Src, m.NWSrc, prefix))
	}
	if prefix := m.NWDstPrefixLen(); prefix > 0 {
		fields = append(fields, maskedIPv4XM(XMTypeIPv4Dst, m.NWDst, prefix))
	}
	if w&WildcardTPSrc == 0 {
		fields = append(fields, u16XM(XMTypeTCPSrc, m.TPSrc))
	}
	if w&WildcardTPDst == 0 {
		fields = append(fields, u16XM(XMTypeTCPDst, m.TPDst))
	}

	return Match{Type: MatchTypeXM, Fields: fields}
}

func maskedIPv4XM(t XMType, addr uint32, prefixLen int) XM {
	val := make(XMValue, 4)
	binary.BigEndian.PutUint32(val, addr)

	xm := XM{Class: XMClassOpenflowBasic, Type: t, Value: val}
	if prefixLen < 32 {
		mask := ipv4Mask(prefixLen)
		xm.Mask = XMValue(mask)
	}
	return xm
}

// NewMatchV10 builds a MatchV10 from the internal Match representation,
// wildcarding every OF1.0 field not present in m.Fields. Extensible
// match fields this struct has no room for (IPv6, MPLS, registers,
// tunnel-id, and similar) are silently dropped: OF1.0 predates them
// and a connection negotiated down to OF1.0 cannot express them on the
// wire regardless.
func NewMatchV10(m Match) MatchV10 {
	v10 := MatchV10{
		Wildcards: WildcardAll,
		DLSrc:     make(net.HardwareAddr, 6),
		DLDst:     make(net.HardwareAddr, 6),
	}

	var sawTos, sawDscp, sawEcn bool
	var dscp, ecn uint8

	for _, xm := range m.Fields {
		if xm.Class != XMClassOpenflowBasic {
			continue
		}

		switch xm.Type {
		case XMTypeInPort:
			v10.InPort = uint16(xm.Value.UInt32())
			v10.Wildcards &^= WildcardInPort
		case XMTypeEthSrc:
			if len(xm.Value) == 6 {
				copy(v10.DLSrc, xm.Value)
				v10.Wildcards &^= WildcardDLSrc
			}
		case XMTypeEthDst:
			if len(xm.Value) == 6 {
				copy(v10.DLDst, xm.Value)
				v10.Wildcards &^= WildcardDLDst
			}
		case XMTypeVlanID:
			v10.DLVlan = xm.Value.UInt16()
			v10.Wildcards &^= WildcardDLVlan
		case XMTypeVlanPCP:
			v10.DLVlanPCP = xm.Value.UInt8()
			v10.Wildcards &^= WildcardDLVlanPCP
		case XMTypeEthType:
			v10.DLType = xm.Value.UInt16()
			v10.Wildcards &^= WildcardDLType
		case XMTypeIPDSCP:
			dscp, sawDscp = xm.Value.UInt8(), true
		case XMTypeIPECN:
			ecn, sawEcn = xm.Value.UInt8(), true
		case XMTypeIPProto:
			v10.NWProto = xm.Value.UInt8()
			v10.Wildcards &^= WildcardNWProto
		case XMTypeIPv4Src:
			v10.NWSrc = xm.Value.UInt32()
			v10.SetNWSrcPrefixLen(maskPrefixLen(xm.Mask))
		case XMTypeIPv4Dst:
			v10.NWDst = xm.Value.UInt32()
			v10.SetNWDstPrefixLen(maskPrefixLen(xm.Mask))
		case XMTypeTCPSrc, XMTypeUDPSrc:
			v10.TPSrc = xm.Value.UInt16()
			v10.Wildcards &^= WildcardTPSrc
		case XMTypeTCPDst, XMTypeUDPDst:
			v10.TPDst = xm.Value.UInt16()
			v10.Wildcards &^= WildcardTPDst
		}
	}

	if sawDscp || sawEcn {
		sawTos = true
		v10.NWTos = dscp<<2 | ecn&0x3
	}
	if sawTos {
		v10.Wildcards &^= WildcardNWTos
	}

	return v10
}

// maskPrefixLen returns the CIDR prefix length of an IPv4 mask, or 32
// (exact match, no wildcarded bits) when no mask was carried.
func maskPrefixLen(mask XMValue) int {
	if len(mask) != 4 {
		return 32
	}
	ones, bits := net.IPMask(mask).Size()
	if bits != 32 {
		return 32
	}
	return ones
}

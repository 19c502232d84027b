package ofp

import (
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/netrack/ofcore/internal/encodingtest"
)

func TestMatchV10WireLayout(t *testing.T) {
	m := &MatchV10{
		Wildcards: WildcardAll &^ (WildcardInPort | WildcardDLType),
		InPort:    3,
		DLSrc:     make(net.HardwareAddr, 6),
		DLDst:     make(net.HardwareAddr, 6),
		DLType:    0x0800,
	}

	tests := []encodingtest.MU{
		{m, []byte{
			0x00, 0x3f, 0xff, 0xee, // Wildcards.
			0x00, 0x03, // In port.
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // dl_src.
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // dl_dst.
			0x00, 0x00, // dl_vlan.
			0x00,       // dl_vlan_pcp.
			0x00,       // pad.
			0x08, 0x00, // dl_type.
			0x00,       // nw_tos.
			0x00,       // nw_proto.
			0x00, 0x00, // pad.
			0x00, 0x00, 0x00, 0x00, // nw_src.
			0x00, 0x00, 0x00, 0x00, // nw_dst.
			0x00, 0x00, // tp_src.
			0x00, 0x00, // tp_dst.
		}},
	}

	encodingtest.RunMU(t, tests)
}

func TestMatchV10ToMatchSkipsWildcardedFields(t *testing.T) {
	v10 := MatchV10{
		Wildcards: WildcardAll &^ (WildcardInPort | WildcardDLType),
		InPort:    3,
		DLType:    0x0800,
	}

	m := v10.ToMatch()
	if len(m.Fields) != 2 {
		t.Fatalf("got %d fields; want 2 (in_port, dl_type)", len(m.Fields))
	}

	var sawInPort, sawDLType bool
	for _, xm := range m.Fields {
		switch xm.Type {
		case XMTypeInPort:
			sawInPort = true
			if xm.Value.UInt32() != 3 {
				t.Fatalf("in_port = %d; want 3", xm.Value.UInt32())
			}
		case XMTypeEthType:
			sawDLType = true
			if xm.Value.UInt16() != 0x0800 {
				t.Fatalf("dl_type = %#x; want 0x0800", xm.Value.UInt16())
			}
		default:
			t.Fatalf("unexpected field %v in an otherwise all-wildcarded match", xm.Type)
		}
	}
	if !sawInPort || !sawDLType {
		t.Fatalf("missing expected fields: in_port=%v dl_type=%v", sawInPort, sawDLType)
	}
}

func TestNewMatchV10RoundTripsThroughToMatch(t *testing.T) {
	v10 := MatchV10{
		Wildcards: WildcardAll &^ (WildcardInPort | WildcardDLType | WildcardNWProto),
		InPort:    7,
		DLType:    0x0800,
		NWProto:   6,
	}

	got := NewMatchV10(v10.ToMatch())

	if got.InPort != v10.InPort {
		t.Fatalf("InPort = %d; want %d", got.InPort, v10.InPort)
	}
	if got.DLType != v10.DLType {
		t.Fatalf("DLType = %#x; want %#x", got.DLType, v10.DLType)
	}
	if got.NWProto != v10.NWProto {
		t.Fatalf("NWProto = %d; want %d", got.NWProto, v10.NWProto)
	}
	if got.Wildcards&WildcardInPort != 0 || got.Wildcards&WildcardDLType != 0 ||
		got.Wildcards&WildcardNWProto != 0 {
		t.Fatalf("Wildcards = %#x; want in_port/dl_type/nw_proto all clear", got.Wildcards)
	}
	if got.Wildcards&WildcardDLSrc == 0 {
		t.Fatal("dl_src was not present in the source match; it must stay wildcarded")
	}
}

func TestNewMatchV10PreservesMaskedIPv4Prefix(t *testing.T) {
	m := Match{Type: MatchTypeXM, Fields: []XM{
		maskedIPv4XM(XMTypeIPv4Src, 0xc0a80100, 24), // 192.168.1.0/24
	}}

	v10 := NewMatchV10(m)
	if prefix := v10.NWSrcPrefixLen(); prefix != 24 {
		t.Fatalf("NWSrcPrefixLen() = %d; want 24", prefix)
	}
	if v10.NWSrc != 0xc0a80100 {
		t.Fatalf("NWSrc = %#x; want 0xc0a80100", v10.NWSrc)
	}

	back := v10.ToMatch()
	if diff := cmp.Diff(m, back); diff != "" {
		t.Errorf("round trip through MatchV10 changed the match (-want +got):\n%s", diff)
	}
}

func TestNewMatchV10CombinesDSCPAndECNIntoNWTos(t *testing.T) {
	m := Match{Type: MatchTypeXM, Fields: []XM{
		u8XM(XMTypeIPDSCP, 0x2e>>2), // value already shifted by caller in production paths
		u8XM(XMTypeIPECN, 0x1),
	}}

	v10 := NewMatchV10(m)
	if v10.Wildcards&WildcardNWTos != 0 {
		t.Fatal("nw_tos should not be wildcarded when dscp/ecn are present")
	}
	if v10.NWTos&0x3 != 0x1 {
		t.Fatalf("ecn bits = %#x; want 0x1", v10.NWTos&0x3)
	}
}

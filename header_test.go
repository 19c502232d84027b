package of

import (
	"bytes"
	"testing"
)

func TestHeaderWriteToReadFrom(t *testing.T) {
	tests := []struct {
		name string
		h    Header
		wire []byte
	}{
		{
			name: "OF1.0 hello",
			h:    Header{Version: VersionOF10, Type: TypeHello, Length: HeaderLen, XID: 1},
			wire: []byte{0x01, 0x00, 0x00, 0x08, 0x00, 0x00, 0x00, 0x01},
		},
		{
			name: "OF1.2 barrier request",
			h:    Header{Version: VersionOF12, Type: TypeBarrierRequest, Length: HeaderLen, XID: 42},
			wire: []byte{0x03, 20, 0x00, 0x08, 0x00, 0x00, 0x00, 42},
		},
		{
			name: "OF1.0 port mod (wire code diverges from OF1.2)",
			h:    Header{Version: VersionOF10, Type: TypePortMod, Length: HeaderLen, XID: 7},
			wire: []byte{0x01, 15, 0x00, 0x08, 0x00, 0x00, 0x00, 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			n, err := tt.h.WriteTo(&buf)
			if err != nil {
				t.Fatalf("WriteTo: %v", err)
			}
			if n != HeaderLen {
				t.Fatalf("WriteTo: wrote %d bytes, want %d", n, HeaderLen)
			}
			if !bytes.Equal(buf.Bytes(), tt.wire) {
				t.Fatalf("WriteTo: got % x, want % x", buf.Bytes(), tt.wire)
			}

			var got Header
			if _, err := got.ReadFrom(bytes.NewReader(tt.wire)); err != nil {
				t.Fatalf("ReadFrom: %v", err)
			}
			if got != tt.h {
				t.Fatalf("ReadFrom: got %+v, want %+v", got, tt.h)
			}
		})
	}
}

func TestHeaderReadFromUnsupportedType(t *testing.T) {
	wire := []byte{0x01, 0xfe, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00}

	var h Header
	_, err := h.ReadFrom(bytes.NewReader(wire))
	if err == nil {
		t.Fatal("ReadFrom: want error for unrecognized wire type, got nil")
	}
}

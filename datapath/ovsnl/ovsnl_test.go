package ovsnl

import (
	"fmt"
	"os"
	"testing"
	"unsafe"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/genetlink/genltest"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"
)

func familyMessages(families []string) []genetlink.Message {
	msgs := make([]genetlink.Message, 0, len(families))
	var id uint16
	for _, f := range families {
		msgs = append(msgs, genetlink.Message{
			Data: mustMarshalAttributes([]netlink.Attribute{
				{Type: unix.CTRL_ATTR_FAMILY_ID, Data: nlenc.Uint16Bytes(id)},
				{Type: unix.CTRL_ATTR_FAMILY_NAME, Data: nlenc.Bytes(f)},
			}),
		})
		id++
	}
	return msgs
}

func mustMarshalAttributes(attrs []netlink.Attribute) []byte {
	b, err := netlink.MarshalAttributes(attrs)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal attributes: %v", err))
	}
	return b
}

func TestNewClientNoFamiliesIsNotExist(t *testing.T) {
	conn := genltest.Dial(func(greq genetlink.Message, nreq netlink.Message) ([]genetlink.Message, error) {
		return nil, nil
	})

	_, err := newClient(conn)
	if !os.IsNotExist(err) {
		t.Fatalf("expected is-not-exist error, got: %v", err)
	}
}

func TestNewClientUnrelatedFamiliesIsNotExist(t *testing.T) {
	conn := genltest.Dial(func(greq genetlink.Message, nreq netlink.Message) ([]genetlink.Message, error) {
		return familyMessages([]string{"TASKSTATS", "nl80211"}), nil
	})

	_, err := newClient(conn)
	if !os.IsNotExist(err) {
		t.Fatalf("expected is-not-exist error, got: %v", err)
	}
}

func TestNewClientFindsDatapathFamily(t *testing.T) {
	conn := genltest.Dial(func(greq genetlink.Message, nreq netlink.Message) ([]genetlink.Message, error) {
		return familyMessages([]string{datapathFamily}), nil
	})

	c, err := newClient(conn)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	if c.fam.Name != datapathFamily {
		t.Fatalf("resolved family = %q; want %q", c.fam.Name, datapathFamily)
	}
}

func TestClientListAndExists(t *testing.T) {
	const dpName = "ovs-system"

	conn := genltest.Dial(func(greq genetlink.Message, nreq netlink.Message) ([]genetlink.Message, error) {
		if nreq.Header.Type == unix.GENL_ID_CTRL && greq.Header.Command == unix.CTRL_CMD_GETFAMILY {
			return familyMessages([]string{datapathFamily}), nil
		}

		if greq.Header.Command == dpCmdGet {
			msg := genetlink.Message{
				Data: append(headerBytes(header{Ifindex: 1}), mustMarshalAttributes([]netlink.Attribute{
					{Type: dpAttrName, Data: nlenc.Bytes(dpName)},
					{Type: dpAttrUserFeatures, Data: nlenc.Uint32Bytes(1)},
					{Type: dpAttrStats, Data: statsBytes(dpStats{Hit: 10, Missed: 2, Lost: 1, Flows: 4})},
				})...),
			}
			return []genetlink.Message{msg}, nil
		}

		return nil, fmt.Errorf("unexpected request: %+v", greq)
	})

	c, err := newClient(conn)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	dps, err := c.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(dps) != 1 {
		t.Fatalf("got %d datapaths; want 1", len(dps))
	}
	if dps[0].Name != dpName || dps[0].Stats.Hit != 10 {
		t.Fatalf("unexpected datapath: %+v", dps[0])
	}

	exists, err := c.Exists(dpName)
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if !exists {
		t.Fatalf("Exists(%q) = false; want true", dpName)
	}

	exists, err = c.Exists("br-nonexistent")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if exists {
		t.Fatalf("Exists(br-nonexistent) = true; want false")
	}
}

func statsBytes(s dpStats) []byte {
	b := *(*[sizeofDPStats]byte)(unsafe.Pointer(&s))
	return b[:]
}

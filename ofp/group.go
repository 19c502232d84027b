package ofp

import "fmt"

// Group identifies a group table entry, used as the forwarding target
// of an ActionGroup or as FlowMod/FlowStatsRequest's OutGroup. Group
// table management (GROUP_MOD and its stats) is out of scope for this
// codec: OF1.0 has no groups, and this core targets OF1.0-1.2 control
// paths built around flow tables, not group buckets.
type Group uint32

// String returns a string representation of the group.
func (g Group) String() string {
	switch g {
	case GroupAll:
		return "GroupAll"
	case GroupAny:
		return "GroupAny"
	default:
		return fmt.Sprintf("Group(%d)", uint32(g))
	}
}

const (
	// GroupMax is the last usable group number.
	GroupMax Group = 0xffffff00

	// GroupAll represents all groups, used only for group delete
	// commands.
	GroupAll Group = 0xfffffffc

	// GroupAny is a wildcard group, used only in flow stats requests
	// and as the "no restriction" OutGroup value on a FlowMod.
	GroupAny Group = 0xffffffff
)

// GroupType is the type of a group, as carried in the group features
// bitmap built by ofputil.GroupBitmap.
type GroupType uint8

const (
	// GroupTypeAll executes all buckets in the group.
	GroupTypeAll GroupType = iota

	// GroupTypeSelect executes one bucket in the group.
	GroupTypeSelect

	// GroupTypeIndirect executes the one defined bucket in the group.
	GroupTypeIndirect

	// GroupTypeFastFailover executes the first live bucket.
	GroupTypeFastFailover
)

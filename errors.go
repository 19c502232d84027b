package of

import (
	"errors"
	"fmt"

	"github.com/netrack/ofcore/ofp"
)

// Error is the unified error type produced by core components. It has
// exactly two arms: Of, naming an OpenFlow error class/code plus the
// xid of the message that caused it, and Io, wrapping a transport or
// provider failure that has no OF wire representation. Handlers return
// this type (or nil) instead of a bare error, so the dispatcher can
// decide whether to answer with an OF error reply or tear the
// connection down.
type Error struct {
	// Class and Code are populated for the Of arm; zero otherwise.
	Class ofp.ErrType
	Code  ofp.ErrCode
	// XID is the transaction id of the message that caused an Of error.
	XID uint32

	// Kind is populated for the Io arm; nil otherwise.
	Kind error
}

// Of builds an Error reporting an OpenFlow protocol error against the
// message identified by xid.
func Of(class ofp.ErrType, code ofp.ErrCode, xid uint32) *Error {
	return &Error{Class: class, Code: code, XID: xid}
}

// Io builds an Error wrapping a non-protocol failure: a transport
// error, a "device gone" signal from the datapath provider, or any
// other error with no OF error-reply representation.
func Io(kind error) *Error {
	return &Error{Kind: kind}
}

// IsOf reports whether e is the Of arm, returning its class and code.
func (e *Error) IsOf() (ofp.ErrType, ofp.ErrCode, bool) {
	if e == nil || e.Kind != nil {
		return 0, 0, false
	}
	return e.Class, e.Code, true
}

// IsIo reports whether e is the Io arm, returning the wrapped error.
func (e *Error) IsIo() (error, bool) {
	if e == nil || e.Kind == nil {
		return nil, false
	}
	return e.Kind, true
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Kind != nil {
		return fmt.Sprintf("of: io error: %s", e.Kind)
	}
	return fmt.Sprintf("of: %s/%d (xid=%d)", e.Class, e.Code, e.XID)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}

// reply converts the Of arm into an ofp.Error wire message. Callers
// must have already checked IsOf.
func (e *Error) reply(data []byte) *ofp.Error {
	if len(data) > 64 {
		data = data[:64]
	}
	return &ofp.Error{Type: e.Class, Code: e.Code, Data: data}
}

// ErrDeviceGone indicates the datapath provider reported that the
// underlying device disappeared. It is fatal: the switch that owns the
// provider must stop processing and the supervisor must tear it down.
var ErrDeviceGone = errors.New("of: device gone")

// ErrNoBufferSpace indicates the datapath provider's notification
// channel overflowed (an ENOBUFS-equivalent); the core response is a
// full port rescan, not connection teardown.
var ErrNoBufferSpace = errors.New("of: no buffer space, rescan required")

// ErrNotSupported indicates an optional datapath operation the
// provider does not implement. For controller-visible operations this
// is converted to an OF error; for optional passthroughs it is
// ignored.
var ErrNotSupported = errors.New("of: not supported by provider")

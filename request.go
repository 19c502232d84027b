package of

import (
	"bytes"
	"errors"
	"io"
	"net"
)

// ErrBodyTooLong is returned by Request.WriteTo when the encoded body
// would push the message past MaxMessageLen.
var ErrBodyTooLong = errors.New("of: request body is too long")

// Request is one decoded OpenFlow message, paired with the connection
// metadata a Handler needs to answer it.
type Request struct {
	Header Header

	// Body holds the message payload, already framed to exactly
	// Header.Length-HeaderLen bytes. A nil body means an empty payload
	// (HELLO, BARRIER_REQUEST, and similar messages with no body).
	Body io.Reader

	// Addr is the remote address of the connection the request arrived
	// on, set by the server for inbound requests.
	Addr net.Addr

	// XID is a convenience accessor mirroring Header.XID.
	XID uint32
}

// NewRequest builds an outbound request of the given type and version,
// carrying body as its payload. body may implement io.WriterTo for
// direct encoding, or be nil for an empty body.
func NewRequest(version Version, t Type, body io.Reader) *Request {
	return &Request{
		Header: Header{Version: version, Type: t},
		Body:   body,
	}
}

// WriteTo implements io.WriterTo. It measures the body first so the
// header can carry the correct Length before either is written.
func (r *Request) WriteTo(w io.Writer) (int64, error) {
	var body bytes.Buffer
	if r.Body != nil {
		if _, err := io.Copy(&body, r.Body); err != nil {
			return 0, err
		}
	}

	if body.Len() > MaxMessageLen-HeaderLen {
		return 0, ErrBodyTooLong
	}

	r.Header.Length = uint16(HeaderLen + body.Len())
	r.Header.XID = r.XID

	n, err := r.Header.WriteTo(w)
	if err != nil {
		return n, err
	}

	nn, err := body.WriteTo(w)
	return n + nn, err
}

// ReadFrom implements io.ReaderFrom. It decodes the header, then reads
// exactly Header.Length-HeaderLen bytes as the body.
func (r *Request) ReadFrom(rd io.Reader) (int64, error) {
	n, err := r.Header.ReadFrom(rd)
	if err != nil {
		return n, err
	}

	if r.Header.Length < HeaderLen {
		return n, &ErrUnsupportedType{Version: r.Header.Version, Wire: uint8(r.Header.Type)}
	}

	bodyLen := int64(r.Header.Length) - HeaderLen
	buf := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(rd, buf); err != nil {
			return n, err
		}
	}

	r.Body = bytes.NewReader(buf)
	r.XID = r.Header.XID
	n += bodyLen
	return n, nil
}

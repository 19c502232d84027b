package of

import (
	"bytes"
	"encoding/binary"
	"io"
)

// NewReader encodes w and returns a reader over the resulting bytes.
func NewReader(w io.WriterTo) (io.Reader, error) {
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return &buf, nil
}

// Bytes encodes v in big-endian wire order and returns the result.
// Panics are not expected: callers pass only fixed-size numeric types
// or structs of such.
func Bytes(v interface{}) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, v)
	return buf.Bytes()
}

// MultiWriterTo combines several io.WriterTo values into one, writing
// each in order and stopping at the first error. Nil entries are
// skipped, so optional message parts can be threaded through without a
// branch at the call site.
func MultiWriterTo(w ...io.WriterTo) io.WriterTo {
	return writerToFunc(func(wr io.Writer) (int64, error) {
		var n int64
		for _, writer := range w {
			if writer == nil {
				continue
			}
			nn, err := writer.WriteTo(wr)
			n += nn
			if err != nil {
				return n, err
			}
		}
		return n, nil
	})
}

type writerToFunc func(io.Writer) (int64, error)

func (fn writerToFunc) WriteTo(w io.Writer) (int64, error) {
	return fn(w)
}

package of

import (
	"bytes"
	"io"
	"io/ioutil"
)

// CookieJar is implemented by wire messages that carry an opaque
// controller-assigned cookie (FlowMod, FlowStats, FlowRemoved).
type CookieJar interface {
	SetCookies(uint64)
	Cookies() uint64
}

// CookieReader parses a request body into a CookieJar.
type CookieReader interface {
	ReadCookie(io.Reader) (CookieJar, error)
}

// CookieReaderFunc adapts a plain function to a CookieReader.
type CookieReaderFunc func(io.Reader) (CookieJar, error)

// ReadCookie implements CookieReader.
func (fn CookieReaderFunc) ReadCookie(r io.Reader) (CookieJar, error) {
	return fn(r)
}

// CookieFilter is a Matcher (see mux.go) that admits a request only
// when its decoded cookie equals Cookies. It is safe for concurrent
// use, and restores the request body after peeking at it so a
// downstream handler still observes the full message.
type CookieFilter struct {
	Cookies uint64
	Reader  CookieReader
}

// Match implements Matcher.
func (f *CookieFilter) Match(r *Request) bool {
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		return false
	}

	jar, err := f.Reader.ReadCookie(bytes.NewReader(body))
	r.Body = bytes.NewReader(body)
	if err != nil {
		return false
	}

	return jar.Cookies() == f.Cookies
}

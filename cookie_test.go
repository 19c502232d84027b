package of

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

type fakeCookieJar struct{ cookie uint64 }

func (j *fakeCookieJar) SetCookies(c uint64) { j.cookie = c }
func (j *fakeCookieJar) Cookies() uint64     { return j.cookie }

func TestCookieFilterMatchesOnDecodedCookie(t *testing.T) {
	reader := CookieReaderFunc(func(r io.Reader) (CookieJar, error) {
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(r); err != nil {
			return nil, err
		}
		return &fakeCookieJar{cookie: uint64(len(buf.Bytes()))}, nil
	})

	f := &CookieFilter{Cookies: 4, Reader: reader}
	r := &Request{Body: bytes.NewReader([]byte("ping"))}

	if !f.Match(r) {
		t.Fatal("expected the filter to match a body whose decoded cookie equals Cookies")
	}

	// Body must be restored for a downstream handler.
	body := make([]byte, 4)
	if _, err := r.Body.Read(body); err != nil {
		t.Fatal(err)
	}
	if string(body) != "ping" {
		t.Fatalf("body after Match = %q; want %q (restored)", body, "ping")
	}
}

func TestCookieFilterRejectsMismatchedCookie(t *testing.T) {
	reader := CookieReaderFunc(func(r io.Reader) (CookieJar, error) {
		return &fakeCookieJar{cookie: 99}, nil
	})

	f := &CookieFilter{Cookies: 1, Reader: reader}
	r := &Request{Body: bytes.NewReader([]byte("x"))}

	if f.Match(r) {
		t.Fatal("expected the filter to reject a mismatched cookie")
	}
}

func TestCookieFilterRejectsReaderError(t *testing.T) {
	reader := CookieReaderFunc(func(r io.Reader) (CookieJar, error) {
		return nil, errors.New("decode failed")
	})

	f := &CookieFilter{Cookies: 1, Reader: reader}
	r := &Request{Body: bytes.NewReader([]byte("x"))}

	if f.Match(r) {
		t.Fatal("expected the filter to reject when the reader errors")
	}
}

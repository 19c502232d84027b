package of

import (
	"fmt"
	"sync"
)

// Matcher decides whether a request should be routed to a handler.
type Matcher interface {
	Match(*Request) bool
}

// MatcherFunc adapts an ordinary function to a Matcher.
type MatcherFunc func(*Request) bool

// Match implements Matcher.
func (fn MatcherFunc) Match(r *Request) bool {
	return fn(r)
}

// TypeMatcher matches a request by its message type.
type TypeMatcher Type

// Match implements Matcher.
func (t TypeMatcher) Match(r *Request) bool {
	return r.Header.Type == Type(t)
}

// MultiMatcher builds a Matcher that admits a request only when every
// one of m does.
func MultiMatcher(m ...Matcher) Matcher {
	return MatcherFunc(func(r *Request) bool {
		for _, matcher := range m {
			if !matcher.Match(r) {
				return false
			}
		}
		return true
	})
}

type muxEntry struct {
	matcher Matcher
	handler Handler
	// once removes the entry from the mux after it serves one request.
	once bool
}

// ServeMux is an OpenFlow request multiplexer: it tests each registered
// Matcher against an incoming request and dispatches to the first one
// that matches. Registration order is not guaranteed to determine match
// order; register disjoint matchers (see TypeMux) when order matters.
type ServeMux struct {
	mu       sync.RWMutex
	handlers map[Matcher]*muxEntry
}

// NewServeMux allocates a ServeMux.
func NewServeMux() *ServeMux {
	return &ServeMux{handlers: make(map[Matcher]*muxEntry)}
}

// DefaultHandler serves requests with no matching entry.
var DefaultHandler = DiscardHandler

func (mux *ServeMux) handle(e *muxEntry) {
	mux.mu.Lock()
	defer mux.mu.Unlock()

	if e.matcher == nil {
		panic("of: nil matcher")
	}
	if e.handler == nil {
		panic("of: nil handler")
	}
	if _, dup := mux.handlers[e.matcher]; dup {
		panic(fmt.Errorf("of: multiple registrations for %v", e.matcher))
	}

	mux.handlers[e.matcher] = e
}

// Handle registers h to serve requests matched by m.
func (mux *ServeMux) Handle(m Matcher, h Handler) {
	mux.handle(&muxEntry{matcher: m, handler: h})
}

// HandleOnce registers h to serve exactly one matching request, after
// which the entry is removed. It is not guaranteed that h serves the
// first matching request if two arrive concurrently.
func (mux *ServeMux) HandleOnce(m Matcher, h Handler) {
	mux.handle(&muxEntry{matcher: m, handler: h, once: true})
}

// HandleFunc registers f to serve requests matched by m.
func (mux *ServeMux) HandleFunc(m Matcher, f HandlerFunc) {
	mux.Handle(m, f)
}

// Handler returns the Handler that would serve r, without invoking it.
func (mux *ServeMux) Handler(r *Request) Handler {
	var matcher Matcher
	var entry *muxEntry
	var matched bool

	mux.mu.RLock()
	for matcher, entry = range mux.handlers {
		if matched = matcher.Match(r); matched {
			break
		}
	}
	mux.mu.RUnlock()

	if !matched {
		return DefaultHandler
	}
	if !entry.once {
		return entry.handler
	}

	mux.mu.Lock()
	defer mux.mu.Unlock()

	if _, ok := mux.handlers[matcher]; !ok {
		return DiscardHandler
	}
	delete(mux.handlers, matcher)
	return entry.handler
}

// Serve implements Handler.
func (mux *ServeMux) Serve(rw ResponseWriter, r *Request) {
	mux.Handler(r).Serve(rw, r)
}

// TypeMux is a ServeMux specialized for matching on message type alone,
// the common case: one handler per OpenFlow message type.
type TypeMux struct {
	mux *ServeMux
}

// NewTypeMux allocates a TypeMux.
func NewTypeMux() *TypeMux {
	return &TypeMux{NewServeMux()}
}

// Handle registers h to serve requests of type t.
func (mux *TypeMux) Handle(t Type, h Handler) {
	mux.mux.Handle(TypeMatcher(t), h)
}

// HandleOnce registers h to serve exactly one request of type t.
func (mux *TypeMux) HandleOnce(t Type, h Handler) {
	mux.mux.HandleOnce(TypeMatcher(t), h)
}

// HandleFunc registers f to serve requests of type t.
func (mux *TypeMux) HandleFunc(t Type, f HandlerFunc) {
	mux.Handle(t, f)
}

// Handler returns the Handler that would serve r.
func (mux *TypeMux) Handler(r *Request) Handler {
	return mux.mux.Handler(r)
}

// Serve implements Handler.
func (mux *TypeMux) Serve(rw ResponseWriter, r *Request) {
	mux.mux.Serve(rw, r)
}

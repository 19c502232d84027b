package of

import "testing"

func TestServeMuxDispatchesToMatchingHandler(t *testing.T) {
	mux := NewServeMux()

	var helloServed, echoServed bool
	mux.Handle(TypeMatcher(TypeHello), HandlerFunc(func(ResponseWriter, *Request) { helloServed = true }))
	mux.Handle(TypeMatcher(TypeEchoRequest), HandlerFunc(func(ResponseWriter, *Request) { echoServed = true }))

	r := &Request{Header: Header{Type: TypeEchoRequest}}
	mux.Serve(nil, r)

	if helloServed || !echoServed {
		t.Fatalf("helloServed=%v echoServed=%v; want only echoServed", helloServed, echoServed)
	}
}

func TestServeMuxFallsBackToDefaultHandler(t *testing.T) {
	mux := NewServeMux()

	var defaultServed bool
	prev := DefaultHandler
	DefaultHandler = HandlerFunc(func(ResponseWriter, *Request) { defaultServed = true })
	defer func() { DefaultHandler = prev }()

	r := &Request{Header: Header{Type: TypeHello}}
	mux.Serve(nil, r)

	if !defaultServed {
		t.Fatal("expected the default handler to serve an unmatched request")
	}
}

func TestServeMuxHandleOnceRemovesEntryAfterOneMatch(t *testing.T) {
	mux := NewServeMux()

	var served int
	mux.HandleOnce(TypeMatcher(TypeHello), HandlerFunc(func(ResponseWriter, *Request) { served++ }))

	r := &Request{Header: Header{Type: TypeHello}}
	mux.Serve(nil, r)
	mux.Serve(nil, r)

	if served != 1 {
		t.Fatalf("served = %d; want 1 (entry removed after first match)", served)
	}
}

func TestServeMuxHandlePanicsOnNilMatcherOrHandler(t *testing.T) {
	mux := NewServeMux()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected a panic for a nil matcher")
			}
		}()
		mux.Handle(nil, DiscardHandler)
	}()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected a panic for a nil handler")
			}
		}()
		mux.Handle(TypeMatcher(TypeHello), nil)
	}()
}

func TestServeMuxHandlePanicsOnDuplicateMatcher(t *testing.T) {
	mux := NewServeMux()
	mux.Handle(TypeMatcher(TypeHello), DiscardHandler)

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for a duplicate matcher registration")
		}
	}()
	mux.Handle(TypeMatcher(TypeHello), DiscardHandler)
}

func TestMultiMatcherRequiresAllMatchersToMatch(t *testing.T) {
	always := MatcherFunc(func(*Request) bool { return true })
	never := MatcherFunc(func(*Request) bool { return false })

	m := MultiMatcher(always, never)
	if m.Match(&Request{}) {
		t.Fatal("MultiMatcher should not match when one matcher rejects")
	}

	m = MultiMatcher(always, always)
	if !m.Match(&Request{}) {
		t.Fatal("MultiMatcher should match when all matchers accept")
	}
}

func TestTypeMuxDispatchesByType(t *testing.T) {
	mux := NewTypeMux()

	var served bool
	mux.HandleFunc(TypeFlowMod, func(ResponseWriter, *Request) { served = true })

	r := &Request{Header: Header{Type: TypeFlowMod}}
	if h := mux.Handler(r); h == nil {
		t.Fatal("Handler returned nil")
	}
	mux.Serve(nil, r)

	if !served {
		t.Fatal("expected the registered handler to be invoked")
	}
}

func TestTypeMuxHandleOnceServesSingleRequest(t *testing.T) {
	mux := NewTypeMux()

	var served int
	mux.HandleOnce(TypePortMod, HandlerFunc(func(ResponseWriter, *Request) { served++ }))

	r := &Request{Header: Header{Type: TypePortMod}}
	mux.Serve(nil, r)
	mux.Serve(nil, r)

	if served != 1 {
		t.Fatalf("served = %d; want 1", served)
	}
}

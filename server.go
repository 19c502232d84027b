package of

import (
	"net"
	"time"
)

// Server accepts OpenFlow connections and dispatches requests read
// from them to Handler. Each connection is read by its own goroutine
// (or whatever Runner provides); Handler implementations that need a
// single-threaded view of shared state (the classifier, port table)
// must serialize across connections themselves — see the ofswitch
// package, which funnels every connection's requests through one
// event loop instead of calling Handler directly from here.
type Server struct {
	Addr    string
	Handler Handler

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Runner launches each connection's read loop. Defaults to
	// OnDemandRoutineRunner.
	Runner Runner
}

// ListenAndServe listens on srv.Addr and serves incoming connections.
func (srv *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	return srv.Serve(ln)
}

// Serve accepts connections from l until Accept fails, dispatching each
// to srv.Handler.
func (srv *Server) Serve(l net.Listener) error {
	defer l.Close()

	runner := srv.Runner
	if runner == nil {
		runner = OnDemandRoutineRunner{}
	}

	for {
		rwc, err := l.Accept()
		if err != nil {
			return err
		}

		c := NewConn(rwc)
		c.ReadTimeout = srv.ReadTimeout
		c.WriteTimeout = srv.WriteTimeout

		runner.Run(func() { srv.serve(c, srv.Handler) })
	}
}

func (srv *Server) serve(c *OFPConn, h Handler) {
	defer func() {
		if !c.hijacked() {
			c.Close()
		}
	}()

	for {
		req, err := c.Receive()
		if err != nil {
			return
		}

		resp := &response{conn: c}
		h.Serve(resp, req)

		if c.hijacked() {
			return
		}
		c.Flush()
	}
}

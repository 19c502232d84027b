// Package admin implements the host-provided unix-socket admin
// command surface (§6): today, a single command, `list`, that emits
// one registered switch name per line followed by an HTTP-like status
// line. It is deliberately separate from the OpenFlow listener
// (server.go): admin connections speak a line protocol a human or a
// script can read with nc(1), not OpenFlow framing.
package admin

import (
	"bufio"
	"fmt"
	"net"
	"strings"

	"github.com/netrack/ofcore"
	"github.com/netrack/ofcore/ofswitch"
	"github.com/netrack/ofcore/registry"
)

// Server accepts admin connections on a unix socket and dispatches one
// line of input to the matching command. Its accept loop mirrors
// of.Server's (server.go): one goroutine per connection via Runner,
// generalized from OpenFlow framing to a plain text line protocol.
type Server struct {
	// Addr is the unix socket path to listen on.
	Addr string

	// Runner launches each connection's handling loop. Defaults to
	// of.OnDemandRoutineRunner, the same default server.go uses.
	Runner of.Runner
}

// ListenAndServe listens on srv.Addr and serves admin connections
// until Accept fails.
func (srv *Server) ListenAndServe() error {
	ln, err := net.Listen("unix", srv.Addr)
	if err != nil {
		return err
	}
	return srv.Serve(ln)
}

// Serve accepts connections from l, dispatching each to srv.serve.
func (srv *Server) Serve(l net.Listener) error {
	defer l.Close()

	runner := srv.Runner
	if runner == nil {
		runner = of.OnDemandRoutineRunner{}
	}

	for {
		c, err := l.Accept()
		if err != nil {
			return err
		}
		runner.Run(func() { srv.serve(c) })
	}
}

// serve reads one command per line until the connection closes,
// replying to each before reading the next.
func (srv *Server) serve(c net.Conn) {
	defer c.Close()

	scanner := bufio.NewScanner(c)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch cmd {
		case "list":
			writeList(c)
		default:
			fmt.Fprintf(c, "400 unknown command %q\n", cmd)
		}
	}
}

// writeList emits one registered switch name per line, terminated by
// newline, followed by an HTTP-like status 200 (§6's wording exactly).
// A registry entry that isn't a *ofswitch.Switch, or one that has gone
// dead (§7's ErrDeviceGone path) but has not yet been destructed and
// unregistered by its owner, is skipped rather than causing the whole
// command to fail: the registry stores `any` precisely so unrelated
// registrants don't break `list`.
func writeList(w net.Conn) {
	for _, name := range registry.Names() {
		entry, ok := registry.Lookup(name)
		if !ok {
			continue
		}
		sw, ok := entry.(*ofswitch.Switch)
		if !ok || !sw.Info().Alive {
			continue
		}
		fmt.Fprintln(w, name)
	}
	fmt.Fprintln(w, "200 OK")
}

package of

import (
	"bytes"
	"net"
	"testing"
)

func TestServerServeDispatchesRequestsUntilConnCloses(t *testing.T) {
	client, serverSide := net.Pipe()
	defer client.Close()

	var xids []uint32
	h := HandlerFunc(func(rw ResponseWriter, r *Request) {
		xids = append(xids, r.XID)
		*rw.Header() = Header{Version: r.Header.Version, Type: TypeEchoReply, XID: r.XID}
		rw.WriteHeader()
	})

	srv := &Server{Handler: h, Runner: SequentialRunner{}}
	c := NewConn(serverSide)

	done := make(chan struct{})
	go func() {
		srv.serve(c, srv.Handler)
		close(done)
	}()

	cc := NewConn(client)
	for _, xid := range []uint32{1, 2} {
		r := &Request{Header: Header{Version: VersionOF12, Type: TypeEchoRequest}, XID: xid}
		if err := cc.Send(r); err != nil {
			t.Fatal(err)
		}
		if err := cc.Flush(); err != nil {
			t.Fatal(err)
		}

		reply, err := cc.Receive()
		if err != nil {
			t.Fatal(err)
		}
		if reply.Header.Type != TypeEchoReply {
			t.Fatalf("reply type = %v; want ECHO_REPLY", reply.Header.Type)
		}
	}

	client.Close()
	<-done

	if len(xids) != 2 || xids[0] != 1 || xids[1] != 2 {
		t.Fatalf("xids = %v; want [1 2]", xids)
	}
}

func TestServerServeClosesConnOnHijack(t *testing.T) {
	client, serverSide := net.Pipe()
	defer client.Close()

	h := HandlerFunc(func(rw ResponseWriter, r *Request) {
		rw.Hijack()
	})

	srv := &Server{Handler: h}
	c := NewConn(serverSide)

	done := make(chan struct{})
	go func() {
		srv.serve(c, srv.Handler)
		close(done)
	}()

	cc := NewConn(client)
	r := &Request{Header: Header{Version: VersionOF12, Type: TypeHello}, Body: bytes.NewReader(nil)}
	if err := cc.Send(r); err != nil {
		t.Fatal(err)
	}
	if err := cc.Flush(); err != nil {
		t.Fatal(err)
	}

	<-done

	if c.hijacked() == false {
		t.Fatal("expected the connection to be marked hijacked, not closed")
	}
}

func TestOnDemandRoutineRunnerRunsConcurrently(t *testing.T) {
	done := make(chan struct{})
	OnDemandRoutineRunner{}.Run(func() { close(done) })
	<-done
}

func TestSequentialRunnerRunsInline(t *testing.T) {
	var ran bool
	SequentialRunner{}.Run(func() { ran = true })
	if !ran {
		t.Fatal("SequentialRunner must run fn before returning")
	}
}

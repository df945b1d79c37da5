package push

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	logx "pullover/pkg/logx"
)

// testServer is a loopback stand-in for the streaming endpoint. Plain TCP;
// TLS stays off in the channel config.
type testServer struct {
	ln    net.Listener
	conns chan net.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &testServer{ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.conns <- conn
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *testServer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection arrived")
		return nil
	}
}

func newTestChannel(s *testServer, keepalive time.Duration) *Channel {
	return NewChannel(Config{
		Addr:             s.ln.Addr().String(),
		DeviceID:         "dev1",
		Secret:           "s3cret",
		TLS:              false,
		KeepaliveTimeout: keepalive,
	}, logx.Nop())
}

func TestConnectSendsLoginFrame(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	ch := newTestChannel(srv, time.Second)
	defer ch.Close()

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := ch.State(); got != StateConnected {
		t.Fatalf("State = %v, want connected", got)
	}

	conn := srv.accept(t)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("reading login frame: %v", err)
	}
	if line != "login:dev1:s3cret\n" {
		t.Fatalf("login frame = %q", line)
	}
}

func TestWaitSignalDecodesFrames(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	ch := newTestChannel(srv, time.Second)
	defer ch.Close()

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := srv.accept(t)

	// Frame separators between signals must be skipped, not decoded.
	if _, err := conn.Write([]byte("#\n!\nR\nE")); err != nil {
		t.Fatalf("write: %v", err)
	}

	want := []Signal{SignalKeepalive, SignalNewMessage, SignalReload, SignalError}
	for i, w := range want {
		sig, err := ch.WaitSignal(context.Background())
		if err != nil {
			t.Fatalf("WaitSignal #%d: %v", i, err)
		}
		if sig != w {
			t.Fatalf("signal #%d = %v, want %v", i, sig, w)
		}
	}
}

func TestWaitSignalRejectsUnknownByte(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	ch := newTestChannel(srv, time.Second)
	defer ch.Close()

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := srv.accept(t)
	if _, err := conn.Write([]byte("Q")); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := ch.WaitSignal(context.Background())
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("want ProtocolError, got %T: %v", err, err)
	}
	if pe.Byte != 'Q' {
		t.Fatalf("Byte = %q", pe.Byte)
	}
}

func TestWaitSignalSilenceTimesOut(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	ch := newTestChannel(srv, 100*time.Millisecond)
	defer ch.Close()

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	srv.accept(t) // server never writes

	start := time.Now()
	_, err := ch.WaitSignal(context.Background())
	if !errors.Is(err, ErrSilence) {
		t.Fatalf("want ErrSilence, got %v", err)
	}
	if took := time.Since(start); took > time.Second {
		t.Fatalf("silence detection took %v", took)
	}
}

func TestWaitSignalWithoutConnect(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	ch := newTestChannel(srv, time.Second)

	if _, err := ch.WaitSignal(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	ch := newTestChannel(srv, time.Second)

	// Never connected: closing is a no-op.
	if err := ch.Close(); err != nil {
		t.Fatalf("Close before connect: %v", err)
	}

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := ch.State(); got != StateDisconnected {
		t.Fatalf("State = %v, want disconnected", got)
	}
}

func TestCloseUnblocksWaitSignal(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	ch := newTestChannel(srv, 10*time.Second)

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	srv.accept(t)

	done := make(chan error, 1)
	go func() {
		_, err := ch.WaitSignal(context.Background())
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	_ = ch.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("WaitSignal returned nil after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitSignal still blocked after Close")
	}
}

func TestConnectFailureResetsState(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	addr := srv.ln.Addr().String()
	_ = srv.ln.Close() // nothing listening anymore

	ch := NewChannel(Config{Addr: addr, TLS: false, KeepaliveTimeout: time.Second}, logx.Nop())
	if err := ch.Connect(context.Background()); err == nil {
		t.Fatal("expected connect failure")
	}
	if got := ch.State(); got != StateDisconnected {
		t.Fatalf("State after failed connect = %v, want disconnected", got)
	}
}

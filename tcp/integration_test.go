package tcp_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/joeycumines/genio"
	genruntime "github.com/joeycumines/genio/runtime"
	"github.com/joeycumines/genio/tcp"
)

func newRunningRuntime(t *testing.T) *genruntime.Runtime {
	t.Helper()
	rt, err := genruntime.New()
	if err != nil {
		t.Fatalf("runtime.New: %v", err)
	}
	done := make(chan struct{})
	go func() {
		rt.Run()
		close(done)
	}()
	t.Cleanup(func() {
		_ = rt.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after Close")
		}
	})
	return rt
}

func TestDialAccept_RoundTrip(t *testing.T) {
	rt := newRunningRuntime(t)

	accepted := make(chan *genio.Stream, 1)
	acc := tcp.NewAcceptor(rt, "test", func(s *genio.Stream) { accepted <- s })
	if err := acc.Listen(context.Background(), "127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := acc.Startup(); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	t.Cleanup(func() { acc.Free() })

	addrs := acc.Addrs()
	if len(addrs) == 0 {
		t.Fatal("Addrs() returned nothing")
	}
	target := addrs[0].String()

	opened := make(chan error, 1)
	client, err := tcp.Dial(context.Background(), rt, target)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := client.Open(func(s *genio.Stream, err error, data any) { opened <- err }, nil); err != nil && err != genio.ErrInProgress {
		t.Fatalf("Open: %v", err)
	}

	select {
	case err := <-opened:
		if err != nil {
			t.Fatalf("open_done err = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client open never completed")
	}

	var server *genio.Stream
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the connection")
	}

	serverGot := make(chan string, 1)
	server.SetCallbacks(genio.Callbacks{
		Read: func(s *genio.Stream, err error, p []byte) int {
			serverGot <- string(p)
			return len(p)
		},
	})
	server.SetReadCallbackEnable(true)

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("client.Write: %v", err)
	}

	select {
	case got := <-serverGot:
		if got != "ping" {
			t.Fatalf("server received %q, want %q", got, "ping")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received client's write")
	}

	clientGot := make(chan string, 1)
	client.SetCallbacks(genio.Callbacks{
		Read: func(s *genio.Stream, err error, p []byte) int {
			clientGot <- string(p)
			return len(p)
		},
	})
	client.SetReadCallbackEnable(true)

	if _, err := server.Write([]byte("pong")); err != nil {
		t.Fatalf("server.Write: %v", err)
	}

	select {
	case got := <-clientGot:
		if got != "pong" {
			t.Fatalf("client received %q, want %q", got, "pong")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client never received server's write")
	}

	closeDone := make(chan struct{})
	if err := client.Close(func(*genio.Stream, any) { close(closeDone) }, nil); err != nil {
		t.Fatalf("client.Close: %v", err)
	}
	select {
	case <-closeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("client close_done never fired")
	}

	remoteStr, err := server.RemoteAddrString()
	if err != nil {
		t.Fatalf("server.RemoteAddrString: %v", err)
	}
	if _, _, err := net.SplitHostPort(remoteStr); err != nil {
		t.Fatalf("server remote address %q not host:port: %v", remoteStr, err)
	}

	serverClosed := make(chan struct{})
	if err := server.Close(func(*genio.Stream, any) { close(serverClosed) }, nil); err != nil {
		t.Fatalf("server.Close: %v", err)
	}
	select {
	case <-serverClosed:
	case <-time.After(2 * time.Second):
		t.Fatal("server close_done never fired")
	}
}

func TestDial_ConnectRefused_DeliversFailure(t *testing.T) {
	rt := newRunningRuntime(t)

	client, err := tcp.Dial(context.Background(), rt, "127.0.0.1:1")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	opened := make(chan error, 1)
	openErr := client.Open(func(s *genio.Stream, err error, data any) { opened <- err }, nil)
	if openErr != nil && openErr != genio.ErrInProgress {
		t.Fatalf("Open = %v, want nil or ErrInProgress", openErr)
	}

	select {
	case err := <-opened:
		if err == nil {
			t.Fatal("open_done err = nil, want a connect failure")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("open_done never fired for a refused connection")
	}

	if client.State() != genio.StateClosed {
		t.Fatalf("state = %v, want StateClosed", client.State())
	}
}

func TestAcceptor_Filter_RejectsConnection(t *testing.T) {
	rt := newRunningRuntime(t)

	accepted := make(chan *genio.Stream, 1)
	acc := tcp.NewAcceptor(rt, "filtered", func(s *genio.Stream) { accepted <- s },
		tcp.WithAcceptFilter(func(remote net.Addr) (bool, string) { return true, "go away\n" }))
	if err := acc.Listen(context.Background(), "127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := acc.Startup(); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	t.Cleanup(func() { acc.Free() })

	target := acc.Addrs()[0].String()
	client, err := tcp.Dial(context.Background(), rt, target)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	opened := make(chan error, 1)
	_ = client.Open(func(s *genio.Stream, err error, data any) { opened <- err }, nil)
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("client open never completed")
	}
	t.Cleanup(client.Free)

	select {
	case <-accepted:
		t.Fatal("filtered connection should never reach the new-connection callback")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAcceptor_SetAcceptCallbackEnable_PausesThenResumes(t *testing.T) {
	rt := newRunningRuntime(t)

	accepted := make(chan *genio.Stream, 1)
	acc := tcp.NewAcceptor(rt, "pausable", func(s *genio.Stream) { accepted <- s })
	if err := acc.Listen(context.Background(), "127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := acc.Startup(); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	t.Cleanup(func() { acc.Free() })

	acc.SetAcceptCallbackEnable(false)

	target := acc.Addrs()[0].String()
	client, err := tcp.Dial(context.Background(), rt, target)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(client.Free)
	_ = client.Open(nil, nil)

	select {
	case <-accepted:
		t.Fatal("accept fired while callback was disabled")
	case <-time.After(200 * time.Millisecond):
	}

	acc.SetAcceptCallbackEnable(true)

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("pending connection was never accepted after re-enabling")
	}
}

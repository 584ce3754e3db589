// Command genio-echo is a tiny TCP echo client+server exercising the
// runtime reactor, the TCP dial/accept transports, and structured logging,
// end to end.
//
// Run a server:
//
//	go run ./cmd/genio-echo -listen 127.0.0.1:9000
//
// Run a client against it, from another terminal:
//
//	go run ./cmd/genio-echo -dial 127.0.0.1:9000 -text "hello"
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/genio"
	"github.com/joeycumines/genio/log"
	genruntime "github.com/joeycumines/genio/runtime"
	"github.com/joeycumines/genio/tcp"
)

func main() {
	listen := flag.String("listen", "", "run an echo server bound to this address (host:port)")
	dial := flag.String("dial", "", "run an echo client connecting to this address (host:port)")
	text := flag.String("text", "hello, genio", "text the client writes once connected")
	flag.Parse()

	if (*listen == "") == (*dial == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -listen or -dial is required")
		os.Exit(2)
	}

	logger := log.New()

	rt, err := genruntime.New(genruntime.WithPanicHandler(func(r any) {
		logger.Err().Any("recovered", r).Log("panic in runtime callback")
	}))
	if err != nil {
		logger.Err().Err(err).Log("failed to construct runtime")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go rt.Run()
	defer rt.Close()

	if *listen != "" {
		runServer(ctx, rt, logger, *listen)
		return
	}
	runClient(ctx, rt, logger, *dial, *text)
}

func runServer(ctx context.Context, rt *genruntime.Runtime, logger log.Logger, addr string) {
	acc := tcp.NewAcceptor(rt, "genio-echo", func(s *genio.Stream) {
		remote, _ := s.RemoteAddrString()
		logger.Info().Str("remote", remote).Log("accepted connection")
		s.SetCallbacks(genio.Callbacks{
			Read: func(s *genio.Stream, err error, p []byte) int {
				if err != nil {
					logger.Info().Str("remote", remote).Err(err).Log("connection closed")
					_ = s.Close(nil, nil)
					return 0
				}
				if _, werr := s.Write(p); werr != nil {
					logger.Err().Err(werr).Log("echo write failed")
				}
				return len(p)
			},
		})
		s.SetReadCallbackEnable(true)
	}, tcp.WithLogger(logger))

	if err := acc.Listen(ctx, addr); err != nil {
		logger.Err().Err(err).Str("addr", addr).Log("listen failed")
		os.Exit(1)
	}
	if err := acc.Startup(); err != nil {
		logger.Err().Err(err).Log("acceptor startup failed")
		os.Exit(1)
	}
	defer acc.Free()

	for _, a := range acc.Addrs() {
		logger.Info().Str("addr", a.String()).Log("listening")
	}

	<-ctx.Done()
	logger.Info().Log("shutting down")
}

func runClient(ctx context.Context, rt *genruntime.Runtime, logger log.Logger, addr, text string) {
	s, err := tcp.Dial(ctx, rt, addr)
	if err != nil {
		logger.Err().Err(err).Str("addr", addr).Log("resolve failed")
		os.Exit(1)
	}

	opened := make(chan error, 1)
	openErr := s.Open(func(s *genio.Stream, err error, data any) { opened <- err }, nil)
	if openErr != nil && openErr != genio.ErrInProgress {
		logger.Err().Err(openErr).Log("open failed")
		os.Exit(1)
	}

	select {
	case err := <-opened:
		if err != nil {
			logger.Err().Err(err).Log("connect failed")
			os.Exit(1)
		}
	case <-ctx.Done():
		os.Exit(1)
	case <-time.After(10 * time.Second):
		logger.Err().Log("connect timed out")
		os.Exit(1)
	}

	replies := make(chan string, 1)
	s.SetCallbacks(genio.Callbacks{
		Read: func(s *genio.Stream, err error, p []byte) int {
			if err != nil {
				return 0
			}
			replies <- string(p)
			return len(p)
		},
	})
	s.SetReadCallbackEnable(true)

	if _, err := s.Write([]byte(text)); err != nil {
		logger.Err().Err(err).Log("write failed")
		os.Exit(1)
	}

	select {
	case reply := <-replies:
		logger.Info().Str("reply", reply).Log("echo received")
	case <-time.After(5 * time.Second):
		logger.Err().Log("no reply received")
	}

	done := make(chan struct{})
	_ = s.Close(func(*genio.Stream, any) { close(done) }, nil)
	<-done
}

// Package tcp implements genio's TCP transport strategy: the client-side
// dial adapter (address iteration, non-blocking connect retry, peer-address
// formatting) and the listening acceptor, both plugged into a *genio.Stream
// via the genio.Opener/Retryer/CheckOpener/AddrStringer/AddrGetter
// capability interfaces. Neither TCP strategy implements genio.Releaser or
// genio.CloseChecker.
//
// Grounded in genio_tcp.c's tcp_sub_open/tcp_try_open/tcp_retry_open/
// tcp_check_open (client side) and tcpna_startup/tcpna_shutdown/
// tcpna_readhandler (acceptor side), reimplemented over
// golang.org/x/sys/unix sockets rather than the C library's raw addrinfo
// chain.
package tcp

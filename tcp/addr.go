package tcp

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/genio"
)

// ErrUnsupportedAddress is returned when a resolved address is neither
// AF_INET nor AF_INET6. Grounded in genio_tcp.c's tcp_genio_alloc, which
// rejects (E2BIG) any addrinfo entry too large for a sockaddr_storage
// before allocating anything; Go's unix.Sockaddr has no equivalent size
// limit, so the guard is recast as a family check.
var ErrUnsupportedAddress = fmt.Errorf("tcp: %w: address family not supported", genio.ErrTooBig)

// candidate is one resolved dial/bind target: a pre-built unix.Sockaddr plus
// enough to answer RemoteAddr/RemoteAddrString after a connect succeeds.
type candidate struct {
	family   int
	sockaddr unix.Sockaddr
	ip       net.IP
	port     int
}

func (c candidate) addr() *net.TCPAddr {
	return &net.TCPAddr{IP: c.ip, Port: c.port}
}

func toCandidate(ip net.IP, port int) (candidate, error) {
	if v4 := ip.To4(); v4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = port
		copy(sa.Addr[:], v4)
		return candidate{family: unix.AF_INET, sockaddr: &sa, ip: ip, port: port}, nil
	}
	if v6 := ip.To16(); v6 != nil {
		var sa unix.SockaddrInet6
		sa.Port = port
		copy(sa.Addr[:], v6)
		return candidate{family: unix.AF_INET6, sockaddr: &sa, ip: ip, port: port}, nil
	}
	return candidate{}, ErrUnsupportedAddress
}

// resolveDialAddrs resolves a "host:port" dial target into the full
// candidate chain the client transport walks on connect retry, mirroring
// tcp_genio_alloc's duplication of the caller's whole addrinfo list.
func resolveDialAddrs(ctx context.Context, address string) ([]candidate, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("tcp: %w: %v", genio.ErrInvalid, err)
	}
	port, err := net.DefaultResolver.LookupPort(ctx, "tcp", portStr)
	if err != nil {
		return nil, fmt.Errorf("tcp: %w: %v", genio.ErrInvalid, err)
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("tcp: %w: %v", genio.ErrInvalid, err)
	}
	return buildCandidates(ips, port)
}

// resolveListenAddrs resolves a bind target. An empty host yields both a
// IPv4 and an IPv6 wildcard candidate, matching open_socket's habit of
// opening one listening socket per address family when none is specified.
func resolveListenAddrs(ctx context.Context, address string) ([]candidate, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("tcp: %w: %v", genio.ErrInvalid, err)
	}
	port, err := net.DefaultResolver.LookupPort(ctx, "tcp", portStr)
	if err != nil {
		return nil, fmt.Errorf("tcp: %w: %v", genio.ErrInvalid, err)
	}
	if host == "" {
		return buildCandidates([]net.IPAddr{{IP: net.IPv4zero}, {IP: net.IPv6unspecified}}, port)
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("tcp: %w: %v", genio.ErrInvalid, err)
	}
	return buildCandidates(ips, port)
}

func buildCandidates(ips []net.IPAddr, port int) ([]candidate, error) {
	candidates := make([]candidate, 0, len(ips))
	for _, ip := range ips {
		c, err := toCandidate(ip.IP, port)
		if err != nil {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil, ErrUnsupportedAddress
	}
	return candidates, nil
}

func sockaddrToTCPAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append(net.IP(nil), a.Addr[:]...), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append(net.IP(nil), a.Addr[:]...), Port: a.Port}
	default:
		return nil
	}
}

package genio

import "time"

// Transport is the marker type for a Stream's strategy: a bag of optional
// capability interfaces, only the relevant ones of which a concrete
// transport implements. This mirrors the fd lower layer's vtable, where only
// the hooks a given transport needs are populated; Go expresses "not
// populated" as a failed type assertion rather than a nil function pointer.
type Transport interface {
	// Name identifies the transport for logging, e.g. "tcp".
	Name() string
}

// Opener performs the first attempt to acquire a descriptor. It may
// complete synchronously (err == nil, fd valid) or indicate an in-progress
// connect by returning ErrInProgress.
type Opener interface {
	SubOpen(s *Stream) (fd int, err error)
}

// Retryer advances to the next candidate after a failed in-progress open
// (the TCP transport's multi-address walk). exhausted is true when there is
// no further candidate to try.
type Retryer interface {
	RetryOpen(s *Stream) (fd int, err error, exhausted bool)
}

// CheckOpener resolves an in-progress open on write-readiness, e.g. by
// reading SO_ERROR.
type CheckOpener interface {
	CheckOpen(s *Stream, fd int) error
}

// AddrStringer formats the remote peer as a human-readable string.
type AddrStringer interface {
	RemoteAddrString(s *Stream) (string, error)
}

// AddrGetter exposes the remote peer as a structured address.
type AddrGetter interface {
	RemoteAddr(s *Stream) (any, error)
}

// RemoteIDer exposes a transport-defined remote identifier (unused by any
// transport in this module; present for vtable parity).
type RemoteIDer interface {
	RemoteID(s *Stream) (string, error)
}

// CloseChecker lets a transport observe and poll the close sequence. done
// false with a positive retryAfter means "poll again after this delay".
type CloseChecker interface {
	CheckClose(s *Stream, phase ClosePhase) (done bool, retryAfter time.Duration, err error)
}

// Releaser is invoked once, when a Stream's last reference is dropped after
// it has reached StateClosed, to release any transport-owned resources.
type Releaser interface {
	Release(s *Stream)
}

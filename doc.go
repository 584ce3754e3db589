// Package genio implements a readiness-driven stream-I/O abstraction: a
// uniform handle over concrete transports (TCP today; the strategy surface
// is open to stdio, pty, telnet and termios-backed variants) that hides
// asynchronous open/close and readiness-based read/write/urgent delivery
// behind a small, transport-agnostic API.
//
// The core is [Stream], a per-descriptor state machine driven by a pluggable
// [Runtime] (the OS-services port: readiness polling, timers, a deferred-op
// runner). Concrete transports implement [Opener], [Retryer], [CheckOpener]
// and the optional address/close hooks; see package tcp for the TCP
// implementation and package sergenio for the serial control façade built on
// top of a Stream.
//
// Every Stream method is safe for concurrent use. No user callback is ever
// invoked while the Stream's internal lock is held; re-entrant notification
// changes are satisfied by deferring work onto the Runtime's runner rather
// than recursing.
package genio

// Package sergenio implements the serial control façade spec.md §4.4
// describes: a thin typed surface of non-blocking "request + async
// confirmation" setters (baud, datasize, parity, stopbits, flowcontrol,
// sbreak, dtr, rts) over an underlying *genio.Stream, plus a blocking
// convenience wrapper. Grounded in sergenio.c; this module implements only
// the contract the façade places on the fd lower layer (it needs nothing
// beyond genio's public Stream surface), not a termios-backed transport.
package sergenio

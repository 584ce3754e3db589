package sergenio

import (
	"context"

	"github.com/joeycumines/genio/runtime"
)

// Blocking is sergenio.c's struct sergenio_b: a uniform "allocate a waiter,
// issue the async call, wait, read out result" wrapper built on the same
// async surface as [Sergenio], not a separate concurrency model.
type Blocking struct {
	sio *Sergenio
}

// NewBlocking wraps sio with the blocking convenience surface.
func NewBlocking(sio *Sergenio) *Blocking {
	return &Blocking{sio: sio}
}

func callBlocking(ctx context.Context, issue func(done DoneFunc) error) (int, error) {
	w := runtime.NewWaiter[int]()
	err := issue(func(_ *Sergenio, err error, val int) { w.Wake(val, err) })
	if err != nil {
		return 0, err
	}
	return w.Wait(ctx)
}

// Baud blocks until the baud-rate change is confirmed, returning the
// negotiated value.
func (b *Blocking) Baud(ctx context.Context, value int) (int, error) {
	return callBlocking(ctx, func(done DoneFunc) error { return b.sio.Baud(value, done) })
}

// DataSize blocks until the data-bits change is confirmed.
func (b *Blocking) DataSize(ctx context.Context, value int) (int, error) {
	return callBlocking(ctx, func(done DoneFunc) error { return b.sio.DataSize(value, done) })
}

// Parity blocks until the parity change is confirmed.
func (b *Blocking) Parity(ctx context.Context, value int) (int, error) {
	return callBlocking(ctx, func(done DoneFunc) error { return b.sio.Parity(value, done) })
}

// StopBits blocks until the stop-bits change is confirmed.
func (b *Blocking) StopBits(ctx context.Context, value int) (int, error) {
	return callBlocking(ctx, func(done DoneFunc) error { return b.sio.StopBits(value, done) })
}

// FlowControl blocks until the flow-control change is confirmed.
func (b *Blocking) FlowControl(ctx context.Context, value int) (int, error) {
	return callBlocking(ctx, func(done DoneFunc) error { return b.sio.FlowControl(value, done) })
}

// SBreak blocks until the break-state change is confirmed.
func (b *Blocking) SBreak(ctx context.Context, value int) (int, error) {
	return callBlocking(ctx, func(done DoneFunc) error { return b.sio.SBreak(value, done) })
}

// DTR blocks until the DTR change is confirmed.
func (b *Blocking) DTR(ctx context.Context, value int) (int, error) {
	return callBlocking(ctx, func(done DoneFunc) error { return b.sio.DTR(value, done) })
}

// RTS blocks until the RTS change is confirmed.
func (b *Blocking) RTS(ctx context.Context, value int) (int, error) {
	return callBlocking(ctx, func(done DoneFunc) error { return b.sio.RTS(value, done) })
}

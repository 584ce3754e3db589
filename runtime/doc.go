// Package runtime implements genio's OS-services port: a single-goroutine
// reactor that multiplexes readiness notifications (epoll on Linux, kqueue
// on Darwin) across many registered descriptors, runs a deferred-op
// trampoline, and fires one-shot timers, all off of whichever goroutine
// called the public API.
//
// A *Runtime satisfies genio.Runtime by structural typing; genio imports no
// symbol from this package, so tests can substitute internal/fakeruntime.
// This package imports genio for the FDHandlers and Timer types it uses.
package runtime

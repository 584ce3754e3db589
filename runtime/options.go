package runtime

// Option configures a Runtime at construction time, following the teacher's
// functional-options pattern (eventloop.LoopOption).
type Option func(*Runtime)

// WithPanicHandler installs a callback invoked when a Submit'd task, timer,
// or readiness handler panics, instead of letting the panic escape the
// runtime's goroutine.
func WithPanicHandler(fn func(recovered any)) Option {
	return func(r *Runtime) { r.onPanic = fn }
}

// Package log wires genio's structured logging onto logiface, using stumpy
// as the default JSON event encoder -- the same facade/backend pairing
// logiface-stumpy configures for its own callers (see WithStumpy).
package log

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger type genio components accept. The zero
// value (nil) is not usable; use Disabled() or New().
type Logger = *logiface.Logger[*stumpy.Event]

// Disabled returns a logger that discards everything, matching
// logiface.UnimplementedEvent's "zero value never panics, every level
// reports disabled" contract. It is the default when no logger is
// configured.
func Disabled() Logger {
	return logiface.New[*stumpy.Event]()
}

// New builds a stumpy-backed logger. opts are passed through to
// stumpy.WithStumpy.
func New(opts ...stumpy.Option) Logger {
	return logiface.New[*stumpy.Event](stumpy.WithStumpy(opts...))
}

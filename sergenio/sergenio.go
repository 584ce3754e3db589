package sergenio

import (
	"github.com/joeycumines/genio"
)

// Param identifies one of the typed line parameters this façade exposes.
type Param int

const (
	ParamBaud Param = iota
	ParamDataSize
	ParamParity
	ParamStopBits
	ParamFlowControl
	ParamBreak
	ParamDTR
	ParamRTS
)

func (p Param) String() string {
	switch p {
	case ParamBaud:
		return "baud"
	case ParamDataSize:
		return "datasize"
	case ParamParity:
		return "parity"
	case ParamStopBits:
		return "stopbits"
	case ParamFlowControl:
		return "flowcontrol"
	case ParamBreak:
		return "sbreak"
	case ParamDTR:
		return "dtr"
	case ParamRTS:
		return "rts"
	default:
		return "unknown"
	}
}

// Controller is the capability a serial-capable transport supplies to back
// the typed setters below: a single non-blocking "request + async
// confirmation" operation parameterised by which line parameter is being
// changed. Grounded in sergenio.c's struct sergenio_funcs (one function
// pointer per parameter, here collapsed to one polymorphic method since Go
// has no vtable-of-function-pointers idiom as natural as a switch on an
// enum).
type Controller interface {
	// SetParam issues the request; done is invoked exactly once, off the
	// caller's stack, with the negotiated value (or err set and val
	// undefined on failure).
	SetParam(s *genio.Stream, param Param, value int, done func(err error, val int)) error
}

// DoneFunc is the one-shot completion callback for every typed setter
// below.
type DoneFunc func(sio *Sergenio, err error, val int)

// Sergenio is the typed façade over a *genio.Stream: sergenio.c's
// struct sergenio, minus the telnet/termios transport it would otherwise
// wrap (out of scope; see package doc).
type Sergenio struct {
	stream *genio.Stream
	ctrl   Controller
}

// New wraps stream with the typed control surface backed by ctrl. ctrl is
// typically the stream's own Transport, if it implements Controller.
func New(stream *genio.Stream, ctrl Controller) *Sergenio {
	return &Sergenio{stream: stream, ctrl: ctrl}
}

// Stream returns the underlying genio stream (sergenio_to_genio).
func (s *Sergenio) Stream() *genio.Stream { return s.stream }

func (s *Sergenio) setParam(p Param, value int, done DoneFunc) error {
	if s.ctrl == nil {
		return genio.ErrNotSupported
	}
	return s.ctrl.SetParam(s.stream, p, value, func(err error, val int) {
		if done != nil {
			done(s, err, val)
		}
	})
}

// Baud requests a baud-rate change; done carries the negotiated rate.
func (s *Sergenio) Baud(value int, done DoneFunc) error {
	return s.setParam(ParamBaud, value, done)
}

// DataSize requests a data-bits change.
func (s *Sergenio) DataSize(value int, done DoneFunc) error {
	return s.setParam(ParamDataSize, value, done)
}

// Parity requests a parity-mode change.
func (s *Sergenio) Parity(value int, done DoneFunc) error {
	return s.setParam(ParamParity, value, done)
}

// StopBits requests a stop-bits change.
func (s *Sergenio) StopBits(value int, done DoneFunc) error {
	return s.setParam(ParamStopBits, value, done)
}

// FlowControl requests a flow-control mode change.
func (s *Sergenio) FlowControl(value int, done DoneFunc) error {
	return s.setParam(ParamFlowControl, value, done)
}

// SBreak requests a break-signal state change.
func (s *Sergenio) SBreak(value int, done DoneFunc) error {
	return s.setParam(ParamBreak, value, done)
}

// DTR requests a DTR line state change.
func (s *Sergenio) DTR(value int, done DoneFunc) error {
	return s.setParam(ParamDTR, value, done)
}

// RTS requests an RTS line state change.
func (s *Sergenio) RTS(value int, done DoneFunc) error {
	return s.setParam(ParamRTS, value, done)
}

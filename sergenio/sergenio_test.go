package sergenio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joeycumines/genio"
	"github.com/joeycumines/genio/sergenio"
)

type fakeController struct {
	err       error
	val       int
	gotParam  sergenio.Param
	gotValue  int
	callCount int
	async     bool
}

func (c *fakeController) SetParam(_ *genio.Stream, param sergenio.Param, value int, done func(err error, val int)) error {
	c.callCount++
	c.gotParam = param
	c.gotValue = value
	if c.async {
		go func() {
			time.Sleep(10 * time.Millisecond)
			done(c.err, c.val)
		}()
		return nil
	}
	done(c.err, c.val)
	return nil
}

func TestSergenio_Baud_DeliversNegotiatedValue(t *testing.T) {
	ctrl := &fakeController{val: 9600}
	sio := sergenio.New(genio.NewStream(nil, fakeTransport{}), ctrl)

	var gotErr error
	var gotVal int
	if err := sio.Baud(19200, func(s *sergenio.Sergenio, err error, val int) {
		gotErr = err
		gotVal = val
	}); err != nil {
		t.Fatalf("Baud: %v", err)
	}

	if ctrl.gotParam != sergenio.ParamBaud {
		t.Fatalf("param = %v, want ParamBaud", ctrl.gotParam)
	}
	if ctrl.gotValue != 19200 {
		t.Fatalf("requested value = %d, want 19200", ctrl.gotValue)
	}
	if gotErr != nil {
		t.Fatalf("done err = %v, want nil", gotErr)
	}
	if gotVal != 9600 {
		t.Fatalf("done val = %d, want 9600 (negotiated)", gotVal)
	}
}

func TestSergenio_EachSetter_UsesDistinctParam(t *testing.T) {
	cases := []struct {
		name string
		call func(sio *sergenio.Sergenio, done sergenio.DoneFunc) error
		want sergenio.Param
	}{
		{"DataSize", func(sio *sergenio.Sergenio, done sergenio.DoneFunc) error { return sio.DataSize(8, done) }, sergenio.ParamDataSize},
		{"Parity", func(sio *sergenio.Sergenio, done sergenio.DoneFunc) error { return sio.Parity(1, done) }, sergenio.ParamParity},
		{"StopBits", func(sio *sergenio.Sergenio, done sergenio.DoneFunc) error { return sio.StopBits(1, done) }, sergenio.ParamStopBits},
		{"FlowControl", func(sio *sergenio.Sergenio, done sergenio.DoneFunc) error { return sio.FlowControl(0, done) }, sergenio.ParamFlowControl},
		{"SBreak", func(sio *sergenio.Sergenio, done sergenio.DoneFunc) error { return sio.SBreak(1, done) }, sergenio.ParamBreak},
		{"DTR", func(sio *sergenio.Sergenio, done sergenio.DoneFunc) error { return sio.DTR(1, done) }, sergenio.ParamDTR},
		{"RTS", func(sio *sergenio.Sergenio, done sergenio.DoneFunc) error { return sio.RTS(1, done) }, sergenio.ParamRTS},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := &fakeController{}
			sio := sergenio.New(genio.NewStream(nil, fakeTransport{}), ctrl)
			if err := tc.call(sio, nil); err != nil {
				t.Fatalf("%s: %v", tc.name, err)
			}
			if ctrl.gotParam != tc.want {
				t.Fatalf("param = %v, want %v", ctrl.gotParam, tc.want)
			}
		})
	}
}

func TestSergenio_NilController_ReturnsNotSupported(t *testing.T) {
	sio := sergenio.New(genio.NewStream(nil, fakeTransport{}), nil)
	if err := sio.Baud(9600, nil); !errors.Is(err, genio.ErrNotSupported) {
		t.Fatalf("err = %v, want ErrNotSupported", err)
	}
}

func TestBlocking_Baud_BlocksUntilConfirmation(t *testing.T) {
	ctrl := &fakeController{val: 115200, async: true}
	sio := sergenio.New(genio.NewStream(nil, fakeTransport{}), ctrl)
	b := sergenio.NewBlocking(sio)

	val, err := b.Baud(context.Background(), 9600)
	if err != nil {
		t.Fatalf("Baud: %v", err)
	}
	if val != 115200 {
		t.Fatalf("val = %d, want 115200", val)
	}
}

func TestBlocking_ContextCancellation(t *testing.T) {
	ctrl := &fakeController{async: true}
	ctrl.err = nil
	sio := sergenio.New(genio.NewStream(nil, fakeTransport{}), ctrl)
	b := sergenio.NewBlocking(sio)

	// The fake controller's async completion sleeps 10ms; give a context
	// that expires well before that so Wait observes cancellation first.
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	_, err := b.Baud(ctx, 9600)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestBlocking_PropagatesControllerError(t *testing.T) {
	wantErr := errors.New("line busy")
	ctrl := &fakeController{err: wantErr}
	sio := sergenio.New(genio.NewStream(nil, fakeTransport{}), ctrl)
	b := sergenio.NewBlocking(sio)

	_, err := b.Baud(context.Background(), 9600)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

type fakeTransport struct{}

func (fakeTransport) Name() string { return "fake" }

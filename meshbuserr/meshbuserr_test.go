package meshbuserr

import (
	"errors"
	"testing"
)

func TestWrapAndUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := Wrap(ComponentFraming, StageSend, CodeIOError, inner)

	if !errors.Is(err, inner) {
		t.Fatalf("expected wrapped error to unwrap to inner")
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error via errors.As")
	}
	if e.Component != ComponentFraming || e.Stage != StageSend || e.Code != CodeIOError {
		t.Fatalf("unexpected fields: %+v", e)
	}
	if err.Error() == "" {
		t.Fatalf("expected non-empty message")
	}
}

func TestWrapNilInner(t *testing.T) {
	err := Wrap(ComponentRPC, StageClose, CodeSocketClosed, nil)
	if err.Error() == "" {
		t.Fatalf("expected non-empty message even with nil inner error")
	}
}

func TestIs(t *testing.T) {
	err := Wrap(ComponentMediator, StageRegistry, CodeInvalidState, nil)
	if !Is(err, CodeInvalidState) {
		t.Fatalf("expected Is to match CodeInvalidState")
	}
	if Is(err, CodeTimeout) {
		t.Fatalf("did not expect Is to match CodeTimeout")
	}
	if Is(errors.New("plain"), CodeTimeout) {
		t.Fatalf("did not expect Is to match a non-meshbuserr error")
	}
}

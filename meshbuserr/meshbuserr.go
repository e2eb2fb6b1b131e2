// Package meshbuserr defines the structured error type shared by every
// meshbus package.
package meshbuserr

import (
	"errors"
	"fmt"
)

// Component identifies which subsystem produced an error.
type Component string

const (
	ComponentFraming    Component = "framing"
	ComponentRPC        Component = "rpc"
	ComponentTransport  Component = "transport"
	ComponentMediator   Component = "mediator"
	ComponentNode       Component = "node"
	ComponentPublisher  Component = "publisher"
	ComponentSubscriber Component = "subscriber"
	ComponentLifecycle  Component = "lifecycle"
)

// Stage identifies which step within a component failed.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageDial      Stage = "dial"
	StageAccept    Stage = "accept"
	StageHandshake Stage = "handshake"
	StageSend      Stage = "send"
	StageRecv      Stage = "recv"
	StageClose     Stage = "close"
	StageRegistry  Stage = "registry"
)

// Code is a stable, programmatic error identifier.
//
// These are the error kinds named in the system's error handling design:
// transport failures, protocol-level framing failures, and state
// violations raised by the control plane.
type Code string

const (
	CodeIOError        Code = "io_error"
	CodePeerClosed     Code = "peer_closed"
	CodeSocketClosed   Code = "socket_closed"
	CodeTimeout        Code = "timeout"
	CodeInvalidMessage Code = "invalid_message"
	CodeInvalidState   Code = "invalid_state"
	CodeAddressInUse   Code = "address_in_use"
)

// Error is a structured, programmatically identifiable error.
type Error struct {
	Component Component
	Stage     Stage
	Code      Code
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s (%s): %v", e.Component, e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s (%s)", e.Component, e.Stage, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds a structured Error. err may be nil.
func Wrap(component Component, stage Stage, code Code, err error) error {
	return &Error{Component: component, Stage: stage, Code: code, Err: err}
}

// Is reports whether err wraps a *Error with the given code.
func Is(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e != nil && e.Code == code
}

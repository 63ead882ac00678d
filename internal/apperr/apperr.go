// Package apperr defines the error taxonomy shared by the wallet components.
// Errors carry a Kind so the dispatcher can choose a user reply without
// inspecting messages, and a Code used as the err_code log field.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an application error.
type Kind string

const (
	KindUnknownCallback    Kind = "unknown_callback"
	KindValidation         Kind = "validation"
	KindGatewayUnavailable Kind = "gateway_unavailable"
	KindGatewayRejected    Kind = "gateway_rejected"
	KindMalformedPayload   Kind = "malformed_payload"
	KindUnrecognizedStatus Kind = "unrecognized_status"
	KindUnknownRecipient   Kind = "unknown_recipient"
	KindAlreadyProcessed   Kind = "already_processed"
	KindInternal           Kind = "internal"
)

// Error is a classified error. Message is meant for logs, never for users.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Code returns the kind in upper case for structured logs.
func (e *Error) Code() string { return strings.ToUpper(string(e.Kind)) }

// ErrorKind lets other error types take part in classification.
func (e *Error) ErrorKind() Kind { return e.Kind }

type kinded interface {
	error
	ErrorKind() Kind
}

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause. A nil cause yields nil.
func Wrap(kind Kind, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of the first classified error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

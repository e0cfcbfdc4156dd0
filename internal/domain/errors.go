package domain

import (
	"errors"
	"fmt"
)

// Kind separates caller mistakes from server faults.
type Kind int

const (
	KindDecode Kind = iota + 1
	KindRejected
	KindModelLoad
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindRejected:
		return "rejected"
	case KindModelLoad:
		return "model_load"
	case KindInternal:
		return "internal"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

const (
	MsgDecode    = "Invalid image format or corrupt file."
	MsgNoVehicle = "No vehicle detected. Please upload a clear photo of a car."
	MsgInternal  = "Internal Processing Error"
)

// Error is returned by every stage of the pipeline.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func DecodeError(err error) *Error {
	return &Error{Kind: KindDecode, Message: MsgDecode, Err: err}
}

func Rejected() *Error {
	return &Error{Kind: KindRejected, Message: MsgNoVehicle}
}

func ModelLoadError(name string, err error) *Error {
	return &Error{Kind: KindModelLoad, Message: "failed to load " + name, Err: err}
}

func InternalError(err error) *Error {
	return &Error{Kind: KindInternal, Message: MsgInternal, Err: err}
}

// KindOf reports the Kind carried by err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsValidation is true for errors the caller can fix by sending another image.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	k := KindOf(err)
	return k == KindDecode || k == KindRejected
}

// PublicMessage is what may be shown to the caller. Internal detail never leaks.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && (e.Kind == KindDecode || e.Kind == KindRejected) {
		return e.Message
	}
	return MsgInternal
}

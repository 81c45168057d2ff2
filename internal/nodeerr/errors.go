// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package nodeerr defines the error taxonomy shared across the transport,
// peer, worker and sync packages: TransportError, ProtocolViolation,
// ValidationError, SchedulerError, ResourceError and FatalError. Each error
// is a *Error carrying its Class, a message and an optional wrapped cause,
// so callers can classify it with errors.As.
package nodeerr

import "fmt"

// Class categorizes an error for the purposes of peer-failure bookkeeping
// and disconnect policy.
type Class int

const (
	ClassTransport Class = iota
	ClassProtocolViolation
	ClassValidation
	ClassScheduler
	ClassResource
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassTransport:
		return "TransportError"
	case ClassProtocolViolation:
		return "ProtocolViolation"
	case ClassValidation:
		return "ValidationError"
	case ClassScheduler:
		return "SchedulerError"
	case ClassResource:
		return "ResourceError"
	case ClassFatal:
		return "FatalError"
	default:
		return "UnknownError"
	}
}

// Error is a classified node error. It wraps an underlying cause, so
// errors.Is/errors.As over the cause continues to work.
type Error struct {
	Class Class
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(class Class, msg string, err error) *Error {
	return &Error{Class: class, Msg: msg, Err: err}
}

func Transport(msg string, err error) *Error         { return newErr(ClassTransport, msg, err) }
func ProtocolViolation(msg string, err error) *Error { return newErr(ClassProtocolViolation, msg, err) }
func Validation(msg string, err error) *Error        { return newErr(ClassValidation, msg, err) }
func Scheduler(msg string, err error) *Error         { return newErr(ClassScheduler, msg, err) }
func Resource(msg string, err error) *Error          { return newErr(ClassResource, msg, err) }
func Fatal(msg string, err error) *Error             { return newErr(ClassFatal, msg, err) }

// IsFatal reports whether err is, or wraps, a FatalError.
func IsFatal(err error) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Class == ClassFatal
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Package errclass classifies pipeline errors so message consumers can decide
// between acknowledging, terminating or redelivering a message.
package errclass

import (
	"context"
	"errors"
	"fmt"
)

// Class is the handling classification of an error.
type Class int

const (
	// Transient errors may succeed when the whole stage invocation is retried.
	Transient Class = iota
	// Permanent errors will fail again for the same input; retrying is pointless.
	Permanent
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with its classification.
type ClassifiedError struct {
	Class Class
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// MarkPermanent wraps err so that IsPermanent reports true. Nil stays nil.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: Permanent, Err: err}
}

// MarkTransient wraps err so that IsTransient reports true. Nil stays nil.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: Transient, Err: err}
}

// Of returns the class of err. Unclassified errors are transient: an
// unknown failure is given the benefit of a redelivery.
func Of(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return Transient
}

// IsPermanent reports whether err is classified as permanent.
func IsPermanent(err error) bool {
	return err != nil && Of(err) == Permanent
}

// IsTransient reports whether err should trigger a redelivery.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return Of(err) == Transient
}

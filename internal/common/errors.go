package common

import (
	"errors"
	"fmt"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id '%s' not found", e.Resource, e.ID)
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError indicates invalid input data.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// DeliveryKind classifies why a delivery attempt did not succeed.
type DeliveryKind string

const (
	KindConfigMissing    DeliveryKind = "ConfigMissing"
	KindNotFound         DeliveryKind = "NotFound"
	KindTransportFailure DeliveryKind = "TransportFailure"
	KindNotConnected     DeliveryKind = "NotConnected"
	KindRetriesExhausted DeliveryKind = "RetriesExhausted"
	KindRateLimited      DeliveryKind = "RateLimited"
)

// DeliveryError is returned by delivery backends and the connection manager.
// It is always converted into a send outcome before reaching HTTP callers.
type DeliveryError struct {
	Kind    DeliveryKind
	Method  string
	Message string
	Err     error
}

func (e *DeliveryError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Method == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Method, msg)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// NewDeliveryError creates a new DeliveryError.
func NewDeliveryError(kind DeliveryKind, method, message string) *DeliveryError {
	return &DeliveryError{Kind: kind, Method: method, Message: message}
}

// WrapDeliveryError creates a DeliveryError that keeps the underlying cause.
func WrapDeliveryError(kind DeliveryKind, method string, err error) *DeliveryError {
	return &DeliveryError{Kind: kind, Method: method, Err: err}
}

// KindOf returns the delivery kind carried by err, or TransportFailure when err
// is not a DeliveryError.
func KindOf(err error) DeliveryKind {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindTransportFailure
}

// Reason returns the human-readable part of a delivery error.
func Reason(err error) string {
	var de *DeliveryError
	if errors.As(err, &de) {
		if de.Message != "" {
			return de.Message
		}
		if de.Err != nil {
			return de.Err.Error()
		}
		return string(de.Kind)
	}
	return err.Error()
}

package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies service failures. Controllers map kinds to HTTP codes.
type ErrorKind string

const (
	KindProductUnavailable  ErrorKind = "ProductUnavailable"
	KindInsufficientStock   ErrorKind = "InsufficientStock"
	KindTransactionConflict ErrorKind = "TransactionConflict"
	KindValidation          ErrorKind = "ValidationError"
	KindNotFound            ErrorKind = "NotFound"
	KindInternal            ErrorKind = "Internal"
)

// Sentinels for errors.Is. Every *ServiceError matches the one for its kind.
var (
	ErrProductUnavailable  = errors.New("product unavailable")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrTransactionConflict = errors.New("transaction conflict")
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrInternal            = errors.New("internal error")
)

var kindSentinels = map[ErrorKind]error{
	KindProductUnavailable:  ErrProductUnavailable,
	KindInsufficientStock:   ErrInsufficientStock,
	KindTransactionConflict: ErrTransactionConflict,
	KindValidation:          ErrValidation,
	KindNotFound:            ErrNotFound,
	KindInternal:            ErrInternal,
}

// ServiceError is returned by every service operation. Item fields are set
// for stock and availability failures.
type ServiceError struct {
	Kind      ErrorKind
	Message   string
	ProductID string
	Name      string
	Size      string
	Requested int
	Available int
	Field     string
	Err       error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func (e *ServiceError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// Details returns the item fields that apply to the kind, for error bodies.
func (e *ServiceError) Details() map[string]interface{} {
	switch e.Kind {
	case KindProductUnavailable:
		return map[string]interface{}{"productId": e.ProductID, "name": e.Name}
	case KindInsufficientStock:
		return map[string]interface{}{
			"productId": e.ProductID,
			"name":      e.Name,
			"size":      e.Size,
			"requested": e.Requested,
			"available": e.Available,
		}
	case KindValidation:
		if e.Field != "" {
			return map[string]interface{}{"field": e.Field}
		}
	}
	return nil
}

func validationError(field, msg string) *ServiceError {
	return &ServiceError{Kind: KindValidation, Field: field, Message: msg}
}

func notFoundError(msg string) *ServiceError {
	return &ServiceError{Kind: KindNotFound, Message: msg}
}

func conflictError(msg string, err error) *ServiceError {
	return &ServiceError{Kind: KindTransactionConflict, Message: msg, Err: err}
}

func internalError(msg string, err error) *ServiceError {
	return &ServiceError{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

package engine

import (
	"errors"

	"qms/transaction-service/internal/store"
)

type Kind string

const (
	KindInvalidRequest      Kind = "invalid_request"
	KindDuplicateQueue      Kind = "duplicate_queue"
	KindFlowNotFound        Kind = "flow_not_found"
	KindDepartmentNotFound  Kind = "department_not_found"
	KindServiceNotFound     Kind = "service_not_found"
	KindQueueCreationFailed Kind = "queue_creation_failed"
	KindQueueNotFound       Kind = "queue_not_found"
	KindTransactionNotFound Kind = "transaction_not_found"
	KindInvalidState        Kind = "invalid_state"
	KindAccessDenied        Kind = "access_denied"
	KindInternal            Kind = "internal"
)

// Error is the only error type that leaves the engine. Message is safe to
// show to the visitor.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func KindOf(err error) Kind {
	var engErr *Error
	if errors.As(err, &engErr) {
		return engErr.Kind
	}
	return KindInternal
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// classify maps store failures onto engine kinds; fallback is used for
// anything it does not recognise.
func classify(err error, fallback Kind) *Error {
	var engErr *Error
	if errors.As(err, &engErr) {
		return engErr
	}
	switch {
	case errors.Is(err, store.ErrDuplicateQueue):
		return newError(KindDuplicateQueue, "Only 1 queue is allowed per department and service.", err)
	case errors.Is(err, store.ErrFlowNotFound):
		return newError(KindFlowNotFound, "Flow not found.", err)
	case errors.Is(err, store.ErrDepartmentNotFound):
		return newError(KindDepartmentNotFound, "Department not found.", err)
	case errors.Is(err, store.ErrServiceNotFound):
		return newError(KindServiceNotFound, "Service not found.", err)
	case errors.Is(err, store.ErrQueueNotFound):
		return newError(KindQueueNotFound, "Queue not found.", err)
	case errors.Is(err, store.ErrTransactionNotFound):
		return newError(KindTransactionNotFound, "Transaction not found.", err)
	case errors.Is(err, store.ErrInvalidState):
		return newError(KindInvalidState, "The current state does not allow this action.", err)
	}
	if fallback == KindQueueCreationFailed {
		return newError(KindQueueCreationFailed, "Cannot create queue.", err)
	}
	return newError(KindInternal, "Something went wrong.", err)
}

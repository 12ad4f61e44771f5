package store

import "errors"

var (
	ErrDepartmentNotFound  = errors.New("department not found")
	ErrServiceNotFound     = errors.New("service not found")
	ErrFlowNotFound        = errors.New("flow not found")
	ErrFlowEmpty           = errors.New("flow has no steps")
	ErrQueueNotFound       = errors.New("queue not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateQueue      = errors.New("duplicate active queue")
	ErrInvalidState        = errors.New("invalid state")
	ErrSessionNotFound     = errors.New("session not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrServerNotFound      = errors.New("server not found")
)

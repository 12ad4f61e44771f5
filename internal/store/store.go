package store

import (
	"context"
	"time"

	"qms/transaction-service/internal/models"
)

// Catalog is the read-only department/service reference data.
type Catalog interface {
	GetDepartment(ctx context.Context, departmentID string) (models.Department, error)
	GetService(ctx context.Context, serviceID string) (models.Service, error)
	// AverageDurations lists the handling duration of every server in the
	// department that offers the service.
	AverageDurations(ctx context.Context, departmentID, serviceID string) ([]time.Duration, error)
	ListDepartments(ctx context.Context) ([]models.Department, error)
	ListDepartmentServices(ctx context.Context, departmentID string) ([]models.Service, error)
}

type FlowStore interface {
	GetFlow(ctx context.Context, flowID string) (models.Flow, error)
}

// Tx is one atomic unit of work. Everything written through a Tx is
// discarded when the function passed to WithinTx returns an error.
type Tx interface {
	GetDepartment(ctx context.Context, departmentID string) (models.Department, error)
	GetService(ctx context.Context, serviceID string) (models.Service, error)
	GetFlow(ctx context.Context, flowID string) (models.Flow, error)
	GetTransaction(ctx context.Context, transactionID string) (models.Transaction, error)
	GetQueue(ctx context.Context, queueID string) (models.Queue, error)

	// LockSequence returns the last number allocated for the department on
	// the day and holds the (department, day) allocation lock until the unit
	// of work ends.
	LockSequence(ctx context.Context, departmentID string, day models.BusinessDay) (int64, error)
	StoreSequence(ctx context.Context, departmentID string, day models.BusinessDay, last int64) error
	HasActiveQueue(ctx context.Context, input ActiveQueueInput) (bool, error)

	CreateTransaction(ctx context.Context, txn models.Transaction) error
	AttachSteps(ctx context.Context, transactionID string, steps []models.StepInstance) error
	UpdateStepStatus(ctx context.Context, stepInstanceID, status string, at time.Time) error
	// StartStep moves a step to processing and links the ledger entry
	// created for it.
	StartStep(ctx context.Context, stepInstanceID, queueID string, at time.Time) error
	InsertQueue(ctx context.Context, queue models.Queue) error
	UpdateQueueStatus(ctx context.Context, queueID, status string, at time.Time) error
}

type ActiveQueueInput struct {
	UserID       string
	DepartmentID string
	ServiceID    string
	Day          models.BusinessDay
}

type Store interface {
	Catalog
	FlowStore

	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetQueue(ctx context.Context, queueID string) (models.Queue, error)
	GetTransaction(ctx context.Context, transactionID string) (models.Transaction, error)
	// CountActiveAhead counts queueing/skipped entries of the same department,
	// service and day created at or before the given entry, itself included.
	CountActiveAhead(ctx context.Context, queue models.Queue) (int, error)
	ListUserQueues(ctx context.Context, userID string, day models.BusinessDay, statuses []string) ([]models.Queue, error)
	ListUserFlowTransactions(ctx context.Context, userID string, day models.BusinessDay) ([]models.Transaction, error)
	// CountOpenQueues counts the department's non-served queues on the day.
	CountOpenQueues(ctx context.Context, departmentID string, day models.BusinessDay) (int, error)
	ListQueueEvents(ctx context.Context, queueID string) ([]QueueEvent, error)
}

// ServerAdmin maintains servers and the services they offer. Durations
// written here feed later waiting-time estimates.
type ServerAdmin interface {
	ListServers(ctx context.Context, departmentID string) ([]models.ServerDetail, error)
	GetServer(ctx context.Context, serverID string) (models.ServerDetail, error)
	CreateServer(ctx context.Context, server models.Server, services []models.ServerService) (models.ServerDetail, error)
	RenameServer(ctx context.Context, serverID, name string) (models.ServerDetail, error)
	DeleteServer(ctx context.Context, serverID string) error
	// SyncServerServices replaces the server's pairings with services.
	SyncServerServices(ctx context.Context, serverID string, services []models.ServerService) (models.ServerDetail, error)
}

// Identity resolves callers; authentication itself happens elsewhere.
type Identity interface {
	GetSession(ctx context.Context, sessionID string) (Session, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
}

type Session struct {
	SessionID string
	UserID    string
	ExpiresAt time.Time
}

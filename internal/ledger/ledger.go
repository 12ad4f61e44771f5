// Package ledger owns priority-number allocation and the append-only queue
// ledger. Allocation is serialized per (department, business day) by the
// sequence lock of the unit of work it runs in.
package ledger

import (
	"context"
	"fmt"
	"time"

	"qms/transaction-service/internal/models"
	"qms/transaction-service/internal/store"

	"github.com/google/uuid"
)

type Ledger struct {
	store store.Store
	now   func() time.Time
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

func New(st store.Store, opts ...Option) *Ledger {
	l := &Ledger{store: st, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type CreateInput struct {
	UserID        string
	TransactionID string
	DepartmentID  string
	ServiceID     string
	Day           models.BusinessDay
}

// Allocate reserves the next priority number of the department for the day.
func (l *Ledger) Allocate(ctx context.Context, tx store.Tx, departmentID string, day models.BusinessDay) (int64, string, error) {
	dept, err := tx.GetDepartment(ctx, departmentID)
	if err != nil {
		return 0, "", err
	}
	return l.allocate(ctx, tx, dept, day, nil)
}

// Create inserts a queueing entry for the transaction. It refuses with
// store.ErrDuplicateQueue when the user already holds an active entry for the
// same department and service on the day.
func (l *Ledger) Create(ctx context.Context, tx store.Tx, input CreateInput) (models.Queue, error) {
	dept, err := tx.GetDepartment(ctx, input.DepartmentID)
	if err != nil {
		return models.Queue{}, err
	}
	if _, err := tx.GetService(ctx, input.ServiceID); err != nil {
		return models.Queue{}, err
	}

	seq, number, err := l.allocate(ctx, tx, dept, input.Day, func() error {
		return l.Guard(ctx, tx, input.UserID, input.DepartmentID, input.ServiceID, input.Day)
	})
	if err != nil {
		return models.Queue{}, err
	}

	createdAt := l.now().UTC().Truncate(time.Microsecond)
	queue := models.Queue{
		QueueID:        uuid.NewString(),
		TransactionID:  input.TransactionID,
		UserID:         input.UserID,
		DepartmentID:   dept.DepartmentID,
		ServiceID:      input.ServiceID,
		BusinessDay:    input.Day,
		Sequence:       seq,
		PriorityNumber: number,
		Status:         models.QueueStatusQueueing,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	if err := tx.InsertQueue(ctx, queue); err != nil {
		return models.Queue{}, fmt.Errorf("insert queue: %w", err)
	}
	return queue, nil
}

// Guard enforces at most one active queue per (user, department, service) per day.
func (l *Ledger) Guard(ctx context.Context, tx store.Tx, userID, departmentID, serviceID string, day models.BusinessDay) error {
	active, err := tx.HasActiveQueue(ctx, store.ActiveQueueInput{
		UserID:       userID,
		DepartmentID: departmentID,
		ServiceID:    serviceID,
		Day:          day,
	})
	if err != nil {
		return err
	}
	if active {
		return store.ErrDuplicateQueue
	}
	return nil
}

func (l *Ledger) FindByID(ctx context.Context, queueID string) (models.Queue, error) {
	return l.store.GetQueue(ctx, queueID)
}

// Transition applies a staff action to a queue entry.
func (l *Ledger) Transition(ctx context.Context, tx store.Tx, queueID, action string) (models.Queue, error) {
	queue, err := tx.GetQueue(ctx, queueID)
	if err != nil {
		return models.Queue{}, err
	}
	next, ok := store.QueueTransition(action, queue.Status)
	if !ok {
		return models.Queue{}, store.ErrInvalidState
	}
	at := l.now().UTC().Truncate(time.Microsecond)
	if err := tx.UpdateQueueStatus(ctx, queueID, next, at); err != nil {
		return models.Queue{}, err
	}
	queue.Status = next
	queue.UpdatedAt = at
	return queue, nil
}

// allocate takes the (department, day) lock, runs check while holding it and
// only then stores the next number. A failing check leaves the counter as it
// was.
func (l *Ledger) allocate(ctx context.Context, tx store.Tx, dept models.Department, day models.BusinessDay, check func() error) (int64, string, error) {
	last, err := tx.LockSequence(ctx, dept.DepartmentID, day)
	if err != nil {
		return 0, "", fmt.Errorf("lock sequence: %w", err)
	}
	if check != nil {
		if err := check(); err != nil {
			return 0, "", err
		}
	}
	next := last + 1
	if err := tx.StoreSequence(ctx, dept.DepartmentID, day, next); err != nil {
		return 0, "", fmt.Errorf("store sequence: %w", err)
	}
	return next, models.FormatPriorityNumber(dept.Prefix, next), nil
}

package memory

import (
	"context"
	"fmt"
	"time"

	"qms/transaction-service/internal/models"
	"qms/transaction-service/internal/store"
)

type memTx struct {
	state state
}

func (tx *memTx) GetDepartment(ctx context.Context, departmentID string) (models.Department, error) {
	return tx.state.getDepartment(departmentID)
}

func (tx *memTx) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	return tx.state.getService(serviceID)
}

func (tx *memTx) GetFlow(ctx context.Context, flowID string) (models.Flow, error) {
	return tx.state.getFlow(flowID)
}

func (tx *memTx) GetTransaction(ctx context.Context, transactionID string) (models.Transaction, error) {
	return tx.state.getTransaction(transactionID)
}

func (tx *memTx) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	return tx.state.getQueue(queueID)
}

// LockSequence needs no extra locking: the whole unit of work already holds
// the store mutex.
func (tx *memTx) LockSequence(ctx context.Context, departmentID string, day models.BusinessDay) (int64, error) {
	return tx.state.sequences[sequenceKey{departmentID: departmentID, day: day}], nil
}

func (tx *memTx) StoreSequence(ctx context.Context, departmentID string, day models.BusinessDay, last int64) error {
	key := sequenceKey{departmentID: departmentID, day: day}
	if last <= tx.state.sequences[key] {
		return fmt.Errorf("sequence for %s on %s cannot move from %d to %d", departmentID, day, tx.state.sequences[key], last)
	}
	tx.state.sequences[key] = last
	return nil
}

func (tx *memTx) HasActiveQueue(ctx context.Context, input store.ActiveQueueInput) (bool, error) {
	for _, q := range tx.state.queues {
		if q.UserID == input.UserID &&
			q.DepartmentID == input.DepartmentID &&
			q.ServiceID == input.ServiceID &&
			q.BusinessDay == input.Day &&
			models.IsActiveQueueStatus(q.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) CreateTransaction(ctx context.Context, txn models.Transaction) error {
	if _, exists := tx.state.transactions[txn.TransactionID]; exists {
		return fmt.Errorf("transaction %s already exists", txn.TransactionID)
	}
	txn.Steps = nil
	tx.state.transactions[txn.TransactionID] = txn
	return nil
}

func (tx *memTx) AttachSteps(ctx context.Context, transactionID string, steps []models.StepInstance) error {
	if _, ok := tx.state.transactions[transactionID]; !ok {
		return store.ErrTransactionNotFound
	}
	for _, step := range steps {
		step.TransactionID = transactionID
		tx.state.steps[step.StepInstanceID] = step
	}
	return nil
}

func (tx *memTx) UpdateStepStatus(ctx context.Context, stepInstanceID, status string, at time.Time) error {
	step, ok := tx.state.steps[stepInstanceID]
	if !ok {
		return store.ErrInvalidState
	}
	step.Status = status
	step.UpdatedAt = at
	tx.state.steps[stepInstanceID] = step
	return nil
}

func (tx *memTx) StartStep(ctx context.Context, stepInstanceID, queueID string, at time.Time) error {
	step, ok := tx.state.steps[stepInstanceID]
	if !ok {
		return store.ErrInvalidState
	}
	if _, ok := tx.state.queues[queueID]; !ok {
		return store.ErrQueueNotFound
	}
	step.Status = models.StepStatusProcessing
	step.QueueID = queueID
	step.UpdatedAt = at
	tx.state.steps[stepInstanceID] = step
	return nil
}

func (tx *memTx) InsertQueue(ctx context.Context, queue models.Queue) error {
	if _, ok := tx.state.transactions[queue.TransactionID]; !ok {
		return store.ErrTransactionNotFound
	}
	for _, existing := range tx.state.queues {
		if existing.DepartmentID == queue.DepartmentID && existing.BusinessDay == queue.BusinessDay && existing.PriorityNumber == queue.PriorityNumber {
			return fmt.Errorf("priority number %s already issued for %s on %s", queue.PriorityNumber, queue.DepartmentID, queue.BusinessDay)
		}
	}
	tx.state.queues[queue.QueueID] = queue
	tx.state.queueOrder = append(tx.state.queueOrder, queue.QueueID)
	return tx.appendEvent(queue, store.QueueEventCreated, queue.CreatedAt)
}

func (tx *memTx) UpdateQueueStatus(ctx context.Context, queueID, status string, at time.Time) error {
	queue, ok := tx.state.queues[queueID]
	if !ok {
		return store.ErrQueueNotFound
	}
	queue.Status = status
	queue.UpdatedAt = at
	tx.state.queues[queueID] = queue
	return tx.appendEvent(queue, store.QueueEventStatusChanged, at)
}

func (tx *memTx) appendEvent(queue models.Queue, eventType string, at time.Time) error {
	chain := tx.state.events[queue.QueueID]
	var prev *store.QueueEvent
	if len(chain) > 0 {
		prev = &chain[len(chain)-1]
	}
	event, err := store.NextQueueEvent(prev, queue, eventType, at)
	if err != nil {
		return err
	}
	tx.state.events[queue.QueueID] = append(chain, event)
	return nil
}

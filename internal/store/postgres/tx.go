package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"qms/transaction-service/internal/models"
	"qms/transaction-service/internal/store"

	"github.com/jackc/pgx/v5"
)

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetDepartment(ctx context.Context, departmentID string) (models.Department, error) {
	return getDepartment(ctx, t.tx, departmentID)
}

func (t *pgTx) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	return getService(ctx, t.tx, serviceID)
}

func (t *pgTx) GetFlow(ctx context.Context, flowID string) (models.Flow, error) {
	return getFlow(ctx, t.tx, flowID)
}

func (t *pgTx) GetTransaction(ctx context.Context, transactionID string) (models.Transaction, error) {
	if _, err := t.tx.Exec(ctx, `SELECT 1 FROM transactions WHERE transaction_id = $1 FOR UPDATE`, transactionID); err != nil {
		return models.Transaction{}, err
	}
	return getTransaction(ctx, t.tx, transactionID)
}

func (t *pgTx) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	return getQueue(ctx, t.tx, queueID, true)
}

// LockSequence takes the row lock on the (department, day) counter. The row
// is created on first use so the lock exists even before the first number.
func (t *pgTx) LockSequence(ctx context.Context, departmentID string, day models.BusinessDay) (int64, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO queue_sequences (department_id, business_day, last_number)
		VALUES ($1, $2, 0)
		ON CONFLICT (department_id, business_day) DO NOTHING
	`, departmentID, day.Date())
	if err != nil {
		return 0, err
	}

	var last int64
	row := t.tx.QueryRow(ctx, `
		SELECT last_number
		FROM queue_sequences
		WHERE department_id = $1 AND business_day = $2
		FOR UPDATE
	`, departmentID, day.Date())
	if err := row.Scan(&last); err != nil {
		return 0, err
	}
	return last, nil
}

func (t *pgTx) StoreSequence(ctx context.Context, departmentID string, day models.BusinessDay, last int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE queue_sequences
		SET last_number = $3
		WHERE department_id = $1 AND business_day = $2 AND last_number < $3
	`, departmentID, day.Date(), last)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("sequence for %s on %s cannot move to %d", departmentID, day, last)
	}
	return nil
}

func (t *pgTx) HasActiveQueue(ctx context.Context, input store.ActiveQueueInput) (bool, error) {
	var exists bool
	row := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM queues
			WHERE user_id = $1 AND department_id = $2 AND service_id = $3
			  AND business_day = $4 AND status = ANY($5)
		)
	`, input.UserID, input.DepartmentID, input.ServiceID, input.Day.Date(), models.ActiveQueueStatuses)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (t *pgTx) CreateTransaction(ctx context.Context, txn models.Transaction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO transactions (transaction_id, user_id, status, flow_id, business_day, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, txn.TransactionID, txn.UserID, txn.Status, nullIfEmpty(txn.FlowID), txn.BusinessDay.Date(), txn.CreatedAt)
	return err
}

func (t *pgTx) AttachSteps(ctx context.Context, transactionID string, steps []models.StepInstance) error {
	if len(steps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, step := range steps {
		batch.Queue(`
			INSERT INTO transaction_steps (step_instance_id, transaction_id, flow_step_id, position, department_id, service_id, status, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, step.StepInstanceID, transactionID, step.FlowStepID, step.Position, step.DepartmentID, step.ServiceID, step.Status, step.UpdatedAt)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) UpdateStepStatus(ctx context.Context, stepInstanceID, status string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE transaction_steps SET status = $2, updated_at = $3 WHERE step_instance_id = $1
	`, stepInstanceID, status, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrInvalidState
	}
	return nil
}

func (t *pgTx) StartStep(ctx context.Context, stepInstanceID, queueID string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE transaction_steps SET status = $2, queue_id = $3, updated_at = $4 WHERE step_instance_id = $1
	`, stepInstanceID, models.StepStatusProcessing, queueID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrInvalidState
	}
	return nil
}

func (t *pgTx) InsertQueue(ctx context.Context, queue models.Queue) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO queues (`+queueColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, queue.QueueID, queue.TransactionID, queue.UserID, queue.DepartmentID, queue.ServiceID, queue.BusinessDay.Date(),
		queue.Sequence, queue.PriorityNumber, queue.Status, queue.CreatedAt, queue.UpdatedAt)
	if err != nil {
		return err
	}
	return appendQueueEvent(ctx, t.tx, queue, store.QueueEventCreated, queue.CreatedAt)
}

func (t *pgTx) UpdateQueueStatus(ctx context.Context, queueID, status string, at time.Time) error {
	queue, err := scanQueue(t.tx.QueryRow(ctx, `
		UPDATE queues SET status = $2, updated_at = $3
		WHERE queue_id = $1
		RETURNING `+queueColumns, queueID, status, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrQueueNotFound
		}
		return err
	}
	return appendQueueEvent(ctx, t.tx, queue, store.QueueEventStatusChanged, at)
}

// appendQueueEvent extends the entry's hash chain. The advisory lock keeps
// two writers from reading the same chain head.
func appendQueueEvent(ctx context.Context, tx pgx.Tx, queue models.Queue, eventType string, at time.Time) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, queue.QueueID); err != nil {
		return err
	}

	var prev *store.QueueEvent
	var last store.QueueEvent
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT queue_seq, hash
		FROM queue_events
		WHERE queue_id = $1
		ORDER BY queue_seq DESC
		LIMIT 1
	`, queue.QueueID)
	switch err := row.Scan(&last.Seq, &prevHash); {
	case err == nil:
		last.Hash = prevHash.String
		prev = &last
	case !errors.Is(err, pgx.ErrNoRows):
		return err
	}

	event, err := store.NextQueueEvent(prev, queue, eventType, at)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO queue_events (queue_id, queue_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.QueueID, event.Seq, event.Type, []byte(event.Payload), event.CreatedAt, event.PrevHash, event.Hash)
	return err
}

package engine

import (
	"context"
	"errors"
	"time"

	"qms/transaction-service/internal/ledger"
	"qms/transaction-service/internal/models"
	"qms/transaction-service/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type AdvanceResult struct {
	Transaction models.Transaction
	Completed   models.StepInstance
	// Closed is the ledger entry of the completed step, now served.
	Closed      models.Queue
	Started     *models.StepInstance
	Queue       *models.Queue
	WaitingTime time.Duration
	Finished    bool
}

// AdvanceFlow completes the step in progress and, when a pending step
// remains, starts it and queues the visitor for it. The step's ledger entry
// must have been called; it is served as part of the same unit of work.
// Visitors may only advance their own transactions. The transaction status
// is left to whoever closes the visit.
func (e *Engine) AdvanceFlow(ctx context.Context, actor models.User, transactionID string) (AdvanceResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.AdvanceFlow", trace.WithAttributes(
		attribute.String("user.id", actor.UserID),
		attribute.String("transaction.id", transactionID),
	))
	defer span.End()

	day := e.Today()
	var result AdvanceResult
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		txn, err := tx.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if !actor.IsStaff() && txn.UserID != actor.UserID {
			return newError(KindAccessDenied, "This transaction belongs to another visitor.", nil)
		}
		if txn.FlowID == "" || txn.Status != models.TransactionStatusProcessing {
			return store.ErrInvalidState
		}

		current, next := currentAndNext(txn.Steps)
		if current == nil {
			return store.ErrInvalidState
		}
		closed, err := e.closeStepEntry(ctx, tx, *current)
		if err != nil {
			return err
		}
		result.Closed = closed

		at := e.now().UTC().Truncate(time.Microsecond)
		status, ok := store.StepTransition("complete", current.Status)
		if !ok {
			return store.ErrInvalidState
		}
		if err := tx.UpdateStepStatus(ctx, current.StepInstanceID, status, at); err != nil {
			return err
		}
		completed := *current
		completed.Status = status
		completed.UpdatedAt = at
		result.Completed = completed

		if next == nil {
			result.Finished = true
		} else {
			queue, err := e.ledger.Create(ctx, tx, ledger.CreateInput{
				UserID:        txn.UserID,
				TransactionID: txn.TransactionID,
				DepartmentID:  next.DepartmentID,
				ServiceID:     next.ServiceID,
				Day:           day,
			})
			if err != nil {
				if errors.Is(err, store.ErrDuplicateQueue) {
					return err
				}
				return newError(KindQueueCreationFailed, "Cannot create queue.", err)
			}
			if err := e.startStep(ctx, tx, *next, queue); err != nil {
				return err
			}
			started := *next
			started.Status = models.StepStatusProcessing
			started.QueueID = queue.QueueID
			started.UpdatedAt = queue.CreatedAt
			result.Started = &started
			result.Queue = &queue
		}

		refreshed, err := tx.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		result.Transaction = refreshed
		return nil
	})
	if err != nil {
		engErr := classify(err, KindInternal)
		span.SetStatus(codes.Error, string(engErr.Kind))
		return AdvanceResult{}, engErr
	}
	if result.Queue != nil {
		result.WaitingTime = e.waitingTimeFor(ctx, *result.Queue)
	}
	return result, nil
}

// closeStepEntry serves the ledger entry of the step being completed so it
// stops holding a place in line. An entry that was never called, or was
// skipped, blocks the advance.
func (e *Engine) closeStepEntry(ctx context.Context, tx store.Tx, step models.StepInstance) (models.Queue, error) {
	if step.QueueID == "" {
		return models.Queue{}, store.ErrInvalidState
	}
	queue, err := tx.GetQueue(ctx, step.QueueID)
	if err != nil {
		return models.Queue{}, err
	}
	switch queue.Status {
	case models.QueueStatusServed:
		return queue, nil
	case models.QueueStatusProcessing:
		return e.ledger.Transition(ctx, tx, queue.QueueID, "serve")
	default:
		return models.Queue{}, newError(KindInvalidState, "The visitor has not been called for the current step.", store.ErrInvalidState)
	}
}

func currentAndNext(steps []models.StepInstance) (*models.StepInstance, *models.StepInstance) {
	var current, next *models.StepInstance
	for i := range steps {
		step := &steps[i]
		switch step.Status {
		case models.StepStatusProcessing:
			if current == nil || step.Position < current.Position {
				current = step
			}
		case models.StepStatusPending:
			if next == nil || step.Position < next.Position {
				next = step
			}
		}
	}
	return current, next
}

// UpdateQueueStatus applies a staff action (call, skip, requeue, serve).
func (e *Engine) UpdateQueueStatus(ctx context.Context, queueID, action string) (models.Queue, error) {
	if !store.ValidQueueAction(action) {
		return models.Queue{}, newError(KindInvalidRequest, "Unknown queue action.", nil)
	}
	var queue models.Queue
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		updated, err := e.ledger.Transition(ctx, tx, queueID, action)
		if err != nil {
			return err
		}
		queue = updated
		return nil
	})
	if err != nil {
		return models.Queue{}, classify(err, KindInternal)
	}
	return queue, nil
}

// QueueAudit is a ledger entry with its audit trail. Verified is true when
// the hash chain is intact and replaying it yields the entry's current
// status and number.
type QueueAudit struct {
	Queue    models.Queue       `json:"queue"`
	Events   []store.QueueEvent `json:"events"`
	Verified bool               `json:"verified"`
}

func (e *Engine) QueueAudit(ctx context.Context, queueID string) (QueueAudit, error) {
	queue, err := e.ledger.FindByID(ctx, queueID)
	if err != nil {
		return QueueAudit{}, classify(err, KindInternal)
	}
	events, err := e.store.ListQueueEvents(ctx, queueID)
	if err != nil {
		return QueueAudit{}, classify(err, KindInternal)
	}
	audit := QueueAudit{Queue: queue, Events: events}
	if len(events) == 0 || !store.VerifyQueueEvents(events) {
		e.logger.WarnContext(ctx, "queue audit trail broken", "queue_id", queueID, "events", len(events))
		return audit, nil
	}
	replayed, err := store.RehydrateQueue(events)
	if err != nil {
		e.logger.WarnContext(ctx, "queue audit replay failed", "queue_id", queueID, "error", err)
		return audit, nil
	}
	audit.Verified = replayed.Status == queue.Status && replayed.PriorityNumber == queue.PriorityNumber
	return audit, nil
}

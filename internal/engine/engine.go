// Package engine is the transaction/flow engine: it turns a visitor request
// into a transaction, a ledger entry and a waiting-time estimate, and walks
// flow-bound transactions through their steps.
package engine

import (
	"context"
	"errors"
	"expvar"
	"log/slog"
	"sync"
	"time"

	"qms/transaction-service/internal/estimator"
	"qms/transaction-service/internal/ledger"
	"qms/transaction-service/internal/models"
	"qms/transaction-service/internal/notify"
	"qms/transaction-service/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	enqueueTotal         = expvar.NewInt("enqueue_total")
	enqueueRejected      = expvar.NewInt("enqueue_rejected_total")
	notificationFailures = expvar.NewInt("notification_failures_total")
)

type Engine struct {
	store         store.Store
	ledger        *ledger.Ledger
	estimator     *estimator.Estimator
	notifier      notify.Dispatcher
	location      *time.Location
	now           func() time.Time
	notifyTimeout time.Duration
	logger        *slog.Logger
	tracer        trace.Tracer
	inflight      sync.WaitGroup
}

type Options struct {
	// Location defines the business day. Defaults to UTC.
	Location      *time.Location
	Now           func() time.Time
	NotifyTimeout time.Duration
	Logger        *slog.Logger
}

func New(st store.Store, notifier notify.Dispatcher, options Options) *Engine {
	if options.Location == nil {
		options.Location = time.UTC
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	if options.NotifyTimeout <= 0 {
		options.NotifyTimeout = 5 * time.Second
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NoopProvider{}
	}
	return &Engine{
		store:         st,
		ledger:        ledger.New(st, ledger.WithClock(options.Now)),
		estimator:     estimator.New(st),
		notifier:      notifier,
		location:      options.Location,
		now:           options.Now,
		notifyTimeout: options.NotifyTimeout,
		logger:        options.Logger,
		tracer:        otel.Tracer("qms/transaction-service/engine"),
	}
}

// Today is the current business day.
func (e *Engine) Today() models.BusinessDay {
	return models.DayOf(e.now(), e.location)
}

type EnqueueRequest struct {
	DepartmentID string
	ServiceID    string
	FlowID       string
	Guest        bool
}

type EnqueueResult struct {
	Status         bool          `json:"status"`
	Message        string        `json:"message,omitempty"`
	TransactionID  string        `json:"transaction_id,omitempty"`
	QueueID        string        `json:"queue_id,omitempty"`
	PriorityNumber string        `json:"priority_number,omitempty"`
	WaitingTime    time.Duration `json:"-"`
}

func failed(err *Error) (EnqueueResult, error) {
	enqueueRejected.Add(1)
	return EnqueueResult{Status: false, Message: err.Message}, err
}

// Enqueue creates a processing transaction and its first ledger entry as one
// unit of work. On failure nothing is persisted and the result carries the
// reason.
func (e *Engine) Enqueue(ctx context.Context, user models.User, req EnqueueRequest) (EnqueueResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Enqueue", trace.WithAttributes(
		attribute.String("user.id", user.UserID),
		attribute.String("flow.id", req.FlowID),
		attribute.String("department.id", req.DepartmentID),
		attribute.String("service.id", req.ServiceID),
	))
	defer span.End()

	if user.UserID == "" {
		return failed(newError(KindInvalidRequest, "Cannot find user.", nil))
	}
	if req.FlowID == "" && (req.DepartmentID == "" || req.ServiceID == "") {
		return failed(newError(KindInvalidRequest, "department_id and service_id, or flow_id, are required.", nil))
	}

	day := e.Today()
	var queue models.Queue
	var txn models.Transaction
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		txn = models.Transaction{
			TransactionID: uuid.NewString(),
			UserID:        user.UserID,
			Status:        models.TransactionStatusProcessing,
			BusinessDay:   day,
			CreatedAt:     e.now().UTC().Truncate(time.Microsecond),
		}
		departmentID, serviceID := req.DepartmentID, req.ServiceID

		var steps []models.StepInstance
		if req.FlowID != "" {
			flow, err := tx.GetFlow(ctx, req.FlowID)
			if err != nil {
				return err
			}
			ordered := flow.OrderedSteps()
			if len(ordered) == 0 {
				return newError(KindQueueCreationFailed, "Cannot create queue.", store.ErrFlowEmpty)
			}
			txn.FlowID = flow.FlowID
			steps = instantiateSteps(txn.TransactionID, ordered, txn.CreatedAt)
			departmentID, serviceID = ordered[0].DepartmentID, ordered[0].ServiceID
		}

		if err := tx.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		if len(steps) > 0 {
			if err := tx.AttachSteps(ctx, txn.TransactionID, steps); err != nil {
				return err
			}
		}

		created, err := e.ledger.Create(ctx, tx, ledger.CreateInput{
			UserID:        user.UserID,
			TransactionID: txn.TransactionID,
			DepartmentID:  departmentID,
			ServiceID:     serviceID,
			Day:           day,
		})
		if err != nil {
			if errors.Is(err, store.ErrDuplicateQueue) {
				return err
			}
			return newError(KindQueueCreationFailed, "Cannot create queue.", err)
		}
		queue = created

		if len(steps) > 0 {
			return e.startStep(ctx, tx, steps[0], created)
		}
		return nil
	})
	if err != nil {
		engErr := classify(err, KindQueueCreationFailed)
		span.SetStatus(codes.Error, string(engErr.Kind))
		e.logger.InfoContext(ctx, "enqueue rejected", "user_id", user.UserID, "kind", engErr.Kind, "error", err)
		return failed(engErr)
	}
	enqueueTotal.Add(1)
	span.SetAttributes(attribute.String("queue.priority_number", queue.PriorityNumber))

	waiting := e.waitingTimeFor(ctx, queue)

	if txn.FlowID != "" && req.Guest && user.MobileNo != "" {
		e.dispatch(user.MobileNo, notify.PriorityNumberMessage(queue.PriorityNumber))
	}

	e.logger.InfoContext(ctx, "enqueue ok",
		"transaction_id", txn.TransactionID,
		"queue_id", queue.QueueID,
		"priority_number", queue.PriorityNumber,
		"waiting_time", waiting.String(),
	)
	return EnqueueResult{
		Status:         true,
		TransactionID:  txn.TransactionID,
		QueueID:        queue.QueueID,
		PriorityNumber: queue.PriorityNumber,
		WaitingTime:    waiting,
	}, nil
}

// EstimateWait recomputes the estimate of a ledger entry from current state.
func (e *Engine) EstimateWait(ctx context.Context, queueID string) (time.Duration, error) {
	queue, err := e.ledger.FindByID(ctx, queueID)
	if err != nil {
		return 0, classify(err, KindInternal)
	}
	est, err := e.estimator.Estimate(ctx, queue)
	if err != nil {
		return 0, classify(err, KindInternal)
	}
	return est.WaitingTime, nil
}

// waitingTimeFor never fails a committed enqueue; an estimate error yields zero.
func (e *Engine) waitingTimeFor(ctx context.Context, queue models.Queue) time.Duration {
	est, err := e.estimator.Estimate(ctx, queue)
	if err != nil {
		e.logger.WarnContext(ctx, "waiting time estimate failed", "queue_id", queue.QueueID, "error", err)
		return 0
	}
	if !est.Available {
		e.logger.DebugContext(ctx, "no server offers service", "department_id", queue.DepartmentID, "service_id", queue.ServiceID)
	}
	return est.WaitingTime
}

func instantiateSteps(transactionID string, ordered []models.FlowStep, at time.Time) []models.StepInstance {
	steps := make([]models.StepInstance, 0, len(ordered))
	for _, step := range ordered {
		steps = append(steps, models.StepInstance{
			StepInstanceID: uuid.NewString(),
			TransactionID:  transactionID,
			FlowStepID:     step.FlowStepID,
			Position:       step.Position,
			DepartmentID:   step.DepartmentID,
			ServiceID:      step.ServiceID,
			Status:         models.StepStatusPending,
			UpdatedAt:      at,
		})
	}
	return steps
}

// startStep marks the step processing and links the entry queued for it.
func (e *Engine) startStep(ctx context.Context, tx store.Tx, step models.StepInstance, queue models.Queue) error {
	if _, ok := store.StepTransition("start", step.Status); !ok {
		return store.ErrInvalidState
	}
	return tx.StartStep(ctx, step.StepInstanceID, queue.QueueID, queue.CreatedAt)
}

// dispatch sends outside the unit of work; failures are only logged.
func (e *Engine) dispatch(recipient, message string) {
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.notifyTimeout)
		defer cancel()
		if err := e.notifier.Send(ctx, recipient, message); err != nil {
			notificationFailures.Add(1)
			e.logger.Warn("notification delivery failed", "recipient", recipient, "error", err)
		}
	}()
}

// Close waits for in-flight notifications or until ctx is done.
func (e *Engine) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

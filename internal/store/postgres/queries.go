package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"qms/transaction-service/internal/models"
	"qms/transaction-service/internal/store"

	"github.com/jackc/pgx/v5"
)

const queueColumns = `queue_id, transaction_id, user_id, department_id, service_id, business_day, sequence, priority_number, status, created_at, updated_at`

const transactionColumns = `transaction_id, user_id, status, flow_id, business_day, created_at`

func getDepartment(ctx context.Context, q querier, departmentID string) (models.Department, error) {
	var dept models.Department
	row := q.QueryRow(ctx, `
		SELECT department_id, name, prefix
		FROM departments
		WHERE department_id = $1
	`, departmentID)
	if err := row.Scan(&dept.DepartmentID, &dept.Name, &dept.Prefix); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Department{}, store.ErrDepartmentNotFound
		}
		return models.Department{}, err
	}
	return dept, nil
}

func getService(ctx context.Context, q querier, serviceID string) (models.Service, error) {
	var svc models.Service
	row := q.QueryRow(ctx, `SELECT service_id, name FROM services WHERE service_id = $1`, serviceID)
	if err := row.Scan(&svc.ServiceID, &svc.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, err
	}
	return svc, nil
}

func getFlow(ctx context.Context, q querier, flowID string) (models.Flow, error) {
	var flow models.Flow
	row := q.QueryRow(ctx, `SELECT flow_id, name FROM flows WHERE flow_id = $1`, flowID)
	if err := row.Scan(&flow.FlowID, &flow.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Flow{}, store.ErrFlowNotFound
		}
		return models.Flow{}, err
	}

	rows, err := q.Query(ctx, `
		SELECT flow_step_id, flow_id, position, department_id, service_id
		FROM flow_steps
		WHERE flow_id = $1
		ORDER BY position ASC
	`, flowID)
	if err != nil {
		return models.Flow{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var step models.FlowStep
		if err := rows.Scan(&step.FlowStepID, &step.FlowID, &step.Position, &step.DepartmentID, &step.ServiceID); err != nil {
			return models.Flow{}, err
		}
		flow.Steps = append(flow.Steps, step)
	}
	return flow, rows.Err()
}

func getQueue(ctx context.Context, q querier, queueID string, forUpdate bool) (models.Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues WHERE queue_id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	queue, err := scanQueue(q.QueryRow(ctx, query, queueID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Queue{}, store.ErrQueueNotFound
		}
		return models.Queue{}, err
	}
	return queue, nil
}

func scanQueue(row pgx.Row) (models.Queue, error) {
	var queue models.Queue
	var day time.Time
	if err := row.Scan(&queue.QueueID, &queue.TransactionID, &queue.UserID, &queue.DepartmentID, &queue.ServiceID, &day, &queue.Sequence, &queue.PriorityNumber, &queue.Status, &queue.CreatedAt, &queue.UpdatedAt); err != nil {
		return models.Queue{}, err
	}
	queue.BusinessDay = models.DayOf(day, time.UTC)
	queue.CreatedAt = queue.CreatedAt.UTC()
	queue.UpdatedAt = queue.UpdatedAt.UTC()
	return queue, nil
}

func getTransaction(ctx context.Context, q querier, transactionID string) (models.Transaction, error) {
	txn, err := scanTransaction(q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE transaction_id = $1`, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Transaction{}, store.ErrTransactionNotFound
		}
		return models.Transaction{}, err
	}
	steps, err := listSteps(ctx, q, transactionID)
	if err != nil {
		return models.Transaction{}, err
	}
	txn.Steps = steps
	return txn, nil
}

func scanTransaction(row pgx.Row) (models.Transaction, error) {
	var txn models.Transaction
	var flowID sql.NullString
	var day time.Time
	if err := row.Scan(&txn.TransactionID, &txn.UserID, &txn.Status, &flowID, &day, &txn.CreatedAt); err != nil {
		return models.Transaction{}, err
	}
	if flowID.Valid {
		txn.FlowID = flowID.String
	}
	txn.BusinessDay = models.DayOf(day, time.UTC)
	txn.CreatedAt = txn.CreatedAt.UTC()
	return txn, nil
}

func listSteps(ctx context.Context, q querier, transactionID string) ([]models.StepInstance, error) {
	rows, err := q.Query(ctx, `
		SELECT step_instance_id, transaction_id, flow_step_id, position, department_id, service_id, status, queue_id, updated_at
		FROM transaction_steps
		WHERE transaction_id = $1
		ORDER BY position ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []models.StepInstance
	for rows.Next() {
		var step models.StepInstance
		var queueID sql.NullString
		if err := rows.Scan(&step.StepInstanceID, &step.TransactionID, &step.FlowStepID, &step.Position, &step.DepartmentID, &step.ServiceID, &step.Status, &queueID, &step.UpdatedAt); err != nil {
			return nil, err
		}
		step.QueueID = queueID.String
		step.UpdatedAt = step.UpdatedAt.UTC()
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

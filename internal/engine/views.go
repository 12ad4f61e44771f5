package engine

import (
	"context"
	"time"

	"qms/transaction-service/internal/models"
)

type QueueView struct {
	Queue       models.Queue
	Department  models.Department
	WaitingTime time.Duration
	// OpenQueues is the department's count of non-served entries that day.
	OpenQueues int
}

// ListQueuesForUser returns the user's still-active entries for the day with
// live estimates.
func (e *Engine) ListQueuesForUser(ctx context.Context, userID string, day models.BusinessDay) ([]QueueView, error) {
	queues, err := e.store.ListUserQueues(ctx, userID, day, models.ActiveQueueStatuses)
	if err != nil {
		return nil, classify(err, KindInternal)
	}
	views := make([]QueueView, 0, len(queues))
	departments := map[string]models.Department{}
	openCounts := map[string]int{}
	for _, queue := range queues {
		dept, ok := departments[queue.DepartmentID]
		if !ok {
			dept, err = e.store.GetDepartment(ctx, queue.DepartmentID)
			if err != nil {
				return nil, classify(err, KindInternal)
			}
			departments[queue.DepartmentID] = dept
			open, err := e.store.CountOpenQueues(ctx, queue.DepartmentID, day)
			if err != nil {
				return nil, classify(err, KindInternal)
			}
			openCounts[queue.DepartmentID] = open
		}
		est, err := e.estimator.Estimate(ctx, queue)
		if err != nil {
			return nil, classify(err, KindInternal)
		}
		views = append(views, QueueView{
			Queue:       queue,
			Department:  dept,
			WaitingTime: est.WaitingTime,
			OpenQueues:  openCounts[queue.DepartmentID],
		})
	}
	return views, nil
}

// ListFlowTransactions returns the user's flow-bound transactions of the day
// with their step instances.
func (e *Engine) ListFlowTransactions(ctx context.Context, userID string, day models.BusinessDay) ([]models.Transaction, error) {
	txns, err := e.store.ListUserFlowTransactions(ctx, userID, day)
	if err != nil {
		return nil, classify(err, KindInternal)
	}
	return txns, nil
}

type DepartmentAvailability struct {
	Department models.Department
	OpenQueues int
	Services   []models.Service
}

// AvailableDepartments lists departments where the user holds no
// non-served entry on the day.
func (e *Engine) AvailableDepartments(ctx context.Context, userID string, day models.BusinessDay) ([]DepartmentAvailability, error) {
	held, err := e.store.ListUserQueues(ctx, userID, day, []string{
		models.QueueStatusQueueing,
		models.QueueStatusProcessing,
		models.QueueStatusSkipped,
	})
	if err != nil {
		return nil, classify(err, KindInternal)
	}
	busy := map[string]bool{}
	for _, queue := range held {
		busy[queue.DepartmentID] = true
	}

	departments, err := e.store.ListDepartments(ctx)
	if err != nil {
		return nil, classify(err, KindInternal)
	}
	var out []DepartmentAvailability
	for _, dept := range departments {
		if busy[dept.DepartmentID] {
			continue
		}
		open, err := e.store.CountOpenQueues(ctx, dept.DepartmentID, day)
		if err != nil {
			return nil, classify(err, KindInternal)
		}
		services, err := e.store.ListDepartmentServices(ctx, dept.DepartmentID)
		if err != nil {
			return nil, classify(err, KindInternal)
		}
		out = append(out, DepartmentAvailability{Department: dept, OpenQueues: open, Services: services})
	}
	return out, nil
}

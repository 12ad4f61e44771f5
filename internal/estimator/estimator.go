// Package estimator computes waiting-time estimates from the live ledger.
// Nothing is cached, so skips and new arrivals show up on the next call.
package estimator

import (
	"context"
	"time"

	"qms/transaction-service/internal/models"
	"qms/transaction-service/internal/store"
)

// Reader is the slice of the store the estimator needs.
type Reader interface {
	AverageDurations(ctx context.Context, departmentID, serviceID string) ([]time.Duration, error)
	CountActiveAhead(ctx context.Context, queue models.Queue) (int, error)
}

var _ Reader = (store.Store)(nil)

type Estimator struct {
	reader Reader
}

func New(reader Reader) *Estimator {
	return &Estimator{reader: reader}
}

type Estimate struct {
	WaitingTime time.Duration
	AheadCount  int
	// Available is false when no server of the department offers the
	// service; WaitingTime is then zero.
	Available bool
}

func (e *Estimator) Estimate(ctx context.Context, queue models.Queue) (Estimate, error) {
	durations, err := e.reader.AverageDurations(ctx, queue.DepartmentID, queue.ServiceID)
	if err != nil {
		return Estimate{}, err
	}
	ahead, err := e.reader.CountActiveAhead(ctx, queue)
	if err != nil {
		return Estimate{}, err
	}
	return Estimate{
		WaitingTime: Compute(durations, ahead),
		AheadCount:  ahead,
		Available:   len(durations) > 0,
	}, nil
}

// Compute returns (ahead-1) * mean(durations). An empty duration set or an
// entry with nobody ahead yields zero.
func Compute(durations []time.Duration, ahead int) time.Duration {
	avg := Mean(durations)
	if ahead <= 1 || avg <= 0 {
		return 0
	}
	return time.Duration(ahead-1) * avg
}

func Mean(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	return total / time.Duration(len(durations))
}

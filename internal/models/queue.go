package models

import (
	"fmt"
	"time"
)

type Queue struct {
	QueueID        string      `json:"queue_id"`
	TransactionID  string      `json:"transaction_id"`
	UserID         string      `json:"user_id"`
	DepartmentID   string      `json:"department_id"`
	ServiceID      string      `json:"service_id"`
	BusinessDay    BusinessDay `json:"business_day"`
	Sequence       int64       `json:"sequence"`
	PriorityNumber string      `json:"priority_number"`
	Status         string      `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

const (
	QueueStatusQueueing   = "queueing"
	QueueStatusProcessing = "processing"
	QueueStatusSkipped    = "skipped"
	QueueStatusServed     = "served"
)

// ActiveQueueStatuses are the statuses that still hold a place in line.
var ActiveQueueStatuses = []string{QueueStatusQueueing, QueueStatusSkipped}

func IsActiveQueueStatus(status string) bool {
	return status == QueueStatusQueueing || status == QueueStatusSkipped
}

const priorityNumberPad = 4

// FormatPriorityNumber renders prefix + zero padded sequence, e.g. "A-0001".
func FormatPriorityNumber(prefix string, seq int64) string {
	return fmt.Sprintf("%s%0*d", prefix, priorityNumberPad, seq)
}

package models

import "time"

type Transaction struct {
	TransactionID string         `json:"transaction_id"`
	UserID        string         `json:"user_id"`
	Status        string         `json:"status"`
	FlowID        string         `json:"flow_id,omitempty"`
	BusinessDay   BusinessDay    `json:"business_day"`
	CreatedAt     time.Time      `json:"created_at"`
	Steps         []StepInstance `json:"steps,omitempty"`
}

const (
	TransactionStatusProcessing = "processing"
	TransactionStatusCompleted  = "completed"
	TransactionStatusCancelled  = "cancelled"
)

// StepInstance is a transaction-owned copy of a flow step. Its status moves
// independently of the flow definition it references.
type StepInstance struct {
	StepInstanceID string    `json:"step_instance_id"`
	TransactionID  string    `json:"transaction_id"`
	FlowStepID     string    `json:"flow_step_id"`
	Position       int       `json:"position"`
	DepartmentID   string    `json:"department_id"`
	ServiceID      string    `json:"service_id"`
	Status         string    `json:"status"`
	// QueueID is the ledger entry created when the step started.
	QueueID        string    `json:"queue_id,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

const (
	StepStatusPending    = "pending"
	StepStatusProcessing = "processing"
	StepStatusCompleted  = "completed"
)

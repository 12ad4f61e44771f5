package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"qms/transaction-service/internal/models"
)

const (
	QueueEventCreated       = "queue.created"
	QueueEventStatusChanged = "queue.status_changed"
)

// QueueEvent is one link of a queue entry's hash-chained audit trail.
type QueueEvent struct {
	QueueID   string          `json:"queue_id"`
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

type queueEventPayload struct {
	QueueID        string `json:"queue_id"`
	TransactionID  string `json:"transaction_id,omitempty"`
	PriorityNumber string `json:"priority_number,omitempty"`
	DepartmentID   string `json:"department_id,omitempty"`
	ServiceID      string `json:"service_id,omitempty"`
	BusinessDay    string `json:"business_day,omitempty"`
	Status         string `json:"status"`
}

func ComputeQueueEventHash(prevHash, queueID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, queueID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// NextQueueEvent builds the event following prev (nil for the first one).
func NextQueueEvent(prev *QueueEvent, queue models.Queue, eventType string, at time.Time) (QueueEvent, error) {
	payload := queueEventPayload{QueueID: queue.QueueID, Status: queue.Status}
	if eventType == QueueEventCreated {
		payload.TransactionID = queue.TransactionID
		payload.PriorityNumber = queue.PriorityNumber
		payload.DepartmentID = queue.DepartmentID
		payload.ServiceID = queue.ServiceID
		payload.BusinessDay = queue.BusinessDay.String()
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return QueueEvent{}, err
	}
	seq := 1
	prevHash := ""
	if prev != nil {
		seq = prev.Seq + 1
		prevHash = prev.Hash
	}
	// Stored timestamps keep microseconds; hash what will be read back.
	at = at.UTC().Truncate(time.Microsecond)
	return QueueEvent{
		QueueID:   queue.QueueID,
		Seq:       seq,
		Type:      eventType,
		Payload:   raw,
		CreatedAt: at,
		PrevHash:  prevHash,
		Hash:      ComputeQueueEventHash(prevHash, queue.QueueID, eventType, raw, at, seq),
	}, nil
}

// VerifyQueueEvents reports whether the chain is intact.
func VerifyQueueEvents(events []QueueEvent) bool {
	prev := ""
	for i, event := range events {
		if event.Seq != i+1 || event.PrevHash != prev {
			return false
		}
		if ComputeQueueEventHash(prev, event.QueueID, event.Type, event.Payload, event.CreatedAt, event.Seq) != event.Hash {
			return false
		}
		prev = event.Hash
	}
	return true
}

// RehydrateQueue replays the audit trail into the entry it describes.
func RehydrateQueue(events []QueueEvent) (models.Queue, error) {
	var queue models.Queue
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload queueEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Queue{}, err
		}
		if payload.QueueID != "" {
			queue.QueueID = payload.QueueID
		}
		if payload.TransactionID != "" {
			queue.TransactionID = payload.TransactionID
		}
		if payload.PriorityNumber != "" {
			queue.PriorityNumber = payload.PriorityNumber
		}
		if payload.DepartmentID != "" {
			queue.DepartmentID = payload.DepartmentID
		}
		if payload.ServiceID != "" {
			queue.ServiceID = payload.ServiceID
		}
		if payload.BusinessDay != "" {
			queue.BusinessDay = models.BusinessDay(payload.BusinessDay)
		}
		if payload.Status != "" {
			queue.Status = payload.Status
		}
		if event.Type == QueueEventCreated {
			queue.CreatedAt = event.CreatedAt
		}
		queue.UpdatedAt = event.CreatedAt
	}
	return queue, nil
}

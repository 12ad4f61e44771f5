package store

import "qms/transaction-service/internal/models"

type transition struct {
	from []string
	to   string
}

var queueTransitions = map[string]transition{
	"call":    {from: []string{models.QueueStatusQueueing}, to: models.QueueStatusProcessing},
	"skip":    {from: []string{models.QueueStatusQueueing, models.QueueStatusProcessing}, to: models.QueueStatusSkipped},
	"requeue": {from: []string{models.QueueStatusSkipped}, to: models.QueueStatusQueueing},
	"serve":   {from: []string{models.QueueStatusProcessing}, to: models.QueueStatusServed},
}

var stepTransitions = map[string]transition{
	"start":    {from: []string{models.StepStatusPending}, to: models.StepStatusProcessing},
	"complete": {from: []string{models.StepStatusProcessing}, to: models.StepStatusCompleted},
}

// QueueTransition returns the status a queue entry moves to when action is
// applied from fromStatus.
func QueueTransition(action, fromStatus string) (string, bool) {
	return lookup(queueTransitions, action, fromStatus)
}

func StepTransition(action, fromStatus string) (string, bool) {
	return lookup(stepTransitions, action, fromStatus)
}

func ValidQueueAction(action string) bool {
	_, ok := queueTransitions[action]
	return ok
}

func lookup(table map[string]transition, action, fromStatus string) (string, bool) {
	t, ok := table[action]
	if !ok {
		return "", false
	}
	for _, status := range t.from {
		if status == fromStatus {
			return t.to, true
		}
	}
	return "", false
}

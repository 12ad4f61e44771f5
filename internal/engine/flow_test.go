package engine

import (
	"context"
	"testing"
	"time"

	"qms/transaction-service/internal/models"
	"qms/transaction-service/internal/store"

	"github.com/stretchr/testify/require"
)

func TestAdvanceFlowWalksEveryStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := user("u1")

	enq, err := f.engine.Enqueue(ctx, u1, EnqueueRequest{FlowID: flowID})
	require.NoError(t, err)
	callEntry(t, f, enq.QueueID)

	res, err := f.engine.AdvanceFlow(ctx, u1, enq.TransactionID)
	require.NoError(t, err)
	require.False(t, res.Finished)
	require.Equal(t, "step-1", res.Completed.FlowStepID)
	require.Equal(t, models.StepStatusCompleted, res.Completed.Status)
	require.Equal(t, enq.QueueID, res.Closed.QueueID)
	require.Equal(t, models.QueueStatusServed, res.Closed.Status)
	require.NotNil(t, res.Started)
	require.Equal(t, "step-2", res.Started.FlowStepID)
	require.NotNil(t, res.Queue)
	require.Equal(t, "B-0001", res.Queue.PriorityNumber)
	require.Equal(t, res.Queue.QueueID, res.Started.QueueID)
	require.Equal(t, enq.TransactionID, res.Queue.TransactionID)
	require.Equal(t, []string{models.StepStatusCompleted, models.StepStatusProcessing, models.StepStatusPending}, stepStatuses(res.Transaction))

	callEntry(t, f, res.Queue.QueueID)
	res, err = f.engine.AdvanceFlow(ctx, u1, enq.TransactionID)
	require.NoError(t, err)
	require.Equal(t, "C-0001", res.Queue.PriorityNumber)
	require.Zero(t, res.WaitingTime)

	callEntry(t, f, res.Queue.QueueID)
	res, err = f.engine.AdvanceFlow(ctx, u1, enq.TransactionID)
	require.NoError(t, err)
	require.True(t, res.Finished)
	require.Nil(t, res.Queue)
	require.Equal(t, models.QueueStatusServed, res.Closed.Status)
	require.Equal(t, []string{models.StepStatusCompleted, models.StepStatusCompleted, models.StepStatusCompleted}, stepStatuses(res.Transaction))
	require.Equal(t, models.TransactionStatusProcessing, res.Transaction.Status)

	_, err = f.engine.AdvanceFlow(ctx, u1, enq.TransactionID)
	require.Equal(t, KindInvalidState, KindOf(err))

	_, queues := f.store.Counts()
	require.Equal(t, 3, queues)
}

func TestAdvanceFlowRequiresCalledEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enq, err := f.engine.Enqueue(ctx, user("u1"), EnqueueRequest{FlowID: flowID})
	require.NoError(t, err)

	_, err = f.engine.AdvanceFlow(ctx, user("u1"), enq.TransactionID)
	require.Equal(t, KindInvalidState, KindOf(err))

	_, err = f.engine.UpdateQueueStatus(ctx, enq.QueueID, "skip")
	require.NoError(t, err)
	_, err = f.engine.AdvanceFlow(ctx, user("u1"), enq.TransactionID)
	require.Equal(t, KindInvalidState, KindOf(err))

	txn, err := f.store.GetTransaction(ctx, enq.TransactionID)
	require.NoError(t, err)
	require.Equal(t, []string{models.StepStatusProcessing, models.StepStatusPending, models.StepStatusPending}, stepStatuses(txn))
	_, queues := f.store.Counts()
	require.Equal(t, 1, queues)
}

func TestAdvanceFlowReleasesCompletedStepEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enq, err := f.engine.Enqueue(ctx, user("u1"), EnqueueRequest{FlowID: flowID})
	require.NoError(t, err)
	callEntry(t, f, enq.QueueID)
	_, err = f.engine.AdvanceFlow(ctx, user("u1"), enq.TransactionID)
	require.NoError(t, err)

	queue, err := f.store.GetQueue(ctx, enq.QueueID)
	require.NoError(t, err)
	require.Equal(t, models.QueueStatusServed, queue.Status)

	// The served entry no longer counts for the next visitor in line.
	next, err := f.engine.Enqueue(ctx, user("u2"), adHoc(deptA, svcS))
	require.NoError(t, err)
	require.Zero(t, next.WaitingTime)

	// Nor does it block the same visitor from queueing there again.
	again, err := f.engine.Enqueue(ctx, user("u1"), adHoc(deptA, svcS))
	require.NoError(t, err)
	require.Equal(t, "A-0003", again.PriorityNumber)
}

func TestAdvanceFlowRepeatsSameDepartmentAndService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddFlow(models.Flow{FlowID: "flow-twice", Name: "Twice", Steps: []models.FlowStep{
		{FlowStepID: "twice-1", FlowID: "flow-twice", Position: 1, DepartmentID: deptA, ServiceID: svcS},
		{FlowStepID: "twice-2", FlowID: "flow-twice", Position: 2, DepartmentID: deptA, ServiceID: svcS},
	}})

	enq, err := f.engine.Enqueue(ctx, user("u1"), EnqueueRequest{FlowID: "flow-twice"})
	require.NoError(t, err)
	callEntry(t, f, enq.QueueID)

	res, err := f.engine.AdvanceFlow(ctx, user("u1"), enq.TransactionID)
	require.NoError(t, err)
	require.NotNil(t, res.Queue)
	require.Equal(t, "A-0002", res.Queue.PriorityNumber)
	require.Equal(t, "twice-2", res.Started.FlowStepID)
}

func TestAdvanceFlowChecksOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enq, err := f.engine.Enqueue(ctx, user("u1"), EnqueueRequest{FlowID: flowID})
	require.NoError(t, err)
	callEntry(t, f, enq.QueueID)

	_, err = f.engine.AdvanceFlow(ctx, user("u2"), enq.TransactionID)
	require.Equal(t, KindAccessDenied, KindOf(err))

	staff := models.User{UserID: "clerk", Role: models.RoleStaff}
	res, err := f.engine.AdvanceFlow(ctx, staff, enq.TransactionID)
	require.NoError(t, err)
	require.Equal(t, "step-2", res.Started.FlowStepID)
}

func TestAdvanceFlowRejectsAdHocAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enq, err := f.engine.Enqueue(ctx, user("u1"), adHoc(deptA, svcS))
	require.NoError(t, err)

	_, err = f.engine.AdvanceFlow(ctx, user("u1"), enq.TransactionID)
	require.Equal(t, KindInvalidState, KindOf(err))

	_, err = f.engine.AdvanceFlow(ctx, user("u1"), "missing")
	require.Equal(t, KindTransactionNotFound, KindOf(err))
}

func TestAdvanceFlowRollsBackOnDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enq, err := f.engine.Enqueue(ctx, user("u1"), EnqueueRequest{FlowID: flowID})
	require.NoError(t, err)
	_, err = f.engine.Enqueue(ctx, user("u1"), adHoc(deptB, svcT))
	require.NoError(t, err)
	callEntry(t, f, enq.QueueID)

	_, err = f.engine.AdvanceFlow(ctx, user("u1"), enq.TransactionID)
	require.Equal(t, KindDuplicateQueue, KindOf(err))

	txn, err := f.store.GetTransaction(ctx, enq.TransactionID)
	require.NoError(t, err)
	require.Equal(t, []string{models.StepStatusProcessing, models.StepStatusPending, models.StepStatusPending}, stepStatuses(txn))
	queue, err := f.store.GetQueue(ctx, enq.QueueID)
	require.NoError(t, err)
	require.Equal(t, models.QueueStatusProcessing, queue.Status)
}

func TestUpdateQueueStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enq, err := f.engine.Enqueue(ctx, user("u1"), adHoc(deptA, svcS))
	require.NoError(t, err)

	_, err = f.engine.UpdateQueueStatus(ctx, enq.QueueID, "teleport")
	require.Equal(t, KindInvalidRequest, KindOf(err))

	_, err = f.engine.UpdateQueueStatus(ctx, enq.QueueID, "serve")
	require.Equal(t, KindInvalidState, KindOf(err))

	queue, err := f.engine.UpdateQueueStatus(ctx, enq.QueueID, "call")
	require.NoError(t, err)
	require.Equal(t, models.QueueStatusProcessing, queue.Status)

	queue, err = f.engine.UpdateQueueStatus(ctx, enq.QueueID, "skip")
	require.NoError(t, err)
	require.Equal(t, models.QueueStatusSkipped, queue.Status)

	queue, err = f.engine.UpdateQueueStatus(ctx, enq.QueueID, "requeue")
	require.NoError(t, err)
	require.Equal(t, models.QueueStatusQueueing, queue.Status)

	_, err = f.engine.UpdateQueueStatus(ctx, "missing", "call")
	require.Equal(t, KindQueueNotFound, KindOf(err))

	audit, err := f.engine.QueueAudit(ctx, enq.QueueID)
	require.NoError(t, err)
	require.Len(t, audit.Events, 4)
	require.True(t, audit.Verified)
	require.Equal(t, models.QueueStatusQueueing, audit.Queue.Status)
	require.Equal(t, store.QueueEventCreated, audit.Events[0].Type)
	require.Equal(t, "A-0001", audit.Queue.PriorityNumber)

	_, err = f.engine.QueueAudit(ctx, "missing")
	require.Equal(t, KindQueueNotFound, KindOf(err))
}

func TestListQueuesForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Enqueue(ctx, user("other"), adHoc(deptA, svcS))
	require.NoError(t, err)
	mine, err := f.engine.Enqueue(ctx, user("u1"), adHoc(deptA, svcS))
	require.NoError(t, err)
	lab, err := f.engine.Enqueue(ctx, user("u1"), adHoc(deptB, svcT))
	require.NoError(t, err)
	_, err = f.engine.UpdateQueueStatus(ctx, lab.QueueID, "call")
	require.NoError(t, err)

	views, err := f.engine.ListQueuesForUser(ctx, "u1", f.engine.Today())
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, mine.QueueID, views[0].Queue.QueueID)
	require.Equal(t, 10*time.Minute, views[0].WaitingTime)
	require.Equal(t, "Registration", views[0].Department.Name)
	require.Equal(t, 2, views[0].OpenQueues)

	txns, err := f.engine.ListFlowTransactions(ctx, "u1", f.engine.Today())
	require.NoError(t, err)
	require.Empty(t, txns)
}

func TestListFlowTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enq, err := f.engine.Enqueue(ctx, user("u1"), EnqueueRequest{FlowID: flowID})
	require.NoError(t, err)

	txns, err := f.engine.ListFlowTransactions(ctx, "u1", f.engine.Today())
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.Equal(t, enq.TransactionID, txns[0].TransactionID)
	require.Len(t, txns[0].Steps, 3)
}

func TestAvailableDepartments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Enqueue(ctx, user("u1"), adHoc(deptA, svcS))
	require.NoError(t, err)
	_, err = f.engine.Enqueue(ctx, user("u2"), adHoc(deptB, svcT))
	require.NoError(t, err)

	available, err := f.engine.AvailableDepartments(ctx, "u1", f.engine.Today())
	require.NoError(t, err)

	byID := map[string]DepartmentAvailability{}
	for _, item := range available {
		byID[item.Department.DepartmentID] = item
	}
	require.NotContains(t, byID, deptA)
	require.Contains(t, byID, deptB)
	require.Contains(t, byID, deptC)
	require.Equal(t, 1, byID[deptB].OpenQueues)
	require.Len(t, byID[deptB].Services, 1)
	require.Equal(t, svcT, byID[deptB].Services[0].ServiceID)
	require.Empty(t, byID[deptC].Services)
}

func callEntry(t *testing.T, f *fixture, queueID string) {
	t.Helper()
	_, err := f.engine.UpdateQueueStatus(context.Background(), queueID, "call")
	require.NoError(t, err)
}

func stepStatuses(txn models.Transaction) []string {
	out := make([]string, 0, len(txn.Steps))
	for _, step := range txn.Steps {
		out = append(out, step.Status)
	}
	return out
}

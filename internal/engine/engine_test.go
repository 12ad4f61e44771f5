package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"qms/transaction-service/internal/models"
	"qms/transaction-service/internal/store"
	"qms/transaction-service/internal/store/memory"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *tickingClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (n *recordingNotifier) Send(ctx context.Context, recipient, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, recipient+"|"+message)
	return n.err
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

type fixture struct {
	engine   *Engine
	store    *memory.Store
	notifier *recordingNotifier
	clock    *tickingClock
}

const (
	deptA    = "dept-a"
	deptB    = "dept-b"
	deptC    = "dept-c"
	svcS     = "svc-s"
	svcT     = "svc-t"
	svcU     = "svc-u"
	flowID   = "flow-checkup"
	flowNone = "flow-empty"
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	st.AddDepartment(models.Department{DepartmentID: deptA, Name: "Registration", Prefix: "A-"})
	st.AddDepartment(models.Department{DepartmentID: deptB, Name: "Laboratory", Prefix: "B-"})
	st.AddDepartment(models.Department{DepartmentID: deptC, Name: "Pharmacy", Prefix: "C-"})
	st.AddService(models.Service{ServiceID: svcS, Name: "Registration"})
	st.AddService(models.Service{ServiceID: svcT, Name: "Blood test"})
	st.AddService(models.Service{ServiceID: svcU, Name: "Dispensing"})
	st.AddServer(models.Server{ServerID: "srv-a", DepartmentID: deptA, Name: "Counter 1"},
		models.ServerService{ServiceID: svcS, AverageDuration: 10 * time.Minute})
	st.AddServer(models.Server{ServerID: "srv-b", DepartmentID: deptB, Name: "Lab 1"},
		models.ServerService{ServiceID: svcT, AverageDuration: 5 * time.Minute})
	st.AddFlow(models.Flow{FlowID: flowID, Name: "Checkup", Steps: []models.FlowStep{
		{FlowStepID: "step-3", FlowID: flowID, Position: 3, DepartmentID: deptC, ServiceID: svcU},
		{FlowStepID: "step-1", FlowID: flowID, Position: 1, DepartmentID: deptA, ServiceID: svcS},
		{FlowStepID: "step-2", FlowID: flowID, Position: 2, DepartmentID: deptB, ServiceID: svcT},
	}})
	st.AddFlow(models.Flow{FlowID: flowNone, Name: "Empty"})

	clock := &tickingClock{now: time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	eng := New(st, notifier, Options{Now: clock.Now, Location: time.UTC})
	return &fixture{engine: eng, store: st, notifier: notifier, clock: clock}
}

func user(id string) models.User {
	return models.User{UserID: id, Name: id}
}

func adHoc(dept, svc string) EnqueueRequest {
	return EnqueueRequest{DepartmentID: dept, ServiceID: svc}
}

func TestEnqueueFirstOfTheDay(t *testing.T) {
	f := newFixture(t)

	result, err := f.engine.Enqueue(context.Background(), user("u1"), adHoc(deptA, svcS))
	require.NoError(t, err)
	require.True(t, result.Status)
	require.Equal(t, "A-0001", result.PriorityNumber)
	require.Zero(t, result.WaitingTime)
	require.NotEmpty(t, result.TransactionID)
	require.NotEmpty(t, result.QueueID)
}

func TestEnqueueBehindThreeActiveEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := f.engine.Enqueue(ctx, user(fmt.Sprintf("early-%d", i)), adHoc(deptA, svcS))
		require.NoError(t, err)
	}
	second, err := f.store.ListUserQueues(ctx, "early-2", f.engine.Today(), nil)
	require.NoError(t, err)
	_, err = f.engine.UpdateQueueStatus(ctx, second[0].QueueID, "skip")
	require.NoError(t, err)

	result, err := f.engine.Enqueue(ctx, user("u4"), adHoc(deptA, svcS))
	require.NoError(t, err)
	require.Equal(t, "A-0004", result.PriorityNumber)
	require.Equal(t, 30*time.Minute, result.WaitingTime)
}

func TestEnqueueDuplicateIsRejectedWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Enqueue(ctx, user("u1"), adHoc(deptA, svcS))
	require.NoError(t, err)
	txnsBefore, queuesBefore := f.store.Counts()

	result, err := f.engine.Enqueue(ctx, user("u1"), adHoc(deptA, svcS))
	require.Error(t, err)
	require.Equal(t, KindDuplicateQueue, KindOf(err))
	require.True(t, errors.Is(err, store.ErrDuplicateQueue))
	require.False(t, result.Status)
	require.NotEmpty(t, result.Message)
	require.Empty(t, result.PriorityNumber)

	txnsAfter, queuesAfter := f.store.Counts()
	require.Equal(t, txnsBefore, txnsAfter)
	require.Equal(t, queuesBefore, queuesAfter)

	next, err := f.engine.Enqueue(ctx, user("u2"), adHoc(deptA, svcS))
	require.NoError(t, err)
	require.Equal(t, "A-0002", next.PriorityNumber)
}

func TestEnqueueAllowedAgainAfterServed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.Enqueue(ctx, user("u1"), adHoc(deptA, svcS))
	require.NoError(t, err)
	_, err = f.engine.UpdateQueueStatus(ctx, first.QueueID, "call")
	require.NoError(t, err)
	_, err = f.engine.UpdateQueueStatus(ctx, first.QueueID, "serve")
	require.NoError(t, err)

	again, err := f.engine.Enqueue(ctx, user("u1"), adHoc(deptA, svcS))
	require.NoError(t, err)
	require.Equal(t, "A-0002", again.PriorityNumber)
}

func TestEnqueueSameDepartmentDifferentServiceIsNotDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddServer(models.Server{ServerID: "srv-a2", DepartmentID: deptA, Name: "Counter 2"},
		models.ServerService{ServiceID: svcT, AverageDuration: 4 * time.Minute})

	_, err := f.engine.Enqueue(ctx, user("u1"), adHoc(deptA, svcS))
	require.NoError(t, err)
	second, err := f.engine.Enqueue(ctx, user("u1"), adHoc(deptA, svcT))
	require.NoError(t, err)
	require.Equal(t, "A-0002", second.PriorityNumber)
}

func TestEnqueueUnknownFlow(t *testing.T) {
	f := newFixture(t)

	result, err := f.engine.Enqueue(context.Background(), user("u1"), EnqueueRequest{FlowID: "missing"})
	require.Error(t, err)
	require.Equal(t, KindFlowNotFound, KindOf(err))
	require.False(t, result.Status)

	txns, queues := f.store.Counts()
	require.Zero(t, txns)
	require.Zero(t, queues)
}

func TestEnqueueEmptyFlow(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Enqueue(context.Background(), user("u1"), EnqueueRequest{FlowID: flowNone})
	require.Error(t, err)
	require.Equal(t, KindQueueCreationFailed, KindOf(err))
	require.True(t, errors.Is(err, store.ErrFlowEmpty))

	txns, _ := f.store.Counts()
	require.Zero(t, txns)
}

func TestEnqueueUnknownDepartmentRollsBack(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Enqueue(context.Background(), user("u1"), adHoc("nowhere", svcS))
	require.Error(t, err)
	require.Equal(t, KindQueueCreationFailed, KindOf(err))
	require.True(t, errors.Is(err, store.ErrDepartmentNotFound))

	_, err = f.engine.Enqueue(context.Background(), user("u1"), adHoc(deptA, "nothing"))
	require.Error(t, err)
	require.True(t, errors.Is(err, store.ErrServiceNotFound))

	txns, queues := f.store.Counts()
	require.Zero(t, txns)
	require.Zero(t, queues)
}

func TestEnqueueRequiresTarget(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Enqueue(context.Background(), user("u1"), EnqueueRequest{DepartmentID: deptA})
	require.Equal(t, KindInvalidRequest, KindOf(err))
	_, err = f.engine.Enqueue(context.Background(), models.User{}, adHoc(deptA, svcS))
	require.Equal(t, KindInvalidRequest, KindOf(err))
}

func TestEnqueueFlowAttachesStepsAndQueuesFirstOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.engine.Enqueue(ctx, user("u1"), EnqueueRequest{FlowID: flowID})
	require.NoError(t, err)
	require.Equal(t, "A-0001", result.PriorityNumber)

	txn, err := f.store.GetTransaction(ctx, result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, flowID, txn.FlowID)
	require.Equal(t, models.TransactionStatusProcessing, txn.Status)
	require.Len(t, txn.Steps, 3)
	require.Equal(t, "step-1", txn.Steps[0].FlowStepID)
	require.Equal(t, models.StepStatusProcessing, txn.Steps[0].Status)
	require.Equal(t, models.StepStatusPending, txn.Steps[1].Status)
	require.Equal(t, models.StepStatusPending, txn.Steps[2].Status)
	require.Equal(t, result.QueueID, txn.Steps[0].QueueID)
	require.Empty(t, txn.Steps[1].QueueID)

	_, queues := f.store.Counts()
	require.Equal(t, 1, queues)
}

func TestFlowInstancesAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.Enqueue(ctx, user("u1"), EnqueueRequest{FlowID: flowID})
	require.NoError(t, err)
	second, err := f.engine.Enqueue(ctx, user("u2"), EnqueueRequest{FlowID: flowID})
	require.NoError(t, err)
	require.Equal(t, "A-0002", second.PriorityNumber)

	_, err = f.engine.UpdateQueueStatus(ctx, first.QueueID, "call")
	require.NoError(t, err)
	_, err = f.engine.AdvanceFlow(ctx, user("u1"), first.TransactionID)
	require.NoError(t, err)

	other, err := f.store.GetTransaction(ctx, second.TransactionID)
	require.NoError(t, err)
	require.Equal(t, models.StepStatusProcessing, other.Steps[0].Status)
	require.Equal(t, models.StepStatusPending, other.Steps[1].Status)
}

func TestGuestNotificationIsDispatched(t *testing.T) {
	f := newFixture(t)
	guest := models.User{UserID: "guest", MobileNo: "08123456789"}

	result, err := f.engine.Enqueue(context.Background(), guest, EnqueueRequest{FlowID: flowID, Guest: true})
	require.NoError(t, err)
	require.NoError(t, f.engine.Close(context.Background()))

	require.Equal(t, []string{"08123456789|Your priority number is " + result.PriorityNumber + "."}, f.notifier.messages())
}

func TestGuestNotificationSkippedWithoutNumberOrFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Enqueue(ctx, models.User{UserID: "no-phone"}, EnqueueRequest{FlowID: flowID, Guest: true})
	require.NoError(t, err)
	_, err = f.engine.Enqueue(ctx, models.User{UserID: "no-flag", MobileNo: "0811"}, EnqueueRequest{FlowID: flowID})
	require.NoError(t, err)
	_, err = f.engine.Enqueue(ctx, models.User{UserID: "ad-hoc", MobileNo: "0812"}, EnqueueRequest{DepartmentID: deptB, ServiceID: svcT, Guest: true})
	require.NoError(t, err)
	require.NoError(t, f.engine.Close(ctx))

	require.Empty(t, f.notifier.messages())
}

func TestNotificationFailureDoesNotFailEnqueue(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("gateway down")
	guest := models.User{UserID: "guest", MobileNo: "08123456789"}

	result, err := f.engine.Enqueue(context.Background(), guest, EnqueueRequest{FlowID: flowID, Guest: true})
	require.NoError(t, err)
	require.True(t, result.Status)
	require.NoError(t, f.engine.Close(context.Background()))
	require.Len(t, f.notifier.messages(), 1)

	txns, queues := f.store.Counts()
	require.Equal(t, 1, txns)
	require.Equal(t, 1, queues)
}

func TestConcurrentEnqueueAllocatesContiguousNumbers(t *testing.T) {
	f := newFixture(t)
	const n = 64

	var mu sync.Mutex
	var numbers []string
	var g errgroup.Group
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("visitor-%02d", i)
		g.Go(func() error {
			result, err := f.engine.Enqueue(context.Background(), user(id), adHoc(deptA, svcS))
			if err != nil {
				return err
			}
			mu.Lock()
			numbers = append(numbers, result.PriorityNumber)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Strings(numbers)
	want := make([]string, n)
	for i := range want {
		want[i] = models.FormatPriorityNumber("A-", int64(i+1))
	}
	require.Equal(t, want, numbers)
}

func TestNumberingRestartsEachBusinessDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.Enqueue(ctx, user("u1"), adHoc(deptA, svcS))
	require.NoError(t, err)
	require.Equal(t, "A-0001", first.PriorityNumber)

	f.clock.Advance(24 * time.Hour)

	// yesterday's queueing entry does not block today.
	next, err := f.engine.Enqueue(ctx, user("u1"), adHoc(deptA, svcS))
	require.NoError(t, err)
	require.Equal(t, "A-0001", next.PriorityNumber)
	require.Zero(t, next.WaitingTime)
}

func TestDepartmentsNumberIndependently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.engine.Enqueue(ctx, user("u1"), adHoc(deptA, svcS))
	require.NoError(t, err)
	b, err := f.engine.Enqueue(ctx, user("u1"), adHoc(deptB, svcT))
	require.NoError(t, err)
	require.Equal(t, "A-0001", a.PriorityNumber)
	require.Equal(t, "B-0001", b.PriorityNumber)
}

func TestEstimateWaitIsIdempotentAndLive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.Enqueue(ctx, user("u1"), adHoc(deptA, svcS))
	require.NoError(t, err)
	_, err = f.engine.Enqueue(ctx, user("u2"), adHoc(deptA, svcS))
	require.NoError(t, err)
	third, err := f.engine.Enqueue(ctx, user("u3"), adHoc(deptA, svcS))
	require.NoError(t, err)

	once, err := f.engine.EstimateWait(ctx, third.QueueID)
	require.NoError(t, err)
	twice, err := f.engine.EstimateWait(ctx, third.QueueID)
	require.NoError(t, err)
	require.Equal(t, once, twice)
	require.Equal(t, 20*time.Minute, once)

	_, err = f.engine.UpdateQueueStatus(ctx, first.QueueID, "call")
	require.NoError(t, err)
	after, err := f.engine.EstimateWait(ctx, third.QueueID)
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute, after)
}

func TestEstimateWaitUnknownQueue(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.EstimateWait(context.Background(), "missing")
	require.Equal(t, KindQueueNotFound, KindOf(err))
}

func TestEstimateWithoutServerIsZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Enqueue(ctx, user("u1"), adHoc(deptC, svcU))
	require.NoError(t, err)
	second, err := f.engine.Enqueue(ctx, user("u2"), adHoc(deptC, svcU))
	require.NoError(t, err)
	require.Equal(t, "C-0002", second.PriorityNumber)
	require.Zero(t, second.WaitingTime)
}

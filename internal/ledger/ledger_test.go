package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"qms/transaction-service/internal/models"
	"qms/transaction-service/internal/store"
	"qms/transaction-service/internal/store/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const day = models.BusinessDay("2026-10-16")

func newLedgerStore(t *testing.T) (*memory.Store, *Ledger) {
	t.Helper()
	st := memory.New()
	st.AddDepartment(models.Department{DepartmentID: "reg", Name: "Registration", Prefix: "R"})
	st.AddDepartment(models.Department{DepartmentID: "lab", Name: "Laboratory", Prefix: "LAB-"})
	st.AddService(models.Service{ServiceID: "intake", Name: "Intake"})
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	return st, New(st, WithClock(func() time.Time { return now }))
}

// createFor opens a transaction and queues it in one unit of work.
func createFor(ctx context.Context, st *memory.Store, l *Ledger, userID, deptID string) (models.Queue, error) {
	var queue models.Queue
	err := st.WithinTx(ctx, func(tx store.Tx) error {
		txnID := uuid.NewString()
		if err := tx.CreateTransaction(ctx, models.Transaction{
			TransactionID: txnID,
			UserID:        userID,
			Status:        models.TransactionStatusProcessing,
			BusinessDay:   day,
		}); err != nil {
			return err
		}
		created, err := l.Create(ctx, tx, CreateInput{
			UserID:        userID,
			TransactionID: txnID,
			DepartmentID:  deptID,
			ServiceID:     "intake",
			Day:           day,
		})
		queue = created
		return err
	})
	return queue, err
}

func TestAllocateIsGapFree(t *testing.T) {
	st, l := newLedgerStore(t)
	ctx := context.Background()

	var numbers []string
	for i := 0; i < 3; i++ {
		err := st.WithinTx(ctx, func(tx store.Tx) error {
			_, number, err := l.Allocate(ctx, tx, "lab", day)
			numbers = append(numbers, number)
			return err
		})
		require.NoError(t, err)
	}
	require.Equal(t, []string{"LAB-0001", "LAB-0002", "LAB-0003"}, numbers)
}

func TestAllocateUnknownDepartment(t *testing.T) {
	st, l := newLedgerStore(t)
	ctx := context.Background()

	err := st.WithinTx(ctx, func(tx store.Tx) error {
		_, _, err := l.Allocate(ctx, tx, "nope", day)
		return err
	})
	require.ErrorIs(t, err, store.ErrDepartmentNotFound)
}

func TestRolledBackAllocationIsNotBurned(t *testing.T) {
	st, l := newLedgerStore(t)
	ctx := context.Background()

	err := st.WithinTx(ctx, func(tx store.Tx) error {
		if _, _, err := l.Allocate(ctx, tx, "reg", day); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.EqualError(t, err, "abort")

	queue, err := createFor(ctx, st, l, "u1", "reg")
	require.NoError(t, err)
	require.Equal(t, "R0001", queue.PriorityNumber)
	require.Equal(t, int64(1), queue.Sequence)
}

func TestCreateFillsEntry(t *testing.T) {
	st, l := newLedgerStore(t)
	ctx := context.Background()

	queue, err := createFor(ctx, st, l, "u1", "reg")
	require.NoError(t, err)
	require.Equal(t, models.QueueStatusQueueing, queue.Status)
	require.Equal(t, day, queue.BusinessDay)
	require.Equal(t, "reg", queue.DepartmentID)
	require.Equal(t, "intake", queue.ServiceID)
	require.False(t, queue.CreatedAt.IsZero())

	found, err := l.FindByID(ctx, queue.QueueID)
	require.NoError(t, err)
	require.Equal(t, queue.PriorityNumber, found.PriorityNumber)
}

func TestCreateGuardsActiveEntries(t *testing.T) {
	st, l := newLedgerStore(t)
	ctx := context.Background()

	first, err := createFor(ctx, st, l, "u1", "reg")
	require.NoError(t, err)

	_, err = createFor(ctx, st, l, "u1", "reg")
	require.ErrorIs(t, err, store.ErrDuplicateQueue)

	err = st.WithinTx(ctx, func(tx store.Tx) error {
		_, err := l.Transition(ctx, tx, first.QueueID, "skip")
		return err
	})
	require.NoError(t, err)
	_, err = createFor(ctx, st, l, "u1", "reg")
	require.ErrorIs(t, err, store.ErrDuplicateQueue, "skipped entries still hold a place")

	err = st.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := l.Transition(ctx, tx, first.QueueID, "requeue"); err != nil {
			return err
		}
		if _, err := l.Transition(ctx, tx, first.QueueID, "call"); err != nil {
			return err
		}
		_, err := l.Transition(ctx, tx, first.QueueID, "serve")
		return err
	})
	require.NoError(t, err)

	second, err := createFor(ctx, st, l, "u1", "reg")
	require.NoError(t, err)
	require.Equal(t, "R0002", second.PriorityNumber)
}

func TestGuardRejectionLeavesCounterUntouched(t *testing.T) {
	st, l := newLedgerStore(t)
	ctx := context.Background()

	err := st.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateTransaction(ctx, models.Transaction{TransactionID: "t1", UserID: "u1", BusinessDay: day}); err != nil {
			return err
		}
		input := CreateInput{UserID: "u1", TransactionID: "t1", DepartmentID: "reg", ServiceID: "intake", Day: day}
		if _, err := l.Create(ctx, tx, input); err != nil {
			return err
		}
		if _, err := l.Create(ctx, tx, input); !errors.Is(err, store.ErrDuplicateQueue) {
			return fmt.Errorf("expected duplicate, got %v", err)
		}
		_, number, err := l.Allocate(ctx, tx, "reg", day)
		if err != nil {
			return err
		}
		if number != "R0002" {
			return fmt.Errorf("rejected create consumed a number: next is %s", number)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestTransitionRejectsInvalidMoves(t *testing.T) {
	st, l := newLedgerStore(t)
	ctx := context.Background()

	queue, err := createFor(ctx, st, l, "u1", "reg")
	require.NoError(t, err)

	err = st.WithinTx(ctx, func(tx store.Tx) error {
		_, err := l.Transition(ctx, tx, queue.QueueID, "requeue")
		return err
	})
	require.ErrorIs(t, err, store.ErrInvalidState)

	err = st.WithinTx(ctx, func(tx store.Tx) error {
		_, err := l.Transition(ctx, tx, "missing", "call")
		return err
	})
	require.ErrorIs(t, err, store.ErrQueueNotFound)
}

func TestConcurrentCreateIssuesDistinctNumbers(t *testing.T) {
	st, l := newLedgerStore(t)
	ctx := context.Background()

	const n = 50
	numbers := make([]string, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			queue, err := createFor(ctx, st, l, fmt.Sprintf("user-%d", i), "lab")
			numbers[i] = queue.PriorityNumber
			return err
		})
	}
	require.NoError(t, g.Wait())

	sort.Strings(numbers)
	for i, number := range numbers {
		require.Equal(t, models.FormatPriorityNumber("LAB-", int64(i+1)), number)
	}
}

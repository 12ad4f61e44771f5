package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"qms/transaction-service/internal/models"
	"qms/transaction-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

type Options struct {
	// Now stamps session expiry checks; defaults to time.Now.
	Now func() time.Time
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Store{pool: pool, now: now}
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetDepartment(ctx context.Context, departmentID string) (models.Department, error) {
	return getDepartment(ctx, s.pool, departmentID)
}

func (s *Store) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	return getService(ctx, s.pool, serviceID)
}

func (s *Store) GetFlow(ctx context.Context, flowID string) (models.Flow, error) {
	return getFlow(ctx, s.pool, flowID)
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	return getQueue(ctx, s.pool, queueID, false)
}

func (s *Store) GetTransaction(ctx context.Context, transactionID string) (models.Transaction, error) {
	return getTransaction(ctx, s.pool, transactionID)
}

func (s *Store) AverageDurations(ctx context.Context, departmentID, serviceID string) ([]time.Duration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ss.average_duration_seconds
		FROM server_services ss
		JOIN servers sv ON sv.server_id = ss.server_id
		WHERE sv.department_id = $1 AND ss.service_id = $2
	`, departmentID, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Duration
	for rows.Next() {
		var seconds int64
		if err := rows.Scan(&seconds); err != nil {
			return nil, err
		}
		out = append(out, time.Duration(seconds)*time.Second)
	}
	return out, rows.Err()
}

func (s *Store) ListDepartments(ctx context.Context) ([]models.Department, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT department_id, name, prefix
		FROM departments
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Department
	for rows.Next() {
		var dept models.Department
		if err := rows.Scan(&dept.DepartmentID, &dept.Name, &dept.Prefix); err != nil {
			return nil, err
		}
		out = append(out, dept)
	}
	return out, rows.Err()
}

func (s *Store) ListDepartmentServices(ctx context.Context, departmentID string) ([]models.Service, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT s.service_id, s.name
		FROM services s
		JOIN server_services ss ON ss.service_id = s.service_id
		JOIN servers sv ON sv.server_id = ss.server_id
		WHERE sv.department_id = $1
		ORDER BY s.name ASC
	`, departmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Service
	for rows.Next() {
		var svc models.Service
		if err := rows.Scan(&svc.ServiceID, &svc.Name); err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func (s *Store) CountActiveAhead(ctx context.Context, queue models.Queue) (int, error) {
	var count int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM queues
		WHERE department_id = $1 AND service_id = $2 AND business_day = $3
		  AND status = ANY($4)
		  AND created_at <= $5
	`, queue.DepartmentID, queue.ServiceID, queue.BusinessDay.Date(), models.ActiveQueueStatuses, queue.CreatedAt)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ListUserQueues(ctx context.Context, userID string, day models.BusinessDay, statuses []string) ([]models.Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues WHERE user_id = $1 AND business_day = $2`
	args := []interface{}{userID, day.Date()}
	if len(statuses) > 0 {
		query += " AND status = ANY($3)"
		args = append(args, statuses)
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Queue
	for rows.Next() {
		queue, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, queue)
	}
	return out, rows.Err()
}

func (s *Store) ListUserFlowTransactions(ctx context.Context, userID string, day models.BusinessDay) ([]models.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1 AND business_day = $2 AND flow_id IS NOT NULL
		ORDER BY created_at ASC
	`, userID, day.Date())
	if err != nil {
		return nil, err
	}
	var txns []models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		txns = append(txns, txn)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range txns {
		steps, err := listSteps(ctx, s.pool, txns[i].TransactionID)
		if err != nil {
			return nil, err
		}
		txns[i].Steps = steps
	}
	return txns, nil
}

func (s *Store) CountOpenQueues(ctx context.Context, departmentID string, day models.BusinessDay) (int, error) {
	var count int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM queues
		WHERE department_id = $1 AND business_day = $2 AND status <> $3
	`, departmentID, day.Date(), models.QueueStatusServed)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ListQueueEvents(ctx context.Context, queueID string) ([]store.QueueEvent, error) {
	if _, err := getQueue(ctx, s.pool, queueID, false); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT queue_id, queue_seq, type, payload, created_at, prev_hash, hash
		FROM queue_events
		WHERE queue_id = $1
		ORDER BY queue_seq ASC
	`, queueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.QueueEvent
	for rows.Next() {
		var event store.QueueEvent
		if err := rows.Scan(&event.QueueID, &event.Seq, &event.Type, &event.Payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	var expiresAt sql.NullTime
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, user_id, expires_at
		FROM user_sessions
		WHERE session_id = $1
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.UserID, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	if t := nullTimePtr(expiresAt); t != nil {
		session.ExpiresAt = *t
		if s.now().After(session.ExpiresAt) {
			return store.Session{}, store.ErrSessionNotFound
		}
	}
	return session, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	var mobile sql.NullString
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, name, mobile_no, role
		FROM users
		WHERE user_id = $1
	`, userID)
	if err := row.Scan(&user.UserID, &user.Name, &mobile, &user.Role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, err
	}
	if mobile.Valid {
		user.MobileNo = mobile.String
	}
	return user, nil
}

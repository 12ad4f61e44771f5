package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"qms/transaction-service/internal/models"
	"qms/transaction-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var _ store.ServerAdmin = (*Store)(nil)

func (s *Store) ListServers(ctx context.Context, departmentID string) ([]models.ServerDetail, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT server_id, department_id, name
		FROM servers
		WHERE $1 = '' OR department_id = $1
		ORDER BY name ASC
	`, departmentID)
	if err != nil {
		return nil, err
	}
	var servers []models.Server
	for rows.Next() {
		var server models.Server
		if err := rows.Scan(&server.ServerID, &server.DepartmentID, &server.Name); err != nil {
			rows.Close()
			return nil, err
		}
		servers = append(servers, server)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.ServerDetail, 0, len(servers))
	for _, server := range servers {
		pairings, err := listServerServices(ctx, s.pool, server.ServerID)
		if err != nil {
			return nil, err
		}
		out = append(out, models.ServerDetail{Server: server, Services: pairings})
	}
	return out, nil
}

func (s *Store) GetServer(ctx context.Context, serverID string) (models.ServerDetail, error) {
	return getServerDetail(ctx, s.pool, serverID, false)
}

func (s *Store) CreateServer(ctx context.Context, server models.Server, services []models.ServerService) (detail models.ServerDetail, err error) {
	if server.ServerID == "" {
		server.ServerID = uuid.NewString()
	}
	server.Name = strings.TrimSpace(server.Name)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.ServerDetail{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = getDepartment(ctx, tx, server.DepartmentID); err != nil {
		return models.ServerDetail{}, err
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO servers (server_id, department_id, name) VALUES ($1, $2, $3)
	`, server.ServerID, server.DepartmentID, server.Name); err != nil {
		return models.ServerDetail{}, err
	}
	if err = replaceServerServices(ctx, tx, server.ServerID, services); err != nil {
		return models.ServerDetail{}, err
	}
	if detail, err = getServerDetail(ctx, tx, server.ServerID, false); err != nil {
		return models.ServerDetail{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.ServerDetail{}, err
	}
	return detail, nil
}

func (s *Store) RenameServer(ctx context.Context, serverID, name string) (models.ServerDetail, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE servers SET name = $2 WHERE server_id = $1`, serverID, strings.TrimSpace(name))
	if err != nil {
		return models.ServerDetail{}, err
	}
	if tag.RowsAffected() == 0 {
		return models.ServerDetail{}, store.ErrServerNotFound
	}
	return s.GetServer(ctx, serverID)
}

// DeleteServer removes the server; its pairings go with it by cascade.
func (s *Store) DeleteServer(ctx context.Context, serverID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM servers WHERE server_id = $1`, serverID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrServerNotFound
	}
	return nil
}

func (s *Store) SyncServerServices(ctx context.Context, serverID string, services []models.ServerService) (detail models.ServerDetail, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.ServerDetail{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = getServerDetail(ctx, tx, serverID, true); err != nil {
		return models.ServerDetail{}, err
	}
	if err = replaceServerServices(ctx, tx, serverID, services); err != nil {
		return models.ServerDetail{}, err
	}
	if detail, err = getServerDetail(ctx, tx, serverID, false); err != nil {
		return models.ServerDetail{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.ServerDetail{}, err
	}
	return detail, nil
}

func replaceServerServices(ctx context.Context, tx pgx.Tx, serverID string, services []models.ServerService) error {
	for _, pairing := range services {
		if _, err := getService(ctx, tx, pairing.ServiceID); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM server_services WHERE server_id = $1`, serverID); err != nil {
		return err
	}
	if len(services) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pairing := range services {
		batch.Queue(`
			INSERT INTO server_services (server_id, service_id, average_duration_seconds) VALUES ($1, $2, $3)
			ON CONFLICT (server_id, service_id) DO UPDATE SET average_duration_seconds = EXCLUDED.average_duration_seconds
		`, serverID, pairing.ServiceID, int64(pairing.AverageDuration/time.Second))
	}
	return tx.SendBatch(ctx, batch).Close()
}

func getServerDetail(ctx context.Context, q querier, serverID string, forUpdate bool) (models.ServerDetail, error) {
	query := `SELECT server_id, department_id, name FROM servers WHERE server_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var detail models.ServerDetail
	err := q.QueryRow(ctx, query, serverID).Scan(&detail.ServerID, &detail.DepartmentID, &detail.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ServerDetail{}, store.ErrServerNotFound
		}
		return models.ServerDetail{}, err
	}
	detail.Services, err = listServerServices(ctx, q, serverID)
	if err != nil {
		return models.ServerDetail{}, err
	}
	return detail, nil
}

func listServerServices(ctx context.Context, q querier, serverID string) ([]models.ServerService, error) {
	rows, err := q.Query(ctx, `
		SELECT server_id, service_id, average_duration_seconds
		FROM server_services
		WHERE server_id = $1
		ORDER BY service_id ASC
	`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ServerService{}
	for rows.Next() {
		var pairing models.ServerService
		var seconds int64
		if err := rows.Scan(&pairing.ServerID, &pairing.ServiceID, &seconds); err != nil {
			return nil, err
		}
		pairing.AverageDuration = time.Duration(seconds) * time.Second
		out = append(out, pairing)
	}
	return out, rows.Err()
}

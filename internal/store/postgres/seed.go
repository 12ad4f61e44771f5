package postgres

import (
	"context"
	"fmt"

	"qms/transaction-service/internal/seed"

	"github.com/jackc/pgx/v5"
)

// ApplySeed upserts the seed document's catalog, flows, users and sessions
// in one transaction. Flow steps are replaced wholesale.
func (s *Store) ApplySeed(ctx context.Context, data seed.Data) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, dept := range data.ModelDepartments() {
		if _, err = tx.Exec(ctx, `
			INSERT INTO departments (department_id, name, prefix) VALUES ($1, $2, $3)
			ON CONFLICT (department_id) DO UPDATE SET name = EXCLUDED.name, prefix = EXCLUDED.prefix
		`, dept.DepartmentID, dept.Name, dept.Prefix); err != nil {
			return fmt.Errorf("seed department %s: %w", dept.DepartmentID, err)
		}
	}
	for _, svc := range data.ModelServices() {
		if _, err = tx.Exec(ctx, `
			INSERT INTO services (service_id, name) VALUES ($1, $2)
			ON CONFLICT (service_id) DO UPDATE SET name = EXCLUDED.name
		`, svc.ServiceID, svc.Name); err != nil {
			return fmt.Errorf("seed service %s: %w", svc.ServiceID, err)
		}
	}

	servers, pairings := data.ModelServers()
	for _, server := range servers {
		if _, err = tx.Exec(ctx, `
			INSERT INTO servers (server_id, department_id, name) VALUES ($1, $2, $3)
			ON CONFLICT (server_id) DO UPDATE SET department_id = EXCLUDED.department_id, name = EXCLUDED.name
		`, server.ServerID, server.DepartmentID, server.Name); err != nil {
			return fmt.Errorf("seed server %s: %w", server.ServerID, err)
		}
	}
	for _, pairing := range pairings {
		if _, err = tx.Exec(ctx, `
			INSERT INTO server_services (server_id, service_id, average_duration_seconds) VALUES ($1, $2, $3)
			ON CONFLICT (server_id, service_id) DO UPDATE SET average_duration_seconds = EXCLUDED.average_duration_seconds
		`, pairing.ServerID, pairing.ServiceID, int64(pairing.AverageDuration.Seconds())); err != nil {
			return fmt.Errorf("seed server service %s/%s: %w", pairing.ServerID, pairing.ServiceID, err)
		}
	}

	for _, flow := range data.ModelFlows() {
		if _, err = tx.Exec(ctx, `
			INSERT INTO flows (flow_id, name) VALUES ($1, $2)
			ON CONFLICT (flow_id) DO UPDATE SET name = EXCLUDED.name
		`, flow.FlowID, flow.Name); err != nil {
			return fmt.Errorf("seed flow %s: %w", flow.FlowID, err)
		}
		if _, err = tx.Exec(ctx, `DELETE FROM flow_steps WHERE flow_id = $1`, flow.FlowID); err != nil {
			return fmt.Errorf("reset flow steps %s: %w", flow.FlowID, err)
		}
		for _, step := range flow.Steps {
			if _, err = tx.Exec(ctx, `
				INSERT INTO flow_steps (flow_step_id, flow_id, position, department_id, service_id)
				VALUES ($1, $2, $3, $4, $5)
			`, step.FlowStepID, flow.FlowID, step.Position, step.DepartmentID, step.ServiceID); err != nil {
				return fmt.Errorf("seed flow step %s: %w", step.FlowStepID, err)
			}
		}
	}

	for _, user := range data.ModelUsers() {
		if _, err = tx.Exec(ctx, `
			INSERT INTO users (user_id, name, mobile_no, role) VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id) DO UPDATE SET name = EXCLUDED.name, mobile_no = EXCLUDED.mobile_no, role = EXCLUDED.role
		`, user.UserID, user.Name, nullIfEmpty(user.MobileNo), user.Role); err != nil {
			return fmt.Errorf("seed user %s: %w", user.UserID, err)
		}
	}
	now := s.now().UTC()
	for _, session := range data.Sessions {
		var expiresAt interface{}
		if session.ExpiresIn > 0 {
			expiresAt = now.Add(session.ExpiresIn)
		}
		if _, err = tx.Exec(ctx, `
			INSERT INTO user_sessions (session_id, user_id, expires_at) VALUES ($1, $2, $3)
			ON CONFLICT (session_id) DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at
		`, session.ID, session.UserID, expiresAt); err != nil {
			return fmt.Errorf("seed session %s: %w", session.ID, err)
		}
	}

	return tx.Commit(ctx)
}

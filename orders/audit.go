package orders

import (
	"context"
	"database/sql"
	"fmt"

	"storefront-svc/models"
	"storefront-svc/status"
)

// appendHistory writes one immutable audit row inside the caller's
// transaction. from is nil only for the initial entry at order creation.
func appendHistory(ctx context.Context, tx *sql.Tx, orderID int, from *status.Status, to status.Status, actor string, actorUserID *int, note string) error {
	var fromVal interface{}
	if from != nil {
		fromVal = string(*from)
	}
	var actorVal interface{}
	if actorUserID != nil {
		actorVal = *actorUserID
	}
	_, err := tx.ExecContext(ctx,
		"INSERT INTO order_status_history (order_id, from_status, to_status, actor, actor_user_id, note) VALUES ($1, $2, $3, $4, $5, $6)",
		orderID, fromVal, to, actor, actorVal, note,
	)
	if err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}
	return nil
}

// History returns the audit trail for an order, newest first. Timeline
// consumers that want oldest-first reverse the slice themselves.
func (s *Service) History(ctx context.Context, orderID int) ([]models.StatusHistory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, from_status, to_status, actor, actor_user_id, note, created_at
		FROM order_status_history WHERE order_id = $1
		ORDER BY created_at DESC, id DESC`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load status history: %w", err)
	}
	defer rows.Close()

	var entries []models.StatusHistory
	for rows.Next() {
		var (
			e           models.StatusHistory
			fromStatus  sql.NullString
			actorUserID sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.OrderID, &fromStatus, &e.ToStatus, &e.Actor, &actorUserID, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status history: %w", err)
		}
		if fromStatus.Valid {
			fs := status.Status(fromStatus.String)
			e.FromStatus = &fs
		}
		if actorUserID.Valid {
			uid := int(actorUserID.Int64)
			e.ActorUserID = &uid
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status history: %w", err)
	}
	return entries, nil
}

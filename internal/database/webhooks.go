package database

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "wamux/internal/errors"
	"wamux/internal/models"
)

// WebhookStore keeps the subscription table in SQLite. It satisfies
// webhook.Store.
type WebhookStore struct {
	db *Database
}

func NewWebhookStore(db *Database) *WebhookStore {
	return &WebhookStore{db: db}
}

// Load reads the whole table, preserving per-session registration order.
func (s *WebhookStore) Load(ctx context.Context) (models.WebhookTable, error) {
	table := models.WebhookTable{}

	err := retryableDBOperation(ctx, func() error {
		rows, err := s.db.db.QueryContext(ctx,
			`SELECT session_id, url, events FROM webhook_subscriptions ORDER BY session_id, position`)
		if err != nil {
			return err
		}
		defer rows.Close()

		loaded := models.WebhookTable{}
		for rows.Next() {
			var sessionID, url, rawEvents string
			if err := rows.Scan(&sessionID, &url, &rawEvents); err != nil {
				return err
			}
			var events []string
			if err := json.Unmarshal([]byte(rawEvents), &events); err != nil {
				return fmt.Errorf("corrupt events for %s: %w", sessionID, err)
			}
			loaded[sessionID] = append(loaded[sessionID], models.WebhookSubscription{URL: url, Events: events})
		}
		if err := rows.Err(); err != nil {
			return err
		}
		table = loaded
		return nil
	})
	if err != nil {
		return nil, apperrors.NewDatabaseError("load webhooks", err)
	}
	return table, nil
}

// Save replaces the whole table in one transaction.
func (s *WebhookStore) Save(ctx context.Context, table models.WebhookTable) error {
	err := retryableDBOperation(ctx, func() error {
		tx, err := s.db.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM webhook_subscriptions`); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO webhook_subscriptions (session_id, url, events, position) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for sessionID, subs := range table {
			for i, sub := range subs {
				events, err := json.Marshal(sub.Events)
				if err != nil {
					return err
				}
				if _, err := stmt.ExecContext(ctx, sessionID, sub.URL, string(events), i); err != nil {
					return err
				}
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return apperrors.NewDatabaseError("save webhooks", err)
	}
	return nil
}

// Count returns the number of stored subscriptions.
func (s *WebhookStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM webhook_subscriptions`).Scan(&n)
	if err != nil {
		return 0, apperrors.NewDatabaseError("count webhooks", err)
	}
	return n, nil
}

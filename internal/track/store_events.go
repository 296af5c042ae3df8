package track

import (
	"context"
	"database/sql"
	"fmt"
)

// AppendWebhookEvent appends an inbound event to the audit log. Events are
// written before any processing so malformed payloads remain inspectable.
func (s *Store) AppendWebhookEvent(ctx context.Context, provider string, payload []byte, sourceIP, userAgent string) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO webhook_events (provider, payload, source_ip, user_agent, received_at)
         VALUES (?, ?, ?, ?, ?)`,
		provider,
		payload,
		nullableString(sourceIP),
		nullableString(userAgent),
		nowString(),
	)
	if err != nil {
		return 0, fmt.Errorf("append webhook event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// ListWebhookEvents returns the most recent events for a provider (or all
// providers when provider is empty), newest first.
func (s *Store) ListWebhookEvents(ctx context.Context, provider string, limit int) ([]*WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	if provider == "" {
		rows, err = s.db.QueryContext(
			ctx,
			`SELECT id, provider, payload, source_ip, user_agent, received_at
             FROM webhook_events ORDER BY id DESC LIMIT ?`,
			limit,
		)
	} else {
		rows, err = s.db.QueryContext(
			ctx,
			`SELECT id, provider, payload, source_ip, user_agent, received_at
             FROM webhook_events WHERE provider = ? ORDER BY id DESC LIMIT ?`,
			provider,
			limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	var events []*WebhookEvent
	for rows.Next() {
		var (
			event       WebhookEvent
			sourceIP    sql.NullString
			userAgent   sql.NullString
			receivedRaw sql.NullString
		)
		if err := rows.Scan(&event.ID, &event.Provider, &event.Payload, &sourceIP, &userAgent, &receivedRaw); err != nil {
			return nil, err
		}
		event.SourceIP = sourceIP.String
		event.UserAgent = userAgent.String
		if received, err := parseTimeString(receivedRaw.String); err == nil {
			event.ReceivedAt = received
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

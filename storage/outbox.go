package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"roomchat/chatsync"
	"roomchat/models"
)

// Enqueue stores a message whose append failed so it can be replayed later.
// Queuing the same message id twice keeps the first entry.
func (s *Store) Enqueue(ctx context.Context, collection string, message models.Message) error {
	if collection == "" {
		return errors.New("collection is required")
	}
	if message.ID == "" {
		return errors.New("message_id is required")
	}

	document, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode outbox message %q: %w", message.ID, err)
	}

	now := nowUnixMilli()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO outbox (
			message_id,
			collection,
			document,
			status,
			attempts,
			enqueued_at,
			updated_at
		) VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		message.ID,
		collection,
		string(document),
		OutboxStatusPending,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("enqueue outbox message %q: %w", message.ID, err)
	}

	if _, err := s.PruneOutbox(ctx); err != nil {
		return err
	}
	return nil
}

// Pending returns up to limit pending entries, oldest first. Entries past the
// retention limits are marked failed before the read.
func (s *Store) Pending(ctx context.Context, limit int) ([]chatsync.OutboxEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if _, err := s.PruneOutbox(ctx); err != nil {
		return nil, err
	}

	records, err := s.GetOutboxRecords(ctx, OutboxStatusPending, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]chatsync.OutboxEntry, 0, len(records))
	for _, record := range records {
		var message models.Message
		if err := json.Unmarshal([]byte(record.Document), &message); err != nil {
			return nil, fmt.Errorf("decode outbox message %q: %w", record.MessageID, err)
		}
		entries = append(entries, chatsync.OutboxEntry{
			Collection: record.Collection,
			Message:    message,
			Attempts:   record.Attempts,
			EnqueuedAt: time.UnixMilli(record.EnqueuedAt),
		})
	}
	return entries, nil
}

// MarkSent records that the feed accepted a queued message.
func (s *Store) MarkSent(ctx context.Context, messageID string) error {
	return s.updateOutboxStatus(ctx, messageID, OutboxStatusSent, nil)
}

// MarkAttempted bumps the attempt counter and keeps the entry pending.
func (s *Store) MarkAttempted(ctx context.Context, messageID string, reason string) error {
	if messageID == "" {
		return errors.New("message_id is required")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox
		SET attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE message_id = ? AND status = ?`,
		reason,
		nowUnixMilli(),
		messageID,
		OutboxStatusPending,
	)
	if err != nil {
		return fmt.Errorf("mark outbox attempt %q: %w", messageID, err)
	}
	return requireRowsAffected(res, "mark outbox attempt", messageID)
}

// GetOutboxRecords lists outbox rows with the given status in queue order.
func (s *Store) GetOutboxRecords(ctx context.Context, status string, limit int) ([]OutboxRecord, error) {
	if err := validateOutboxStatus(status); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT
			id,
			message_id,
			collection,
			document,
			status,
			attempts,
			last_error,
			enqueued_at,
			updated_at
		FROM outbox
		WHERE status = ?
		ORDER BY id ASC
		LIMIT ?`,
		status,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get %s outbox records: %w", status, err)
	}
	defer rows.Close()

	records := make([]OutboxRecord, 0)
	for rows.Next() {
		record, err := scanOutboxRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}

	return records, nil
}

// PruneOutbox marks pending entries failed when they are older than the
// maximum age or fall outside the newest maxPending entries.
func (s *Store) PruneOutbox(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.outboxMaxAge).UnixMilli()
	now := nowUnixMilli()

	expired, err := s.db.ExecContext(ctx,
		`UPDATE outbox
		SET status = ?, last_error = 'expired', updated_at = ?
		WHERE status = ? AND enqueued_at < ?`,
		OutboxStatusFailed,
		now,
		OutboxStatusPending,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("prune expired outbox entries: %w", err)
	}
	expiredCount, err := expired.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for expired outbox prune: %w", err)
	}

	overflow, err := s.db.ExecContext(ctx,
		`UPDATE outbox
		SET status = ?, last_error = 'queue full', updated_at = ?
		WHERE status = ? AND id NOT IN (
			SELECT id FROM outbox WHERE status = ? ORDER BY id DESC LIMIT ?
		)`,
		OutboxStatusFailed,
		now,
		OutboxStatusPending,
		OutboxStatusPending,
		s.outboxMaxPending,
	)
	if err != nil {
		return 0, fmt.Errorf("prune overflowing outbox entries: %w", err)
	}
	overflowCount, err := overflow.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for overflow outbox prune: %w", err)
	}

	return expiredCount + overflowCount, nil
}

func (s *Store) updateOutboxStatus(ctx context.Context, messageID, status string, reason *string) error {
	if messageID == "" {
		return errors.New("message_id is required")
	}
	if err := validateOutboxStatus(status); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox
		SET status = ?, last_error = COALESCE(?, last_error), updated_at = ?
		WHERE message_id = ?`,
		status,
		nullString(reason),
		nowUnixMilli(),
		messageID,
	)
	if err != nil {
		return fmt.Errorf("update outbox status for %q: %w", messageID, err)
	}
	return requireRowsAffected(res, "update outbox status", messageID)
}

func requireRowsAffected(res sql.Result, op, messageID string) error {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for %s %q: %w", op, messageID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOutboxRecord(row scanner) (*OutboxRecord, error) {
	var (
		record    OutboxRecord
		lastError sql.NullString
	)

	if err := row.Scan(
		&record.ID,
		&record.MessageID,
		&record.Collection,
		&record.Document,
		&record.Status,
		&record.Attempts,
		&lastError,
		&record.EnqueuedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}

	record.LastError = stringPtr(lastError)
	return &record, nil
}

var _ chatsync.Outbox = (*Store)(nil)

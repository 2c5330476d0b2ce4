package storage

import (
	"context"
	"time"
)

// SetWarningCount mirrors a sender's in-memory warning counter so the
// count survives a process restart.
func (s *Store) SetWarningCount(ctx context.Context, senderJID string, count int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spam_warnings (sender_jid, count, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(sender_jid) DO UPDATE SET
			count = excluded.count,
			updated_at = excluded.updated_at
	`, senderJID, count, time.Now().Unix())
	return err
}

func (s *Store) LoadWarningCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sender_jid, count FROM spam_warnings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var sender string
		var count int
		if err := rows.Scan(&sender, &count); err != nil {
			return nil, err
		}
		counts[sender] = count
	}
	return counts, rows.Err()
}

func (s *Store) AddBlockedSender(ctx context.Context, senderJID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO blocked_senders (sender_jid, reason, created_at)
		VALUES (?, ?, ?)
	`, senderJID, reason, time.Now().Unix())
	return err
}

func (s *Store) IsBlockedSender(ctx context.Context, senderJID string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM blocked_senders WHERE sender_jid = ?`, senderJID)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) ListBlockedSenders(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sender_jid FROM blocked_senders ORDER BY sender_jid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var senders []string
	for rows.Next() {
		var sender string
		if err := rows.Scan(&sender); err != nil {
			return nil, err
		}
		senders = append(senders, sender)
	}
	return senders, rows.Err()
}

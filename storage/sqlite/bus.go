package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cortexlabs/cortex"
)

func priorityRank(p cortex.Priority) int {
	switch p {
	case cortex.PriorityUrgent:
		return 0
	case cortex.PriorityNormal:
		return 1
	case cortex.PriorityBackground:
		return 2
	default:
		return 3
	}
}

// Enqueue implements cortex.Bus.
func (s *Store) Enqueue(ctx context.Context, e cortex.Envelope) (string, error) {
	envJSON, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cortex_bus (id, envelope, state, priority, enqueued_at, attempts)
		VALUES (?, ?, ?, ?, ?, 0)`,
		e.ID, string(envJSON), cortex.BusPending, priorityRank(e.Priority), cortex.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", e.ID, err)
	}
	return e.ID, nil
}

func scanBusEntry(row interface {
	Scan(dest ...any) error
}) (cortex.BusEntry, error) {
	var (
		id, envJSON, state, enqueuedAt string
		processedAt, errText           sql.NullString
		priority, attempts             int
		checkpointID                   sql.NullInt64
	)
	if err := row.Scan(&id, &envJSON, &state, &priority, &enqueuedAt, &processedAt, &attempts, &errText, &checkpointID); err != nil {
		return cortex.BusEntry{}, err
	}
	var env cortex.Envelope
	if err := json.Unmarshal([]byte(envJSON), &env); err != nil {
		return cortex.BusEntry{}, fmt.Errorf("unmarshal envelope %s: %w", id, err)
	}
	enq, _ := time.Parse(time.RFC3339Nano, enqueuedAt)
	entry := cortex.BusEntry{
		Envelope:   env,
		State:      cortex.BusState(state),
		EnqueuedAt: enq,
		Attempts:   attempts,
		Error:      errText.String,
	}
	if processedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, processedAt.String)
		entry.ProcessedAt = &t
	}
	if checkpointID.Valid {
		entry.CheckpointID = &checkpointID.Int64
	}
	return entry, nil
}

// DequeueNext implements cortex.Bus.
func (s *Store) DequeueNext(ctx context.Context) (cortex.BusEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, envelope, state, priority, enqueued_at, processed_at, attempts, error, checkpoint_id
		FROM cortex_bus
		WHERE state = ?
		ORDER BY priority ASC, enqueued_at ASC
		LIMIT 1`, cortex.BusPending)
	entry, err := scanBusEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return cortex.BusEntry{}, &cortex.ErrNotFound{Entity: "bus entry", ID: "<pending>"}
	}
	if err != nil {
		return cortex.BusEntry{}, err
	}
	return entry, nil
}

// PeekPending implements cortex.Bus.
func (s *Store) PeekPending(ctx context.Context) ([]cortex.BusEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, envelope, state, priority, enqueued_at, processed_at, attempts, error, checkpoint_id
		FROM cortex_bus
		WHERE state = ?
		ORDER BY priority ASC, enqueued_at ASC`, cortex.BusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []cortex.BusEntry
	for rows.Next() {
		entry, err := scanBusEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MarkProcessing implements cortex.Bus.
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cortex_bus SET state = ?, attempts = attempts + 1
		WHERE id = ? AND state = ?`,
		cortex.BusProcessing, id, cortex.BusPending)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	s.logger.Debug("bus: mark processing", "id", id, "affected", n)
	return nil
}

// MarkCompleted implements cortex.Bus.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cortex_bus SET state = ?, processed_at = ?
		WHERE id = ? AND state = ?`,
		cortex.BusCompleted, cortex.Now().Format(time.RFC3339Nano), id, cortex.BusProcessing)
	return err
}

// MarkFailed implements cortex.Bus.
func (s *Store) MarkFailed(ctx context.Context, id string, errText string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cortex_bus SET state = ?, processed_at = ?, error = ?
		WHERE id = ? AND state = ?`,
		cortex.BusFailed, cortex.Now().Format(time.RFC3339Nano), errText, id, cortex.BusProcessing)
	return err
}

// CountPending implements cortex.Bus.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cortex_bus WHERE state = ?`, cortex.BusPending).Scan(&n)
	return n, err
}

// PurgeCompleted implements cortex.Bus.
func (s *Store) PurgeCompleted(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cortex_bus WHERE state = ? AND processed_at IS NOT NULL AND processed_at < ?`,
		cortex.BusCompleted, before.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Checkpoint implements cortex.Bus.
func (s *Store) Checkpoint(ctx context.Context, data cortex.Checkpoint) (int64, error) {
	channelStates, err := json.Marshal(data.ChannelStates)
	if err != nil {
		return 0, fmt.Errorf("marshal channel states: %w", err)
	}
	pendingOps, err := json.Marshal(data.PendingOps)
	if err != nil {
		return 0, fmt.Errorf("marshal pending ops: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cortex_checkpoints (created_at, session_snapshot, channel_states, pending_ops)
		VALUES (?, ?, ?, ?)`,
		cortex.Now().Format(time.RFC3339Nano), data.SessionSnapshot, string(channelStates), string(pendingOps))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LoadLatestCheckpoint implements cortex.Bus.
func (s *Store) LoadLatestCheckpoint(ctx context.Context) (cortex.Checkpoint, error) {
	var (
		id                                  int64
		createdAt, snapshot, states, ops    string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, session_snapshot, channel_states, pending_ops
		FROM cortex_checkpoints ORDER BY id DESC LIMIT 1`).
		Scan(&id, &createdAt, &snapshot, &states, &ops)
	if errors.Is(err, sql.ErrNoRows) {
		return cortex.Checkpoint{}, &cortex.ErrNotFound{Entity: "checkpoint", ID: "<latest>"}
	}
	if err != nil {
		return cortex.Checkpoint{}, err
	}
	cp := cortex.Checkpoint{ID: id, SessionSnapshot: snapshot}
	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if err := json.Unmarshal([]byte(states), &cp.ChannelStates); err != nil {
		return cortex.Checkpoint{}, fmt.Errorf("unmarshal channel states: %w", err)
	}
	if err := json.Unmarshal([]byte(ops), &cp.PendingOps); err != nil {
		return cortex.Checkpoint{}, fmt.Errorf("unmarshal pending ops: %w", err)
	}
	return cp, nil
}

// ResetStalledMessages implements cortex.Bus.
func (s *Store) ResetStalledMessages(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE cortex_bus SET state = ? WHERE state = ?`,
		cortex.BusPending, cortex.BusProcessing)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteOrphans implements cortex.Bus.
func (s *Store) DeleteOrphans(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cortex_bus WHERE state NOT IN (?, ?, ?, ?)`,
		cortex.BusPending, cortex.BusProcessing, cortex.BusCompleted, cortex.BusFailed)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Integrity implements cortex.Bus, running SQLite's built-in check.
func (s *Store) Integrity(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

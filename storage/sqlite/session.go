package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cortexlabs/cortex"
)

// AppendMessage implements cortex.SessionStore.
func (s *Store) AppendMessage(ctx context.Context, msg cortex.SessionMessage) (int64, error) {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = cortex.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cortex_session (envelope_id, role, channel, sender_id, content, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.EnvelopeID, msg.Role, msg.Channel, msg.SenderID, msg.Content,
		ts.Format(time.RFC3339Nano), string(msg.Metadata))
	if err != nil {
		return 0, fmt.Errorf("append session message: %w", err)
	}
	return res.LastInsertId()
}

// History implements cortex.SessionStore.
func (s *Store) History(ctx context.Context, channel string, before *time.Time, limit int) ([]cortex.SessionMessage, error) {
	query := `SELECT id, envelope_id, role, channel, sender_id, content, timestamp, metadata FROM cortex_session WHERE 1=1`
	var args []any
	if channel != "" {
		query += ` AND channel = ?`
		args = append(args, channel)
	}
	if before != nil {
		query += ` AND timestamp < ?`
		args = append(args, before.Format(time.RFC3339Nano))
	}
	query += ` ORDER BY timestamp ASC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cortex.SessionMessage
	for rows.Next() {
		var (
			m                   cortex.SessionMessage
			envelopeID          sql.NullString
			role, ch, sender    string
			content, ts, meta   sql.NullString
		)
		if err := rows.Scan(&m.ID, &envelopeID, &role, &ch, &sender, &content, &ts, &meta); err != nil {
			return nil, err
		}
		m.EnvelopeID = envelopeID.String
		m.Role = cortex.Role(role)
		m.Channel = ch
		m.SenderID = sender
		m.Content = content.String
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts.String)
		if meta.Valid {
			m.Metadata = []byte(meta.String)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertChannelState implements cortex.SessionStore.
func (s *Store) UpsertChannelState(ctx context.Context, cs cortex.ChannelState) error {
	layer := cs.Layer
	if layer == "" {
		layer = cortex.LayerForeground
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cortex_channel_states (channel, last_message_at, unread_count, summary, layer)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(channel) DO UPDATE SET
			last_message_at = excluded.last_message_at,
			unread_count = excluded.unread_count,
			summary = excluded.summary`,
		cs.Channel, cs.LastMessageAt.Format(time.RFC3339Nano), cs.UnreadCount, cs.Summary, layer)
	return err
}

func scanChannelState(row interface{ Scan(dest ...any) error }) (cortex.ChannelState, error) {
	var (
		channel, layer        string
		lastMessageAt, summary sql.NullString
		unread                int
	)
	if err := row.Scan(&channel, &lastMessageAt, &unread, &summary, &layer); err != nil {
		return cortex.ChannelState{}, err
	}
	cs := cortex.ChannelState{
		Channel:     channel,
		UnreadCount: unread,
		Summary:     summary.String,
		Layer:       cortex.AttentionLayer(layer),
	}
	if lastMessageAt.Valid {
		cs.LastMessageAt, _ = time.Parse(time.RFC3339Nano, lastMessageAt.String)
	}
	return cs, nil
}

// ChannelStates implements cortex.SessionStore.
func (s *Store) ChannelStates(ctx context.Context) ([]cortex.ChannelState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel, last_message_at, unread_count, summary, layer FROM cortex_channel_states`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []cortex.ChannelState
	for rows.Next() {
		cs, err := scanChannelState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// GetChannelState implements cortex.SessionStore.
func (s *Store) GetChannelState(ctx context.Context, channel string) (cortex.ChannelState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT channel, last_message_at, unread_count, summary, layer FROM cortex_channel_states WHERE channel = ?`, channel)
	cs, err := scanChannelState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return cortex.ChannelState{}, &cortex.ErrNotFound{Entity: "channel state", ID: channel}
	}
	return cs, err
}

// SetChannelLayer implements cortex.SessionStore.
func (s *Store) SetChannelLayer(ctx context.Context, channel string, layer cortex.AttentionLayer) error {
	_, err := s.db.ExecContext(ctx, `UPDATE cortex_channel_states SET layer = ? WHERE channel = ?`, layer, channel)
	return err
}

// AddPendingOp implements cortex.SessionStore.
func (s *Store) AddPendingOp(ctx context.Context, op cortex.PendingOp) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cortex_pending_ops (id, type, description, dispatched_at, expected_channel, status, reply_channel, result_priority)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Type, op.Description, op.DispatchedAt.Format(time.RFC3339Nano),
		op.ExpectedChannel, cortex.PendingOpPending, op.ReplyChannel, op.ResultPriority)
	return err
}

// CompletePendingOp implements cortex.SessionStore.
func (s *Store) CompletePendingOp(ctx context.Context, id, resultText string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cortex_pending_ops SET status = ?, completed_at = ?, result = ? WHERE id = ?`,
		cortex.PendingOpCompleted, cortex.Now().Format(time.RFC3339Nano), resultText, id)
	return err
}

// FailPendingOp implements cortex.SessionStore. Only applies if the op is
// still pending.
func (s *Store) FailPendingOp(ctx context.Context, id, errorText string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cortex_pending_ops SET status = ?, completed_at = ?, result = ?
		WHERE id = ? AND status = ?`,
		cortex.PendingOpFailed, cortex.Now().Format(time.RFC3339Nano), errorText, id, cortex.PendingOpPending)
	return err
}

func scanPendingOp(row interface{ Scan(dest ...any) error }) (cortex.PendingOp, error) {
	var (
		id, opType, description, dispatchedAt, status string
		expectedChannel, completedAt, result, replyChannel, resultPriority sql.NullString
	)
	if err := row.Scan(&id, &opType, &description, &dispatchedAt, &expectedChannel, &status, &completedAt, &result, &replyChannel, &resultPriority); err != nil {
		return cortex.PendingOp{}, err
	}
	op := cortex.PendingOp{
		ID:              id,
		Type:            cortex.PendingOpType(opType),
		Description:     description,
		ExpectedChannel: expectedChannel.String,
		Status:          cortex.PendingOpStatus(status),
		Result:          result.String,
		ReplyChannel:    replyChannel.String,
		ResultPriority:  cortex.Priority(resultPriority.String),
	}
	op.DispatchedAt, _ = time.Parse(time.RFC3339Nano, dispatchedAt)
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, completedAt.String)
		op.CompletedAt = &t
	}
	return op, nil
}

const pendingOpColumns = `id, type, description, dispatched_at, expected_channel, status, completed_at, result, reply_channel, result_priority`

// GetPendingOp implements cortex.SessionStore.
func (s *Store) GetPendingOp(ctx context.Context, id string) (cortex.PendingOp, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pendingOpColumns+` FROM cortex_pending_ops WHERE id = ?`, id)
	op, err := scanPendingOp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return cortex.PendingOp{}, &cortex.ErrNotFound{Entity: "pending op", ID: id}
	}
	return op, err
}

// GetPendingOps implements cortex.SessionStore.
func (s *Store) GetPendingOps(ctx context.Context) ([]cortex.PendingOp, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pendingOpColumns+` FROM cortex_pending_ops ORDER BY dispatched_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []cortex.PendingOp
	for rows.Next() {
		op, err := scanPendingOp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// CopyAndDeleteTerminalOps implements cortex.SessionStore. Copies each
// completed/failed row to a session assistant row tagged [TASK_RESULT] or
// [TASK_FAILED] with sender id cortex.OpsSenderID on the op's reply
// channel, then deletes the pending-ops row — a per-op transaction so copy
// and delete commit atomically (SPEC_FULL.md §5).
func (s *Store) CopyAndDeleteTerminalOps(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pendingOpColumns+` FROM cortex_pending_ops WHERE status IN (?, ?)`,
		cortex.PendingOpCompleted, cortex.PendingOpFailed)
	if err != nil {
		return 0, err
	}
	var ops []cortex.PendingOp
	for rows.Next() {
		op, err := scanPendingOp(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		ops = append(ops, op)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	moved := 0
	for _, op := range ops {
		if err := s.copyAndDeleteOne(ctx, op); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func (s *Store) copyAndDeleteOne(ctx context.Context, op cortex.PendingOp) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tag := "[TASK_RESULT]"
	content := op.Result
	if op.Status == cortex.PendingOpFailed {
		tag = "[TASK_FAILED]"
	}
	channel := op.ReplyChannel
	if channel == "" {
		channel = op.ExpectedChannel
	}
	body := fmt.Sprintf("%s [TASK_ID]=%s, Message='%s'", tag, op.ID, content)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cortex_session (envelope_id, role, channel, sender_id, content, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"", cortex.RoleAssistant, channel, cortex.OpsSenderID, body, cortex.Now().Format(time.RFC3339Nano), "")
	if err != nil {
		return fmt.Errorf("copy terminal op %s: %w", op.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cortex_pending_ops WHERE id = ?`, op.ID); err != nil {
		return fmt.Errorf("delete terminal op %s: %w", op.ID, err)
	}

	return tx.Commit()
}

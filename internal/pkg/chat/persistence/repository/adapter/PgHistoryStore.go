package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	chat "jobchat/internal/pkg/chat/domain"
	"jobchat/internal/pkg/chat/persistence/repository/port"
)

// PgHistoryStore implements port.HistoryStore on PostgreSQL via pgx.
type PgHistoryStore struct {
	pool *pgxpool.Pool
}

func NewPgHistoryStore(pool *pgxpool.Pool) *PgHistoryStore {
	return &PgHistoryStore{pool: pool}
}

// Ensure interface is satisfied
var _ port.HistoryStore = (*PgHistoryStore)(nil)

func (r *PgHistoryStore) EnsureRoom(ctx context.Context, room *chat.Room, memberIDs []int32) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("chatstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_room (id, post_id, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (id) DO NOTHING`,
		room.ID, room.PostID)
	if err != nil {
		return fmt.Errorf("chatstore: ensure room: %w", err)
	}

	for _, member := range memberIDs {
		_, err = tx.Exec(ctx, `
			INSERT INTO chat_participant (room_id, member_id, joined_at)
			VALUES ($1, $2, now())
			ON CONFLICT (room_id, member_id) DO NOTHING`,
			room.ID, member)
		if err != nil {
			return fmt.Errorf("chatstore: ensure participant: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("chatstore: commit: %w", err)
	}
	return nil
}

func (r *PgHistoryStore) IsParticipant(ctx context.Context, roomID string, userID int32) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM chat_participant WHERE room_id = $1 AND member_id = $2
		)`, roomID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("chatstore: membership check: %w", err)
	}
	return exists, nil
}

func (r *PgHistoryStore) Participants(ctx context.Context, roomID string) ([]int32, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT member_id FROM chat_participant WHERE room_id = $1 ORDER BY member_id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("chatstore: participants: %w", err)
	}
	defer rows.Close()

	var members []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chatstore: participants scan: %w", err)
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// senderTally accumulates the inserted rows of one sender for the unread bump.
type senderTally struct {
	count     int32
	lastRefID string
	lastAt    time.Time
}

func (r *PgHistoryStore) InsertMessages(ctx context.Context, msgs []*chat.Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("chatstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var sb strings.Builder
	sb.WriteString(`INSERT INTO chat_message (msg_ref_id, room_id, sender_id, content, status, created_at, updated_at) VALUES `)
	args := make([]any, 0, len(msgs)*6)
	for i, m := range msgs {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+6)
		args = append(args, m.MsgRefID, m.RoomID, m.SenderID, m.Content, chat.MessageStatusDelivered, m.CreatedAt.UTC())
	}
	// Retried sends reuse the same msg_ref_id; the conflict clause makes the
	// at-least-once delivery converge to exactly-once storage.
	sb.WriteString(` ON CONFLICT (room_id, sender_id, msg_ref_id) DO NOTHING
		RETURNING msg_ref_id, sender_id, created_at`)

	rows, err := tx.Query(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("chatstore: insert messages: %w", err)
	}

	roomID := msgs[0].RoomID
	inserted := 0
	tallies := make(map[int32]*senderTally)
	for rows.Next() {
		var refID string
		var senderID int32
		var createdAt time.Time
		if err := rows.Scan(&refID, &senderID, &createdAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("chatstore: insert scan: %w", err)
		}
		inserted++
		t := tallies[senderID]
		if t == nil {
			t = &senderTally{}
			tallies[senderID] = t
		}
		t.count++
		if !createdAt.Before(t.lastAt) {
			t.lastAt = createdAt
			t.lastRefID = refID
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("chatstore: insert messages: %w", err)
	}

	// Bump unread counters for everyone in the room except the sender.
	for senderID, t := range tallies {
		_, err = tx.Exec(ctx, `
			INSERT INTO chat_unread (user_id, room_id, unread_count, last_message_id, last_message_at, updated_at)
			SELECT p.member_id, $1, $2, $3, $4, now()
			FROM chat_participant p
			WHERE p.room_id = $1 AND p.member_id <> $5
			ON CONFLICT (user_id, room_id) DO UPDATE SET
				unread_count    = chat_unread.unread_count + EXCLUDED.unread_count,
				last_message_id = EXCLUDED.last_message_id,
				last_message_at = EXCLUDED.last_message_at,
				updated_at      = now()`,
			roomID, t.count, t.lastRefID, t.lastAt.UTC(), senderID)
		if err != nil {
			return 0, fmt.Errorf("chatstore: bump unread: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("chatstore: commit: %w", err)
	}
	return inserted, nil
}

func (r *PgHistoryStore) ListMessages(ctx context.Context, q port.HistoryQuery) ([]*chat.Message, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	var sql string
	args := []any{q.RoomID}
	switch {
	case q.Cursor == nil:
		sql = `
			SELECT id, msg_ref_id, room_id, sender_id, content, status, created_at, updated_at
			FROM chat_message
			WHERE room_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`
		args = append(args, limit)
	case q.PageBack:
		sql = `
			SELECT id, msg_ref_id, room_id, sender_id, content, status, created_at, updated_at
			FROM chat_message
			WHERE room_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`
		args = append(args, q.Cursor.CreatedAt.UTC(), q.Cursor.ID, limit)
	default:
		sql = `
			SELECT id, msg_ref_id, room_id, sender_id, content, status, created_at, updated_at
			FROM chat_message
			WHERE room_id = $1 AND (created_at, id) > ($2, $3)
			ORDER BY created_at ASC, id ASC
			LIMIT $4`
		args = append(args, q.Cursor.CreatedAt.UTC(), q.Cursor.ID, limit)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("chatstore: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*chat.Message
	for rows.Next() {
		m := &chat.Message{}
		if err := rows.Scan(&m.ID, &m.MsgRefID, &m.RoomID, &m.SenderID, &m.Content, &m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("chatstore: list scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatstore: list messages: %w", err)
	}

	// Forward pages are fetched ascending; flip so every page reads newest first.
	if q.Cursor != nil && !q.PageBack {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	return msgs, nil
}

func (r *PgHistoryStore) UpsertLastRead(ctx context.Context, lr *chat.LastRead) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("chatstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO last_reads (user_id, room_id, last_read_msg_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, room_id) DO UPDATE SET
			last_read_msg_id = EXCLUDED.last_read_msg_id,
			updated_at       = now()`,
		lr.UserID, lr.RoomID, lr.LastReadMsgID)
	if err != nil {
		return fmt.Errorf("chatstore: upsert last read: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_unread (user_id, room_id, unread_count, updated_at)
		VALUES ($1, $2, 0, now())
		ON CONFLICT (user_id, room_id) DO UPDATE SET
			unread_count = 0,
			updated_at   = now()`,
		lr.UserID, lr.RoomID)
	if err != nil {
		return fmt.Errorf("chatstore: reset unread: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("chatstore: commit: %w", err)
	}
	return nil
}

func (r *PgHistoryStore) GetLastRead(ctx context.Context, userID int32, roomID string) (*chat.LastRead, error) {
	lr := &chat.LastRead{}
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, room_id, last_read_msg_id, updated_at
		FROM last_reads
		WHERE user_id = $1 AND room_id = $2`,
		userID, roomID).Scan(&lr.UserID, &lr.RoomID, &lr.LastReadMsgID, &lr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chatstore: get last read: %w", err)
	}
	return lr, nil
}

func (r *PgHistoryStore) UnreadSnapshot(ctx context.Context, userID int32) ([]*chat.UnreadRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.room_id, COALESCE(u.unread_count, 0), u.last_message_id, u.last_message_at
		FROM chat_participant p
		LEFT JOIN chat_unread u ON u.user_id = $1 AND u.room_id = p.room_id
		WHERE p.member_id = $1
		ORDER BY u.last_message_at DESC NULLS LAST, p.room_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("chatstore: unread snapshot: %w", err)
	}
	defer rows.Close()

	var out []*chat.UnreadRow
	for rows.Next() {
		u := &chat.UnreadRow{}
		if err := rows.Scan(&u.RoomID, &u.UnreadCount, &u.LastMessageID, &u.LastMessageAt); err != nil {
			return nil, fmt.Errorf("chatstore: unread scan: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *PgHistoryStore) InsertPendingAcks(ctx context.Context, acks []*chat.PendingAck) error {
	if len(acks) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO pending_sender_ack (room_id, sender_id, client_id, created_at) VALUES `)
	args := make([]any, 0, len(acks)*4)
	for i, a := range acks {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 4
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4)
		createdAt := a.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		args = append(args, a.RoomID, a.SenderID, a.ClientID, createdAt.UTC())
	}
	sb.WriteString(` ON CONFLICT (room_id, sender_id, client_id) DO NOTHING`)

	if _, err := r.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("chatstore: insert pending acks: %w", err)
	}
	return nil
}

func (r *PgHistoryStore) DeletePendingAcks(ctx context.Context, roomID string, senderID int32, clientIDs []string) (int64, error) {
	if len(clientIDs) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM pending_sender_ack
		WHERE room_id = $1 AND sender_id = $2 AND client_id = ANY($3)`,
		roomID, senderID, clientIDs)
	if err != nil {
		return 0, fmt.Errorf("chatstore: delete pending acks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgHistoryStore) ListPendingAcks(ctx context.Context, roomID string, senderID int32, olderThan time.Time) ([]*chat.PendingAck, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, room_id, sender_id, client_id, created_at
		FROM pending_sender_ack
		WHERE sender_id = $1 AND created_at < $2 AND ($3 = '' OR room_id = $3)
		ORDER BY created_at ASC
		LIMIT 100`,
		senderID, olderThan.UTC(), roomID)
	if err != nil {
		return nil, fmt.Errorf("chatstore: list pending acks: %w", err)
	}
	defer rows.Close()

	var out []*chat.PendingAck
	for rows.Next() {
		a := &chat.PendingAck{}
		if err := rows.Scan(&a.ID, &a.RoomID, &a.SenderID, &a.ClientID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("chatstore: pending scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

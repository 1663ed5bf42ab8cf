package repositories

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-sync/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrNotSender       = errors.New("only the sender may modify a message")
	ErrBadCursor       = errors.New("malformed pagination cursor")
)

// HistoryPage is one backward page of a room's timeline, oldest first.
type HistoryPage struct {
	Messages   []models.Message `json:"messages"`
	NextCursor string           `json:"next_cursor,omitempty"`
	HasMore    bool             `json:"has_more"`
}

// MessageRepository is the message-history collaborator: paginated reads plus
// writes returning the canonical persisted record.
type MessageRepository interface {
	CreateMessage(ctx context.Context, roomID, senderID string, draft models.Draft, correlationID string) (models.Message, error)
	GetPage(ctx context.Context, roomID, cursor string, limit int) (HistoryPage, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	EditMessage(ctx context.Context, roomID, messageID, senderID, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, roomID, messageID, senderID string) error
	HasReplies(ctx context.Context, messageID string) (bool, error)
	AddReaction(ctx context.Context, messageID, userID, emoji string) error
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) error
	SearchCandidates(ctx context.Context, roomIDs []string, terms []string, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, room_id, sender_id, content, type, created_at, edited_at, reply_to_id, correlation_id, deleted`

// CreateMessage persists a message and its attachment descriptors, assigning
// the server id and created-at. Resends carrying an already-stored
// correlation id return the original row instead of inserting a duplicate.
func (r *MessageRepo) CreateMessage(ctx context.Context, roomID, senderID string, draft models.Draft, correlationID string) (models.Message, error) {
	if correlationID != "" {
		var existing models.Message
		err := r.db.GetContext(ctx, &existing,
			`SELECT `+messageColumns+` FROM messages WHERE room_id=$1 AND correlation_id=$2`, roomID, correlationID)
		if err == nil {
			return r.hydrate(ctx, existing)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return models.Message{}, err
		}
	}

	msgType := draft.Type
	if msgType == "" {
		msgType = models.MessageText
	}

	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (id, room_id, sender_id, content, type, reply_to_id, correlation_id)
         VALUES ($1, $2, $3, $4, $5, $6, $7)
         RETURNING `+messageColumns,
		uuid.NewString(), roomID, senderID, draft.Content, msgType, draft.ReplyToID, correlationID).
		StructScan(&msg)
	if err != nil {
		return models.Message{}, err
	}

	for _, att := range draft.Attachments {
		if att.ID == "" {
			att.ID = uuid.NewString()
		}
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO attachments (id, message_id, storage_path, size_bytes, width, height) VALUES ($1, $2, $3, $4, $5, $6)`,
			att.ID, msg.ID, att.StoragePath, att.SizeBytes, att.Width, att.Height); err != nil {
			return models.Message{}, err
		}
	}
	msg.MentionIDs = draft.MentionIDs
	return r.hydrate(ctx, msg)
}

// GetPage loads one backward page: the newest messages when cursor is empty,
// otherwise messages strictly older than the cursor position.
func (r *MessageRepo) GetPage(ctx context.Context, roomID, cursor string, limit int) (HistoryPage, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []models.Message
	var err error
	if cursor == "" {
		err = r.db.SelectContext(ctx, &rows,
			`SELECT `+messageColumns+` FROM messages WHERE room_id=$1
             ORDER BY created_at DESC, id DESC LIMIT $2`, roomID, limit+1)
	} else {
		createdAt, id, decodeErr := DecodeCursor(cursor)
		if decodeErr != nil {
			return HistoryPage{}, decodeErr
		}
		err = r.db.SelectContext(ctx, &rows,
			`SELECT `+messageColumns+` FROM messages WHERE room_id=$1
             AND (created_at, id) < ($2, $3)
             ORDER BY created_at DESC, id DESC LIMIT $4`, roomID, createdAt, id, limit+1)
	}
	if err != nil {
		return HistoryPage{}, err
	}

	page := HistoryPage{HasMore: len(rows) > limit}
	if page.HasMore {
		rows = rows[:limit]
	}
	if len(rows) > 0 {
		oldest := rows[len(rows)-1]
		page.NextCursor = EncodeCursor(oldest.CreatedAt, oldest.ID)
	}

	// Reverse into ascending (created_at, id) order.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	for i := range rows {
		rows[i], err = r.hydrate(ctx, rows[i])
		if err != nil {
			return HistoryPage{}, err
		}
	}
	page.Messages = rows
	return page, nil
}

// GetMessage retrieves a single message with reactions and attachments.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return r.hydrate(ctx, msg)
}

// EditMessage updates content and stamps edited-at. Sender only.
func (r *MessageRepo) EditMessage(ctx context.Context, roomID, messageID, senderID, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`UPDATE messages SET content=$1, edited_at=NOW()
         WHERE id=$2 AND room_id=$3 AND sender_id=$4 AND deleted=FALSE
         RETURNING `+messageColumns,
		content, messageID, roomID, senderID).
		StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, editFailureReason(ctx, r.db, messageID, roomID)
	}
	if err != nil {
		return models.Message{}, err
	}
	return r.hydrate(ctx, msg)
}

// DeleteMessage marks the message deleted and drops its reactions. The row
// stays as a tombstone so reply threads keep their anchor.
func (r *MessageRepo) DeleteMessage(ctx context.Context, roomID, messageID, senderID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET deleted=TRUE, content='' WHERE id=$1 AND room_id=$2 AND sender_id=$3`,
		messageID, roomID, senderID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return editFailureReason(ctx, r.db, messageID, roomID)
	}
	_, err = r.db.ExecContext(ctx, `DELETE FROM message_reactions WHERE message_id=$1`, messageID)
	return err
}

// HasReplies reports whether any message replies to the given one.
func (r *MessageRepo) HasReplies(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM messages WHERE reply_to_id=$1)`, messageID)
	return exists, err
}

// AddReaction records one reaction; duplicates are a no-op.
func (r *MessageRepo) AddReaction(ctx context.Context, messageID, userID, emoji string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO message_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
         ON CONFLICT (message_id, user_id, emoji) DO NOTHING`, messageID, userID, emoji)
	return err
}

// RemoveReaction removes one reaction if present.
func (r *MessageRepo) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM message_reactions WHERE message_id=$1 AND user_id=$2 AND emoji=$3`,
		messageID, userID, emoji)
	return err
}

// SearchCandidates returns non-deleted messages in the given rooms matching
// any term, newest first. Relevance scoring happens in the search engine.
func (r *MessageRepo) SearchCandidates(ctx context.Context, roomIDs []string, terms []string, limit int) ([]models.Message, error) {
	if len(roomIDs) == 0 || len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 200
	}

	args := []interface{}{}
	roomPlaceholders := make([]string, len(roomIDs))
	for i, id := range roomIDs {
		args = append(args, id)
		roomPlaceholders[i] = fmt.Sprintf("$%d", len(args))
	}
	termClauses := make([]string, len(terms))
	for i, term := range terms {
		args = append(args, "%"+term+"%")
		termClauses[i] = fmt.Sprintf("content ILIKE $%d", len(args))
	}
	args = append(args, limit)

	query := fmt.Sprintf(
		`SELECT %s FROM messages
         WHERE room_id IN (%s) AND deleted=FALSE AND (%s)
         ORDER BY created_at DESC, id DESC LIMIT $%d`,
		messageColumns,
		strings.Join(roomPlaceholders, ","),
		strings.Join(termClauses, " OR "),
		len(args),
	)

	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, args...)
	return msgs, err
}

func (r *MessageRepo) hydrate(ctx context.Context, msg models.Message) (models.Message, error) {
	var atts []models.Attachment
	if err := r.db.SelectContext(ctx, &atts,
		`SELECT id, message_id, storage_path, size_bytes, width, height FROM attachments WHERE message_id=$1`,
		msg.ID); err != nil {
		return models.Message{}, err
	}
	msg.Attachments = atts

	rows, err := r.db.QueryxContext(ctx,
		`SELECT emoji, COUNT(*) FROM message_reactions WHERE message_id=$1 GROUP BY emoji`, msg.ID)
	if err != nil {
		return models.Message{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var emoji string
		var count int
		if err := rows.Scan(&emoji, &count); err != nil {
			return models.Message{}, err
		}
		if msg.Reactions == nil {
			msg.Reactions = map[string]int{}
		}
		msg.Reactions[emoji] = count
	}
	return msg, rows.Err()
}

func editFailureReason(ctx context.Context, database *sqlx.DB, messageID, roomID string) error {
	var exists bool
	if err := database.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM messages WHERE id=$1 AND room_id=$2)`, messageID, roomID); err == nil && exists {
		return ErrNotSender
	}
	return ErrMessageNotFound
}

// EncodeCursor packs a message position into an opaque page cursor.
func EncodeCursor(createdAt time.Time, id string) string {
	raw := strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor unpacks a cursor produced by EncodeCursor.
func DecodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", ErrBadCursor
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", ErrBadCursor
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", ErrBadCursor
	}
	return time.Unix(0, nanos), parts[1], nil
}

package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mubot/mu/internal/chat"
	"github.com/mubot/mu/internal/log"
)

// PostgresStore persists conversations in PostgreSQL.
//
// PostgresStore is safe for concurrent use by multiple goroutines. All
// state lives in the database; sequence numbers are assigned under a row
// lock so concurrent appends to the same conversation serialize.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewPostgresStore creates a PostgresStore on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool, logger log.Logger) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Create starts a new conversation.
func (s *PostgresStore) Create(ctx context.Context, title string) (Conversation, error) {
	conv := Conversation{ID: uuid.New(), Title: title}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, title)
		 VALUES ($1, $2)
		 RETURNING message_count, created_at, updated_at`,
		conv.ID, title,
	).Scan(&conv.MessageCount, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("creating conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "title", conv.Title)
	return conv, nil
}

// Get returns one conversation by ID.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Conversation, error) {
	var conv Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, message_count, created_at, updated_at
		 FROM conversations
		 WHERE id = $1`,
		id,
	).Scan(&conv.ID, &conv.Title, &conv.MessageCount, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("getting conversation %s: %w", id, err)
	}
	return conv, nil
}

// List returns conversations ordered by most recent activity first.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]Conversation, error) {
	limit = NormalizeListLimit(limit)
	if offset < 0 {
		offset = 0
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, title, message_count, created_at, updated_at
		 FROM conversations
		 ORDER BY updated_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]Conversation, 0, limit)
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.MessageCount, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	s.logger.Debug("listed conversations", "count", len(convs), "limit", limit, "offset", offset)
	return convs, nil
}

// Delete removes a conversation and all its messages (CASCADE).
func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}

	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// SetTitle renames a conversation.
func (s *PostgresStore) SetTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET title = $2, updated_at = now() WHERE id = $1`,
		id, title,
	)
	if err != nil {
		return fmt.Errorf("renaming conversation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

// History returns all stored messages for a conversation, oldest first.
func (s *PostgresStore) History(ctx context.Context, conversationID uuid.UUID) ([]chat.Message, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`,
		conversationID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking conversation %s: %w", conversationID, err)
	}
	if !exists {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, role, content, created_at
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY sequence_number`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading messages for %s: %w", conversationID, err)
	}
	defer rows.Close()

	msgs := make([]chat.Message, 0, 16)
	for rows.Next() {
		var (
			msg  chat.Message
			role string
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msg.ConversationID = conversationID
		msg.Role = chat.Role(role)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	s.logger.Debug("loaded history", "conversation_id", conversationID, "count", len(msgs))
	return msgs, nil
}

// Append durably adds messages to the end of the conversation.
//
// The whole batch runs in one transaction: the conversation row is locked
// with SELECT ... FOR UPDATE so concurrent appends cannot race on sequence
// numbers, then every message is inserted with the next sequence number and
// the conversation metadata is updated. Any failure rolls the batch back.
func (s *PostgresStore) Append(ctx context.Context, conversationID uuid.UUID, msgs ...chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	var locked uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM conversations WHERE id = $1 FOR UPDATE`,
		conversationID,
	).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("locking conversation %s: %w", conversationID, err)
	}

	var maxSeq int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM messages WHERE conversation_id = $1`,
		conversationID,
	).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("reading max sequence for %s: %w", conversationID, err)
	}

	for i, msg := range msgs {
		id := msg.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		createdAt := pgtype.Timestamptz{Time: msg.CreatedAt, Valid: !msg.CreatedAt.IsZero()}

		_, err = tx.Exec(ctx,
			`INSERT INTO messages (id, conversation_id, role, content, sequence_number, created_at)
			 VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))`,
			id, conversationID, string(msg.Role), msg.Content, maxSeq+i+1, createdAt,
		)
		if err != nil {
			return fmt.Errorf("inserting message %d: %w", i, err)
		}
	}

	newCount := maxSeq + len(msgs)
	_, err = tx.Exec(ctx,
		`UPDATE conversations SET message_count = $2, updated_at = now() WHERE id = $1`,
		conversationID, newCount,
	)
	if err != nil {
		return fmt.Errorf("updating conversation metadata: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("appended messages", "conversation_id", conversationID, "count", len(msgs))
	return nil
}

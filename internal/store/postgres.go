// ABOUTME: PostgreSQL implementation of the Store interface using a pgx/v5 connection pool
// ABOUTME: Used when several gateway nodes share one database

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation
const uniqueViolation = "23505"

// PostgresStore implements the Store interface on PostgreSQL
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// PoolOption tweaks the pool configuration before the pool is created
type PoolOption func(*pgxpool.Config)

// WithMaxConns overrides the maximum pool size
func WithMaxConns(n int32) PoolOption {
	return func(cfg *pgxpool.Config) {
		cfg.MaxConns = n
	}
}

// NewPostgresStore connects to the database at dsn, verifies it with a ping and
// creates the schema if needed.
func NewPostgresStore(ctx context.Context, dsn string, opts ...PoolOption) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store")

	cfg, err := pgxpool.ParseConfig(normalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}

	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	if cfg.MaxConns == 0 {
		cfg.MaxConns = 8
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	if cfg.MaxConnLifetime == 0 {
		cfg.MaxConnLifetime = time.Hour
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("Postgres store initialized", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)
	return s, nil
}

// normalizeDSN accepts the "postgresql+driver://" style some tooling emits.
func normalizeDSN(dsn string) string {
	s := strings.TrimSpace(dsn)
	if i := strings.Index(s, "://"); i > 0 {
		scheme := s[:i]
		if plus := strings.Index(scheme, "+"); plus > 0 {
			s = scheme[:plus] + s[i:]
		}
	}
	return s
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			avatar TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			participant_a TEXT NOT NULL REFERENCES users(id),
			participant_b TEXT NOT NULL REFERENCES users(id),
			pair_key TEXT NOT NULL,
			last_text TEXT,
			last_sender_id TEXT,
			last_read BOOLEAN NOT NULL DEFAULT FALSE,
			last_created_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			CHECK (participant_a <> participant_b)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair ON conversations(pair_key);
		CREATE INDEX IF NOT EXISTS idx_conversations_a ON conversations(participant_a, updated_at);
		CREATE INDEX IF NOT EXISTS idx_conversations_b ON conversations(participant_b, updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			seq BIGSERIAL,
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id TEXT NOT NULL,
			text TEXT NOT NULL,
			read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, seq);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.logger.Info("closing Postgres store")
	s.pool.Close()
	return nil
}

// CreateUser inserts a new user. Returns ErrDuplicateEmail if the email is taken.
func (s *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, email, password_hash, avatar, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Name, user.Email, user.PasswordHash, user.Avatar, user.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func scanPgUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Avatar, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

// GetUser retrieves a user by ID.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := scanPgUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email address.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanPgUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by email: %w", err)
	}
	return u, nil
}

// GetUsers retrieves the users with the given IDs. Unknown IDs are skipped.
func (s *PostgresStore) GetUsers(ctx context.Context, ids []string) ([]*User, error) {
	if len(ids) == 0 {
		return []*User{}, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	return collectPgUsers(rows)
}

// ListUsers returns all users ordered by name.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	return collectPgUsers(rows)
}

func collectPgUsers(rows pgx.Rows) ([]*User, error) {
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		u, err := scanPgUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// UpdateUserAvatar sets the avatar reference for a user.
func (s *PostgresStore) UpdateUserAvatar(ctx context.Context, id, avatar string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET avatar = $1 WHERE id = $2`, avatar, id)
	if err != nil {
		return fmt.Errorf("updating avatar: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateConversation creates a new conversation.
// Returns ErrDuplicateConversation if the participant pair already has one.
func (s *PostgresStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	pairKey := PairKey(conv.Participants[0], conv.Participants[1])
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, participant_a, participant_b, pair_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, conv.ID, conv.Participants[0], conv.Participants[1], pairKey, conv.CreatedAt.UTC(), conv.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}
	conv.PairKey = pairKey
	return nil
}

func scanPgConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	var lastText, lastSender *string
	var lastRead bool
	var lastCreatedAt *time.Time

	err := row.Scan(
		&c.ID,
		&c.Participants[0],
		&c.Participants[1],
		&c.PairKey,
		&lastText,
		&lastSender,
		&lastRead,
		&lastCreatedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()

	if lastSender != nil {
		lm := &LastMessage{SenderID: *lastSender, Read: lastRead}
		if lastText != nil {
			lm.Text = *lastText
		}
		if lastCreatedAt != nil {
			lm.CreatedAt = lastCreatedAt.UTC()
		}
		c.LastMessage = lm
	}
	return &c, nil
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	c, err := scanPgConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return c, nil
}

// GetConversationByPair retrieves the conversation between two users regardless of order.
func (s *PostgresStore) GetConversationByPair(ctx context.Context, userA, userB string) (*Conversation, error) {
	c, err := scanPgConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE pair_key = $1`, PairKey(userA, userB)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation by pair: %w", err)
	}
	return c, nil
}

// ListConversations returns the user's conversations, most recently updated first.
func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_a = $1 OR participant_b = $1
		ORDER BY updated_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	convs := []*Conversation{}
	for rows.Next() {
		c, err := scanPgConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return convs, nil
}

func scanPgMessage(row pgx.Row) (*Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &m.Read, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

// GetMessage retrieves a message by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m, err := scanPgMessage(s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return m, nil
}

// ListMessages returns all messages of a conversation in chronological order.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		m, err := scanPgMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

// AppendMessage inserts the message and updates the conversation summary in one transaction.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *Message) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE conversations
			SET last_text = $1, last_sender_id = $2, last_read = $3, last_created_at = $4, updated_at = $4
			WHERE id = $5
		`, msg.Text, msg.SenderID, msg.Read, msg.CreatedAt.UTC(), msg.ConversationID)
		if err != nil {
			return fmt.Errorf("updating conversation summary: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO messages (id, conversation_id, sender_id, text, read, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			msg.ID, msg.ConversationID, msg.SenderID, msg.Text, msg.Read, msg.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
		return nil
	})
}

// MarkConversationRead transitions unread messages from the other participant to read.
func (s *PostgresStore) MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	var updated int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Row lock on the conversation keeps concurrent read/append on it ordered.
		var id string
		err := tx.QueryRow(ctx, `SELECT id FROM conversations WHERE id = $1 FOR UPDATE`, conversationID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("locking conversation: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE messages SET read = TRUE WHERE conversation_id = $1 AND sender_id <> $2 AND read = FALSE`,
			conversationID, readerID,
		)
		if err != nil {
			return fmt.Errorf("marking messages read: %w", err)
		}
		updated = tag.RowsAffected()

		_, err = tx.Exec(ctx, `
			UPDATE conversations SET last_read = TRUE
			WHERE id = $1 AND last_sender_id IS NOT NULL AND last_sender_id <> $2
		`, conversationID, readerID)
		if err != nil {
			return fmt.Errorf("marking summary read: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

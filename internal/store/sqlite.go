// ABOUTME: SQLite implementation of the Store interface (modernc.org/sqlite or mattn/go-sqlite3)
// ABOUTME: Provides user/conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// SQLite driver names accepted by OpenSQLite
const (
	DriverSQLite  = "sqlite"  // modernc.org/sqlite, pure Go
	DriverSQLite3 = "sqlite3" // mattn/go-sqlite3, requires cgo
)

// timeLayout is fixed width so that stored timestamps sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path using the pure Go driver.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return OpenSQLite(DriverSQLite, path)
}

// OpenSQLite opens a SQLite store with the named database/sql driver.
func OpenSQLite(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if driver != DriverSQLite && driver != DriverSQLite3 {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: pragmas are per connection, and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			participant_a TEXT NOT NULL REFERENCES users(id),
			participant_b TEXT NOT NULL REFERENCES users(id),
			pair_key TEXT NOT NULL,
			last_text TEXT,
			last_sender_id TEXT,
			last_read INTEGER NOT NULL DEFAULT 0,
			last_created_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			CHECK (participant_a <> participant_b)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair ON conversations(pair_key);
		CREATE INDEX IF NOT EXISTS idx_conversations_a ON conversations(participant_a, updated_at);
		CREATE INDEX IF NOT EXISTS idx_conversations_b ON conversations(participant_b, updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id TEXT NOT NULL,
			text TEXT NOT NULL,
			read INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(conversation_id, read);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  string
		table  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('users') WHERE name = 'avatar'`,
			apply:  `ALTER TABLE users ADD COLUMN avatar TEXT`,
			table:  "users",
			column: "avatar",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// CreateUser inserts a new user. Returns ErrDuplicateEmail if the email is taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, name, email, password_hash, avatar, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Avatar,
		formatTime(user.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID)
	return nil
}

const userColumns = `id, name, email, password_hash, avatar, created_at`

func scanUser(row rowScanner) (*User, error) {
	var u User
	var avatar sql.NullString
	var createdAtStr string

	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &avatar, &createdAtStr); err != nil {
		return nil, err
	}
	if avatar.Valid {
		u.Avatar = &avatar.String
	}

	var err error
	u.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &u, nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email address.
// Returns ErrNotFound if no user has that email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by email: %w", err)
	}
	return u, nil
}

// GetUsers retrieves the users with the given IDs. Unknown IDs are skipped.
func (s *SQLiteStore) GetUsers(ctx context.Context, ids []string) ([]*User, error) {
	if len(ids) == 0 {
		return []*User{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id IN (` + placeholders + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

// ListUsers returns all users ordered by name.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]*User, error) {
	users := []*User{}
	for rows.Next() {
		u, err := scanUser(rows)
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
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) UpdateUserAvatar(ctx context.Context, id, avatar string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET avatar = ? WHERE id = ?`, avatar, id)
	if err != nil {
		return fmt.Errorf("updating avatar: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateConversation creates a new conversation.
// If a conversation for the same participant pair already exists,
// it returns ErrDuplicateConversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, participant_a, participant_b, pair_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	pairKey := PairKey(conv.Participants[0], conv.Participants[1])
	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.Participants[0],
		conv.Participants[1],
		pairKey,
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}
	conv.PairKey = pairKey

	s.logger.Debug("created conversation", "id", conv.ID, "pair", pairKey)
	return nil
}

const conversationColumns = `id, participant_a, participant_b, pair_key,
	last_text, last_sender_id, last_read, last_created_at, created_at, updated_at`

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var lastText, lastSender, lastCreatedAt sql.NullString
	var lastRead bool
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&c.ID,
		&c.Participants[0],
		&c.Participants[1],
		&c.PairKey,
		&lastText,
		&lastSender,
		&lastRead,
		&lastCreatedAt,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	c.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	c.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	if lastSender.Valid {
		lm := &LastMessage{
			Text:     lastText.String,
			SenderID: lastSender.String,
			Read:     lastRead,
		}
		if lastCreatedAt.Valid {
			lm.CreatedAt, err = parseTime(lastCreatedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing last_created_at: %w", err)
			}
		}
		c.LastMessage = lm
	}

	return &c, nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return c, nil
}

// GetConversationByPair retrieves the conversation between two users regardless of order.
// This uses the idx_conversations_pair unique index.
// Returns ErrNotFound if the pair has no conversation yet.
func (s *SQLiteStore) GetConversationByPair(ctx context.Context, userA, userB string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE pair_key = ?`,
		PairKey(userA, userB),
	)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation by pair: %w", err)
	}
	return c, nil
}

// ListConversations returns every conversation the user participates in,
// most recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE participant_a = ? OR participant_b = ?
		ORDER BY updated_at DESC, rowid DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	convs := []*Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
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

const messageColumns = `id, conversation_id, sender_id, text, read, created_at`

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var createdAtStr string

	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &m.Read, &createdAtStr); err != nil {
		return nil, err
	}

	var err error
	m.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &m, nil
}

// GetMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return m, nil
}

// ListMessages returns all messages of a conversation in chronological order,
// with insertion order breaking ties.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
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
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, msg.ConversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}

	createdAt := formatTime(msg.CreatedAt)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, text, read, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Text, msg.Read, createdAt,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_text = ?, last_sender_id = ?, last_read = ?, last_created_at = ?, updated_at = ?
		WHERE id = ?
	`, msg.Text, msg.SenderID, msg.Read, createdAt, createdAt, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("updating conversation summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("appended message", "id", msg.ID, "conversation_id", msg.ConversationID)
	return nil
}

// MarkConversationRead transitions unread messages from the other participant to read.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("checking conversation: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE messages SET read = 1 WHERE conversation_id = ? AND sender_id <> ? AND read = 0`,
		conversationID, readerID,
	)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET last_read = 1
		WHERE id = ? AND last_sender_id IS NOT NULL AND last_sender_id <> ?
	`, conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("marking summary read: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing read receipts: %w", err)
	}

	s.logger.Debug("marked conversation read",
		"conversation_id", conversationID,
		"reader", readerID,
		"updated", updated)
	return updated, nil
}

// ABOUTME: Tests for SQLite store specifics
// ABOUTME: Covers file creation, persistence across reopen, driver selection and migrations

package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created")
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created in nested directory")
}

func TestOpenSQLite_RejectsUnknownDriver(t *testing.T) {
	_, err := OpenSQLite("oracle", filepath.Join(t.TempDir(), "x.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported sqlite driver")
}

func TestSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	seedUser(t, store, "alice")
	got, err := store.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	seedUser(t, first, "alice")
	seedUser(t, first, "bob")
	seedConversation(t, first, "conv-1", "alice", "bob")
	require.NoError(t, first.AppendMessage(ctx, &Message{
		ID: "m1", ConversationID: "conv-1", SenderID: "alice", Text: "still here", CreatedAt: baseTime,
	}))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer second.Close()

	msgs, err := second.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "still here", msgs[0].Text)

	conv, err := second.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "still here", conv.LastMessage.Text)
}

func TestSQLiteStore_MigratesLegacyUsersTable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "legacy.db")

	// A database created before avatars existed.
	legacy, err := sql.Open(DriverSQLite, dbPath)
	require.NoError(t, err)
	_, err = legacy.Exec(`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`)
	require.NoError(t, err)
	_, err = legacy.Exec(`INSERT INTO users (id, name, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		"old", "Old Timer", "old@example.com", "hash", formatTime(baseTime))
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.UpdateUserAvatar(ctx, "old", "https://img.example/old.png"))
	got, err := store.GetUser(ctx, "old")
	require.NoError(t, err)
	require.NotNil(t, got.Avatar)
	assert.Equal(t, "https://img.example/old.png", *got.Avatar)

	// Running migrations again is a no-op.
	require.NoError(t, store.runMigrations())
}

func TestSQLiteStore_SelfConversationRejected(t *testing.T) {
	store := setupTestStore(t)
	seedUser(t, store, "alice")

	err := store.CreateConversation(context.Background(), &Conversation{
		ID:           "self",
		Participants: [2]string{"alice", "alice"},
		CreatedAt:    baseTime,
		UpdatedAt:    baseTime,
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateConversation)
}

func TestTimeLayoutSortsLexically(t *testing.T) {
	early := formatTime(baseTime)
	late := formatTime(baseTime.Add(1500 * 1000)) // 1.5ms later
	assert.Less(t, early, late)
	assert.Len(t, late, len(early))

	parsed, err := parseTime(late)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(baseTime.Add(1500*1000)))
}

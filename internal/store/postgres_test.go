// ABOUTME: Tests for Postgres-only helpers
// ABOUTME: Integration coverage runs via the shared store tests when PARLEY_TEST_POSTGRES_DSN is set

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// truncate empties every table so each shared test starts clean.
func (s *PostgresStore) truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE messages, conversations, users`)
	return err
}

func TestNormalizeDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@localhost/db", "postgres://u:p@localhost/db"},
		{"postgresql+asyncpg://u:p@localhost/db", "postgresql://u:p@localhost/db"},
		{"  postgres+pgx://localhost/db  ", "postgres://localhost/db"},
		{"host=localhost dbname=parley", "host=localhost dbname=parley"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeDSN(tt.in))
		})
	}
}

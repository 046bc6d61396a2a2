// ABOUTME: Tests for the user Directory
// ABOUTME: Covers registration, login, avatar stub and the profile cache

package users

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/store"
)

var testSecret = []byte("users-directory-test-secret-32b!")

// countingStore counts GetUsers calls so cache hits can be observed.
type countingStore struct {
	*store.MockStore
	getUsersCalls int
}

func (c *countingStore) GetUsers(ctx context.Context, ids []string) ([]*store.User, error) {
	c.getUsersCalls++
	return c.MockStore.GetUsers(ctx, ids)
}

func newTestDirectory(t *testing.T) (*Directory, *countingStore, *auth.JWTVerifier) {
	t.Helper()
	verifier, err := auth.NewJWTVerifier(testSecret)
	require.NoError(t, err)

	st := &countingStore{MockStore: store.NewMockStore()}
	dir, err := New(st, verifier, Config{BcryptCost: bcrypt.MinCost, TokenTTL: time.Hour}, nil)
	require.NoError(t, err)
	return dir, st, verifier
}

func TestDirectory_RegisterAndLogin(t *testing.T) {
	dir, _, verifier := newTestDirectory(t)
	ctx := context.Background()

	user, token, err := dir.Register(ctx, RegisterRequest{Name: " Alice ", Email: "Alice@Example.COM ", Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, "s3cret", user.PasswordHash)

	sub, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, sub)

	loggedIn, token, err := dir.Login(ctx, "ALICE@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)
	assert.NotEmpty(t, token)
}

func TestDirectory_RegisterErrors(t *testing.T) {
	dir, _, _ := newTestDirectory(t)
	ctx := context.Background()

	_, _, err := dir.Register(ctx, RegisterRequest{Name: "Alice", Email: "alice@example.com", Password: "pw"})
	require.NoError(t, err)

	_, _, err = dir.Register(ctx, RegisterRequest{Name: "Other", Email: "ALICE@example.com", Password: "pw"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, _, err = dir.Register(ctx, RegisterRequest{Name: "", Email: "x@example.com", Password: "pw"})
	assert.ErrorIs(t, err, ErrValidation)
	_, _, err = dir.Register(ctx, RegisterRequest{Name: "X", Email: "x@example.com", Password: ""})
	assert.ErrorIs(t, err, ErrValidation)
	_, _, err = dir.Register(ctx, RegisterRequest{Name: "X", Email: "x@example.com", Password: strings.Repeat("é", 72)})
	assert.ErrorIs(t, err, ErrValidation)

	users, err := dir.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestDirectory_LoginFailures(t *testing.T) {
	dir, _, _ := newTestDirectory(t)
	ctx := context.Background()

	_, _, err := dir.Register(ctx, RegisterRequest{Name: "Alice", Email: "alice@example.com", Password: "right"})
	require.NoError(t, err)

	_, _, err = dir.Login(ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = dir.Login(ctx, "nobody@example.com", "right")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestDirectory_SetAvatar(t *testing.T) {
	dir, _, _ := newTestDirectory(t)
	ctx := context.Background()

	user, _, err := dir.Register(ctx, RegisterRequest{Name: "Alice", Email: "alice@example.com", Password: "pw"})
	require.NoError(t, err)

	// Warm the cache with the avatar-less profile.
	before, err := dir.Profiles(ctx, []string{user.ID})
	require.NoError(t, err)
	assert.Nil(t, before[user.ID].Avatar)

	updated, err := dir.SetAvatar(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.Avatar)
	assert.Equal(t, "https://i.pravatar.cc/150?u="+user.ID, *updated.Avatar)

	after, err := dir.Profiles(ctx, []string{user.ID})
	require.NoError(t, err)
	require.NotNil(t, after[user.ID].Avatar)
	assert.Equal(t, *updated.Avatar, *after[user.ID].Avatar)

	_, err = dir.SetAvatar(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirectory_ProfilesAreCached(t *testing.T) {
	dir, st, _ := newTestDirectory(t)
	ctx := context.Background()

	alice, _, err := dir.Register(ctx, RegisterRequest{Name: "Alice", Email: "alice@example.com", Password: "pw"})
	require.NoError(t, err)
	bob, _, err := dir.Register(ctx, RegisterRequest{Name: "Bob", Email: "bob@example.com", Password: "pw"})
	require.NoError(t, err)

	profiles, err := dir.Profiles(ctx, []string{alice.ID, bob.ID, alice.ID, "ghost"})
	require.NoError(t, err)
	assert.Len(t, profiles, 2)
	assert.Equal(t, "Bob", profiles[bob.ID].Name)
	assert.Equal(t, 1, st.getUsersCalls)

	_, err = dir.Profiles(ctx, []string{alice.ID, bob.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, st.getUsersCalls, "second lookup should be served from cache")
}

func TestDirectory_GetAndList(t *testing.T) {
	dir, _, _ := newTestDirectory(t)
	ctx := context.Background()

	alice, _, err := dir.Register(ctx, RegisterRequest{Name: "Alice", Email: "alice@example.com", Password: "pw"})
	require.NoError(t, err)

	got, err := dir.Get(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)

	byEmail, err := dir.GetByEmail(ctx, " ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, byEmail.ID)

	_, err = dir.Get(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := dir.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// ABOUTME: User directory: registration, login, lookups and the avatar stub
// ABOUTME: Public profiles are served from an LRU cache for conversation population

package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/samber/lo"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/store"
)

// DefaultAvatarURLTemplate produces a deterministic placeholder avatar per user.
const DefaultAvatarURLTemplate = "https://i.pravatar.cc/150?u={id}"

// Directory errors
var (
	ErrValidation         = errors.New("validation failed")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("user not found")
)

// UserStore defines what the directory needs from storage
type UserStore interface {
	CreateUser(ctx context.Context, user *store.User) error
	GetUser(ctx context.Context, id string) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUsers(ctx context.Context, ids []string) ([]*store.User, error)
	ListUsers(ctx context.Context) ([]*store.User, error)
	UpdateUserAvatar(ctx context.Context, id, avatar string) error
}

// Profile is the public view of a user, safe to embed in any response.
type Profile struct {
	ID     string
	Name   string
	Email  string
	Avatar *string
}

// ProfileOf strips credentials from a user.
func ProfileOf(u *store.User) Profile {
	return Profile{ID: u.ID, Name: u.Name, Email: u.Email, Avatar: u.Avatar}
}

// Config tunes a Directory.
type Config struct {
	TokenTTL          time.Duration
	BcryptCost        int
	AvatarURLTemplate string
	ProfileCacheSize  int
}

// Directory manages user accounts.
type Directory struct {
	store    UserStore
	issuer   auth.TokenIssuer
	cfg      Config
	profiles *lru.Cache
	logger   *slog.Logger
}

// New creates a Directory. Zero config fields take defaults.
func New(st UserStore, issuer auth.TokenIssuer, cfg Config, logger *slog.Logger) (*Directory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 30 * 24 * time.Hour
	}
	if cfg.AvatarURLTemplate == "" {
		cfg.AvatarURLTemplate = DefaultAvatarURLTemplate
	}
	if cfg.ProfileCacheSize <= 0 {
		cfg.ProfileCacheSize = 1024
	}

	cache, err := lru.New(cfg.ProfileCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating profile cache: %w", err)
	}

	return &Directory{
		store:    st,
		issuer:   issuer,
		cfg:      cfg,
		profiles: cache,
		logger:   logger.With("component", "users"),
	}, nil
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RegisterRequest carries a new account.
type RegisterRequest struct {
	Name     string
	Email    string
	Password string
}

// Register creates an account and returns it with a fresh token.
func (d *Directory) Register(ctx context.Context, req RegisterRequest) (*store.User, string, error) {
	name := strings.TrimSpace(req.Name)
	email := NormalizeEmail(req.Email)
	if name == "" || email == "" || req.Password == "" {
		return nil, "", fmt.Errorf("%w: name, email and password are required", ErrValidation)
	}
	if len(req.Password) > auth.MaxPasswordBytes {
		return nil, "", fmt.Errorf("%w: password must be at most %d bytes", ErrValidation, auth.MaxPasswordBytes)
	}

	hash, err := auth.HashPassword(req.Password, d.cfg.BcryptCost)
	if err != nil {
		return nil, "", err
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := d.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, "", ErrEmailTaken
		}
		return nil, "", fmt.Errorf("creating user: %w", err)
	}

	token, err := d.IssueToken(user.ID)
	if err != nil {
		return nil, "", err
	}

	d.logger.Info("user registered", "user_id", user.ID)
	return user, token, nil
}

// Login checks credentials and returns the user with a fresh token.
func (d *Directory) Login(ctx context.Context, email, password string) (*store.User, string, error) {
	user, err := d.store.GetUserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", fmt.Errorf("looking up user: %w", err)
	}

	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("checking password: %w", err)
	}

	token, err := d.IssueToken(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// IssueToken signs a token for userID with the configured TTL.
func (d *Directory) IssueToken(userID string) (string, error) {
	token, err := d.issuer.Generate(userID, d.cfg.TokenTTL)
	if err != nil {
		return "", fmt.Errorf("issuing token: %w", err)
	}
	return token, nil
}

// Get returns a user by ID.
func (d *Directory) Get(ctx context.Context, id string) (*store.User, error) {
	user, err := d.store.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return user, nil
}

// GetByEmail returns a user by email address.
func (d *Directory) GetByEmail(ctx context.Context, email string) (*store.User, error) {
	user, err := d.store.GetUserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return user, nil
}

// List returns every user.
func (d *Directory) List(ctx context.Context) ([]*store.User, error) {
	users, err := d.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

// AvatarURL renders the avatar template for userID.
func (d *Directory) AvatarURL(userID string) string {
	return strings.ReplaceAll(d.cfg.AvatarURLTemplate, "{id}", userID)
}

// SetAvatar assigns the generated avatar URL to the user. Upload is not
// supported; the URL is derived from the user ID.
func (d *Directory) SetAvatar(ctx context.Context, userID string) (*store.User, error) {
	url := d.AvatarURL(userID)
	if err := d.store.UpdateUserAvatar(ctx, userID, url); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("updating avatar: %w", err)
	}
	d.profiles.Remove(userID)

	return d.Get(ctx, userID)
}

// Profiles returns public profiles keyed by ID. Unknown IDs are absent from
// the result.
func (d *Directory) Profiles(ctx context.Context, ids []string) (map[string]Profile, error) {
	result := make(map[string]Profile, len(ids))
	var missing []string

	for _, id := range lo.Uniq(ids) {
		if cached, ok := d.profiles.Get(id); ok {
			result[id] = cached.(Profile)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result, nil
	}

	found, err := d.store.GetUsers(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("loading profiles: %w", err)
	}
	for _, u := range found {
		p := ProfileOf(u)
		d.profiles.Add(u.ID, p)
		result[u.ID] = p
	}
	return result, nil
}

// ABOUTME: REST handlers for accounts, users, conversations and messages
// ABOUTME: JSON bodies use the client contract field names (_id, camelCase)

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/realtime"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/users"
)

// RegisterRequest is the JSON request body for POST /api/register.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
}

// LoginRequest is the JSON request body for POST /api/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// CreateConversationRequest is the JSON request body for POST /api/conversations.
type CreateConversationRequest struct {
	ParticipantID string `json:"participantId" validate:"required"`
}

// SendMessageRequest is the JSON request body for POST /api/conversations/{id}/messages.
type SendMessageRequest struct {
	Text     string `json:"text" validate:"required,max=10000"`
	ClientID string `json:"clientId,omitempty" validate:"omitempty,max=128"`
}

// UserResponse is a user without credentials.
type UserResponse struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Avatar    *string   `json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	User  UserResponse `json:"user"`
	Token string       `json:"token"`
}

// AvatarResponse is returned by POST /api/users/avatar.
type AvatarResponse struct {
	Success   bool         `json:"success"`
	AvatarURL string       `json:"avatarUrl"`
	User      UserResponse `json:"user"`
}

// ParticipantResponse is a populated conversation participant.
type ParticipantResponse struct {
	ID     string  `json:"_id"`
	Name   string  `json:"name,omitempty"`
	Email  string  `json:"email,omitempty"`
	Avatar *string `json:"avatar"`
}

// LastMessageResponse is the conversation's newest-message summary.
type LastMessageResponse struct {
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConversationResponse is a conversation with populated participants.
type ConversationResponse struct {
	ID           string                `json:"_id"`
	Participants []ParticipantResponse `json:"participants"`
	LastMessage  *LastMessageResponse  `json:"lastMessage,omitempty"`
	CreatedAt    time.Time             `json:"createdAt"`
	UpdatedAt    time.Time             `json:"updatedAt"`
}

// MessageResponse is a stored message.
type MessageResponse struct {
	ID           string    `json:"_id"`
	Conversation string    `json:"conversation"`
	Sender       string    `json:"sender"`
	Text         string    `json:"text"`
	Read         bool      `json:"read"`
	CreatedAt    time.Time `json:"createdAt"`
}

// MarkReadResponse is returned by PATCH /api/conversations/{id}/read.
type MarkReadResponse struct {
	Success bool  `json:"success"`
	Updated int64 `json:"updated"`
}

func toUserResponse(u *store.User) UserResponse {
	return UserResponse{ID: u.ID, Name: u.Name, Email: u.Email, Avatar: u.Avatar, CreatedAt: u.CreatedAt}
}

func toMessageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:           m.ID,
		Conversation: m.ConversationID,
		Sender:       m.SenderID,
		Text:         m.Text,
		Read:         m.Read,
		CreatedAt:    m.CreatedAt,
	}
}

func toConversationResponse(c *store.Conversation, profiles map[string]users.Profile) ConversationResponse {
	resp := ConversationResponse{
		ID: c.ID,
		Participants: lo.Map(c.Participants[:], func(id string, _ int) ParticipantResponse {
			p, ok := profiles[id]
			if !ok {
				return ParticipantResponse{ID: id}
			}
			return ParticipantResponse{ID: p.ID, Name: p.Name, Email: p.Email, Avatar: p.Avatar}
		}),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if lm := c.LastMessage; lm != nil {
		resp.LastMessage = &LastMessageResponse{
			Text:      lm.Text,
			Sender:    lm.SenderID,
			Read:      lm.Read,
			CreatedAt: lm.CreatedAt,
		}
	}
	return resp
}

// populate resolves every participant's public profile in one lookup.
func (g *Gateway) populate(ctx context.Context, convs []*store.Conversation) ([]ConversationResponse, error) {
	ids := lo.FlatMap(convs, func(c *store.Conversation, _ int) []string {
		return c.Participants[:]
	})
	profiles, err := g.users.Profiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	return lo.Map(convs, func(c *store.Conversation, _ int) ConversationResponse {
		return toConversationResponse(c, profiles)
	}), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// classifyError maps a domain error to an HTTP status, a websocket error code
// and a message that is safe to show the client.
func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, conversation.ErrValidation), errors.Is(err, users.ErrValidation):
		return http.StatusBadRequest, "bad_request", err.Error()
	case errors.Is(err, conversation.ErrForbidden):
		return http.StatusForbidden, "forbidden", "not a participant in this conversation"
	case errors.Is(err, conversation.ErrNotFound), errors.Is(err, users.ErrNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, conversation.ErrConflict), errors.Is(err, users.ErrEmailTaken):
		return http.StatusConflict, "conflict", err.Error()
	case errors.Is(err, users.ErrInvalidCredentials):
		return http.StatusUnauthorized, "unauthorized", "invalid email or password"
	case errors.Is(err, realtime.ErrUnknownSession):
		return http.StatusGone, "session_closed", "session is closed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable", "request timed out, try again"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func (g *Gateway) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, _, msg := classifyError(err)
	if status >= http.StatusInternalServerError {
		g.logger.Error("request failed", "route", routePattern(r), "error", err)
	}
	writeError(w, status, msg)
}

// decode reads a JSON body into dst and validates it, writing a 400 on failure.
func (g *Gateway) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := g.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage names the first failing field in client terms.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return "email must be a valid email address"
	case "max":
		return fe.Field() + " is too long"
	default:
		return fe.Field() + " is invalid"
	}
}

// handleRegister handles POST /api/register.
func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !g.decode(w, r, &req) {
		return
	}

	user, token, err := g.users.Register(r.Context(), users.RegisterRequest{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, AuthResponse{User: toUserResponse(user), Token: token})
}

// handleLogin handles POST /api/login.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !g.decode(w, r, &req) {
		return
	}

	user, token, err := g.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{User: toUserResponse(user), Token: token})
}

// handleListUsers handles GET /api/users.
func (g *Gateway) handleListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := g.users.List(r.Context())
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(list, func(u *store.User, _ int) UserResponse {
		return toUserResponse(u)
	}))
}

// handleGetUser handles GET /api/users/{id}.
func (g *Gateway) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := g.users.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// handleSetAvatar handles POST /api/users/avatar. The avatar URL is generated.
func (g *Gateway) handleSetAvatar(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	user, err := g.users.SetAvatar(r.Context(), caller.UserID)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	avatar := ""
	if user.Avatar != nil {
		avatar = *user.Avatar
	}
	writeJSON(w, http.StatusOK, AvatarResponse{Success: true, AvatarURL: avatar, User: toUserResponse(user)})
}

// handleListConversations handles GET /api/conversations.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	convs, err := g.conversations.List(r.Context(), caller.UserID)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	resp, err := g.populate(r.Context(), convs)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCreateConversation handles POST /api/conversations. It answers 201
// when the conversation was created and 200 when it already existed.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	var req CreateConversationRequest
	if !g.decode(w, r, &req) {
		return
	}

	conv, created, err := g.conversations.ResolveOrCreate(r.Context(), caller.UserID, req.ParticipantID)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	resp, err := g.populate(r.Context(), []*store.Conversation{conv})
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp[0])
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	conv, err := g.conversations.Get(r.Context(), chi.URLParam(r, "id"), caller.UserID)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	resp, err := g.populate(r.Context(), []*store.Conversation{conv})
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp[0])
}

// handleListMessages handles GET /api/conversations/{id}/messages.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	msgs, err := g.conversations.Messages(r.Context(), chi.URLParam(r, "id"), caller.UserID)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(msgs, func(m *store.Message, _ int) MessageResponse {
		return toMessageResponse(m)
	}))
}

// handleSendMessage handles POST /api/conversations/{id}/messages.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	var req SendMessageRequest
	if !g.decode(w, r, &req) {
		return
	}

	msg, err := g.conversations.Send(r.Context(), conversation.SendRequest{
		ConversationID: chi.URLParam(r, "id"),
		SenderID:       caller.UserID,
		Text:           req.Text,
		ClientID:       req.ClientID,
	})
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

// handleMarkRead handles PATCH /api/conversations/{id}/read.
func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	updated, err := g.conversations.MarkRead(r.Context(), chi.URLParam(r, "id"), caller.UserID)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MarkReadResponse{Success: true, Updated: updated})
}

// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	users         map[string]*User         // keyed by user ID
	emailIndex    map[string]string        // email -> user ID
	conversations map[string]*Conversation // keyed by conversation ID
	pairIndex     map[string]string        // pair key -> conversation ID
	convOrder     map[string]int           // conversation ID -> insertion sequence
	messages      map[string][]*Message    // keyed by conversation ID, insertion order
	messageIndex  map[string]*Message      // keyed by message ID
	failures      map[string]error         // method name -> error returned once
	seq           int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*User),
		emailIndex:    make(map[string]string),
		conversations: make(map[string]*Conversation),
		pairIndex:     make(map[string]string),
		convOrder:     make(map[string]int),
		messages:      make(map[string][]*Message),
		messageIndex:  make(map[string]*Message),
		failures:      make(map[string]error),
	}
}

// FailNext makes the next call to the named method (e.g. "AppendMessage") return err.
func (m *MockStore) FailNext(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = err
}

// takeFailure must be called with mu held.
func (m *MockStore) takeFailure(method string) error {
	err, ok := m.failures[method]
	if !ok {
		return nil
	}
	delete(m.failures, method)
	return err
}

func copyUser(u *User) *User {
	c := *u
	if u.Avatar != nil {
		avatar := *u.Avatar
		c.Avatar = &avatar
	}
	return &c
}

func copyConversation(conv *Conversation) *Conversation {
	c := *conv
	if conv.LastMessage != nil {
		lm := *conv.LastMessage
		c.LastMessage = &lm
	}
	return &c
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("CreateUser"); err != nil {
		return err
	}
	if _, taken := m.emailIndex[user.Email]; taken {
		return ErrDuplicateEmail
	}

	m.users[user.ID] = copyUser(user)
	m.emailIndex[user.Email] = user.ID
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("GetUser"); err != nil {
		return nil, err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

// GetUserByEmail retrieves a user by email.
func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.emailIndex[email]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(m.users[id]), nil
}

// GetUsers retrieves the users with the given IDs, skipping unknown IDs.
func (m *MockStore) GetUsers(ctx context.Context, ids []string) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*User, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if u, ok := m.users[id]; ok {
			result = append(result, copyUser(u))
		}
	}
	return result, nil
}

// ListUsers returns all users ordered by name.
func (m *MockStore) ListUsers(ctx context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, copyUser(u))
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

// UpdateUserAvatar sets a user's avatar.
func (m *MockStore) UpdateUserAvatar(ctx context.Context, id, avatar string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Avatar = &avatar
	return nil
}

// CreateConversation stores a new conversation, enforcing pair uniqueness.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("CreateConversation"); err != nil {
		return err
	}

	key := PairKey(conv.Participants[0], conv.Participants[1])
	if _, exists := m.pairIndex[key]; exists {
		return ErrDuplicateConversation
	}

	conv.PairKey = key
	m.conversations[conv.ID] = copyConversation(conv)
	m.pairIndex[key] = conv.ID
	m.seq++
	m.convOrder[conv.ID] = m.seq
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("GetConversation"); err != nil {
		return nil, err
	}
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(c), nil
}

// GetConversationByPair retrieves the conversation for an unordered pair.
func (m *MockStore) GetConversationByPair(ctx context.Context, userA, userB string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("GetConversationByPair"); err != nil {
		return nil, err
	}
	id, ok := m.pairIndex[PairKey(userA, userB)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(m.conversations[id]), nil
}

// ListConversations returns the user's conversations, most recently updated first.
func (m *MockStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	convs := []*Conversation{}
	for _, c := range m.conversations {
		if c.HasParticipant(userID) {
			convs = append(convs, copyConversation(c))
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return m.convOrder[convs[i].ID] > m.convOrder[convs[j].ID]
	})
	return convs, nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messageIndex[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *msg
	return &c, nil
}

// ListMessages returns a conversation's messages in chronological order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("ListMessages"); err != nil {
		return nil, err
	}

	msgs := m.messages[conversationID]
	result := make([]*Message, len(msgs))
	for i, msg := range msgs {
		c := *msg
		result[i] = &c
	}
	// Stable keeps insertion order for equal timestamps.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// AppendMessage stores the message and updates the conversation summary atomically.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("AppendMessage"); err != nil {
		return err
	}

	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}

	c := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &c)
	m.messageIndex[msg.ID] = &c

	conv.LastMessage = &LastMessage{
		Text:      msg.Text,
		SenderID:  msg.SenderID,
		Read:      msg.Read,
		CreatedAt: msg.CreatedAt,
	}
	conv.UpdatedAt = msg.CreatedAt
	return nil
}

// MarkConversationRead marks the other participant's unread messages as read.
func (m *MockStore) MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("MarkConversationRead"); err != nil {
		return 0, err
	}

	conv, ok := m.conversations[conversationID]
	if !ok {
		return 0, ErrNotFound
	}

	var updated int64
	for _, msg := range m.messages[conversationID] {
		if msg.SenderID != readerID && !msg.Read {
			msg.Read = true
			updated++
		}
	}

	if conv.LastMessage != nil && conv.LastMessage.SenderID != readerID {
		conv.LastMessage.Read = true
	}
	return updated, nil
}

// Ping always succeeds unless a failure was injected.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.takeFailure("Ping")
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// ABOUTME: Redis pub/sub relay that shares live events between gateway nodes
// ABOUTME: Local events are forwarded; remote events are delivered to local sessions only

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/2389/parley/internal/metrics"
	"github.com/2389/parley/internal/store"
)

const (
	relayQueueSize      = 256
	relayPublishTimeout = 2 * time.Second
)

// envelope is the wire form of an Event on the relay channel.
type envelope struct {
	Origin         string         `json:"origin"`
	Type           EventType      `json:"type"`
	ConversationID string         `json:"conversationId"`
	Message        *store.Message `json:"message,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	IsTyping       bool           `json:"isTyping,omitempty"`
	Count          int64          `json:"count,omitempty"`
	At             time.Time      `json:"at"`
}

func encodeEnvelope(origin string, ev *Event) ([]byte, error) {
	return json.Marshal(envelope{
		Origin:         origin,
		Type:           ev.Type,
		ConversationID: ev.ConversationID,
		Message:        ev.Message,
		UserID:         ev.UserID,
		IsTyping:       ev.IsTyping,
		Count:          ev.Count,
		At:             ev.At,
	})
}

func decodeEnvelope(data []byte) (*Event, string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", fmt.Errorf("decoding relay envelope: %w", err)
	}
	if env.ConversationID == "" {
		return nil, "", errors.New("relay envelope missing conversation id")
	}
	switch env.Type {
	case EventMessage:
		if env.Message == nil {
			return nil, "", errors.New("message envelope without message")
		}
	case EventTyping, EventRead:
	default:
		return nil, "", fmt.Errorf("unknown relay event type %q", env.Type)
	}

	return &Event{
		Type:           env.Type,
		ConversationID: env.ConversationID,
		Message:        env.Message,
		UserID:         env.UserID,
		IsTyping:       env.IsTyping,
		Count:          env.Count,
		At:             env.At,
	}, env.Origin, nil
}

// RedisRelay publishes this node's events on a Redis channel and delivers
// other nodes' events to the local router.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	nodeID  string
	router  *Router
	queue   chan []byte
	logger  *slog.Logger

	mu     sync.Mutex
	sub    *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisRelay creates a relay bound to router. Call Start to begin relaying.
func NewRedisRelay(client redis.UniversalClient, channel string, router *Router, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.Default()
	}
	if channel == "" {
		channel = "parley:events"
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		nodeID:  uuid.New().String(),
		router:  router,
		queue:   make(chan []byte, relayQueueSize),
		logger:  logger.With("component", "relay"),
	}
}

// NodeID identifies this gateway on the relay channel.
func (r *RedisRelay) NodeID() string {
	return r.nodeID
}

// Start subscribes to the channel, attaches the relay to the router and runs
// the publish and receive loops until Close.
func (r *RedisRelay) Start(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.sub = sub
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(2)
	go r.publishLoop(loopCtx)
	go r.receiveLoop(loopCtx, sub.Channel())

	r.router.SetRelay(r)
	r.logger.Info("relay started", "channel", r.channel, "node_id", r.nodeID)
	return nil
}

// Forward queues ev for publication without blocking. Events are dropped
// when the queue is full.
func (r *RedisRelay) Forward(ev *Event) {
	data, err := encodeEnvelope(r.nodeID, ev)
	if err != nil {
		metrics.RelayErrors.Inc()
		r.logger.Warn("failed to encode relay event", "error", err)
		return
	}

	select {
	case r.queue <- data:
	default:
		metrics.RelayErrors.Inc()
		r.logger.Warn("relay queue full, dropping event",
			"conversation_id", ev.ConversationID,
			"type", ev.Type)
	}
}

func (r *RedisRelay) publishLoop(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-r.queue:
			pubCtx, cancel := context.WithTimeout(ctx, relayPublishTimeout)
			err := r.client.Publish(pubCtx, r.channel, data).Err()
			cancel()
			if err != nil {
				metrics.RelayErrors.Inc()
				r.logger.Warn("relay publish failed", "error", err)
			}
		}
	}
}

func (r *RedisRelay) receiveLoop(ctx context.Context, ch <-chan *redis.Message) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handlePayload(msg.Payload)
		}
	}
}

// handlePayload delivers a remote event locally, ignoring this node's own echoes.
func (r *RedisRelay) handlePayload(payload string) {
	ev, origin, err := decodeEnvelope([]byte(payload))
	if err != nil {
		metrics.RelayErrors.Inc()
		r.logger.Warn("dropping undecodable relay payload", "error", err)
		return
	}
	if origin == r.nodeID {
		return
	}
	r.router.DeliverLocal(ev)
}

// Close stops both loops and unsubscribes. Safe to call more than once.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	sub, cancel := r.sub, r.cancel
	r.sub, r.cancel = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := sub.Close()
	r.wg.Wait()
	r.router.SetRelay(nil)
	return err
}

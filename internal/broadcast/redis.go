package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// channelPrefix namespaces the pub/sub channels this module uses.
const channelPrefix = "collabtext:doc:"

// RedisBroadcaster implements Broadcaster over Redis pub/sub so several
// server nodes can host sessions of the same document.
type RedisBroadcaster struct {
	client *redis.Client
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[int]*redisSubscription
	nextID int
	closed bool
}

// redisSubscription is one active channel subscription.
type redisSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisBroadcaster creates a broadcaster over the given Redis client and
// verifies the connection.
func NewRedisBroadcaster(client *redis.Client, logger *zap.Logger) (*RedisBroadcaster, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBroadcaster{
		client: client,
		logger: logger,
		subs:   make(map[int]*redisSubscription),
	}, nil
}

// Publish sends the frame to the document's channel.
func (b *RedisBroadcaster) Publish(ctx context.Context, frame *Frame) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("broadcaster is closed")
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if err := b.client.Publish(ctx, channelPrefix+frame.DocumentID, data).Err(); err != nil {
		return fmt.Errorf("failed to publish frame: %w", err)
	}
	return nil
}

// Subscribe registers handler for the document's channel. Frames arrive on
// a dedicated goroutine per subscription.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, documentID string, handler Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("broadcaster is closed")
	}

	subCtx, cancel := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(subCtx, channelPrefix+documentID)

	// Force the subscription to be established before returning.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to document channel: %w", err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	go func() {
		defer close(sub.done)
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var frame Frame
				if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
					b.logger.Warn("Failed to decode relayed frame",
						zap.String("document_id", documentID),
						zap.Error(err))
					continue
				}
				handler(&frame)
			}
		}
	}()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		cancel()
		pubsub.Close()
		<-sub.done
	}, nil
}

// Close tears down every subscription.
func (b *RedisBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.cancel()
		sub.pubsub.Close()
		delete(b.subs, id)
	}
	return nil
}

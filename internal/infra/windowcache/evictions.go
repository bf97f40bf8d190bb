package windowcache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"
)

// Evictions carries local-layer evictions between instances.
type Evictions interface {
	Publish(ctx context.Context, keys []string) error
	// Listen delivers keys evicted by other instances until Close. A nil
	// slice means messages may have been missed and everything should go.
	Listen(evict func(keys []string))
	Close()
}

type evictionMessage struct {
	Origin string   `json:"origin"`
	Keys   []string `json:"keys"`
}

// ValkeyEvictions broadcasts evictions over a Valkey pub/sub channel.
type ValkeyEvictions struct {
	client  valkey.Client
	channel string
	origin  string
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    sync.WaitGroup
}

// NewValkeyEvictions constructs the broadcaster; each instance gets its own origin id.
func NewValkeyEvictions(client valkey.Client, prefix string, logger *slog.Logger) *ValkeyEvictions {
	if prefix == "" {
		prefix = "sunspot"
	}
	return &ValkeyEvictions{
		client:  client,
		channel: prefix + ":schedule:evict",
		origin:  uuid.NewString(),
		logger:  logger.With("component", "windowcache.evictions"),
	}
}

// Publish announces keys this instance has rewritten or dropped.
func (e *ValkeyEvictions) Publish(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	payload, err := json.Marshal(evictionMessage{Origin: e.origin, Keys: keys})
	if err != nil {
		return err
	}
	return e.client.Do(ctx, e.client.B().Publish().Channel(e.channel).Message(string(payload)).Build()).Error()
}

// Listen subscribes in the background and resubscribes after a dropped connection.
func (e *ValkeyEvictions) Listen(evict func(keys []string)) {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done.Add(1)
	go func() {
		defer e.done.Done()
		for {
			err := e.client.Receive(ctx, e.client.B().Subscribe().Channel(e.channel).Build(), func(msg valkey.PubSubMessage) {
				e.deliver(msg.Message, evict)
			})
			if ctx.Err() != nil {
				return
			}
			e.logger.Warn("eviction subscription dropped", "channel", e.channel, "error", err)
			evict(nil)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}()
}

func (e *ValkeyEvictions) deliver(payload string, evict func(keys []string)) {
	var msg evictionMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		e.logger.Warn("eviction message decode failed", "error", err)
		return
	}
	if msg.Origin == e.origin || len(msg.Keys) == 0 {
		return
	}
	evict(msg.Keys)
}

// Close stops the subscription.
func (e *ValkeyEvictions) Close() {
	if e.cancel != nil {
		e.cancel()
	}
	e.done.Wait()
}

var _ Evictions = (*ValkeyEvictions)(nil)

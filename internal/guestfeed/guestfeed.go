// Package guestfeed broadcasts guest changes so open dashboards update live.
package guestfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"wedding-invitations/internal/models"
)

const Channel = "guests"

const (
	EventAdded   = "added"
	EventUpdated = "updated"
)

type Event struct {
	Type  string       `json:"type"`
	Guest models.Guest `json:"guest"`
}

type Feed interface {
	Publish(ctx context.Context, evt Event) error
	// Subscribe streams events until ctx is cancelled; the channel is then closed.
	Subscribe(ctx context.Context) (<-chan Event, error)
}

type RedisFeed struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisFeed(client *redis.Client, log zerolog.Logger) *RedisFeed {
	return &RedisFeed{client: client, log: log.With().Str("component", "guestfeed").Logger()}
}

func (f *RedisFeed) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, Channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish guest event: %w", err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context) (<-chan Event, error) {
	sub := f.client.Subscribe(ctx, Channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to guest feed: %w", err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					f.log.Warn().Err(err).Msg("skipping malformed guest event")
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// MemoryFeed fans events out within one process. Used when Redis is not configured.
type MemoryFeed struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[chan Event]struct{})}
}

// Publish never blocks: slow subscribers miss events.
func (f *MemoryFeed) Publish(_ context.Context, evt Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

func (f *MemoryFeed) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 16)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, ch)
		close(ch)
		f.mu.Unlock()
	}()
	return ch, nil
}

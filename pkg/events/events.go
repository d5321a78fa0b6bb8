package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"inkwell/internal/util"
	"inkwell/pkg/domain"
)

const (
	RoutingBookPublished = "book.published"
	RoutingBookDeleted   = "book.deleted"
)

// Event is the envelope published for every domain event.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

type BookPublished struct {
	BookID     string `json:"bookId"`
	AuthorID   string `json:"authorId"`
	Title      string `json:"title"`
	CoverImage string `json:"coverImage"`
}

type BookDeleted struct {
	BookID   string `json:"bookId"`
	AuthorID string `json:"authorId"`
	Chapters int    `json:"chapters"`
	Reviews  int    `json:"reviews"`
}

// Publisher delivers events. Publishing is best effort for callers: a failed
// publish never undoes the write that caused it.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, data any) error
	Close() error
}

func newEvent(routingKey string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode event: %w", err)
	}
	return Event{ID: util.NewID(), Type: routingKey, OccurredAt: time.Now().UTC(), Data: raw}, nil
}

// AMQPPublisher publishes persistent JSON messages to a topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex
	ch *amqp.Channel
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	if exchange == "" {
		exchange = "inkwell.events"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, exchange: exchange, ch: ch}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, data any) error {
	evt, err := newEvent(routingKey, data)
	if err != nil {
		return err
	}
	msg, err := buildPublishing(evt)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		ch, err := p.conn.Channel()
		if err != nil {
			return fmt.Errorf("amqp channel: %w", err)
		}
		p.ch = ch
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("amqp publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	return p.conn.Close()
}

func buildPublishing(evt Event) (amqp.Publishing, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Type:         evt.Type,
		Timestamp:    evt.OccurredAt,
		Body:         body,
	}, nil
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }
func (NopPublisher) Close() error { return nil }

// MemoryPublisher keeps published events in order.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *MemoryPublisher) Publish(_ context.Context, routingKey string, data any) error {
	evt, err := newEvent(routingKey, data)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// BookNotifier turns editor publish callbacks into book.published events.
type BookNotifier struct {
	Publisher Publisher
}

func (n BookNotifier) NotifyPublished(ctx context.Context, book domain.Book) error {
	if n.Publisher == nil {
		return nil
	}
	return n.Publisher.Publish(ctx, RoutingBookPublished, BookPublished{
		BookID:     book.ID,
		AuthorID:   book.AuthorID,
		Title:      book.Title,
		CoverImage: book.CoverImage,
	})
}

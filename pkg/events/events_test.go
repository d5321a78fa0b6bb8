package events

import (
	"context"
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"inkwell/pkg/domain"
)

func TestBookNotifierPublishesEvent(t *testing.T) {
	pub := &MemoryPublisher{}
	n := BookNotifier{Publisher: pub}
	book := domain.Book{ID: "b1", AuthorID: "u1", Title: "Dune", CoverImage: "https://img/c.png"}
	if err := n.NotifyPublished(context.Background(), book); err != nil {
		t.Fatalf("notify: %v", err)
	}
	evts := pub.Events()
	if len(evts) != 1 || evts[0].Type != RoutingBookPublished {
		t.Fatalf("unexpected events: %+v", evts)
	}
	var data BookPublished
	if err := json.Unmarshal(evts[0].Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.BookID != "b1" || data.Title != "Dune" {
		t.Fatalf("unexpected payload: %+v", data)
	}
}

func TestBuildPublishingIsPersistentJSON(t *testing.T) {
	evt, err := newEvent(RoutingBookDeleted, BookDeleted{BookID: "b1", Chapters: 2})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	msg, err := buildPublishing(evt)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if msg.DeliveryMode != amqp.Persistent || msg.ContentType != "application/json" || msg.MessageId != evt.ID {
		t.Fatalf("unexpected message: %+v", msg)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.Type != RoutingBookDeleted {
		t.Fatalf("expected type %s, got %s", RoutingBookDeleted, decoded.Type)
	}
}

package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"bankgate/pkg/stream"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	if _, err := NewKafkaPublisher(KafkaConfig{Topic: "t"}); err == nil {
		t.Fatal("expected error for missing brokers")
	}
	if _, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatal("expected error for missing topic")
	}
	if _, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{" ", ""}, Topic: "t"}); err == nil {
		t.Fatal("expected error for blank brokers")
	}
}

func TestPublishEncodesEvent(t *testing.T) {
	fw := &fakeWriter{}
	p := &KafkaPublisher{writer: fw}

	evt := stream.NewEvent(stream.EventQueryAnswered, stream.QueryAnswered{QueryID: "q1", Rounds: 2})
	if err := p.Publish(context.Background(), evt); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fw.msgs))
	}
	if string(fw.msgs[0].Key) != stream.EventQueryAnswered {
		t.Fatalf("unexpected key %q", fw.msgs[0].Key)
	}
	var decoded stream.Event
	if err := json.Unmarshal(fw.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Type != stream.EventQueryAnswered {
		t.Fatalf("unexpected event %+v", decoded)
	}
}

func TestForwardDrainsUntilContextEnds(t *testing.T) {
	fw := &fakeWriter{}
	p := &KafkaPublisher{writer: fw}

	ch := make(chan stream.Event, 2)
	ch <- stream.NewEvent(stream.EventToolCalled, nil)
	ch <- stream.NewEvent(stream.EventToolRefused, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Forward(ctx, ch)
		close(done)
	}()

	deadline := time.After(time.Second)
	for fw.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("forward did not drain, got %d messages", fw.count())
		default:
			time.Sleep(time.Millisecond)
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forward did not stop on context cancel")
	}
}

package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestChannelBusPublishSubscribe(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	var receivedMsg *domain.Message
	var wg sync.WaitGroup
	wg.Add(1)

	_, err := bus.Subscribe(ctx, domain.TopicTransactionIngested, func(ctx context.Context, msg *domain.Message) error {
		receivedMsg = msg
		wg.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if err := bus.Publish(ctx, domain.TopicTransactionIngested, []byte("hello")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}

	if string(receivedMsg.Payload) != "hello" {
		t.Errorf("payload = %q, want hello", receivedMsg.Payload)
	}
	if receivedMsg.Topic != domain.TopicTransactionIngested {
		t.Errorf("topic = %q", receivedMsg.Topic)
	}
	if receivedMsg.ID == "" {
		t.Error("message ID not set")
	}
}

func TestChannelBusTopicIsolation(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	var done, unmatched atomic.Int32

	bus.Subscribe(ctx, domain.TopicAssessmentDone, func(ctx context.Context, msg *domain.Message) error {
		done.Add(1)
		return nil
	})
	bus.Subscribe(ctx, domain.TopicAssessmentUnmatched, func(ctx context.Context, msg *domain.Message) error {
		unmatched.Add(1)
		return nil
	})

	time.Sleep(10 * time.Millisecond)

	bus.Publish(ctx, domain.TopicAssessmentDone, []byte("msg"))
	time.Sleep(50 * time.Millisecond)

	if done.Load() != 1 {
		t.Errorf("done subscriber got %d messages, want 1", done.Load())
	}
	if unmatched.Load() != 0 {
		t.Errorf("unmatched subscriber got %d messages, want 0", unmatched.Load())
	}
}

func TestChannelBusUnsubscribe(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	var count atomic.Int32

	sub, _ := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
		count.Add(1)
		return nil
	})

	time.Sleep(10 * time.Millisecond)

	bus.Publish(ctx, "unsub.topic", []byte("msg1"))
	time.Sleep(50 * time.Millisecond)

	if count.Load() != 1 {
		t.Errorf("expected 1 message before unsubscribe, got %d", count.Load())
	}

	sub.Unsubscribe()
	time.Sleep(10 * time.Millisecond)

	bus.Publish(ctx, "unsub.topic", []byte("msg2"))
	time.Sleep(50 * time.Millisecond)

	if count.Load() != 1 {
		t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
	}
}

func TestChannelBusMultipleSubscribers(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	var count1, count2 atomic.Int32

	bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
		count1.Add(1)
		return nil
	})
	bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
		count2.Add(1)
		return nil
	})

	time.Sleep(10 * time.Millisecond)

	bus.Publish(ctx, "multi.topic", []byte("broadcast"))
	time.Sleep(50 * time.Millisecond)

	if count1.Load() != 1 || count2.Load() != 1 {
		t.Errorf("expected both subscribers to receive, got %d and %d", count1.Load(), count2.Load())
	}
}

func TestChannelBusRequestReply(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	bus.Subscribe(ctx, "echo", func(ctx context.Context, msg *domain.Message) error {
		replyTo := msg.Metadata["reply_to"]
		if replyTo == "" {
			return nil
		}
		return bus.Publish(ctx, replyTo, append([]byte("echo:"), msg.Payload...))
	})

	time.Sleep(10 * time.Millisecond)

	reply, err := bus.Request(ctx, "echo", []byte("ping"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if string(reply) != "echo:ping" {
		t.Errorf("reply = %q, want echo:ping", reply)
	}
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	if err := bus.Publish(ctx, "close.topic", []byte("data")); err == nil {
		t.Error("expected publish error after close")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
	if _, err := bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error { return nil }); err == nil {
		t.Error("expected subscribe error after close")
	}
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()

	var received atomic.Int32
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	time.Sleep(10 * time.Millisecond)

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, "load.topic", []byte("msg"))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != messageCount {
			t.Errorf("expected %d messages, got %d", messageCount, received.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d messages", received.Load(), messageCount)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()

		if _, ok := b.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

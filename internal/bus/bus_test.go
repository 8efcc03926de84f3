package bus

import (
	"context"
	"testing"
)

func TestDeliveryInSubscriptionOrder(t *testing.T) {
	b := New()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		b.Subscribe("t", func(ctx context.Context, ev Event) {
			got = append(got, i)
		})
	}

	b.Publish(context.Background(), Event{Topic: "t"})

	if len(got) != 5 {
		t.Fatalf("delivered to %d handlers, want 5", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("delivery order %v, want ascending", got)
		}
	}
}

func TestPanicDoesNotAbortDelivery(t *testing.T) {
	b := New()
	var after bool
	b.Subscribe("t", func(ctx context.Context, ev Event) { panic("boom") })
	b.Subscribe("t", func(ctx context.Context, ev Event) { after = true })

	b.Publish(context.Background(), Event{Topic: "t"})

	if !after {
		t.Error("handler after the panicking one was not invoked")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	var calls int
	id := b.Subscribe("t", func(ctx context.Context, ev Event) { calls++ })
	b.Publish(context.Background(), Event{Topic: "t"})
	b.Unsubscribe("t", id)
	b.Publish(context.Background(), Event{Topic: "t"})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if b.SubscriberCount("t") != 0 {
		t.Errorf("SubscriberCount = %d, want 0", b.SubscriberCount("t"))
	}
}

func TestHandlerMaySubscribeDuringPublish(t *testing.T) {
	b := New()
	var lateCalls int
	b.Subscribe("t", func(ctx context.Context, ev Event) {
		b.Subscribe("t", func(ctx context.Context, ev Event) { lateCalls++ })
	})

	b.Publish(context.Background(), Event{Topic: "t"})
	if lateCalls != 0 {
		t.Error("late subscriber must not see the in-flight publish")
	}

	b.Publish(context.Background(), Event{Topic: "t"})
	if lateCalls != 1 {
		t.Errorf("late subscriber calls = %d, want 1", lateCalls)
	}
}

package eventbus

import "testing"

func TestPublishFanout(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubC()

	b.Publish(Event{Type: JobStarted, Data: "j1"})
	if e := <-a; e.Type != JobStarted || e.Time.IsZero() {
		t.Fatalf("a got %+v", e)
	}
	if e := <-c; e.Data != "j1" || !e.IsJob() {
		t.Fatalf("c got %+v", e)
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatalf("channel not closed after unsubscribe")
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: FlowExpired, Data: int64(1)})
	b.Publish(Event{Type: FlowExpired, Data: int64(2)})
	b.Publish(Event{Type: SessionLogout, Data: int64(3)})

	if got := b.Dropped(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
	if e := <-ch; e.Data != int64(1) || e.IsJob() {
		t.Fatalf("kept %+v, want first event", e)
	}
}

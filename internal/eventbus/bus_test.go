package eventbus

import "testing"

func TestPublishFiltersByPrefix(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	sched, unsubSched := b.Subscribe(4, "schedule.")
	defer unsubSched()

	b.Publish(Event{Type: "schedule.fired"})
	b.Publish(Event{Type: "config.reloaded"})

	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber got %d events", got)
	}
	if got := len(sched); got != 1 {
		t.Fatalf("prefix subscriber got %d events", got)
	}
	if e := <-sched; e.Type != "schedule.fired" || e.Time.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: "x"})
	}
	if len(ch) != 1 {
		t.Fatalf("buffer should hold exactly one event")
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "after"})
}

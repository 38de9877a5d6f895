package channel

import "testing"

func newTestSession(buf int) *Session {
	return &Session{
		outbound:  make(chan []byte, buf),
		closeOnce: make(chan struct{}),
	}
}

func TestHubPublishExcludesSender(t *testing.T) {
	h := NewHub()
	a := newTestSession(4)
	b := newTestSession(4)
	h.Join("sync:doc1", a)
	h.Join("sync:doc1", b)

	h.Publish("sync:doc1", a, []byte("hello"))

	select {
	case msg := <-b.outbound:
		if string(msg) != "hello" {
			t.Fatalf("unexpected message: %s", msg)
		}
	default:
		t.Fatalf("expected b to receive broadcast")
	}

	select {
	case msg := <-a.outbound:
		t.Fatalf("expected sender excluded from broadcast, got %s", msg)
	default:
	}
}

func TestHubPublishUnknownTopicIsNoop(t *testing.T) {
	h := NewHub()
	a := newTestSession(4)
	h.Join("sync:doc1", a)

	h.Publish("sync:other", nil, []byte("x"))

	select {
	case msg := <-a.outbound:
		t.Fatalf("unexpected message on unrelated topic: %s", msg)
	default:
	}
}

func TestHubLeaveRemovesFromAllTopics(t *testing.T) {
	h := NewHub()
	a := newTestSession(4)
	h.Join("sync:doc1", a)
	h.Join("sync:doc2", a)

	h.Leave(a)

	h.Publish("sync:doc1", nil, []byte("x"))
	h.Publish("sync:doc2", nil, []byte("y"))

	select {
	case msg := <-a.outbound:
		t.Fatalf("expected no delivery after leave, got %s", msg)
	default:
	}
}

func TestSessionTrySendDropsWhenFull(t *testing.T) {
	a := newTestSession(1)
	a.trySend([]byte("first"))
	a.trySend([]byte("second")) // buffer full, dropped silently

	got := <-a.outbound
	if string(got) != "first" {
		t.Fatalf("expected first message retained, got %s", got)
	}
	select {
	case extra := <-a.outbound:
		t.Fatalf("expected no second message, got %s", extra)
	default:
	}
}

package ws

import (
	"sync"
	"testing"
)

type fakeConn struct {
	id string

	mu   sync.Mutex
	msgs []Message
}

func (c *fakeConn) Send(msg Message) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error { return nil }
func (c *fakeConn) ID() string   { return c.id }

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestHubBroadcastExcept(t *testing.T) {
	h := NewHub()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	other := &fakeConn{id: "x"}
	h.Add("r1", a)
	h.Add("r1", b)
	h.Add("r2", other)

	h.BroadcastExcept("r1", "a", Message{Type: TypeReceiveCode})

	if a.count() != 0 {
		t.Fatalf("sender received its own broadcast")
	}
	if b.count() != 1 {
		t.Fatalf("b got %d messages, want 1", b.count())
	}
	if other.count() != 0 {
		t.Fatalf("other room got %d messages", other.count())
	}
}

func TestHubSendToScopedByRoom(t *testing.T) {
	h := NewHub()
	b := &fakeConn{id: "b"}
	h.Add("r2", b)

	// адресат существует, но в другой комнате — не доставляем
	if h.SendTo("r1", "b", Message{Type: TypeSignal}) {
		t.Fatal("SendTo crossed room boundary")
	}
	if !h.SendTo("r2", "b", Message{Type: TypeSignal}) {
		t.Fatal("SendTo failed inside the room")
	}
	if h.SendTo("r2", "ghost", Message{Type: TypeSignal}) {
		t.Fatal("SendTo to absent conn reported delivery")
	}
	if b.count() != 1 {
		t.Fatalf("b got %d messages, want 1", b.count())
	}
}

func TestHubAddMovesConnBetweenRooms(t *testing.T) {
	h := NewHub()
	a := &fakeConn{id: "a"}
	h.Add("r1", a)
	h.Add("r2", a)

	if h.SendTo("r1", "a", Message{}) {
		t.Fatal("conn still reachable in the old room")
	}
	if !h.SendTo("r2", "a", Message{}) {
		t.Fatal("conn not reachable in the new room")
	}
}

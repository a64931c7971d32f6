package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/collab-service/internal/domain"
	"github.com/cwrk-planet/collab-service/internal/presence"
)

type stubChat struct {
	mu     sync.Mutex
	nextID int64
}

func (s *stubChat) Save(_ context.Context, roomID, username, text string) (*domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return &domain.ChatMessage{
		ID:        s.nextID,
		RoomID:    roomID,
		Username:  username,
		Text:      text,
		CreatedAt: time.Now(),
	}, nil
}

type stubCode struct {
	mu   sync.Mutex
	code string
	lang string
}

func (s *stubCode) Save(_ context.Context, _, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code = code
	return nil
}

func (s *stubCode) SetLanguage(_ context.Context, _, lang string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lang = lang
	return nil
}

func newTestServer(t *testing.T) (wsURL string, reg *presence.MemoryStore) {
	t.Helper()
	reg = presence.NewMemoryStore()
	srv := NewServer(NewHub(), reg, &stubChat{}, &stubCode{})
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWS))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http"), reg
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(Message{Type: typ, Payload: payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// waitFor читает сообщения, пока не встретит нужный тип. Типы из skip
// молча пропускаются; любой другой — ошибка теста.
func waitFor(t *testing.T, conn *websocket.Conn, typ string, dst any, skip ...string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg.Type == typ {
			if dst != nil {
				if err := decode(msg.Payload, dst); err != nil {
					t.Fatalf("decode %s: %v", typ, err)
				}
			}
			return
		}
		skipped := false
		for _, s := range skip {
			if msg.Type == s {
				skipped = true
				break
			}
		}
		if !skipped {
			t.Fatalf("waiting for %s, got %s", typ, msg.Type)
		}
	}
}

// join выполняет join_room и дочитывает до user_list, возвращая selfId.
func join(t *testing.T, conn *websocket.Conn, roomID, username string) string {
	t.Helper()
	send(t, conn, TypeJoinRoom, JoinRoomPayload{RoomID: roomID, Username: username})
	var list UserListPayload
	waitFor(t, conn, TypeUserList, &list, TypeUserJoined, TypeUserCountUpdate)
	if list.SelfID == "" {
		t.Fatal("user_list without selfId")
	}
	return list.SelfID
}

// probe гарантирует, что в очереди соединения нет нежелательных сообщений:
// после get_user_count первым обязан прийти user_count (FIFO на соединении).
func probe(t *testing.T, conn *websocket.Conn, roomID string) int {
	t.Helper()
	send(t, conn, TypeGetUserCount, GetUserCountPayload{RoomID: roomID})
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("probe read: %v", err)
	}
	if msg.Type != TypeUserCount {
		t.Fatalf("probe: unexpected queued message %s", msg.Type)
	}
	var p UserCountPayload
	if err := decode(msg.Payload, &p); err != nil {
		t.Fatalf("probe decode: %v", err)
	}
	return p.Count
}

func TestJoinBroadcastsToEveryoneIncludingOriginator(t *testing.T) {
	wsURL, _ := newTestServer(t)

	a := dial(t, wsURL)
	send(t, a, TypeJoinRoom, JoinRoomPayload{RoomID: "r1", Username: "alice"})

	var joined UserJoinedPayload
	waitFor(t, a, TypeUserJoined, &joined)
	if joined.Username != "alice" || joined.UserCount != 1 {
		t.Fatalf("user_joined = %+v, want alice/1", joined)
	}
	var count UserCountPayload
	waitFor(t, a, TypeUserCountUpdate, &count)
	if count.Count != 1 || count.RoomID != "r1" {
		t.Fatalf("user_count_update = %+v, want 1/r1", count)
	}
	var list UserListPayload
	waitFor(t, a, TypeUserList, &list)
	if list.Count != 1 || list.SelfID == "" {
		t.Fatalf("user_list = %+v", list)
	}

	b := dial(t, wsURL)
	join(t, b, "r1", "bob")

	// A is notified about B with userCount=2
	waitFor(t, a, TypeUserJoined, &joined)
	if joined.Username != "bob" || joined.UserCount != 2 {
		t.Fatalf("user_joined(bob) = %+v, want bob/2", joined)
	}
}

func TestCodeBroadcastExcludesSender(t *testing.T) {
	wsURL, _ := newTestServer(t)

	a := dial(t, wsURL)
	join(t, a, "r1", "alice")
	b := dial(t, wsURL)
	join(t, b, "r1", "bob")
	waitFor(t, a, TypeUserCountUpdate, nil, TypeUserJoined) // B's join reaching A

	send(t, a, TypeSendCode, CodePayload{RoomID: "r1", Code: "print(1)"})

	var code ReceiveCodePayload
	waitFor(t, b, TypeReceiveCode, &code)
	if code.Code != "print(1)" {
		t.Fatalf("receive_code = %q, want print(1)", code.Code)
	}

	// A (отправитель) не должен получить собственный снапшот
	if n := probe(t, a, "r1"); n != 2 {
		t.Fatalf("probe count = %d, want 2", n)
	}
}

func TestEmptyCodeSnapshotDropped(t *testing.T) {
	wsURL, _ := newTestServer(t)

	a := dial(t, wsURL)
	join(t, a, "r1", "alice")
	b := dial(t, wsURL)
	join(t, b, "r1", "bob")
	waitFor(t, a, TypeUserCountUpdate, nil, TypeUserJoined)

	// пустой снапшот неотличим от отсутствующего поля — не рассылается
	send(t, a, TypeSendCode, CodePayload{RoomID: "r1"})

	if n := probe(t, b, "r1"); n != 2 {
		t.Fatalf("probe count = %d, want 2", n)
	}
}

func TestChatCanonicalBroadcastIncludesSender(t *testing.T) {
	wsURL, _ := newTestServer(t)

	a := dial(t, wsURL)
	join(t, a, "r1", "alice")
	b := dial(t, wsURL)
	join(t, b, "r1", "bob")
	waitFor(t, a, TypeUserCountUpdate, nil, TypeUserJoined)

	send(t, b, TypeSendMessage, ChatSendPayload{RoomID: "r1", Text: "  hello  ", Username: "bob"})

	for _, conn := range []*websocket.Conn{a, b} {
		var msg ReceiveMessagePayload
		waitFor(t, conn, TypeReceiveMessage, &msg)
		if msg.ID == 0 {
			t.Fatal("canonical message without durable id")
		}
		if msg.Message != "hello" || msg.Username != "bob" {
			t.Fatalf("receive_message = %+v", msg)
		}
		if msg.CreatedAt.IsZero() {
			t.Fatal("canonical message without server timestamp")
		}
	}
}

func TestCursorBroadcastExcludesSender(t *testing.T) {
	wsURL, reg := newTestServer(t)

	a := dial(t, wsURL)
	aID := join(t, a, "r1", "alice")
	b := dial(t, wsURL)
	join(t, b, "r1", "bob")
	waitFor(t, a, TypeUserCountUpdate, nil, TypeUserJoined)

	send(t, a, TypeSendCursor, CursorPayload{RoomID: "r1", LineNumber: 3, Column: 7, Username: "alice"})

	var cur ReceiveCursorPayload
	waitFor(t, b, TypeReceiveCursor, &cur)
	if cur.Username != "alice" || cur.LineNumber != 3 || cur.Column != 7 {
		t.Fatalf("receive_cursor = %+v", cur)
	}

	// позиция зафиксирована на участнике в реестре
	parts, _ := reg.List(context.Background(), "r1")
	for _, p := range parts {
		if p.ConnID == aID {
			if p.Cursor == nil || p.Cursor.LineNumber != 3 {
				t.Fatalf("registry cursor = %+v", p.Cursor)
			}
		}
	}
}

func TestSignalRelayedOnlyToTarget(t *testing.T) {
	wsURL, _ := newTestServer(t)

	a := dial(t, wsURL)
	aID := join(t, a, "r1", "alice")
	b := dial(t, wsURL)
	bID := join(t, b, "r1", "bob")
	c := dial(t, wsURL)
	join(t, c, "r1", "carol")

	waitFor(t, a, TypeUserCountUpdate, nil, TypeUserJoined)
	waitFor(t, a, TypeUserCountUpdate, nil, TypeUserJoined)
	waitFor(t, b, TypeUserCountUpdate, nil, TypeUserJoined)

	send(t, a, TypeSignal, SignalPayload{RoomID: "r1", TargetID: bID, Signal: []byte(`{"kind":"offer","sdp":"x"}`)})

	var fwd SignalForwardPayload
	waitFor(t, b, TypeSignal, &fwd)
	if fwd.FromID != aID {
		t.Fatalf("signal fromId = %q, want %q", fwd.FromID, aID)
	}
	if string(fwd.Signal) != `{"kind":"offer","sdp":"x"}` {
		t.Fatalf("signal payload = %s", fwd.Signal)
	}

	// C — посторонний для этого обмена: ничего, кроме ответа на probe
	if n := probe(t, c, "r1"); n != 3 {
		t.Fatalf("probe count = %d, want 3", n)
	}
	// и сам отправитель ничего не получает обратно
	if n := probe(t, a, "r1"); n != 3 {
		t.Fatalf("probe count = %d, want 3", n)
	}
}

func TestSignalToAbsentTargetSilentlyDropped(t *testing.T) {
	wsURL, _ := newTestServer(t)

	a := dial(t, wsURL)
	join(t, a, "r1", "alice")

	send(t, a, TypeSignal, SignalPayload{RoomID: "r1", TargetID: "nobody", Signal: []byte(`{}`)})

	// fire-and-forget: никакой ошибки отправителю
	if n := probe(t, a, "r1"); n != 1 {
		t.Fatalf("probe count = %d, want 1", n)
	}
}

func TestLeaveAndDisconnectScenario(t *testing.T) {
	wsURL, reg := newTestServer(t)

	// A joins r1 (count 1), B joins r1 (count 2)
	a := dial(t, wsURL)
	join(t, a, "r1", "alice")
	b := dial(t, wsURL)
	join(t, b, "r1", "bob")

	var joined UserJoinedPayload
	waitFor(t, a, TypeUserJoined, &joined)
	if joined.UserCount != 2 {
		t.Fatalf("after B join userCount = %d, want 2", joined.UserCount)
	}
	waitFor(t, a, TypeUserCountUpdate, nil)

	// B leaves: A notified with userCount=1
	send(t, b, TypeLeaveRoom, LeaveRoomPayload{RoomID: "r1"})
	var left UserLeftPayload
	waitFor(t, a, TypeUserLeft, &left)
	if left.Username != "bob" || left.UserCount != 1 {
		t.Fatalf("user_left = %+v, want bob/1", left)
	}

	// A disconnects abruptly: count 0 and the room entry is gone
	_ = a.Close()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if n, _ := reg.Count(context.Background(), "r1"); n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("room not cleaned up after abrupt disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if parts, _ := reg.List(context.Background(), "r1"); parts != nil {
		t.Fatalf("room entry leaked: %v", parts)
	}
}

func TestSecondJoinImplicitlyLeavesFirstRoom(t *testing.T) {
	wsURL, reg := newTestServer(t)

	a := dial(t, wsURL)
	join(t, a, "r1", "alice")
	b := dial(t, wsURL)
	join(t, b, "r1", "bob")
	waitFor(t, a, TypeUserCountUpdate, nil, TypeUserJoined)

	// B switches to r2 without leaving r1
	join(t, b, "r2", "bob")

	var left UserLeftPayload
	waitFor(t, a, TypeUserLeft, &left)
	if left.Username != "bob" || left.UserCount != 1 {
		t.Fatalf("user_left = %+v, want bob/1", left)
	}

	if n, _ := reg.Count(context.Background(), "r1"); n != 1 {
		t.Fatalf("r1 count = %d, want 1", n)
	}
	if n, _ := reg.Count(context.Background(), "r2"); n != 1 {
		t.Fatalf("r2 count = %d, want 1", n)
	}
}

func TestMalformedEventsDroppedWithoutStateChange(t *testing.T) {
	wsURL, reg := newTestServer(t)

	a := dial(t, wsURL)

	// не-JSON, join без username, события вне комнаты
	_ = a.WriteMessage(websocket.TextMessage, []byte("not json"))
	send(t, a, TypeJoinRoom, JoinRoomPayload{RoomID: "r1"})
	send(t, a, TypeSendCode, CodePayload{RoomID: "r1", Code: "x"})
	send(t, a, TypeSendMessage, ChatSendPayload{RoomID: "r1", Text: "hi", Username: "ghost"})

	// соединение живо и корректный join по-прежнему работает
	join(t, a, "r1", "alice")
	if n, _ := reg.Count(context.Background(), "r1"); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestLanguageChangeBroadcast(t *testing.T) {
	wsURL, _ := newTestServer(t)

	a := dial(t, wsURL)
	join(t, a, "r1", "alice")
	b := dial(t, wsURL)
	join(t, b, "r1", "bob")

	send(t, b, TypeLanguageChange, LanguagePayload{RoomID: "r1", Language: "go"})

	var lang ReceiveLanguagePayload
	waitFor(t, a, TypeReceiveLanguage, &lang, TypeUserJoined, TypeUserCountUpdate)
	if lang.Language != "go" {
		t.Fatalf("receive_language = %+v", lang)
	}
}

package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/collab-service/internal/domain"
	"github.com/cwrk-planet/collab-service/internal/presence"
	"github.com/cwrk-planet/collab-service/internal/transport/ws"
)

func newRoomServer(t *testing.T) string {
	t.Helper()
	srv := ws.NewServer(ws.NewHub(), presence.NewMemoryStore(), nil, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.HandleWS)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts.URL
}

func waitUntil(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionJoinEditAndLeave(t *testing.T) {
	url := newRoomServer(t)

	var mu sync.Mutex
	var aChat []ws.ReceiveMessagePayload
	var aLeft []string

	a := NewSession(Options{
		ServerURL: url,
		RoomID:    "r1",
		Username:  "alice",
		Handlers: Handlers{
			OnChat: func(m ws.ReceiveMessagePayload) {
				mu.Lock()
				aChat = append(aChat, m)
				mu.Unlock()
			},
			OnLeft: func(ev ws.UserLeftPayload) {
				mu.Lock()
				aLeft = append(aLeft, ev.Username)
				mu.Unlock()
			},
		},
	})
	b := NewSession(Options{ServerURL: url, RoomID: "r1", Username: "bob"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()
	go func() { _ = b.Run(ctx) }()
	defer a.Close()
	defer b.Close()

	waitUntil(t, func() bool { return a.State() == StateJoined }, "alice joined")
	waitUntil(t, func() bool { return b.State() == StateJoined }, "bob joined")
	if a.ConnID() == "" || a.ConnID() == b.ConnID() {
		t.Fatalf("conn ids: a=%q b=%q", a.ConnID(), b.ConnID())
	}

	// снапшот кода доходит до второго участника, локальный буфер автора цел
	if err := a.SetCode("print(1)"); err != nil {
		t.Fatalf("SetCode: %v", err)
	}
	waitUntil(t, func() bool { return b.Buffer() == "print(1)" }, "code at bob")
	if a.Buffer() != "print(1)" {
		t.Fatalf("alice buffer = %q", a.Buffer())
	}

	// курсор: у наблюдателя появляется запись по username
	if err := b.SendCursor(4, 2); err != nil {
		t.Fatalf("SendCursor: %v", err)
	}
	waitUntil(t, func() bool {
		pos, ok := a.Cursors()["bob"]
		return ok && pos == (domain.CursorPosition{LineNumber: 4, Column: 2})
	}, "bob cursor at alice")

	// язык
	if err := b.SetLanguage("go"); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	waitUntil(t, func() bool { return a.Language() == "go" }, "language at alice")

	// чат приходит и отправителю, и остальным
	if err := a.SendMessage("hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(aChat) == 1 && aChat[0].Message == "hi" && aChat[0].Username == "alice"
	}, "chat echo at alice")

	// уход bob-а: уведомление и уборка его курсора
	_ = b.Close()
	waitUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(aLeft) == 1 && aLeft[0] == "bob"
	}, "user_left at alice")
	waitUntil(t, func() bool {
		_, ok := a.Cursors()["bob"]
		return !ok
	}, "bob cursor removed")
}

func TestSessionReconnectsAfterTransportLoss(t *testing.T) {
	url := newRoomServer(t)

	var mu sync.Mutex
	var bLeft, bJoined []string

	a := NewSession(Options{ServerURL: url, RoomID: "r1", Username: "alice"})
	b := NewSession(Options{ServerURL: url, RoomID: "r1", Username: "bob", Handlers: Handlers{
		OnLeft: func(ev ws.UserLeftPayload) {
			mu.Lock()
			bLeft = append(bLeft, ev.Username)
			mu.Unlock()
		},
		OnJoined: func(ev ws.UserJoinedPayload) {
			mu.Lock()
			bJoined = append(bJoined, ev.Username)
			mu.Unlock()
		},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()
	go func() { _ = b.Run(ctx) }()
	defer a.Close()
	defer b.Close()

	waitUntil(t, func() bool { return a.State() == StateJoined }, "alice joined")
	waitUntil(t, func() bool { return b.State() == StateJoined }, "bob joined")
	firstID := a.ConnID()
	mu.Lock()
	joinedBefore := len(bJoined)
	mu.Unlock()

	// кадр больше серверного лимита чтения: сервер рвёт транспорт со своей
	// стороны, для клиента это обрыв посреди живой сессии
	_ = a.SetCode(strings.Repeat("x", 2<<20))

	// обрыв обрабатывается как свежий вход: новый dial, повторный join_room,
	// новый connection id
	waitUntil(t, func() bool {
		return a.State() == StateJoined && a.ConnID() != "" && a.ConnID() != firstID
	}, "alice re-joined with a fresh conn id")

	// остальные видят уход старого соединения и приход нового
	waitUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bLeft) >= 1 && bLeft[0] == "alice" && len(bJoined) > joinedBefore
	}, "bob observed the departure and the re-join")
}

func TestSessionTargetedSignal(t *testing.T) {
	url := newRoomServer(t)

	type sig struct {
		from    string
		payload string
	}
	bCh := make(chan sig, 1)
	cCh := make(chan sig, 1)

	a := NewSession(Options{ServerURL: url, RoomID: "r1", Username: "alice"})
	b := NewSession(Options{ServerURL: url, RoomID: "r1", Username: "bob", Handlers: Handlers{
		OnSignal: func(fromID string, payload json.RawMessage) { bCh <- sig{fromID, string(payload)} },
	}})
	c := NewSession(Options{ServerURL: url, RoomID: "r1", Username: "carol", Handlers: Handlers{
		OnSignal: func(fromID string, payload json.RawMessage) { cCh <- sig{fromID, string(payload)} },
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, s := range []*Session{a, b, c} {
		s := s
		go func() { _ = s.Run(ctx) }()
		defer s.Close()
	}
	for _, s := range []*Session{a, b, c} {
		s := s
		waitUntil(t, func() bool { return s.State() == StateJoined }, "joined")
	}

	if err := a.Signal(b.ConnID(), []byte(`{"kind":"offer","sdp":"v=0"}`)); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	select {
	case got := <-bCh:
		if got.from != a.ConnID() {
			t.Fatalf("signal from %q, want %q", got.from, a.ConnID())
		}
		if got.payload != `{"kind":"offer","sdp":"v=0"}` {
			t.Fatalf("signal payload = %s", got.payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("signal never reached target")
	}

	select {
	case got := <-cCh:
		t.Fatalf("bystander received signal: %+v", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHandleEchoSuppression(t *testing.T) {
	var got []string
	s := NewSession(Options{Handlers: Handlers{
		OnCode: func(code string) { got = append(got, code) },
	}})
	s.buffer = "print(1)"

	// отражение собственной правки — подавляется
	s.handle(ws.Message{Type: ws.TypeReceiveCode, Payload: ws.ReceiveCodePayload{Code: "print(1)"}})
	if len(got) != 0 {
		t.Fatalf("echo not suppressed: %v", got)
	}

	// чужая правка — применяется
	s.handle(ws.Message{Type: ws.TypeReceiveCode, Payload: ws.ReceiveCodePayload{Code: "print(2)"}})
	if len(got) != 1 || got[0] != "print(2)" {
		t.Fatalf("got = %v", got)
	}
	if s.Buffer() != "print(2)" {
		t.Fatalf("buffer = %q", s.Buffer())
	}
}

func TestHandleUserListConfirmsJoin(t *testing.T) {
	var states []State
	var counts []int
	s := NewSession(Options{Handlers: Handlers{
		OnState: func(st State) { states = append(states, st) },
		OnCount: func(n int) { counts = append(counts, n) },
	}})

	s.handle(ws.Message{Type: ws.TypeUserList, Payload: ws.UserListPayload{
		Users:  []ws.UserListItem{{ID: "c1", Username: "alice"}},
		Count:  1,
		SelfID: "c1",
	}})

	if s.State() != StateJoined || s.ConnID() != "c1" {
		t.Fatalf("state=%v connID=%q", s.State(), s.ConnID())
	}
	if len(states) != 1 || states[0] != StateJoined {
		t.Fatalf("states = %v", states)
	}
	if len(counts) != 1 || counts[0] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestHandleOwnJoinNotReportedAsPeer(t *testing.T) {
	var joined []string
	s := NewSession(Options{Handlers: Handlers{
		OnJoined: func(ev ws.UserJoinedPayload) { joined = append(joined, ev.Username) },
	}})
	s.connID = "self"

	s.handle(ws.Message{Type: ws.TypeUserJoined, Payload: ws.UserJoinedPayload{Username: "me", SocketID: "self", UserCount: 1}})
	s.handle(ws.Message{Type: ws.TypeUserJoined, Payload: ws.UserJoinedPayload{Username: "bob", SocketID: "other", UserCount: 2}})

	if len(joined) != 1 || joined[0] != "bob" {
		t.Fatalf("joined = %v", joined)
	}
}

func TestHandleUserLeftDropsCursor(t *testing.T) {
	s := NewSession(Options{})
	s.handle(ws.Message{Type: ws.TypeReceiveCursor, Payload: ws.ReceiveCursorPayload{Username: "bob", LineNumber: 1, Column: 1}})
	if _, ok := s.Cursors()["bob"]; !ok {
		t.Fatal("cursor not recorded")
	}
	s.handle(ws.Message{Type: ws.TypeUserLeft, Payload: ws.UserLeftPayload{Username: "bob", UserCount: 1}})
	if _, ok := s.Cursors()["bob"]; ok {
		t.Fatal("cursor of departed user kept")
	}
}

func TestEmitWithoutConnection(t *testing.T) {
	s := NewSession(Options{RoomID: "r1", Username: "alice"})
	if err := s.SendMessage("hi"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("err = %v, want ErrSessionClosed", err)
	}
}

func TestRunAfterCloseReturnsClosed(t *testing.T) {
	s := NewSession(Options{ServerURL: "http://127.0.0.1:0", RoomID: "r1", Username: "alice"})
	_ = s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("err = %v, want ErrSessionClosed", err)
	}
}

func TestHTTPToWS(t *testing.T) {
	cases := map[string]string{
		"http://host:8080":   "ws://host:8080",
		"https://host/":      "wss://host",
		"ws://already":       "ws://already",
		"http://host:8080//": "ws://host:8080",
	}
	for in, want := range cases {
		if got := httpToWS(in); got != want {
			t.Errorf("httpToWS(%q) = %q, want %q", in, got, want)
		}
	}
}

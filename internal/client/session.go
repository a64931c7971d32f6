package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/collab-service/internal/domain"
	"github.com/cwrk-planet/collab-service/internal/transport/ws"
)

// State — жизненный цикл участия в комнате.
type State int32

const (
	StateIdle State = iota
	StateJoining
	StateJoined
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	default:
		return "idle"
	}
}

// Handlers — единственная долгоживущая подписка на события сессии.
// Устанавливается один раз на сессию; teardown явный, через Close.
// Колбэки вызываются из читающей горутины, по одному за раз.
type Handlers struct {
	OnChat     func(msg ws.ReceiveMessagePayload)
	OnCode     func(code string)
	OnLanguage func(language string)
	OnCursor   func(username string, pos domain.CursorPosition)
	OnJoined   func(ev ws.UserJoinedPayload)
	OnLeft     func(ev ws.UserLeftPayload)
	OnCount    func(count int)
	OnSignal   func(fromID string, signal json.RawMessage)
	OnState    func(st State)
}

type Options struct {
	ServerURL string // http(s)://host:port
	RoomID    string
	Username  string
	Handlers  Handlers
}

var ErrSessionClosed = errors.New("session closed")

// Session — клиентский контроллер участия одного пользователя в одной
// комнате: join/leave, reconnect, сверка локального состояния (буфер кода,
// курсоры, счётчик участников) с broadcast-ами сервера.
type Session struct {
	opts Options
	api  *APIClient

	mu      sync.Mutex
	conn    *websocket.Conn
	sendMu  chan struct{}
	state   State
	connID  string // identity собственного соединения, из user_list
	buffer  string
	lang    string
	cursors map[string]domain.CursorPosition

	done      chan struct{}
	closeOnce sync.Once
}

func NewSession(opts Options) *Session {
	return &Session{
		opts:    opts,
		api:     NewAPIClient(opts.ServerURL),
		sendMu:  make(chan struct{}, 1),
		cursors: make(map[string]domain.CursorPosition),
		done:    make(chan struct{}),
	}
}

// Run держит сессию до Close или отмены контекста. Обрыв транспорта
// обрабатывается как свежий вход: reconnect с экспоненциальным backoff,
// повторный seed состояния, повторный join_room (сервер уже вычистил
// старый connection id своим disconnect-путём).
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := s.runOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}
		slog.Info("session reconnecting", "room", s.opts.RoomID)
	}
}

func (s *Session) runOnce(ctx context.Context) error {
	s.setState(StateJoining)

	conn, err := s.dial(ctx)
	if err != nil {
		s.setState(StateIdle)
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	// seed состояния по REST до подписки; best-effort, live-поток важнее
	s.seed(ctx)

	if err := s.emit(ws.TypeJoinRoom, ws.JoinRoomPayload{
		RoomID:   s.opts.RoomID,
		Username: s.opts.Username,
	}); err != nil {
		_ = conn.Close()
		s.setState(StateIdle)
		return nil
	}

	s.readLoop(conn)

	s.mu.Lock()
	s.conn = nil
	s.connID = ""
	s.mu.Unlock()
	s.setState(StateIdle)
	return nil
}

// dial подключается с экспоненциальным backoff, пока жив контекст и сессия.
func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL := httpToWS(s.opts.ServerURL) + "/ws"

	var conn *websocket.Conn
	op := func() error {
		select {
		case <-s.done:
			return backoff.Permanent(ErrSessionClosed)
		default:
		}
		c, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			slog.Debug("session dial failed", "url", wsURL, "err", err)
			return err
		}
		conn = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0 // retry until cancelled
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Session) seed(ctx context.Context) {
	if code, err := s.api.Code(ctx, s.opts.RoomID); err == nil {
		s.mu.Lock()
		s.buffer = code.Code
		s.lang = code.Language
		s.mu.Unlock()
	} else {
		slog.Debug("session code seed failed", "room", s.opts.RoomID, "err", err)
	}
	if msgs, err := s.api.Messages(ctx, s.opts.RoomID, 50); err == nil {
		if h := s.opts.Handlers.OnChat; h != nil {
			// история в хронологическом порядке, сервер отдаёт новейшие первыми
			for i := len(msgs.Items) - 1; i >= 0; i-- {
				it := msgs.Items[i]
				h(ws.ReceiveMessagePayload{ID: it.ID, Username: it.Username, Message: it.Message, CreatedAt: it.CreatedAt})
			}
		}
	} else {
		slog.Debug("session history seed failed", "room", s.opts.RoomID, "err", err)
	}
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		var msg ws.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		s.handle(msg)
	}
}

func (s *Session) handle(msg ws.Message) {
	h := s.opts.Handlers
	switch msg.Type {
	case ws.TypeUserList:
		var p ws.UserListPayload
		if decode(msg.Payload, &p) != nil {
			return
		}
		// подтверждение сервера с нашей собственной identity: Joining -> Joined
		s.mu.Lock()
		s.connID = p.SelfID
		s.mu.Unlock()
		s.setState(StateJoined)
		if h.OnCount != nil {
			h.OnCount(p.Count)
		}

	case ws.TypeUserJoined:
		var p ws.UserJoinedPayload
		if decode(msg.Payload, &p) != nil {
			return
		}
		if h.OnCount != nil {
			h.OnCount(p.UserCount)
		}
		if p.SocketID == s.ConnID() {
			return // о себе мы узнаём через user_list
		}
		if h.OnJoined != nil {
			h.OnJoined(p)
		}

	case ws.TypeUserLeft:
		var p ws.UserLeftPayload
		if decode(msg.Payload, &p) != nil {
			return
		}
		// курсор ушедшего не оставляем протухать
		s.mu.Lock()
		delete(s.cursors, p.Username)
		s.mu.Unlock()
		if h.OnCount != nil {
			h.OnCount(p.UserCount)
		}
		if h.OnLeft != nil {
			h.OnLeft(p)
		}

	case ws.TypeUserCount, ws.TypeUserCountUpdate:
		var p ws.UserCountPayload
		if decode(msg.Payload, &p) != nil {
			return
		}
		if h.OnCount != nil {
			h.OnCount(p.Count)
		}

	case ws.TypeReceiveCode:
		var p ws.ReceiveCodePayload
		if decode(msg.Payload, &p) != nil {
			return
		}
		s.mu.Lock()
		if p.Code == s.buffer {
			// echo suppression: собственная правка, отражённая сервером
			s.mu.Unlock()
			return
		}
		s.buffer = p.Code
		s.mu.Unlock()
		if h.OnCode != nil {
			h.OnCode(p.Code)
		}

	case ws.TypeReceiveCursor:
		var p ws.ReceiveCursorPayload
		if decode(msg.Payload, &p) != nil {
			return
		}
		pos := domain.CursorPosition{LineNumber: p.LineNumber, Column: p.Column}
		s.mu.Lock()
		s.cursors[p.Username] = pos
		s.mu.Unlock()
		if h.OnCursor != nil {
			h.OnCursor(p.Username, pos)
		}

	case ws.TypeReceiveLanguage:
		var p ws.ReceiveLanguagePayload
		if decode(msg.Payload, &p) != nil {
			return
		}
		s.mu.Lock()
		s.lang = p.Language
		s.mu.Unlock()
		if h.OnLanguage != nil {
			h.OnLanguage(p.Language)
		}

	case ws.TypeReceiveMessage:
		var p ws.ReceiveMessagePayload
		if decode(msg.Payload, &p) != nil {
			return
		}
		if h.OnChat != nil {
			h.OnChat(p)
		}

	case ws.TypeSignal:
		var p ws.SignalForwardPayload
		if decode(msg.Payload, &p) != nil {
			return
		}
		if h.OnSignal != nil {
			h.OnSignal(p.FromID, p.Signal)
		}
	}
}

// SetCode фиксирует локальную правку и рассылает снапшот остальным.
func (s *Session) SetCode(code string) error {
	s.mu.Lock()
	s.buffer = code
	s.mu.Unlock()
	return s.emit(ws.TypeSendCode, ws.CodePayload{RoomID: s.opts.RoomID, Code: code})
}

func (s *Session) SendCursor(line, column int) error {
	return s.emit(ws.TypeSendCursor, ws.CursorPayload{
		RoomID:     s.opts.RoomID,
		LineNumber: line,
		Column:     column,
		Username:   s.opts.Username,
	})
}

func (s *Session) SendMessage(text string) error {
	return s.emit(ws.TypeSendMessage, ws.ChatSendPayload{
		RoomID:   s.opts.RoomID,
		Text:     text,
		Username: s.opts.Username,
	})
}

func (s *Session) SetLanguage(language string) error {
	s.mu.Lock()
	s.lang = language
	s.mu.Unlock()
	return s.emit(ws.TypeLanguageChange, ws.LanguagePayload{RoomID: s.opts.RoomID, Language: language})
}

// Signal отправляет payload согласования конкретному участнику.
func (s *Session) Signal(targetID string, signal json.RawMessage) error {
	return s.emit(ws.TypeSignal, ws.SignalPayload{
		RoomID:   s.opts.RoomID,
		TargetID: targetID,
		Signal:   signal,
	})
}

func (s *Session) RequestUserCount() error {
	return s.emit(ws.TypeGetUserCount, ws.GetUserCountPayload{RoomID: s.opts.RoomID})
}

// Close — явный выход: leave_room best-effort, снятие всех подписок и
// закрытие соединения, не дожидаясь подтверждения сервера.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.setState(StateLeaving)
		close(s.done)
		_ = s.emit(ws.TypeLeaveRoom, ws.LeaveRoomPayload{
			RoomID:   s.opts.RoomID,
			Username: s.opts.Username,
		})
		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		s.setState(StateIdle)
	})
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConnID — identity собственного соединения; пустая строка до Joined.
func (s *Session) ConnID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID
}

// Buffer — текущее локальное представление общего буфера кода.
func (s *Session) Buffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}

func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lang
}

// Cursors — копия набора удалённых курсоров.
func (s *Session) Cursors() map[string]domain.CursorPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.CursorPosition, len(s.cursors))
	for k, v := range s.cursors {
		out[k] = v
	}
	return out
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	changed := s.state != st
	s.state = st
	s.mu.Unlock()
	if changed && s.opts.Handlers.OnState != nil {
		s.opts.Handlers.OnState(st)
	}
}

func (s *Session) emit(typ string, payload any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrSessionClosed
	}

	s.sendMu <- struct{}{}
	defer func() { <-s.sendMu }()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(ws.Message{Type: typ, Payload: payload})
}

func httpToWS(serverURL string) string {
	u := strings.TrimRight(serverURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return u
	}
}

func decode(payload interface{}, dst interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

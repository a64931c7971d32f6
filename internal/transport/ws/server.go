package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/collab-service/internal/domain"
	"github.com/cwrk-planet/collab-service/internal/presence"
)

type ChatSvc interface {
	Save(ctx context.Context, roomID, username, text string) (*domain.ChatMessage, error)
}

type CodeSvc interface {
	Save(ctx context.Context, roomID, code string) error
	SetLanguage(ctx context.Context, roomID, language string) error
}

// Server — маршрутизатор realtime-событий: одно долгоживущее соединение на
// клиента, события join/leave/code/cursor/chat/signal. Состояние соединения:
// Disconnected -> Joined(roomID) -> Disconnected, без промежуточных.
type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	reg      presence.Store
	chatSvc  ChatSvc
	codeSvc  CodeSvc

	pingEvery time.Duration
}

func NewServer(hub *Hub, reg presence.Store, chat ChatSvc, code CodeSvc) *Server {
	return &Server{
		hub:     hub,
		reg:     reg,
		chatSvc: chat,
		codeSvc: code,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery: 15 * time.Second,
	}
}

// WS endpoint: GET /ws
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newWsConn(conn, uuid.NewString())
	slog.Debug("ws connected", "conn", c.id)

	go s.writeLoop(r.Context(), c)
	s.readLoop(r.Context(), c)

	// transport loss: полная уборка независимо от того, пришёл ли leave_room
	s.cleanupDisconnect(r.Context(), c)

	if err := c.Close(); err != nil {
		slog.Debug("ws close failed", "conn", c.id, "err", err)
	}
}

func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("ws malformed envelope", "conn", c.id, "err", err)
			continue
		}
		s.dispatch(ctx, c, msg)
	}
}

// dispatch валидирует и обрабатывает одно событие. Кривые события
// отбрасываются целиком: ни одно состояние не меняется частично.
func (s *Server) dispatch(ctx context.Context, c *wsConn, msg Message) {
	switch msg.Type {
	case TypeJoinRoom:
		var p JoinRoomPayload
		if decode(msg.Payload, &p) != nil || p.RoomID == "" || strings.TrimSpace(p.Username) == "" {
			slog.Debug("ws malformed join_room", "conn", c.id)
			return
		}
		s.handleJoin(ctx, c, p)

	case TypeLeaveRoom:
		var p LeaveRoomPayload
		if decode(msg.Payload, &p) != nil || p.RoomID == "" {
			slog.Debug("ws malformed leave_room", "conn", c.id)
			return
		}
		s.handleLeave(ctx, c, p.RoomID)

	case TypeSendCode:
		var p CodePayload
		// пустой code неотличим от отсутствующего поля — отбрасываем оба
		if decode(msg.Payload, &p) != nil || p.RoomID == "" || p.Code == "" || p.RoomID != c.room() {
			return
		}
		if s.codeSvc != nil {
			if err := s.codeSvc.Save(ctx, p.RoomID, p.Code); err != nil {
				slog.Warn("ws code save failed", "room", p.RoomID, "err", err)
			}
		}
		s.hub.BroadcastExcept(p.RoomID, c.id, Message{
			Type:    TypeReceiveCode,
			Payload: ReceiveCodePayload{Code: p.Code},
		})

	case TypeSendCursor:
		var p CursorPayload
		if decode(msg.Payload, &p) != nil || p.RoomID == "" || p.Username == "" || p.RoomID != c.room() {
			return
		}
		if err := s.reg.UpdateCursor(ctx, p.RoomID, c.id, p.LineNumber, p.Column); err != nil {
			slog.Debug("ws cursor update failed", "room", p.RoomID, "err", err)
		}
		s.hub.BroadcastExcept(p.RoomID, c.id, Message{
			Type: TypeReceiveCursor,
			Payload: ReceiveCursorPayload{
				Username:   p.Username,
				LineNumber: p.LineNumber,
				Column:     p.Column,
			},
		})

	case TypeLanguageChange:
		var p LanguagePayload
		if decode(msg.Payload, &p) != nil || p.RoomID == "" || p.Language == "" || p.RoomID != c.room() {
			return
		}
		if s.codeSvc != nil {
			if err := s.codeSvc.SetLanguage(ctx, p.RoomID, p.Language); err != nil {
				slog.Warn("ws language save failed", "room", p.RoomID, "err", err)
			}
		}
		s.hub.BroadcastExcept(p.RoomID, c.id, Message{
			Type:    TypeReceiveLanguage,
			Payload: ReceiveLanguagePayload{Language: p.Language},
		})

	case TypeSendMessage:
		var p ChatSendPayload
		if decode(msg.Payload, &p) != nil || p.RoomID == "" || p.Username == "" || p.RoomID != c.room() {
			return
		}
		s.handleChat(ctx, c, p)

	case TypeSignal:
		var p SignalPayload
		if decode(msg.Payload, &p) != nil || p.RoomID == "" || p.TargetID == "" || len(p.Signal) == 0 || p.RoomID != c.room() {
			return
		}
		s.relay(p.RoomID, c.id, p.TargetID, p.Signal)

	case TypeGetUserCount:
		var p GetUserCountPayload
		if decode(msg.Payload, &p) != nil || p.RoomID == "" {
			return
		}
		count, err := s.reg.Count(ctx, p.RoomID)
		if err != nil {
			slog.Warn("ws count failed", "room", p.RoomID, "err", err)
			return
		}
		// ответ только запросившему
		_ = c.Send(Message{Type: TypeUserCount, Payload: UserCountPayload{Count: count, RoomID: p.RoomID}})

	default:
		// ignore
	}
}

func (s *Server) handleJoin(ctx context.Context, c *wsConn, p JoinRoomPayload) {
	res, err := s.reg.Join(ctx, p.RoomID, domain.Participant{
		ConnID:   c.id,
		Username: p.Username,
		JoinedAt: time.Now(),
	})
	if err != nil {
		slog.Warn("ws join failed", "room", p.RoomID, "conn", c.id, "err", err)
		return
	}

	// неявный leave предыдущей комнаты: её участники получают user_left
	if res.Left != nil {
		s.hub.Remove(res.Left.RoomID, c.id)
		s.announceLeft(res.Left.RoomID, c.id, res.Left.Username, res.Left.Count)
	}

	c.setRoom(p.RoomID)
	s.hub.Add(p.RoomID, c)

	count := len(res.Participants)

	// user_joined и счётчик — всем в комнате, включая самого вошедшего:
	// его UI отражает подтверждённое сервером состояние.
	s.hub.Broadcast(p.RoomID, Message{
		Type:    TypeUserJoined,
		Payload: UserJoinedPayload{Username: p.Username, SocketID: c.id, UserCount: count},
	})
	s.hub.Broadcast(p.RoomID, Message{
		Type:    TypeUserCountUpdate,
		Payload: UserCountPayload{Count: count, RoomID: p.RoomID},
	})

	// снапшот участников — только новичку, с его собственным conn id
	items := make([]UserListItem, 0, len(res.Participants))
	for _, it := range res.Participants {
		items = append(items, UserListItem{ID: it.ConnID, Username: it.Username, JoinedAt: it.JoinedAt})
	}
	_ = c.Send(Message{
		Type:    TypeUserList,
		Payload: UserListPayload{Users: items, Count: count, SelfID: c.id},
	})

	slog.Info("ws joined", "room", p.RoomID, "conn", c.id, "user", p.Username, "count", count)
}

func (s *Server) handleLeave(ctx context.Context, c *wsConn, roomID string) {
	count, username, ok, err := s.reg.Leave(ctx, roomID, c.id)
	if err != nil {
		slog.Warn("ws leave failed", "room", roomID, "conn", c.id, "err", err)
		return
	}
	if !ok {
		// комната уже отсутствует или участник не в ней — no-op, без broadcast
		return
	}
	s.hub.Remove(roomID, c.id)
	c.setRoom("")
	s.announceLeft(roomID, c.id, username, count)
	slog.Info("ws left", "room", roomID, "conn", c.id, "user", username, "count", count)
}

func (s *Server) handleChat(ctx context.Context, c *wsConn, p ChatSendPayload) {
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return
	}

	var out ReceiveMessagePayload
	if s.chatSvc != nil {
		msg, err := s.chatSvc.Save(ctx, p.RoomID, p.Username, text)
		if err != nil {
			slog.Warn("ws chat save failed", "room", p.RoomID, "user", p.Username, "err", err)
			out = ReceiveMessagePayload{Username: p.Username, Message: text, CreatedAt: time.Now()}
		} else {
			out = ReceiveMessagePayload{ID: msg.ID, Username: msg.Username, Message: msg.Text, CreatedAt: msg.CreatedAt}
		}
	} else {
		out = ReceiveMessagePayload{Username: p.Username, Message: text, CreatedAt: time.Now()}
	}

	// каноническая запись — всем, включая отправителя
	s.hub.Broadcast(p.RoomID, Message{Type: TypeReceiveMessage, Payload: out})
}

// relay доставляет payload согласования только адресату, fire-and-forget.
// Если адресат не подключён — молча отбрасывается; верхние слои обязаны
// переживать потерю signaling-сообщений.
func (s *Server) relay(roomID, fromID, targetID string, signal json.RawMessage) {
	delivered := s.hub.SendTo(roomID, targetID, Message{
		Type:    TypeSignal,
		Payload: SignalForwardPayload{FromID: fromID, Signal: signal},
	})
	if !delivered {
		slog.Debug("ws signal dropped", "room", roomID, "from", fromID, "target", targetID)
	}
}

func (s *Server) cleanupDisconnect(ctx context.Context, c *wsConn) {
	roomID, count, username, ok, err := s.reg.Disconnect(ctx, c.id)
	if err != nil {
		slog.Warn("ws disconnect cleanup failed", "conn", c.id, "err", err)
		return
	}
	if !ok {
		return
	}
	s.hub.Remove(roomID, c.id)
	s.announceLeft(roomID, c.id, username, count)
	slog.Info("ws disconnected", "room", roomID, "conn", c.id, "user", username, "count", count)
}

func (s *Server) announceLeft(roomID, connID, username string, count int) {
	s.hub.Broadcast(roomID, Message{
		Type:    TypeUserLeft,
		Payload: UserLeftPayload{Username: username, SocketID: connID, UserCount: count},
	})
	s.hub.Broadcast(roomID, Message{
		Type:    TypeUserCountUpdate,
		Payload: UserCountPayload{Count: count, RoomID: roomID},
	})
}

func (s *Server) writeLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}

// --- helpers ---

func decode(payload interface{}, dst interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return json.Unmarshal(b, dst)
}

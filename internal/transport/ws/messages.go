package ws

import (
	"encoding/json"
	"time"
)

// Типы событий, которые поступают в WS от клиента
const (
	TypeJoinRoom       = "join_room"       // вход в комнату
	TypeLeaveRoom      = "leave_room"      // явный выход
	TypeSendCode       = "send_code"       // снапшот кода
	TypeSendCursor     = "send_cursor"     // позиция курсора
	TypeLanguageChange = "language_change" // смена языка редактора
	TypeSendMessage    = "send_message"    // чат-сообщение
	TypeSignal         = "signal"          // payload для согласования peer-соединения
	TypeGetUserCount   = "get_user_count"  // запрос счётчика (ответ только отправителю)
)

// Типы событий от сервера клиентам
const (
	TypeUserCountUpdate = "user_count_update" // счётчик изменился
	TypeUserCount       = "user_count"        // ответ на get_user_count
	TypeUserJoined      = "user_joined"       // пользователь присоединился
	TypeUserLeft        = "user_left"         // пользователь покинул
	TypeUserList        = "user_list"         // снапшот участников (только новичку)
	TypeReceiveCode     = "receive_code"      // обновление общего буфера
	TypeReceiveCursor   = "receive_cursor"    // курсор другого участника
	TypeReceiveLanguage = "receive_language"  // язык сменился
	TypeReceiveMessage  = "receive_message"   // каноническое чат-сообщение
)

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username"`
}

type LeaveRoomPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
}

type CodePayload struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

type CursorPayload struct {
	RoomID     string `json:"roomId"`
	LineNumber int    `json:"lineNumber"`
	Column     int    `json:"column"`
	Username   string `json:"username"`
}

type LanguagePayload struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
	UserID   string `json:"userId,omitempty"`
}

type ChatSendPayload struct {
	RoomID   string `json:"roomId"`
	Text     string `json:"text"`
	Username string `json:"username"`
}

// SignalPayload — непрозрачный payload согласования между двумя участниками.
// Сервер не разбирает Signal: это чистый транспорт.
type SignalPayload struct {
	RoomID   string          `json:"roomId"`
	FromID   string          `json:"fromId,omitempty"`
	TargetID string          `json:"targetId"`
	Signal   json.RawMessage `json:"signal"`
}

type GetUserCountPayload struct {
	RoomID string `json:"roomId"`
}

type UserCountPayload struct {
	Count  int    `json:"count"`
	RoomID string `json:"roomId"`
}

type UserJoinedPayload struct {
	Username  string `json:"username"`
	SocketID  string `json:"socketId"`
	UserCount int    `json:"userCount"`
}

type UserLeftPayload struct {
	Username  string `json:"username"`
	SocketID  string `json:"socketId"`
	UserCount int    `json:"userCount"`
}

type UserListItem struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
}

// UserListPayload отправляется только что вошедшему; SelfID — identity его
// собственного соединения, подтверждение Joining -> Joined на клиенте.
type UserListPayload struct {
	Users  []UserListItem `json:"users"`
	Count  int            `json:"count"`
	SelfID string         `json:"selfId"`
}

type ReceiveCodePayload struct {
	Code string `json:"code"`
}

type ReceiveCursorPayload struct {
	Username   string `json:"username"`
	LineNumber int    `json:"lineNumber"`
	Column     int    `json:"column"`
}

type ReceiveLanguagePayload struct {
	Language string `json:"language"`
}

type ReceiveMessagePayload struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// SignalForwardPayload — то, что получает адресат: payload плюс отправитель,
// чтобы клиент знал, к какой записи своей peer-таблицы он относится.
type SignalForwardPayload struct {
	FromID string          `json:"fromId"`
	Signal json.RawMessage `json:"signal"`
}

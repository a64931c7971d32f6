package http

import "time"

type ErrorResponse struct {
	Error string `json:"error"`
}

type CreateRoomRequest struct {
	RoomName string `json:"roomName"`
}

type RenameRoomRequest struct {
	RoomName string `json:"roomName"`
}

type RoomItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type RoomsListResponse struct {
	Items      []RoomItem `json:"items"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

type MessageItem struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

type MessagesResponse struct {
	Items      []MessageItem `json:"items"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

type CodeResponse struct {
	RoomID    string    `json:"roomId"`
	Code      string    `json:"code"`
	Language  string    `json:"language"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type RoomUserItem struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
}

type RoomUsersResponse struct {
	Users []RoomUserItem `json:"users"`
	Count int            `json:"count"`
}

type ICEServersResponse struct {
	STUNURLs []string `json:"stunUrls"`
	TURNURLs []string `json:"turnUrls"`
}

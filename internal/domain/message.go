package domain

import "time"

type ChatMessage struct {
	ID        int64     `db:"id"`
	RoomID    string    `db:"room_id"`
	Username  string    `db:"username"`
	Text      string    `db:"text"`
	CreatedAt time.Time `db:"created_at"`
}

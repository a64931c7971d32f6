package domain

import "time"

// CodeDocument — единственный актуальный буфер кода комнаты (last-writer-wins).
type CodeDocument struct {
	RoomID    string    `db:"room_id"`
	Code      string    `db:"code"`
	Language  string    `db:"language"`
	UpdatedAt time.Time `db:"updated_at"`
}

package domain

import "errors"

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotInRoom    = errors.New("user not in the room")
	ErrCodeNotFound = errors.New("code document not found")
)

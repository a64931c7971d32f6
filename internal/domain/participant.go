package domain

import "time"

// CursorPosition — последняя известная позиция курсора участника в редакторе.
type CursorPosition struct {
	LineNumber int `json:"lineNumber"`
	Column     int `json:"column"`
}

// Participant is one live connection inside a room. The ConnID is unique per
// connection, not per user: the same user reconnecting gets a fresh ConnID.
type Participant struct {
	ConnID   string          `json:"connId"`
	Username string          `json:"username"`
	JoinedAt time.Time       `json:"joinedAt"`
	Cursor   *CursorPosition `json:"cursor,omitempty"`
}

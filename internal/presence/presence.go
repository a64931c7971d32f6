package presence

import (
	"context"

	"github.com/cwrk-planet/collab-service/internal/domain"
)

// Departure describes a room the connection was implicitly removed from
// because it joined another room without leaving first.
type Departure struct {
	RoomID   string
	Username string
	Count    int
}

// JoinResult is the state after a join: the full participant list of the
// joined room and, if the connection occupied another room, the departure
// that the caller must announce there.
type JoinResult struct {
	Participants []domain.Participant
	Left         *Departure
}

// Store is the presence registry: room -> live participants, plus the
// connection -> room back-index used for disconnect cleanup. The two
// structures are mutated in lockstep; the set size is the authoritative
// user count, never a cached value.
//
// The in-memory implementation serves a single process; the redis one backs
// several processes with one shared registry.
type Store interface {
	// Join inserts the participant into the room's set. Idempotent per
	// connection ID: re-joining the same room overwrites the entry without
	// duplicating it. Joining a different room first removes the connection
	// from the old one (reported via JoinResult.Left).
	Join(ctx context.Context, roomID string, p domain.Participant) (JoinResult, error)

	// Leave removes the participant. ok is false if the room or the entry
	// was already absent. Empty rooms are garbage-collected.
	Leave(ctx context.Context, roomID, connID string) (count int, username string, ok bool, err error)

	// Disconnect removes whatever entry the connection holds, if any.
	Disconnect(ctx context.Context, connID string) (roomID string, count int, username string, ok bool, err error)

	// Count returns the current set size, 0 for absent rooms.
	Count(ctx context.Context, roomID string) (int, error)

	// List returns the room's participants, nil for absent rooms.
	List(ctx context.Context, roomID string) ([]domain.Participant, error)

	// UpdateCursor records the participant's last-known cursor position.
	// No-op if the participant is not in the room.
	UpdateCursor(ctx context.Context, roomID, connID string, line, column int) error
}

package presence

import (
	"context"
	"sync"

	"github.com/cwrk-planet/collab-service/internal/domain"
)

// MemoryStore — реестр присутствия в памяти одного процесса.
// rooms: roomID -> connID -> participant; index: connID -> roomID.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]map[string]domain.Participant
	index map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]map[string]domain.Participant),
		index: make(map[string]string),
	}
}

func (s *MemoryStore) Join(_ context.Context, roomID string, p domain.Participant) (JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res JoinResult

	// Соединение может занимать только одну комнату: второй join
	// выполняет неявный leave из предыдущей.
	if prev, ok := s.index[p.ConnID]; ok && prev != roomID {
		if count, username, removed := s.removeLocked(prev, p.ConnID); removed {
			res.Left = &Departure{RoomID: prev, Username: username, Count: count}
		}
	}

	rs, ok := s.rooms[roomID]
	if !ok {
		rs = make(map[string]domain.Participant)
		s.rooms[roomID] = rs
	}
	rs[p.ConnID] = p
	s.index[p.ConnID] = roomID

	res.Participants = make([]domain.Participant, 0, len(rs))
	for _, it := range rs {
		res.Participants = append(res.Participants, it)
	}
	return res, nil
}

func (s *MemoryStore) Leave(_ context.Context, roomID, connID string) (int, string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, username, ok := s.removeLocked(roomID, connID)
	if ok {
		delete(s.index, connID)
	}
	return count, username, ok, nil
}

func (s *MemoryStore) Disconnect(_ context.Context, connID string) (string, int, string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roomID, ok := s.index[connID]
	if !ok {
		return "", 0, "", false, nil
	}
	count, username, removed := s.removeLocked(roomID, connID)
	delete(s.index, connID)
	if !removed {
		return "", 0, "", false, nil
	}
	return roomID, count, username, true, nil
}

func (s *MemoryStore) Count(_ context.Context, roomID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms[roomID]), nil
}

func (s *MemoryStore) List(_ context.Context, roomID string) ([]domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	out := make([]domain.Participant, 0, len(rs))
	for _, p := range rs {
		out = append(out, p)
	}
	return out, nil
}

func (s *MemoryStore) UpdateCursor(_ context.Context, roomID, connID string, line, column int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	p, ok := rs[connID]
	if !ok {
		return nil
	}
	p.Cursor = &domain.CursorPosition{LineNumber: line, Column: column}
	rs[connID] = p
	return nil
}

// removeLocked удаляет участника и собирает пустую комнату.
func (s *MemoryStore) removeLocked(roomID, connID string) (count int, username string, ok bool) {
	rs, found := s.rooms[roomID]
	if !found {
		return 0, "", false
	}
	p, found := rs[connID]
	if !found {
		return len(rs), "", false
	}
	delete(rs, connID)
	if len(rs) == 0 {
		delete(s.rooms, roomID)
	}
	return len(rs), p.Username, true
}

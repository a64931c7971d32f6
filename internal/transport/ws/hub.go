package ws

import (
	"sync"
)

type Conn interface {
	Send(msg Message) error
	Close() error
	ID() string
}

// Hub — транспортные группы комнат: roomID -> connID -> соединение.
// Это не реестр присутствия (он в internal/presence); hub знает только,
// куда физически доставлять сообщения.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn
	conns map[string]string // connID -> roomID
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[string]Conn),
		conns: make(map[string]string),
	}
}

func (h *Hub) Add(roomID string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// соединение состоит максимум в одной группе
	if prev, ok := h.conns[c.ID()]; ok && prev != roomID {
		h.removeLocked(prev, c.ID())
	}

	rs, ok := h.rooms[roomID]
	if !ok {
		rs = make(map[string]Conn)
		h.rooms[roomID] = rs
	}
	rs[c.ID()] = c
	h.conns[c.ID()] = roomID
}

func (h *Hub) Remove(roomID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(roomID, connID)
}

func (h *Hub) removeLocked(roomID, connID string) {
	if rs, ok := h.rooms[roomID]; ok {
		delete(rs, connID)
		if len(rs) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if cur, ok := h.conns[connID]; ok && cur == roomID {
		delete(h.conns, connID)
	}
}

// Broadcast рассылает всем участникам комнаты, включая отправителя.
func (h *Hub) Broadcast(roomID string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if rs, ok := h.rooms[roomID]; ok {
		for _, c := range rs {
			_ = c.Send(msg) // best-effort
		}
	}
}

// BroadcastExcept рассылает всем, кроме указанного соединения.
func (h *Hub) BroadcastExcept(roomID, exceptID string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if rs, ok := h.rooms[roomID]; ok {
		for id, c := range rs {
			if id == exceptID {
				continue
			}
			_ = c.Send(msg)
		}
	}
}

// SendTo доставляет сообщение одному участнику комнаты. false, если адресат
// сейчас не подключён или находится в другой комнате.
func (h *Hub) SendTo(roomID, connID string, msg Message) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rs, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	c, ok := rs[connID]
	if !ok {
		return false
	}
	return c.Send(msg) == nil
}

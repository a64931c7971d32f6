package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cwrk-planet/collab-service/internal/domain"
	"github.com/cwrk-planet/collab-service/internal/postgres"
	"github.com/cwrk-planet/collab-service/internal/presence"
	"github.com/cwrk-planet/collab-service/internal/service"
)

// Handler — тонкая REST-поверхность, с которой клиенты поднимают начальное
// состояние перед подпиской на live-события: комнаты, история чата, буфер
// кода, живой список участников.
type Handler struct {
	roomSvc *service.RoomService
	chatSvc *service.ChatService
	codeSvc *service.CodeService
	reg     presence.Store

	stunURLs []string
	turnURLs []string
}

func NewHandler(room *service.RoomService, chat *service.ChatService, code *service.CodeService, reg presence.Store, stunURLs, turnURLs []string) *Handler {
	return &Handler{
		roomSvc:  room,
		chatSvc:  chat,
		codeSvc:  code,
		reg:      reg,
		stunURLs: stunURLs,
		turnURLs: turnURLs,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// POST /api/rooms
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	room, err := h.roomSvc.CreateRoom(r.Context(), req.RoomName)
	if err != nil {
		slog.Error("handler.CreateRoom:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, RoomItem{ID: room.ID, Name: room.Name, CreatedAt: room.CreatedAt})
}

// GET /api/rooms?limit=&cursor=
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}
	cursor := r.URL.Query().Get("cursor")

	rooms, next, err := h.roomSvc.ListRooms(r.Context(), limit, cursor)
	if err != nil {
		if errors.Is(err, postgres.ErrInvalidCursor) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_cursor"})
			return
		}
		slog.Error("handler.ListRooms:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	resp := RoomsListResponse{Items: make([]RoomItem, 0, len(rooms)), NextCursor: next}
	for _, rm := range rooms {
		resp.Items = append(resp.Items, RoomItem{ID: rm.ID, Name: rm.Name, CreatedAt: rm.CreatedAt})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GET /api/rooms/{id}
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	room, err := h.roomSvc.GetRoom(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return
		}
		slog.Error("handler.GetRoom:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, RoomItem{ID: room.ID, Name: room.Name, CreatedAt: room.CreatedAt})
}

// PUT /api/rooms/{id}
func (h *Handler) RenameRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req RenameRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	room, err := h.roomSvc.RenameRoom(r.Context(), id, req.RoomName)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return
		}
		slog.Error("handler.RenameRoom:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, RoomItem{ID: room.ID, Name: room.Name, CreatedAt: room.CreatedAt})
}

// DELETE /api/rooms/{id}
func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.roomSvc.DeleteRoom(r.Context(), chi.URLParam(r, "id")); err != nil {
		slog.Error("handler.DeleteRoom:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /api/rooms/{id}/messages?limit=&cursor=
func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}

	msgs, next, err := h.chatSvc.History(r.Context(), roomID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		if errors.Is(err, postgres.ErrInvalidCursor) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_cursor"})
			return
		}
		slog.Error("handler.GetChatHistory:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	resp := MessagesResponse{Items: make([]MessageItem, 0, len(msgs)), NextCursor: next}
	for _, m := range msgs {
		resp.Items = append(resp.Items, MessageItem{ID: m.ID, Username: m.Username, Message: m.Text, CreatedAt: m.CreatedAt})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/rooms/{id}/code
func (h *Handler) GetCode(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	doc, err := h.codeSvc.Get(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, domain.ErrCodeNotFound) {
			writeJSON(w, http.StatusOK, CodeResponse{RoomID: roomID})
			return
		}
		slog.Error("handler.GetCode:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, CodeResponse{
		RoomID:    doc.RoomID,
		Code:      doc.Code,
		Language:  doc.Language,
		UpdatedAt: doc.UpdatedAt,
	})
}

// GET /api/rooms/{id}/users — живое присутствие, не постоянный стор
func (h *Handler) GetRoomUsers(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	parts, err := h.reg.List(r.Context(), roomID)
	if err != nil {
		slog.Error("handler.GetRoomUsers:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	resp := RoomUsersResponse{Users: make([]RoomUserItem, 0, len(parts)), Count: len(parts)}
	for _, p := range parts {
		resp.Users = append(resp.Users, RoomUserItem{ID: p.ConnID, Username: p.Username, JoinedAt: p.JoinedAt})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/ice-servers — список ICE-серверов для peer-соединений клиентов
func (h *Handler) GetICEServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ICEServersResponse{STUNURLs: h.stunURLs, TURNURLs: h.turnURLs})
}

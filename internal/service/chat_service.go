package service

import (
	"context"
	"errors"
	"strings"

	"github.com/cwrk-planet/collab-service/internal/domain"
	"github.com/cwrk-planet/collab-service/internal/postgres"
)

type ChatService struct {
	chatRepo *postgres.ChatRepository
}

func NewChatService(chatRepo *postgres.ChatRepository) *ChatService {
	return &ChatService{chatRepo: chatRepo}
}

// Save сохраняет сообщение и возвращает каноническую запись с id и серверным
// временем: именно она рассылается всем, включая отправителя.
func (s *ChatService) Save(ctx context.Context, roomID, username, text string) (*domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty message")
	}
	// todo: вынести лимит в конфиг
	if len(text) > 4000 {
		return nil, errors.New("message too long")
	}
	return s.chatRepo.Save(ctx, roomID, username, text)
}

func (s *ChatService) History(ctx context.Context, roomID, after string, limit int) ([]domain.ChatMessage, string, error) {
	return s.chatRepo.History(ctx, roomID, after, limit)
}

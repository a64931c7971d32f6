package service

import (
	"context"
	"errors"

	"github.com/cwrk-planet/collab-service/internal/domain"
	"github.com/cwrk-planet/collab-service/internal/postgres"
)

type CodeService struct {
	codeRepo *postgres.CodeRepository
}

func NewCodeService(codeRepo *postgres.CodeRepository) *CodeService {
	return &CodeService{codeRepo: codeRepo}
}

func (s *CodeService) Save(ctx context.Context, roomID, code string) error {
	// todo: вынести лимит в конфиг
	if len(code) > 1<<20 {
		return errors.New("code snapshot too large")
	}
	return s.codeRepo.Upsert(ctx, roomID, code)
}

func (s *CodeService) SetLanguage(ctx context.Context, roomID, language string) error {
	if language == "" {
		return errors.New("empty language")
	}
	return s.codeRepo.SetLanguage(ctx, roomID, language)
}

func (s *CodeService) Get(ctx context.Context, roomID string) (*domain.CodeDocument, error) {
	return s.codeRepo.Get(ctx, roomID)
}

package postgres

import (
	"context"

	"github.com/cwrk-planet/collab-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CodeRepository struct {
	db *pgxpool.Pool
}

func NewCodeRepository(db *pgxpool.Pool) *CodeRepository {
	return &CodeRepository{db: db}
}

// Upsert — last-writer-wins: поздний снапшот безусловно перетирает ранний.
func (r *CodeRepository) Upsert(ctx context.Context, roomID, code string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO room_code (room_id, code, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (room_id) DO UPDATE
		SET code = EXCLUDED.code, updated_at = now()
	`, roomID, code)
	return err
}

func (r *CodeRepository) SetLanguage(ctx context.Context, roomID, language string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO room_code (room_id, code, language, updated_at)
		VALUES ($1, '', $2, now())
		ON CONFLICT (room_id) DO UPDATE
		SET language = EXCLUDED.language, updated_at = now()
	`, roomID, language)
	return err
}

func (r *CodeRepository) Get(ctx context.Context, roomID string) (*domain.CodeDocument, error) {
	var doc domain.CodeDocument
	err := r.db.QueryRow(ctx, `
		SELECT room_id, code, language, updated_at
		FROM room_code
		WHERE room_id = $1
	`, roomID).Scan(&doc.RoomID, &doc.Code, &doc.Language, &doc.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrCodeNotFound
		}
		return nil, err
	}
	return &doc, nil
}

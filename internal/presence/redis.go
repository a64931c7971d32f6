package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cwrk-planet/collab-service/internal/domain"
)

// RedisStore keeps presence in a shared redis so several service instances
// see one registry: a hash per room (field = connID, value = JSON
// participant) plus a string key per connection pointing at its room.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func roomKey(roomID string) string { return "presence:room:" + roomID }
func connKey(connID string) string { return "presence:conn:" + connID }

func (s *RedisStore) Join(ctx context.Context, roomID string, p domain.Participant) (JoinResult, error) {
	var res JoinResult

	prev, err := s.rdb.Get(ctx, connKey(p.ConnID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return res, fmt.Errorf("presence: read conn index: %w", err)
	}
	if err == nil && prev != roomID {
		count, username, ok, rerr := s.remove(ctx, prev, p.ConnID)
		if rerr != nil {
			return res, rerr
		}
		if ok {
			res.Left = &Departure{RoomID: prev, Username: username, Count: count}
		}
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return res, fmt.Errorf("presence: marshal participant: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, roomKey(roomID), p.ConnID, raw)
	pipe.Set(ctx, connKey(p.ConnID), roomID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return res, fmt.Errorf("presence: join: %w", err)
	}

	res.Participants, err = s.List(ctx, roomID)
	return res, err
}

func (s *RedisStore) Leave(ctx context.Context, roomID, connID string) (int, string, bool, error) {
	count, username, ok, err := s.remove(ctx, roomID, connID)
	if err != nil {
		return 0, "", false, err
	}
	if ok {
		if err := s.rdb.Del(ctx, connKey(connID)).Err(); err != nil {
			return 0, "", false, fmt.Errorf("presence: clear conn index: %w", err)
		}
	}
	return count, username, ok, nil
}

func (s *RedisStore) Disconnect(ctx context.Context, connID string) (string, int, string, bool, error) {
	roomID, err := s.rdb.Get(ctx, connKey(connID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", 0, "", false, nil
	}
	if err != nil {
		return "", 0, "", false, fmt.Errorf("presence: read conn index: %w", err)
	}
	count, username, ok, err := s.Leave(ctx, roomID, connID)
	if err != nil || !ok {
		return "", 0, "", false, err
	}
	return roomID, count, username, true, nil
}

func (s *RedisStore) Count(ctx context.Context, roomID string) (int, error) {
	n, err := s.rdb.HLen(ctx, roomKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence: count: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) List(ctx context.Context, roomID string) ([]domain.Participant, error) {
	raw, err := s.rdb.HGetAll(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: list: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]domain.Participant, 0, len(raw))
	for _, v := range raw {
		var p domain.Participant
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			continue // повреждённая запись не должна валить список
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *RedisStore) UpdateCursor(ctx context.Context, roomID, connID string, line, column int) error {
	raw, err := s.rdb.HGet(ctx, roomKey(roomID), connID).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("presence: read participant: %w", err)
	}
	var p domain.Participant
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return fmt.Errorf("presence: unmarshal participant: %w", err)
	}
	p.Cursor = &domain.CursorPosition{LineNumber: line, Column: column}
	upd, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("presence: marshal participant: %w", err)
	}
	return s.rdb.HSet(ctx, roomKey(roomID), connID, upd).Err()
}

func (s *RedisStore) remove(ctx context.Context, roomID, connID string) (int, string, bool, error) {
	raw, err := s.rdb.HGet(ctx, roomKey(roomID), connID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("presence: read participant: %w", err)
	}
	var p domain.Participant
	_ = json.Unmarshal([]byte(raw), &p)

	if err := s.rdb.HDel(ctx, roomKey(roomID), connID).Err(); err != nil {
		return 0, "", false, fmt.Errorf("presence: remove participant: %w", err)
	}
	n, err := s.rdb.HLen(ctx, roomKey(roomID)).Result()
	if err != nil {
		return 0, "", false, fmt.Errorf("presence: count: %w", err)
	}
	// пустой hash redis удаляет сам, отдельный GC не нужен
	return int(n), p.Username, true, nil
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*RedisStore)(nil)

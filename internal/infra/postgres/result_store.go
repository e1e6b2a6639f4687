package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"examroom-service/internal/domain"
)

// RoomResult is one persisted leaderboard row of a finished room.
type RoomResult struct {
	bun.BaseModel `bun:"table:room_results"`

	ID          int64     `bun:"id,pk,autoincrement"`
	RoomCode    string    `bun:"room_code,notnull"`
	UserID      string    `bun:"user_id,notnull"`
	DisplayName string    `bun:"display_name"`
	Score       int       `bun:"score,notnull"`
	TimeTakenMS int64     `bun:"time_taken_ms,notnull"`
	Rank        int       `bun:"rank,notnull"`
	FinishedAt  time.Time `bun:"finished_at,notnull"`
}

// ResultStore writes finalized rankings to the history store. Rooms call it
// fire-and-forget after broadcasting, so errors here never affect a session.
type ResultStore struct {
	db *bun.DB
}

func NewResultStore(db *bun.DB) *ResultStore {
	return &ResultStore{db: db}
}

func (s *ResultStore) SaveResults(ctx context.Context, roomCode string, ranking []domain.RankingEntry) error {
	if len(ranking) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]RoomResult, 0, len(ranking))
	for _, entry := range ranking {
		rows = append(rows, RoomResult{
			RoomCode:    roomCode,
			UserID:      entry.UserID,
			DisplayName: entry.DisplayName,
			Score:       entry.Score,
			TimeTakenMS: entry.TimeTakenMS,
			Rank:        entry.Rank,
			FinishedAt:  now,
		})
	}
	if _, err := s.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("save room results: %w", err)
	}
	return nil
}

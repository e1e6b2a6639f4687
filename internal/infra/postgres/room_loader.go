package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"examroom-service/internal/domain"
)

// RoomLoader loads room definition JSONB from Postgres.
type RoomLoader struct {
	pool *pgxpool.Pool
}

func NewRoomLoader(pool *pgxpool.Pool) *RoomLoader {
	return &RoomLoader{pool: pool}
}

func (l *RoomLoader) LoadRoom(ctx context.Context, code string) (domain.Room, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM rooms WHERE code=$1`, code).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("load room: %w", err)
	}
	var room domain.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return domain.Room{}, fmt.Errorf("unmarshal room: %w", err)
	}
	return room, nil
}

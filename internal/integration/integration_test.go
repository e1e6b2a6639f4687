package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"examroom-service/internal/app"
	"examroom-service/internal/domain"
	pgstore "examroom-service/internal/infra/postgres"
	pgmigrations "examroom-service/internal/infra/postgres/migrations"
	infraredis "examroom-service/internal/infra/redis"
)

func TestRoomLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := openBun(pgURL)
	defer db.Close()
	seedRoom(t, ctx, db, sampleRoom())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	rooms := infraredis.NewRoomRepository(redisClient, pgstore.NewRoomLoader(pool), 5*time.Minute)
	liveness := infraredis.NewLivenessMarker(redisClient, 5*time.Minute)
	results := pgstore.NewResultStore(db)
	manager := app.NewRoomSessionManager(rooms, results, liveness, 5*time.Minute, zerolog.Nop())
	defer manager.Shutdown()

	session, err := manager.GetOrCreate(ctx, "ROOM1")
	if err != nil {
		t.Fatalf("getOrCreate: %v", err)
	}
	if exists, _ := redisClient.Exists(ctx, "room:live:ROOM1").Result(); exists != 1 {
		t.Fatalf("expected liveness marker for live room")
	}

	if _, err := session.Join("u1", "Alice", nil); err != nil {
		t.Fatalf("join u1: %v", err)
	}
	if _, err := session.Join("u2", "Bob", nil); err != nil {
		t.Fatalf("join u2: %v", err)
	}
	if err := session.Start("host"); err != nil {
		t.Fatalf("start: %v", err)
	}

	outcome, score, err := session.Submit("u2", "q1", "4", 1)
	if err != nil || outcome != app.OutcomeAccepted || score != 1 {
		t.Fatalf("submit: outcome=%v score=%d err=%v", outcome, score, err)
	}
	if _, _, err := session.Finish("u2", 20_000); err != nil {
		t.Fatalf("finish u2: %v", err)
	}
	if _, _, err := session.Finish("u1", 35_000); err != nil {
		t.Fatalf("finish u1: %v", err)
	}

	snap, err := session.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Status != domain.StatusFinished {
		t.Fatalf("expected finished room, got %s", snap.Status)
	}
	if snap.Ranking[0].UserID != "u2" {
		t.Fatalf("expected u2 leading, got %+v", snap.Ranking)
	}

	// Result persistence is fire-and-forget; poll for the rows.
	deadline := time.Now().Add(10 * time.Second)
	for {
		var rows []pgstore.RoomResult
		err := db.NewSelect().Model(&rows).Where("room_code = ?", "ROOM1").Order("rank ASC").Scan(ctx)
		if err == nil && len(rows) == 2 {
			if rows[0].UserID != "u2" || rows[0].Score != 1 || rows[0].Rank != 1 {
				t.Fatalf("unexpected persisted rows %+v", rows)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("results never persisted: err=%v rows=%d", err, len(rows))
		}
		time.Sleep(100 * time.Millisecond)
	}

	manager.Evict("ROOM1")
	if exists, _ := redisClient.Exists(ctx, "room:live:ROOM1").Result(); exists != 0 {
		t.Fatalf("expected liveness marker cleared on eviction")
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "exam", "POSTGRES_PASSWORD": "exampass", "POSTGRES_DB": "examdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://exam:exampass@%s:%s/examdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func openBun(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func seedRoom(t *testing.T, ctx context.Context, db *bun.DB, room domain.Room) {
	t.Helper()
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(room)
	if err != nil {
		t.Fatalf("marshal room: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO rooms (code, data) VALUES (?, ?::jsonb) ON CONFLICT (code) DO UPDATE SET data=EXCLUDED.data`, room.Code, string(data)); err != nil {
		t.Fatalf("insert room: %v", err)
	}
}

func sampleRoom() domain.Room {
	return domain.Room{
		ID:       1,
		Code:     "ROOM1",
		Mode:     domain.ModeExam,
		Capacity: 8,
		HostID:   "host",
		Questions: []domain.Question{
			{Ref: "q1", Prompt: "What is 2 + 2?", Choices: []string{"3", "4", "5"}, Answer: "4", Points: 1},
			{Ref: "q2", Prompt: "Capital of France?", Choices: []string{"Paris", "Rome"}, Answer: "Paris", Points: 1},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}

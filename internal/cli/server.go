package cli

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"examroom-service/internal/app"
	"examroom-service/internal/config"
	"examroom-service/internal/domain"
	"examroom-service/internal/infra/memory"
	pgstore "examroom-service/internal/infra/postgres"
	redisstore "examroom-service/internal/infra/redis"
	transport "examroom-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the exam-room coordination server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	setupLogger(cfg.Log.Level)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.RoomLoader = memory.NewStaticRoomLoader(sampleRooms())
	if pool != nil {
		loader = pgstore.NewRoomLoader(pool)
	}

	cacheTTL := config.TTLDuration(cfg.Room.CacheTTL, 10*time.Minute)
	var rooms app.RoomRepository
	if redisClient != nil {
		rooms = redisstore.NewRoomRepository(redisClient, loader, cacheTTL)
	} else {
		rooms = memory.NewRoomRepository(loader, cacheTTL)
	}

	var results app.ResultSink
	if cfg.Postgres.URL != "" {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bundb := bun.NewDB(sqldb, pgdialect.New())
		defer bundb.Close()
		results = pgstore.NewResultStore(bundb)
	}

	var liveness app.Liveness = app.NopLiveness{}
	if redisClient != nil {
		liveness = redisstore.NewLivenessMarker(redisClient, redisTTL)
	}

	grace := config.TTLDuration(cfg.Room.EvictionGrace, 5*time.Minute)
	manager := app.NewRoomSessionManager(rooms, results, liveness, grace, log.Logger)
	defer manager.Shutdown()

	janitorInterval := config.TTLDuration(cfg.Room.JanitorInterval, 30*time.Second)
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go manager.RunJanitor(janitorCtx, janitorInterval)

	wsHandler := transport.NewWSHandler(manager, log.Logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting exam-room service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server...")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// sampleRooms provides a minimal demo room set; production deployments load
// definitions from Postgres instead.
func sampleRooms() map[string]domain.Room {
	return map[string]domain.Room{
		"DEMO1": {
			ID:       1,
			Code:     "DEMO1",
			Mode:     domain.ModeExam,
			Capacity: 8,
			HostID:   "host-1",
			Questions: []domain.Question{
				{Ref: "q1", Prompt: "What is 2 + 2?", Choices: []string{"3", "4", "5"}, Answer: "4", Points: 1},
				{Ref: "q2", Prompt: "Capital of France?", Choices: []string{"Paris", "Rome", "Berlin"}, Answer: "Paris", Points: 1},
			},
			QuestionTime: 30 * time.Second,
			TimeLimit:    5 * time.Minute,
		},
	}
}

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"quiz-sync-client/internal/app"
	"quiz-sync-client/internal/config"
	"quiz-sync-client/internal/domain"
	"quiz-sync-client/internal/infra/memory"
	pgjournal "quiz-sync-client/internal/infra/postgres"
	redisledger "quiz-sync-client/internal/infra/redis"
	"quiz-sync-client/internal/transport/api"
	"quiz-sync-client/internal/transport/ws"
)

const defaultLedgerTTL = 6 * time.Hour

// runtime holds the collaborators a session command wires together.
type runtime struct {
	cfg   config.Config
	api   *api.Client
	conn  *ws.Manager
	redis *redis.Client
	pool  *pgxpool.Pool
}

func newRuntime(ctx context.Context, flags *globalFlags) (*runtime, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	if flags.sessionID == "" {
		return nil, domain.ErrNoSession
	}
	if cfg.Server.APIURL == "" || cfg.Server.WSURL == "" {
		return nil, fmt.Errorf("server.api_url and server.ws_url must be configured")
	}

	rt := &runtime{cfg: cfg}
	rt.api = api.NewClient(api.Options{BaseURL: cfg.Server.APIURL, Token: flags.token})
	rt.conn = ws.NewManager(ws.Options{
		URL:              cfg.Server.WSURL,
		SessionID:        flags.sessionID,
		DisplayName:      flags.displayName,
		Token:            flags.token,
		MaxAttempts:      cfg.Connection.ReconnectAttempts,
		ReconnectDelay:   config.DurationOr(cfg.Connection.ReconnectDelay, 0),
		HandshakeTimeout: config.DurationOr(cfg.Connection.HandshakeTimeout, 0),
		WriteTimeout:     config.DurationOr(cfg.Connection.WriteTimeout, 0),
		PingWait:         config.DurationOr(cfg.Connection.PingWait, 0),
		MaxMessageSize:   cfg.Connection.MaxMessageSize,
	})

	if cfg.Redis.Addr != "" {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			rt.close()
			return nil, err
		}
		rt.pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
	}
	return rt, nil
}

// ledger prefers Redis so the answer latch outlives this process.
func (rt *runtime) ledger() app.AnswerLedger {
	ttl := config.DurationOr(rt.cfg.Redis.TTL, defaultLedgerTTL)
	if rt.redis != nil {
		return redisledger.NewAnswerLedger(rt.redis, ttl)
	}
	return memory.NewAnswerLedger(ttl)
}

// recorder returns nil when no journal is configured.
func (rt *runtime) recorder() *app.Recorder {
	if rt.pool == nil {
		return nil
	}
	return app.NewRecorder(pgjournal.NewEventJournal(rt.pool), 0, nil)
}

func (rt *runtime) close() {
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("close redis")
		}
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/coregx/courier"
	"github.com/coregx/courier/adapters/relica"
	"github.com/coregx/courier/adapters/zaplog"
	"github.com/coregx/courier/cmd/courier-server/internal/app"
	"github.com/coregx/courier/cmd/courier-server/internal/config"
	"github.com/coregx/courier/ratelimit"
	"github.com/coregx/courier/sender/noop"
	"github.com/coregx/courier/sender/resend"
	"github.com/coregx/courier/sender/smtp"
	"github.com/coregx/courier/templates"
	resendhook "github.com/coregx/courier/webhook/resend"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	rdb "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// runtime holds the long-lived resources of a command.
type runtime struct {
	cfg    *config.Config
	logger *zaplog.Logger
	zap    *zap.Logger
	db     *sql.DB
	redis  *rdb.Client
}

// bootstrap loads configuration, builds the logger and opens the database.
func bootstrap(ctx context.Context, envFile string) (*runtime, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger, zl, err := zaplog.Build(zaplog.Config{
		Env:         cfg.Log.Env,
		Level:       cfg.Log.Level,
		ServiceName: "courier",
		Version:     "0.1.0",
	})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Infof("Database connection established: driver=%s", cfg.Database.Driver)

	return &runtime{cfg: cfg, logger: logger, zap: zl, db: db}, nil
}

func (rt *runtime) Close() {
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Warnf("Failed to close redis: %v", err)
		}
	}
	if err := rt.db.Close(); err != nil {
		rt.logger.Warnf("Failed to close database: %v", err)
	}
	_ = rt.zap.Sync()
}

// engine assembles the services on the SQL repositories.
func (rt *runtime) engine(ctx context.Context, metrics courier.Metrics) (*app.Engine, error) {
	cfg := rt.cfg

	repos := relica.NewRepositoriesWithPrefix(rt.db, cfg.Database.Driver, cfg.Database.Prefix)
	if cfg.Database.UserView != "" {
		repos.Users = relica.NewUserDirectoryWithTable(rt.db, cfg.Database.Driver, cfg.Database.UserView)
	}

	catalog, err := loadCatalog(cfg.Templates)
	if err != nil {
		return nil, err
	}

	sender, err := newSender(cfg)
	if err != nil {
		return nil, err
	}

	limiter, err := rt.limiter(ctx)
	if err != nil {
		return nil, err
	}

	var verifier *resendhook.Verifier
	if cfg.Mail.WebhookSecret != "" {
		verifier, err = resendhook.NewVerifier(cfg.Mail.WebhookSecret)
		if err != nil {
			return nil, fmt.Errorf("webhook secret: %w", err)
		}
	} else {
		rt.logger.Warnf("RESEND_WEBHOOK_SECRET is not set, webhook signatures are not verified")
	}

	mode := courier.ModeSync
	if cfg.Mail.FireAndForget {
		mode = courier.ModeFireAndForget
	}

	return app.Build(app.Deps{
		Storage: app.Storage{
			Messages:      repos.Message,
			Events:        repos.Event,
			Subscriptions: repos.Subscription,
			Preferences:   repos.Preference,
			Users:         repos.Users,
			Tx:            repos.Tx,
		},
		Renderer:        catalog,
		Sender:          sender,
		Limiter:         limiter,
		Logger:          rt.logger,
		Metrics:         metrics,
		From:            cfg.Mail.From,
		ReplyTo:         cfg.Mail.ReplyTo,
		UnsubscribeURL:  cfg.Mail.UnsubscribeURL,
		PreferencesURL:  cfg.Mail.PreferencesURL,
		DefaultMode:     mode,
		ForwardOnly:     cfg.Mail.StrictLifecycle,
		WebhookVerifier: verifier,
	})
}

// limiter returns the Redis limiter when REDIS_ADDR is set, else an
// in-process one.
func (rt *runtime) limiter(ctx context.Context) (ratelimit.Limiter, error) {
	rl := rt.cfg.RateLimit
	if rt.cfg.Redis.Addr == "" {
		rt.logger.Infof("Rate limiting in memory: %d per %s", rl.Max, rl.Window)
		return ratelimit.NewMemoryLimiter(rl.Max, rl.Window), nil
	}

	client := rdb.NewClient(&rdb.Options{
		Addr:     rt.cfg.Redis.Addr,
		Password: rt.cfg.Redis.Password,
		DB:       rt.cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", rt.cfg.Redis.Addr, err)
	}
	rt.redis = client
	rt.logger.Infof("Rate limiting in redis %s: %d per %s", rt.cfg.Redis.Addr, rl.Max, rl.Window)
	return ratelimit.NewRedisLimiter(client, rt.cfg.Redis.Prefix, rl.Max, rl.Window), nil
}

func loadCatalog(cfg config.TemplatesConfig) (*templates.Catalog, error) {
	if cfg.Path == "" {
		return templates.Default()
	}
	catalog, err := templates.Load(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("load templates %s: %w", cfg.Path, err)
	}
	return catalog, nil
}

func newSender(cfg *config.Config) (courier.Sender, error) {
	switch cfg.Mail.Provider {
	case "smtp":
		return smtp.New(smtp.Config{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			Username:           cfg.SMTP.Username,
			Password:           cfg.SMTP.Password,
			TLSMode:            cfg.SMTP.TLSMode,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
			Timeout:            cfg.SMTP.Timeout,
		})
	case "resend":
		opts := []resend.Option{}
		if cfg.Resend.BaseURL != "" {
			opts = append(opts, resend.WithBaseURL(cfg.Resend.BaseURL))
		}
		if cfg.Resend.Timeout > 0 {
			opts = append(opts, resend.WithHTTPClient(&http.Client{Timeout: cfg.Resend.Timeout}))
		}
		return resend.New(cfg.Resend.APIKey, opts...)
	default:
		return noop.New(), nil
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"condcal/internal/calendar"
	"condcal/internal/config"
	appLog "condcal/internal/log"
	"condcal/internal/notify"
	"condcal/internal/realtime"
	"condcal/internal/store"
	"condcal/internal/store/sqlite"
	"condcal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	issueToken string
	tokenTTL   time.Duration
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	if err := ensureSecret(conf, flags.configPath); err != nil {
		appLog.Error("failed to persist generated JWT secret", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	auth, err := web.NewAuth(conf.Auth.JWTSecret)
	if err != nil {
		appLog.Error("invalid auth config", err)
		os.Exit(1)
	}
	if flags.issueToken != "" {
		tok, err := auth.IssueToken(flags.issueToken, flags.tokenTTL)
		if err != nil {
			appLog.Error("failed to issue token", err, "owner", flags.issueToken)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	appLog.Info("condcal starting", "version", "0.1.0")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"database", conf.Database,
		"notify_cron", conf.Notify.Cron,
		"notify_lead", conf.NotifyLead().String(),
		"webhook", conf.Notify.Webhook,
		"redis", conf.Redis != nil,
		"once", flags.once,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf, auth, flags.once); err != nil {
		appLog.Error("condcal exited with error", err)
		os.Exit(1)
	}
	appLog.Info("condcal exiting")
}

func run(ctx context.Context, conf *config.Config, auth *web.Auth, once bool) error {
	db, err := sqlite.Open(conf.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	var st store.Store = db
	var bus realtime.Bus = realtime.NewLocalBus()

	if conf.Redis != nil {
		opts, err := redis.ParseURL(conf.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		rc := redis.NewClient(opts)
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			// The cache and bus both degrade; keep serving from SQLite.
			appLog.Warn("redis ping failed; continuing", "error", err.Error())
		}

		st = store.NewCache(db, rc, conf.CacheTTL())
		rbus := realtime.NewRedisBus(rc, conf.Redis.Channel)
		go rbus.Run(ctx, nil)
		bus = rbus
		appLog.Info("redis enabled", "addr", opts.Addr, "channel", conf.Redis.Channel, "cache_ttl", conf.CacheTTL().String())
	}

	var sender notify.Sender = notify.LogSender{}
	if conf.Notify.Webhook {
		sender = notify.NewWebhookSender()
	}
	notifier := notify.New(st, sender, conf.NotifyLead())

	if once {
		_, err := notifier.CheckUpcoming(ctx, time.Now())
		return err
	}

	sched, err := notifier.Start(ctx, conf.Notify.Cron)
	if err != nil {
		return err
	}
	defer func() { <-sched.Stop().Done() }()

	hub := realtime.NewHub()
	detach := hub.Attach(bus)
	defer detach()

	cal := calendar.New(st, bus, conf.Location())
	srv := web.NewServer(conf, cal, hub, auth)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ensureSecret generates and saves a JWT secret on first run.
func ensureSecret(conf *config.Config, path string) error {
	if conf.Auth.JWTSecret != "" {
		return nil
	}
	conf.Auth.JWTSecret = uuid.NewString() + uuid.NewString()
	appLog.Info("generated JWT secret", "config_path", path)
	return conf.Save(path)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/condcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one upcoming-event check and exit")
	flag.StringVar(&cfg.issueToken, "issue-token", "", "Print a bearer token for the given owner id and exit")
	flag.DurationVar(&cfg.tokenTTL, "token-ttl", 30*24*time.Hour, "Lifetime of tokens printed by -issue-token")

	flag.Parse()

	return cfg
}

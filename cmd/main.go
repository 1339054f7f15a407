// jobmate-pipeline-service
//
// Job-search automation core: scrapes boards on a schedule, deduplicates and
// stores postings, ranks them against each candidate's profile, and drives
// applications through their lifecycle on durable queues.
//
//   - scraping queue: GatherJobs across boards, dedup, upsert
//   - applications queue: QUEUED → SUBMISSION_IN_PROGRESS → SUBMITTED
//   - notifications queue: email / sms / slack fan-out
//
// Employer replies picked up by the inbox watcher move applications to
// CONFIRMED or RESPONDED. Status changes are published to Redis for the
// gateway's live views.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"jobmate/pipeline-service/internal/applications"
	"jobmate/pipeline-service/internal/audit"
	"jobmate/pipeline-service/internal/config"
	"jobmate/pipeline-service/internal/db"
	"jobmate/pipeline-service/internal/grpcserver"
	"jobmate/pipeline-service/internal/httpapi"
	"jobmate/pipeline-service/internal/jobstore"
	"jobmate/pipeline-service/internal/mailwatch"
	"jobmate/pipeline-service/internal/matching"
	"jobmate/pipeline-service/internal/notify"
	"jobmate/pipeline-service/internal/pipeline"
	"jobmate/pipeline-service/internal/profile"
	"jobmate/pipeline-service/internal/queue"
	"jobmate/pipeline-service/internal/scheduler"
	"jobmate/pipeline-service/internal/scraper"
	"jobmate/pipeline-service/internal/tasks"
)

const version = "1.0.0"

// stores groups the backends selected by STORE_DRIVER.
type stores struct {
	jobs     jobstore.Store
	apps     applications.Store
	audit    audit.Recorder
	profiles profile.Provider
	dir      profile.Directory
	searches profile.SearchSource
	close    func()
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run() error {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With("service", "pipeline-service"))

	if err := applications.ValidateEventTable(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Storage ──────────────────────────────────────────────────────────────
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// ── Redis (optional) ─────────────────────────────────────────────────────
	var rdb *redis.Client
	var broker queue.Broker
	if cfg.RedisURL != "" {
		slog.Info("connecting to redis")
		rdb, err = db.NewRedisClient(ctx, cfg.RedisURL, "pipeline-service")
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		broker = queue.NewRedisBroker(rdb, "")
	} else {
		slog.Warn("REDIS_URL not set: queues are in-process and lost on restart")
		broker = queue.NewMemoryBroker()
	}

	// ── Queues ───────────────────────────────────────────────────────────────
	var schedOpts []scheduler.Option
	if cfg.SchedulerLockFile != "" {
		schedOpts = append(schedOpts, scheduler.WithLockFile(cfg.SchedulerLockFile))
	}
	manager := queue.NewManager(broker, queue.WithScheduler(scheduler.New(schedOpts...)))
	enq := tasks.NewEnqueuer(manager)

	appOpts := []applications.Option{
		applications.WithAudit(st.audit),
		applications.WithStatusHook(tasks.NotifyOnOutcome(enq, st.dir)),
	}
	if rdb != nil {
		appOpts = append(appOpts, applications.WithPublisher(rdb))
	}
	apps := applications.NewService(st.apps, appOpts...)

	boards := boardRegistry(cfg)
	workers := &tasks.Workers{
		Boards:   boards,
		Jobs:     st.jobs,
		Apps:     apps,
		Notifier: notifier(cfg, rdb),
		Scraper:  scraper.Context{ProxyURL: cfg.ProxyURL, CaptchaAPIKey: cfg.CaptchaAPIKey},
		Profiles: st.profiles,
	}
	if err := workers.Register(manager, cfg.File.Concurrency); err != nil {
		return err
	}

	boardNames := cfg.File.Boards
	if len(boardNames) == 0 {
		boardNames = pipeline.DefaultBoards
	}
	searches := tasks.DefaultSearches
	if len(cfg.File.Searches) > 0 {
		searches = make([]tasks.Search, len(cfg.File.Searches))
		for i, s := range cfg.File.Searches {
			searches[i] = tasks.Search{Query: s.Query, Location: s.Location}
		}
	}
	if n, err := enq.ScheduleDefaults(ctx, searches, boardNames, cfg.ScrapeInterval); err != nil {
		slog.Error("schedule default searches", "err", err)
	} else {
		slog.Info("default searches scheduled", "added", n, "every", cfg.ScrapeInterval)
	}
	if n, err := enq.ScheduleSaved(ctx, st.searches, boardNames, cfg.ScrapeInterval); err != nil {
		slog.Error("schedule saved searches", "err", err)
	} else {
		slog.Info("saved searches scheduled", "added", n)
	}

	if err := manager.Initialize(ctx); err != nil {
		return fmt.Errorf("queues: %w", err)
	}

	// ── Inbox watcher ────────────────────────────────────────────────────────
	if cfg.IMAP.Enabled() {
		watcher, err := inboxWatcher(ctx, cfg, apps, st, enq)
		if err != nil {
			return err
		}
		go watcher.Run(ctx)
	} else {
		slog.Info("IMAP not configured: inbox watcher disabled")
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: httpapi.NewHandler(httpapi.Deps{
			Version:  version,
			Queues:   manager,
			Enqueue:  enq,
			Apps:     apps,
			Jobs:     st.jobs,
			Profiles: st.profiles,
			Matcher:  matching.New(),
			Boards:   boardNames,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	errc := make(chan error, 2)
	go func() {
		slog.Info("http listening", "version", version, "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()

	// ── gRPC health ──────────────────────────────────────────────────────────
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	gsrv := grpcserver.NewServer(manager, 0)
	go func() {
		slog.Info("grpc listening", "port", cfg.GRPCPort)
		if err := gsrv.Serve(ctx, lis); err != nil {
			errc <- fmt.Errorf("grpc: %w", err)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errc:
		slog.Error("server failed", "err", err)
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "err", err)
	}
	gsrv.Stop()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		slog.Error("queue shutdown", "err", err)
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	slog.Info("stopped")
	return nil
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreDriver == config.DriverSQLite {
		slog.Info("opening sqlite", "path", cfg.SQLitePath)
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		local := localProfile(cfg.File.Profile)
		return &stores{
			jobs:     jobstore.NewSQLite(conn),
			apps:     applications.NewSQLiteStore(conn),
			audit:    audit.NewSQLite(conn),
			profiles: local,
			dir:      local,
			searches: local,
			close:    func() { _ = conn.Close() },
		}, nil
	}

	slog.Info("connecting to postgres")
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if err := db.MigratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	users := profile.NewPostgres(pool)
	return &stores{
		jobs:     jobstore.NewPostgres(pool),
		apps:     applications.NewPostgresStore(pool),
		audit:    audit.NewPostgres(pool),
		profiles: users,
		dir:      users,
		searches: users,
		close:    pool.Close,
	}, nil
}

// localProfile turns the config file's candidate into the single-user
// directory used with sqlite.
func localProfile(p *config.Profile) *profile.Static {
	s := &profile.Static{Profiles: map[string]matching.Profile{}, Emails: map[string]string{}}
	if p == nil {
		return s
	}
	skills := make([]matching.Skill, len(p.Skills))
	for i, sk := range p.Skills {
		skills[i] = matching.Skill{Name: sk.Name, Proficiency: sk.Proficiency, Years: sk.Years}
	}
	s.Profiles[p.UserID] = matching.Profile{
		UserID:             p.UserID,
		Skills:             skills,
		TotalYears:         p.TotalYears,
		PreferredLocations: p.PreferredLocations,
		MinimumSalary:      p.MinimumSalary,
		MaximumSalary:      p.MaximumSalary,
		RemotePreferred:    p.RemotePreferred,
		ExcludedCompanies:  p.ExcludedCompanies,
		ExcludedKeywords:   p.ExcludedKeywords,
	}
	if p.Email != "" {
		s.Emails[strings.ToLower(p.Email)] = p.UserID
	}
	return s
}

func boardRegistry(cfg *config.Config) *scraper.Registry {
	limiter := scraper.NewHostLimiter(1, 2)
	reg := scraper.NewRegistry(
		scraper.NewLinkedIn(limiter),
		scraper.NewIndeed(limiter),
		scraper.NewGlassdoor(limiter),
	)
	if cfg.AdzunaAppID != "" && cfg.AdzunaAppKey != "" {
		reg.Register(scraper.NewAdzuna(limiter, cfg.AdzunaAppID, cfg.AdzunaAppKey, cfg.AdzunaCountry))
	}
	return reg
}

// notifier routes email and sms to the notification service over Redis and
// Slack straight to its webhook. Without a transport a channel is logged.
func notifier(cfg *config.Config, rdb *redis.Client) notify.Dispatcher {
	r := &notify.Router{Routes: map[notify.Channel]notify.Dispatcher{}, Default: notify.LogDispatcher{}}
	if rdb != nil {
		pub := notify.NewRedisPublisher(rdb)
		r.Routes[notify.ChannelEmail] = pub
		r.Routes[notify.ChannelSMS] = pub
	}
	if cfg.SlackWebhookURL != "" {
		r.Routes[notify.ChannelSlack] = notify.NewSlackWebhook(cfg.SlackWebhookURL)
	}
	return r
}

func inboxWatcher(ctx context.Context, cfg *config.Config, apps *applications.Service, st *stores, enq *tasks.Enqueuer) (*mailwatch.Watcher, error) {
	ic := mailwatch.IMAPConfig{
		Addr:     cfg.IMAP.Addr,
		Username: cfg.IMAP.Username,
		Password: cfg.IMAP.Password,
	}
	if cfg.IMAP.UsesOAuth() {
		ic.TokenSource = mailwatch.RefreshTokenSource(ctx,
			cfg.IMAP.OAuthClientID, cfg.IMAP.OAuthClientSecret, cfg.IMAP.OAuthTokenURL, cfg.IMAP.OAuthRefreshToken)
	}
	inbox, err := mailwatch.NewIMAPInbox(ic)
	if err != nil {
		return nil, fmt.Errorf("imap: %w", err)
	}
	return mailwatch.New(inbox, apps, st.dir,
		mailwatch.WithNotifier(enq),
		mailwatch.WithAudit(st.audit),
		mailwatch.WithPollInterval(cfg.IMAP.Poll),
	), nil
}

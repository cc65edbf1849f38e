package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kelvane/tellyvault/internal/cache"
	"github.com/kelvane/tellyvault/internal/config"
	"github.com/kelvane/tellyvault/internal/crypt"
	"github.com/kelvane/tellyvault/internal/iptv"
	"github.com/kelvane/tellyvault/internal/logger"
	"github.com/kelvane/tellyvault/internal/metrics"
	"github.com/kelvane/tellyvault/internal/models"
	"github.com/kelvane/tellyvault/internal/scheduler"
	"github.com/kelvane/tellyvault/internal/server"
	"github.com/kelvane/tellyvault/internal/service"
	"github.com/kelvane/tellyvault/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Optional config file path (YAML); else use env DATABASE_URL")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogPretty)
	ctx := context.Background()

	// Run migrations. The directory is resolved relative to the working
	// directory first, then next to the executable.
	absMigrations, err := filepath.Abs(cfg.MigrationsDir)
	if err != nil {
		absMigrations = cfg.MigrationsDir
	}
	if _, err := os.Stat(absMigrations); err != nil {
		if exe, e := os.Executable(); e == nil {
			absMigrations = filepath.Join(filepath.Dir(exe), cfg.MigrationsDir)
		}
	}
	if err := store.RunMigrations(cfg.DatabaseURL, "file://"+absMigrations); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer pg.Close()

	// Redis is optional; without it the fetch lock is process-local and
	// channel listings are uncached.
	var locker cache.Locker = cache.NewLocalLocker()
	svcOpts := []service.Option{}
	if cfg.RedisURL != "" {
		rds, err := cache.New(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis")
		}
		defer rds.Close()
		if err := rds.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("redis ping")
		}
		locker = cache.NewRedisLocker(rds)
		svcOpts = append(svcOpts, service.WithCache(rds))
		log.Info().Msg("redis connected")
	} else {
		log.Info().Msg("redis disabled (REDIS_URL not set)")
	}

	m, registry := metrics.New()
	svcOpts = append(svcOpts, service.WithMetrics(m))
	if cfg.AuthURL != "" {
		svcOpts = append(svcOpts, service.WithSessionFactory(sessionFactory(cfg.AuthURL)))
	}
	svc := service.New(pg, locker, log, svcOpts...)

	sched := scheduler.New(log, scheduler.WithInterval(cfg.ScheduleInterval))
	sched.RegisterCallback(models.TaskTypeFetchChannels, fetchCallback(svc, pg, m, log, cfg.FetchTimeout))
	if err := loadTasks(ctx, pg, sched, log); err != nil {
		log.Fatal().Err(err).Msg("load schedule tasks")
	}
	sched.Start()
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(pg, svc, sched, cfg, log, registry)
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatal().Err(err).Msg("server")
	}
}

// sessionFactory builds upstream sessions against a non-default discovery
// endpoint, for private deployments and integration environments.
func sessionFactory(authURL string) service.SessionFactory {
	return func(creds iptv.Credentials) (service.Upstream, error) {
		cipher, err := crypt.NewFromPassword(creds.Password)
		if err != nil {
			return nil, fmt.Errorf("derive account cipher: %w", err)
		}
		return iptv.NewSession(creds, cipher, iptv.WithAuthURL(authURL)), nil
	}
}

// fetchCallback adapts the pipeline to the scheduler: run the fetch, book the
// outcome on the task row, and surface the error so the scheduler retries on
// the next poll.
func fetchCallback(svc *service.Service, st store.Store, m *metrics.Metrics, log zerolog.Logger, timeout time.Duration) scheduler.Callback {
	return func(ctx context.Context, task scheduler.Task) error {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		res, err := svc.FetchChannels(runCtx, task.AccountID, service.Filter{
			ExcludePatterns: task.Filters.ExcludePatterns,
			FilterSD:        task.Filters.FilterSD,
		})
		m.RecordSchedulerRun(err)

		message := res.Message
		if err != nil && message == "" {
			message = err.Error()
		}
		// runCtx is expired whenever the fetch hit its deadline; the execution
		// record still has to land.
		recCtx, recCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer recCancel()
		if recErr := st.RecordExecution(recCtx, task.ID, err == nil, message); recErr != nil {
			log.Error().Err(recErr).Int64("task_id", task.ID).Msg("record task execution")
		}
		return err
	}
}

// loadTasks seeds the scheduler from the persisted task rows. A row with an
// invalid schedule is skipped with a warning instead of blocking startup.
func loadTasks(ctx context.Context, st store.Store, sched *scheduler.Scheduler, log zerolog.Logger) error {
	rows, err := st.ListScheduleTasks(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, row := range rows {
		task, err := scheduler.FromRow(row, now)
		if err != nil {
			log.Warn().Err(err).Int64("task_id", row.ID).Msg("skipping invalid schedule task")
			continue
		}
		sched.AddTask(task)
	}
	log.Info().Int("tasks", len(rows)).Msg("schedule tasks loaded")
	return nil
}

// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"go.astrophena.name/ebbinghaus/internal/bot"
	"go.astrophena.name/ebbinghaus/internal/cli"
	"go.astrophena.name/ebbinghaus/internal/dedup"
	"go.astrophena.name/ebbinghaus/internal/httplogger"
	"go.astrophena.name/ebbinghaus/internal/joblock"
	"go.astrophena.name/ebbinghaus/internal/notify"
	"go.astrophena.name/ebbinghaus/internal/review"
	"go.astrophena.name/ebbinghaus/internal/scheduler"
	"go.astrophena.name/ebbinghaus/internal/store"
	"go.astrophena.name/ebbinghaus/internal/systemd"
	"go.astrophena.name/ebbinghaus/internal/telegram"
	"go.astrophena.name/ebbinghaus/internal/tz"
	"go.astrophena.name/ebbinghaus/internal/web"
)

const (
	redisPrefix = "ebbinghaus:"
	// tickTTL outlives the longest gap between ticks of a minutely job.
	tickTTL        = time.Hour
	cleanupAge     = 90 * 24 * time.Hour
	checkOverdueAt = "0 */4 * * *"
	cleanupAt      = "0 2 * * 0"
	remindersAt    = "* * * * *"
)

func (a *app) serve(ctx context.Context, env *cli.Env) error {
	if err := a.initLogger(env); err != nil {
		return err
	}
	defer a.closeLog()

	if *a.botToken == "" {
		return fmt.Errorf("%w: bot token is required, set BOT_TOKEN", cli.ErrInvalidArgs)
	}
	if err := a.setup(ctx); err != nil {
		return err
	}
	defer a.store.Close()

	a.sched.Start(ctx)
	defer a.sched.Stop()
	if err := a.bot.ScheduleUserDigests(ctx); err != nil {
		a.logger.Error("failed to schedule user digests", "err", err)
	}
	if err := a.bot.RegisterCommands(ctx); err != nil {
		a.logger.Error("failed to register commands", "err", err)
	}

	if *a.webhookURL != "" {
		if err := a.tg.SetWebhook(ctx, *a.webhookURL, *a.webhookSecret); err != nil {
			return fmt.Errorf("setting webhook: %w", err)
		}
		a.logger.Info("receiving updates with webhook")
	} else {
		if err := a.tg.DeleteWebhook(ctx); err != nil {
			return fmt.Errorf("deleting webhook: %w", err)
		}
		go a.bot.Poll(ctx)
	}

	if a.noServerStart {
		return nil
	}

	go systemd.WatchdogLoop(ctx, a.logger, env.Getenv)
	defer systemd.Notify(a.logger, env.Getenv, systemd.Stopping)

	return web.ListenAndServe(ctx, &web.ListenAndServeConfig{
		Addr:            net.JoinHostPort(*a.host, strconv.Itoa(*a.port)),
		Mux:             a.mux,
		Logger:          a.logger,
		ShutdownTimeout: *a.shutdownTimeout,
		Debuggable:      *a.debug,
		DebugAuth:       a.debugAuth,
		Ready: func() {
			systemd.Notify(a.logger, env.Getenv, systemd.Ready)
			if a.ready != nil {
				a.ready()
			}
		},
	})
}

// setup initializes everything serve needs, short of starting it.
func (a *app) setup(ctx context.Context) error {
	if err := a.validate(); err != nil {
		return err
	}
	if err := a.openStore(ctx); err != nil {
		return err
	}

	var (
		locker  joblock.Locker = &joblock.Local{}
		ticks   dedup.Set
		updates dedup.Set = dedup.NewMem(ctx, dedup.DefaultTTL)
	)
	if *a.redisURL != "" {
		opts, err := redis.ParseURL(*a.redisURL)
		if err != nil {
			return fmt.Errorf("%w: parsing Redis URL: %v", cli.ErrInvalidArgs, err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to Redis: %w", err)
		}
		context.AfterFunc(ctx, func() { rdb.Close() })
		locker = joblock.NewRedis(joblock.RedisConfig{
			Client: rdb,
			Prefix: redisPrefix + "lock:",
			Logger: a.logger,
		})
		ticks = dedup.NewRedis(rdb, redisPrefix+"tick:", tickTTL)
		updates = dedup.NewRedis(rdb, redisPrefix+"update:", dedup.DefaultTTL)
		a.logger.Info("sharing job locks and updates through Redis")
	}

	var err error
	a.svc, err = review.New(review.Config{
		Store:                   a.store,
		Logger:                  a.logger,
		DefaultTimezone:         *a.timezone,
		DefaultNotificationTime: *a.notificationTime,
		Now:                     a.now,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", cli.ErrInvalidArgs, err)
	}

	httpc := a.httpc
	if httpc == nil {
		httpc = &http.Client{Timeout: *a.httpTimeout}
	}
	if *a.debug {
		c := *httpc
		c.Transport = httplogger.New(c.Transport, a.logger, telegram.NewScrubber(*a.botToken))
		httpc = &c
	}
	a.tg = telegram.New(telegram.Config{
		Token:      *a.botToken,
		HTTPClient: httpc,
		Logger:     a.logger,
	})
	a.notifier = notify.New(notify.Config{
		Service: a.svc,
		Sender:  a.tg,
		Logger:  a.logger,
	})
	a.sched = scheduler.New(scheduler.Config{
		Location: a.svc.DefaultLocation(),
		Locker:   locker,
		Ticks:    ticks,
		Logger:   a.logger,
	})
	a.bot = bot.New(bot.Config{
		Service:       a.svc,
		Telegram:      a.tg,
		Notifier:      a.notifier,
		Scheduler:     a.sched,
		Updates:       updates,
		WebhookSecret: *a.webhookSecret,
		Logger:        a.logger,
	})
	if err := a.addJobs(); err != nil {
		return err
	}
	a.initRoutes()
	return nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if *a.memory {
		a.logger.Warn("keeping data in memory, it will be lost on exit")
		a.store = store.NewMemStore()
		return nil
	}
	if err := store.Migrate(ctx, *a.databaseURL, a.logger); err != nil {
		return err
	}
	s, err := store.NewPostgresStore(ctx, *a.databaseURL, *a.timezone)
	if err != nil {
		return err
	}
	a.store = s
	return nil
}

// addJobs schedules the periodic jobs.
func (a *app) addJobs() error {
	c, err := tz.ParseClock(*a.notificationTime)
	if err != nil {
		return err
	}
	jobs := []struct {
		id, name, spec string
		job            scheduler.Job
	}{
		{
			id:   "daily_notifications",
			name: "Daily notifications",
			spec: fmt.Sprintf("%d %d * * *", c.Minute, c.Hour),
			job: func(ctx context.Context) error {
				_, err := a.notifier.SendDigests(ctx)
				return err
			},
		},
		{
			id:   "check_overdue",
			name: "Check overdue repetitions",
			spec: checkOverdueAt,
			job:  a.notifier.CheckOverdue,
		},
		{
			id:   "weekly_cleanup",
			name: "Weekly cleanup",
			spec: cleanupAt,
			job: func(ctx context.Context) error {
				_, err := a.svc.Cleanup(ctx, cleanupAge)
				return err
			},
		},
		{
			id:   "reminders",
			name: "Intraday reminders",
			spec: remindersAt,
			job: func(ctx context.Context) error {
				_, err := a.notifier.SendReminders(ctx)
				return err
			},
		},
	}
	for _, j := range jobs {
		if err := a.sched.Add(j.id, j.name, j.spec, j.job); err != nil {
			return err
		}
	}
	return nil
}

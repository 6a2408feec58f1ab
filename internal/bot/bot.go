// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package bot handles Telegram updates: commands, new material and answers
// to review buttons.
package bot

import (
	"cmp"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"go.astrophena.name/ebbinghaus/internal/dedup"
	"go.astrophena.name/ebbinghaus/internal/notify"
	"go.astrophena.name/ebbinghaus/internal/review"
	"go.astrophena.name/ebbinghaus/internal/scheduler"
	"go.astrophena.name/ebbinghaus/internal/store"
	"go.astrophena.name/ebbinghaus/internal/tz"
	"go.astrophena.name/ebbinghaus/internal/web"
)

// Client is the part of the Telegram Bot API used by the bot. It is
// implemented by *telegram.Client.
type Client interface {
	notify.Sender
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, id, text string) error
	SetMyCommands(ctx context.Context, commands []tgbotapi.BotCommand) error
	GetUpdates(ctx context.Context, offset, timeout int) ([]tgbotapi.Update, error)
}

// SecretHeader carries the webhook secret in requests from Telegram.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// PollTimeout is how long a long polling request waits for updates.
const PollTimeout = 30 * time.Second

const (
	pollBackoff = 5 * time.Second
	digestJob   = "daily_notification"
)

// Config configures a [Bot].
type Config struct {
	Service  *review.Service
	Telegram Client
	Notifier *notify.Notifier
	// Scheduler, if set, runs daily digests of users with their own time
	// zone or notification time.
	Scheduler *scheduler.Scheduler
	// Updates, if set, drops updates that were already handled.
	Updates dedup.Set
	// WebhookSecret, if set, must match the secret header of webhook
	// requests.
	WebhookSecret string
	Logger        *slog.Logger
}

// Bot handles Telegram updates.
type Bot struct {
	svc      *review.Service
	tg       Client
	notifier *notify.Notifier
	sched    *scheduler.Scheduler
	updates  dedup.Set
	secret   string
	logger   *slog.Logger
}

// New returns a new Bot.
func New(c Config) *Bot {
	return &Bot{
		svc:      c.Service,
		tg:       c.Telegram,
		notifier: c.Notifier,
		sched:    c.Scheduler,
		updates:  c.Updates,
		secret:   c.WebhookSecret,
		logger:   cmp.Or(c.Logger, slog.Default()),
	}
}

// Commands returns the commands shown in the Telegram menu.
func Commands() []tgbotapi.BotCommand {
	return []tgbotapi.BotCommand{
		{Command: "start", Description: "🚀 Начать работу с ботом"},
		{Command: "help", Description: "❓ Справка по командам"},
		{Command: "stats", Description: "📊 Статистика повторений"},
		{Command: "schedule", Description: "📅 Расписание повторений"},
		{Command: "repetitions", Description: "🔄 Мои повторения (алиас для schedule)"},
		{Command: "timezone", Description: "🌍 Часовой пояс"},
		{Command: "notify", Description: "⏰ Время ежедневных напоминаний"},
	}
}

// RegisterCommands registers [Commands] in Telegram.
func (b *Bot) RegisterCommands(ctx context.Context) error {
	if err := b.tg.SetMyCommands(ctx, Commands()); err != nil {
		return fmt.Errorf("registering commands: %w", err)
	}
	b.logger.Info("registered bot commands")
	return nil
}

// HandleUpdate handles a single update.
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.Message != nil:
		b.handleMessage(ctx, upd.Message)
	case upd.CallbackQuery != nil:
		b.handleCallback(ctx, upd.CallbackQuery)
	}
}

// seen reports whether the update was already handled.
func (b *Bot) seen(ctx context.Context, upd tgbotapi.Update) bool {
	if b.updates == nil {
		return false
	}
	seen, err := b.updates.Seen(ctx, "update:"+strconv.Itoa(upd.UpdateID))
	if err != nil {
		b.logger.Warn("failed to check update", "update_id", upd.UpdateID, "err", err)
		return false
	}
	if seen {
		b.logger.Debug("skipping duplicate update", "update_id", upd.UpdateID)
	}
	return seen
}

// ServeHTTP handles webhook requests from Telegram.
func (b *Bot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		web.RespondJSONError(b.logger, w, web.ErrMethodNotAllowed)
		return
	}
	if b.secret != "" {
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(b.secret)) != 1 {
			web.RespondJSONError(b.logger, w, web.ErrNotFound)
			return
		}
	}

	var upd tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		web.RespondJSONError(b.logger, w, fmt.Errorf("%w: %v", web.ErrBadRequest, err))
		return
	}

	logger := b.logger.With("request_id", uuid.NewString(), "update_id", upd.UpdateID)
	if !b.seen(r.Context(), upd) {
		logger.Debug("handling webhook update")
		b.withLogger(logger).HandleUpdate(r.Context(), upd)
	}
	web.RespondJSON(w, map[string]string{"status": "ok"})
}

func (b *Bot) withLogger(logger *slog.Logger) *Bot {
	b2 := *b
	b2.logger = logger
	return &b2
}

// Poll receives updates with long polling until ctx is canceled.
func (b *Bot) Poll(ctx context.Context) error {
	b.logger.Info("started polling for updates")
	offset := 0
	for {
		updates, err := b.tg.GetUpdates(ctx, offset, int(PollTimeout/time.Second))
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			b.logger.Error("failed to get updates", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollBackoff):
			}
			continue
		}
		for _, upd := range updates {
			offset = max(offset, upd.UpdateID+1)
			if !b.seen(ctx, upd) {
				b.HandleUpdate(ctx, upd)
			}
		}
	}
}

// reply sends a message and reports whether it was sent.
func (b *Bot) reply(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) bool {
	if _, err := b.tg.Send(ctx, chatID, text, markup); err != nil {
		b.logger.Error("failed to send message", "chat_id", chatID, "err", err)
		return false
	}
	return true
}

// morning returns the time of the daily digest of u.
func (b *Bot) morning(u *store.User) string {
	return cmp.Or(u.NotificationTime, b.svc.DefaultNotificationTime())
}

// ScheduleUserDigests registers digest jobs of all active users that don't
// use the default schedule.
func (b *Bot) ScheduleUserDigests(ctx context.Context) error {
	users, err := b.svc.ActiveUsers(ctx)
	if err != nil {
		return err
	}
	var n int
	for _, u := range users {
		ok, err := b.scheduleUserDigest(u)
		if err != nil {
			b.logger.Error("failed to schedule digest", "user_id", u.ID, "err", err)
			continue
		}
		if ok {
			n++
		}
	}
	b.logger.Info("scheduled user digests", "count", n)
	return nil
}

// scheduleUserDigest (re)registers the digest job of u. It reports whether u
// got a job of its own.
func (b *Bot) scheduleUserDigest(u *store.User) (bool, error) {
	if b.sched == nil || b.notifier == nil {
		return false, nil
	}
	b.sched.RemoveUserJobs(u.ID)
	if !u.IsActive || b.svc.UsesDefaultSchedule(u) {
		return false, nil
	}
	c, err := tz.ParseClock(b.morning(u))
	if err != nil {
		return false, err
	}
	spec := fmt.Sprintf("CRON_TZ=%s %d %d * * *", b.svc.Location(u), c.Minute, c.Hour)
	id := u.ID
	return true, b.sched.AddUserJob(id, digestJob, spec, func(ctx context.Context) error {
		_, err := b.notifier.SendDigest(ctx, id)
		if errors.Is(err, notify.ErrNothingDue) {
			return nil
		}
		return err
	})
}

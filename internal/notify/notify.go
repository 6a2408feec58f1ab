// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package notify sends daily digests and reminders about due reviews.
package notify

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"go.astrophena.name/ebbinghaus/internal/review"
	"go.astrophena.name/ebbinghaus/internal/util/syncx"
)

// ErrNothingDue is returned by [Notifier.SendDigest] when the user has no
// reviews due today.
var ErrNothingDue = errors.New("nothing due")

// Sender sends Telegram messages. It is implemented by *telegram.Client.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) (*tgbotapi.Message, error)
}

const (
	// Telegram allows bots about 30 messages per second.
	defaultRate        = 25
	defaultConcurrency = 4
)

// Config configures a [Notifier].
type Config struct {
	Service *review.Service
	Sender  Sender
	Logger  *slog.Logger
	// Limiter throttles sending. Defaults to 25 messages per second.
	Limiter *rate.Limiter
	// Concurrency limits how many digests are sent at once.
	Concurrency int
}

// Notifier sends digests and reminders.
type Notifier struct {
	svc         *review.Service
	sender      Sender
	logger      *slog.Logger
	limiter     *rate.Limiter
	concurrency int
}

// New returns a new Notifier.
func New(c Config) *Notifier {
	n := &Notifier{
		svc:         c.Service,
		sender:      c.Sender,
		logger:      cmp.Or(c.Logger, slog.Default()),
		limiter:     c.Limiter,
		concurrency: cmp.Or(c.Concurrency, defaultConcurrency),
	}
	if n.limiter == nil {
		n.limiter = rate.NewLimiter(defaultRate, 1)
	}
	return n
}

func (n *Notifier) send(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := n.sender.Send(ctx, chatID, text, markup)
	return err
}

// SendDigest sends the daily digest to a user and returns how many reviews
// it lists.
func (n *Notifier) SendDigest(ctx context.Context, userID int64) (int, error) {
	u, err := n.svc.User(ctx, userID)
	if err != nil {
		return 0, err
	}
	items, err := n.svc.Due(ctx, userID, time.Time{})
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, ErrNothingDue
	}
	if err := n.send(ctx, u.ID, FormatDigest(u, items), DigestKeyboard(items)); err != nil {
		return 0, err
	}
	n.logger.Info("sent digest", "user_id", userID, "count", len(items))
	return len(items), nil
}

// SendDigests expires intraday reviews left from previous days and sends
// the daily digest to every active user on the default schedule. It returns
// how many digests were sent. Failures of individual users are logged.
func (n *Notifier) SendDigests(ctx context.Context) (int, error) {
	if _, err := n.svc.ExpireIntraday(ctx); err != nil {
		return 0, err
	}
	users, err := n.svc.ActiveUsers(ctx)
	if err != nil {
		return 0, err
	}

	var (
		sent atomic.Int64
		lwg  = syncx.NewLimitedWaitGroup(n.concurrency)
	)
	for _, u := range users {
		if !n.svc.UsesDefaultSchedule(u) {
			continue
		}
		lwg.Add(1)
		go func() {
			defer lwg.Done()
			_, err := n.SendDigest(ctx, u.ID)
			switch {
			case errors.Is(err, ErrNothingDue):
			case err != nil:
				n.logger.Error("failed to send digest", "user_id", u.ID, "err", err)
			default:
				sent.Add(1)
			}
		}()
	}
	lwg.Wait()

	n.logger.Info("sent daily digests", "users", len(users), "sent", sent.Load())
	return int(sent.Load()), ctx.Err()
}

// SendReminders sends reminders about short-term and evening reviews that
// became due and returns how many were sent.
func (n *Notifier) SendReminders(ctx context.Context) (int, error) {
	items, err := n.svc.PendingReminders(ctx, n.svc.Now())
	if err != nil {
		return 0, err
	}

	active := make(map[int64]bool)
	var sent int
	for _, it := range items {
		ok, seen := active[it.UserID]
		if !seen {
			u, err := n.svc.User(ctx, it.UserID)
			if err != nil && !errors.Is(err, review.ErrNotFound) {
				return sent, err
			}
			ok = u != nil && u.IsActive
			active[it.UserID] = ok
		}
		if !ok {
			continue
		}

		text, kb := FormatReminder(it)
		if err := n.send(ctx, it.UserID, text, kb); err != nil {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			n.logger.Error("failed to send reminder", "user_id", it.UserID, "repetition_id", it.ID, "err", err)
			continue
		}
		if err := n.svc.MarkReminded(ctx, it.ID); err != nil {
			return sent, err
		}
		sent++
	}
	if sent > 0 {
		n.logger.Info("sent reminders", "count", sent)
	}
	return sent, nil
}

// CheckOverdue expires intraday reviews left from previous days and logs how
// many long-term reviews each active user has overdue.
func (n *Notifier) CheckOverdue(ctx context.Context) error {
	if _, err := n.svc.ExpireIntraday(ctx); err != nil {
		return err
	}
	users, err := n.svc.ActiveUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		overdue, err := n.svc.Overdue(ctx, u.ID)
		if err != nil {
			return err
		}
		if len(overdue) > 0 {
			n.logger.Info("user has overdue reviews", "user_id", u.ID, "count", len(overdue))
		}
	}
	return nil
}

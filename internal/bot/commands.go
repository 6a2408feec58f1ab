// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"go.astrophena.name/ebbinghaus/internal/review"
	"go.astrophena.name/ebbinghaus/internal/store"
)

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	u, err := b.svc.EnsureUser(ctx, msg.From.ID, msg.From.UserName, msg.From.FirstName)
	if err != nil {
		b.logger.Error("failed to get user", "user_id", msg.From.ID, "err", err)
		return
	}

	if !msg.IsCommand() {
		if msg.Text != "" {
			b.handleText(ctx, u, msg)
		}
		return
	}

	switch cmd := msg.Command(); cmd {
	case "start":
		b.handleStart(ctx, u, msg)
	case "help":
		b.reply(ctx, msg.Chat.ID, helpText, nil)
	case "stats":
		b.handleStats(ctx, u, msg)
	case "schedule", "repetitions":
		b.handleSchedule(ctx, u, msg)
	case "timezone":
		b.handleTimezone(ctx, u, msg)
	case "notify":
		b.handleNotify(ctx, u, msg)
	default:
		b.logger.Debug("unknown command", "user_id", u.ID, "command", cmd)
	}
}

func (b *Bot) handleStart(ctx context.Context, u *store.User, msg *tgbotapi.Message) {
	if u.IsAcknowledged {
		name := u.FirstName
		if name == "" {
			name = "друг"
		}
		b.reply(ctx, msg.Chat.ID, fmt.Sprintf(welcomeBackText, name), nil)
		return
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Ознакомлен ✅", "acknowledged"),
	))
	b.reply(ctx, msg.Chat.ID, fmt.Sprintf(introText, b.morning(u)), &kb)
}

// FormatStats formats the statistics of a user.
func FormatStats(st *review.Stats, created string) string {
	return fmt.Sprintf(statsText,
		st.TotalMaterials, st.ActiveMaterials,
		st.Successful, st.Failed, st.SuccessRate,
		st.Today, st.Overdue, st.Upcoming,
		created,
	)
}

func (b *Bot) handleStats(ctx context.Context, u *store.User, msg *tgbotapi.Message) {
	st, err := b.svc.Stats(ctx, u.ID)
	if errors.Is(err, review.ErrNotFound) {
		b.reply(ctx, msg.Chat.ID, userNotFoundText, nil)
		return
	}
	if err != nil {
		b.logger.Error("failed to get stats", "user_id", u.ID, "err", err)
		b.reply(ctx, msg.Chat.ID, callbackErrorText, nil)
		return
	}
	created := st.User.CreatedAt.In(b.svc.Location(st.User)).Format("02.01.2006")
	b.reply(ctx, msg.Chat.ID, FormatStats(st, created), nil)
}

func (b *Bot) handleTimezone(ctx context.Context, u *store.User, msg *tgbotapi.Message) {
	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		b.reply(ctx, msg.Chat.ID, fmt.Sprintf(timezoneText, b.svc.Location(u)), nil)
		return
	}
	u, err := b.svc.UpdateSettings(ctx, u.ID, review.Settings{Timezone: arg})
	if errors.Is(err, review.ErrInvalidTimezone) {
		b.reply(ctx, msg.Chat.ID, fmt.Sprintf(timezoneInvalidText, arg), nil)
		return
	}
	if err != nil {
		b.logger.Error("failed to update time zone", "user_id", msg.From.ID, "err", err)
		b.reply(ctx, msg.Chat.ID, callbackErrorText, nil)
		return
	}
	b.rescheduleDigest(u)
	b.reply(ctx, msg.Chat.ID, fmt.Sprintf(timezoneSetText, u.Timezone), nil)
}

func (b *Bot) handleNotify(ctx context.Context, u *store.User, msg *tgbotapi.Message) {
	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		b.reply(ctx, msg.Chat.ID, fmt.Sprintf(notifyText, b.morning(u), b.svc.Location(u)), nil)
		return
	}
	u, err := b.svc.UpdateSettings(ctx, u.ID, review.Settings{NotificationTime: arg})
	if errors.Is(err, review.ErrInvalidNotificationTime) {
		b.reply(ctx, msg.Chat.ID, notifyInvalidText, nil)
		return
	}
	if err != nil {
		b.logger.Error("failed to update notification time", "user_id", msg.From.ID, "err", err)
		b.reply(ctx, msg.Chat.ID, callbackErrorText, nil)
		return
	}
	b.rescheduleDigest(u)
	b.reply(ctx, msg.Chat.ID, fmt.Sprintf(notifySetText, b.morning(u), b.svc.Location(u)), nil)
}

func (b *Bot) rescheduleDigest(u *store.User) {
	if _, err := b.scheduleUserDigest(u); err != nil {
		b.logger.Error("failed to schedule digest", "user_id", u.ID, "err", err)
	}
}

// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package bot

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"go.astrophena.name/ebbinghaus/internal/ebbinghaus"
	"go.astrophena.name/ebbinghaus/internal/review"
	"go.astrophena.name/ebbinghaus/internal/store"
	"go.astrophena.name/ebbinghaus/internal/telegram"
)

const (
	// scheduleDays covers every interval up to the 30-day review.
	scheduleDays     = 35
	maxOverdueShown  = 5
	maxUpcomingShown = 50
)

var kindEmoji = map[string]string{
	ebbinghaus.Immediate: "📝",
	ebbinghaus.ShortTerm: "⏰",
	ebbinghaus.Evening:   "🌆",
	ebbinghaus.Day1:      "📅",
	ebbinghaus.Day3:      "📆",
	ebbinghaus.Day7:      "🗓️",
	ebbinghaus.Day14:     "📋",
	ebbinghaus.Day30:     "📊",
	ebbinghaus.Monthly:   "🔁",
}

func emoji(kind string) string {
	if e, ok := kindEmoji[kind]; ok {
		return e
	}
	return "📚"
}

var weekdays = [...]string{
	time.Sunday:    "Вс",
	time.Monday:    "Пн",
	time.Tuesday:   "Вт",
	time.Wednesday: "Ср",
	time.Thursday:  "Чт",
	time.Friday:    "Пт",
	time.Saturday:  "Сб",
}

// FormatSchedule formats the reviews of a user as message lines. today is
// the current civil date of the user. It returns nil if there is nothing to
// show.
func FormatSchedule(today time.Time, upcoming, overdue []review.Item) []string {
	if len(upcoming) == 0 && len(overdue) == 0 {
		return nil
	}
	lines := []string{"📅 МОИ ПОВТОРЕНИЯ"}

	var todays []review.Item
	for _, it := range upcoming {
		if it.ScheduledDate.Equal(today) {
			todays = append(todays, it)
		}
	}
	if len(todays) > 0 {
		lines = append(lines, fmt.Sprintf("\n🔥 СЕГОДНЯ (%d):", len(todays)))
		for _, it := range todays {
			lines = append(lines, emoji(it.Kind)+" "+preview(it.Content, 100))
		}
	}

	if len(overdue) > 0 {
		lines = append(lines, fmt.Sprintf("\n⚠️ ПРОСРОЧЕНО (%d):", len(overdue)))
		for _, it := range overdue[:min(len(overdue), maxOverdueShown)] {
			days := int(today.Sub(it.ScheduledDate).Hours() / 24)
			lines = append(lines, fmt.Sprintf("❌ %s (%dд назад) - %s", it.ScheduledDate.Format("02.01"), days, preview(it.Content, 80)))
		}
	}

	if len(upcoming) > 0 {
		lines = append(lines, fmt.Sprintf("\n📋 БЛИЖАЙШИЕ (%d):", len(upcoming)))
		var (
			current time.Time
			shown   int
		)
		for _, it := range upcoming {
			if shown >= maxUpcomingShown {
				break
			}
			if it.ScheduledDate.Equal(today) {
				continue
			}
			if !it.ScheduledDate.Equal(current) {
				current = it.ScheduledDate
				lines = append(lines, fmt.Sprintf("\n📆 %s (%s):", current.Format("02.01"), weekdays[current.Weekday()]))
			}
			lines = append(lines, "  "+emoji(it.Kind)+" "+preview(it.Content, 60))
			shown++
		}
		lines = append(lines, "\n💡 Используй /stats для просмотра статистики")
	}
	return lines
}

// partHeader numbers every message after the first one.
const partHeader = "📄 Часть %d:\n\n"

// JoinParts joins lines into messages that fit into a Telegram message,
// headers included. A line too long for a message of its own is cut.
func JoinParts(lines []string) []string {
	full := strings.Join(lines, "\n")
	if utf8.RuneCountInString(full) <= telegram.MaxMessageLength {
		return []string{full}
	}
	limit := telegram.MaxMessageLength - utf8.RuneCountInString(fmt.Sprintf(partHeader, 1000))

	var (
		msgs    []string
		current string
	)
	for _, line := range lines {
		if utf8.RuneCountInString(current)+utf8.RuneCountInString(line)+1 <= limit {
			if current != "" {
				current += "\n"
			}
			current += line
			continue
		}
		if current != "" {
			msgs = append(msgs, current)
		}
		if utf8.RuneCountInString(line) > limit {
			line = string([]rune(line)[:limit-50]) + "... (обрезано)"
		}
		current = line
	}
	if current != "" {
		msgs = append(msgs, current)
	}
	for i := 1; i < len(msgs); i++ {
		msgs[i] = fmt.Sprintf(partHeader, i+1) + msgs[i]
	}
	return msgs
}

func (b *Bot) handleSchedule(ctx context.Context, u *store.User, msg *tgbotapi.Message) {
	b.logger.Info("user requested schedule", "user_id", u.ID)
	upcoming, err := b.svc.Schedule(ctx, u.ID, scheduleDays, false)
	if err != nil {
		b.scheduleError(ctx, u, msg, err)
		return
	}
	overdue, err := b.svc.Overdue(ctx, u.ID)
	if err != nil {
		b.scheduleError(ctx, u, msg, err)
		return
	}

	lines := FormatSchedule(b.svc.Today(b.svc.Location(u)), upcoming, overdue)
	if lines == nil {
		b.reply(ctx, msg.Chat.ID, emptyScheduleText, nil)
		return
	}
	for _, part := range JoinParts(lines) {
		if !b.reply(ctx, msg.Chat.ID, part, nil) {
			return
		}
	}
}

func (b *Bot) scheduleError(ctx context.Context, u *store.User, msg *tgbotapi.Message, err error) {
	b.logger.Error("failed to get schedule", "user_id", u.ID, "err", err)
	b.reply(ctx, msg.Chat.ID, scheduleErrorText, nil)
}

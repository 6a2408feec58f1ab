// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package notify

import (
	"fmt"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"go.astrophena.name/ebbinghaus/internal/ebbinghaus"
	"go.astrophena.name/ebbinghaus/internal/review"
	"go.astrophena.name/ebbinghaus/internal/store"
)

var labels = map[string]string{
	ebbinghaus.Immediate: "📝 Сразу",
	ebbinghaus.ShortTerm: "⏰ Через 20-30 мин",
	ebbinghaus.Evening:   "🌆 Вечером",
	ebbinghaus.Day1:      "📅 День +1",
	ebbinghaus.Day3:      "📆 День +3",
	ebbinghaus.Day7:      "🗓️ Неделя",
	ebbinghaus.Day14:     "📋 2 недели",
	ebbinghaus.Day30:     "📊 Месяц",
	ebbinghaus.Monthly:   "🔁 Раз в месяц",
}

// Label returns a human-readable name of a review kind.
func Label(kind string) string {
	if l, ok := labels[kind]; ok {
		return l
	}
	return kind
}

// Truncate shortens s to at most n runes, ending it with "..." when cut.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:max(0, n-3)]) + "..."
}

// maxKeyboardItems is the largest digest that gets a pair of buttons per
// review.
const maxKeyboardItems = 3

// FormatDigest formats the daily digest of reviews due for u. It returns an
// empty string if there are no items.
func FormatDigest(u *store.User, items []review.Item) string {
	if len(items) == 0 {
		return ""
	}
	name := "Друг"
	if u != nil && u.FirstName != "" {
		name = u.FirstName
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Доброе утро, %s! ☀️\n\n", name)
	fmt.Fprintf(&sb, "⏰ Время повторить материал! У тебя %d повторений на сегодня:\n\n", len(items))
	for i, it := range items {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, Label(it.Kind))
		fmt.Fprintf(&sb, "   📖 %s\n\n", Truncate(it.Content, 50))
	}
	sb.WriteString("🎯 Нажми кнопки ниже, чтобы отметить результат повторения.\n\n")
	sb.WriteString("💡 Помни: регулярное повторение - ключ к долговременной памяти!")
	return sb.String()
}

// DigestKeyboard returns the buttons of the daily digest: one pair for all
// reviews when there are many of them, or a pair per review otherwise.
func DigestKeyboard(items []review.Item) *tgbotapi.InlineKeyboardMarkup {
	if len(items) == 0 {
		return nil
	}
	if len(items) > maxKeyboardItems {
		kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Повторил всё ✅", "complete_all_success"),
			tgbotapi.NewInlineKeyboardButtonData("Не повторил ❌", "complete_all_failed"),
		))
		return &kb
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(items))
	for _, it := range items {
		short := Truncate(it.Content, 20)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ "+short, fmt.Sprintf("complete_%d_success", it.ID)),
			tgbotapi.NewInlineKeyboardButtonData("❌ "+short, fmt.Sprintf("complete_%d_failed", it.ID)),
		))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

// FormatReminder formats a reminder about a short-term or evening review.
func FormatReminder(it review.Item) (string, *tgbotapi.InlineKeyboardMarkup) {
	var header string
	switch it.Kind {
	case ebbinghaus.ShortTerm:
		header = "⏰ Время повторить материал! (20-30 мин прошло)"
	case ebbinghaus.Evening:
		header = "🌆 Вечернее повторение материала!"
	default:
		header = "📚 Время повторения!"
	}
	text := header + "\n\n📝 Материал: " + Truncate(it.Content, 100) + "\n\nПовтори материал и отметь результат:"

	kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Повторил ✅", fmt.Sprintf("reminder_%d_success", it.ID)),
		tgbotapi.NewInlineKeyboardButtonData("Не повторил ❌", fmt.Sprintf("reminder_%d_failed", it.ID)),
	))
	return text, &kb
}

// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"go.astrophena.name/ebbinghaus/internal/ebbinghaus"
	"go.astrophena.name/ebbinghaus/internal/review"
	"go.astrophena.name/ebbinghaus/internal/store"
	"go.astrophena.name/ebbinghaus/internal/testutil"
)

type sentMessage struct {
	ChatID int64
	Text   string
	Markup *tgbotapi.InlineKeyboardMarkup
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(_ context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) (*tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, sentMessage{chatID, text, markup})
	return &tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type testEnv struct {
	svc    *review.Service
	sender *fakeSender
	n      *Notifier
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	loc, err := time.LoadLocation(review.DefaultTimezone)
	if err != nil {
		t.Fatal(err)
	}
	e := &testEnv{
		sender: &fakeSender{},
		now:    time.Date(2025, 3, 10, 10, 0, 0, 0, loc),
	}
	e.svc, err = review.New(review.Config{
		Store: store.NewMemStore(),
		Now:   func() time.Time { return e.now },
	})
	if err != nil {
		t.Fatal(err)
	}
	e.n = New(Config{
		Service: e.svc,
		Sender:  e.sender,
		Limiter: rate.NewLimiter(rate.Inf, 1),
	})
	return e
}

func (e *testEnv) user(t *testing.T, id int64, name string) {
	t.Helper()
	if _, err := e.svc.EnsureUser(t.Context(), id, "", name); err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) study(t *testing.T, userID int64, content string) {
	t.Helper()
	if _, err := e.svc.Study(t.Context(), userID, content); err != nil {
		t.Fatal(err)
	}
}

func item(id int64, kind, content string) review.Item {
	return review.Item{
		Repetition: store.Repetition{ID: id, Kind: kind},
		Content:    content,
	}
}

func callbackData(t *testing.T, kb *tgbotapi.InlineKeyboardMarkup) [][]string {
	t.Helper()
	if kb == nil {
		return nil
	}
	var rows [][]string
	for _, row := range kb.InlineKeyboard {
		var data []string
		for _, b := range row {
			if b.CallbackData == nil {
				t.Fatalf("button %q has no callback data", b.Text)
			}
			data = append(data, *b.CallbackData)
		}
		rows = append(rows, data)
	}
	return rows
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		in   string
		n    int
		want string
	}{
		"short":    {in: "abc", n: 5, want: "abc"},
		"exact":    {in: "abcde", n: 5, want: "abcde"},
		"long":     {in: "abcdefgh", n: 5, want: "ab..."},
		"cyrillic": {in: "повторение", n: 7, want: "повт..."},
		"tiny":     {in: "abcdef", n: 2, want: "..."},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			testutil.AssertEqual(t, Truncate(tc.in, tc.n), tc.want)
		})
	}
}

func TestLabel(t *testing.T) {
	t.Parallel()

	testutil.AssertEqual(t, Label(ebbinghaus.Day7), "🗓️ Неделя")
	testutil.AssertEqual(t, Label(ebbinghaus.Monthly), "🔁 Раз в месяц")
	testutil.AssertEqual(t, Label("custom"), "custom")
}

func TestFormatDigest(t *testing.T) {
	t.Parallel()

	testutil.AssertEqual(t, FormatDigest(&store.User{FirstName: "Анна"}, nil), "")

	got := FormatDigest(&store.User{FirstName: "Анна"}, []review.Item{
		item(1, ebbinghaus.Day1, "Закон Ома"),
		item(2, ebbinghaus.Evening, strings.Repeat("я", 60)),
	})
	want := "Доброе утро, Анна! ☀️\n\n" +
		"⏰ Время повторить материал! У тебя 2 повторений на сегодня:\n\n" +
		"1. 📅 День +1\n" +
		"   📖 Закон Ома\n\n" +
		"2. 🌆 Вечером\n" +
		"   📖 " + strings.Repeat("я", 47) + "...\n\n" +
		"🎯 Нажми кнопки ниже, чтобы отметить результат повторения.\n\n" +
		"💡 Помни: регулярное повторение - ключ к долговременной памяти!"
	testutil.AssertEqual(t, got, want)

	got = FormatDigest(&store.User{}, []review.Item{item(1, ebbinghaus.Day1, "x")})
	if !strings.HasPrefix(got, "Доброе утро, Друг!") {
		t.Fatalf("unexpected greeting in %q", got)
	}
}

func TestDigestKeyboard(t *testing.T) {
	t.Parallel()

	if kb := DigestKeyboard(nil); kb != nil {
		t.Fatalf("want nil keyboard, got %v", kb)
	}

	kb := DigestKeyboard([]review.Item{
		item(5, ebbinghaus.Immediate, "очень длинный текст материала"),
		item(6, ebbinghaus.Day3, "коротко"),
	})
	testutil.AssertEqual(t, callbackData(t, kb), [][]string{
		{"complete_5_success", "complete_5_failed"},
		{"complete_6_success", "complete_6_failed"},
	})
	testutil.AssertEqual(t, kb.InlineKeyboard[0][0].Text, "✅ очень длинный тек...")
	testutil.AssertEqual(t, kb.InlineKeyboard[1][1].Text, "❌ коротко")

	kb = DigestKeyboard([]review.Item{
		item(1, ebbinghaus.Day1, "a"),
		item(2, ebbinghaus.Day1, "b"),
		item(3, ebbinghaus.Day1, "c"),
		item(4, ebbinghaus.Day1, "d"),
	})
	testutil.AssertEqual(t, callbackData(t, kb), [][]string{
		{"complete_all_success", "complete_all_failed"},
	})
}

func TestFormatReminder(t *testing.T) {
	t.Parallel()

	text, kb := FormatReminder(item(9, ebbinghaus.ShortTerm, "Теорема Пифагора"))
	testutil.AssertEqual(t, text, "⏰ Время повторить материал! (20-30 мин прошло)\n\n"+
		"📝 Материал: Теорема Пифагора\n\n"+
		"Повтори материал и отметь результат:")
	testutil.AssertEqual(t, callbackData(t, kb), [][]string{
		{"reminder_9_success", "reminder_9_failed"},
	})

	text, _ = FormatReminder(item(10, ebbinghaus.Evening, "x"))
	if !strings.HasPrefix(text, "🌆 Вечернее повторение материала!") {
		t.Fatalf("unexpected evening reminder %q", text)
	}
}

func TestSendDigest(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.user(t, 1, "Анна")
	e.user(t, 2, "Борис")
	e.study(t, 1, "Закон Ома")

	n, err := e.n.SendDigest(t.Context(), 1)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, n, 1)

	msgs := e.sender.messages()
	testutil.AssertEqual(t, len(msgs), 1)
	testutil.AssertEqual(t, msgs[0].ChatID, int64(1))
	testutil.AssertSubstring(t, msgs[0].Text, "Закон Ома")
	testutil.AssertEqual(t, len(msgs[0].Markup.InlineKeyboard), 1)

	if _, err := e.n.SendDigest(t.Context(), 2); !errors.Is(err, ErrNothingDue) {
		t.Fatalf("want ErrNothingDue, got %v", err)
	}
	if _, err := e.n.SendDigest(t.Context(), 3); !errors.Is(err, review.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSendDigests(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.user(t, 1, "Анна")
	e.user(t, 2, "Борис")
	e.user(t, 3, "Вера")
	e.user(t, 4, "Глеб")
	e.study(t, 1, "первый материал")
	e.study(t, 2, "второй материал")
	e.study(t, 4, "четвертый материал")

	if _, err := e.svc.UpdateSettings(t.Context(), 2, review.Settings{NotificationTime: "09:00"}); err != nil {
		t.Fatal(err)
	}
	if err := e.svc.SetActive(t.Context(), 4, false); err != nil {
		t.Fatal(err)
	}

	sent, err := e.n.SendDigests(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, sent, 1)
	msgs := e.sender.messages()
	testutil.AssertEqual(t, len(msgs), 1)
	testutil.AssertEqual(t, msgs[0].ChatID, int64(1))
}

func TestSendDigestsSenderError(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.user(t, 1, "Анна")
	e.study(t, 1, "материал")
	e.sender.err = errors.New("telegram is down")

	sent, err := e.n.SendDigests(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, sent, 0)
}

func TestSendReminders(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.user(t, 1, "Анна")
	e.user(t, 2, "Борис")
	e.study(t, 1, "напоминание")
	e.study(t, 2, "неактивный")
	if err := e.svc.SetActive(t.Context(), 2, false); err != nil {
		t.Fatal(err)
	}

	n, err := e.n.SendReminders(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, n, 0)

	e.now = e.now.Add(25 * time.Minute)
	n, err = e.n.SendReminders(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, n, 1)
	msgs := e.sender.messages()
	testutil.AssertEqual(t, msgs[0].ChatID, int64(1))
	testutil.AssertSubstring(t, msgs[0].Text, "20-30 мин прошло")

	// Reminders are sent once.
	n, err = e.n.SendReminders(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, n, 0)
}

func TestCheckOverdue(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.user(t, 1, "Анна")
	e.study(t, 1, "материал")

	e.now = e.now.AddDate(0, 0, 2)
	if err := e.n.CheckOverdue(t.Context()); err != nil {
		t.Fatal(err)
	}

	// Intraday reviews from two days ago are expired.
	items, err := e.svc.Schedule(t.Context(), 1, 7, false)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(items), 1)
	testutil.AssertEqual(t, items[0].Kind, ebbinghaus.Immediate)
}

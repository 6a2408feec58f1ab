// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package bot

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"go.astrophena.name/ebbinghaus/internal/ebbinghaus"
	"go.astrophena.name/ebbinghaus/internal/store"
)

const (
	minMaterialLen = 5
	maxMaterialLen = 2000
	// minQuestionLen is the shortest line or fragment kept by ParseQuestions.
	minQuestionLen = 5
)

var questionWords = []string{
	"что", "как", "где", "когда", "почему", "зачем", "какой", "какая",
	"какое", "какие", "кто", "куда", "откуда", "есть", "чтобы",
}

func hasQuestionWord(s string) bool {
	s = strings.ToLower(s)
	for _, w := range questionWords {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// ParseQuestions splits the text of a message into separate questions.
//
// Lines of a multi-line message become questions first; a line without a
// trailing "?" gets one if it contains a question word. Otherwise the text is
// split by "?". If that still yields at most one part, the whole text is a
// single question.
func ParseQuestions(content string) []string {
	var questions []string
	for line := range strings.SplitSeq(strings.TrimSpace(content), "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) < minQuestionLen {
			continue
		}
		if !strings.HasSuffix(line, "?") && hasQuestionWord(line) {
			line += "?"
		}
		questions = append(questions, line)
	}
	if len(questions) > 1 {
		return questions
	}

	questions = questions[:0]
	parts := strings.Split(content, "?")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if utf8.RuneCountInString(part) < minQuestionLen {
			continue
		}
		if i < len(parts)-1 || hasQuestionWord(part) {
			part += "?"
		}
		questions = append(questions, part)
	}
	if len(questions) <= 1 {
		return []string{strings.TrimSpace(content)}
	}
	return questions
}

// preview cuts s to n runes, appending "..." when something was cut.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// handleText adds the text of a message as new material.
func (b *Bot) handleText(ctx context.Context, u *store.User, msg *tgbotapi.Message) {
	content := strings.TrimSpace(msg.Text)
	switch n := utf8.RuneCountInString(content); {
	case n < minMaterialLen:
		b.reply(ctx, msg.Chat.ID, tooShortText, nil)
		return
	case n > maxMaterialLen:
		b.reply(ctx, msg.Chat.ID, tooLongText, nil)
		return
	}

	questions := ParseQuestions(content)
	if _, err := b.svc.StudyAll(ctx, u.ID, questions); err != nil {
		b.logger.Error("failed to add material", "user_id", u.ID, "err", err)
		b.reply(ctx, msg.Chat.ID, addMaterialErrorText, nil)
		return
	}
	b.logger.Info("added material", "user_id", u.ID, "questions", len(questions))
	b.reply(ctx, msg.Chat.ID, studySummary(questions, b.morning(u)), nil)
}

// initialReviews is how many reviews Study schedules for new material.
var initialReviews = len(ebbinghaus.IntradayKinds)

func studySummary(questions []string, morning string) string {
	var sb strings.Builder
	if len(questions) == 1 {
		sb.WriteString("✅ Материал добавлен!\n\n")
		fmt.Fprintf(&sb, "📚 Содержимое: %s\n\n", preview(questions[0], 100))
		fmt.Fprintf(&sb, "📅 Создано повторений: %d\n\n", initialReviews)
		sb.WriteString(studyPlan("Повтори этот материал:", morning))
		return sb.String()
	}

	fmt.Fprintf(&sb, "✅ Материал разделен на %d вопросов!\n\n", len(questions))
	sb.WriteString("📚 Список вопросов:\n")
	for i, q := range questions {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, q)
	}
	fmt.Fprintf(&sb, "\n📅 Создано повторений: %d\n\n", initialReviews*len(questions))
	sb.WriteString(studyPlan("Повтори каждый вопрос:", morning))
	return sb.String()
}

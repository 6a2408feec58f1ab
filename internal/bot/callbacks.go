// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"go.astrophena.name/ebbinghaus/internal/review"
	"go.astrophena.name/ebbinghaus/internal/store"
)

var errMalformedData = errors.New("malformed callback data")

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if err := b.tg.AnswerCallbackQuery(ctx, q.ID, ""); err != nil {
		b.logger.Warn("failed to answer callback query", "err", err)
	}
	if q.From == nil {
		return
	}
	u, err := b.svc.EnsureUser(ctx, q.From.ID, q.From.UserName, q.From.FirstName)
	if err != nil {
		b.logger.Error("failed to get user", "user_id", q.From.ID, "err", err)
		b.edit(ctx, q, callbackErrorText)
		return
	}

	text, err := b.callbackText(ctx, u, q.Data)
	if err != nil {
		b.logger.Error("failed to handle callback", "user_id", u.ID, "data", q.Data, "err", err)
		text = callbackErrorText
	}
	b.edit(ctx, q, text)
}

// callbackText handles the data of a pressed button and returns the new
// text of its message.
func (b *Bot) callbackText(ctx context.Context, u *store.User, data string) (string, error) {
	switch {
	case data == "acknowledged":
		if err := b.svc.Acknowledge(ctx, u.ID); err != nil {
			return "", err
		}
		return acknowledgedText, nil
	case strings.HasPrefix(data, "complete_all_"):
		success := strings.TrimPrefix(data, "complete_all_") == "success"
		n, err := b.svc.CompleteAll(ctx, u.ID, success)
		if err != nil {
			return "", err
		}
		return completeAllText(success, n), nil
	case strings.HasPrefix(data, "complete_"):
		id, success, err := parseResult(strings.TrimPrefix(data, "complete_"))
		if err != nil {
			return malformedDataText, nil
		}
		if _, err := b.svc.Complete(ctx, u.ID, id, success); err != nil {
			b.logger.Warn("failed to complete review", "user_id", u.ID, "repetition_id", id, "err", err)
			return completionErrorText, nil
		}
		if success {
			return completedSuccessText, nil
		}
		return completedFailedText, nil
	case strings.HasPrefix(data, "reminder_"):
		id, success, err := parseResult(strings.TrimPrefix(data, "reminder_"))
		if err != nil {
			return malformedDataText, nil
		}
		out, err := b.svc.Complete(ctx, u.ID, id, success)
		if errors.Is(err, review.ErrNotFound) {
			return completionErrorText, nil
		}
		if err != nil {
			return "", err
		}
		return reminderResponseText(out.Completed.Kind, success, b.morning(u)), nil
	}
	b.logger.Warn("unknown callback data", "data", data)
	return unknownCallbackText, nil
}

// parseResult parses "{id}_{success|failed}".
func parseResult(s string) (id int64, success bool, err error) {
	rawID, result, ok := strings.Cut(s, "_")
	if !ok {
		return 0, false, errMalformedData
	}
	id, err = strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", errMalformedData, err)
	}
	switch result {
	case "success":
		return id, true, nil
	case "failed":
		return id, false, nil
	}
	return 0, false, fmt.Errorf("%w: unknown result %q", errMalformedData, result)
}

func (b *Bot) edit(ctx context.Context, q *tgbotapi.CallbackQuery, text string) {
	if q.Message == nil || q.Message.Chat == nil {
		return
	}
	if err := b.tg.EditMessageText(ctx, q.Message.Chat.ID, q.Message.MessageID, text, nil); err != nil {
		b.logger.Error("failed to edit message", "chat_id", q.Message.Chat.ID, "err", err)
	}
}

// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram is a minimal Telegram Bot API client.
//
// It covers the methods the bot needs and reuses the API types from
// [tgbotapi].
package telegram

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"go.astrophena.name/ebbinghaus/internal/request"
)

const (
	// DefaultAPIURL is the Telegram Bot API endpoint.
	DefaultAPIURL = "https://api.telegram.org"
	// MaxMessageLength is the maximum length of a message text in runes.
	MaxMessageLength = 4096

	retryLimit = 5 // N attempts to retry rate limited requests
)

// Config configures a [Client].
type Config struct {
	// Token is the bot token.
	Token string
	// APIURL defaults to DefaultAPIURL.
	APIURL     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client makes requests to the Telegram Bot API.
type Client struct {
	token    string
	apiURL   string
	httpc    *http.Client
	logger   *slog.Logger
	scrubber *strings.Replacer
	sleep    func(context.Context, time.Duration) bool
}

// New returns a new Client.
func New(c Config) *Client {
	return &Client{
		token:    c.Token,
		apiURL:   strings.TrimSuffix(cmp.Or(c.APIURL, DefaultAPIURL), "/"),
		httpc:    cmp.Or(c.HTTPClient, request.DefaultClient),
		logger:   cmp.Or(c.Logger, slog.Default()),
		scrubber: NewScrubber(c.Token),
		sleep:    sleep,
	}
}

// NewScrubber returns a replacer that hides the bot token, or nil if the
// token is empty.
func NewScrubber(token string) *strings.Replacer {
	if token == "" {
		return nil
	}
	return strings.NewReplacer(token, "[EXPUNGED]")
}

// Error is an error reported by the Bot API in a successful HTTP response.
type Error struct {
	Method      string
	Code        int
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("telegram: %s: %d %s", e.Method, e.Code, e.Description)
}

// call makes a Bot API request, retrying it when rate limited, and decodes
// its result into R.
func call[R any](ctx context.Context, c *Client, method string, args any) (R, error) {
	var (
		zero R
		resp tgbotapi.APIResponse
		err  error
	)
	for attempt := 1; ; attempt++ {
		resp, err = request.Make[tgbotapi.APIResponse](ctx, request.Params{
			Method:     http.MethodPost,
			URL:        c.apiURL + "/bot" + c.token + "/" + method,
			Body:       args,
			HTTPClient: c.httpc,
			Scrubber:   c.scrubber,
		})
		if err == nil {
			break
		}

		retryable, wait := isRateLimited(err)
		if !retryable || attempt == retryLimit {
			break
		}
		c.logger.Warn("telegram rate limited, waiting", "method", method, "wait", wait)
		if !c.sleep(ctx, wait) {
			return zero, ctx.Err()
		}
	}
	if err != nil {
		return zero, err
	}
	if !resp.Ok {
		return zero, &Error{Method: method, Code: resp.ErrorCode, Description: resp.Description}
	}

	var res R
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &res); err != nil {
			return zero, fmt.Errorf("telegram: %s: decoding result: %w", method, err)
		}
	}
	return res, nil
}

type sendMessageArgs struct {
	ChatID      int64                          `json:"chat_id"`
	Text        string                         `json:"text"`
	ReplyMarkup *tgbotapi.InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// Send sends text to a chat, splitting it into several messages when it is
// too long. The keyboard is attached to the last message, which is returned.
func (c *Client) Send(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) (*tgbotapi.Message, error) {
	chunks := SplitMessage(text)
	if len(chunks) == 0 {
		return nil, errors.New("telegram: empty message")
	}
	var last tgbotapi.Message
	for i, chunk := range chunks {
		args := sendMessageArgs{ChatID: chatID, Text: chunk}
		if i == len(chunks)-1 {
			args.ReplyMarkup = markup
		}
		msg, err := call[tgbotapi.Message](ctx, c, "sendMessage", args)
		if err != nil {
			return nil, err
		}
		last = msg
	}
	return &last, nil
}

type editMessageTextArgs struct {
	ChatID      int64                          `json:"chat_id"`
	MessageID   int                            `json:"message_id"`
	Text        string                         `json:"text"`
	ReplyMarkup *tgbotapi.InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// EditMessageText replaces the text of a message. A nil markup removes the
// keyboard.
func (c *Client) EditMessageText(ctx context.Context, chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	_, err := call[json.RawMessage](ctx, c, "editMessageText", editMessageTextArgs{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        truncateRunes(text, MaxMessageLength),
		ReplyMarkup: markup,
	})
	return err
}

// AnswerCallbackQuery stops the loading animation on a pressed button,
// optionally showing text to the user.
func (c *Client) AnswerCallbackQuery(ctx context.Context, id, text string) error {
	_, err := call[bool](ctx, c, "answerCallbackQuery", struct {
		CallbackQueryID string `json:"callback_query_id"`
		Text            string `json:"text,omitempty"`
	}{id, text})
	return err
}

// SetMyCommands sets the list of commands shown in the Telegram menu.
func (c *Client) SetMyCommands(ctx context.Context, commands []tgbotapi.BotCommand) error {
	_, err := call[bool](ctx, c, "setMyCommands", struct {
		Commands []tgbotapi.BotCommand `json:"commands"`
	}{commands})
	return err
}

// SetWebhook makes Telegram deliver updates to url. If secret is not empty,
// Telegram sends it in the X-Telegram-Bot-Api-Secret-Token header.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	_, err := call[bool](ctx, c, "setWebhook", struct {
		URL            string   `json:"url"`
		SecretToken    string   `json:"secret_token,omitempty"`
		AllowedUpdates []string `json:"allowed_updates"`
	}{url, secret, []string{"message", "callback_query"}})
	return err
}

// DeleteWebhook removes the webhook, allowing to receive updates with
// [Client.GetUpdates].
func (c *Client) DeleteWebhook(ctx context.Context) error {
	_, err := call[bool](ctx, c, "deleteWebhook", struct{}{})
	return err
}

// GetUpdates long polls for updates with IDs starting from offset, waiting
// up to timeout seconds.
func (c *Client) GetUpdates(ctx context.Context, offset, timeout int) ([]tgbotapi.Update, error) {
	return call[[]tgbotapi.Update](ctx, c, "getUpdates", struct {
		Offset         int      `json:"offset"`
		Timeout        int      `json:"timeout"`
		AllowedUpdates []string `json:"allowed_updates"`
	}{offset, timeout, []string{"message", "callback_query"}})
}

// GetMe returns the bot user.
func (c *Client) GetMe(ctx context.Context) (*tgbotapi.User, error) {
	u, err := call[tgbotapi.User](ctx, c, "getMe", struct{}{})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SplitMessage splits text into chunks of at most MaxMessageLength runes,
// preferring to split at newlines, then at whitespace.
func SplitMessage(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	for text != "" {
		if utf8.RuneCountInString(text) <= MaxMessageLength {
			chunks = append(chunks, text)
			break
		}

		var (
			lastNewline    = -1
			lastWhitespace = -1
			byteCap        = len(text)
			runeCount      int
		)
		for i, r := range text {
			if runeCount == MaxMessageLength {
				byteCap = i
				break
			}
			runeCount++

			if r == '\n' {
				lastNewline = i
				continue
			}
			if unicode.IsSpace(r) {
				lastWhitespace = i
			}
		}

		splitAt := byteCap
		switch {
		case lastNewline > 0:
			splitAt = lastNewline
		case lastWhitespace > 0:
			splitAt = lastWhitespace
		}

		if chunk := strings.TrimSpace(text[:splitAt]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimSpace(text[splitAt:])
	}
	return chunks
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func isRateLimited(err error) (bool, time.Duration) {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		return false, 0
	}

	var resp tgbotapi.APIResponse
	if err := json.Unmarshal(statusErr.Body, &resp); err != nil || resp.Parameters == nil {
		return false, 0
	}
	return true, time.Duration(resp.Parameters.RetryAfter) * time.Second
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

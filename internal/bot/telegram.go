package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type TelegramOptions struct {
	Token string
	// Endpoint overrides the Bot API URL format ("https://api.telegram.org/bot%s/%s").
	Endpoint string
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int
	// MaxConcurrent bounds messages handled at once.
	MaxConcurrent int
	// PollRestarts is how many consecutive polling failures are tolerated before Run gives up.
	PollRestarts int
	// RestartDelay is multiplied by the failure count between polling restarts.
	RestartDelay time.Duration
	Debug        bool
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// Telegram is the Bot API transport. It implements Messenger and runs the polling loop.
type Telegram struct {
	api    *tgbotapi.BotAPI
	opts   TelegramOptions
	logger *zap.Logger
}

var _ Messenger = (*Telegram)(nil)

// NewTelegram authenticates the token with getMe.
func NewTelegram(opts TelegramOptions) (*Telegram, error) {
	if opts.Token == "" {
		return nil, errors.New("telegram token is empty")
	}
	if opts.Endpoint == "" {
		opts.Endpoint = tgbotapi.APIEndpoint
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 60
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.PollRestarts < 0 {
		opts.PollRestarts = 0
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = 3 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: time.Duration(opts.PollTimeout+10) * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	api, err := tgbotapi.NewBotAPIWithClient(opts.Token, opts.Endpoint, opts.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("telegram getMe: %w", redactToken(opts.Token, err))
	}
	api.Debug = opts.Debug
	return &Telegram{api: api, opts: opts, logger: opts.Logger}, nil
}

// Username is the bot's handle as reported by getMe.
func (t *Telegram) Username() string { return t.api.Self.UserName }

func (t *Telegram) SendText(_ context.Context, chatID int64, text string) error {
	_, err := t.api.Send(tgbotapi.NewMessage(chatID, text))
	return redactToken(t.opts.Token, err)
}

func (t *Telegram) SendDocument(_ context.Context, chatID int64, filename string, data []byte, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: filename, Bytes: data})
	doc.Caption = caption
	_, err := t.api.Send(doc)
	return redactToken(t.opts.Token, err)
}

type pollResult struct {
	updates []tgbotapi.Update
	err     error
}

// poll runs one getUpdates call; the Bot API client takes no context, so the call is abandoned
// (and finishes on its own within PollTimeout) when ctx ends.
func (t *Telegram) poll(ctx context.Context, offset int) ([]tgbotapi.Update, error) {
	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = t.opts.PollTimeout
	cfg.AllowedUpdates = []string{"message"}

	ch := make(chan pollResult, 1)
	go func() {
		updates, err := t.api.GetUpdates(cfg)
		ch <- pollResult{updates, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.updates, redactToken(t.opts.Token, r.err)
	}
}

// Run clears any webhook and long-polls until ctx ends. Each message is handled on its own
// goroutine, at most MaxConcurrent at once. Consecutive polling failures back off linearly and
// Run returns an error once PollRestarts is exceeded. In-flight handlers finish before Run returns.
func (t *Telegram) Run(ctx context.Context, handle func(context.Context, Message)) error {
	if _, err := t.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		t.logger.Warn("could not clear webhook", zap.Error(redactToken(t.opts.Token, err)))
	}
	t.logger.Info("bot started", zap.String("username", t.Username()))

	var g errgroup.Group
	g.SetLimit(t.opts.MaxConcurrent)
	defer g.Wait()

	offset, failures := 0, 0
	for ctx.Err() == nil {
		updates, err := t.poll(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			failures++
			if failures > t.opts.PollRestarts {
				return fmt.Errorf("polling failed %d times in a row: %w", failures, err)
			}
			wait := time.Duration(failures) * t.opts.RestartDelay
			t.logger.Warn("polling failed, restarting", zap.Error(err), zap.Int("failures", failures), zap.Duration("wait", wait))
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			continue
		}
		failures = 0

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			msg, ok := toMessage(u)
			if !ok {
				continue
			}
			g.Go(func() error {
				handle(ctx, msg)
				return nil
			})
		}
	}
	t.logger.Info("polling stopped")
	return nil
}

// redactedError carries a Bot API error whose text had the token removed. Transport errors
// embed the request URL, and the token is part of that URL.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redactToken(token string, err error) error {
	if err == nil || token == "" {
		return err
	}
	msg := err.Error()
	if !strings.Contains(msg, token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(msg, token, "<token>"), err: err}
}

func toMessage(u tgbotapi.Update) (Message, bool) {
	m := u.Message
	if m == nil || m.Chat == nil || m.Text == "" {
		return Message{}, false
	}
	msg := Message{ChatID: m.Chat.ID, Text: m.Text}
	if m.From != nil {
		msg.From = m.From.UserName
	}
	return msg, true
}

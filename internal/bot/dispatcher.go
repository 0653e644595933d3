// Package bot binds chat messages to case lookups: it classifies each message, acknowledges
// case requests, runs the fetch and delivers the rendered report.
package bot

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"heatbot/internal/caseid"
	"heatbot/internal/heat"
	"heatbot/internal/report"
)

type Kind int

const (
	KindUnrecognized Kind = iota
	KindStart
	KindCase
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindCase:
		return "case"
	}
	return "unrecognized"
}

// Classify decides what a message asks for. Start commands win over everything else; the case
// identifier is returned for KindCase only.
func Classify(text string) (Kind, caseid.ID) {
	text = strings.TrimSpace(text)
	if isStartCommand(text) {
		return KindStart, caseid.ID{}
	}
	if id, err := caseid.Parse(text); err == nil {
		return KindCase, id
	}
	return KindUnrecognized, caseid.ID{}
}

func isStartCommand(text string) bool {
	if !strings.HasPrefix(text, "/") {
		return false
	}
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	switch strings.ToLower(cmd) {
	case "/start", "/help":
		return true
	}
	return false
}

const (
	greetingText = "👋 Hi! I look up cases in HEAT.\n\n" +
		"📋 Send a case number such as REQ-360275.\n" +
		"⏱️ A lookup can take up to a minute."
	usageText = "❌ I did not understand that. Send a case number such as REQ-360275, or /help."
)

func ackText(id caseid.ID) string {
	return fmt.Sprintf("🔍 Processing %s...\nPlease wait a moment.", id)
}

// Message is an inbound chat message reduced to what dispatching needs.
type Message struct {
	ChatID int64
	Text   string
	From   string
}

// Messenger delivers replies to a chat.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error
}

// Fetcher is the case lookup the dispatcher drives.
type Fetcher interface {
	FetchCase(ctx context.Context, id caseid.ID) heat.Outcome
}

// DeliveryError means a reply could not be handed to the chat transport. It is logged and never
// retried.
type DeliveryError struct {
	ChatID int64
	Op     string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering %s to chat %d: %v", e.Op, e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type DispatcherOptions struct {
	Format report.Format
	Logger *zap.Logger
}

type Dispatcher struct {
	fetcher   Fetcher
	renderer  *report.Renderer
	messenger Messenger
	format    report.Format
	logger    *zap.Logger
}

func NewDispatcher(fetcher Fetcher, renderer *report.Renderer, messenger Messenger, opts DispatcherOptions) *Dispatcher {
	if renderer == nil {
		renderer = report.NewRenderer()
	}
	if opts.Format == "" {
		opts.Format = report.FormatText
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Dispatcher{
		fetcher:   fetcher,
		renderer:  renderer,
		messenger: messenger,
		format:    opts.Format,
		logger:    opts.Logger,
	}
}

// Handle runs one conversation turn. The returned error is always a *DeliveryError (already
// logged) or nil; fetch failures become replies, not errors.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) (err error) {
	logger := d.logger.With(zap.Int64("chat", msg.ChatID))
	defer func() {
		if p := recover(); p != nil {
			logger.Error("panic while handling message", zap.Any("panic", p))
			err = d.sendText(ctx, logger, msg.ChatID, "reply", "❌ Internal error. Please try again later.")
		}
	}()

	kind, id := Classify(msg.Text)
	logger.Info("message received", zap.Stringer("kind", kind))

	switch kind {
	case KindStart:
		return d.sendText(ctx, logger, msg.ChatID, "greeting", greetingText)
	case KindUnrecognized:
		return d.sendText(ctx, logger, msg.ChatID, "usage hint", usageText)
	}

	logger = logger.With(zap.String("case", id.String()))
	// A lost acknowledgement does not stop the lookup.
	ackErr := d.sendText(ctx, logger, msg.ChatID, "acknowledgement", ackText(id))

	outcome := d.fetcher.FetchCase(ctx, id)
	rep := d.renderer.Render(outcome, d.format)
	if outcome.OK() {
		logger.Info("case fetched", zap.Int("attempts", outcome.Attempts), zap.Bool("synthetic", outcome.Record.Synthetic))
	} else if outcome.Failure != nil {
		logger.Warn("case fetch failed", zap.Int("attempts", outcome.Attempts),
			zap.String("category", string(outcome.Failure.Category)), zap.String("reason", outcome.Failure.Reason))
	}

	if rep.Format == report.FormatDocument {
		err = d.messenger.SendDocument(ctx, msg.ChatID, rep.Filename, rep.Data, rep.Text)
		if err != nil {
			derr := &DeliveryError{ChatID: msg.ChatID, Op: "document", Err: err}
			logger.Error("delivery failed", zap.Error(derr))
			return derr
		}
		return ackErr
	}
	if err := d.sendText(ctx, logger, msg.ChatID, "report", rep.Text); err != nil {
		return err
	}
	return ackErr
}

func (d *Dispatcher) sendText(ctx context.Context, logger *zap.Logger, chatID int64, op, text string) error {
	if err := d.messenger.SendText(ctx, chatID, text); err != nil {
		derr := &DeliveryError{ChatID: chatID, Op: op, Err: err}
		logger.Error("delivery failed", zap.Error(derr))
		return derr
	}
	return nil
}

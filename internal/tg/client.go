// Package tg connects the conversation engine to the Telegram Bot API.
package tg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"

	"shopbot/internal/callback"
	"shopbot/internal/convo"
	"shopbot/internal/metrics"
	"shopbot/internal/queue"
	"shopbot/internal/repo"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const platform = "telegram"

// Modes of receiving updates.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// Config holds Telegram transport settings.
type Config struct {
	Token         string
	Mode          string
	PollTimeout   int
	WebhookURL    string
	WebhookSecret string
	Debug         bool
	Metrics       *metrics.Metrics
	// Journal, when set, records every inbound and outbound message.
	Journal repo.Journal
}

// Handler processes one decoded chat event. *convo.Engine satisfies it.
type Handler interface {
	Handle(ctx context.Context, ev convo.Event) convo.Reply
}

// botAPI is the part of *tgbotapi.BotAPI used for sending.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Client receives Telegram updates and renders engine replies.
type Client struct {
	bot     *tgbotapi.BotAPI
	api     botAPI
	handler Handler
	logger  *slog.Logger
	metrics *metrics.Metrics
	journal repo.Journal
	cfg     Config

	// updates runs each user's updates one at a time in arrival order.
	updates *queue.Serial
}

// New authenticates against the Bot API and returns a client.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug

	c := newClient(bot, cfg, handler, logger)
	c.bot = bot
	c.logger.Info("telegram bot authorised", "username", bot.Self.UserName)
	return c, nil
}

func newClient(api botAPI, cfg Config, handler Handler, logger *slog.Logger) *Client {
	if cfg.Mode == "" {
		cfg.Mode = ModePolling
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 60
	}
	return &Client{
		api:     api,
		handler: handler,
		logger:  logger.With("component", "tg"),
		metrics: cfg.Metrics,
		journal: cfg.Journal,
		cfg:     cfg,
		updates: queue.NewSerial(),
	}
}

// Start receives updates until ctx is cancelled. In webhook mode it registers
// the webhook and waits; updates then arrive through Webhook().
func (c *Client) Start(ctx context.Context) error {
	if c.cfg.Mode == ModeWebhook {
		if err := c.registerWebhook(); err != nil {
			return err
		}
		c.logger.Info("telegram webhook registered", "url", c.cfg.WebhookURL)
		<-ctx.Done()
		c.updates.Wait()
		return nil
	}
	return c.poll(ctx)
}

func (c *Client) poll(ctx context.Context) error {
	if _, err := c.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.cfg.PollTimeout
	updates := c.bot.GetUpdatesChan(u)
	c.logger.Info("telegram long polling started", "timeout", u.Timeout)

	for {
		select {
		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			c.updates.Wait()
			c.logger.Info("telegram polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			c.enqueue(ctx, update)
		}
	}
}

func (c *Client) registerWebhook() error {
	params := tgbotapi.Params{}
	params.AddNonEmpty("url", c.cfg.WebhookURL)
	params.AddNonEmpty("secret_token", c.cfg.WebhookSecret)
	if _, err := c.bot.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

// enqueue schedules update behind the sender's earlier updates.
func (c *Client) enqueue(ctx context.Context, update tgbotapi.Update) {
	c.updates.Submit(updateKey(update), func() {
		c.dispatch(ctx, update)
	})
}

// updateKey is the sender id, or the update id for updates without a sender.
func updateKey(update tgbotapi.Update) string {
	if from := update.SentFrom(); from != nil {
		return strconv.FormatInt(from.ID, 10)
	}
	return "update:" + strconv.Itoa(update.UpdateID)
}

// dispatch handles one update. Panics are recovered so one bad update cannot
// take the process down.
func (c *Client) dispatch(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic while handling update",
				"update_id", update.UpdateID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			c.metrics.IncError("convo")
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		c.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		c.handleMessage(ctx, update.Message)
	}
}

func (c *Client) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	ev := convo.Event{
		UserID:      strconv.FormatInt(msg.From.ID, 10),
		Username:    msg.From.UserName,
		DisplayName: msg.From.FirstName,
	}
	switch {
	case msg.IsCommand():
		ev.Kind = convo.EventCommand
		ev.Command = msg.Command()
		ev.Text = msg.CommandArguments()
	case msg.Text != "":
		ev.Kind = convo.EventText
		ev.Text = msg.Text
	default:
		c.logger.Debug("ignoring non-text message", "user_id", ev.UserID)
		return
	}

	c.metrics.IncIncoming(platform, ev.Kind.String())
	c.record(ctx, ev.UserID, repo.DirectionIn, ev.Kind.String(), msg.Text)

	reply := c.handler.Handle(ctx, ev)
	c.render(ctx, target{userID: ev.UserID, chatID: msg.Chat.ID}, reply)
}

func (c *Client) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil {
		return
	}
	userID := strconv.FormatInt(cq.From.ID, 10)
	t := target{userID: userID, chatID: cq.From.ID, callbackID: cq.ID}
	if cq.Message != nil && cq.Message.Chat != nil {
		t.chatID = cq.Message.Chat.ID
		t.messageID = cq.Message.MessageID
	}

	action, err := callback.Parse(cq.Data)
	if err != nil {
		c.logger.Warn("unrecognised callback data", "user_id", userID, "data", cq.Data, "error", err)
		c.answer(t, "", false)
		return
	}

	c.metrics.IncIncoming(platform, convo.EventCallback.String())
	c.record(ctx, userID, repo.DirectionIn, convo.EventCallback.String(), cq.Data)

	reply := c.handler.Handle(ctx, convo.Event{
		UserID:      userID,
		Username:    cq.From.UserName,
		DisplayName: cq.From.FirstName,
		Kind:        convo.EventCallback,
		Action:      action,
	})
	c.render(ctx, t, reply)
}

func (c *Client) record(ctx context.Context, userID, direction, kind, content string) {
	if c.journal == nil {
		return
	}
	rec := repo.MessageRecord{
		Platform:  platform,
		UserID:    userID,
		Direction: direction,
		Type:      kind,
	}
	if content != "" {
		rec.Content = &content
	}
	if err := c.journal.InsertMessage(ctx, rec); err != nil {
		c.logger.Warn("journal insert failed", "user_id", userID, "error", err)
		c.metrics.IncError("journal")
	}
}

package tg

import (
	"context"
	"errors"
	"strings"

	"shopbot/internal/convo"
	"shopbot/internal/repo"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// target identifies where a reply goes. callbackID and messageID are set
// only for button presses.
type target struct {
	userID     string
	chatID     int64
	messageID  int
	callbackID string
}

func (t target) fromButton() bool { return t.callbackID != "" }

// render presents reply. Failures degrade to simpler forms and are logged,
// never returned: photo edit -> new photo -> text; text edit -> new text.
func (c *Client) render(ctx context.Context, t target, reply convo.Reply) {
	switch reply.Kind {
	case convo.ReplyNotice:
		if t.fromButton() {
			if c.answer(t, reply.Text, true) {
				return
			}
		}
		c.sendText(ctx, t, reply.Text, nil)
		return
	case convo.ReplyScreen, convo.ReplyMessage:
	default:
		c.logger.Warn("unknown reply kind", "user_id", t.userID, "kind", int(reply.Kind))
		return
	}

	if t.fromButton() {
		c.answer(t, "", false)
	}
	markup := keyboard(reply.Buttons)
	replace := reply.Kind == convo.ReplyScreen && t.fromButton() && t.messageID != 0

	if reply.ImagePath != "" {
		if replace && c.editPhoto(ctx, t, reply.ImagePath, reply.Text, markup) {
			return
		}
		if c.sendPhoto(ctx, t, reply.ImagePath, reply.Text, markup) {
			return
		}
		c.logger.Warn("photo failed, falling back to text", "user_id", t.userID, "path", reply.ImagePath)
	}

	if replace && c.editText(ctx, t, reply.Text, markup) {
		return
	}
	c.sendText(ctx, t, reply.Text, markup)
}

func keyboard(rows [][]convo.Button) *tgbotapi.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, r := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(r))
		for _, b := range r {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Action.Token()))
		}
		out = append(out, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(out...)
	return &markup
}

// answer acknowledges a button press, optionally with an alert.
func (c *Client) answer(t target, text string, alert bool) bool {
	cfg := tgbotapi.NewCallback(t.callbackID, text)
	if alert {
		cfg = tgbotapi.NewCallbackWithAlert(t.callbackID, text)
	}
	if _, err := c.api.Request(cfg); err != nil {
		c.logger.Warn("answer callback failed", "user_id", t.userID, "error", err)
		return false
	}
	if alert {
		c.metrics.IncOutgoing(platform, "alert")
	}
	return true
}

func (c *Client) sendText(ctx context.Context, t target, text string, markup *tgbotapi.InlineKeyboardMarkup) bool {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	_, err := c.api.Send(msg)
	if isParseError(err) {
		// Product names may carry Markdown metacharacters; retry as plain text.
		msg.ParseMode = ""
		_, err = c.api.Send(msg)
	}
	if err != nil {
		c.logger.Error("send message failed", "user_id", t.userID, "error", err)
		c.metrics.IncError("tg_send")
		return false
	}
	c.sent(ctx, t, "text", text)
	return true
}

func (c *Client) editText(ctx context.Context, t target, text string, markup *tgbotapi.InlineKeyboardMarkup) bool {
	edit := tgbotapi.NewEditMessageText(t.chatID, t.messageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	edit.ReplyMarkup = markup
	_, err := c.api.Send(edit)
	if isParseError(err) {
		edit.ParseMode = ""
		_, err = c.api.Send(edit)
	}
	if err != nil && !isNotModified(err) {
		c.logger.Debug("edit message failed, sending new one", "user_id", t.userID, "error", err)
		return false
	}
	c.sent(ctx, t, "edit", text)
	return true
}

func (c *Client) sendPhoto(ctx context.Context, t target, path, caption string, markup *tgbotapi.InlineKeyboardMarkup) bool {
	photo := tgbotapi.NewPhoto(t.chatID, tgbotapi.FilePath(path))
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeMarkdown
	if markup != nil {
		photo.ReplyMarkup = *markup
	}
	if _, err := c.api.Send(photo); err != nil {
		c.logger.Warn("send photo failed", "user_id", t.userID, "path", path, "error", err)
		return false
	}
	c.sent(ctx, t, "photo", caption)
	return true
}

func (c *Client) editPhoto(ctx context.Context, t target, path, caption string, markup *tgbotapi.InlineKeyboardMarkup) bool {
	media := tgbotapi.NewInputMediaPhoto(tgbotapi.FilePath(path))
	media.Caption = caption
	media.ParseMode = tgbotapi.ModeMarkdown
	edit := tgbotapi.EditMessageMediaConfig{
		BaseEdit: tgbotapi.BaseEdit{
			ChatID:      t.chatID,
			MessageID:   t.messageID,
			ReplyMarkup: markup,
		},
		Media: media,
	}
	// Editing a text message into a photo is rejected by Telegram; the
	// caller then sends a fresh photo.
	if _, err := c.api.Send(edit); err != nil {
		c.logger.Debug("edit media failed", "user_id", t.userID, "error", err)
		return false
	}
	c.sent(ctx, t, "edit_photo", caption)
	return true
}

func (c *Client) sent(ctx context.Context, t target, kind, text string) {
	c.metrics.IncOutgoing(platform, kind)
	c.record(ctx, t.userID, repo.DirectionOut, kind, text)
}

func isParseError(err error) bool {
	return apiErrorContains(err, "can't parse entities")
}

func isNotModified(err error) bool {
	return apiErrorContains(err, "message is not modified")
}

func apiErrorContains(err error, fragment string) bool {
	if err == nil {
		return false
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return strings.Contains(apiErr.Message, fragment)
	}
	return strings.Contains(err.Error(), fragment)
}

package tg

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	secretHeader   = "X-Telegram-Bot-Api-Secret-Token"
	maxWebhookBody = 1 << 20
)

// WebhookHandler verifies Telegram webhook calls and dispatches the update.
type WebhookHandler struct {
	client *Client
	secret string
}

// Webhook returns the HTTP handler Telegram posts updates to.
func (c *Client) Webhook() *WebhookHandler {
	return &WebhookHandler{client: c, secret: strings.TrimSpace(c.cfg.WebhookSecret)}
}

// ServeHTTP satisfies http.Handler. The update is queued before the response
// is written and processed afterwards, so Telegram is not kept waiting on the
// backend and a user's updates keep their delivery order.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.validateSecret(r); err != nil {
		h.client.metrics.IncError("tg_webhook_auth")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.client.metrics.IncError("tg_webhook")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		h.client.logger.Warn("invalid webhook payload", "error", err)
		h.client.metrics.IncError("tg_webhook")
		http.Error(w, "invalid update", http.StatusBadRequest)
		return
	}

	h.client.enqueue(context.WithoutCancel(r.Context()), update)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *WebhookHandler) validateSecret(r *http.Request) error {
	if h.secret == "" {
		return nil
	}
	got := strings.TrimSpace(r.Header.Get(secretHeader))
	if got == "" {
		return errors.New("missing secret token")
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		return errors.New("secret token mismatch")
	}
	return nil
}

// Wait blocks until every dispatched update has been handled.
func (c *Client) Wait() {
	c.updates.Wait()
}

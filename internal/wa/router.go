package wa

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"

	"shopbot/internal/callback"
	"shopbot/internal/convo"
	"shopbot/internal/metrics"
	"shopbot/internal/repo"

	"go.mau.fi/whatsmeow/types"
)

const platform = "whatsapp"

// Handler processes one decoded chat event. *convo.Engine satisfies it.
type Handler interface {
	Handle(ctx context.Context, ev convo.Event) convo.Reply
}

type sender interface {
	SendText(ctx context.Context, to types.JID, text string) error
	SendImage(ctx context.Context, to types.JID, data []byte, mimeType, caption string) error
}

// router turns chat text into engine events. WhatsApp has no inline
// keyboards, so buttons are listed as numbered options and a bare number
// picks the option from the last menu shown in that chat.
type router struct {
	handler Handler
	out     sender
	logger  *slog.Logger
	metrics *metrics.Metrics
	journal repo.Journal

	mu      sync.Mutex
	options map[string][]callback.Action
}

func newRouter(handler Handler, out sender, logger *slog.Logger, m *metrics.Metrics, journal repo.Journal) *router {
	return &router{
		handler: handler,
		out:     out,
		logger:  logger,
		metrics: m,
		journal: journal,
		options: map[string][]callback.Action{},
	}
}

// inbound is a text message stripped of protocol detail.
type inbound struct {
	Chat     types.JID
	UserID   string
	PushName string
	Text     string
}

func (r *router) handle(ctx context.Context, in inbound) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic while handling message", "user_id", in.UserID, "panic", rec, "stack", string(debug.Stack()))
			r.metrics.IncError("convo")
		}
	}()

	ev := r.decode(in)
	r.metrics.IncIncoming(platform, ev.Kind.String())
	r.record(ctx, in.UserID, repo.DirectionIn, ev.Kind.String(), in.Text)

	reply := r.handler.Handle(ctx, ev)
	r.render(ctx, in, reply)
}

func (r *router) decode(in inbound) convo.Event {
	ev := convo.Event{
		UserID:      in.UserID,
		Username:    in.UserID,
		DisplayName: in.PushName,
	}
	text := strings.TrimSpace(in.Text)

	if strings.HasPrefix(text, "/") {
		name, args, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
		ev.Kind = convo.EventCommand
		ev.Command = strings.ToLower(name)
		ev.Text = strings.TrimSpace(args)
		return ev
	}

	if n, err := strconv.Atoi(text); err == nil {
		if action, ok := r.option(in.Chat.String(), n); ok {
			ev.Kind = convo.EventCallback
			ev.Action = action
			return ev
		}
	}

	ev.Kind = convo.EventText
	ev.Text = in.Text
	return ev
}

func (r *router) option(chat string, n int) (callback.Action, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	opts := r.options[chat]
	if n < 1 || n > len(opts) {
		return callback.Action{}, false
	}
	return opts[n-1], true
}

func (r *router) render(ctx context.Context, in inbound, reply convo.Reply) {
	body, actions := formatReply(reply)

	// Notices leave the previous menu usable.
	if reply.Kind != convo.ReplyNotice {
		r.mu.Lock()
		if len(actions) == 0 {
			delete(r.options, in.Chat.String())
		} else {
			r.options[in.Chat.String()] = actions
		}
		r.mu.Unlock()
	}

	if reply.ImagePath != "" {
		err := r.sendImage(ctx, in.Chat, reply.ImagePath, body)
		if err == nil {
			r.sent(ctx, in.UserID, "image", body)
			return
		}
		r.logger.Warn("image failed, falling back to text", "user_id", in.UserID, "path", reply.ImagePath, "error", err)
	}

	if err := r.out.SendText(ctx, in.Chat, body); err != nil {
		r.logger.Error("send message failed", "user_id", in.UserID, "error", err)
		r.metrics.IncError("wa_send")
		return
	}
	r.sent(ctx, in.UserID, "text", body)
}

func (r *router) sendImage(ctx context.Context, to types.JID, path, caption string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	return r.out.SendImage(ctx, to, data, http.DetectContentType(data), caption)
}

// formatReply appends buttons as a numbered list and returns the actions in
// list order.
func formatReply(reply convo.Reply) (string, []callback.Action) {
	var actions []callback.Action
	var builder strings.Builder
	builder.WriteString(reply.Text)

	for _, row := range reply.Buttons {
		for _, b := range row {
			if len(actions) == 0 {
				builder.WriteString("\n\n")
			}
			actions = append(actions, b.Action)
			builder.WriteString(fmt.Sprintf("%d. %s\n", len(actions), b.Label))
		}
	}
	if len(actions) > 0 {
		builder.WriteString("\nReply with a number to choose.")
	}
	return builder.String(), actions
}

func (r *router) sent(ctx context.Context, userID, kind, text string) {
	r.metrics.IncOutgoing(platform, kind)
	r.record(ctx, userID, repo.DirectionOut, kind, text)
}

func (r *router) record(ctx context.Context, userID, direction, kind, content string) {
	if r.journal == nil {
		return
	}
	rec := repo.MessageRecord{Platform: platform, UserID: userID, Direction: direction, Type: kind}
	if content != "" {
		rec.Content = &content
	}
	if err := r.journal.InsertMessage(ctx, rec); err != nil {
		r.logger.Warn("journal insert failed", "user_id", userID, "error", err)
		r.metrics.IncError("journal")
	}
}

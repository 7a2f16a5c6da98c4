// Package convo implements the conversation controller. Transports decode
// inbound updates into Events, call Handle, and render the Reply it returns.
package convo

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"shopbot/internal/backend"
	"shopbot/internal/callback"
	"shopbot/internal/metrics"
	"shopbot/internal/session"
)

// Backend is the subset of the order backend the engine relies on.
// *backend.Client satisfies it.
type Backend interface {
	RegisterUser(ctx context.Context, userID, username, displayName string) (*backend.User, error)
	ListProducts(ctx context.Context) ([]backend.Product, error)
	AddToCart(ctx context.Context, userID, productID string, quantity int) ([]backend.CartItem, error)
	GetCart(ctx context.Context, userID string) (*backend.Cart, error)
	RemoveFromCart(ctx context.Context, userID, productID string) error
	CreateOrder(ctx context.Context, userID, deliveryAddress, paymentMethod string) (*backend.Order, error)
	ListOrders(ctx context.Context, userID string) ([]backend.Order, error)
	CancelOrder(ctx context.Context, orderID string) (*backend.Order, error)
}

var _ Backend = (*backend.Client)(nil)

const defaultPaymentMethod = "CARD"

// Config tunes presentation details of the engine.
type Config struct {
	// ImageDir is the directory product image paths are resolved against.
	ImageDir string
	// PaymentMethod is sent with every order.
	PaymentMethod string
}

// Engine routes chat events to handlers and owns all session mutation.
type Engine struct {
	api     Backend
	store   session.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     Config
	locks   keyedMutex
}

// New constructs an Engine. metrics may be nil.
func New(api Backend, store session.Store, logger *slog.Logger, metrics *metrics.Metrics, cfg Config) *Engine {
	if strings.TrimSpace(cfg.PaymentMethod) == "" {
		cfg.PaymentMethod = defaultPaymentMethod
	}
	if cfg.ImageDir == "" {
		cfg.ImageDir = "."
	}
	return &Engine{
		api:     api,
		store:   store,
		logger:  logger.With("component", "convo"),
		metrics: metrics,
		cfg:     cfg,
		locks:   keyedMutex{locks: map[string]*refLock{}},
	}
}

// EventKind classifies inbound events.
type EventKind int

const (
	EventCommand EventKind = iota + 1
	EventText
	EventCallback
)

func (k EventKind) String() string {
	switch k {
	case EventCommand:
		return "command"
	case EventText:
		return "text"
	case EventCallback:
		return "callback"
	default:
		return "unknown"
	}
}

// Event is a platform-neutral inbound update.
type Event struct {
	UserID      string
	Username    string
	DisplayName string
	Kind        EventKind
	// Command is the bare command name without slash or bot suffix.
	Command string
	Text    string
	Action  callback.Action
}

// ReplyKind tells the transport how to present a reply.
type ReplyKind int

const (
	// ReplyScreen replaces the current view when the event came from a
	// button press, otherwise it is sent as a new message.
	ReplyScreen ReplyKind = iota + 1
	// ReplyMessage is always sent as a new message.
	ReplyMessage
	// ReplyNotice is a transient alert for button presses and a plain
	// message otherwise.
	ReplyNotice
)

// Button is one keyboard entry.
type Button struct {
	Label  string
	Action callback.Action
}

// Reply is what the engine wants shown to the user. Text uses Telegram's
// legacy Markdown.
type Reply struct {
	Kind    ReplyKind
	Text    string
	Buttons [][]Button
	// ImagePath is an existing local file to attach, if any.
	ImagePath string
}

// Handle processes one event to completion. Concurrent calls for the same
// user never overlap; different users run in parallel. Callers that need
// arrival order must submit a user's events in order, as the transports do.
func (e *Engine) Handle(ctx context.Context, ev Event) Reply {
	unlock := e.locks.Lock(ev.UserID)
	defer unlock()

	switch ev.Kind {
	case EventCommand:
		return e.handleCommand(ctx, ev)
	case EventText:
		return e.OnTextMessage(ctx, ev.UserID, ev.Text)
	case EventCallback:
		return e.handleAction(ctx, ev.UserID, ev.Action)
	default:
		e.logger.Warn("unknown event kind", "user_id", ev.UserID, "kind", int(ev.Kind))
		return hintReply()
	}
}

func (e *Engine) handleCommand(ctx context.Context, ev Event) Reply {
	switch strings.ToLower(ev.Command) {
	case "start":
		return e.OnStart(ctx, ev.UserID, ev.Username, ev.DisplayName)
	case "help":
		return e.OnHelp(ctx, ev.UserID)
	case "products":
		return e.OnListProducts(ctx, ev.UserID)
	case "cart":
		return e.OnViewCart(ctx, ev.UserID)
	case "orders":
		return e.OnViewOrders(ctx, ev.UserID)
	default:
		return hintReply()
	}
}

func (e *Engine) handleAction(ctx context.Context, userID string, action callback.Action) Reply {
	switch action.Kind {
	case callback.KindMainMenu:
		return e.OnMainMenu(ctx, userID)
	case callback.KindBrowseProducts:
		return e.OnListProducts(ctx, userID)
	case callback.KindViewCart:
		return e.OnViewCart(ctx, userID)
	case callback.KindMyOrders:
		return e.OnViewOrders(ctx, userID)
	case callback.KindAbout:
		return e.OnAbout(ctx, userID)
	case callback.KindCheckout:
		return e.OnCheckoutStart(ctx, userID)
	case callback.KindSelectProduct:
		return e.OnSelectProduct(ctx, userID, action.ProductID)
	case callback.KindSelectQuantity:
		return e.OnSelectQuantity(ctx, userID, action.Quantity, action.ProductID)
	case callback.KindRemoveFromCart:
		return e.OnRemoveFromCart(ctx, userID, action.ProductID)
	case callback.KindCancelOrder:
		return e.OnCancelOrder(ctx, userID, action.OrderID)
	default:
		e.logger.Warn("unhandled callback action", "user_id", userID, "action", action.Kind.String())
		return notice(textUnknownAction)
	}
}

// loadSession fetches the session, logging store failures.
func (e *Engine) loadSession(ctx context.Context, userID string) (session.Session, bool) {
	sess, err := e.store.Get(ctx, userID)
	if err != nil {
		e.logger.Error("load session", "user_id", userID, "error", err)
		e.metrics.IncError("session")
		return session.Session{}, false
	}
	return sess, true
}

func (e *Engine) saveSession(ctx context.Context, userID string, sess session.Session) bool {
	if err := e.store.Set(ctx, userID, sess); err != nil {
		e.logger.Error("save session", "user_id", userID, "step", sess.Step.String(), "error", err)
		e.metrics.IncError("session")
		return false
	}
	return true
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

package convo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shopbot/internal/backend"
	"shopbot/internal/callback"
	"shopbot/internal/logging"
	"shopbot/internal/metrics"
	"shopbot/internal/session"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNetwork = &backend.Error{Op: "test", Kind: backend.ErrNetwork, Err: errors.New("connection refused")}

type addCall struct {
	UserID, ProductID string
	Quantity          int
}

type orderCall struct {
	UserID, Address, Payment string
}

type fakeBackend struct {
	mu sync.Mutex

	products []backend.Product
	cart     *backend.Cart
	orders   []backend.Order
	order    *backend.Order

	registerErr error
	productsErr error
	addErr      error
	cartErr     error
	removeErr   error
	createErr   error
	ordersErr   error
	cancelErr   error

	registered []string
	adds       []addCall
	removes    []string
	creates    []orderCall
	cancels    []string

	// addDelay makes AddToCart slow, for serialization tests.
	addDelay time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeBackend) RegisterUser(_ context.Context, userID, username, displayName string) (*backend.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, userID)
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &backend.User{TelegramID: userID, Username: username, FirstName: displayName}, nil
}

func (f *fakeBackend) ListProducts(context.Context) ([]backend.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products, f.productsErr
}

func (f *fakeBackend) AddToCart(_ context.Context, userID, productID string, quantity int) ([]backend.CartItem, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.addDelay > 0 {
		time.Sleep(f.addDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds = append(f.adds, addCall{UserID: userID, ProductID: productID, Quantity: quantity})
	if f.addErr != nil {
		return nil, f.addErr
	}
	return []backend.CartItem{{ProductID: productID, Quantity: quantity}}, nil
}

func (f *fakeBackend) GetCart(context.Context, string) (*backend.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cartErr != nil {
		return nil, f.cartErr
	}
	if f.cart == nil {
		return &backend.Cart{}, nil
	}
	return f.cart, nil
}

func (f *fakeBackend) RemoveFromCart(_ context.Context, _, productID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes = append(f.removes, productID)
	return f.removeErr
}

func (f *fakeBackend) CreateOrder(_ context.Context, userID, address, payment string) (*backend.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, orderCall{UserID: userID, Address: address, Payment: payment})
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.order, nil
}

func (f *fakeBackend) ListOrders(context.Context, string) ([]backend.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders, f.ordersErr
}

func (f *fakeBackend) CancelOrder(_ context.Context, orderID string) (*backend.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, orderID)
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &backend.Order{OrderID: orderID, Status: backend.StatusCancelled}, nil
}

type fixture struct {
	engine  *Engine
	api     *fakeBackend
	store   *session.MemoryStore
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	api := &fakeBackend{}
	store := session.NewMemoryStore()
	m := metrics.NewUnregistered("test")
	return &fixture{
		engine:  New(api, store, logging.Discard(), m, cfg),
		api:     api,
		store:   store,
		metrics: m,
	}
}

func (f *fixture) session(t *testing.T, userID string) session.Session {
	t.Helper()
	s, err := f.store.Get(context.Background(), userID)
	require.NoError(t, err)
	return s
}

func command(userID, name string) Event {
	return Event{UserID: userID, Kind: EventCommand, Command: name}
}

func text(userID, body string) Event {
	return Event{UserID: userID, Kind: EventText, Text: body}
}

func press(userID string, action callback.Action) Event {
	return Event{UserID: userID, Kind: EventCallback, Action: action}
}

func flatten(buttons [][]Button) []callback.Action {
	var out []callback.Action
	for _, r := range buttons {
		for _, b := range r {
			out = append(out, b.Action)
		}
	}
	return out
}

func TestStartShowsMainMenu(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, "u1", session.Session{Step: session.StepAwaitingEmail}))

	reply := f.engine.Handle(ctx, Event{UserID: "u1", Username: "alice", DisplayName: "Alice", Kind: EventCommand, Command: "start"})

	assert.Equal(t, ReplyScreen, reply.Kind)
	assert.Equal(t, []callback.Action{
		callback.BrowseProducts(),
		callback.ViewCart(),
		callback.MyOrders(),
		callback.About(),
	}, flatten(reply.Buttons))
	assert.Equal(t, []string{"u1"}, f.api.registered)
	assert.Equal(t, session.StepNone, f.session(t, "u1").Step)
}

func TestStartBackendDown(t *testing.T) {
	f := newFixture(t, Config{})
	f.api.registerErr = errNetwork

	reply := f.engine.Handle(context.Background(), command("u1", "start"))
	assert.Equal(t, ReplyMessage, reply.Kind)
	assert.Equal(t, textBackendDown, reply.Text)
}

func TestCommandsRoute(t *testing.T) {
	f := newFixture(t, Config{})
	f.api.orders = nil
	ctx := context.Background()

	help := f.engine.Handle(ctx, command("u1", "help"))
	assert.Equal(t, ReplyMessage, help.Kind)
	assert.Contains(t, help.Text, "/cart")
	assert.Contains(t, help.Text, "/orders")

	assert.Equal(t, textEmptyCart, f.engine.Handle(ctx, command("u1", "cart")).Text)
	assert.Equal(t, textNoOrders, f.engine.Handle(ctx, command("u1", "orders")).Text)
	assert.Equal(t, textHint, f.engine.Handle(ctx, command("u1", "sell")).Text)
	assert.Equal(t, textMainMenu, f.engine.Handle(ctx, press("u1", callback.MainMenu())).Text)
	assert.Equal(t, textAbout, f.engine.Handle(ctx, press("u1", callback.About())).Text)
	assert.Equal(t, ReplyNotice, f.engine.Handle(ctx, press("u1", callback.Action{})).Kind)
}

func TestListProducts(t *testing.T) {
	f := newFixture(t, Config{})
	f.api.products = []backend.Product{
		{ID: "PROD001", Name: "Laptop", Price: decimal.RequireFromString("999.99"), Stock: 10},
		{ID: "PROD002", Name: "Mouse", Price: decimal.NewFromInt(25), Stock: 100},
	}

	reply := f.engine.Handle(context.Background(), command("u1", "products"))
	require.Equal(t, ReplyScreen, reply.Kind)
	require.Len(t, reply.Buttons, 3)
	assert.Equal(t, "📌 Laptop - $999.99", reply.Buttons[0][0].Label)
	assert.Equal(t, callback.SelectProduct("PROD002"), reply.Buttons[1][0].Action)
	assert.Equal(t, callback.MainMenu(), reply.Buttons[2][0].Action)
	assert.Contains(t, reply.Text, "Stock: 100 items")
	assert.Contains(t, reply.Text, "$25.00")
}

func TestListProductsFailureOrEmptyIsNotice(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	reply := f.engine.Handle(ctx, press("u1", callback.BrowseProducts()))
	assert.Equal(t, notice(textProductsFailed), reply)

	f.api.productsErr = errNetwork
	reply = f.engine.Handle(ctx, press("u1", callback.BrowseProducts()))
	assert.Equal(t, notice(textProductsFailed), reply)
}

func TestSelectProductWithImage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "images"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "images", "PROD001.png"), []byte("png"), 0o644))

	f := newFixture(t, Config{ImageDir: dir})
	f.api.products = []backend.Product{
		{ID: "PROD001", Name: "Laptop", Price: decimal.RequireFromString("999.99"), Image: "./images/PROD001.png"},
		{ID: "PROD002", Name: "Mouse", Price: decimal.NewFromInt(25), Image: "./images/missing.png"},
		{ID: "PROD003", Name: "Sneaky", Price: decimal.NewFromInt(1), Image: "../../etc/passwd"},
	}
	ctx := context.Background()

	reply := f.engine.Handle(ctx, press("u1", callback.SelectProduct("PROD001")))
	assert.Equal(t, filepath.Join(dir, "images", "PROD001.png"), reply.ImagePath)
	assert.Contains(t, reply.Text, "*Laptop*")
	assert.Contains(t, reply.Text, "$999.99")
	assert.Equal(t, "PROD001", f.session(t, "u1").SelectedProductID)

	require.Len(t, reply.Buttons, 2)
	assert.Equal(t, []callback.Action{
		callback.SelectQuantity(1, "PROD001"),
		callback.SelectQuantity(2, "PROD001"),
		callback.SelectQuantity(3, "PROD001"),
		callback.SelectQuantity(5, "PROD001"),
		callback.SelectQuantity(10, "PROD001"),
		callback.BrowseProducts(),
	}, flatten(reply.Buttons))

	reply = f.engine.Handle(ctx, press("u1", callback.SelectProduct("PROD002")))
	assert.Empty(t, reply.ImagePath)
	assert.Contains(t, reply.Text, "*Mouse*")

	reply = f.engine.Handle(ctx, press("u1", callback.SelectProduct("PROD003")))
	assert.Empty(t, reply.ImagePath)
}

func TestSelectProductCatalogFailureUsesPlaceholders(t *testing.T) {
	f := newFixture(t, Config{})
	f.api.productsErr = errNetwork

	reply := f.engine.Handle(context.Background(), press("u1", callback.SelectProduct("PROD009")))
	assert.Equal(t, ReplyScreen, reply.Kind)
	assert.Contains(t, reply.Text, "*Product*")
	assert.Contains(t, reply.Text, "Price: N/A")
	assert.Empty(t, reply.ImagePath)
}

func TestSelectQuantityAddsOnce(t *testing.T) {
	f := newFixture(t, Config{})

	reply := f.engine.Handle(context.Background(), press("u1", callback.SelectQuantity(3, "PROD001")))

	assert.Equal(t, []addCall{{UserID: "u1", ProductID: "PROD001", Quantity: 3}}, f.api.adds)
	assert.Equal(t, ReplyScreen, reply.Kind)
	assert.Contains(t, reply.Text, "Added 3 item(s)")
	assert.Equal(t, []callback.Action{callback.ViewCart(), callback.BrowseProducts()}, flatten(reply.Buttons))
}

func TestSelectQuantityFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.api.addErr = &backend.Error{Kind: backend.ErrBackend, StatusCode: 400, Message: "Insufficient stock"}

	reply := f.engine.Handle(context.Background(), press("u1", callback.SelectQuantity(5, "PROD001")))
	assert.Equal(t, notice(textAddFailed), reply)
	assert.Len(t, f.api.adds, 1)
}

func TestViewCart(t *testing.T) {
	f := newFixture(t, Config{})
	f.api.cart = &backend.Cart{
		Items: []backend.CartItem{
			{ProductID: "PROD001", Name: "Laptop", Price: decimal.RequireFromString("999.99"), Quantity: 3},
			{ProductID: "PROD002", Name: "Mouse", Price: decimal.RequireFromString("25"), Quantity: 1},
		},
		Total: decimal.RequireFromString("3024.97"),
	}

	reply := f.engine.Handle(context.Background(), press("u1", callback.ViewCart()))
	assert.Equal(t, ReplyScreen, reply.Kind)
	assert.Contains(t, reply.Text, "Price: $999.99 × 3 = $2999.97")
	assert.Contains(t, reply.Text, "*Total: $3024.97*")
	assert.Equal(t, []callback.Action{
		callback.RemoveFromCart("PROD001"),
		callback.RemoveFromCart("PROD002"),
		callback.Checkout(),
		callback.MainMenu(),
	}, flatten(reply.Buttons))
}

func TestViewCartNetworkFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.api.cartErr = errNetwork

	reply := f.engine.Handle(context.Background(), press("u1", callback.ViewCart()))
	assert.Equal(t, ReplyNotice, reply.Kind)
	assert.Equal(t, textCartFailed, reply.Text)
}

func TestRemoveFromCart(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	reply := f.engine.Handle(ctx, press("u1", callback.RemoveFromCart("PROD001")))
	assert.Equal(t, textEmptyCart, reply.Text)
	assert.Equal(t, []string{"PROD001"}, f.api.removes)

	f.api.removeErr = errNetwork
	reply = f.engine.Handle(ctx, press("u1", callback.RemoveFromCart("PROD002")))
	assert.Equal(t, notice(textRemoveFailed), reply)
}

func TestViewOrders(t *testing.T) {
	f := newFixture(t, Config{})
	f.api.orders = []backend.Order{
		{OrderID: "0f8fad5b-d9cb-469f-a165-70867728950e", Total: decimal.RequireFromString("10"), Status: backend.StatusShipped, CreatedAt: "2025-01-02T10:00:00.000Z"},
		{OrderID: "7c9e6679-7425-40de-944b-e07fc1f90ae7", Total: decimal.RequireFromString("5.5"), Status: backend.StatusDelivered, CreatedAt: "2025-01-01T09:00:00.000Z"},
		{OrderID: "abc", Total: decimal.Zero, Status: "ON_HOLD", CreatedAt: "2025"},
	}

	reply := f.engine.Handle(context.Background(), press("u1", callback.MyOrders()))
	assert.Contains(t, reply.Text, "🚚 *Order 0f8fad5b...*")
	assert.Contains(t, reply.Text, "Date: 2025-01-02\n")
	assert.Contains(t, reply.Text, "📦 *Order 7c9e6679...*")
	assert.Contains(t, reply.Text, "Total: $5.50")
	assert.Contains(t, reply.Text, "❓ *Order abc...*")
	assert.Equal(t, []callback.Action{
		callback.CancelOrder("0f8fad5b-d9cb-469f-a165-70867728950e"),
		callback.CancelOrder("abc"),
		callback.MainMenu(),
	}, flatten(reply.Buttons))
}

func TestViewOrdersFailureAndCancel(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	reply := f.engine.Handle(ctx, press("u1", callback.CancelOrder("abc")))
	assert.Equal(t, []string{"abc"}, f.api.cancels)
	assert.Equal(t, textNoOrders, reply.Text)

	f.api.cancelErr = errNetwork
	assert.Equal(t, notice(textCancelFailed), f.engine.Handle(ctx, press("u1", callback.CancelOrder("abc"))))

	f.api.ordersErr = errNetwork
	assert.Equal(t, notice(textOrdersFailed), f.engine.Handle(ctx, press("u1", callback.MyOrders())))
}

func TestCheckoutHappyPath(t *testing.T) {
	f := newFixture(t, Config{})
	f.api.order = &backend.Order{
		OrderID: "0f8fad5b-d9cb-469f-a165-70867728950e",
		Total:   decimal.RequireFromString("2999.97"),
		Status:  backend.StatusPending,
	}
	ctx := context.Background()

	reply := f.engine.Handle(ctx, press("u1", callback.Checkout()))
	assert.Equal(t, ReplyMessage, reply.Kind)
	assert.Equal(t, textAskName, reply.Text)
	assert.Equal(t, session.StepAwaitingName, f.session(t, "u1").Step)

	assert.Equal(t, textAskEmail, f.engine.Handle(ctx, text("u1", "  Alice  ")).Text)
	assert.Equal(t, textAskPhone, f.engine.Handle(ctx, text("u1", "a@x.com")).Text)
	assert.Equal(t, textAskAddress, f.engine.Handle(ctx, text("u1", "555-1234")).Text)
	assert.Equal(t, "Alice", f.session(t, "u1").Details.Name)

	reply = f.engine.Handle(ctx, text("u1", "1 Main St"))
	assert.Equal(t, []orderCall{{UserID: "u1", Address: "1 Main St", Payment: "CARD"}}, f.api.creates)
	assert.Equal(t, ReplyMessage, reply.Kind)
	assert.Contains(t, reply.Text, "Order Confirmed")
	assert.Contains(t, reply.Text, "• Name: Alice")
	assert.Contains(t, reply.Text, "• Email: a@x.com")
	assert.Contains(t, reply.Text, "• Phone: 555-1234")
	assert.Contains(t, reply.Text, "• Delivery Address: 1 Main St")
	assert.Contains(t, reply.Text, "`0f8fad5b-d9cb-469f-a165-70867728950e`")
	assert.Contains(t, reply.Text, "$2999.97")
	assert.Equal(t, []callback.Action{callback.MyOrders(), callback.MainMenu()}, flatten(reply.Buttons))

	assert.Equal(t, session.Session{}, f.session(t, "u1"))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.OrdersSubmitted.WithLabelValues("created")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.CheckoutTransitions.WithLabelValues("SUBMITTING")))
}

func TestCheckoutUsesConfiguredPaymentMethod(t *testing.T) {
	f := newFixture(t, Config{PaymentMethod: "COD"})
	f.api.order = &backend.Order{OrderID: "o1", Status: backend.StatusPending}
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, "u1", session.Session{
		Step:    session.StepAwaitingAddress,
		Details: session.CustomerDetails{Name: "Bob"},
	}))

	reply := f.engine.Handle(ctx, text("u1", "2 Side Rd"))
	assert.Equal(t, "COD", f.api.creates[0].Payment)
	assert.Contains(t, reply.Text, "• Email: N/A")
}

func TestTextWhileIdleIsHint(t *testing.T) {
	f := newFixture(t, Config{})

	reply := f.engine.Handle(context.Background(), text("u1", "hello"))
	assert.Equal(t, textHint, reply.Text)
	assert.Equal(t, 0, f.store.Len())
	assert.Empty(t, f.api.creates)
}

func TestBlankAnswerRepromptsWithoutAdvancing(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.engine.Handle(ctx, press("u1", callback.Checkout()))

	reply := f.engine.Handle(ctx, text("u1", "   "))
	assert.Equal(t, textAskName, reply.Text)
	assert.Equal(t, session.StepAwaitingName, f.session(t, "u1").Step)
	assert.Empty(t, f.session(t, "u1").Details.Name)
}

func TestSubmitFailureKeepsSubmitting(t *testing.T) {
	f := newFixture(t, Config{})
	f.api.createErr = &backend.Error{Kind: backend.ErrBackend, StatusCode: 400, Message: "Cart is empty"}
	ctx := context.Background()

	f.engine.Handle(ctx, press("u1", callback.Checkout()))
	for _, answer := range []string{"Alice", "a@x.com", "555-1234"} {
		f.engine.Handle(ctx, text("u1", answer))
	}
	reply := f.engine.Handle(ctx, text("u1", "1 Main St"))
	assert.Equal(t, ReplyMessage, reply.Kind)
	assert.Equal(t, textOrderFailed, reply.Text)

	want := session.Session{
		Step:    session.StepSubmitting,
		Details: session.CustomerDetails{Name: "Alice", Email: "a@x.com", Phone: "555-1234", Address: "1 Main St"},
	}
	assert.Equal(t, want, f.session(t, "u1"))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.OrdersSubmitted.WithLabelValues("failed")))

	// Further text neither resubmits nor mutates the session.
	reply = f.engine.Handle(ctx, text("u1", "again please"))
	assert.Equal(t, notice(textSubmissionPending), reply)
	assert.Len(t, f.api.creates, 1)
	assert.Equal(t, want, f.session(t, "u1"))

	// Checkout restarts from scratch.
	f.engine.Handle(ctx, press("u1", callback.Checkout()))
	assert.Equal(t, session.Session{Step: session.StepAwaitingName}, f.session(t, "u1"))
}

type brokenStore struct{ err error }

func (b brokenStore) Get(context.Context, string) (session.Session, error) {
	return session.Session{}, b.err
}
func (b brokenStore) Set(context.Context, string, session.Session) error { return b.err }
func (b brokenStore) Clear(context.Context, string) error                { return b.err }

func TestStoreErrorsStayInside(t *testing.T) {
	api := &fakeBackend{}
	m := metrics.NewUnregistered("test")
	engine := New(api, brokenStore{err: errors.New("redis down")}, logging.Discard(), m, Config{})
	ctx := context.Background()

	for _, ev := range []Event{
		command("u1", "start"),
		text("u1", "Alice"),
		press("u1", callback.Checkout()),
		press("u1", callback.SelectProduct("PROD001")),
	} {
		reply := engine.Handle(ctx, ev)
		assert.Equal(t, textSomethingWrong, reply.Text, "event %+v", ev)
	}
	assert.Empty(t, api.registered)
	assert.Equal(t, float64(4), testutil.ToFloat64(m.Errors.WithLabelValues("session")))
}

func TestHandleSerializesPerUser(t *testing.T) {
	f := newFixture(t, Config{})
	f.api.addDelay = 5 * time.Millisecond
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.engine.Handle(ctx, press("same-user", callback.SelectQuantity(1, "PROD001")))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.api.maxSeen.Load())
	assert.Len(t, f.api.adds, 8)
	assert.Equal(t, 0, f.engine.locks.size())
}

func TestHandleRunsUsersInParallel(t *testing.T) {
	f := newFixture(t, Config{})
	f.api.addDelay = 50 * time.Millisecond
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, user := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			f.engine.Handle(ctx, press(user, callback.SelectQuantity(1, "PROD001")))
		}(user)
	}
	wg.Wait()

	assert.Greater(t, f.api.maxSeen.Load(), int32(1))
}

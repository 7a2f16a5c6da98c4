package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shopbot/internal/metrics"

	"github.com/google/uuid"
)

const (
	defaultBaseURL   = "http://localhost:3000/api"
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "shopbot/backend-client"
	maxErrorBody     = 512

	// DefaultUsername and DefaultDisplayName fill blanks the chat platform leaves out.
	DefaultUsername    = "bot_user"
	DefaultDisplayName = "User"
)

// Config holds backend client configuration.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// Transport overrides the pooled default transport. Mostly for tests.
	Transport http.RoundTripper
}

// Client provides typed access to the order backend. It is safe for concurrent use.
type Client struct {
	logger    *slog.Logger
	baseURL   string
	userAgent string
	timeout   time.Duration
	http      *http.Client
	metrics   *metrics.Metrics
}

// New creates a backend client sharing one pooled http.Client across calls.
func New(cfg Config, logger *slog.Logger, metrics *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        32,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: timeout,
		}
	}
	return &Client{
		logger:    logger.With("component", "backend"),
		baseURL:   base,
		userAgent: ua,
		timeout:   timeout,
		http:      &http.Client{Timeout: timeout, Transport: transport},
		metrics:   metrics,
	}
}

// RegisterUser registers the chat user, or returns the existing record.
func (c *Client) RegisterUser(ctx context.Context, userID, username, displayName string) (*User, error) {
	if strings.TrimSpace(username) == "" {
		username = DefaultUsername
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = DefaultDisplayName
	}
	var env envelope
	err := c.do(ctx, "users.register", http.MethodPost, "/users/register", registerRequest{
		TelegramID: userID,
		Username:   username,
		FirstName:  displayName,
	}, &env)
	if err != nil {
		return nil, err
	}
	if env.User == nil {
		return &User{TelegramID: userID, Username: username, FirstName: displayName}, nil
	}
	return env.User, nil
}

// ListProducts fetches the full catalog. Results are never cached.
func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	var env envelope
	if err := c.do(ctx, "products.list", http.MethodGet, "/products", nil, &env); err != nil {
		return nil, err
	}
	return env.Products, nil
}

// AddToCart adds quantity units of productID to the user's cart and returns the updated lines.
func (c *Client) AddToCart(ctx context.Context, userID, productID string, quantity int) ([]CartItem, error) {
	if quantity <= 0 {
		return nil, &Error{Op: "cart.add", Kind: ErrBackend, Message: "quantity must be positive"}
	}
	var env envelope
	err := c.do(ctx, "cart.add", http.MethodPost, "/cart/add", cartAddRequest{
		TelegramID: userID,
		ProductID:  productID,
		Quantity:   quantity,
	}, &env)
	if err != nil {
		return nil, err
	}
	return env.Cart, nil
}

// GetCart returns the user's cart lines and backend-computed total.
func (c *Client) GetCart(ctx context.Context, userID string) (*Cart, error) {
	var env envelope
	if err := c.do(ctx, "cart.get", http.MethodGet, "/cart/"+url.PathEscape(userID), nil, &env); err != nil {
		return nil, err
	}
	return &Cart{Items: env.Cart, Total: env.Total}, nil
}

// RemoveFromCart drops a product line from the user's cart.
func (c *Client) RemoveFromCart(ctx context.Context, userID, productID string) error {
	var env envelope
	return c.do(ctx, "cart.remove", http.MethodPost, "/cart/remove", cartRemoveRequest{
		TelegramID: userID,
		ProductID:  productID,
	}, &env)
}

// CreateOrder turns the user's cart into an order.
func (c *Client) CreateOrder(ctx context.Context, userID, deliveryAddress, paymentMethod string) (*Order, error) {
	var env envelope
	err := c.do(ctx, "orders.create", http.MethodPost, "/orders/create", createOrderRequest{
		TelegramID:      userID,
		DeliveryAddress: deliveryAddress,
		PaymentMethod:   paymentMethod,
	}, &env)
	if err != nil {
		return nil, err
	}
	if env.Order == nil {
		return nil, &Error{Op: "orders.create", Kind: ErrBackend, Message: "response missing order"}
	}
	return env.Order, nil
}

// ListOrders returns every order the user has placed.
func (c *Client) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	var env envelope
	if err := c.do(ctx, "orders.list", http.MethodGet, "/orders/user/"+url.PathEscape(userID), nil, &env); err != nil {
		return nil, err
	}
	orders := make([]Order, 0, len(env.Orders))
	for _, o := range env.Orders {
		if o != nil {
			orders = append(orders, *o)
		}
	}
	return orders, nil
}

// CancelOrder cancels an order that is not yet delivered.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*Order, error) {
	var env envelope
	if err := c.do(ctx, "orders.cancel", http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/cancel", nil, &env); err != nil {
		return nil, err
	}
	if env.Order == nil {
		return nil, &Error{Op: "orders.cancel", Kind: ErrBackend, Message: "response missing order"}
	}
	return env.Order, nil
}

// Health pings the backend's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	var env envelope
	if err := c.do(ctx, "health", http.MethodGet, "/health", nil, &env); err != nil {
		return err
	}
	if env.Status != "" && !strings.EqualFold(env.Status, "ok") {
		return &Error{Op: "health", Kind: ErrBackend, Message: "status " + env.Status}
	}
	return nil
}

// do performs one request. Every failure comes back as *Error and is logged here.
func (c *Client) do(ctx context.Context, op, method, path string, payload any, dest *envelope) error {
	requestID := uuid.NewString()
	fail := func(e *Error) error {
		e.Op = op
		e.RequestID = requestID
		c.logger.Error("backend call failed",
			"endpoint", op,
			"method", method,
			"path", path,
			"status", e.StatusCode,
			"request_id", requestID,
			"error", e,
		)
		return e
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fail(&Error{Kind: ErrBackend, Err: fmt.Errorf("encode request: %w", err)})
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fail(&Error{Kind: ErrBackend, Err: fmt.Errorf("new request: %w", err)})
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.observe(op, "error", start)
		return fail(&Error{Kind: ErrNetwork, Err: unwrapURLError(err)})
	}
	defer res.Body.Close()
	c.observe(op, strconv.Itoa(res.StatusCode), start)

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return fail(&Error{Kind: ErrNetwork, StatusCode: res.StatusCode, Err: fmt.Errorf("read response: %w", err)})
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fail(classifyHTTPError(res.StatusCode, bodyBytes))
	}

	if dest == nil || len(bytes.TrimSpace(bodyBytes)) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fail(&Error{Kind: ErrBackend, StatusCode: res.StatusCode, Err: fmt.Errorf("decode response: %w", err)})
	}
	if dest.failed() {
		return fail(&Error{Kind: ErrBackend, StatusCode: res.StatusCode, Message: firstNonEmpty(dest.Error, dest.Message, "success=false")})
	}
	return nil
}

func (c *Client) observe(op, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.BackendRequests.WithLabelValues(op, status).Inc()
	c.metrics.BackendLatency.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

func classifyHTTPError(status int, body []byte) *Error {
	e := &Error{Kind: ErrBackend, StatusCode: status}
	var env struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		e.Message = firstNonEmpty(env.Error, env.Message)
	}
	if e.Message == "" {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		e.Message = snippet
	}
	return e
}

// unwrapURLError strips the *url.Error wrapper, which repeats method and URL.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var netErr net.Error
		if errors.As(urlErr.Err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("timeout: %w", urlErr.Err)
		}
		return urlErr.Err
	}
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

package orderclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
)

const (
	defaultTimeout              = 5 * time.Second
	responseBodyReadLimit int64 = 1024
)

var errBaseURLRequired = errors.New("order service base url is required")

// Client calls the order aggregate's status and audit-log endpoints.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	serviceToken string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithServiceToken sets the bearer token presented to the order service.
func WithServiceToken(token string) Option {
	return func(c *Client) {
		c.serviceToken = strings.TrimSpace(token)
	}
}

// WithTimeout replaces the client timeout. Non-positive values are ignored.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 && c.httpClient != nil {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient builds an order-service client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}

	client := &Client{
		baseURL: trimmed,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// StatusUpdate is the body of PUT /orders/:id/status.
type StatusUpdate struct {
	Status enums.OrderStatus `json:"status"`
}

// FieldChange records one changed tracking field.
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// AuditLogEntry is the body of POST /orders/:id/audit-logs.
type AuditLogEntry struct {
	OrderID         uuid.UUID              `json:"orderId"`
	Action          enums.AuditAction      `json:"action"`
	PerformedBy     uuid.UUID              `json:"performedBy"`
	PerformedByRole enums.Role             `json:"performedByRole,omitempty"`
	Changes         map[string]FieldChange `json:"changes,omitempty"`
	Metadata        map[string]any         `json:"metadata,omitempty"`
}

// StatusError carries a non-2xx reply from the order service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// UpdateOrderStatus pushes the mapped delivery status to the order aggregate.
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) error {
	if status == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order status is required")
	}
	return c.send(ctx, http.MethodPut, c.orderURL(orderID, "status"), StatusUpdate{Status: status}, "order status update")
}

// PostAuditLog appends an entry to the order's audit trail.
func (c *Client) PostAuditLog(ctx context.Context, entry AuditLogEntry) error {
	if entry.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "audit log order id is required")
	}
	return c.send(ctx, http.MethodPost, c.orderURL(entry.OrderID, "audit-logs"), entry, "order audit log")
}

func (c *Client) send(ctx context.Context, method, target string, body any, op string) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "order service client not configured")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal "+op+" request")
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build "+op+" request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute "+op+" request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: readableBody(msg)}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, statusErr, op+" request failed")
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, responseBodyReadLimit))
	return nil
}

// readableBody drops a rune split by the read limit so the text is safe to
// store in a TEXT column.
func readableBody(raw []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(raw), ""))
}

func (c *Client) orderURL(orderID uuid.UUID, suffix string) string {
	return fmt.Sprintf("%s/orders/%s/%s", c.baseURL, url.PathEscape(orderID.String()), suffix)
}

// Retryable reports whether a failed call may succeed on a later attempt.
// Client errors other than 408 and 429 are permanent.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout, statusErr.StatusCode == http.StatusTooManyRequests:
			return true
		case statusErr.StatusCode >= 400 && statusErr.StatusCode < 500:
			return false
		}
		return true
	}
	if pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		return false
	}
	return true
}

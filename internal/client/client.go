// Package client talks to a board server over HTTP and its realtime stream,
// and keeps a reconciled local mirror of the board.
package client

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

	"github.com/gorilla/websocket"

	"github.com/marcus/boardsync/internal/events"
	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/position"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("invalid request")
	ErrRateLimited = errors.New("rate limited")
)

// CorrelationHeader is the request header carrying a mutation's correlation id.
const CorrelationHeader = "X-Correlation-ID"

// Client is an HTTP client for the board server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Dialer  *websocket.Dialer
}

// New creates a new board client.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Dialer:  websocket.DefaultDialer,
	}
}

type ctxKey struct{}

// WithCorrelationID tags requests made with ctx with a correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Driver string `json:"driver,omitempty"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, "GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Lists ---

// Lists returns every list in display order.
func (c *Client) Lists(ctx context.Context) ([]models.List, error) {
	var resp []models.List
	if err := c.do(ctx, "GET", "/lists", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateList creates a list. A nil pos places it after the existing lists.
func (c *Client) CreateList(ctx context.Context, title string, pos *int) (models.List, error) {
	body := map[string]any{"title": title}
	if pos != nil {
		body["position"] = *pos
	}
	var resp models.List
	err := c.do(ctx, "POST", "/lists", body, &resp)
	return resp, err
}

// DeleteList removes a list and its items.
func (c *Client) DeleteList(ctx context.Context, id string) (models.DeleteListResult, error) {
	var resp models.DeleteListResult
	err := c.do(ctx, "DELETE", "/lists/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// RepairList asks the server to renumber a list's items.
func (c *Client) RepairList(ctx context.Context, id string) ([]position.Renumber, error) {
	var resp struct {
		Renumbered []position.Renumber `json:"renumbered"`
	}
	if err := c.do(ctx, "POST", "/lists/"+url.PathEscape(id)+"/repair", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Renumbered, nil
}

// --- Items ---

// Items returns every item ordered by list, then position.
func (c *Client) Items(ctx context.Context) ([]models.Item, error) {
	var resp []models.Item
	if err := c.do(ctx, "GET", "/items", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Item returns one item.
func (c *Client) Item(ctx context.Context, id string) (models.Item, error) {
	var resp models.Item
	err := c.do(ctx, "GET", "/items/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// CreateItem appends an item to a list.
func (c *Client) CreateItem(ctx context.Context, listID, title, description string) (models.Item, error) {
	body := map[string]string{"title": title, "listId": listID}
	if description != "" {
		body["description"] = description
	}
	var resp models.Item
	err := c.do(ctx, "POST", "/items", body, &resp)
	return resp, err
}

// UpdateItem applies a partial update, moving the item if the patch asks to.
func (c *Client) UpdateItem(ctx context.Context, id string, patch models.ItemPatch) (models.Item, error) {
	var resp models.Item
	err := c.do(ctx, "PATCH", "/items/"+url.PathEscape(id), patch, &resp)
	return resp, err
}

// DeleteItem removes an item and returns it.
func (c *Client) DeleteItem(ctx context.Context, id string) (models.Item, error) {
	var resp models.Item
	err := c.do(ctx, "DELETE", "/items/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// --- Realtime ---

// EventStream is a live subscription to board events.
type EventStream interface {
	// Next blocks until the next event arrives or the stream fails.
	Next() (events.Envelope, error)
	Close() error
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Next() (events.Envelope, error) {
	var ev events.Envelope
	if err := s.conn.ReadJSON(&ev); err != nil {
		return events.Envelope{}, err
	}
	return ev, nil
}

func (s *wsStream) Close() error {
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}

// Subscribe opens the realtime stream. Events committed before the call
// returns are not replayed; fetch a snapshot after subscribing.
func (c *Client) Subscribe(ctx context.Context) (EventStream, error) {
	u, err := url.Parse(c.BaseURL + "/events")
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return &wsStream{conn: conn}, nil
}

// --- HTTP helpers ---

// APIError is an error envelope returned by the server that does not map
// to a sentinel.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if corr := correlationID(ctx); corr != "" {
		req.Header.Set(CorrelationHeader, corr)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error APIError `json:"error"`
		}
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Error.Code != "" {
			apiErr := envelope.Error
			switch resp.StatusCode {
			case http.StatusBadRequest:
				return fmt.Errorf("%w: %s", ErrValidation, apiErr.Message)
			case http.StatusNotFound:
				return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
			case http.StatusTooManyRequests:
				return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
			default:
				apiErr.Status = resp.StatusCode
				return &apiErr
			}
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcus/boardsync/internal/events"
	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/store"
)

// newTestServer creates a Server backed by a temp-dir database.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWithConfig(t, nil)
}

// newTestServerWithConfig creates a test server with a custom config modifier.
func newTestServerWithConfig(t *testing.T, modCfg func(*Config)) *Server {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "board.db")
	st, err := store.Open(store.DriverModernc, dbPath)
	if err != nil {
		t.Fatalf("open board db: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := Config{
		DatabaseURL:     dbPath,
		DBDriver:        store.DriverModernc,
		ListenAddr:      ":0",
		RateLimitWrites: 100000,
		EventBuffer:     64,
	}
	if modCfg != nil {
		modCfg(&cfg)
	}

	srv, err := NewServer(cfg, st)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	t.Cleanup(srv.hub.Close)
	return srv
}

func doRequest(srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	return doRequestWithHeaders(srv, method, path, body, nil)
}

func doRequestWithHeaders(srv *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func createList(t *testing.T, srv *Server, title string) models.List {
	t.Helper()
	w := doRequest(srv, "POST", "/lists", CreateListRequest{Title: title})
	if w.Code != http.StatusCreated {
		t.Fatalf("create list: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decode[models.List](t, w)
}

func createItem(t *testing.T, srv *Server, listID, title string) models.Item {
	t.Helper()
	w := doRequest(srv, "POST", "/items", CreateItemRequest{Title: title, ListID: listID})
	if w.Code != http.StatusCreated {
		t.Fatalf("create item: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decode[models.Item](t, w)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(srv, "GET", "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode[map[string]string](t, w)
	if body["status"] != "ok" || body["driver"] != store.DriverModernc {
		t.Fatalf("unexpected body: %v", body)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestListsCRUD(t *testing.T) {
	srv := newTestServer(t)

	todo := createList(t, srv, "todo")
	done := createList(t, srv, "done")
	if todo.Position != 0 || done.Position != 1 {
		t.Errorf("positions = %d, %d", todo.Position, done.Position)
	}

	w := doRequest(srv, "GET", "/lists", nil)
	lists := decode[[]models.List](t, w)
	if len(lists) != 2 || lists[0].ID != todo.ID {
		t.Fatalf("lists = %+v", lists)
	}

	createItem(t, srv, todo.ID, "a")
	w = doRequest(srv, "DELETE", "/lists/"+todo.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete list: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	res := decode[models.DeleteListResult](t, w)
	if !res.Success || res.Message == "" {
		t.Errorf("result = %+v", res)
	}

	w = doRequest(srv, "GET", "/items", nil)
	if items := decode[[]models.Item](t, w); len(items) != 0 {
		t.Errorf("items survived list deletion: %+v", items)
	}

	w = doRequest(srv, "DELETE", "/lists/"+todo.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", w.Code)
	}
}

func TestCreateListValidation(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(srv, "POST", "/lists", CreateListRequest{Title: " "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if e := decode[ErrorResponse](t, w); e.Error.Code != ErrCodeBadRequest {
		t.Errorf("code = %q", e.Error.Code)
	}

	neg := -1
	w = doRequest(srv, "POST", "/lists", CreateListRequest{Title: "x", Position: &neg})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("negative position: expected 400, got %d", w.Code)
	}

	req := httptest.NewRequest("POST", "/lists", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: expected 400, got %d", rec.Code)
	}
}

func TestItemLifecycle(t *testing.T) {
	srv := newTestServer(t)
	a := createList(t, srv, "A")
	b := createList(t, srv, "B")
	createItem(t, srv, a.ID, "item1")
	createItem(t, srv, a.ID, "item2")
	item3 := createItem(t, srv, a.ID, "item3")
	if item3.Position != 2 {
		t.Fatalf("item3 position = %d", item3.Position)
	}

	w := doRequest(srv, "PATCH", "/items/"+item3.ID, map[string]any{"listId": b.ID, "position": 0})
	if w.Code != http.StatusOK {
		t.Fatalf("move: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	moved := decode[models.Item](t, w)
	if moved.ListID != b.ID || moved.Position != 0 {
		t.Errorf("moved = %+v", moved)
	}

	w = doRequest(srv, "GET", "/items/"+item3.ID, nil)
	if got := decode[models.Item](t, w); got.ListID != b.ID {
		t.Errorf("get after move = %+v", got)
	}

	w = doRequest(srv, "PATCH", "/items/"+item3.ID, map[string]any{"title": "renamed"})
	if got := decode[models.Item](t, w); got.Title != "renamed" {
		t.Errorf("rename = %+v", got)
	}

	w = doRequest(srv, "DELETE", "/items/"+item3.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}
	if got := decode[models.Item](t, w); got.ID != item3.ID {
		t.Errorf("delete returned %+v", got)
	}

	w = doRequest(srv, "GET", "/items/"+item3.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get deleted: expected 404, got %d", w.Code)
	}
	if e := decode[ErrorResponse](t, w); e.Error.Code != ErrCodeNotFound {
		t.Errorf("code = %q", e.Error.Code)
	}
}

func TestCreateItemErrors(t *testing.T) {
	srv := newTestServer(t)
	a := createList(t, srv, "A")

	tests := []struct {
		name string
		body CreateItemRequest
		code int
	}{
		{"missing title", CreateItemRequest{ListID: a.ID}, http.StatusBadRequest},
		{"missing list", CreateItemRequest{Title: "x"}, http.StatusBadRequest},
		{"unknown list", CreateItemRequest{Title: "x", ListID: "ls-nope"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(srv, "POST", "/items", tt.body)
			if w.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}
}

func TestRepairEndpoint(t *testing.T) {
	srv := newTestServer(t)
	a := createList(t, srv, "A")
	createItem(t, srv, a.ID, "x")

	w := doRequest(srv, "POST", "/lists/"+a.ID+"/repair", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if res := decode[RepairResponse](t, w); res.Renumbered == nil || len(res.Renumbered) != 0 {
		t.Errorf("healthy list repair = %+v", res)
	}

	w = doRequest(srv, "POST", "/lists/ls-nope/repair", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown list: expected 404, got %d", w.Code)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(srv, "GET", "/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	w = doRequest(srv, "PUT", "/lists", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	a := createList(t, srv, "A")
	createItem(t, srv, a.ID, "x")
	doRequest(srv, "GET", "/items/it-missing", nil)

	w := doRequest(srv, "GET", "/metricz", nil)
	snap := decode[MetricsSnapshot](t, w)
	if snap.Mutations != 2 {
		t.Errorf("mutations = %d, want 2", snap.Mutations)
	}
	if snap.ClientErrors != 1 {
		t.Errorf("client errors = %d, want 1", snap.ClientErrors)
	}
	if snap.Broadcast.Published != 2 {
		t.Errorf("published = %d, want 2", snap.Broadcast.Published)
	}
}

func TestWriteRateLimit(t *testing.T) {
	srv := newTestServerWithConfig(t, func(cfg *Config) {
		cfg.RateLimitWrites = 2
	})

	for i := 0; i < 2; i++ {
		w := doRequest(srv, "POST", "/lists", CreateListRequest{Title: "x"})
		if w.Code != http.StatusCreated {
			t.Fatalf("request %d: expected 201, got %d", i+1, w.Code)
		}
	}
	w := doRequest(srv, "POST", "/lists", CreateListRequest{Title: "x"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if e := decode[ErrorResponse](t, w); e.Error.Code != ErrCodeRateLimited {
		t.Errorf("code = %q", e.Error.Code)
	}

	// Reads are not limited.
	if w := doRequest(srv, "GET", "/lists", nil); w.Code != http.StatusOK {
		t.Fatalf("read: expected 200, got %d", w.Code)
	}
}

func TestCorrelationHeaderTooLong(t *testing.T) {
	srv := newTestServer(t)
	w := doRequestWithHeaders(srv, "POST", "/lists", CreateListRequest{Title: "x"},
		map[string]string{CorrelationHeader: strings.Repeat("c", 200)})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestEventsStreamEchoesCorrelation(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.Stats().Subscribers == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	w := doRequestWithHeaders(srv, "POST", "/lists", CreateListRequest{Title: "live"},
		map[string]string{CorrelationHeader: "corr-7"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create list: %d", w.Code)
	}
	created := decode[models.List](t, w)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Envelope
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != events.ListAdded || ev.CorrelationID != "corr-7" {
		t.Fatalf("event = %+v", ev)
	}
	l, err := ev.List()
	if err != nil || l.ID != created.ID {
		t.Errorf("event list = %+v, %v", l, err)
	}
}

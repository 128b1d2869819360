package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"planboard/internal/model"
	"planboard/internal/task/engine"
	logx "planboard/pkg/logx"
)

func newServer(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL + "/api/", Token: "secret"}, logx.Nop())
	if err != nil {
		t.Fatalf("NewHTTPClient() error = %v", err)
	}
	return c
}

func TestHTTPPatchSendsJSON(t *testing.T) {
	t.Parallel()

	var got Patch
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/records/t%201" && r.URL.Path != "/api/records/t 1" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	})

	start := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
	if err := c.Patch(context.Background(), "t 1", Patch{Start: start, End: start.Add(time.Hour), ResourceIDs: []string{"r1"}}); err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if !got.Start.Equal(start) || got.ResourceIDs[0] != "r1" {
		t.Fatalf("server got %+v", got)
	}
}

func TestHTTPCreateReturnsID(t *testing.T) {
	t.Parallel()

	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var rec model.Record
		_ = json.NewDecoder(r.Body).Decode(&rec)
		if rec.ID != "" {
			t.Errorf("create body carried id %q", rec.ID)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "42"})
	})
	id, err := c.Create(context.Background(), model.Record{ID: "tmp-1", Title: "new"})
	if err != nil || id != "42" {
		t.Fatalf("Create() = %q, %v; want 42", id, err)
	}
}

func TestHTTPErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		header    string
		noRetry   bool
		wantAfter time.Duration
	}{
		{"bad request", http.StatusBadRequest, "", true, 0},
		{"conflict", http.StatusConflict, "", true, 0},
		{"throttled", http.StatusTooManyRequests, "7", false, 7 * time.Second},
		{"server error", http.StatusBadGateway, "", false, 0},
		{"request timeout", http.StatusRequestTimeout, "", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				http.Error(w, "nope", tt.status)
			})
			err := c.Patch(context.Background(), "x", Patch{})
			var se *StatusError
			if !errors.As(err, &se) || se.Status != tt.status {
				t.Fatalf("Patch() error = %v, want StatusError %d", err, tt.status)
			}
			if engine.IsNoRetry(err) != tt.noRetry {
				t.Fatalf("IsNoRetry = %v, want %v", engine.IsNoRetry(err), tt.noRetry)
			}
			var ra engine.RetryAfterError
			if tt.wantAfter > 0 && (!errors.As(err, &ra) || ra.RetryAfter() != tt.wantAfter) {
				t.Fatalf("RetryAfter = %v, want %v", err, tt.wantAfter)
			}
		})
	}
}

func TestHTTPDeleteNotFoundIsSuccess(t *testing.T) {
	t.Parallel()

	c := newServer(t, func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	if err := c.Delete(context.Background(), "gone"); err != nil {
		t.Fatalf("Delete() error = %v, want nil", err)
	}
	if err := c.Patch(context.Background(), "gone", Patch{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Patch() error = %v, want ErrNotFound", err)
	}
}

func TestHTTPRateLimited(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()
	c, _ := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, RatePerSec: 1, Burst: 1}, logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := c.List(ctx); err != nil {
		t.Fatalf("first List() error = %v", err)
	}
	if _, err := c.List(ctx); err == nil {
		t.Fatalf("second List() error = nil, want limiter wait to exceed deadline")
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}
}

func TestRetryAfterParsing(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", time.Second},
		{"3", 3 * time.Second},
		{"-4", 0},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{"soon", time.Second},
	}
	for _, tt := range tests {
		if got := retryAfter(tt.in, now); got != tt.want {
			t.Fatalf("retryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMemoryBackend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory(model.Record{ID: "a", ResourceIDs: []string{"r1"}})
	id, err := m.Create(ctx, model.Record{ID: "tmp-x", Title: "new"})
	if err != nil || id == "" || strings.HasPrefix(id, "tmp-") {
		t.Fatalf("Create() = %q, %v", id, err)
	}
	start := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
	if err := m.Patch(ctx, "a", Patch{Start: start, End: start.Add(time.Hour)}); err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if r, _ := m.Record("a"); !r.Start.Equal(start) || r.ResourceIDs[0] != "r1" {
		t.Fatalf("Record(a) = %+v", r)
	}
	if err := m.Patch(ctx, "missing", Patch{}); !errors.Is(err, ErrNotFound) || !engine.IsNoRetry(err) {
		t.Fatalf("Patch(missing) error = %v, want NoRetry(ErrNotFound)", err)
	}

	m.FailAll(errors.New("offline"))
	if err := m.Delete(ctx, "a"); err == nil {
		t.Fatalf("Delete() with FailAll error = nil")
	}
	if list, err := m.List(ctx); err != nil || len(list) != 2 {
		t.Fatalf("List() = %d, %v; want 2, nil", len(list), err)
	}
	if m.Calls(OpPatch) != 2 || m.Calls(OpDelete) != 1 {
		t.Fatalf("calls patch/delete = %d/%d, want 2/1", m.Calls(OpPatch), m.Calls(OpDelete))
	}
}

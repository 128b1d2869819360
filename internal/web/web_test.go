package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"planboard/internal/board"
	"planboard/internal/eventbus"
	"planboard/internal/gesture"
	"planboard/internal/model"
	"planboard/internal/optimistic"
	"planboard/internal/storage"
	"planboard/internal/timescale"
	logx "planboard/pkg/logx"
)

var day = time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)

func at(h int) time.Time { return day.Add(time.Duration(h) * time.Hour) }

type acceptAll struct{}

func (acceptAll) Dispatch(optimistic.Write, func(string, error)) error { return nil }

type fakeRenderer struct{}

func (fakeRenderer) PNG(context.Context, string, int, int) ([]byte, error) {
	return []byte("\x89PNG"), nil
}

func (fakeRenderer) PDF(context.Context, string, int, int) ([]byte, error) {
	return nil, errors.New("no browser")
}

func newTestBoard(t *testing.T) *board.Board {
	t.Helper()
	store := storage.NewMemory()
	seed := model.Record{ID: "t1", Title: "Survey", Start: at(9), End: at(10), ResourceIDs: []string{"r1"}}
	if err := store.Update(context.Background(), seed.ID, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	scale, err := timescale.New(timescale.HourAndDay, day, 2400, time.UTC)
	if err != nil {
		t.Fatalf("scale: %v", err)
	}
	return board.New(board.Config{
		Store:      store,
		Dispatcher: acceptAll{},
		Scale:      scale,
		Resources:  []model.Resource{{ID: "r1", Name: "Ann"}, {ID: "r2", Name: "Bo"}},
		Clock:      optimistic.NewManualClock(at(8)),
		Log:        logx.Nop(),
	})
}

func newTestServer(t *testing.T, d Deps) *httptest.Server {
	t.Helper()
	if d.Board == nil {
		d.Board = newTestBoard(t)
	}
	d.Log = logx.Nop()
	srv := httptest.NewServer(NewHandler(d))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestGestureRoundTrip(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{})
	if resp, body := do(t, "POST", srv.URL+"/api/gesture/begin", `{"kind":"move","event_id":"t1@r1","x":900}`); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("begin = %d %s", resp.StatusCode, body)
	}
	resp, body := do(t, "POST", srv.URL+"/api/gesture/update", `{"event_id":"t1@r1","x":1000,"lane":1}`)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"lane":1`) {
		t.Fatalf("update = %d %s", resp.StatusCode, body)
	}
	resp, body = do(t, "POST", srv.URL+"/api/gesture/end", `{"event_id":"t1@r1","x":1000}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end = %d %s", resp.StatusCode, body)
	}
	var res gesture.Result
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !res.Next.Start.Equal(at(10)) || res.Next.ResourceID != "r2" {
		t.Fatalf("result = %+v", res)
	}

	_, body = do(t, "GET", srv.URL+"/api/frame", "")
	var fr board.Frame
	if err := json.Unmarshal([]byte(body), &fr); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if p, ok := fr.Positions["t1@r2"]; !ok || p.X != 1000 || !fr.CanUndo {
		t.Fatalf("frame = %+v", fr)
	}

	if _, body := do(t, "POST", srv.URL+"/api/undo", ""); !strings.Contains(body, `"ok":true`) {
		t.Fatalf("undo = %s", body)
	}
	if _, body := do(t, "POST", srv.URL+"/api/undo", ""); !strings.Contains(body, `"ok":false`) {
		t.Fatalf("second undo = %s", body)
	}
	if _, body := do(t, "POST", srv.URL+"/api/redo", ""); !strings.Contains(body, `"ok":true`) {
		t.Fatalf("redo = %s", body)
	}
}

func TestGestureCancel(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{})
	if resp, body := do(t, "POST", srv.URL+"/api/gesture/begin", `{"kind":"move","event_id":"t1@r1","x":900}`); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("begin = %d %s", resp.StatusCode, body)
	}
	if resp, body := do(t, "POST", srv.URL+"/api/gesture/cancel", `{"event_id":"t1@r1"}`); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("cancel = %d %s", resp.StatusCode, body)
	}
	if resp, _ := do(t, "POST", srv.URL+"/api/gesture/cancel", `{"event_id":"t1@r1"}`); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second cancel = %d, want 404", resp.StatusCode)
	}
	// The event is free for a new gesture.
	if resp, body := do(t, "POST", srv.URL+"/api/gesture/begin", `{"kind":"move","event_id":"t1@r1","x":900}`); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("begin after cancel = %d %s", resp.StatusCode, body)
	}
}

func TestErrorStatuses(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{})
	tests := []struct {
		method, path, body string
		want               int
	}{
		{"POST", "/api/gesture/begin", `{"kind":"spin","event_id":"t1@r1","x":0}`, http.StatusBadRequest},
		{"POST", "/api/gesture/begin", `{"kind":"move","event_id":"zz@r1","x":0}`, http.StatusNotFound},
		{"POST", "/api/gesture/update", `{"event_id":"t1@r1","x":0}`, http.StatusNotFound},
		{"POST", "/api/gesture/begin", `{"kind":"move","event_id":"t1@r1","x":0,"extra":1}`, http.StatusBadRequest},
		{"POST", "/api/empty", `{"lane":7,"x":10}`, http.StatusBadRequest},
		{"POST", "/api/navigate", `{"preset":"decade"}`, http.StatusBadRequest},
		{"PUT", "/api/events/t1%40r1", `{"start":"2024-03-04T12:00:00Z","end":"2024-03-04T11:00:00Z"}`, http.StatusBadRequest},
		{"DELETE", "/api/events/nope%40r1", "", http.StatusNotFound},
		{"POST", "/api/refresh", "", http.StatusNotImplemented},
		{"GET", "/api/export.png", "", http.StatusNotImplemented},
	}
	for _, tt := range tests {
		resp, body := do(t, tt.method, srv.URL+tt.path, tt.body)
		if resp.StatusCode != tt.want {
			t.Fatalf("%s %s = %d %s, want %d", tt.method, tt.path, resp.StatusCode, body, tt.want)
		}
	}
}

func TestCreateRescheduleDelete(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{})
	resp, body := do(t, "POST", srv.URL+"/api/empty", `{"lane":1,"x":1400,"title":"Visit"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("empty = %d %s", resp.StatusCode, body)
	}
	if resp, body := do(t, "PUT", srv.URL+"/api/events/t1%40r1", `{"start":"2024-03-04T12:00:00Z","end":"2024-03-04T13:00:00Z"}`); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("reschedule = %d %s", resp.StatusCode, body)
	}
	if resp, body := do(t, "DELETE", srv.URL+"/api/events/t1%40r1", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete = %d %s", resp.StatusCode, body)
	}
	_, body = do(t, "GET", srv.URL+"/api/history", "")
	if !strings.Contains(body, `"cursor":2`) {
		t.Fatalf("history = %s", body)
	}
}

func TestNavigate(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{})
	resp, body := do(t, "POST", srv.URL+"/api/navigate", `{"direction":"next","width":1200}`)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"range_start":"2024-03-05T00:00:00Z"`) {
		t.Fatalf("navigate = %d %s", resp.StatusCode, body)
	}
	_, body = do(t, "GET", srv.URL+"/api/frame", "")
	if !strings.Contains(body, `"width":1200`) {
		t.Fatalf("frame width not updated: %s", body)
	}
}

func TestExports(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{Renderer: fakeRenderer{}})
	resp, body := do(t, "GET", srv.URL+"/api/export.svg", "")
	if resp.Header.Get("Content-Type") != "image/svg+xml" || !strings.Contains(body, `<g id="t1@r1">`) {
		t.Fatalf("svg = %s %s", resp.Header.Get("Content-Type"), body)
	}
	resp, body = do(t, "GET", srv.URL+"/api/export.csv", "")
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/csv") || !strings.Contains(body, "t1@r1,t1,r1,Ann,Survey") {
		t.Fatalf("csv = %s", body)
	}
	if resp, body := do(t, "GET", srv.URL+"/api/export.png", ""); resp.StatusCode != http.StatusOK || body != "\x89PNG" {
		t.Fatalf("png = %d %q", resp.StatusCode, body)
	}
	if resp, _ := do(t, "GET", srv.URL+"/api/export.pdf", ""); resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("pdf = %d, want 502", resp.StatusCode)
	}
}

func TestNoticesFromBus(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	n := NewNotices(2, time.Minute, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.Run(ctx, bus)
	}()

	// Subscribing happens inside Run; wait until it is in place.
	deadline := time.Now().Add(2 * time.Second)
	for len(n.Since(0)) == 0 {
		bus.Publish(eventbus.Event{Type: eventbus.TypeNoticeError, Time: at(9), Data: eventbus.Notice{SourceItemID: "t1", Message: "Could not save the move"}})
		if time.Now().After(deadline) {
			t.Fatalf("notice never arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	// Repeats within the dedup window collapse.
	if got := n.Since(0); len(got) != 1 || got[0].Seq != 1 || got[0].SourceItemID != "t1" {
		t.Fatalf("notices = %+v", got)
	}
	n.Add(Notice{At: at(10), Type: "x", Message: "b"})
	n.Add(Notice{At: at(10), Type: "x", Message: "c"})
	got := n.Since(0)
	if len(got) != 2 || got[0].Message != "b" {
		t.Fatalf("bounded notices = %+v", got)
	}
	if got := n.Since(2); len(got) != 1 || got[0].Message != "c" {
		t.Fatalf("Since(2) = %+v", got)
	}

	srv := newTestServer(t, Deps{Notices: n})
	if _, body := do(t, "GET", srv.URL+"/api/notices?after=2", ""); !strings.Contains(body, `"message":"c"`) || strings.Contains(body, `"message":"b"`) {
		t.Fatalf("GET /api/notices = %s", body)
	}
}

func TestServerAuth(t *testing.T) {
	t.Parallel()

	s := NewServer(Config{Addr: "127.0.0.1:0", Token: "s3cret"}, NewHandler(Deps{Board: newTestBoard(t), Log: logx.Nop()}), logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop(context.Background())
	base := "http://" + s.Addr()

	tests := []struct {
		path, auth string
		want       int
	}{
		{"/health", "", http.StatusOK},
		{"/api/frame", "", http.StatusUnauthorized},
		{"/api/frame", "Bearer nope", http.StatusUnauthorized},
		{"/api/frame", "Bearer s3cret", http.StatusOK},
		{"/api/frame?token=s3cret", "", http.StatusOK},
		{"/debug/pprof/", "Bearer s3cret", http.StatusNotFound}, // not mounted
	}
	for _, tt := range tests {
		req, _ := http.NewRequest("GET", base+tt.path, nil)
		if tt.auth != "" {
			req.Header.Set("Authorization", tt.auth)
		}
		var resp *http.Response
		var err error
		for range 50 {
			if resp, err = http.DefaultClient.Do(req); err == nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Fatalf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}

	insecure := NewServer(Config{Addr: "0.0.0.0:0"}, http.NotFoundHandler(), logx.Nop())
	if err := insecure.Start(context.Background()); !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("Start(0.0.0.0) error = %v, want ErrInsecureBind", err)
	}
}

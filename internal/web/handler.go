package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"planboard/internal/board"
	"planboard/internal/export"
	"planboard/internal/gesture"
	"planboard/internal/optimistic"
	"planboard/internal/timescale"
	logx "planboard/pkg/logx"
)

const maxBodyBytes = 64 << 10

// Renderer turns an SVG document into raster or print output.
type Renderer interface {
	PNG(ctx context.Context, svg string, width, height int) ([]byte, error)
	PDF(ctx context.Context, svg string, width, height int) ([]byte, error)
}

// Deps is what the HTTP boundary drives. Board is required; a nil Renderer
// disables PNG/PDF export and a nil Refresh disables POST /api/refresh.
type Deps struct {
	Board    *board.Board
	Notices  *Notices
	Renderer Renderer
	Export   export.Options
	Refresh  func(ctx context.Context) error
	// Status adds fields to GET /health.
	Status func() map[string]any
	Log    logx.Logger
}

type handler struct {
	Deps
	mux *http.ServeMux
}

// NewHandler returns the JSON API over the board.
func NewHandler(d Deps) http.Handler {
	h := &handler{Deps: d, mux: http.NewServeMux()}
	h.routes()
	return h.mux
}

func (h *handler) routes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /api/frame", h.handleFrame)
	h.mux.HandleFunc("POST /api/gesture/begin", h.handleGestureBegin)
	h.mux.HandleFunc("POST /api/gesture/update", h.handleGestureUpdate)
	h.mux.HandleFunc("POST /api/gesture/end", h.handleGestureEnd)
	h.mux.HandleFunc("POST /api/gesture/cancel", h.handleGestureCancel)
	h.mux.HandleFunc("POST /api/empty", h.handleEmpty)
	h.mux.HandleFunc("PUT /api/events/{id}", h.handleReschedule)
	h.mux.HandleFunc("DELETE /api/events/{id}", h.handleDelete)
	h.mux.HandleFunc("POST /api/undo", h.handleUndo)
	h.mux.HandleFunc("POST /api/redo", h.handleRedo)
	h.mux.HandleFunc("GET /api/history", h.handleHistory)
	h.mux.HandleFunc("POST /api/navigate", h.handleNavigate)
	h.mux.HandleFunc("POST /api/refresh", h.handleRefresh)
	h.mux.HandleFunc("GET /api/notices", h.handleNotices)
	h.mux.HandleFunc("GET /api/failures", h.handleFailures)
	h.mux.HandleFunc("GET /api/export.svg", h.handleExportSVG)
	h.mux.HandleFunc("GET /api/export.csv", h.handleExportCSV)
	h.mux.HandleFunc("GET /api/export.png", h.handleExportRaster("png"))
	h.mux.HandleFunc("GET /api/export.pdf", h.handleExportRaster("pdf"))
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{"status": "ok"}
	if h.Status != nil {
		for k, v := range h.Status() {
			out[k] = v
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) handleFrame(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Board.Frame())
}

type gestureRequest struct {
	Kind    string  `json:"kind,omitempty"`
	EventID string  `json:"event_id"`
	X       float64 `json:"x"`
	Lane    *int    `json:"lane,omitempty"`
}

func (h *handler) handleGestureBegin(w http.ResponseWriter, r *http.Request) {
	var req gestureRequest
	if !h.decode(w, r, &req) {
		return
	}
	kind, err := gesture.ParseKind(req.Kind)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.Board.BeginGesture(kind, req.EventID, req.X); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleGestureUpdate(w http.ResponseWriter, r *http.Request) {
	var req gestureRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Lane != nil {
		if err := h.Board.DragToLane(req.EventID, *req.Lane); err != nil {
			h.fail(w, err)
			return
		}
	}
	pos, err := h.Board.DragTo(req.EventID, req.X)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (h *handler) handleGestureEnd(w http.ResponseWriter, r *http.Request) {
	var req gestureRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Lane != nil {
		if err := h.Board.DragToLane(req.EventID, *req.Lane); err != nil {
			h.fail(w, err)
			return
		}
	}
	res, err := h.Board.EndGesture(r.Context(), req.EventID, req.X)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) handleGestureCancel(w http.ResponseWriter, r *http.Request) {
	var req gestureRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Board.CancelGesture(req.EventID); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type emptyRequest struct {
	Lane  int     `json:"lane"`
	X     float64 `json:"x"`
	Title string  `json:"title,omitempty"`
}

func (h *handler) handleEmpty(w http.ResponseWriter, r *http.Request) {
	var req emptyRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.Board.ActivateEmptySpace(r.Context(), req.Lane, req.X, req.Title)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"event_id": id})
}

type rescheduleRequest struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	ResourceID string    `json:"resource_id,omitempty"`
}

func (h *handler) handleReschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Board.Reschedule(r.Context(), r.PathValue("id"), req.Start, req.End, req.ResourceID); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.Board.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type historyResponse struct {
	OK     bool   `json:"ok"`
	Action any    `json:"action,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (h *handler) handleUndo(w http.ResponseWriter, r *http.Request) {
	a, ok, err := h.Board.Undo(r.Context())
	h.writeReplay(w, a, ok, err)
}

func (h *handler) handleRedo(w http.ResponseWriter, r *http.Request) {
	a, ok, err := h.Board.Redo(r.Context())
	h.writeReplay(w, a, ok, err)
}

// writeReplay reports an empty stack as ok=false with 200: nothing to undo is
// not an error.
func (h *handler) writeReplay(w http.ResponseWriter, a any, ok bool, err error) {
	if !ok {
		writeJSON(w, http.StatusOK, historyResponse{})
		return
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{OK: true, Action: a})
}

func (h *handler) handleHistory(w http.ResponseWriter, _ *http.Request) {
	actions, cursor := h.Board.History().Actions()
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions, "cursor": cursor})
}

type navigateRequest struct {
	Direction string  `json:"direction,omitempty"`
	Preset    string  `json:"preset,omitempty"`
	Width     float64 `json:"width,omitempty"`
}

func (h *handler) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Preset != "" {
		p, err := timescale.ParsePreset(req.Preset)
		if err == nil {
			_, err = h.Board.SetPreset(p)
		}
		if err != nil {
			h.fail(w, err)
			return
		}
	}
	if req.Width != 0 {
		if _, err := h.Board.SetWidth(req.Width); err != nil {
			h.fail(w, err)
			return
		}
	}
	if req.Direction != "" {
		dir, err := timescale.ParseDirection(req.Direction)
		if err != nil {
			h.fail(w, err)
			return
		}
		h.Board.Navigate(dir)
	}
	cfg := h.Board.Scale().Config()
	writeJSON(w, http.StatusOK, cfg)
}

func (h *handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if h.Refresh == nil {
		writeError(w, http.StatusNotImplemented, "refresh not configured")
		return
	}
	if err := h.Refresh(r.Context()); err != nil {
		h.Log.Warn("manual refresh failed", logx.Err(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleNotices(w http.ResponseWriter, r *http.Request) {
	if h.Notices == nil {
		writeJSON(w, http.StatusOK, []Notice{})
		return
	}
	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be a sequence number")
			return
		}
		after = n
	}
	writeJSON(w, http.StatusOK, h.Notices.Since(after))
}

func (h *handler) handleFailures(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Board.Coordinator().Failures())
}

func (h *handler) svg() (string, board.Frame) {
	f := h.Board.Frame()
	return export.SVG(f, h.Board.Scale(), h.Export), f
}

func (h *handler) handleExportSVG(w http.ResponseWriter, _ *http.Request) {
	doc, _ := h.svg()
	w.Header().Set("Content-Type", "image/svg+xml")
	_, _ = io.WriteString(w, doc)
}

func (h *handler) handleExportCSV(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	if err := export.CSV(&buf, h.Board.Snapshot()); err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="planboard.csv"`)
	_, _ = w.Write(buf.Bytes())
}

func (h *handler) handleExportRaster(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Renderer == nil {
			writeError(w, http.StatusNotImplemented, format+" export not configured")
			return
		}
		doc, f := h.svg()
		width, height := export.PixelSize(export.Size(f, h.Export))
		var (
			out  []byte
			err  error
			mime string
		)
		if format == "pdf" {
			out, err = h.Renderer.PDF(r.Context(), doc, width, height)
			mime = "application/pdf"
		} else {
			out, err = h.Renderer.PNG(r.Context(), doc, width, height)
			mime = "image/png"
		}
		if err != nil {
			h.Log.Error("export render failed", logx.String("format", format), logx.Err(err))
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		w.Header().Set("Content-Type", mime)
		_, _ = w.Write(out)
	}
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= 500 {
		h.Log.Error("request failed", logx.Err(err))
	}
	writeError(w, status, err.Error())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, board.ErrUnknownEvent), errors.Is(err, gesture.ErrUnknownEvent),
		errors.Is(err, optimistic.ErrUnknownItem), errors.Is(err, board.ErrNoGesture):
		return http.StatusNotFound
	case errors.Is(err, gesture.ErrGestureBusy), errors.Is(err, gesture.ErrSessionEnded):
		return http.StatusConflict
	case errors.Is(err, board.ErrUnknownLane), errors.Is(err, board.ErrInvalidRange),
		errors.Is(err, gesture.ErrUnknownKind), errors.Is(err, timescale.ErrUnknownPreset),
		errors.Is(err, timescale.ErrUnknownDirection), errors.Is(err, timescale.ErrInvalidWidth):
		return http.StatusBadRequest
	case errors.Is(err, optimistic.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

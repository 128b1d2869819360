package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"planboard/internal/model"
	"planboard/internal/task/engine"
	logx "planboard/pkg/logx"

	"golang.org/x/time/rate"
)

type HTTPConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

// HTTPClient is a JSON client for a REST resource at <BaseURL>/records.
type HTTPClient struct {
	base    *url.URL
	token   string
	hc      *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func NewHTTPClient(cfg HTTPConfig, log logx.Logger) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote.base_url invalid: %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), max(cfg.Burst, 1))
	}
	return &HTTPClient{
		base:    u,
		token:   cfg.Token,
		hc:      &http.Client{Timeout: cfg.Timeout},
		limiter: lim,
		log:     log.Component("remote"),
	}, nil
}

func (c *HTTPClient) List(ctx context.Context) ([]model.Record, error) {
	var out []model.Record
	if err := c.do(ctx, "list", http.MethodGet, "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) Patch(ctx context.Context, id string, p Patch) error {
	return c.do(ctx, "patch", http.MethodPatch, id, p, nil)
}

func (c *HTTPClient) Create(ctx context.Context, rec model.Record) (string, error) {
	rec.ID = ""
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "create", http.MethodPost, "", rec, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", engine.NoRetry(errors.New("remote create: response without id"))
	}
	return out.ID, nil
}

// Delete treats 404 as success: the item is gone either way.
func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	err := c.do(ctx, "delete", http.MethodDelete, id, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (c *HTTPClient) endpoint(id string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/records"
	u.RawPath = ""
	if id != "" {
		u.RawPath = u.EscapedPath() + "/" + url.PathEscape(id)
		u.Path += "/" + id
	}
	return u.String()
}

func (c *HTTPClient) do(ctx context.Context, op, method, id string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return engine.NoRetry(fmt.Errorf("remote %s: encode: %w", op, err))
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(id), body)
	if err != nil {
		return engine.NoRetry(err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("remote %s: %w", op, err)
	}
	defer resp.Body.Close()
	c.log.Debug("remote call", logx.String("op", op), logx.String("id", id), logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(start)))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("remote %s: decode: %w", op, err)
		}
		return nil
	}
	return classify(op, resp)
}

// classify maps a failed response onto the engine's retry vocabulary.
func classify(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	se := &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return engine.NoRetry(fmt.Errorf("%w: %w", ErrNotFound, se))
	case resp.StatusCode == http.StatusTooManyRequests:
		return engine.RetryAfter(se, retryAfter(resp.Header.Get("Retry-After"), time.Now()))
	case resp.StatusCode == http.StatusRequestTimeout:
		return se
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return engine.NoRetry(se)
	default:
		return se
	}
}

// retryAfter parses delta-seconds or an HTTP date; unknown means 1s.
func retryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0)
	}
	return time.Second
}

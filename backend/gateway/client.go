// Package gateway is the only code that talks to the detection backend.
// Every operation is exactly one HTTP call with no retries.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ids-dashboard/backend/models"
	"ids-dashboard/backend/system"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Largest response body read from the backend.
const maxBodyBytes = 32 << 20

// Client calls the detection backend's HTTP API.
type Client struct {
	baseURL    *url.URL
	adminToken string
	http       *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAdminToken sends token in X-Admin-Token on every request.
func WithAdminToken(token string) Option {
	return func(c *Client) { c.adminToken = token }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds each call. Zero leaves calls unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New returns a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", baseURL)
	}
	c := &Client{baseURL: u, http: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func limitQuery(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": {strconv.Itoa(limit)}}
}

// do performs one request and returns the raw 2xx body.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Op: op, Message: "encode request: " + err.Error(), Err: err}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return nil, &Error{Op: op, Message: err.Error(), Err: err}
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.adminToken != "" {
		req.Header.Set("X-Admin-Token", c.adminToken)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		system.Logger().Debug("backend request failed",
			zap.String("op", op), zap.String("request_id", reqID), zap.Error(err))
		return nil, &Error{Op: op, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	system.Logger().Debug("backend request",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
		zap.String("request_id", reqID))
	if err != nil {
		return nil, &Error{Op: op, Message: "read response: " + err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Op: op, Message: errorMessage(resp.StatusCode, data), HTTPStatus: resp.StatusCode}
	}
	return data, nil
}

func decode(op string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &Error{Op: op, Message: "decode response: " + err.Error(), Err: err}
	}
	return nil
}

// decodeList decodes a JSON array item by item. Items that fail to decode
// or validate are dropped and counted.
func decodeList[W any, M any](op string, data []byte, convert func(W) (M, error)) ([]M, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Op: op, Message: "expected a JSON array: " + err.Error(), Err: err}
	}
	out := make([]M, 0, len(raw))
	dropped := 0
	var firstErr error
	for _, item := range raw {
		var w W
		if err := json.Unmarshal(item, &w); err != nil {
			dropped++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		m, err := convert(w)
		if err != nil {
			dropped++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, m)
	}
	if dropped > 0 {
		system.Logger().Warn("dropped malformed records",
			zap.String("op", op), zap.Int("dropped", dropped), zap.Int("kept", len(out)), zap.Error(firstErr))
	}
	return out, nil
}

func (c *Client) FetchAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	const op = "fetch alerts"
	data, err := c.do(ctx, op, http.MethodGet, "/alerts/recent", limitQuery(limit), nil)
	if err != nil {
		return nil, err
	}
	return decodeList(op, data, wireAlert.toModel)
}

func (c *Client) FetchActiveBlocks(ctx context.Context, limit int) ([]models.BlockRecord, error) {
	const op = "fetch active blocks"
	data, err := c.do(ctx, op, http.MethodGet, "/blocked", limitQuery(limit), nil)
	if err != nil {
		return nil, err
	}
	return decodeList(op, data, wireBlock.toModel)
}

func (c *Client) FetchBlockHistory(ctx context.Context, limit int) ([]models.BlockRecord, error) {
	const op = "fetch block history"
	data, err := c.do(ctx, op, http.MethodGet, "/blocked/history", limitQuery(limit), nil)
	if err != nil {
		return nil, err
	}
	return decodeList(op, data, wireBlock.toModel)
}

func (c *Client) FetchConfig(ctx context.Context) (models.ConfigDoc, error) {
	const op = "fetch config"
	data, err := c.do(ctx, op, http.MethodGet, "/admin/config", nil, nil)
	if err != nil {
		return models.ConfigDoc{}, err
	}
	var w wireConfig
	if err := decode(op, data, &w); err != nil {
		return models.ConfigDoc{}, err
	}
	doc, err := w.toModel()
	if err != nil {
		return models.ConfigDoc{}, &Error{Op: op, Message: "invalid config: " + err.Error(), Err: err}
	}
	return doc, nil
}

// SaveConfig sends a partial update and returns the backend's resulting document.
func (c *Client) SaveConfig(ctx context.Context, update models.ConfigUpdate) (models.ConfigDoc, error) {
	const op = "save config"
	data, err := c.do(ctx, op, http.MethodPost, "/admin/config", nil, update)
	if err != nil {
		return models.ConfigDoc{}, err
	}
	var resp saveConfigResponse
	if err := decode(op, data, &resp); err != nil {
		return models.ConfigDoc{}, err
	}
	if !resp.OK {
		return models.ConfigDoc{}, &Error{Op: op, Message: "backend did not acknowledge the update"}
	}
	doc, err := resp.Config.toModel()
	if err != nil {
		return models.ConfigDoc{}, &Error{Op: op, Message: "invalid config: " + err.Error(), Err: err}
	}
	return doc, nil
}

func (c *Client) expectOK(ctx context.Context, op, method, path string, body any) error {
	data, err := c.do(ctx, op, method, path, nil, body)
	if err != nil {
		return err
	}
	var resp okResponse
	if err := decode(op, data, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return &Error{Op: op, Message: "backend did not acknowledge the request"}
	}
	return nil
}

func (c *Client) BlockIP(ctx context.Context, req models.BlockRequest) error {
	return c.expectOK(ctx, "block ip", http.MethodPost, "/admin/block", req)
}

func (c *Client) UnblockIP(ctx context.Context, ip string) error {
	return c.expectOK(ctx, "unblock ip", http.MethodDelete, "/admin/block/"+ip, nil)
}

func (c *Client) FetchWhitelist(ctx context.Context, limit int) ([]models.WhitelistEntry, error) {
	const op = "fetch whitelist"
	data, err := c.do(ctx, op, http.MethodGet, "/whitelist", limitQuery(limit), nil)
	if err != nil {
		return nil, err
	}
	return decodeList(op, data, wireWhitelist.toModel)
}

func (c *Client) AddWhitelist(ctx context.Context, ip, note string) error {
	body := struct {
		IP   string `json:"ip"`
		Note string `json:"note,omitempty"`
	}{ip, note}
	return c.expectOK(ctx, "add whitelist", http.MethodPost, "/whitelist/add", body)
}

func (c *Client) RemoveWhitelist(ctx context.Context, ip string) error {
	return c.expectOK(ctx, "remove whitelist", http.MethodDelete, "/whitelist/"+ip, nil)
}

// PreviewDetection submits a feature vector for classification.
func (c *Client) PreviewDetection(ctx context.Context, fv models.FeatureVector) (models.DetectPreview, error) {
	const op = "preview detection"
	data, err := c.do(ctx, op, http.MethodPost, "/detect", nil, fv)
	if err != nil {
		return models.DetectPreview{}, err
	}
	var w wirePreview
	if err := decode(op, data, &w); err != nil {
		return models.DetectPreview{}, err
	}
	p, err := w.toModel()
	if err != nil {
		return models.DetectPreview{}, &Error{Op: op, Message: "invalid preview: " + err.Error(), Err: err}
	}
	return p, nil
}

func (c *Client) FetchStatus(ctx context.Context) (models.SystemStatus, error) {
	const op = "fetch status"
	data, err := c.do(ctx, op, http.MethodGet, "/status", nil, nil)
	if err != nil {
		return models.SystemStatus{}, err
	}
	var w wireStatus
	if err := decode(op, data, &w); err != nil {
		return models.SystemStatus{}, err
	}
	st, err := w.toModel()
	if err != nil {
		return models.SystemStatus{}, &Error{Op: op, Message: "invalid status: " + err.Error(), Err: err}
	}
	return st, nil
}

func (c *Client) FetchTrainingStats(ctx context.Context) (models.TrainingStats, error) {
	const op = "fetch training stats"
	data, err := c.do(ctx, op, http.MethodGet, "/production_data/stats", nil, nil)
	if err != nil {
		return models.TrainingStats{}, err
	}
	var st models.TrainingStats
	if err := decode(op, data, &st); err != nil {
		return models.TrainingStats{}, err
	}
	return st, nil
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrAPIUnavailable reports that no daemon answered on the configured bind.
var ErrAPIUnavailable = errors.New("reelvault API unavailable")

// Error is a non-2xx answer from the daemon.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Message)
}

// Client talks to a running daemon over HTTP.
type Client struct {
	base *url.URL
	http *http.Client
}

// UploadRequest describes a raw-body upload.
type UploadRequest struct {
	Name        string
	SetName     string
	ContentType string
	Size        int64
	Body        io.Reader
}

// NewClient builds a client for bind, which may be host:port or a URL.
func NewClient(bind string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, errors.New("api bind is required")
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	if host, port, splitErr := net.SplitHostPort(base.Host); splitErr == nil && (host == "" || host == "0.0.0.0" || host == "::") {
		base.Host = net.JoinHostPort("127.0.0.1", port)
	}

	return &Client{
		base: base,
		// Uploads can take arbitrarily long; callers bound requests with ctx.
		http: &http.Client{},
	}, nil
}

// BaseURL returns the daemon root URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Health reports whether the daemon answers its liveness probe.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

// Status fetches daemon status.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out)
	return out, err
}

// ListFiles returns every file, optionally filtered by set name.
func (c *Client) ListFiles(ctx context.Context, setName string) ([]FileView, error) {
	values := url.Values{}
	if strings.TrimSpace(setName) != "" {
		values.Set("set", setName)
	}
	var out FileListResponse
	if err := c.do(ctx, http.MethodGet, "/api/files", values, nil, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// GetFile returns one file view.
func (c *Client) GetFile(ctx context.Context, id string) (FileView, error) {
	var out FileView
	err := c.do(ctx, http.MethodGet, "/api/files/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

// JobStatus returns the transcode status of one file.
func (c *Client) JobStatus(ctx context.Context, id string) (JobStatus, error) {
	var out JobStatus
	err := c.do(ctx, http.MethodGet, "/api/files/"+url.PathEscape(id)+"/status", nil, nil, &out)
	return out, err
}

// Upload streams req.Body as a raw upload.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (UploadResponse, error) {
	values := url.Values{}
	values.Set("name", req.Name)
	if strings.TrimSpace(req.SetName) != "" {
		values.Set("set", req.SetName)
	}
	endpoint := c.endpoint("/api/files", values)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, req.Body)
	if err != nil {
		return UploadResponse{}, err
	}
	if req.Size > 0 {
		httpReq.ContentLength = req.Size
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	var out UploadResponse
	err = c.send(httpReq, &out)
	return out, err
}

// Delete removes a file with scope all, original, or derived.
func (c *Client) Delete(ctx context.Context, id, scope string) error {
	values := url.Values{}
	if strings.TrimSpace(scope) != "" {
		values.Set("scope", scope)
	}
	return c.do(ctx, http.MethodDelete, "/api/files/"+url.PathEscape(id), values, nil, nil)
}

// Trigger requests a transcode of one file.
func (c *Client) Trigger(ctx context.Context, id string) (TriggerResponse, error) {
	var out TriggerResponse
	err := c.do(ctx, http.MethodPost, "/api/files/"+url.PathEscape(id)+"/transcode", nil, nil, &out)
	return out, err
}

// Associate tags ids with setName.
func (c *Client) Associate(ctx context.Context, ids []string, setName string) (int, error) {
	var out AssociateResponse
	err := c.do(ctx, http.MethodPost, "/api/associate", nil, AssociateRequest{IDs: ids, SetName: setName}, &out)
	return out.Updated, err
}

// Purge removes every file, or every file in setName.
func (c *Client) Purge(ctx context.Context, setName string) (int, error) {
	var out PurgeResponse
	err := c.do(ctx, http.MethodPost, "/api/purge", nil, PurgeRequest{SetName: setName}, &out)
	return out.Removed, err
}

// Jobs lists queued jobs followed by active ones.
func (c *Client) Jobs(ctx context.Context) ([]QueueEntry, error) {
	var out QueueResponse
	if err := c.do(ctx, http.MethodGet, "/api/jobs", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// History returns journaled attempts, for one file when fileID is set.
func (c *Client) History(ctx context.Context, fileID string, limit int) ([]HistoryEntry, error) {
	values := url.Values{}
	if strings.TrimSpace(fileID) != "" {
		values.Set("file", fileID)
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	var out HistoryResponse
	if err := c.do(ctx, http.MethodGet, "/api/history", values, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *Client) endpoint(path string, values url.Values) string {
	ref := &url.URL{Path: path}
	if len(values) > 0 {
		ref.RawQuery = values.Encode()
	}
	return c.base.ResolveReference(ref).String()
}

func (c *Client) do(ctx context.Context, method, path string, values url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, values), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var payload ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &payload) != nil || payload.Error == "" {
			payload.Error = strings.TrimSpace(string(data))
		}
		return &Error{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsAPIUnavailable reports whether err means nothing is listening.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}

// StatusCode extracts the HTTP status from an API error, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

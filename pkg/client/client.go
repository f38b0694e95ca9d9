// Package client is a Go client for the boxdir HTTP API.
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
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/fruitsalade/boxdir/pkg/protocol"
)

// Client talks to one boxdir server. Reads are retried on connection
// errors and 5xx responses; mutations are sent exactly once.
type Client struct {
	baseURL string
	timeout time.Duration
	retry   *retryablehttp.Client
	http    *http.Client
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	// Timeout bounds the wait for response headers, and the whole of the
	// small JSON calls. Downloads and uploads run for as long as data
	// keeps moving; bound them with the context instead.
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryWaitMin == 0 {
		cfg.RetryWaitMin = 500 * time.Millisecond
	}
	if cfg.RetryWaitMax == 0 {
		cfg.RetryWaitMax = 10 * time.Second
	}

	transport := cleanhttp.DefaultPooledTransport()
	transport.ResponseHeaderTimeout = cfg.Timeout

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: transport}
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		retry:   rc,
		http:    rc.HTTPClient,
	}
}

// bounded applies the client timeout to a call whose response is small.
func (c *Client) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

// IsConflict reports whether err is a 409 from the server.
func IsConflict(err error) bool { return hasStatus(err, http.StatusConflict) }

func hasStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

func (c *Client) endpoint(p string, params url.Values) string {
	if len(params) == 0 {
		return c.baseURL + p
	}
	return c.baseURL + p + "?" + params.Encode()
}

// get issues a retried GET. The caller closes the body of a successful
// response.
func (c *Client) get(ctx context.Context, p string, params url.Values, header http.Header) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(p, params), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := c.retry.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, readError(resp)
	}
	return resp, nil
}

// post issues a single request with the plain client.
func (c *Client) post(ctx context.Context, p string, params url.Values, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(p, params), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return readError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, p string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.post(ctx, p, nil, "application/json", bytes.NewReader(data), out)
}

func readError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body protocol.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}

// Health returns the server's health report.
func (c *Client) Health(ctx context.Context) (*protocol.HealthResponse, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	resp, err := c.get(ctx, "/health", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var h protocol.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &h, nil
}

// Browse lists the directory at path. The server lists the root instead
// when path cannot be used; compare the returned Path to detect that.
func (c *Client) Browse(ctx context.Context, path string) (*protocol.BrowseResponse, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	resp, err := c.get(ctx, "/api/v1/browse", url.Values{"path": {path}}, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var b protocol.BrowseResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	return &b, nil
}

// Download copies the file at path into w and returns the byte count.
func (c *Client) Download(ctx context.Context, path string, w io.Writer) (int64, error) {
	return c.download(ctx, path, nil, w)
}

// DownloadRange copies length bytes starting at offset into w. A
// non-positive length reads to the end of the file.
func (c *Client) DownloadRange(ctx context.Context, path string, offset, length int64, w io.Writer) (int64, error) {
	spec := fmt.Sprintf("bytes=%d-", offset)
	if length > 0 {
		spec = fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	}
	return c.download(ctx, path, http.Header{"Range": {spec}}, w)
}

func (c *Client) download(ctx context.Context, path string, header http.Header, w io.Writer) (int64, error) {
	resp, err := c.get(ctx, "/api/v1/download", url.Values{"path": {path}}, header)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("read content: %w", err)
	}
	return n, nil
}

// Upload streams body as a new file called name in dir. An existing entry
// of that name is reported as a conflict.
func (c *Client) Upload(ctx context.Context, dir, name string, body io.Reader) (*protocol.FileEntry, error) {
	var fe protocol.FileEntry
	params := url.Values{"path": {dir}, "name": {name}}
	if err := c.post(ctx, "/api/v1/upload", params, "application/octet-stream", body, &fe); err != nil {
		return nil, err
	}
	return &fe, nil
}

// CreateFolder makes a directory in dir. An empty name lets the server
// choose its default.
func (c *Client) CreateFolder(ctx context.Context, dir, name string) (*protocol.MutationResponse, error) {
	var mr protocol.MutationResponse
	err := c.postJSON(ctx, "/api/v1/folders", protocol.CreateFolderRequest{Path: dir, Name: name}, &mr)
	if err != nil {
		return nil, err
	}
	return &mr, nil
}

// Rename renames oldName to newName inside dir.
func (c *Client) Rename(ctx context.Context, dir, oldName, newName string) (*protocol.MutationResponse, error) {
	var mr protocol.MutationResponse
	err := c.postJSON(ctx, "/api/v1/rename", protocol.RenameRequest{Path: dir, OldName: oldName, NewName: newName}, &mr)
	if err != nil {
		return nil, err
	}
	return &mr, nil
}

// Delete removes name from dir. kind is "file" or "directory" and must
// match the entry.
func (c *Client) Delete(ctx context.Context, dir, name, kind string) (*protocol.MutationResponse, error) {
	var mr protocol.MutationResponse
	err := c.postJSON(ctx, "/api/v1/delete", protocol.DeleteRequest{Path: dir, Name: name, Type: kind}, &mr)
	if err != nil {
		return nil, err
	}
	return &mr, nil
}

// Audit returns up to limit of the newest audit entries. The server only
// serves them when the audit trail is kept in a database.
func (c *Client) Audit(ctx context.Context, limit int) (*protocol.AuditResponse, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	var params url.Values
	if limit > 0 {
		params = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	resp, err := c.get(ctx, "/api/v1/audit", params, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var a protocol.AuditResponse
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode audit log: %w", err)
	}
	return &a, nil
}

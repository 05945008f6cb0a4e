// Package transport is the HTTP Envelope: a single-request helper that
// maps gateway status codes to the stable error taxonomy (spec §7) and
// retries transient failures with backoff, leaving stable 4xx responses
// to propagate immediately.
//
// Grounded on the teacher's common/proto.go doReq→RemoteError shape
// (build request, make the call, translate failure into one typed
// error) and tools/updater/main.go's direct net/http usage for the one
// real HTTP call the teacher itself makes.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gaia-protocol/gaia-go/apierr"
)

// Client issues single gateway requests and maps their outcome into the
// apierr taxonomy.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	log        *slog.Logger
	maxRetries uint64
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }
func WithLogger(l *slog.Logger) Option      { return func(c *Client) { c.log = l } }
func WithMaxRetries(n uint64) Option        { return func(c *Client) { c.maxRetries = n } }

// New builds a Client rooted at baseURL (scheme://host:port).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse base url: %w", err)
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    u,
		log:        slog.Default(),
		maxRetries: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Request is one gateway call.
type Request struct {
	Method  string
	Path    string // joined against the client's base URL
	Query   url.Values
	Body    []byte // nil for bodyless requests
	Headers map[string]string
	Bearer  string // session token, if any
}

// Response is a successful (2xx) gateway response, or a 304 Not
// Modified answer to a conditional GET.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Do executes req, retrying transient (5xx, network) failures with
// bounded backoff, and maps any terminal failure into an *apierr.Error.
// Stable 4xx responses are never retried.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	operation := func() error {
		r, err := c.doOnce(ctx, req)
		if err != nil {
			var apiErr *apierr.Error
			if errors.As(err, &apiErr) && apiErr.Kind == apierr.RemoteIO {
				return err // retryable
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries)
	policy2 := backoff.WithContext(policy, ctx)
	if err := backoff.Retry(operation, policy2); err != nil {
		return nil, unwrapPermanent(err)
	}
	return resp, nil
}

func unwrapPermanent(err error) error {
	var perr *backoff.PermanentError
	if errors.As(err, &perr) {
		return perr.Err
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, req Request) (*Response, error) {
	u := *c.baseURL
	u.Path = joinPath(u.Path, req.Path)
	if req.Query != nil {
		u.RawQuery = req.Query.Encode()
	}

	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), bodyReader)
	if err != nil {
		return nil, apierr.Wrap(apierr.Invalid, err, "build request")
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Bearer != "" {
		httpReq.Header.Set("Authorization", "bearer "+req.Bearer)
	}

	c.log.Debug("gateway request", slog.String("method", req.Method), slog.String("path", req.Path))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apierr.Wrap(apierr.RemoteIO, err, "transport failure")
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, apierr.Wrap(apierr.RemoteIO, err, "read response body")
	}

	if (httpResp.StatusCode >= 200 && httpResp.StatusCode < 300) || httpResp.StatusCode == http.StatusNotModified {
		return &Response{StatusCode: httpResp.StatusCode, Body: body, Header: httpResp.Header}, nil
	}

	return nil, mapStatusToError(httpResp.StatusCode, body)
}

// mapStatusToError implements the status -> error mapping in spec §6:
// 400->Perm, 401->Invalid, 403->Access, 404->NotFound, >=500->RemoteIO.
func mapStatusToError(status int, body []byte) error {
	msg := extractMessage(body)
	switch {
	case status == http.StatusBadRequest:
		return apierr.New(apierr.Perm, msg)
	case status == http.StatusUnauthorized:
		return apierr.New(apierr.Invalid, msg)
	case status == http.StatusForbidden:
		return apierr.New(apierr.Access, msg)
	case status == http.StatusNotFound:
		return apierr.New(apierr.NotFound, msg)
	case status >= 500:
		return apierr.Newf(apierr.RemoteIO, "gateway returned %d: %s", status, msg)
	default:
		return apierr.Newf(apierr.Invalid, "unexpected status %d: %s", status, msg)
	}
}

func extractMessage(body []byte) string {
	var env struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Error != "" {
			return env.Error
		}
		if env.Message != "" {
			return env.Message
		}
	}
	if len(body) > 200 {
		return string(body[:200])
	}
	return string(body)
}

func joinPath(base, rel string) string {
	if base == "" {
		return rel
	}
	if len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	if len(rel) > 0 && rel[0] != '/' {
		rel = "/" + rel
	}
	return base + rel
}

package apiclient

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

	"github.com/angelmondragon/notekeep-notifications/internal/namespace"
	"github.com/angelmondragon/notekeep-notifications/internal/notifications"
	"github.com/angelmondragon/notekeep-notifications/pkg/credential"
	pkgerrors "github.com/angelmondragon/notekeep-notifications/pkg/errors"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 4 << 10
	maxBody        = 4 << 20
)

// Client talks to the notification REST endpoints of one namespace.
type Client struct {
	ns         namespace.Context
	tokens     credential.TokenSource
	httpClient *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// New builds a client scoped to ns. tokens is consulted on every request.
func New(ns namespace.Context, tokens credential.TokenSource, opts ...Option) (*Client, error) {
	if ns.BaseURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "namespace base url required")
	}
	if tokens == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "token source required")
	}
	c := &Client{
		ns:         ns,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListNotifications fetches one page, newest first.
func (c *Client) ListNotifications(ctx context.Context, limit, offset int) ([]notifications.Notification, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	path := "notifications"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	items, err := decodeList(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProtocol, err, "decode notification list")
	}
	return items, nil
}

// UnreadCount fetches the server's unread counter.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	body, err := c.do(ctx, http.MethodGet, "notifications/unread-count", nil)
	if err != nil {
		return 0, err
	}
	count, err := decodeCount(body)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeProtocol, err, "decode unread count")
	}
	return count, nil
}

// MarkRead marks a single notification as read.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}
	_, err := c.do(ctx, http.MethodPatch, "notifications/"+url.PathEscape(id)+"/read", nil)
	return err
}

// MarkAllRead marks every notification of the caller as read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPatch, "notifications/read-all", nil)
	return err
}

// GetRaw fetches an arbitrary namespace-relative resource and returns the
// unwrapped payload.
func (c *Client) GetRaw(ctx context.Context, path string) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return unwrapData(body), nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, credential.ErrNoToken) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "no bearer token available")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load bearer token")
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.ns.Endpoint(path), reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s %s", method, path))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read response body")
	}
	if len(body) > maxBody {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("%s %s: response body exceeds %d bytes", method, path, maxBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, pkgerrors.FromStatus(resp.StatusCode, upstreamMessage(method, path, resp.StatusCode, body))
	}
	return body, nil
}

// Package remote talks to a block server: an HTTP client that persists
// local changes and fetches whole roots or recent changes, and a push
// client that follows a websocket change feed and hands deltas to a
// replica.
package remote

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
	"strconv"
	"time"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/wire"
)

// UserHeader carries the id of the acting user. It matches the reference
// server.
const UserHeader = "X-User-ID"

// ErrRejected is returned when the server answers a request with a
// non-success status.
var ErrRejected = errors.New("request rejected by server")

// Client is the HTTP side of a block server for one workspace. It
// implements undo.Persistence and replica.Fetcher.
//
// Thread-safety: Client is safe for concurrent use.
type Client struct {
	base      *url.URL
	workspace string
	codec     *wire.Codec
	http      *http.Client
	user      string
	logger    *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client. Default: a client with a 30s timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithClientUser sends userID with every write.
func WithClientUser(userID string) ClientOption {
	return func(c *Client) {
		c.user = userID
	}
}

// WithClientLogger sets the logger. Default: slog.Default().
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client for workspace on the server at baseURL.
func NewClient(baseURL, workspace string, codec *wire.Codec, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base:      u,
		workspace: workspace,
		codec:     codec,
		http:      &http.Client{Timeout: 30 * time.Second},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) blocksURL() *url.URL {
	return c.base.JoinPath("api/v1/workspaces", c.workspace, "blocks")
}

// Create persists a new block.
func (c *Client) Create(ctx context.Context, b block.Block) error {
	return c.post(ctx, b)
}

// Update persists a new version of a block.
func (c *Client) Update(ctx context.Context, b block.Block) error {
	return c.post(ctx, b)
}

// Delete removes a block remotely.
func (c *Client) Delete(ctx context.Context, b block.Block) error {
	u := c.blocksURL().JoinPath(b.ID)
	_, err := c.do(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("delete block %s: %w", b.ID, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, b block.Block) error {
	body, err := c.codec.EncodeBatch([]block.Block{b})
	if err != nil {
		return err
	}
	if _, err := c.do(ctx, http.MethodPost, c.blocksURL(), body); err != nil {
		return fmt.Errorf("post block %s: %w", b.ID, err)
	}
	return nil
}

// FetchBlocks returns every stored block under rootIDs. The empty root id
// selects root-level blocks.
func (c *Client) FetchBlocks(ctx context.Context, rootIDs []string) ([]block.Block, error) {
	if len(rootIDs) == 0 {
		return nil, nil
	}
	u := c.blocksURL()
	q := u.Query()
	for _, id := range rootIDs {
		q.Add("root_id", id)
	}
	u.RawQuery = q.Encode()

	data, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch blocks: %w", err)
	}
	blocks, err := c.codec.DecodeBatch(data)
	if err != nil {
		return nil, fmt.Errorf("fetch blocks: %w", err)
	}
	c.logger.Debug("blocks fetched", "roots", len(rootIDs), "count", len(blocks))
	return blocks, nil
}

// FetchModifiedSince returns every block of the workspace written after
// version since, oldest first.
func (c *Client) FetchModifiedSince(ctx context.Context, since int64) ([]block.Block, error) {
	u := c.blocksURL()
	q := u.Query()
	q.Set("since", strconv.FormatInt(since, 10))
	u.RawQuery = q.Encode()

	data, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch changes: %w", err)
	}
	blocks, err := c.codec.DecodeBatch(data)
	if err != nil {
		return nil, fmt.Errorf("fetch changes: %w", err)
	}
	c.logger.Debug("changes fetched", "since", since, "count", len(blocks))
	return blocks, nil
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.Header.Set(UserHeader, c.user)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			return nil, fmt.Errorf("%w: %d: %s", ErrRejected, resp.StatusCode, eb.Error)
		}
		return nil, fmt.Errorf("%w: %d", ErrRejected, resp.StatusCode)
	}
	return data, nil
}

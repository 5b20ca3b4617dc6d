// Package client talks to the civic patrol API on behalf of the sync engine:
// Client is its Remote and Stream its Subscriber.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwise1/civic_patrol/internal/livesync"
	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/bwise1/civic_patrol/util/values"
	"github.com/google/go-querystring/query"
	"github.com/lucsky/cuid"
	"github.com/pkg/errors"
)

const (
	defaultTimeout = 10 * time.Second
	requestSource  = "livesync"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) Insert(ctx context.Context, collection model.Collection, record any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, c.collectionURL(collection, ""), record)
}

func (c *Client) Update(ctx context.Context, collection model.Collection, id string, patch model.Patch, cond *model.Condition) (json.RawMessage, error) {
	fields := make(map[string]json.RawMessage, len(patch))
	for f, v := range patch {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrapf(livesync.ErrRemoteRejected, "encode %s: %v", f, err)
		}
		fields[f] = raw
	}
	body := model.UpdateRequest{Patch: fields, Condition: cond}
	return c.do(ctx, http.MethodPatch, c.collectionURL(collection, id), body)
}

func (c *Client) Delete(ctx context.Context, collection model.Collection, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodDelete, c.collectionURL(collection, id), nil)
}

func (c *Client) Get(ctx context.Context, collection model.Collection, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, c.collectionURL(collection, id), nil)
}

func (c *Client) List(ctx context.Context, collection model.Collection, filter model.Filter) ([]json.RawMessage, error) {
	q, err := query.Values(filter)
	if err != nil {
		return nil, errors.Wrap(err, "encode filter")
	}
	u := c.collectionURL(collection, "")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	raw, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var out []json.RawMessage
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, errors.Wrapf(livesync.ErrRemoteRejected, "decode %s list: %v", collection, err)
		}
	}
	return out, nil
}

// Award implements livesync.PointsAwarder.
func (c *Client) Award(ctx context.Context, userID string, points int, reason string) error {
	_, err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/points", map[string]any{
		"user_id": userID,
		"points":  points,
		"reason":  reason,
	})
	return err
}

func (c *Client) collectionURL(collection model.Collection, id string) string {
	u := c.baseURL + "/v1/" + url.PathEscape(string(collection))
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

func (c *Client) do(ctx context.Context, method, u string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrapf(livesync.ErrRemoteRejected, "encode body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set(values.HeaderRequestSource, requestSource)
	req.Header.Set(values.HeaderRequestID, cuid.New())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(livesync.ErrTransient, "%s %s: %v", method, u, err)
	}
	defer resp.Body.Close()

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && resp.StatusCode < 300 {
		return nil, errors.Wrapf(livesync.ErrTransient, "decode response: %v", err)
	}
	if err := statusError(resp.StatusCode, out.Message); err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, u)
	}
	return out.Data, nil
}

// statusError maps the API's status codes onto the sync engine's error
// classes.
func statusError(code int, message string) error {
	switch {
	case code < 300:
		return nil
	case code == http.StatusConflict:
		return errors.Wrap(livesync.ErrConflict, message)
	case code == http.StatusNotFound:
		return errors.Wrap(livesync.ErrNotFound, message)
	case code == http.StatusTooManyRequests, code >= 500:
		return errors.Wrap(livesync.ErrTransient, fmt.Sprintf("%d %s", code, message))
	default:
		return errors.Wrap(livesync.ErrRemoteRejected, fmt.Sprintf("%d %s", code, message))
	}
}

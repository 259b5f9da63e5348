// Package status queries the relay's HTTP status API.
package status

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/log"
	"github.com/imtaco/audio-rooms/protocol"
)

const ErrBadResponse errors.Code = "bad status response"

const requestTimeout = 5 * time.Second

type Health struct {
	Status string `json:"status"`
	Rooms  int    `json:"rooms"`
	Peers  int    `json:"peers"`
}

type Room struct {
	RoomID    string          `json:"roomId"`
	Exists    bool            `json:"exists"`
	Members   []protocol.User `json:"members"`
	CreatedAt int64           `json:"createdAt"`
}

type Stats struct {
	Rooms         int   `json:"rooms"`
	Peers         int   `json:"peers"`
	UptimeSeconds int64 `json:"uptimeSeconds"`
}

type Client struct {
	http   *resty.Client
	logger *log.Logger
}

func NewClient(baseURL string, logger *log.Logger) *Client {
	if logger == nil {
		panic("logger is required")
	}
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetHeader("Accept", "application/json").
			SetTimeout(requestTimeout),
		logger: logger,
	}
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.get(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.get(ctx, "/api/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Room fails with ErrNotFound when the relay has no such room.
func (c *Client) Room(ctx context.Context, roomID string) (*Room, error) {
	var out Room
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("roomId", roomID).
		SetResult(&out).
		Get("/api/rooms/{roomId}")
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, err, "get room")
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, errors.Newf(errors.ErrNotFound, "room %s not found", roomID)
	}
	if resp.IsError() {
		return nil, errors.Newf(ErrBadResponse, "get room: status %d", resp.StatusCode())
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(out).
		Get(path)
	if err != nil {
		return errors.Wrapf(errors.ErrInternal, err, "get %s", path)
	}
	c.logger.Debug("Status response", log.String("path", path), log.Int("status", resp.StatusCode()))
	if resp.IsError() {
		return errors.Newf(ErrBadResponse, "get %s: status %d", path, resp.StatusCode())
	}
	return nil
}

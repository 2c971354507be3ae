// Package roomclient talks to the room server over HTTP. It implements
// room.Service, so a client-side sync engine cannot tell it from the
// in-process hub.
package roomclient

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

	"github.com/DoyleJ11/beat-escape-backend/internal/room"
	"github.com/DoyleJ11/beat-escape-backend/pkg/types"
)

const DefaultTimeout = 10 * time.Second

// ErrUnexpectedStatus is returned for responses that carry no known room
// error code. Callers treat it as a transport failure.
var ErrUnexpectedStatus = errors.New("unexpected response status")

type Client struct {
	base string
	http *http.Client
}

var _ room.Service = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) CreateRoom(ctx context.Context, mode room.Mode, theme string) (string, error) {
	var resp types.CreateRoomResponse
	err := c.do(ctx, http.MethodPost, "/rooms", types.CreateRoomRequest{Mode: string(mode), Theme: theme}, &resp)
	return resp.Code, err
}

func (c *Client) GetRoom(ctx context.Context, code string) (room.Room, error) {
	var r room.Room
	if err := c.do(ctx, http.MethodGet, roomPath(code), nil, &r); err != nil {
		return room.Room{}, err
	}
	return r, nil
}

func (c *Client) PatchLock(ctx context.Context, code string, lock int, patch room.LockPatch) error {
	body := types.LockPatchRequest{Grid: patch.Grid, PlayerIndex: &patch.PlayerIndex}
	return c.do(ctx, http.MethodPatch, roomPath(code)+"/locks/"+strconv.Itoa(lock), body, nil)
}

func (c *Client) PatchActiveLock(ctx context.Context, code string, patch room.ActivePatch) error {
	body := types.ActivePatchRequest{PlayerIndex: &patch.PlayerIndex, LockNumber: &patch.LockNumber}
	return c.do(ctx, http.MethodPatch, roomPath(code)+"/active", body, nil)
}

func (c *Client) PatchReady(ctx context.Context, code string, player int) error {
	return c.do(ctx, http.MethodPatch, roomPath(code)+"/ready", types.ReadyRequest{PlayerIndex: &player}, nil)
}

func (c *Client) ClaimSlot(ctx context.Context, code, clientID string) (int, error) {
	var resp types.ClaimSlotResponse
	err := c.do(ctx, http.MethodPost, roomPath(code)+"/slots", types.ClaimSlotRequest{ClientID: clientID}, &resp)
	return resp.PlayerIndex, err
}

func (c *Client) SaveWork(ctx context.Context, activityID string, rec types.WorkRecord) error {
	return c.do(ctx, http.MethodPut, "/work/"+url.PathEscape(activityID), rec, nil)
}

func roomPath(code string) string {
	return "/rooms/" + url.PathEscape(code)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError turns an error response back into the room sentinel the
// server started from.
func decodeError(resp *http.Response) error {
	var e types.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
	if err := types.ErrorFor(e.Code); err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound && e.Code == "" {
		return room.ErrRoomNotFound
	}
	msg := e.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, msg)
}

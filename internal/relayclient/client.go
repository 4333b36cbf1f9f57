// Package relayclient is the HTTP client for the relay's blob and invite API.
// It is optional: a nil *Client means pure local mode. Network trouble is
// reported as errs.ErrUnavailable so callers can fall back to the local cache;
// it never hangs the caller — every call carries a bounded timeout.
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"famtable/internal/errs"
	"famtable/internal/model"
	"famtable/internal/wire"
)

// DefaultTimeout bounds every relay round trip.
const DefaultTimeout = 5 * time.Second

// Client talks to one relay endpoint.
type Client struct {
	base     string
	clientID string
	hc       *http.Client
	timeout  time.Duration
}

// New constructs a client for endpoint (e.g. "https://relay.example.com").
// clientID identifies this device's socket so the relay can skip echoing its
// own saves back; it may be empty.
func New(endpoint, clientID string) *Client {
	return &Client{
		base:     strings.TrimRight(endpoint, "/"),
		clientID: clientID,
		hc:       &http.Client{Timeout: DefaultTimeout},
		timeout:  DefaultTimeout,
	}
}

// Endpoint returns the configured base URL.
func (c *Client) Endpoint() string { return c.base }

// SocketURL returns the websocket address for the signal channel.
func (c *Client) SocketURL() string {
	u := c.base
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// FetchFamily gets the encrypted blob for a family id. Returns
// errs.ErrNotFound when the relay has no record, errs.ErrUnavailable when the
// relay cannot be reached.
func (c *Client) FetchFamily(ctx context.Context, familyID string) (model.Envelope, int64, error) {
	var resp wire.FamilyResponse
	if err := c.do(ctx, http.MethodGet, "/api/family/"+familyID, nil, &resp); err != nil {
		return "", 0, err
	}
	return model.Envelope(resp.Data), resp.LastUpdated, nil
}

// PushFamily upserts the encrypted blob. Best-effort from the caller's point
// of view: the local write already succeeded before this is attempted.
func (c *Client) PushFamily(ctx context.Context, familyID string, blob model.Envelope) error {
	var resp wire.PushResponse
	return c.do(ctx, http.MethodPost, "/api/family", wire.PushRequest{
		FamilyID: familyID,
		Data:     string(blob),
	}, &resp)
}

// CreateInvite issues (or re-issues, idempotently) an invite for the family.
func (c *Client) CreateInvite(ctx context.Context, creds model.Credentials) (string, error) {
	var resp wire.InviteCodeResponse
	err := c.do(ctx, http.MethodPost, "/api/invite", wire.InviteRequest{
		FamilyID:  creds.FamilyID,
		FamilyKey: creds.FamilyKey,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Code, nil
}

// ResolveInvite exchanges an invite code for the real credential pair.
func (c *Client) ResolveInvite(ctx context.Context, code string) (model.Credentials, error) {
	var resp wire.InviteResolveResponse
	if err := c.do(ctx, http.MethodGet, "/api/invite/"+code, nil, &resp); err != nil {
		return model.Credentials{}, err
	}
	return model.Credentials{FamilyID: resp.FamilyID, FamilyKey: resp.FamilyKey}, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.clientID != "" {
		req.Header.Set(wire.ClientIDHeader, c.clientID)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errs.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return errs.ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: status %d", errs.ErrUnavailable, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: bad response: %v", errs.ErrUnavailable, err)
	}
	return nil
}

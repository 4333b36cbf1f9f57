package relayclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"famtable/internal/errs"
	"famtable/internal/model"
	"famtable/internal/relay"
	"famtable/internal/relay/memory"
)

func startRelay(t *testing.T) *httptest.Server {
	t.Helper()
	srv := relay.NewServer(zap.NewNop(), memory.NewFamilies(), memory.NewInvites(), relay.NewHub(nil), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestClient_FetchPushRoundTrip(t *testing.T) {
	ctx := context.Background()
	ts := startRelay(t)
	c := New(ts.URL, "client-1")

	_, _, err := c.FetchFamily(ctx, "fam-1")
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, c.PushFamily(ctx, "fam-1", model.Envelope("s.n.ct")))

	blob, lastUpdated, err := c.FetchFamily(ctx, "fam-1")
	require.NoError(t, err)
	require.Equal(t, model.Envelope("s.n.ct"), blob)
	require.NotZero(t, lastUpdated)
}

func TestClient_Invites(t *testing.T) {
	ctx := context.Background()
	ts := startRelay(t)
	c := New(ts.URL, "client-1")

	creds := model.Credentials{FamilyID: "fam-1", FamilyKey: "XK7Q2R"}
	code, err := c.CreateInvite(ctx, creds)
	require.NoError(t, err)
	require.Len(t, code, 6)

	again, err := c.CreateInvite(ctx, creds)
	require.NoError(t, err)
	require.Equal(t, code, again)

	resolved, err := c.ResolveInvite(ctx, code)
	require.NoError(t, err)
	require.Equal(t, creds, resolved)

	_, err = c.ResolveInvite(ctx, "NOPE99")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestClient_UnreachableIsUnavailable(t *testing.T) {
	ctx := context.Background()
	c := New("http://127.0.0.1:1", "client-1")

	_, _, err := c.FetchFamily(ctx, "fam-1")
	require.ErrorIs(t, err, errs.ErrUnavailable)
	require.ErrorIs(t, c.PushFamily(ctx, "fam-1", "s.n.ct"), errs.ErrUnavailable)
}

func TestClient_RateLimitedSurfaces(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(ts.Close)

	c := New(ts.URL, "")
	_, err := c.ResolveInvite(context.Background(), "AB2CDE")
	require.ErrorIs(t, err, errs.ErrRateLimited)
}

func TestClient_SocketURL(t *testing.T) {
	require.Equal(t, "ws://relay.local/ws", New("http://relay.local", "").SocketURL())
	require.Equal(t, "wss://relay.local/ws", New("https://relay.local/", "").SocketURL())
}

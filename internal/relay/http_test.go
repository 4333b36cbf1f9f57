package relay_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"famtable/internal/limiter"
	"famtable/internal/relay"
	"famtable/internal/relay/memory"
	"famtable/internal/wire"
)

func startServer(t *testing.T, lim limiter.Limiter) *httptest.Server {
	t.Helper()
	srv := relay.NewServer(zap.NewNop(), memory.NewFamilies(), memory.NewInvites(),
		relay.NewHub(nil), lim)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestFamily_PushThenGet(t *testing.T) {
	ts := startServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/family/fam-1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/family", wire.PushRequest{FamilyID: "fam-1", Data: "s.n.ct"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, decode[wire.PushResponse](t, resp).Success)

	resp, err = http.Get(ts.URL + "/api/family/fam-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[wire.FamilyResponse](t, resp)
	require.Equal(t, "s.n.ct", got.Data)
	require.NotZero(t, got.LastUpdated)
}

func TestFamily_PushValidation(t *testing.T) {
	ts := startServer(t, nil)
	resp := postJSON(t, ts.URL+"/api/family", wire.PushRequest{FamilyID: "", Data: ""}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInvite_IdempotentIssueAndResolve(t *testing.T) {
	ts := startServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/invite", wire.InviteRequest{FamilyID: "fam-1", FamilyKey: "XK7Q2R"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decode[wire.InviteCodeResponse](t, resp)
	require.Len(t, first.Code, 6)

	resp = postJSON(t, ts.URL+"/api/invite", wire.InviteRequest{FamilyID: "fam-1", FamilyKey: "XK7Q2R"}, nil)
	second := decode[wire.InviteCodeResponse](t, resp)
	require.Equal(t, first.Code, second.Code)

	r, err := http.Get(ts.URL + "/api/invite/" + first.Code)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, r.StatusCode)
	creds := decode[wire.InviteResolveResponse](t, r)
	require.Equal(t, "fam-1", creds.FamilyID)
	require.Equal(t, "XK7Q2R", creds.FamilyKey)

	r, err = http.Get(ts.URL + "/api/invite/NOPE99")
	require.NoError(t, err)
	r.Body.Close()
	require.Equal(t, http.StatusNotFound, r.StatusCode)
}

func TestInvite_MissingFields(t *testing.T) {
	ts := startServer(t, nil)
	resp := postJSON(t, ts.URL+"/api/invite", wire.InviteRequest{FamilyID: "fam-1"}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInvite_LookupRateLimited(t *testing.T) {
	ts := startServer(t, limiter.NewMemory(time.Minute, 3, time.Minute))

	for i := 0; i < 3; i++ {
		r, err := http.Get(ts.URL + "/api/invite/GUESS" + string(rune('1'+i)))
		require.NoError(t, err)
		r.Body.Close()
		require.Equal(t, http.StatusNotFound, r.StatusCode)
	}
	r, err := http.Get(ts.URL + "/api/invite/GUESS9")
	require.NoError(t, err)
	r.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, r.StatusCode)
}

func dialWS(t *testing.T, ts *httptest.Server, familyID, clientID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	require.NoError(t, ws.WriteJSON(wire.Message{Type: wire.MsgJoin, FamilyID: familyID, ClientID: clientID}))
	return ws
}

func expectUpdate(t *testing.T, ws *websocket.Conn, familyID string) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wire.Message
	require.NoError(t, ws.ReadJSON(&msg))
	require.Equal(t, wire.MsgUpdate, msg.Type)
	require.Equal(t, familyID, msg.FamilyID)
}

func expectSilence(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var msg wire.Message
	require.Error(t, ws.ReadJSON(&msg), "socket should have stayed silent")
}

func TestHub_PushFansOutExceptSender(t *testing.T) {
	ts := startServer(t, nil)

	a := dialWS(t, ts, "fam-1", "client-a")
	b := dialWS(t, ts, "fam-1", "client-b")
	other := dialWS(t, ts, "fam-2", "client-c")
	time.Sleep(100 * time.Millisecond) // let JOINs register

	resp := postJSON(t, ts.URL+"/api/family",
		wire.PushRequest{FamilyID: "fam-1", Data: "s.n.ct"},
		map[string]string{wire.ClientIDHeader: "client-a"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	expectUpdate(t, b, "fam-1")
	expectSilence(t, a)     // the saver is not echoed
	expectSilence(t, other) // different family hears nothing
}

func TestHub_SocketAnnounceExcludesSender(t *testing.T) {
	ts := startServer(t, nil)

	a := dialWS(t, ts, "fam-1", "")
	b := dialWS(t, ts, "fam-1", "")
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, a.WriteJSON(wire.Message{Type: wire.MsgUpdate, FamilyID: "fam-1"}))

	expectUpdate(t, b, "fam-1")
	expectSilence(t, a)
}

func TestHealthz(t *testing.T) {
	ts := startServer(t, nil)
	r, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	r.Body.Close()
	require.Equal(t, http.StatusOK, r.StatusCode)
}

package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func wsUpgrader() websocket.Upgrader {
	return websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
}

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	b := NewBus()
	ch1 := make(chan struct{}, 1)
	ch2 := make(chan struct{}, 1)
	unsub1 := b.subscribe("fam-1", ch1)
	defer unsub1()
	unsub2 := b.subscribe("fam-1", ch2)
	defer unsub2()
	chOther := make(chan struct{}, 1)
	unsub3 := b.subscribe("fam-2", chOther)
	defer unsub3()

	b.Publish("fam-1")

	for _, ch := range []chan struct{}{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the publish")
		}
	}
	select {
	case <-chOther:
		t.Fatal("other family heard the publish")
	default:
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()
	ch := make(chan struct{}, 1)
	unsub := b.subscribe("fam-1", ch)
	unsub()
	b.Publish("fam-1")
	select {
	case <-ch:
		t.Fatal("unsubscribed channel received a signal")
	default:
	}
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	b := NewBus()
	ch := make(chan struct{}, 1)
	unsub := b.subscribe("fam-1", ch)
	defer unsub()
	// Repeated publishes with a full buffer must not deadlock; the signal
	// coalesces because it only means "re-fetch".
	for i := 0; i < 10; i++ {
		b.Publish("fam-1")
	}
	<-ch
}

func TestNotifier_LocalOnlySubscribe(t *testing.T) {
	n := New(zap.NewNop(), nil, "", "client-1")
	got := make(chan struct{}, 1)
	unsub := n.Subscribe("fam-1", func() { got <- struct{}{} })
	defer unsub()

	n.Publish("fam-1")
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("callback not invoked for local publish")
	}
}

func TestNotifier_UnsubscribeWorksWhenSocketNeverConnects(t *testing.T) {
	// Nobody listens here; the watcher keeps retrying in the background.
	n := New(zap.NewNop(), nil, "ws://127.0.0.1:1/ws", "client-1")
	unsub := n.Subscribe("fam-1", func() {})
	// Must return promptly and be callable repeatedly.
	unsub()
	unsub()
}

// echoRelay is a minimal ws endpoint: it accepts JOIN, then emits one UPDATE.
func echoRelay(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := wsUpgrader()
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		var join map[string]any
		if err := ws.ReadJSON(&join); err != nil {
			return
		}
		fam, _ := join["familyId"].(string)
		_ = ws.WriteJSON(map[string]any{"type": "UPDATE", "familyId": fam})
		// Hold the connection open until the client goes away.
		for {
			if err := ws.ReadJSON(&join); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestNotifier_ShortLivedSessionsKeepBackingOff(t *testing.T) {
	// A relay that accepts the upgrade and drops the connection at once. The
	// watcher must not treat each micro-session as a successful run and redial
	// without delay.
	var dials int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dials, 1)
		up := wsUpgrader()
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.Close()
	}))
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	n := New(zap.NewNop(), nil, url, "client-1")
	n.backoffBase = 40 * time.Millisecond
	n.stableAfter = time.Hour // no session here counts as stable

	unsub := n.Subscribe("fam-1", func() {})
	time.Sleep(300 * time.Millisecond)
	unsub()

	got := atomic.LoadInt32(&dials)
	if got == 0 {
		t.Fatal("watcher never dialed")
	}
	// 40+80+160ms of waiting leaves room for only a handful of dials.
	if got > 6 {
		t.Fatalf("dialed %d times in 300ms; backoff must carry across short-lived sessions", got)
	}
}

func TestNotifier_SocketUpdateTriggersCallback(t *testing.T) {
	ts := echoRelay(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	n := New(zap.NewNop(), nil, url, "client-1")
	got := make(chan struct{}, 1)
	unsub := n.Subscribe("fam-1", func() { got <- struct{}{} })
	defer unsub()

	select {
	case <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("socket UPDATE did not reach the callback")
	}
}

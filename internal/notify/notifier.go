// Package notify delivers "something changed, re-fetch" signals to session
// subscribers. Two producers feed each subscription: the in-process bus
// (same-device saves) and an optional websocket to the relay (peer-device
// saves). Neither ever carries session content.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"famtable/internal/wire"
)

// Reconnect backoff bounds for the socket watcher.
const (
	reconnectBase = time.Second
	reconnectCap  = 30 * time.Second
	// stableAfter is how long a connection must survive before its loss
	// counts as a fresh outage with a reset backoff. Shorter sessions keep
	// the growing delays, so a relay that accepts upgrades and drops them
	// at once cannot drive a reconnect spin.
	stableAfter = 30 * time.Second
)

// Notifier combines the local bus with the relay socket channel.
type Notifier struct {
	log       *zap.Logger
	bus       *Bus
	socketURL string // empty → local-only mode
	clientID  string
	dialer    *websocket.Dialer

	backoffBase time.Duration
	backoffCap  time.Duration
	stableAfter time.Duration
}

// New constructs a notifier. socketURL may be empty for pure local mode.
// clientID is announced on JOIN so the relay can avoid echoing this device's
// own saves back to it.
func New(log *zap.Logger, bus *Bus, socketURL, clientID string) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	if bus == nil {
		bus = NewBus()
	}
	return &Notifier{
		log:         log,
		bus:         bus,
		socketURL:   socketURL,
		clientID:    clientID,
		dialer:      websocket.DefaultDialer,
		backoffBase: reconnectBase,
		backoffCap:  reconnectCap,
		stableAfter: stableAfter,
	}
}

// Publish announces a local save to same-device subscribers.
func (n *Notifier) Publish(familyID string) { n.bus.Publish(familyID) }

// Subscribe registers onChange for the family and returns an unsubscribe
// function. The callback receives no data — only the signal to re-fetch and
// decrypt through the session manager. Unsubscribe always works, even when
// the socket never managed to connect.
func (n *Notifier) Subscribe(familyID string, onChange func()) func() {
	events := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())

	busUnsub := n.bus.subscribe(familyID, events)
	if n.socketURL != "" {
		go n.watch(ctx, familyID, events)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-events:
				onChange()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			busUnsub()
		})
	}
}

// watch keeps a socket session alive until ctx is canceled, redialing with
// capped exponential backoff and rejoining after reconnects. The backoff
// carries across dial failures AND short-lived sessions; only a connection
// that survived stableAfter resets it.
func (n *Notifier) watch(ctx context.Context, familyID string, events chan<- struct{}) {
	b := retry.WithCappedDuration(n.backoffCap, retry.NewExponential(n.backoffBase))
	for {
		start := time.Now()
		err := n.runSocket(ctx, familyID, events)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err != nil:
			n.log.Debug("relay socket dial failed, will retry",
				zap.String("familyId", familyID), zap.Error(err))
		case time.Since(start) >= n.stableAfter:
			// A held session ended (relay restart, network blip); treat the
			// next dial as a fresh outage.
			b = retry.WithCappedDuration(n.backoffCap, retry.NewExponential(n.backoffBase))
		}
		d, _ := b.Next()
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
	}
}

// runSocket dials, joins and consumes UPDATE frames until the connection
// drops. Returns an error only when the dial itself failed.
func (n *Notifier) runSocket(ctx context.Context, familyID string, events chan<- struct{}) error {
	ws, _, err := n.dialer.DialContext(ctx, n.socketURL, nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.Close() // unblocks the read loop
		case <-stop:
		}
	}()

	if err := ws.WriteJSON(wire.Message{
		Type:     wire.MsgJoin,
		FamilyID: familyID,
		ClientID: n.clientID,
	}); err != nil {
		return nil
	}
	n.log.Debug("relay socket joined", zap.String("familyId", familyID))

	for {
		var msg wire.Message
		if err := ws.ReadJSON(&msg); err != nil {
			return nil
		}
		if msg.Type == wire.MsgUpdate && msg.FamilyID == familyID {
			select {
			case events <- struct{}{}:
			default:
			}
		}
	}
}

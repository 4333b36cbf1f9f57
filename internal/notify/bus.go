package notify

import "sync"

// Bus is the same-device change channel: every execution context in this
// process that subscribed to a family hears about local saves, the way
// browser tabs share a broadcast channel.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[chan struct{}]struct{}
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[chan struct{}]struct{})}
}

// Publish signals every subscriber for familyID. Non-blocking: a subscriber
// that already has a pending signal does not get a second one, which is fine
// because the signal only means "re-fetch".
func (b *Bus) Publish(familyID string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[familyID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (b *Bus) subscribe(familyID string, ch chan struct{}) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.subs[familyID]
	if room == nil {
		room = make(map[chan struct{}]struct{})
		b.subs[familyID] = room
	}
	room[ch] = struct{}{}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(room, ch)
		if len(room) == 0 {
			delete(b.subs, familyID)
		}
	}
}

// Package session orchestrates crypto, local persistence, the relay client
// and the notifier into the operations the application uses. It is the only
// entry point the UI layer touches.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"famtable/internal/errs"
	"famtable/internal/model"
	"famtable/internal/notify"
	"famtable/internal/relayclient"
	"famtable/internal/secretbox"
	"famtable/internal/store"
)

// Config carries the explicit dependencies of a Manager. No ambient process
// state: the relay endpoint is a value, not an environment read.
type Config struct {
	// Endpoint is the relay base URL. Empty means pure local mode unless a
	// previously imported endpoint is found in the local store.
	Endpoint string
	// Store is the device-local KV (required).
	Store store.KV
	// Bus is the same-device broadcast channel. Subscribers in this process
	// sharing a Bus hear each other's saves. Nil gets a private bus.
	Bus *notify.Bus
	// Logger defaults to a nop logger.
	Logger *zap.Logger
	// Now defaults to time.Now; injected by tests.
	Now func() time.Time
}

// Manager implements the session lifecycle: create, join, load, save,
// subscribe, export/import, auto-rejoin, logout.
type Manager struct {
	log      *zap.Logger
	kv       store.KV
	remote   *relayclient.Client // nil in pure local mode
	notifier *notify.Notifier
	bus      *notify.Bus
	clientID string
	now      func() time.Time

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// subscription tracks a live Subscribe registration so an endpoint swap can
// move it onto the new notifier's socket channel.
type subscription struct {
	familyID string
	onChange func()
	cancel   func()
}

// NewManager wires a manager from config. An explicit endpoint wins over a
// stored one; with neither, remote sync and the socket channel stay off.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store is required", errs.ErrValidation)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	bus := cfg.Bus
	if bus == nil {
		bus = notify.NewBus()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		if v, ok, err := cfg.Store.Get(store.EndpointKey); err == nil && ok {
			endpoint = v
		}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		log:      log,
		kv:       cfg.Store,
		bus:      bus,
		clientID: id.String(),
		now:      now,
		subs:     map[*subscription]struct{}{},
	}
	m.setEndpoint(endpoint)
	return m, nil
}

// setEndpoint (re)builds the remote client and notifier for an endpoint.
// Called at construction and when an import adopts an embedded endpoint.
// Live subscriptions are re-registered on the new notifier so they gain (or
// lose) the socket channel along with the endpoint.
func (m *Manager) setEndpoint(endpoint string) {
	socketURL := ""
	if endpoint != "" {
		m.remote = relayclient.New(endpoint, m.clientID)
		socketURL = m.remote.SocketURL()
	} else {
		m.remote = nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = notify.New(m.log, m.bus, socketURL, m.clientID)
	for sub := range m.subs {
		sub.cancel()
		sub.cancel = m.notifier.Subscribe(sub.familyID, sub.onChange)
	}
}

// Endpoint returns the active relay endpoint, or "" in pure local mode.
func (m *Manager) Endpoint() string {
	if m.remote == nil {
		return ""
	}
	return m.remote.Endpoint()
}

// CreateFamily mints fresh credentials, constructs the founding member and
// performs a full save.
func (m *Manager) CreateFamily(ctx context.Context, familyName, userName string) (*model.FamilySession, error) {
	familyName = strings.TrimSpace(familyName)
	userName = strings.TrimSpace(userName)
	if familyName == "" || userName == "" {
		return nil, fmt.Errorf("%w: family and member names are required", errs.ErrValidation)
	}
	familyID, err := secretbox.NewFamilyID()
	if err != nil {
		return nil, err
	}
	familyKey, err := secretbox.GenerateFamilyCode()
	if err != nil {
		return nil, err
	}
	founder := model.NewMember(userName, 0, m.now())
	founder.IsCurrentUser = true
	sess := &model.FamilySession{
		FamilyID:   familyID,
		FamilyName: familyName,
		FamilyKey:  familyKey,
		Members:    []model.FamilyMember{founder},
	}
	return m.SaveSession(ctx, sess)
}

// JoinFamily loads the session for the credential pair and claims userName as
// this device's identity. A name already present (case-insensitive) is
// reclaimed rather than duplicated; a new name is appended. The follow-up
// save is also how the membership change reaches peers.
//
// A wrong key and an unknown family id fail identically with errs.ErrNotFound:
// a guesser learns nothing from the error.
func (m *Manager) JoinFamily(ctx context.Context, familyID, familyKey, userName string) (*model.FamilySession, error) {
	userName = strings.TrimSpace(userName)
	if familyID == "" || familyKey == "" || userName == "" {
		return nil, fmt.Errorf("%w: familyId, familyKey and member name are required", errs.ErrValidation)
	}
	sess, err := m.LoadSession(ctx, familyID, familyKey)
	if err != nil {
		if errors.Is(err, errs.ErrDecryption) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if sess == nil {
		return nil, errs.ErrNotFound
	}

	if i := sess.FindMember(userName); i >= 0 {
		sess.SetCurrentUser(i)
	} else {
		member := model.NewMember(userName, len(sess.Members), m.now())
		sess.Members = append(sess.Members, member)
		sess.SetCurrentUser(len(sess.Members) - 1)
	}
	return m.SaveSession(ctx, sess)
}

// JoinByInviteCode resolves a short invite code into credentials and joins.
func (m *Manager) JoinByInviteCode(ctx context.Context, code, userName string) (*model.FamilySession, error) {
	if m.remote == nil {
		return nil, fmt.Errorf("%w: no relay configured", errs.ErrUnavailable)
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, fmt.Errorf("%w: invite code is required", errs.ErrValidation)
	}
	creds, err := m.remote.ResolveInvite(ctx, code)
	if err != nil {
		return nil, err
	}
	return m.JoinFamily(ctx, creds.FamilyID, creds.FamilyKey, userName)
}

// CreateInviteCode issues (idempotently) an invite for the session's family.
// Unlike background sync, this is a user-initiated action, so relay failures
// surface to the caller.
func (m *Manager) CreateInviteCode(ctx context.Context, sess *model.FamilySession) (string, error) {
	if m.remote == nil {
		return "", fmt.Errorf("%w: no relay configured", errs.ErrUnavailable)
	}
	return m.remote.CreateInvite(ctx, model.Credentials{
		FamilyID:  sess.FamilyID,
		FamilyKey: sess.FamilyKey,
	})
}

// LoadSession is the read path: remote first when configured, local cache as
// fallback. Returns (nil, nil) when nothing is stored anywhere for the id.
// A blob that will not decrypt fails with errs.ErrDecryption.
func (m *Manager) LoadSession(ctx context.Context, familyID, familyKey string) (*model.FamilySession, error) {
	var blob model.Envelope
	haveBlob := false
	fromRemote := false

	if m.remote != nil {
		env, _, err := m.remote.FetchFamily(ctx, familyID)
		switch {
		case err == nil:
			blob, haveBlob, fromRemote = env, true, true
		case errors.Is(err, errs.ErrNotFound):
			// Fall through to the local cache.
		default:
			m.log.Info("relay fetch failed, using local cache", zap.Error(err))
		}
	}

	if !haveBlob {
		v, ok, err := m.kv.Get(store.BlobKey(familyID))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		blob = model.Envelope(v)
	}

	var sess model.FamilySession
	if err := secretbox.Decrypt(blob, familyKey, &sess); err != nil {
		return nil, err
	}
	if fromRemote {
		// Refresh the offline cache only after the relay's copy decrypts; a
		// corrupt replica must never displace the authoritative local blob.
		if serr := m.kv.Set(store.BlobKey(familyID), string(blob)); serr != nil {
			m.log.Warn("cache refresh failed", zap.Error(serr))
		}
	}
	return &sess, nil
}

// SaveSession is the write path: stamp, encrypt, write local, update the
// last-used pointer, signal same-device subscribers, then best-effort push to
// the relay. The local write is authoritative; a failed push never rolls it
// back, and peers are notified by the relay on the push's success.
func (m *Manager) SaveSession(ctx context.Context, sess *model.FamilySession) (*model.FamilySession, error) {
	if sess == nil || sess.FamilyID == "" || sess.FamilyKey == "" {
		return nil, fmt.Errorf("%w: session with familyId and familyKey is required", errs.ErrValidation)
	}
	sess.LastUpdated = m.now().UnixMilli()

	blob, err := secretbox.Encrypt(sess, sess.FamilyKey)
	if err != nil {
		return nil, err
	}
	if err := m.kv.Set(store.BlobKey(sess.FamilyID), string(blob)); err != nil {
		return nil, err
	}

	last := model.LastUsed{FamilyID: sess.FamilyID, FamilyKey: sess.FamilyKey}
	if cu := sess.CurrentUser(); cu != nil {
		last.MemberName = cu.Name
	}
	if b, err := json.Marshal(last); err == nil {
		if err := m.kv.Set(store.LastUsedKey, string(b)); err != nil {
			m.log.Warn("last-used pointer write failed", zap.Error(err))
		}
	}

	m.notifier.Publish(sess.FamilyID)

	if m.remote != nil {
		if err := m.remote.PushFamily(ctx, sess.FamilyID, blob); err != nil {
			// Best-effort: the local save already committed.
			m.log.Warn("relay push failed",
				zap.String("familyId", sess.FamilyID), zap.Error(err))
		}
	}
	return sess, nil
}

// Subscribe registers onChange for external changes to the family. The
// callback is a pure invalidation signal; call LoadSession to get fresh data.
// The registration follows the manager through endpoint changes: a later
// ImportPortableCode that adopts a relay moves it onto that relay's socket.
func (m *Manager) Subscribe(familyID string, onChange func()) func() {
	sub := &subscription{familyID: familyID, onChange: onChange}
	m.mu.Lock()
	sub.cancel = m.notifier.Subscribe(familyID, onChange)
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, sub)
			cancel := sub.cancel
			m.mu.Unlock()
			cancel()
		})
	}
}

// portable code layout: familyId | familyKey | envelope | endpoint(optional),
// base64-wrapped for copy-paste.
const portableSep = "|"

// ExportPortableCode packs the session into a single self-contained token for
// offline device-to-device transfer. No network round trip involved.
func (m *Manager) ExportPortableCode(sess *model.FamilySession) (string, error) {
	if sess == nil || sess.FamilyID == "" || sess.FamilyKey == "" {
		return "", fmt.Errorf("%w: session with familyId and familyKey is required", errs.ErrValidation)
	}
	blob, err := secretbox.Encrypt(sess, sess.FamilyKey)
	if err != nil {
		return "", err
	}
	parts := []string{sess.FamilyID, sess.FamilyKey, string(blob)}
	if ep := m.Endpoint(); ep != "" {
		parts = append(parts, ep)
	}
	return base64.URLEncoding.EncodeToString([]byte(strings.Join(parts, portableSep))), nil
}

// ImportPortableCode unpacks a token on a fresh device: adopts any embedded
// relay endpoint, seeds the local cache, and saves so a newly configured
// relay receives the document. Subscriptions taken out before the import are
// moved onto the adopted relay's socket channel.
func (m *Manager) ImportPortableCode(ctx context.Context, token string) (*model.FamilySession, error) {
	raw, err := base64.URLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed portable code", errs.ErrValidation)
	}
	parts := strings.Split(string(raw), portableSep)
	if len(parts) != 3 && len(parts) != 4 {
		return nil, fmt.Errorf("%w: malformed portable code", errs.ErrValidation)
	}
	familyID, familyKey, blob := parts[0], parts[1], model.Envelope(parts[2])

	var sess model.FamilySession
	if err := secretbox.Decrypt(blob, familyKey, &sess); err != nil {
		return nil, err
	}

	if len(parts) == 4 && parts[3] != "" {
		if err := m.kv.Set(store.EndpointKey, parts[3]); err != nil {
			m.log.Warn("endpoint write failed", zap.Error(err))
		}
		m.setEndpoint(parts[3])
	}

	if err := m.kv.Set(store.BlobKey(familyID), string(blob)); err != nil {
		return nil, err
	}
	// Save-through so an endpoint that arrived with the token gets the data.
	return m.SaveSession(ctx, &sess)
}

// AutoRejoin replays JoinFamily with the last-used credentials, restoring the
// session at startup without re-entry. Returns (nil, nil) when no pointer is
// stored.
func (m *Manager) AutoRejoin(ctx context.Context) (*model.FamilySession, error) {
	v, ok, err := m.kv.Get(store.LastUsedKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var last model.LastUsed
	if err := json.Unmarshal([]byte(v), &last); err != nil {
		return nil, fmt.Errorf("%w: corrupt last-used pointer", errs.ErrValidation)
	}
	return m.JoinFamily(ctx, last.FamilyID, last.FamilyKey, last.MemberName)
}

// Logout clears only the last-used pointer. Stored blobs stay; the session is
// recoverable by re-entering credentials.
func (m *Manager) Logout() error {
	return m.kv.Remove(store.LastUsedKey)
}

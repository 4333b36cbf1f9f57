// Package relay implements the zero-knowledge relay: blob storage, invite
// exchange and the websocket fan-out hub. The relay never sees plaintext;
// it stores opaque envelopes keyed by family id and forwards change signals.
package relay

import (
	"context"
	"time"

	"famtable/internal/model"
)

// FamilyRecord is one family's stored blob with its save timestamp.
type FamilyRecord struct {
	FamilyID    string
	Blob        model.Envelope
	LastUpdated time.Time
}

// Invite is a short-lived alias resolving to a family's real credentials.
// The relay holds credentials here only for families that explicitly asked
// for an invite; it still cannot decrypt anything with them on its own
// because it never fetches and decrypts blobs.
type Invite struct {
	Code      string
	FamilyID  string
	FamilyKey string
	ExpiresAt time.Time
}

// FamilyStore persists encrypted blobs. One record per family id; Put has
// insert-or-replace semantics (last writer wins at whole-document granularity).
type FamilyStore interface {
	// Get returns the record or errs.ErrNotFound.
	Get(ctx context.Context, familyID string) (*FamilyRecord, error)
	// Put upserts the blob and stamps LastUpdated.
	Put(ctx context.Context, familyID string, blob model.Envelope) error
}

// InviteStore persists invite aliases. One invite per family: issuing again
// returns the existing code with a refreshed expiry.
type InviteStore interface {
	// GetByCode returns the unexpired invite for code or errs.ErrNotFound.
	GetByCode(ctx context.Context, code string, now time.Time) (*Invite, error)
	// GetByFamily returns the unexpired invite for a family or errs.ErrNotFound.
	GetByFamily(ctx context.Context, familyID string, now time.Time) (*Invite, error)
	// Put upserts the invite keyed by family id.
	Put(ctx context.Context, inv Invite) error
	// DeleteExpired removes invites past their expiry and reports how many.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"famtable/internal/errs"
	"famtable/internal/relay"
)

// InviteRepo implements relay.InviteStore using PostgreSQL.
type InviteRepo struct{ db *DB }

var _ relay.InviteStore = (*InviteRepo)(nil)

// NewInviteRepo constructs an invite repository.
func NewInviteRepo(db *DB) *InviteRepo { return &InviteRepo{db: db} }

// GetByCode returns the unexpired invite matching code.
func (r *InviteRepo) GetByCode(ctx context.Context, code string, now time.Time) (*relay.Invite, error) {
	const q = `SELECT code, family_id, family_key, expires_at FROM invites WHERE code=$1 AND expires_at>$2`
	return r.scanOne(ctx, q, code, now)
}

// GetByFamily returns the unexpired invite for a family.
func (r *InviteRepo) GetByFamily(ctx context.Context, familyID string, now time.Time) (*relay.Invite, error) {
	const q = `SELECT code, family_id, family_key, expires_at FROM invites WHERE family_id=$1 AND expires_at>$2`
	return r.scanOne(ctx, q, familyID, now)
}

// Put upserts the invite keyed by family id.
func (r *InviteRepo) Put(ctx context.Context, inv relay.Invite) error {
	const q = `
INSERT INTO invites (family_id, code, family_key, expires_at) VALUES ($1,$2,$3,$4)
ON CONFLICT (family_id) DO UPDATE SET code=EXCLUDED.code, family_key=EXCLUDED.family_key, expires_at=EXCLUDED.expires_at`
	_, err := r.db.Pool.Exec(ctx, q, inv.FamilyID, inv.Code, inv.FamilyKey, inv.ExpiresAt)
	return err
}

// DeleteExpired removes invites past their expiry.
func (r *InviteRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM invites WHERE expires_at<=$1`
	tag, err := r.db.Pool.Exec(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *InviteRepo) scanOne(ctx context.Context, q string, args ...any) (*relay.Invite, error) {
	var inv relay.Invite
	if err := r.db.Pool.QueryRow(ctx, q, args...).Scan(&inv.Code, &inv.FamilyID, &inv.FamilyKey, &inv.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

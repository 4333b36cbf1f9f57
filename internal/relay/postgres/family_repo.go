package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"famtable/internal/errs"
	"famtable/internal/model"
	"famtable/internal/relay"
)

// FamilyRepo implements relay.FamilyStore using PostgreSQL.
type FamilyRepo struct{ db *DB }

var _ relay.FamilyStore = (*FamilyRepo)(nil)

// NewFamilyRepo constructs a family blob repository.
func NewFamilyRepo(db *DB) *FamilyRepo { return &FamilyRepo{db: db} }

// Get returns the stored blob for a family id.
func (r *FamilyRepo) Get(ctx context.Context, familyID string) (*relay.FamilyRecord, error) {
	const q = `SELECT family_id, blob, last_updated FROM families WHERE family_id=$1`
	var rec relay.FamilyRecord
	var blob string
	if err := r.db.Pool.QueryRow(ctx, q, familyID).Scan(&rec.FamilyID, &blob, &rec.LastUpdated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	rec.Blob = model.Envelope(blob)
	return &rec, nil
}

// Put upserts the blob; the latest successful save fully replaces prior state.
func (r *FamilyRepo) Put(ctx context.Context, familyID string, blob model.Envelope) error {
	const q = `
INSERT INTO families (family_id, blob, last_updated) VALUES ($1,$2,now())
ON CONFLICT (family_id) DO UPDATE SET blob=EXCLUDED.blob, last_updated=now()`
	_, err := r.db.Pool.Exec(ctx, q, familyID, string(blob))
	return err
}

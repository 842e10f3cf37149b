package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/vcworld/vcworld/internal/data"
	"github.com/vcworld/vcworld/internal/world"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotInfo is the header row of a stored world snapshot.
type SnapshotInfo struct {
	Name        string
	EntityCount int
	Digest      []byte
	SavedAt     time.Time
}

// WorldRepo stores whole-index snapshots, one row per entity in traversal
// order.
type WorldRepo struct {
	db *DB
}

func NewWorldRepo(db *DB) *WorldRepo {
	return &WorldRepo{db: db}
}

// Digest returns the BLAKE2b-256 digest of the index's text encoding.
func Digest(idx *world.Index) ([]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	if err := world.Save(h, idx); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// SaveSnapshot replaces the snapshot called name with the contents of idx.
// When the stored digest already matches, nothing is written and false is
// returned.
func (r *WorldRepo) SaveSnapshot(ctx context.Context, name string, idx *world.Index) (bool, error) {
	digest, err := Digest(idx)
	if err != nil {
		return false, fmt.Errorf("digest snapshot %s: %w", name, err)
	}

	var stored []byte
	err = r.db.Pool.QueryRow(ctx,
		`SELECT digest FROM world_snapshot WHERE name = $1`, name,
	).Scan(&stored)
	switch {
	case err == nil && bytes.Equal(stored, digest):
		r.db.log.Debug("snapshot unchanged", zap.String("name", name))
		return false, nil
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		return false, fmt.Errorf("query snapshot %s: %w", name, err)
	}

	records := idx.Records()
	rows := make([][]any, len(records))
	for i := range records {
		rec := &records[i]
		rows[i] = []any{name, int32(i), rec.X, rec.Y, rec.Attrs[:]}
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("snapshot begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO world_snapshot (name, entity_count, digest, saved_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (name) DO UPDATE
		 SET entity_count = EXCLUDED.entity_count, digest = EXCLUDED.digest, saved_at = NOW()`,
		name, len(records), digest,
	); err != nil {
		return false, fmt.Errorf("snapshot header: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM world_entity WHERE snapshot = $1`, name); err != nil {
		return false, fmt.Errorf("snapshot clear: %w", err)
	}
	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"world_entity"},
		[]string{"snapshot", "seq", "x", "y", "attrs"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return false, fmt.Errorf("snapshot copy: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("snapshot commit: %w", err)
	}

	r.db.log.Info("snapshot saved", zap.String("name", name), zap.Int64("entities", n))
	return true, nil
}

// LoadSnapshot restores the snapshot called name into idx and returns the
// number of entities inserted.
func (r *WorldRepo) LoadSnapshot(ctx context.Context, name string, idx *world.Index) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT entity_count FROM world_snapshot WHERE name = $1`, name,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("load snapshot %s: %w", name, ErrSnapshotNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("load snapshot %s: %w", name, err)
	}

	rows, err := r.db.Pool.Query(ctx,
		`SELECT x, y, attrs FROM world_entity WHERE snapshot = $1 ORDER BY seq`, name,
	)
	if err != nil {
		return 0, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	defer rows.Close()

	records := make([]world.Record, 0, count)
	for rows.Next() {
		var rec world.Record
		var attrs []int32
		if err := rows.Scan(&rec.X, &rec.Y, &attrs); err != nil {
			return 0, fmt.Errorf("scan snapshot %s: %w", name, err)
		}
		if len(attrs) != int(data.AttrCount) {
			return 0, fmt.Errorf("snapshot %s row %d: %d attributes, want %d",
				name, len(records), len(attrs), data.AttrCount)
		}
		copy(rec.Attrs[:], attrs)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("load snapshot %s: %w", name, err)
	}

	return world.Restore(idx, records), nil
}

// ListSnapshots returns every stored snapshot header ordered by name.
func (r *WorldRepo) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT name, entity_count, digest, saved_at FROM world_snapshot ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var s SnapshotInfo
		if err := rows.Scan(&s.Name, &s.EntityCount, &s.Digest, &s.SavedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot header: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return out, nil
}

// DeleteSnapshot drops a snapshot and its entity rows.
func (r *WorldRepo) DeleteSnapshot(ctx context.Context, name string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM world_snapshot WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete snapshot %s: %w", name, ErrSnapshotNotFound)
	}
	return nil
}

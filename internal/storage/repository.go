package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/iskng/embed-star/internal/embederr"
	"github.com/iskng/embed-star/internal/record"
)

// needsEmbeddingPredicate is the WHERE clause matching record.NeedsEmbedding:
// no embedding yet, or the row was updated after its embedding was
// generated. Shared by both discovery queries (C9) in spec.md §4.9.
const needsEmbeddingPredicate = `embedding IS NULL OR updated_at > embedding_generated_at`

// ScanBacklog returns up to limit repo rows matching the needs-embedding
// predicate, ordered by id for stable pagination. Grounded on
// original_source/src/surreal_client.rs's backlog scanner, which terminates
// the scan once a page comes back empty.
func (db *DB) ScanBacklog(ctx context.Context, afterID string, limit int) ([]record.Record, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, github_id, name, full_name, description, url, stars, language,
		       owner_login, owner_avatar_url, is_private, created_at, updated_at,
		       embedding, embedding_generated_at
		FROM repo
		WHERE (`+needsEmbeddingPredicate+`) AND id > $1
		ORDER BY id
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, embederr.New(embederr.Database, "storage.scan_backlog", err, "query backlog")
	}
	defer rows.Close()
	return scanRecords(rows)
}

// PollChanges returns up to limit repo rows matching the needs-embedding
// predicate, most recently updated first. Used by the change-poller
// producer goroutine (C9), which keeps a bounded recent-seen set to avoid
// re-enqueuing a row it already queued on an earlier tick.
func (db *DB) PollChanges(ctx context.Context, limit int) ([]record.Record, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, github_id, name, full_name, description, url, stars, language,
		       owner_login, owner_avatar_url, is_private, created_at, updated_at,
		       embedding, embedding_generated_at
		FROM repo
		WHERE `+needsEmbeddingPredicate+`
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, embederr.New(embederr.Database, "storage.poll_changes", err, "query changes")
	}
	defer rows.Close()
	return scanRecords(rows)
}

// CountPending returns the number of repo rows currently matching the
// needs-embedding predicate.
func (db *DB) CountPending(ctx context.Context) (int64, error) {
	var n int64
	if err := db.pool.QueryRow(ctx, `SELECT count(*) FROM repo WHERE `+needsEmbeddingPredicate).Scan(&n); err != nil {
		return 0, embederr.New(embederr.Database, "storage.count_pending", err, "count pending repos")
	}
	return n, nil
}

// CountEmbedded returns the number of repo rows that currently carry an
// embedding.
func (db *DB) CountEmbedded(ctx context.Context) (int64, error) {
	var n int64
	if err := db.pool.QueryRow(ctx, `SELECT count(*) FROM repo WHERE embedding IS NOT NULL`).Scan(&n); err != nil {
		return 0, embederr.New(embederr.Database, "storage.count_embedded", err, "count embedded repos")
	}
	return n, nil
}

func scanRecords(rows pgx.Rows) ([]record.Record, error) {
	var out []record.Record
	for rows.Next() {
		var r record.Record
		var vec *pgvector.Vector
		if err := rows.Scan(
			&r.ID, &r.GithubID, &r.Name, &r.FullName, &r.Description, &r.URL, &r.Stars, &r.Language,
			&r.Owner.Login, &r.Owner.AvatarURL, &r.IsPrivate, &r.CreatedAt, &r.UpdatedAt,
			&vec, &r.EmbeddingGeneratedAt,
		); err != nil {
			return nil, embederr.New(embederr.Database, "storage.scan_records", err, "scan row")
		}
		if vec != nil {
			r.Embedding = vec.Slice()
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, embederr.New(embederr.Database, "storage.scan_records", err, "iterate rows")
	}
	return out, nil
}

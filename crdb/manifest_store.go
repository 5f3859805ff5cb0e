package crdb

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/icetable/manifest"
	"github.com/danthegoodman1/icetable/partition"
	"github.com/danthegoodman1/icetable/utils"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ManifestStore keeps manifest entries in CRDB, the database stand-in for
// manifest files.
type ManifestStore struct {
	pool *pgxpool.Pool
}

func NewManifestStore(pool *pgxpool.Pool) *ManifestStore {
	return &ManifestStore{pool: pool}
}

func (s *ManifestStore) AppendManifestEntries(ctx context.Context, entries []manifest.ManifestEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := utils.ReliableExecInTx(ctx, s.pool, StandardContextTimeout, func(ctx context.Context, tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range entries {
			var externalPath pgtype.Text
			if err := externalPath.Set(e.File.ExternalPath); err != nil {
				return fmt.Errorf("error in externalPath.Set: %w", err)
			}
			batch.Queue(`INSERT INTO manifest_entries (kind, partition, bucket, total_buckets, file_name, file_size,
					row_count, creation_time_ms, file_format, level, external_path)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				e.Kind.String(), string(e.Partition), e.Bucket, e.TotalBuckets, e.File.FileName, e.File.FileSize,
				e.File.RowCount, e.File.CreationTimeMillis, e.File.FileFormat, e.File.Level, externalPath)
		}
		br := tx.SendBatch(ctx, batch)
		for range entries {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("error inserting manifest entry: %w", err)
			}
		}
		return br.Close()
	})
	if err != nil {
		return fmt.Errorf("error appending %d manifest entries: %w", len(entries), err)
	}
	return nil
}

// ListManifestEntries returns the entries of p, or of every partition when p is empty,
// in the order they were appended.
func (s *ManifestStore) ListManifestEntries(ctx context.Context, p partition.Key) ([]manifest.ManifestEntry, error) {
	var entries []manifest.ManifestEntry
	err := utils.ReliableExec(ctx, s.pool, StandardContextTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		entries = entries[:0]
		rows, err := conn.Query(ctx, `SELECT kind, partition, bucket, total_buckets, file_name, file_size,
				row_count, creation_time_ms, file_format, level, external_path
			FROM manifest_entries
			WHERE $1 = '' OR partition = $1
			ORDER BY seq`, string(p))
		if err != nil {
			return fmt.Errorf("error in Query: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				kind, part   string
				externalPath pgtype.Text
				e            manifest.ManifestEntry
			)
			if err := rows.Scan(&kind, &part, &e.Bucket, &e.TotalBuckets, &e.File.FileName, &e.File.FileSize,
				&e.File.RowCount, &e.File.CreationTimeMillis, &e.File.FileFormat, &e.File.Level, &externalPath); err != nil {
				return fmt.Errorf("error in rows.Scan: %w", err)
			}
			if err := e.Kind.UnmarshalText([]byte(kind)); err != nil {
				return utils.PermError(err.Error())
			}
			e.Partition = partition.Key(part)
			e.File.ExternalPath = textPtr(externalPath)
			entries = append(entries, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("error listing manifest entries: %w", err)
	}
	return entries, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Status != pgtype.Present {
		return nil
	}
	return utils.Ptr(t.String)
}

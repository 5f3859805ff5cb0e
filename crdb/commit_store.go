package crdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danthegoodman1/icetable/commit"
	"github.com/danthegoodman1/icetable/utils"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

const uniqueViolation = "23505"

// CommitStore persists committables in CRDB. A committable is keyed by
// checkpoint, partition and bucket, so replaying a checkpoint is rejected.
type CommitStore struct {
	pool *pgxpool.Pool
}

func NewCommitStore(pool *pgxpool.Pool) *CommitStore {
	return &CommitStore{pool: pool}
}

// Commit writes every committable in one transaction.
func (s *CommitStore) Commit(ctx context.Context, committables []commit.Committable) error {
	for _, c := range committables {
		if err := c.Validate(); err != nil {
			return utils.PermError(err.Error())
		}
	}
	if len(committables) == 0 {
		return nil
	}

	batchID := utils.GenRandomID("cb_")
	logger := zerolog.Ctx(ctx).With().Str("batchID", batchID).Logger()

	err := utils.ReliableExecInTx(ctx, s.pool, StandardContextTimeout, func(ctx context.Context, tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, c := range committables {
			msg, err := json.Marshal(c.Message)
			if err != nil {
				return utils.PermError(fmt.Sprintf("error marshalling commit message: %s", err))
			}
			batch.Queue(`INSERT INTO changelog_commits (checkpoint_id, partition, bucket, total_buckets, kind, batch_id, message)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				c.CheckpointID, string(c.Message.Partition), c.Message.Bucket, c.Message.TotalBuckets, string(c.Kind), batchID, msg)
		}

		br := tx.SendBatch(ctx, batch)
		for range committables {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return mapCommitError(err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("error in br.Close: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error committing %d committables: %w", len(committables), err)
	}

	logger.Debug().Int("committables", len(committables)).Msg("committed changelog")
	return nil
}

// ListCommits returns the committables of a checkpoint ordered by partition and bucket.
func (s *CommitStore) ListCommits(ctx context.Context, checkpointID int64) ([]commit.Committable, error) {
	var committables []commit.Committable
	err := utils.ReliableExec(ctx, s.pool, StandardContextTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		committables = committables[:0]
		rows, err := conn.Query(ctx, `SELECT kind, message FROM changelog_commits
			WHERE checkpoint_id = $1 ORDER BY partition, bucket`, checkpointID)
		if err != nil {
			return fmt.Errorf("error in Query: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				kind string
				raw  []byte
			)
			if err := rows.Scan(&kind, &raw); err != nil {
				return fmt.Errorf("error in rows.Scan: %w", err)
			}
			c := commit.Committable{CheckpointID: checkpointID, Kind: commit.Kind(kind)}
			if err := json.Unmarshal(raw, &c.Message); err != nil {
				return utils.PermError(fmt.Sprintf("error unmarshalling commit message: %s", err))
			}
			committables = append(committables, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("error listing commits for checkpoint %d: %w", checkpointID, err)
	}
	return committables, nil
}

func mapCommitError(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %w", commit.ErrAlreadyCommitted, utils.PermError(err.Error()))
	}
	return fmt.Errorf("error inserting committable: %w", err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

package changelog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/danthegoodman1/icetable/commit"
	"github.com/danthegoodman1/icetable/datafile"
	"github.com/danthegoodman1/icetable/executor"
	"github.com/danthegoodman1/icetable/fileio"
	"github.com/danthegoodman1/icetable/partition"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type (
	// ChangelogCompactTask merges the changelog files of one partition written
	// during one checkpoint into a single file. It is immutable and meant to be
	// run once.
	ChangelogCompactTask struct {
		checkpointID          int64
		partition             partition.Key
		totalBuckets          int
		newFileChangelogFiles map[int][]datafile.DataFileMeta
		compactChangelogFiles map[int][]datafile.DataFileMeta
	}

	// Table is the storage a task reads from and writes to.
	Table struct {
		FileIO      fileio.FileIO
		PathFactory *datafile.PathFactory
	}
)

func NewChangelogCompactTask(
	checkpointID int64,
	p partition.Key,
	totalBuckets int,
	newFileChangelogFiles,
	compactChangelogFiles map[int][]datafile.DataFileMeta,
) (*ChangelogCompactTask, error) {
	if len(newFileChangelogFiles) > 0 && len(compactChangelogFiles) > 0 {
		return nil, fmt.Errorf("%w: checkpoint %d, partition %q", ErrBothChangelogSources, checkpointID, string(p))
	}
	return &ChangelogCompactTask{
		checkpointID:          checkpointID,
		partition:             p,
		totalBuckets:          totalBuckets,
		newFileChangelogFiles: copyBucketFiles(newFileChangelogFiles),
		compactChangelogFiles: copyBucketFiles(compactChangelogFiles),
	}, nil
}

func (t *ChangelogCompactTask) CheckpointID() int64 {
	return t.checkpointID
}

func (t *ChangelogCompactTask) Partition() partition.Key {
	return t.partition
}

func (t *ChangelogCompactTask) TotalBuckets() int {
	return t.totalBuckets
}

func (t *ChangelogCompactTask) NewFileChangelogFiles() map[int][]datafile.DataFileMeta {
	return copyBucketFiles(t.newFileChangelogFiles)
}

func (t *ChangelogCompactTask) CompactChangelogFiles() map[int][]datafile.DataFileMeta {
	return copyBucketFiles(t.compactChangelogFiles)
}

func (t *ChangelogCompactTask) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ChangelogCompactTask{checkpoint=%d, partition=%q, ", t.checkpointID, string(t.partition))
	fmt.Fprintf(&sb, "newFileChangelogFiles=%v, compactChangelogFiles=%v}", t.newFileChangelogFiles, t.compactChangelogFiles)
	return sb.String()
}

// DoCompact reads every changelog file of the task through ex, holding at most
// bufferSize bytes of file contents at once, concatenates them into one file
// and returns one committable per bucket describing the merged segments.
// Source files are deleted once read. Nothing is committed on failure.
func (t *ChangelogCompactTask) DoCompact(ctx context.Context, table Table, ex executor.Executor, bufferSize int64) ([]commit.Committable, error) {
	if bufferSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBufferSize, bufferSize)
	}
	return t.doCompact(ctx, table, ex, NewGate(bufferSize))
}

func (t *ChangelogCompactTask) doCompact(ctx context.Context, table Table, ex executor.Executor, gate *Gate) ([]commit.Committable, error) {
	logger := zerolog.Ctx(ctx).With().Int64("checkpointID", t.checkpointID).Str("partition", string(t.partition)).Logger()
	ctx = logger.WithContext(ctx)

	tasks, err := t.scheduleReadTasks(table.PathFactory, gate.Capacity())
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, ErrNoResults
	}
	logger.Debug().Int("files", len(tasks)).Int64("bufferSize", gate.Capacity()).Msg("compacting changelog files")

	// Buffered so that workers never block handing back a task, even after we stopped draining
	finished := make(chan *readTask, len(tasks))
	// Workers still waiting on the gate give up without reading (and deleting) their file once this is cancelled
	gateCtx, cancelGate := context.WithCancel(ctx)
	defer cancelGate()

	executor.SubmitAll(ex, tasks, func(rt *readTask) {
		if err := gate.Acquire(gateCtx, rt.meta.FileSize); err != nil {
			rt.err = err
			finished <- rt
			return
		}
		rt.readFully(ctx, table.FileIO)
		finished <- rt
	})

	w := newMergeWriter(table.FileIO)
	for i := 0; i < len(tasks); i++ {
		if err := ctx.Err(); err != nil {
			w.abort(ctx)
			return nil, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}

		var rt *readTask
		select {
		case rt = <-finished:
		case <-ctx.Done():
			w.abort(ctx)
			return nil, fmt.Errorf("%w: waiting for changelog reads: %w", ErrInterrupted, ctx.Err())
		}

		if rt.err != nil {
			w.abort(ctx)
			return nil, rt.err
		}
		if err := w.write(ctx, rt); err != nil {
			w.abort(ctx)
			return nil, err
		}
		gate.Release(rt.meta.FileSize)
	}

	if err := w.close(); err != nil {
		w.abort(ctx)
		return nil, err
	}
	if len(w.results) == 0 {
		logger.Debug().Msg("all changelog files were empty, nothing to commit")
		return nil, nil
	}

	return t.produceCommittables(ctx, table, w)
}

// scheduleReadTasks lists new-file changelog before compaction changelog, buckets
// in ascending order. Files that could never fit in the buffer fail the task
// before anything is read.
func (t *ChangelogCompactTask) scheduleReadTasks(pf *datafile.PathFactory, bufferSize int64) ([]*readTask, error) {
	var tasks []*readTask
	addTasks := func(files map[int][]datafile.DataFileMeta, isCompactResult bool) error {
		for _, bucket := range sortedBuckets(files) {
			dataFilePathFactory := pf.DataFilePathFactory(t.partition, bucket)
			for _, meta := range files[bucket] {
				if meta.FileSize > bufferSize {
					return fmt.Errorf("%w: file %s is %d bytes, the buffer is only %d bytes", ErrBufferTooSmall, meta.FileName, meta.FileSize, bufferSize)
				}
				tasks = append(tasks, &readTask{
					path:            dataFilePathFactory.ToPath(meta),
					bucket:          bucket,
					isCompactResult: isCompactResult,
					meta:            meta,
				})
			}
		}
		return nil
	}

	if err := addTasks(t.newFileChangelogFiles, false); err != nil {
		return nil, err
	}
	if err := addTasks(t.compactChangelogFiles, true); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (t *ChangelogCompactTask) produceCommittables(ctx context.Context, table Table, w *mergeWriter) ([]commit.Committable, error) {
	logger := zerolog.Ctx(ctx)

	baseResult := w.results[0]
	if baseResult.offset != 0 {
		w.abort(ctx)
		return nil, fmt.Errorf("first merged changelog segment starts at offset %d", baseResult.offset)
	}

	realName := compactedRealName(uuid.NewString(), baseResult.bucket, baseResult.length)
	realPath := table.PathFactory.DataFilePathFactory(t.partition, baseResult.bucket).ToAlignedPath(
		realName+"."+FormatIdentifier(baseResult.meta.FileFormat),
		baseResult.meta,
	)
	logger.Debug().Msgf("rename %s to %s", w.path, realPath)
	if err := table.FileIO.Rename(ctx, w.path, realPath); err != nil {
		fileio.DeleteQuietly(ctx, table.FileIO, w.path)
		return nil, fmt.Errorf("error renaming merged changelog file to %s: %w", realPath, err)
	}

	bucketedResults := make(map[int][]result)
	for _, r := range w.results {
		bucketedResults[r.bucket] = append(bucketedResults[r.bucket], r)
	}
	buckets := make([]int, 0, len(bucketedResults))
	for bucket := range bucketedResults {
		buckets = append(buckets, bucket)
	}
	sort.Ints(buckets)

	committables := make([]commit.Committable, 0, len(buckets))
	for _, bucket := range buckets {
		var newFilesChangelog, compactChangelog []datafile.DataFileMeta
		for _, r := range bucketedResults[bucket] {
			renamed := r.meta.Rename(r.logicalName(realName))
			if r.isCompactResult {
				compactChangelog = append(compactChangelog, renamed)
			} else {
				newFilesChangelog = append(newFilesChangelog, renamed)
			}
		}

		committables = append(committables, commit.Committable{
			CheckpointID: t.checkpointID,
			Kind:         commit.KindFile,
			Message: commit.CommitMessage{
				Partition:    t.partition,
				Bucket:       bucket,
				TotalBuckets: t.totalBuckets,
				NewFilesIncrement: commit.DataIncrement{
					ChangelogFiles: newFilesChangelog,
				},
				CompactIncrement: commit.CompactIncrement{
					ChangelogFiles: compactChangelog,
				},
			},
		})
	}

	logger.Info().Int("files", len(w.results)).Int("buckets", len(buckets)).Str("path", realPath).Msg("compacted changelog files")
	return committables, nil
}

func sortedBuckets(files map[int][]datafile.DataFileMeta) []int {
	buckets := make([]int, 0, len(files))
	for bucket := range files {
		buckets = append(buckets, bucket)
	}
	sort.Ints(buckets)
	return buckets
}

func copyBucketFiles(files map[int][]datafile.DataFileMeta) map[int][]datafile.DataFileMeta {
	copied := make(map[int][]datafile.DataFileMeta, len(files))
	for bucket, metas := range files {
		copied[bucket] = append([]datafile.DataFileMeta(nil), metas...)
	}
	return copied
}

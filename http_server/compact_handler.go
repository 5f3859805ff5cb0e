package http_server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danthegoodman1/icetable/changelog"
	"github.com/danthegoodman1/icetable/commit"
	"github.com/danthegoodman1/icetable/datafile"
	"github.com/danthegoodman1/icetable/fileio"
	"github.com/danthegoodman1/icetable/gologger"
	"github.com/danthegoodman1/icetable/partition"
	"github.com/danthegoodman1/icetable/utils"
	"github.com/rs/zerolog"
)

type (
	CompactReqBody struct {
		CheckpointID int64
		// The partition path below the table root.
		//
		// Ex: `dt=2024-05-01/hr=03`
		Partition    string
		TotalBuckets int `validate:"gte=1"`
		// Changelog written by writers during the checkpoint, by bucket.
		NewFileChangelogFiles map[int][]datafile.DataFileMeta
		// Changelog produced by compaction during the checkpoint, by bucket.
		CompactChangelogFiles map[int][]datafile.DataFileMeta
		// How many bytes of changelog may be held in memory at once.
		//
		// Defaults to `CHANGELOG_BUFFER_BYTES`.
		BufferSizeBytes *int64 `validate:"omitempty,gte=1"`
		// How many seconds before the compaction will time out.
		//
		// Default `60`.
		MaxRuntimeSec *int64
	}

	CompactStats struct {
		FilesCompacted int64
		BytesCompacted int64
		Committables   []commit.Committable
		TimeMS         int64
	}
)

var (
	ErrFileOutsideTable = errors.New("changelog file is not inside the table")
	ErrSinkNotListable  = errors.New("commit sink cannot list commits")
)

func (s *HTTPServer) CompactChangelogHandler(c *CustomContext) error {
	var reqBody CompactReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*time.Duration(utils.Deref(reqBody.MaxRuntimeSec, 60)))
	defer cancel()
	ctx = context.WithValue(ctx, gologger.CheckpointIDKey, reqBody.CheckpointID)

	logger := zerolog.Ctx(ctx)
	start := time.Now()

	p := partition.Key(reqBody.Partition)
	if _, err := p.Values(); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	for _, files := range [2]map[int][]datafile.DataFileMeta{reqBody.NewFileChangelogFiles, reqBody.CompactChangelogFiles} {
		if err := checkTableFiles(files); err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
	}

	task, err := changelog.NewChangelogCompactTask(
		reqBody.CheckpointID,
		p,
		reqBody.TotalBuckets,
		reqBody.NewFileChangelogFiles,
		reqBody.CompactChangelogFiles,
	)
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	logger.Debug().Str("task", task.String()).Msg("running changelog compaction")

	table := changelog.Table{
		FileIO:      s.deps.FileIO,
		PathFactory: s.deps.PathFactory,
	}
	committables, err := task.DoCompact(ctx, table, s.deps.Executor, utils.Deref(reqBody.BufferSizeBytes, s.deps.BufferSizeBytes))
	if errors.Is(err, changelog.ErrNoResults) {
		logger.Debug().Msg("no changelog files to compact")
		return c.NoContent(http.StatusNoContent)
	}
	if utils.IsPermErr(err) {
		return c.String(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return c.InternalError(err, "error compacting changelog")
	}

	if err := s.deps.Sink.Commit(ctx, committables); err != nil {
		if errors.Is(err, commit.ErrAlreadyCommitted) {
			return c.String(http.StatusConflict, err.Error())
		}
		return c.InternalError(err, "error committing compacted changelog")
	}

	res := CompactStats{
		Committables: utils.ArrayOrEmpty(committables),
	}
	for _, files := range [2]map[int][]datafile.DataFileMeta{reqBody.NewFileChangelogFiles, reqBody.CompactChangelogFiles} {
		for _, metas := range files {
			for _, meta := range metas {
				res.FilesCompacted++
				res.BytesCompacted += meta.FileSize
			}
		}
	}
	res.TimeMS = time.Since(start).Milliseconds()
	return c.JSON(http.StatusOK, res)
}

// checkTableFiles keeps client supplied files inside their bucket directory.
func checkTableFiles(files map[int][]datafile.DataFileMeta) error {
	for bucket, metas := range files {
		if bucket < 0 {
			return fmt.Errorf("%w: bucket %d", ErrFileOutsideTable, bucket)
		}
		for _, meta := range metas {
			if meta.ExternalPath != nil {
				return fmt.Errorf("%w: external path %s", ErrFileOutsideTable, *meta.ExternalPath)
			}
			name := meta.FileName
			if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
				return fmt.Errorf("%w: file name %q", ErrFileOutsideTable, name)
			}
		}
	}
	return nil
}

func (s *HTTPServer) ReadSegmentHandler(c *CustomContext) error {
	segmentPath := c.QueryParam("path")
	if segmentPath == "" {
		return c.String(http.StatusBadRequest, "missing path")
	}

	b, err := changelog.ReadSegment(c.Request().Context(), s.deps.FileIO, s.tablePath(segmentPath))
	if errors.Is(err, changelog.ErrMalformedName) {
		return c.String(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, fileio.ErrFileNotFound) {
		return c.String(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return c.InternalError(err, "error reading changelog segment")
	}
	return c.Blob(http.StatusOK, "application/octet-stream", b)
}

// ListCommitsHandler returns what a checkpoint committed, ordered by partition and bucket.
func (s *HTTPServer) ListCommitsHandler(c *CustomContext) error {
	checkpointID, err := strconv.ParseInt(c.QueryParam("checkpointID"), 10, 64)
	if err != nil {
		return c.String(http.StatusBadRequest, fmt.Sprintf("invalid checkpointID: %s", err))
	}
	lister, ok := s.deps.Sink.(CommitLister)
	if !ok {
		return c.String(http.StatusNotImplemented, ErrSinkNotListable.Error())
	}

	committables, err := lister.ListCommits(c.Request().Context(), checkpointID)
	if err != nil {
		return c.InternalError(err, "error listing commits")
	}
	return c.JSON(http.StatusOK, utils.ArrayOrEmpty(committables))
}

package changelog

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/icetable/datafile"
	"github.com/danthegoodman1/icetable/fileio"
	"github.com/danthegoodman1/icetable/utils"
	"github.com/rs/zerolog"
)

type (
	// mergeWriter appends drained blobs to a single temporary file. Only the
	// orchestrating goroutine uses it.
	mergeWriter struct {
		fio     fileio.FileIO
		path    string
		out     fileio.PositionOutputStream
		closed  bool
		results []result
	}

	// result locates one source file inside the merged file.
	result struct {
		bucket          int
		isCompactResult bool
		meta            datafile.DataFileMeta
		offset          int64
		length          int64
	}
)

func newMergeWriter(fio fileio.FileIO) *mergeWriter {
	return &mergeWriter{fio: fio}
}

// write appends the blob of rt. Empty files hold no changelog and get no segment,
// which keeps offset 0 unique to the primary name.
func (w *mergeWriter) write(ctx context.Context, rt *readTask) error {
	if len(rt.result) == 0 {
		return nil
	}
	if w.out == nil {
		w.path = datafile.Sibling(rt.path, utils.GenKSortedID(TempFilePrefix))
		out, err := w.fio.NewOutputStream(ctx, w.path, false)
		if err != nil {
			return fmt.Errorf("error creating merged changelog file %s: %w", w.path, err)
		}
		w.out = out
	}

	zerolog.Ctx(ctx).Debug().Msgf("copying bytes from %s to %s", rt.path, w.path)
	offset := w.out.Pos()
	if _, err := w.out.Write(rt.result); err != nil {
		return fmt.Errorf("error writing %s into %s: %w", rt.path, w.path, err)
	}
	w.results = append(w.results, result{
		bucket:          rt.bucket,
		isCompactResult: rt.isCompactResult,
		meta:            rt.meta,
		offset:          offset,
		length:          w.out.Pos() - offset,
	})
	rt.result = nil
	return nil
}

func (w *mergeWriter) close() error {
	if w.out == nil || w.closed {
		return nil
	}
	w.closed = true
	if err := w.out.Close(); err != nil {
		return fmt.Errorf("error closing merged changelog file %s: %w", w.path, err)
	}
	return nil
}

// abort drops the temporary file so nothing partial survives a failed task.
func (w *mergeWriter) abort(ctx context.Context) {
	if w.out == nil {
		return
	}
	if w.closed {
		fileio.DeleteQuietly(ctx, w.fio, w.path)
		return
	}
	w.closed = true
	fileio.AbortOutputStream(ctx, w.fio, w.out, w.path)
}

func (r result) logicalName(realName string) string {
	return logicalName(realName, r.offset, r.length, r.meta.FileFormat)
}

package fileio

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danthegoodman1/icetable/gologger"
	"github.com/rs/zerolog"
)

var (
	logger = gologger.NewComponentLogger("fileio")

	ErrFileExists   = errors.New("file already exists")
	ErrFileNotFound = errors.New("file not found")
)

type (
	// FileIO is the storage the table lives on. Paths are slash separated.
	FileIO interface {
		NewInputStream(ctx context.Context, path string) (io.ReadCloser, error)
		// NewRangeInputStream reads length bytes starting at offset.
		NewRangeInputStream(ctx context.Context, path string, offset, length int64) (io.ReadCloser, error)
		// NewOutputStream creates path, failing with ErrFileExists when it exists and overwrite is false.
		NewOutputStream(ctx context.Context, path string, overwrite bool) (PositionOutputStream, error)
		Delete(ctx context.Context, path string) error
		// Rename moves src to dst, failing with ErrFileExists rather than clobbering dst.
		Rename(ctx context.Context, src, dst string) error
		Exists(ctx context.Context, path string) (bool, error)
	}

	// PositionOutputStream is an append-only stream that knows how many bytes it has taken.
	PositionOutputStream interface {
		io.WriteCloser
		Pos() int64
	}
)

func ReadFully(ctx context.Context, fio FileIO, path string) ([]byte, error) {
	r, err := fio.NewInputStream(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("error in NewInputStream: %w", err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error in io.ReadAll: %w", err)
	}
	return b, nil
}

func ReadRange(ctx context.Context, fio FileIO, path string, offset, length int64) ([]byte, error) {
	r, err := fio.NewRangeInputStream(ctx, path, offset, length)
	if err != nil {
		return nil, fmt.Errorf("error in NewRangeInputStream: %w", err)
	}
	defer r.Close()
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("error reading %d bytes at offset %d of %s: %w", length, offset, path, err)
	}
	return b, nil
}

// DeleteQuietly deletes path and only logs a failure.
func DeleteQuietly(ctx context.Context, fio FileIO, path string) {
	if err := fio.Delete(ctx, path); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("path", path).Msg("failed to delete file, ignoring")
	}
}

// AbortOutputStream drops out without publishing it, then removes whatever reached path.
// Streams that only publish on Close, like S3, are discarded instead of closed.
func AbortOutputStream(ctx context.Context, fio FileIO, out PositionOutputStream, path string) {
	if d, ok := out.(interface{ Discard() }); ok {
		d.Discard()
	} else if err := out.Close(); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("path", path).Msg("failed to close aborted stream, ignoring")
	}
	DeleteQuietly(ctx, fio, path)
}

type countingWriter struct {
	w   io.Writer
	pos int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.pos += int64(n)
	return n, err
}

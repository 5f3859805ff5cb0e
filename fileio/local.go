package fileio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

type (
	LocalFileIO struct{}

	localOutputStream struct {
		f *os.File
		countingWriter
	}

	limitedFile struct {
		io.Reader
		f *os.File
	}
)

func NewLocalFileIO() *LocalFileIO {
	return &LocalFileIO{}
}

func (*LocalFileIO) NewInputStream(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.FromSlash(path))
	if err != nil {
		return nil, fmt.Errorf("error in os.Open: %w", wrapNotExist(err))
	}
	return f, nil
}

func (*LocalFileIO) NewRangeInputStream(_ context.Context, path string, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(filepath.FromSlash(path))
	if err != nil {
		return nil, fmt.Errorf("error in os.Open: %w", wrapNotExist(err))
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("error in f.Seek: %w", err)
	}
	return &limitedFile{Reader: io.LimitReader(f, length), f: f}, nil
}

func (*LocalFileIO) NewOutputStream(_ context.Context, path string, overwrite bool) (PositionOutputStream, error) {
	p := filepath.FromSlash(path)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(p, flags, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileExists, path)
		}
		return nil, fmt.Errorf("error in os.OpenFile: %w", err)
	}
	return &localOutputStream{f: f, countingWriter: countingWriter{w: f}}, nil
}

func (*LocalFileIO) Delete(_ context.Context, path string) error {
	err := os.Remove(filepath.FromSlash(path))
	if err != nil {
		return fmt.Errorf("error in os.Remove: %w", wrapNotExist(err))
	}
	return nil
}

func (*LocalFileIO) Rename(_ context.Context, src, dst string) error {
	d := filepath.FromSlash(dst)
	if _, err := os.Stat(d); err == nil {
		return fmt.Errorf("%w: %s", ErrFileExists, dst)
	}
	if err := os.MkdirAll(filepath.Dir(d), 0o755); err != nil {
		return fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	if err := os.Rename(filepath.FromSlash(src), d); err != nil {
		return fmt.Errorf("error in os.Rename: %w", wrapNotExist(err))
	}
	return nil
}

func (*LocalFileIO) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(filepath.FromSlash(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("error in os.Stat: %w", err)
}

func (s *localOutputStream) Pos() int64 {
	return s.pos
}

func (s *localOutputStream) Close() error {
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return fmt.Errorf("error in f.Sync: %w", err)
	}
	return s.f.Close()
}

func (lf *limitedFile) Close() error {
	return lf.f.Close()
}

func wrapNotExist(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrFileNotFound, err.Error())
	}
	return err
}

package fileio

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/xitongsys/parquet-go/source"
)

var ErrReadOnlyParquetFile = errors.New("parquet file is read only")

// parquetBytesFile serves a fully read object to the parquet reader, which needs
// to seek to the footer and to open one handle per column.
type parquetBytesFile struct {
	*bytes.Reader
	b []byte
}

func NewParquetBytesFile(b []byte) source.ParquetFile {
	return &parquetBytesFile{Reader: bytes.NewReader(b), b: b}
}

// OpenParquetFile reads path through fio for use with the parquet reader.
func OpenParquetFile(ctx context.Context, fio FileIO, path string) (source.ParquetFile, error) {
	b, err := ReadFully(ctx, fio, path)
	if err != nil {
		return nil, fmt.Errorf("error in ReadFully: %w", err)
	}
	return NewParquetBytesFile(b), nil
}

func (pf *parquetBytesFile) Open(_ string) (source.ParquetFile, error) {
	return NewParquetBytesFile(pf.b), nil
}

func (pf *parquetBytesFile) Create(_ string) (source.ParquetFile, error) {
	return nil, ErrReadOnlyParquetFile
}

func (pf *parquetBytesFile) Write(_ []byte) (int, error) {
	return 0, ErrReadOnlyParquetFile
}

func (pf *parquetBytesFile) Close() error {
	return nil
}

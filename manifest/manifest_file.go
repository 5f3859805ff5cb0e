package manifest

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/icetable/datafile"
	"github.com/danthegoodman1/icetable/fileio"
	"github.com/danthegoodman1/icetable/partition"
	"github.com/rs/zerolog"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

// manifestRow is the on-disk parquet layout of a ManifestEntry.
type manifestRow struct {
	Kind               int32   `parquet:"name=kind, type=INT32"`
	Partition          string  `parquet:"name=partition, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Bucket             int32   `parquet:"name=bucket, type=INT32"`
	TotalBuckets       int32   `parquet:"name=total_buckets, type=INT32"`
	FileName           string  `parquet:"name=file_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	FileSize           int64   `parquet:"name=file_size, type=INT64"`
	RowCount           int64   `parquet:"name=row_count, type=INT64"`
	CreationTimeMillis int64   `parquet:"name=creation_time_millis, type=INT64"`
	FileFormat         string  `parquet:"name=file_format, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Level              int32   `parquet:"name=level, type=INT32"`
	ExternalPath       *string `parquet:"name=external_path, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}

func toManifestRow(e ManifestEntry) manifestRow {
	return manifestRow{
		Kind:               int32(e.Kind),
		Partition:          string(e.Partition),
		Bucket:             int32(e.Bucket),
		TotalBuckets:       int32(e.TotalBuckets),
		FileName:           e.File.FileName,
		FileSize:           e.File.FileSize,
		RowCount:           e.File.RowCount,
		CreationTimeMillis: e.File.CreationTimeMillis,
		FileFormat:         e.File.FileFormat,
		Level:              int32(e.File.Level),
		ExternalPath:       e.File.ExternalPath,
	}
}

func (r manifestRow) toEntry() (ManifestEntry, error) {
	kind := FileKind(r.Kind)
	if kind != Add && kind != Delete {
		return ManifestEntry{}, fmt.Errorf("%w: %d for file %s", ErrUnknownFileKind, r.Kind, r.FileName)
	}
	return ManifestEntry{
		Kind:         kind,
		Partition:    partition.Key(r.Partition),
		Bucket:       int(r.Bucket),
		TotalBuckets: int(r.TotalBuckets),
		File: datafile.DataFileMeta{
			FileName:           r.FileName,
			FileSize:           r.FileSize,
			RowCount:           r.RowCount,
			CreationTimeMillis: r.CreationTimeMillis,
			FileFormat:         r.FileFormat,
			Level:              int(r.Level),
			ExternalPath:       r.ExternalPath,
		},
	}, nil
}

// WriteManifestFile writes entries as a new parquet file at path and returns its size.
func WriteManifestFile(ctx context.Context, fio fileio.FileIO, path string, entries []ManifestEntry) (int64, error) {
	logger := zerolog.Ctx(ctx)

	out, err := fio.NewOutputStream(ctx, path, false)
	if err != nil {
		return 0, fmt.Errorf("error in NewOutputStream: %w", err)
	}

	pw, err := writer.NewParquetWriterFromWriter(out, new(manifestRow), 4)
	if err != nil {
		fileio.AbortOutputStream(ctx, fio, out, path)
		return 0, fmt.Errorf("error in NewParquetWriterFromWriter: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, entry := range entries {
		if err := pw.Write(toManifestRow(entry)); err != nil {
			fileio.AbortOutputStream(ctx, fio, out, path)
			return 0, fmt.Errorf("error in pw.Write for file %s: %w", entry.File.FileName, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fileio.AbortOutputStream(ctx, fio, out, path)
		return 0, fmt.Errorf("error in pw.WriteStop: %w", err)
	}

	size := out.Pos()
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("error closing manifest file: %w", err)
	}
	logger.Debug().Str("path", path).Int("entries", len(entries)).Int64("bytes", size).Msg("wrote manifest file")
	return size, nil
}

func ReadManifestFile(ctx context.Context, fio fileio.FileIO, path string) ([]ManifestEntry, error) {
	pf, err := fileio.OpenParquetFile(ctx, fio, path)
	if err != nil {
		return nil, fmt.Errorf("error opening manifest file %s: %w", path, err)
	}
	defer pf.Close()

	pr, err := reader.NewParquetReader(pf, new(manifestRow), 4)
	if err != nil {
		return nil, fmt.Errorf("error in NewParquetReader for %s: %w", path, err)
	}
	defer pr.ReadStop()

	rows := make([]manifestRow, int(pr.GetNumRows()))
	if len(rows) > 0 {
		if err := pr.Read(&rows); err != nil {
			return nil, fmt.Errorf("error in pr.Read for %s: %w", path, err)
		}
	}

	entries := make([]ManifestEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// MergeManifestFiles folds the entries of every file at paths.
func MergeManifestFiles(ctx context.Context, fio fileio.FileIO, paths []string) (map[partition.Key]PartitionEntry, error) {
	partitions := make(map[partition.Key]PartitionEntry)
	for _, path := range paths {
		entries, err := ReadManifestFile(ctx, fio, path)
		if err != nil {
			return nil, err
		}
		MergeInto(SortedEntries(MergeEntries(entries)), partitions)
	}
	return partitions, nil
}

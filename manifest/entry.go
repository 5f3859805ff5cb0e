package manifest

import (
	"errors"
	"fmt"

	"github.com/danthegoodman1/icetable/datafile"
	"github.com/danthegoodman1/icetable/partition"
)

type (
	FileKind int8

	// ManifestEntry records one file being added to or deleted from a partition bucket.
	ManifestEntry struct {
		Kind         FileKind
		Partition    partition.Key
		Bucket       int
		TotalBuckets int
		File         datafile.DataFileMeta
	}

	// DataSplit is the finalized file listing of one partition bucket as seen by a reader.
	DataSplit struct {
		Partition partition.Key
		Bucket    int
		DataFiles []datafile.DataFileMeta
		// BeforeFiles are superseded by DataFiles.
		BeforeFiles []datafile.DataFileMeta
		// DeletionFiles are deletion vectors over DataFiles.
		DeletionFiles []string
	}
)

const (
	Add FileKind = iota
	Delete
)

var ErrUnknownFileKind = errors.New("unknown file kind")

func (k FileKind) String() string {
	switch k {
	case Add:
		return "ADD"
	case Delete:
		return "DELETE"
	default:
		return fmt.Sprintf("FileKind(%d)", int8(k))
	}
}

func (k FileKind) MarshalText() ([]byte, error) {
	if k != Add && k != Delete {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFileKind, int8(k))
	}
	return []byte(k.String()), nil
}

func (k *FileKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ADD":
		*k = Add
	case "DELETE":
		*k = Delete
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFileKind, string(b))
	}
	return nil
}

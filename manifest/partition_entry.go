package manifest

import (
	"fmt"
	"sort"

	"github.com/danthegoodman1/icetable/datafile"
	"github.com/danthegoodman1/icetable/partition"
)

type (
	// PartitionEntry is the net contribution of a set of manifest entries to one
	// partition. Counts are signed sums, so folding in any order or grouping
	// yields the same entry.
	PartitionEntry struct {
		Partition            partition.Key
		RecordCount          int64
		FileSizeInBytes      int64
		FileCount            int64
		LastFileCreationTime int64
	}

	PartitionStatistics struct {
		Partition            partition.Key
		Spec                 map[string]string
		RecordCount          int64
		FileSizeInBytes      int64
		FileCount            int64
		LastFileCreationTime int64
	}
)

func (e PartitionEntry) Merge(other PartitionEntry) PartitionEntry {
	return PartitionEntry{
		Partition:            e.Partition,
		RecordCount:          e.RecordCount + other.RecordCount,
		FileSizeInBytes:      e.FileSizeInBytes + other.FileSizeInBytes,
		FileCount:            e.FileCount + other.FileCount,
		LastFileCreationTime: max(e.LastFileCreationTime, other.LastFileCreationTime),
	}
}

func (e PartitionEntry) ToStatistics() (PartitionStatistics, error) {
	spec, err := e.Partition.Spec()
	if err != nil {
		return PartitionStatistics{}, fmt.Errorf("error decoding partition %q: %w", string(e.Partition), err)
	}
	return PartitionStatistics{
		Partition:            e.Partition,
		Spec:                 spec,
		RecordCount:          e.RecordCount,
		FileSizeInBytes:      e.FileSizeInBytes,
		FileCount:            e.FileCount,
		LastFileCreationTime: e.LastFileCreationTime,
	}, nil
}

func FromManifestEntry(entry ManifestEntry) PartitionEntry {
	return FromDataFile(entry.Partition, entry.Kind, entry.File)
}

// FromDataFile is the delta of one file: positive for Add, negative for Delete.
// The creation time is never negated since it folds by max.
func FromDataFile(p partition.Key, kind FileKind, file datafile.DataFileMeta) PartitionEntry {
	recordCount := file.RowCount
	fileSizeInBytes := file.FileSize
	var fileCount int64 = 1
	if kind == Delete {
		recordCount = -recordCount
		fileSizeInBytes = -fileSizeInBytes
		fileCount = -fileCount
	}
	return PartitionEntry{
		Partition:            p,
		RecordCount:          recordCount,
		FileSizeInBytes:      fileSizeInBytes,
		FileCount:            fileCount,
		LastFileCreationTime: file.CreationTimeMillis,
	}
}

func MergeEntries(entries []ManifestEntry) map[partition.Key]PartitionEntry {
	partitions := make(map[partition.Key]PartitionEntry)
	for _, entry := range entries {
		fold(partitions, FromManifestEntry(entry))
	}
	return partitions
}

// MergeSplits counts only the data files of each split. Before files are skipped
// because their share cannot be attributed without reading them, and deletion
// files because reading them is costly, so the result is an approximation.
func MergeSplits(splits []DataSplit) map[partition.Key]PartitionEntry {
	partitions := make(map[partition.Key]PartitionEntry)
	for _, split := range splits {
		for _, file := range split.DataFiles {
			fold(partitions, FromDataFile(split.Partition, Add, file))
		}
	}
	return partitions
}

// MergeInto folds already aggregated entries into to.
func MergeInto(from []PartitionEntry, to map[partition.Key]PartitionEntry) {
	for _, entry := range from {
		fold(to, entry)
	}
}

// SortedEntries lists the entries of partitions ordered by partition key.
func SortedEntries(partitions map[partition.Key]PartitionEntry) []PartitionEntry {
	entries := make([]PartitionEntry, 0, len(partitions))
	for _, entry := range partitions {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Partition < entries[j].Partition
	})
	return entries
}

func fold(partitions map[partition.Key]PartitionEntry, entry PartitionEntry) {
	if old, exists := partitions[entry.Partition]; exists {
		partitions[entry.Partition] = old.Merge(entry)
		return
	}
	partitions[entry.Partition] = entry
}

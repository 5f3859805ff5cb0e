package http_server

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/danthegoodman1/icetable/manifest"
	"github.com/danthegoodman1/icetable/partition"
	"github.com/danthegoodman1/icetable/utils"
)

type (
	StatsReqBody struct {
		Entries []manifest.ManifestEntry
		Splits  []manifest.DataSplit
		// Manifest file paths below the table root.
		ManifestFiles []string
		// Only report this partition.
		Partition *string
		// `json` (default) or `parquet`.
		Format *string `validate:"omitempty,oneof=json parquet"`
	}

	KeysReqBody struct {
		Rows        []map[string]any `validate:"required,min=1"`
		Partitioner []partition.Plan `validate:"required,min=1"`
	}
)

var ErrNoManifestStore = errors.New("no manifest store configured")

// PartitionStatsHandler folds every given source into per partition statistics.
// With no source in the body the manifest store is read.
func (s *HTTPServer) PartitionStatsHandler(c *CustomContext) error {
	var reqBody StatsReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()

	partitions := make(map[partition.Key]manifest.PartitionEntry)
	if len(reqBody.Entries) > 0 {
		manifest.MergeInto(manifest.SortedEntries(manifest.MergeEntries(reqBody.Entries)), partitions)
	}
	if len(reqBody.Splits) > 0 {
		manifest.MergeInto(manifest.SortedEntries(manifest.MergeSplits(reqBody.Splits)), partitions)
	}
	if len(reqBody.ManifestFiles) > 0 {
		paths := make([]string, 0, len(reqBody.ManifestFiles))
		for _, p := range reqBody.ManifestFiles {
			paths = append(paths, s.tablePath(p))
		}
		merged, err := manifest.MergeManifestFiles(ctx, s.deps.FileIO, paths)
		if err != nil {
			return c.InternalError(err, "error reading manifest files")
		}
		manifest.MergeInto(manifest.SortedEntries(merged), partitions)
	}
	if len(reqBody.Entries) == 0 && len(reqBody.Splits) == 0 && len(reqBody.ManifestFiles) == 0 {
		if s.deps.Manifests == nil {
			return c.String(http.StatusServiceUnavailable, ErrNoManifestStore.Error())
		}
		entries, err := s.deps.Manifests.ListManifestEntries(ctx, partition.Key(utils.Deref(reqBody.Partition, "")))
		if err != nil {
			return c.InternalError(err, "error listing manifest entries")
		}
		manifest.MergeInto(manifest.SortedEntries(manifest.MergeEntries(entries)), partitions)
	}

	if reqBody.Partition != nil {
		only := partition.Key(*reqBody.Partition)
		for k := range partitions {
			if k != only {
				delete(partitions, k)
			}
		}
	}

	stats, err := manifest.ToStatistics(manifest.SortedEntries(partitions))
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	if utils.Deref(reqBody.Format, "json") == "parquet" {
		var buf bytes.Buffer
		if err := manifest.ExportStatistics(&buf, stats); err != nil {
			return c.InternalError(err, "error exporting statistics")
		}
		return c.Blob(http.StatusOK, "application/vnd.apache.parquet", buf.Bytes())
	}
	return c.JSON(http.StatusOK, utils.ArrayOrEmpty(stats))
}

// PartitionKeysHandler derives the partition of each row, returning the distinct keys.
func (s *HTTPServer) PartitionKeysHandler(c *CustomContext) error {
	var reqBody KeysReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	seen := make(map[partition.Key]struct{})
	for _, row := range reqBody.Rows {
		k, err := partition.FromRow(row, reqBody.Partitioner)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		seen[k] = struct{}{}
	}

	keys := make([]partition.Key, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	partition.SortKeys(keys)
	return c.JSON(http.StatusOK, keys)
}

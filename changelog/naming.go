package changelog

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// A compacted changelog file is named
//
//	compacted-changelog-<uuid>$<bucket>-<length>.cc-<format>
//
// where bucket and length belong to the segment at offset 0. Every other segment
// merged into the same file is committed under a logical name that appends its
// byte range before the extension:
//
//	compacted-changelog-<uuid>$<bucket>-<length>-<offset>-<length>.cc-<format>
//
// Readers parse these names to find the physical file and the range to read,
// so the format must not change.
const (
	CompactedChangelogPrefix = "compacted-changelog-"
	FormatIdentifierPrefix   = "cc-"
	TempFilePrefix           = "tmp-compacted-changelog-"
)

type CompactedFileName struct {
	ID            string
	PrimaryBucket int
	PrimaryLength int64
	Offset        int64
	Length        int64
	// WrappedFormat is the format of the changelog inside, e.g. `orc`.
	WrappedFormat string
}

// FormatIdentifier is the extension of a compacted file wrapping wrappedFormat.
func FormatIdentifier(wrappedFormat string) string {
	return FormatIdentifierPrefix + wrappedFormat
}

func compactedRealName(id string, bucket int, length int64) string {
	return CompactedChangelogPrefix + id + "$" + strconv.Itoa(bucket) + "-" + strconv.FormatInt(length, 10)
}

func (n CompactedFileName) IsPrimary() bool {
	return n.Offset == 0
}

// PhysicalName is the name of the file holding the bytes.
func (n CompactedFileName) PhysicalName() string {
	return compactedRealName(n.ID, n.PrimaryBucket, n.PrimaryLength) + "." + FormatIdentifier(n.WrappedFormat)
}

func (n CompactedFileName) String() string {
	return logicalName(compactedRealName(n.ID, n.PrimaryBucket, n.PrimaryLength), n.Offset, n.Length, n.WrappedFormat)
}

// logicalName is the primary name for the segment at offset 0 and the range
// qualified name for the others.
func logicalName(realName string, offset, length int64, wrappedFormat string) string {
	ext := FormatIdentifier(wrappedFormat)
	if offset == 0 {
		return realName + "." + ext
	}
	return realName + "-" + strconv.FormatInt(offset, 10) + "-" + strconv.FormatInt(length, 10) + "." + ext
}

func IsCompactedFileName(name string) bool {
	return strings.HasPrefix(path.Base(name), CompactedChangelogPrefix)
}

// ParseCompactedFileName decodes a primary or logical segment name. Directories are ignored.
func ParseCompactedFileName(name string) (CompactedFileName, error) {
	base := path.Base(name)
	malformed := func(reason string) (CompactedFileName, error) {
		return CompactedFileName{}, fmt.Errorf("%w: %s: %s", ErrMalformedName, reason, base)
	}

	dot := strings.LastIndex(base, ".")
	if dot < 0 {
		return malformed("missing extension")
	}
	ext := base[dot+1:]
	if !strings.HasPrefix(ext, FormatIdentifierPrefix) || len(ext) == len(FormatIdentifierPrefix) {
		return malformed("extension is not a compacted changelog format")
	}
	stem := base[:dot]
	if !strings.HasPrefix(stem, CompactedChangelogPrefix) {
		return malformed("missing prefix")
	}
	rest := stem[len(CompactedChangelogPrefix):]
	dollar := strings.LastIndex(rest, "$")
	if dollar <= 0 {
		return malformed("missing primary bucket")
	}

	parsed := CompactedFileName{
		ID:            rest[:dollar],
		WrappedFormat: ext[len(FormatIdentifierPrefix):],
	}
	nums := strings.Split(rest[dollar+1:], "-")
	if len(nums) != 2 && len(nums) != 4 {
		return malformed("expected bucket and length, optionally followed by offset and length")
	}
	vals := make([]int64, len(nums))
	for i, s := range nums {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			return malformed(fmt.Sprintf("bad number %q", s))
		}
		vals[i] = v
	}
	parsed.PrimaryBucket = int(vals[0])
	parsed.PrimaryLength = vals[1]
	if len(vals) == 2 {
		parsed.Length = parsed.PrimaryLength
		return parsed, nil
	}
	if vals[2] == 0 {
		return malformed("segment at offset 0 must use the primary name")
	}
	parsed.Offset = vals[2]
	parsed.Length = vals[3]
	return parsed, nil
}

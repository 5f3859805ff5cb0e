package changelog

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/danthegoodman1/icetable/datafile"
	"github.com/danthegoodman1/icetable/fileio"
)

// PhysicalPath resolves the file holding the bytes of the segment at segmentPath.
// The primary file sits in the bucket directory of the primary bucket, next to
// the bucket directory of the segment.
func PhysicalPath(segmentPath string, name CompactedFileName) string {
	dir := datafile.Dir(segmentPath)
	if strings.HasPrefix(path.Base(dir), datafile.BucketDirPrefix) {
		dir = datafile.Sibling(dir, datafile.BucketDirName(name.PrimaryBucket))
	}
	if dir == "" {
		return name.PhysicalName()
	}
	return dir + "/" + name.PhysicalName()
}

// ReadSegment returns the bytes of the source changelog file that was committed
// under segmentPath.
func ReadSegment(ctx context.Context, fio fileio.FileIO, segmentPath string) ([]byte, error) {
	name, err := ParseCompactedFileName(segmentPath)
	if err != nil {
		return nil, err
	}
	if name.Length == 0 {
		return []byte{}, nil
	}
	b, err := fileio.ReadRange(ctx, fio, PhysicalPath(segmentPath, name), name.Offset, name.Length)
	if err != nil {
		return nil, fmt.Errorf("error reading changelog segment %s: %w", segmentPath, err)
	}
	return b, nil
}

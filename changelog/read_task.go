package changelog

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/icetable/datafile"
	"github.com/danthegoodman1/icetable/fileio"
)

// readTask loads one changelog file. A worker owns it until it is put on the
// completion channel, after which only the merge writer touches it.
type readTask struct {
	path            string
	bucket          int
	isCompactResult bool
	meta            datafile.DataFileMeta

	result []byte
	err    error
}

// readFully captures failures on the task instead of returning them, so one bad
// file does not stop the other workers.
func (rt *readTask) readFully(ctx context.Context, fio fileio.FileIO) {
	b, err := fileio.ReadFully(ctx, fio, rt.path)
	if err != nil {
		rt.err = fmt.Errorf("error reading changelog file %s: %w", rt.path, err)
		return
	}
	rt.result = b
	// the file is superseded once its bytes are merged
	fileio.DeleteQuietly(ctx, fio, rt.path)
}

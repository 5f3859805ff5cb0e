package datafile

import (
	"fmt"
	"time"
)

type (
	// DataFileMeta describes one immutable file of the table. Copies are cheap and
	// a renamed file is a new value, so it is always passed by value.
	DataFileMeta struct {
		FileName           string
		FileSize           int64
		RowCount           int64
		CreationTimeMillis int64
		// FileFormat is the format tag of the payload, e.g. `orc` or `parquet`.
		FileFormat string
		Level      int
		// ExternalPath is set when the file lives outside the table root.
		ExternalPath *string
	}
)

func (m DataFileMeta) CreationTime() time.Time {
	return time.UnixMilli(m.CreationTimeMillis)
}

// Rename returns a copy of m under a new file name. An external path is re-pointed
// to the sibling with the new name.
func (m DataFileMeta) Rename(newFileName string) DataFileMeta {
	renamed := m
	renamed.FileName = newFileName
	if m.ExternalPath != nil {
		ext := Sibling(*m.ExternalPath, newFileName)
		renamed.ExternalPath = &ext
	}
	return renamed
}

func (m DataFileMeta) String() string {
	return fmt.Sprintf("{%s, %d bytes, %d rows, %s}", m.FileName, m.FileSize, m.RowCount, m.FileFormat)
}

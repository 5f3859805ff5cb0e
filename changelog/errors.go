package changelog

import (
	"errors"

	"github.com/danthegoodman1/icetable/utils"
)

var (
	// ErrBufferTooSmall means a single changelog file could never fit in the compaction buffer.
	ErrBufferTooSmall    = utils.PermError("changelog file is larger than the compaction buffer")
	ErrInvalidBufferSize = utils.PermError("compaction buffer size must be positive")
	// ErrBothChangelogSources rejects tasks mixing new-file and compaction changelog;
	// no table produces changelog from both.
	ErrBothChangelogSources = utils.PermError("changelog files come from both new files and compaction")
	ErrNoResults            = utils.PermError("changelog compaction task has no files")

	ErrInterrupted   = errors.New("changelog compaction interrupted")
	ErrMalformedName = errors.New("malformed compacted changelog file name")
)

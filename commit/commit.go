package commit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danthegoodman1/icetable/datafile"
	"github.com/danthegoodman1/icetable/partition"
)

type (
	// DataIncrement holds the file changes produced by writers.
	DataIncrement struct {
		NewFiles       []datafile.DataFileMeta
		DeletedFiles   []datafile.DataFileMeta
		ChangelogFiles []datafile.DataFileMeta
	}

	// CompactIncrement holds the file changes produced by compaction.
	CompactIncrement struct {
		CompactBefore  []datafile.DataFileMeta
		CompactAfter   []datafile.DataFileMeta
		ChangelogFiles []datafile.DataFileMeta
	}

	CommitMessage struct {
		Partition         partition.Key
		Bucket            int
		TotalBuckets      int
		NewFilesIncrement DataIncrement
		CompactIncrement  CompactIncrement
	}

	Kind string

	// Committable is a commit message bound to the checkpoint that produced it.
	Committable struct {
		CheckpointID int64
		Kind         Kind
		Message      CommitMessage
	}

	Key struct {
		CheckpointID int64
		Partition    partition.Key
		Bucket       int
	}

	// Sink receives committables for the commit layer.
	Sink interface {
		Commit(ctx context.Context, committables []Committable) error
	}

	// MemorySink keeps committed messages in memory, keyed like the commit layer keys them.
	MemorySink struct {
		mu       sync.Mutex
		messages map[Key]CommitMessage
	}
)

const (
	KindFile Kind = "FILE"
)

var (
	ErrUnsupportedKind  = errors.New("unsupported committable kind")
	ErrAlreadyCommitted = errors.New("committable already committed")
)

func (c Committable) Key() Key {
	return Key{
		CheckpointID: c.CheckpointID,
		Partition:    c.Message.Partition,
		Bucket:       c.Message.Bucket,
	}
}

func (m CommitMessage) IsEmpty() bool {
	return len(m.NewFilesIncrement.NewFiles) == 0 &&
		len(m.NewFilesIncrement.DeletedFiles) == 0 &&
		len(m.NewFilesIncrement.ChangelogFiles) == 0 &&
		len(m.CompactIncrement.CompactBefore) == 0 &&
		len(m.CompactIncrement.CompactAfter) == 0 &&
		len(m.CompactIncrement.ChangelogFiles) == 0
}

// Validate checks that c has the only shape a sink accepts.
func (c Committable) Validate() error {
	if c.Kind != KindFile {
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, c.Kind)
	}
	return nil
}

func NewMemorySink() *MemorySink {
	return &MemorySink{messages: make(map[Key]CommitMessage)}
}

// Commit stores all committables or none of them.
func (s *MemorySink) Commit(_ context.Context, committables []Committable) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[Key]struct{}, len(committables))
	for _, c := range committables {
		if err := c.Validate(); err != nil {
			return err
		}
		k := c.Key()
		_, inBatch := seen[k]
		if _, exists := s.messages[k]; exists || inBatch {
			return fmt.Errorf("%w: %+v", ErrAlreadyCommitted, k)
		}
		seen[k] = struct{}{}
	}
	for _, c := range committables {
		s.messages[c.Key()] = c.Message
	}
	return nil
}

func (s *MemorySink) Get(k Key) (CommitMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[k]
	return m, ok
}

// Keys lists committed keys ordered by checkpoint, partition then bucket.
func (s *MemorySink) Keys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]Key, 0, len(s.messages))
	for k := range s.messages {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CheckpointID != keys[j].CheckpointID {
			return keys[i].CheckpointID < keys[j].CheckpointID
		}
		if keys[i].Partition != keys[j].Partition {
			return keys[i].Partition < keys[j].Partition
		}
		return keys[i].Bucket < keys[j].Bucket
	})
	return keys
}

// ListCommits returns the committables of a checkpoint ordered by partition and bucket.
func (s *MemorySink) ListCommits(_ context.Context, checkpointID int64) ([]Committable, error) {
	var committables []Committable
	for _, k := range s.Keys() {
		if k.CheckpointID != checkpointID {
			continue
		}
		m, _ := s.Get(k)
		committables = append(committables, Committable{CheckpointID: k.CheckpointID, Kind: KindFile, Message: m})
	}
	return committables, nil
}

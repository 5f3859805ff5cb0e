package changelog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/danthegoodman1/icetable/commit"
	"github.com/danthegoodman1/icetable/datafile"
	"github.com/danthegoodman1/icetable/executor"
	"github.com/danthegoodman1/icetable/fileio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoCompactMergesIntoOneFile(t *testing.T) {
	ctx := context.Background()
	table := newTestTable(t, fileio.NewLocalFileIO())

	a := writeChangelog(t, table, 0, "changelog-a.orc", "aaaaaaaaaa")
	b := writeChangelog(t, table, 1, "changelog-b.orc", "bbbbbbbbbbbbbbbbbbbb")
	c := writeChangelog(t, table, 1, "changelog-c.orc", "ccccc")

	task, err := NewChangelogCompactTask(7, testPartition, 2, map[int][]datafile.DataFileMeta{
		0: {a},
		1: {b, c},
	}, nil)
	require.NoError(t, err)

	committables, err := task.DoCompact(ctx, table, inlineExecutor{}, 1024)
	require.NoError(t, err)
	require.Len(t, committables, 2)

	for i, cm := range committables {
		assert.Equal(t, int64(7), cm.CheckpointID)
		assert.Equal(t, commit.KindFile, cm.Kind)
		assert.Equal(t, testPartition, cm.Message.Partition)
		assert.Equal(t, i, cm.Message.Bucket)
		assert.Equal(t, 2, cm.Message.TotalBuckets)
		assert.Empty(t, cm.Message.CompactIncrement.ChangelogFiles)
		require.NoError(t, cm.Validate())
	}

	bucket0 := committables[0].Message.NewFilesIncrement.ChangelogFiles
	bucket1 := committables[1].Message.NewFilesIncrement.ChangelogFiles
	require.Len(t, bucket0, 1)
	require.Len(t, bucket1, 2)

	primary, err := ParseCompactedFileName(bucket0[0].FileName)
	require.NoError(t, err)
	assert.True(t, primary.IsPrimary())
	assert.Equal(t, 0, primary.PrimaryBucket)
	assert.Equal(t, int64(10), primary.PrimaryLength)
	assert.Equal(t, "orc", primary.WrappedFormat)
	assert.Equal(t, primary.PhysicalName(), bucket0[0].FileName)

	ranges := [][2]int64{{10, 20}, {30, 5}}
	for i, meta := range bucket1 {
		name, err := ParseCompactedFileName(meta.FileName)
		require.NoError(t, err)
		assert.Equal(t, primary.ID, name.ID)
		assert.Equal(t, ranges[i][0], name.Offset)
		assert.Equal(t, ranges[i][1], name.Length)
		assert.Equal(t, fmt.Sprintf("%s$0-10-%d-%d.cc-orc", CompactedChangelogPrefix+primary.ID, ranges[i][0], ranges[i][1]), meta.FileName)
	}
	// the metadata other than the name is carried over
	assert.Equal(t, b.FileSize, bucket1[0].FileSize)
	assert.Equal(t, c.RowCount, bucket1[1].RowCount)

	expected := map[string]string{
		segmentPath(table, 0, bucket0[0]): "aaaaaaaaaa",
		segmentPath(table, 1, bucket1[0]): "bbbbbbbbbbbbbbbbbbbb",
		segmentPath(table, 1, bucket1[1]): "ccccc",
	}
	for p, content := range expected {
		got, err := ReadSegment(ctx, table.FileIO, p)
		require.NoError(t, err)
		assert.Equal(t, content, string(got), p)
	}

	files := listFiles(t, table)
	assert.Equal(t, []string{"dt=2024-05-01/bucket-0/" + primary.PhysicalName()}, files)
	raw, err := fileio.ReadFully(ctx, table.FileIO, table.PathFactory.BucketPath(testPartition, 0)+"/"+primary.PhysicalName())
	require.NoError(t, err)
	assert.Equal(t, "aaaaaaaaaa"+"bbbbbbbbbbbbbbbbbbbb"+"ccccc", string(raw))
}

func TestDoCompactRoutesCompactionChangelog(t *testing.T) {
	table := newTestTable(t, fileio.NewLocalFileIO())
	a := writeChangelog(t, table, 3, "changelog-a.orc", "compacted")

	task, err := NewChangelogCompactTask(1, testPartition, 4, nil, map[int][]datafile.DataFileMeta{3: {a}})
	require.NoError(t, err)

	committables, err := task.DoCompact(context.Background(), table, inlineExecutor{}, 100)
	require.NoError(t, err)
	require.Len(t, committables, 1)

	msg := committables[0].Message
	assert.Equal(t, 3, msg.Bucket)
	assert.Empty(t, msg.NewFilesIncrement.ChangelogFiles)
	require.Len(t, msg.CompactIncrement.ChangelogFiles, 1)
	assert.True(t, IsCompactedFileName(msg.CompactIncrement.ChangelogFiles[0].FileName))
}

func TestDoCompactRespectsBuffer(t *testing.T) {
	fio := newFaultyFileIO()
	fio.readDelay = 5 * time.Millisecond
	table := newTestTable(t, fio)

	files := map[int][]datafile.DataFileMeta{}
	contents := map[string]bool{}
	for i := 0; i < 6; i++ {
		content := fmt.Sprintf("file-%04d!", i)
		contents[content] = true
		files[i%3] = append(files[i%3], writeChangelog(t, table, i%3, fmt.Sprintf("changelog-%d.orc", i), content))
	}

	task, err := NewChangelogCompactTask(2, testPartition, 3, files, nil)
	require.NoError(t, err)

	gate := NewGate(15)
	pool := executor.NewPool(4)
	committables, err := task.doCompact(context.Background(), table, pool, gate)
	require.NoError(t, err)

	// a 10 byte file is the most that fits next to another reservation
	assert.LessOrEqual(t, gate.Peak(), int64(15))
	assert.Equal(t, int64(10), gate.Peak())
	assert.Equal(t, int64(0), gate.InUse())

	seen := map[string]bool{}
	for _, cm := range committables {
		for _, meta := range cm.Message.NewFilesIncrement.ChangelogFiles {
			got, err := ReadSegment(context.Background(), table.FileIO, segmentPath(table, cm.Message.Bucket, meta))
			require.NoError(t, err)
			seen[string(got)] = true
		}
	}
	assert.Equal(t, contents, seen)
}

func TestDoCompactRejectsOversizedFileBeforeReading(t *testing.T) {
	fio := newFaultyFileIO()
	table := newTestTable(t, fio)
	small := writeChangelog(t, table, 0, "small.orc", "0123456789")
	big := writeChangelog(t, table, 1, "big.orc", "01234567890123456789")

	task, err := NewChangelogCompactTask(1, testPartition, 2, map[int][]datafile.DataFileMeta{0: {small}, 1: {big}}, nil)
	require.NoError(t, err)

	_, err = task.DoCompact(context.Background(), table, inlineExecutor{}, 15)
	require.ErrorIs(t, err, ErrBufferTooSmall)
	assert.Empty(t, fio.openedPaths())
	assert.Len(t, listFiles(t, table), 2)
}

func TestDoCompactPartialFailureLeavesNoOutput(t *testing.T) {
	fio := newFaultyFileIO()
	table := newTestTable(t, fio)
	a := writeChangelog(t, table, 0, "a.orc", "aaaa")
	b := writeChangelog(t, table, 0, "b.orc", "bbbb")
	c := writeChangelog(t, table, 1, "c.orc", "cccc")
	fio.failRead[segmentPath(table, 0, b)] = true

	task, err := NewChangelogCompactTask(1, testPartition, 2, map[int][]datafile.DataFileMeta{0: {a, b}, 1: {c}}, nil)
	require.NoError(t, err)

	committables, err := task.DoCompact(context.Background(), table, inlineExecutor{}, 100)
	require.ErrorIs(t, err, errInjected)
	assert.Nil(t, committables)

	files := listFiles(t, table)
	assert.Empty(t, filesWithPrefix(files, CompactedChangelogPrefix))
	assert.Empty(t, filesWithPrefix(files, TempFilePrefix))
	assert.Contains(t, files, "dt=2024-05-01/bucket-0/b.orc")
}

func TestDoCompactRenameFailureRemovesTempFile(t *testing.T) {
	fio := newFaultyFileIO()
	fio.failRename = true
	table := newTestTable(t, fio)
	a := writeChangelog(t, table, 0, "a.orc", "aaaa")

	task, err := NewChangelogCompactTask(1, testPartition, 1, map[int][]datafile.DataFileMeta{0: {a}}, nil)
	require.NoError(t, err)

	_, err = task.DoCompact(context.Background(), table, inlineExecutor{}, 100)
	require.ErrorIs(t, err, errInjected)
	assert.Empty(t, listFiles(t, table))
}

func TestDoCompactInterrupted(t *testing.T) {
	table := newTestTable(t, fileio.NewLocalFileIO())
	a := writeChangelog(t, table, 0, "a.orc", "aaaa")

	task, err := NewChangelogCompactTask(1, testPartition, 1, map[int][]datafile.DataFileMeta{0: {a}}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	committables, err := task.DoCompact(ctx, table, inlineExecutor{}, 100)
	require.ErrorIs(t, err, ErrInterrupted)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, committables)

	files := listFiles(t, table)
	assert.Empty(t, filesWithPrefix(files, CompactedChangelogPrefix))
	assert.Empty(t, filesWithPrefix(files, TempFilePrefix))
}

func TestDoCompactIgnoresDeleteFailure(t *testing.T) {
	fio := newFaultyFileIO()
	fio.failDelete = true
	table := newTestTable(t, fio)
	a := writeChangelog(t, table, 0, "a.orc", "aaaa")
	b := writeChangelog(t, table, 0, "b.orc", "bbbb")

	task, err := NewChangelogCompactTask(1, testPartition, 1, map[int][]datafile.DataFileMeta{0: {a, b}}, nil)
	require.NoError(t, err)

	committables, err := task.DoCompact(context.Background(), table, inlineExecutor{}, 100)
	require.NoError(t, err)
	require.Len(t, committables, 1)

	files := listFiles(t, table)
	assert.Contains(t, files, "dt=2024-05-01/bucket-0/a.orc")
	assert.Contains(t, files, "dt=2024-05-01/bucket-0/b.orc")
	assert.Len(t, filesWithPrefix(files, CompactedChangelogPrefix), 1)
}

func TestDoCompactSkipsEmptyFiles(t *testing.T) {
	table := newTestTable(t, fileio.NewLocalFileIO())
	empty := writeChangelog(t, table, 0, "empty.orc", "")
	a := writeChangelog(t, table, 0, "a.orc", "aaaa")

	task, err := NewChangelogCompactTask(1, testPartition, 1, map[int][]datafile.DataFileMeta{0: {empty, a}}, nil)
	require.NoError(t, err)

	committables, err := task.DoCompact(context.Background(), table, inlineExecutor{}, 100)
	require.NoError(t, err)
	require.Len(t, committables, 1)
	files := committables[0].Message.NewFilesIncrement.ChangelogFiles
	require.Len(t, files, 1)
	name, err := ParseCompactedFileName(files[0].FileName)
	require.NoError(t, err)
	assert.True(t, name.IsPrimary())
	assert.Equal(t, int64(4), name.Length)
}

func TestDoCompactValidation(t *testing.T) {
	table := newTestTable(t, fileio.NewLocalFileIO())
	a := datafile.DataFileMeta{FileName: "a.orc", FileSize: 1, FileFormat: "orc"}

	_, err := NewChangelogCompactTask(1, testPartition, 1, map[int][]datafile.DataFileMeta{0: {a}}, map[int][]datafile.DataFileMeta{0: {a}})
	assert.ErrorIs(t, err, ErrBothChangelogSources)

	task, err := NewChangelogCompactTask(1, testPartition, 1, nil, nil)
	require.NoError(t, err)
	_, err = task.DoCompact(context.Background(), table, inlineExecutor{}, 100)
	assert.ErrorIs(t, err, ErrNoResults)

	task, err = NewChangelogCompactTask(1, testPartition, 1, map[int][]datafile.DataFileMeta{0: {a}}, nil)
	require.NoError(t, err)
	_, err = task.DoCompact(context.Background(), table, inlineExecutor{}, 0)
	assert.ErrorIs(t, err, ErrInvalidBufferSize)
}

func TestNewChangelogCompactTaskCopiesInput(t *testing.T) {
	files := map[int][]datafile.DataFileMeta{0: {{FileName: "a.orc"}}}
	task, err := NewChangelogCompactTask(1, testPartition, 1, files, nil)
	require.NoError(t, err)

	files[0][0].FileName = "changed.orc"
	files[1] = nil
	got := task.NewFileChangelogFiles()
	assert.Len(t, got, 1)
	assert.Equal(t, "a.orc", got[0][0].FileName)
	assert.Empty(t, task.CompactChangelogFiles())
	assert.Contains(t, task.String(), "checkpoint=1")
}

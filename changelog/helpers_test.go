package changelog

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danthegoodman1/icetable/datafile"
	"github.com/danthegoodman1/icetable/fileio"
	"github.com/danthegoodman1/icetable/partition"
	"github.com/stretchr/testify/require"
)

const testPartition = partition.Key("dt=2024-05-01")

var errInjected = errors.New("injected failure")

// inlineExecutor runs work on the submitting goroutine, which makes the drain order
// equal to the scheduling order. Only safe when the buffer fits every file at once.
type inlineExecutor struct{}

func (inlineExecutor) Submit(work func()) {
	work()
}

// faultyFileIO wraps a real FileIO and fails or slows chosen operations.
type faultyFileIO struct {
	fileio.FileIO

	mu         sync.Mutex
	failRead   map[string]bool
	failDelete bool
	failRename bool
	readDelay  time.Duration
	opened     []string
}

func newFaultyFileIO() *faultyFileIO {
	return &faultyFileIO{
		FileIO:   fileio.NewLocalFileIO(),
		failRead: map[string]bool{},
	}
}

func (f *faultyFileIO) NewInputStream(ctx context.Context, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.opened = append(f.opened, path)
	fail := f.failRead[path]
	f.mu.Unlock()
	if f.readDelay > 0 {
		time.Sleep(f.readDelay)
	}
	if fail {
		return nil, errInjected
	}
	return f.FileIO.NewInputStream(ctx, path)
}

func (f *faultyFileIO) Delete(ctx context.Context, path string) error {
	if f.failDelete {
		return errInjected
	}
	return f.FileIO.Delete(ctx, path)
}

func (f *faultyFileIO) Rename(ctx context.Context, src, dst string) error {
	if f.failRename {
		return errInjected
	}
	return f.FileIO.Rename(ctx, src, dst)
}

func (f *faultyFileIO) openedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

func newTestTable(t *testing.T, fio fileio.FileIO) Table {
	t.Helper()
	return Table{
		FileIO:      fio,
		PathFactory: datafile.NewPathFactory(t.TempDir()),
	}
}

// writeChangelog puts content in the bucket directory and returns its metadata.
func writeChangelog(t *testing.T, table Table, bucket int, name string, content string) datafile.DataFileMeta {
	t.Helper()
	meta := datafile.DataFileMeta{
		FileName:           name,
		FileSize:           int64(len(content)),
		RowCount:           1,
		CreationTimeMillis: 1714521600000,
		FileFormat:         "orc",
	}
	p := table.PathFactory.DataFilePathFactory(testPartition, bucket).ToPath(meta)
	out, err := table.FileIO.NewOutputStream(context.Background(), p, false)
	require.NoError(t, err)
	_, err = io.WriteString(out, content)
	require.NoError(t, err)
	require.NoError(t, out.Close())
	return meta
}

// listFiles returns every file under the table root, relative to it.
func listFiles(t *testing.T, table Table) []string {
	t.Helper()
	var files []string
	root := table.PathFactory.Root()
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func filesWithPrefix(files []string, prefix string) []string {
	var matched []string
	for _, f := range files {
		if strings.HasPrefix(filepath.Base(f), prefix) {
			matched = append(matched, f)
		}
	}
	return matched
}

func segmentPath(table Table, bucket int, meta datafile.DataFileMeta) string {
	return table.PathFactory.DataFilePathFactory(testPartition, bucket).ToPath(meta)
}

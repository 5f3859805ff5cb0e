package http_server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"sync"
	"testing"

	"github.com/danthegoodman1/icetable/commit"
	"github.com/danthegoodman1/icetable/datafile"
	"github.com/danthegoodman1/icetable/executor"
	"github.com/danthegoodman1/icetable/fileio"
	"github.com/danthegoodman1/icetable/manifest"
	"github.com/danthegoodman1/icetable/partition"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPartition = partition.Key("dt=2024-05-01")

type memoryManifests struct {
	mu      sync.Mutex
	entries []manifest.ManifestEntry
}

func (m *memoryManifests) AppendManifestEntries(_ context.Context, entries []manifest.ManifestEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *memoryManifests) ListManifestEntries(_ context.Context, p partition.Key) ([]manifest.ManifestEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []manifest.ManifestEntry
	for _, e := range m.entries {
		if p.IsEmpty() || e.Partition == p {
			out = append(out, e)
		}
	}
	return out, nil
}

type testServer struct {
	*HTTPServer
	sink      *commit.MemorySink
	manifests *memoryManifests
}

func newTestServer(t *testing.T, withManifests bool) *testServer {
	t.Helper()
	ts := &testServer{sink: commit.NewMemorySink()}
	deps := Deps{
		FileIO:          fileio.NewLocalFileIO(),
		PathFactory:     datafile.NewPathFactory(t.TempDir()),
		Executor:        executor.NewPool(4),
		Sink:            ts.sink,
		BufferSizeBytes: 1024,
	}
	if withManifests {
		ts.manifests = &memoryManifests{}
		deps.Manifests = ts.manifests
	}
	ts.HTTPServer = NewHTTPServer(deps)
	return ts
}

func (ts *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	ts.Echo.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) writeFile(t *testing.T, bucket int, name, content string) datafile.DataFileMeta {
	t.Helper()
	meta := datafile.DataFileMeta{
		FileName:   name,
		FileSize:   int64(len(content)),
		RowCount:   1,
		FileFormat: "orc",
	}
	p := ts.deps.PathFactory.DataFilePathFactory(testPartition, bucket).ToPath(meta)
	out, err := ts.deps.FileIO.NewOutputStream(context.Background(), p, false)
	require.NoError(t, err)
	_, err = io.WriteString(out, content)
	require.NoError(t, err)
	require.NoError(t, out.Close())
	return meta
}

func testEntry(kind manifest.FileKind, p partition.Key, name string, rows, size, created int64) manifest.ManifestEntry {
	return manifest.ManifestEntry{
		Kind:         kind,
		Partition:    p,
		TotalBuckets: 1,
		File: datafile.DataFileMeta{
			FileName:           name,
			FileSize:           size,
			RowCount:           rows,
			CreationTimeMillis: created,
			FileFormat:         "parquet",
		},
	}
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodGet, "/hc", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCompactChangelog(t *testing.T) {
	ts := newTestServer(t, false)
	a := ts.writeFile(t, 0, "changelog-a.orc", "first changelog")
	b := ts.writeFile(t, 1, "changelog-b.orc", "second")

	rec := ts.do(t, http.MethodPost, "/changelog/compact", CompactReqBody{
		CheckpointID:          42,
		Partition:             string(testPartition),
		TotalBuckets:          2,
		NewFileChangelogFiles: map[int][]datafile.DataFileMeta{0: {a}, 1: {b}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res CompactStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, int64(2), res.FilesCompacted)
	assert.Equal(t, a.FileSize+b.FileSize, res.BytesCompacted)
	require.Len(t, res.Committables, 2)

	msg, ok := ts.sink.Get(commit.Key{CheckpointID: 42, Partition: testPartition, Bucket: 1})
	require.True(t, ok)
	require.Len(t, msg.NewFilesIncrement.ChangelogFiles, 1)

	segment := path.Join(string(testPartition), datafile.BucketDirName(1), msg.NewFilesIncrement.ChangelogFiles[0].FileName)
	rec = ts.do(t, http.MethodGet, "/changelog/segment?path="+url.QueryEscape(segment), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "second", rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/changelog/segment?path="+url.QueryEscape("dt=2024-05-01/bucket-0/data.orc"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompactChangelogRejectsBadTasks(t *testing.T) {
	ts := newTestServer(t, false)
	a := ts.writeFile(t, 0, "changelog-a.orc", "0123456789")

	rec := ts.do(t, http.MethodPost, "/changelog/compact", CompactReqBody{
		CheckpointID:          1,
		Partition:             string(testPartition),
		TotalBuckets:          1,
		NewFileChangelogFiles: map[int][]datafile.DataFileMeta{0: {a}},
		CompactChangelogFiles: map[int][]datafile.DataFileMeta{0: {a}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	small := int64(5)
	rec = ts.do(t, http.MethodPost, "/changelog/compact", CompactReqBody{
		CheckpointID:          1,
		Partition:             string(testPartition),
		TotalBuckets:          1,
		NewFileChangelogFiles: map[int][]datafile.DataFileMeta{0: {a}},
		BufferSizeBytes:       &small,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/changelog/compact", CompactReqBody{
		CheckpointID: 1,
		Partition:    string(testPartition),
		TotalBuckets: 1,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodPost, "/changelog/compact", CompactReqBody{Partition: string(testPartition)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// nothing was read, so the source file is still in place
	exists, err := ts.deps.FileIO.Exists(context.Background(), ts.deps.PathFactory.DataFilePathFactory(testPartition, 0).ToPath(a))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCompactChangelogStaysInsideTable(t *testing.T) {
	ts := newTestServer(t, false)
	ctx := context.Background()

	// bucket-0 of partition ".." resolves to a sibling of the table root
	victim := path.Join(path.Dir(ts.deps.PathFactory.Root()), datafile.BucketDirName(0), "victim.orc")
	out, err := ts.deps.FileIO.NewOutputStream(ctx, victim, false)
	require.NoError(t, err)
	_, err = io.WriteString(out, "keep me")
	require.NoError(t, err)
	require.NoError(t, out.Close())
	victimMeta := datafile.DataFileMeta{FileName: "victim.orc", FileSize: 7, RowCount: 1, FileFormat: "orc"}

	inside := ts.writeFile(t, 0, "changelog-a.orc", "0123456789")
	escaped := inside
	escaped.FileName = "../../" + inside.FileName
	external := inside
	ext := victim
	external.ExternalPath = &ext

	for name, body := range map[string]CompactReqBody{
		"parent partition": {
			Partition:             "..",
			NewFileChangelogFiles: map[int][]datafile.DataFileMeta{0: {victimMeta}},
		},
		"empty partition segment": {
			Partition:             string(testPartition) + "//..",
			NewFileChangelogFiles: map[int][]datafile.DataFileMeta{0: {victimMeta}},
		},
		"file name with separators": {
			Partition:             string(testPartition),
			NewFileChangelogFiles: map[int][]datafile.DataFileMeta{0: {escaped}},
		},
		"external path": {
			Partition:             string(testPartition),
			CompactChangelogFiles: map[int][]datafile.DataFileMeta{0: {external}},
		},
		"negative bucket": {
			Partition:             string(testPartition),
			NewFileChangelogFiles: map[int][]datafile.DataFileMeta{-1: {inside}},
		},
	} {
		t.Run(name, func(t *testing.T) {
			body.CheckpointID = 7
			body.TotalBuckets = 1
			rec := ts.do(t, http.MethodPost, "/changelog/compact", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	exists, err := ts.deps.FileIO.Exists(ctx, victim)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = ts.deps.FileIO.Exists(ctx, ts.deps.PathFactory.DataFilePathFactory(testPartition, 0).ToPath(inside))
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Empty(t, ts.sink.Keys())
}

type commitOnlySink struct{ commit.Sink }

func TestListCommits(t *testing.T) {
	ts := newTestServer(t, false)
	a := ts.writeFile(t, 0, "changelog-a.orc", "0123456789")
	b := ts.writeFile(t, 1, "changelog-b.orc", "abcdef")

	rec := ts.do(t, http.MethodPost, "/changelog/compact", CompactReqBody{
		CheckpointID:          9,
		Partition:             string(testPartition),
		TotalBuckets:          2,
		NewFileChangelogFiles: map[int][]datafile.DataFileMeta{1: {b}, 0: {a}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/changelog/commits?checkpointID=9", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var listed []commit.Committable
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 2)
	assert.Equal(t, commit.Key{CheckpointID: 9, Partition: testPartition, Bucket: 0}, listed[0].Key())
	assert.Equal(t, commit.Key{CheckpointID: 9, Partition: testPartition, Bucket: 1}, listed[1].Key())
	assert.Len(t, listed[1].Message.NewFilesIncrement.ChangelogFiles, 1)

	rec = ts.do(t, http.MethodGet, "/changelog/commits?checkpointID=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/changelog/commits?checkpointID=nine", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.deps.Sink = commitOnlySink{ts.sink}
	rec = ts.do(t, http.MethodGet, "/changelog/commits?checkpointID=9", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestPartitionStatsFromEntries(t *testing.T) {
	ts := newTestServer(t, false)
	entries := []manifest.ManifestEntry{
		testEntry(manifest.Add, "dt=2024-05-01", "a.parquet", 10, 100, 1000),
		testEntry(manifest.Add, "dt=2024-05-01", "b.parquet", 5, 50, 3000),
		testEntry(manifest.Delete, "dt=2024-05-01", "a.parquet", 10, 100, 1000),
		testEntry(manifest.Add, "dt=2024-05-02", "c.parquet", 7, 70, 2000),
	}

	rec := ts.do(t, http.MethodPost, "/partitions/stats", StatsReqBody{Entries: entries})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var stats []manifest.PartitionStatistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Len(t, stats, 2)
	assert.Equal(t, manifest.PartitionStatistics{
		Partition:            "dt=2024-05-01",
		Spec:                 map[string]string{"dt": "2024-05-01"},
		RecordCount:          5,
		FileSizeInBytes:      50,
		FileCount:            1,
		LastFileCreationTime: 3000,
	}, stats[0])
	assert.Equal(t, partition.Key("dt=2024-05-02"), stats[1].Partition)

	only := "dt=2024-05-02"
	rec = ts.do(t, http.MethodPost, "/partitions/stats", StatsReqBody{Entries: entries, Partition: &only})
	require.Equal(t, http.StatusOK, rec.Code)
	stats = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, int64(7), stats[0].RecordCount)

	format := "parquet"
	rec = ts.do(t, http.MethodPost, "/partitions/stats", StatsReqBody{Entries: entries, Format: &format})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PAR1", rec.Body.String()[:4])

	format = "csv"
	rec = ts.do(t, http.MethodPost, "/partitions/stats", StatsReqBody{Entries: entries, Format: &format})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPartitionStatsFromManifestStore(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodPost, "/partitions/stats", StatsReqBody{})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ts = newTestServer(t, true)
	rec = ts.do(t, http.MethodPost, "/manifest/entries", AppendEntriesReqBody{Entries: []manifest.ManifestEntry{
		testEntry(manifest.Add, "dt=2024-05-01", "a.parquet", 10, 100, 1000),
		testEntry(manifest.Add, "dt=2024-05-01", "b.parquet", 5, 50, 3000),
	}})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/partitions/stats", StatsReqBody{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var stats []manifest.PartitionStatistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, int64(15), stats[0].RecordCount)
	assert.Equal(t, int64(2), stats[0].FileCount)

	rec = ts.do(t, http.MethodPost, "/manifest/entries", AppendEntriesReqBody{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPartitionStatsFromManifestFiles(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodPost, "/manifest/files", WriteManifestReqBody{
		Path: "manifest/manifest-1.parquet",
		Entries: []manifest.ManifestEntry{
			testEntry(manifest.Add, "dt=2024-05-01", "a.parquet", 10, 100, 1000),
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var written WriteManifestRes
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &written))
	assert.Equal(t, "/manifest/manifest-1.parquet", written.Path)
	assert.Greater(t, written.Bytes, int64(0))

	rec = ts.do(t, http.MethodPost, "/manifest/files", WriteManifestReqBody{
		Path:    "manifest/manifest-1.parquet",
		Entries: []manifest.ManifestEntry{testEntry(manifest.Add, "dt=2024-05-01", "b.parquet", 1, 1, 1)},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/partitions/stats", StatsReqBody{
		ManifestFiles: []string{"manifest/manifest-1.parquet"},
		Entries:       []manifest.ManifestEntry{testEntry(manifest.Add, "dt=2024-05-01", "c.parquet", 1, 2, 500)},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var stats []manifest.PartitionStatistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, int64(11), stats[0].RecordCount)
	assert.Equal(t, int64(102), stats[0].FileSizeInBytes)
	assert.Equal(t, int64(1000), stats[0].LastFileCreationTime)
}

func TestPartitionKeys(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodPost, "/partitions/keys", KeysReqBody{
		Rows: []map[string]any{
			{"region": "eu", "n": 1},
			{"region": "us", "n": 2},
			{"region": "eu", "n": 3},
		},
		Partitioner: []partition.Plan{{Func: "identity", Args: []string{"region"}, As: "region"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var keys []partition.Key
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &keys))
	assert.Equal(t, []partition.Key{"region=eu", "region=us"}, keys)

	rec = ts.do(t, http.MethodPost, "/partitions/keys", KeysReqBody{
		Rows:        []map[string]any{{"region": "eu"}},
		Partitioner: []partition.Plan{{Func: "nope", Args: []string{"region"}, As: "region"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

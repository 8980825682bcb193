package transfer_test

import (
	"context"
	"encoding/csv"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attachdl/internal/sftest"
	"attachdl/pkg/auth"
	"attachdl/pkg/checkpoint"
	"attachdl/pkg/config"
	errs "attachdl/pkg/errors"
	"attachdl/pkg/logger"
	"attachdl/pkg/models"
	"attachdl/pkg/recorder"
	"attachdl/pkg/transfer"
)

var newest = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type eventLog struct {
	mu       sync.Mutex
	info     transfer.RunInfo
	batches  []int
	started  int
	outcomes int
	saves    []checkpoint.Checkpoint
	onSave   func(cp checkpoint.Checkpoint)
}

func (e *eventLog) RunStarted(info transfer.RunInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.info = info
}

func (e *eventLog) BatchFetched(b *models.Batch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches = append(e.batches, b.Size())
}

func (e *eventLog) ItemStarted(models.Descriptor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started++
}

func (e *eventLog) OutcomeRecorded(models.Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outcomes++
}

func (e *eventLog) CheckpointSaved(cp checkpoint.Checkpoint) {
	e.mu.Lock()
	e.saves = append(e.saves, cp)
	fn := e.onSave
	e.mu.Unlock()
	if fn != nil {
		fn(cp)
	}
}

type fixture struct {
	srv *sftest.Server
	dir string
	cfg *config.Config
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	srv := sftest.New(t)
	srv.Add(sftest.Generate(n, newest)...)

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Salesforce.LoginURL = srv.URL
	cfg.Salesforce.APIVersion = srv.APIVersion
	cfg.Download.DestinationDirectory = filepath.Join(dir, "files")
	cfg.Download.MaxConcurrentWorkers = 4
	cfg.Download.DownloadTimeout = 10 * time.Second
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.State.CheckpointFile = filepath.Join(dir, "checkpoint.json")
	cfg.State.MetadataLog = filepath.Join(dir, "metadata.csv")
	cfg.State.ErrorLog = filepath.Join(dir, "errors.csv")
	cfg.State.LedgerDB = filepath.Join(dir, "ledger.db")

	return &fixture{srv: srv, dir: dir, cfg: cfg}
}

func (f *fixture) account() *auth.Account {
	return &auth.Account{
		Username:      sftest.DefaultUsername,
		Password:      sftest.DefaultPassword,
		SecurityToken: sftest.DefaultSecurityToken,
	}
}

func (f *fixture) run(t *testing.T, ctx context.Context, obs transfer.Observer, opts transfer.Options) (*transfer.Result, error) {
	t.Helper()
	runner, err := transfer.NewFromConfig(ctx, f.cfg, transfer.BuildOptions{
		Account:  f.account(),
		Observer: obs,
		Logger:   logger.NewNopLogger(),
	})
	require.NoError(t, err)
	defer runner.Close()
	return runner.Run(ctx, opts)
}

func (f *fixture) loadCheckpoint(t *testing.T) *checkpoint.Checkpoint {
	t.Helper()
	store, err := checkpoint.NewFileStore(f.cfg.State.CheckpointFile, logger.NewNopLogger())
	require.NoError(t, err)
	cp, err := store.Load()
	require.NoError(t, err)
	return cp
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	return rows
}

func column(t *testing.T, header []string, name string) int {
	t.Helper()
	for i, h := range header {
		if h == name {
			return i
		}
	}
	t.Fatalf("column %q not in %v", name, header)
	return -1
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if !e.IsDir() && !strings.HasSuffix(e.Name(), ".part") && !strings.HasSuffix(e.Name(), ".attrs") {
			n++
		}
	}
	return n
}

func TestRunTransfersEverything(t *testing.T) {
	f := newFixture(t, 450)
	obs := &eventLog{}

	res, err := f.run(t, context.Background(), obs, transfer.Options{})
	require.NoError(t, err)

	assert.True(t, res.Completed)
	assert.False(t, res.Interrupted)
	assert.False(t, res.Resumed)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, int64(450), res.Summary.Succeeded)
	assert.Equal(t, int64(3), res.Summary.Batches)
	assert.LessOrEqual(t, res.MaxInFlight, 4)
	assert.LessOrEqual(t, f.srv.MaxInFlight(), 4)

	assert.Equal(t, []int{200, 200, 50}, obs.batches)
	assert.Equal(t, 450, obs.started)
	assert.Equal(t, 450, obs.outcomes)
	require.Len(t, obs.saves, 3)
	assert.Equal(t, int64(200), obs.saves[0].ProcessedCount)
	assert.Equal(t, int64(400), obs.saves[1].ProcessedCount)
	assert.True(t, obs.saves[2].Completed)
	assert.Equal(t, res.RunID, obs.info.RunID)

	cp := f.loadCheckpoint(t)
	assert.True(t, cp.Completed)
	assert.Equal(t, int64(450), cp.ProcessedCount)
	assert.Equal(t, int64(450), cp.Succeeded)
	assert.Equal(t, int64(3), cp.Cursor.Sequence)

	assert.Equal(t, 450, countFiles(t, f.cfg.Download.DestinationDirectory))
	assert.Len(t, readCSV(t, f.cfg.State.MetadataLog), 451)
	assert.Len(t, readCSV(t, f.cfg.State.ErrorLog), 1)

	ledger, err := recorder.OpenLedger(context.Background(), f.cfg.State.LedgerDB)
	require.NoError(t, err)
	defer ledger.Close()
	stats, err := ledger.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(450), stats.Attachments)
	assert.Equal(t, res.Summary.Bytes, stats.Bytes)
}

func TestRunWritesExactContent(t *testing.T) {
	f := newFixture(t, 5)
	atts := sftest.Generate(5, newest)

	_, err := f.run(t, context.Background(), nil, transfer.Options{})
	require.NoError(t, err)

	for _, a := range atts {
		data, err := os.ReadFile(filepath.Join(f.cfg.Download.DestinationDirectory, a.ID+".pdf"))
		require.NoError(t, err)
		assert.Equal(t, a.Body, data, a.ID)
	}
}

func TestCompletedCheckpointDoesNothing(t *testing.T) {
	f := newFixture(t, 30)

	_, err := f.run(t, context.Background(), nil, transfer.Options{})
	require.NoError(t, err)
	queries, gets := f.srv.Queries(), f.srv.TotalBodyGets()

	res, err := f.run(t, context.Background(), nil, transfer.Options{})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.True(t, res.Resumed)
	assert.Equal(t, int64(0), res.Summary.Processed())
	assert.Equal(t, queries, f.srv.Queries())
	assert.Equal(t, gets, f.srv.TotalBodyGets())
	assert.Len(t, readCSV(t, f.cfg.State.MetadataLog), 31)
}

func TestRestartSkipsExistingFiles(t *testing.T) {
	f := newFixture(t, 30)

	first, err := f.run(t, context.Background(), nil, transfer.Options{})
	require.NoError(t, err)
	gets := f.srv.TotalBodyGets()

	res, err := f.run(t, context.Background(), nil, transfer.Options{Restart: true})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.False(t, res.Resumed)
	assert.NotEqual(t, first.RunID, res.RunID)
	assert.Equal(t, int64(30), res.Summary.Skipped)
	assert.Equal(t, gets, f.srv.TotalBodyGets())
	// the restart logs every attachment again, marked as skipped
	rows := readCSV(t, f.cfg.State.MetadataLog)
	require.Len(t, rows, 61)
	skipped := column(t, rows[0], "skipped")
	for _, row := range rows[31:] {
		assert.Equal(t, "true", row[skipped])
	}

	assert.FileExists(t, f.cfg.State.CheckpointFile+".backup")
}

func TestFilesAlreadyInPlaceAreLogged(t *testing.T) {
	f := newFixture(t, 10)
	atts := sftest.Generate(10, newest)
	placed := atts[3]
	require.NoError(t, os.MkdirAll(f.cfg.Download.DestinationDirectory, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(f.cfg.Download.DestinationDirectory, placed.ID+".pdf"), placed.Body, 0644))

	res, err := f.run(t, context.Background(), nil, transfer.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Summary.Succeeded)
	assert.Equal(t, int64(1), res.Summary.Skipped)
	assert.Equal(t, 0, f.srv.BodyGets(placed.ID))

	rows := readCSV(t, f.cfg.State.MetadataLog)
	require.Len(t, rows, 11)
	assert.EqualValues(t, res.Summary.Succeeded, len(rows)-1)

	id, attempts, skipped := column(t, rows[0], "remote_id"), column(t, rows[0], "attempts"), column(t, rows[0], "skipped")
	found := false
	for _, row := range rows[1:] {
		if row[id] != placed.ID {
			assert.Equal(t, "false", row[skipped])
			continue
		}
		found = true
		assert.Equal(t, "true", row[skipped])
		assert.Equal(t, "0", row[attempts])
	}
	assert.True(t, found)

	ledger, err := recorder.OpenLedger(context.Background(), f.cfg.State.LedgerDB)
	require.NoError(t, err)
	defer ledger.Close()
	stats, err := ledger.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.Attachments)
}

func TestMetadataLogCarriesRecordFields(t *testing.T) {
	f := newFixture(t, 3)

	_, err := f.run(t, context.Background(), nil, transfer.Options{})
	require.NoError(t, err)

	rows := readCSV(t, f.cfg.State.MetadataLog)
	require.Len(t, rows, 4)
	header := rows[0]
	for _, row := range rows[1:] {
		assert.True(t, strings.HasPrefix(row[column(t, header, "description")], "Generated attachment "))
		assert.Equal(t, sftest.UserID, row[column(t, header, "owner_id")])
		assert.Equal(t, sftest.UserID, row[column(t, header, "created_by_id")])
		assert.Equal(t, sftest.UserID, row[column(t, header, "last_modified_by_id")])
		assert.Equal(t, "false", row[column(t, header, "is_deleted")])
		assert.Equal(t, row[column(t, header, "created_date")], row[column(t, header, "system_modstamp")])
	}
}

func TestTruncatedQueryPagesAreFollowed(t *testing.T) {
	f := newFixture(t, 25)
	f.cfg.Download.BatchSize = 10
	f.srv.SetQueryChunk(4)

	res, err := f.run(t, context.Background(), nil, transfer.Options{})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, int64(25), res.Summary.Succeeded)
	assert.Equal(t, 25, countFiles(t, f.cfg.Download.DestinationDirectory))

	cp := f.loadCheckpoint(t)
	assert.True(t, cp.Completed)
	assert.Equal(t, int64(25), cp.ProcessedCount)
	// six pages of four and one of one, the last being short and done
	assert.Equal(t, int64(7), cp.Cursor.Sequence)
}

func TestInterruptedRunResumes(t *testing.T) {
	f := newFixture(t, 50)
	f.cfg.Download.BatchSize = 10
	f.cfg.Download.MaxConcurrentWorkers = 2
	f.srv.SetBodyDelay(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs := &eventLog{onSave: func(checkpoint.Checkpoint) { cancel() }}

	res, err := f.run(t, ctx, obs, transfer.Options{})
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.False(t, res.Completed)

	cp := f.loadCheckpoint(t)
	assert.False(t, cp.Completed)
	require.GreaterOrEqual(t, cp.Cursor.Sequence, int64(1))
	assert.Equal(t, cp.Cursor.Sequence*10, cp.ProcessedCount)
	assert.Less(t, cp.ProcessedCount, int64(50))

	f.srv.SetBodyDelay(0)
	res, err = f.run(t, context.Background(), nil, transfer.Options{})
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.True(t, res.Completed)
	assert.Equal(t, 50-cp.ProcessedCount, res.Summary.Processed())

	final := f.loadCheckpoint(t)
	assert.True(t, final.Completed)
	assert.Equal(t, int64(50), final.ProcessedCount)
	assert.Equal(t, int64(50), final.Succeeded+final.Skipped)

	// work finished after the interruption is picked up from disk, not fetched again
	assert.Equal(t, 50, f.srv.TotalBodyGets())
	assert.Equal(t, 50, countFiles(t, f.cfg.Download.DestinationDirectory))
}

func TestRunRetriesRateLimitedDownloads(t *testing.T) {
	f := newFixture(t, 12)
	atts := sftest.Generate(12, newest)
	f.srv.SetRetryAfter("0")
	f.srv.FailBody(atts[3].ID, http.StatusTooManyRequests, http.StatusTooManyRequests)

	res, err := f.run(t, context.Background(), nil, transfer.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(12), res.Summary.Succeeded)

	rows := readCSV(t, f.cfg.State.MetadataLog)
	require.Len(t, rows, 13)
	found := false
	for _, row := range rows[1:] {
		if row[0] == atts[3].ID {
			found = true
			assert.Equal(t, "3", row[7])
		}
	}
	assert.True(t, found)
}

func TestRunRecordsFailures(t *testing.T) {
	f := newFixture(t, 12)
	f.cfg.Retry.MaxAttempts = 3
	atts := sftest.Generate(12, newest)
	f.srv.FailBody(atts[1].ID, http.StatusNotFound)
	f.srv.FailBody(atts[2].ID, http.StatusServiceUnavailable, http.StatusServiceUnavailable,
		http.StatusServiceUnavailable, http.StatusServiceUnavailable)

	res, err := f.run(t, context.Background(), nil, transfer.Options{})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, int64(10), res.Summary.Succeeded)
	assert.Equal(t, int64(1), res.Summary.PermanentFailures)
	assert.Equal(t, int64(1), res.Summary.ExhaustedRetries)

	rows := readCSV(t, f.cfg.State.ErrorLog)
	require.Len(t, rows, 3)
	kinds := map[string]string{}
	for _, row := range rows[1:] {
		kinds[row[0]] = row[3]
	}
	assert.Equal(t, string(errs.KindPermanent), kinds[atts[1].ID])
	assert.Equal(t, string(errs.KindExhaustedRetries), kinds[atts[2].ID])

	cp := f.loadCheckpoint(t)
	assert.Equal(t, int64(12), cp.ProcessedCount)
	assert.Equal(t, int64(1), cp.PermanentFailures)
	assert.Equal(t, int64(1), cp.ExhaustedRetries)
}

func TestStorageFailureAbortsRun(t *testing.T) {
	f := newFixture(t, 20)

	runner, err := transfer.NewFromConfig(context.Background(), f.cfg, transfer.BuildOptions{
		Account: f.account(),
		Logger:  logger.NewNopLogger(),
	})
	require.NoError(t, err)
	defer runner.Close()

	// replace the destination directory with a plain file
	dest := f.cfg.Download.DestinationDirectory
	require.NoError(t, os.RemoveAll(dest))
	require.NoError(t, os.WriteFile(dest, []byte("not a directory"), 0644))

	res, err := runner.Run(context.Background(), transfer.Options{})
	require.Error(t, err)
	assert.True(t, errs.IsStorage(err))
	assert.False(t, res.Completed)
	assert.False(t, f.loadCheckpoint(t).Completed)
}

func TestUnfetchableBatchAbortsRun(t *testing.T) {
	f := newFixture(t, 20)
	f.cfg.Download.BatchSize = 10
	f.cfg.Retry.MaxAttempts = 2
	f.srv.FailQuery(http.StatusServiceUnavailable, http.StatusServiceUnavailable)

	_, err := f.run(t, context.Background(), nil, transfer.Options{})
	require.Error(t, err)
	assert.Equal(t, errs.KindExhaustedRetries, errs.KindOf(err))
	assert.Equal(t, 0, f.srv.TotalBodyGets())
	assert.True(t, f.loadCheckpoint(t).IsZero())
}

func TestRunWithAccessToken(t *testing.T) {
	f := newFixture(t, 5)
	f.cfg.Salesforce.InstanceURL = f.srv.URL
	f.cfg.Salesforce.AccessToken = f.srv.Token()

	runner, err := transfer.NewFromConfig(context.Background(), f.cfg, transfer.BuildOptions{Logger: logger.NewNopLogger()})
	require.NoError(t, err)
	defer runner.Close()

	res, err := runner.Run(context.Background(), transfer.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Summary.Succeeded)
	assert.Equal(t, 0, f.srv.Logins())
}

func TestRunToBucket(t *testing.T) {
	f := newFixture(t, 8)
	bucketDir := filepath.Join(f.dir, "bucket")
	require.NoError(t, os.MkdirAll(bucketDir, 0755))
	f.cfg.Download.DestinationBucket = "file://" + filepath.ToSlash(bucketDir)

	res, err := f.run(t, context.Background(), nil, transfer.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.Summary.Succeeded)
	assert.Equal(t, 8, countFiles(t, bucketDir))
}

func TestNewFromConfigRequiresCredentials(t *testing.T) {
	f := newFixture(t, 1)

	_, err := transfer.NewFromConfig(context.Background(), f.cfg, transfer.BuildOptions{Logger: logger.NewNopLogger()})
	assert.ErrorIs(t, err, auth.ErrCredentialsNotFound)

	f.cfg.Download.BatchSize = config.MaxBatchSize + 1
	_, err = transfer.NewFromConfig(context.Background(), f.cfg, transfer.BuildOptions{Account: f.account()})
	assert.Error(t, err)
}

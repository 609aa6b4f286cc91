package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fliupa/cni-scrapy/internal/extract"
	"github.com/fliupa/cni-scrapy/internal/harvest"
	"github.com/fliupa/cni-scrapy/internal/harvest/harvesttest"
	"github.com/fliupa/cni-scrapy/internal/progress"
	"github.com/fliupa/cni-scrapy/internal/retry"
)

type fixture struct {
	backend    *harvesttest.Backend
	checkpoint *harvesttest.Checkpoint
	sink       *harvesttest.Sink
	tracker    *progress.Tracker
	hub        *progress.Hub
	scheduler  *Scheduler
}

func newFixture(t *testing.T, cfg Config, backend *harvesttest.Backend, checkpoint *harvesttest.Checkpoint) *fixture {
	t.Helper()
	if checkpoint == nil {
		checkpoint = harvesttest.NewCheckpoint()
	}
	f := &fixture{
		backend:    backend,
		checkpoint: checkpoint,
		sink:       &harvesttest.Sink{},
		tracker:    progress.NewTracker(),
	}
	f.hub = progress.NewHub(progress.Config{MaxBatchWait: 5 * time.Millisecond}, f.tracker)
	t.Cleanup(func() { _ = f.hub.Close(context.Background()) })

	s, err := New(cfg, Deps{
		Backend:    backend,
		Extractor:  extract.NewDefault(extract.DefaultSchema(), nil),
		Checkpoint: checkpoint,
		Sink:       f.sink,
		Emitter:    f.hub,
	}, zap.NewNop())
	require.NoError(t, err)
	f.scheduler = s
	return f
}

func fastConfig(maxConcurrent int) Config {
	return Config{
		MaxConcurrent:     maxConcurrent,
		CheckpointEvery:   10,
		Retry:             retry.Config{Attempts: 3, Delay: time.Millisecond},
		NavigationTimeout: time.Second,
	}
}

func urls(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://www.snieg.mx/cni/escenario.aspx?ind=%d", i+1)
	}
	return out
}

func indices(records []harvest.Record) []int {
	out := make([]int, len(records))
	for i, r := range records {
		out[i] = r.Index
	}
	return out
}

func TestRunTransientFailureRecovers(t *testing.T) {
	t.Parallel()

	seeds := []string{"https://x/A", "https://x/B", "https://x/C"}
	backend := &harvesttest.Backend{Failures: map[string]int{"https://x/B": 2}}
	f := newFixture(t, fastConfig(2), backend, nil)

	records, err := f.scheduler.Run(context.Background(), seeds)
	require.NoError(t, err)

	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, i+1, rec.Index)
		assert.Equal(t, seeds[i], rec.URL)
		assert.False(t, rec.Failed())
	}
	assert.Equal(t, 3, backend.Attempts("https://x/B"))
	assert.Equal(t, backend.Opened(), backend.Released())
	assert.True(t, backend.Closed())

	assert.True(t, f.checkpoint.Cleared(), "checkpoint cleared after a complete export")
	assert.Equal(t, []int{3}, f.checkpoint.Saves())
	assert.Equal(t, records, f.sink.Records())
	assert.Equal(t, 1, f.sink.Flushes())

	require.Eventually(t, func() bool {
		return f.tracker.Snapshot().State == progress.StateDone
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, f.tracker.Snapshot().Retries)
}

func TestRunExhaustedRetriesStillCompletes(t *testing.T) {
	t.Parallel()

	seeds := []string{"https://x/A", "https://x/B", "https://x/C"}
	backend := &harvesttest.Backend{Failures: map[string]int{"https://x/B": -1}}
	f := newFixture(t, fastConfig(2), backend, nil)

	records, err := f.scheduler.Run(context.Background(), seeds)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.True(t, records[1].Failed())
	require.Equal(t, "Error after 3 attempts: "+harvesttest.ErrNavigation.Error(), records[1].Name())

	summary := Summarize(records)
	require.Equal(t, 3, summary.Total)
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	seeds := urls(4)
	a := harvest.NewRecord(1, seeds[0])
	a.Set(harvest.FieldName, "Población")
	b := harvest.NewRecord(2, seeds[1])
	b.Set(harvest.FieldName, "Vivienda")
	backend := &harvesttest.Backend{}
	f := newFixture(t, fastConfig(2), backend, harvesttest.NewCheckpoint(a, b))

	records, err := f.scheduler.Run(context.Background(), seeds)
	require.NoError(t, err)

	require.Equal(t, []int{1, 2, 3, 4}, indices(records))
	require.Equal(t, "Población", records[0].Name())
	require.Zero(t, backend.Attempts(seeds[0]))
	require.Zero(t, backend.Attempts(seeds[1]))
	require.Equal(t, seeds[2], records[2].URL)
	require.Equal(t, seeds[3], records[3].URL)
}

func TestRunNothingPendingReturnsCheckpoint(t *testing.T) {
	t.Parallel()

	seeds := urls(2)
	stored := []harvest.Record{harvest.NewRecord(1, seeds[0]), harvest.NewRecord(2, seeds[1])}
	backend := &harvesttest.Backend{LaunchErr: errors.New("must not launch")}
	f := newFixture(t, fastConfig(2), backend, harvesttest.NewCheckpoint(stored...))

	records, err := f.scheduler.Run(context.Background(), seeds)
	require.NoError(t, err)
	require.Equal(t, stored, records)
	require.Zero(t, backend.Opened())
	require.Empty(t, f.sink.Records())
	require.False(t, f.checkpoint.Cleared())
}

func TestRunBoundsConcurrency(t *testing.T) {
	t.Parallel()

	backend := &harvesttest.Backend{Delay: 10 * time.Millisecond}
	f := newFixture(t, fastConfig(3), backend, nil)

	records, err := f.scheduler.Run(context.Background(), urls(25))
	require.NoError(t, err)
	require.Len(t, records, 25)
	require.LessOrEqual(t, backend.MaxActive(), 3)
	require.Equal(t, 25, backend.Released())
}

func TestRunCheckpointsEveryTenCompletions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fastConfig(4), &harvesttest.Backend{}, nil)

	_, err := f.scheduler.Run(context.Background(), urls(25))
	require.NoError(t, err)
	require.Equal(t, []int{10, 20, 25}, f.checkpoint.Saves())
}

func TestRunBackendUnavailable(t *testing.T) {
	t.Parallel()

	backend := &harvesttest.Backend{LaunchErr: errors.New("chrome not found")}
	f := newFixture(t, fastConfig(2), backend, nil)

	records, err := f.scheduler.Run(context.Background(), urls(3))
	require.ErrorIs(t, err, harvest.ErrBackendUnavailable)
	require.Nil(t, records)
	require.Zero(t, backend.Opened())
	require.Empty(t, f.checkpoint.Saves())
}

func TestRunExportFailureKeepsCheckpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fastConfig(2), &harvesttest.Backend{}, nil)
	f.sink.FlushErr = errors.New("bucket gone")

	records, err := f.scheduler.Run(context.Background(), urls(3))
	require.ErrorContains(t, err, "bucket gone")
	require.Len(t, records, 3)
	require.False(t, f.checkpoint.Cleared())
	require.Len(t, f.checkpoint.Records(), 3)
}

func TestRunCheckpointFailuresAreNotFatal(t *testing.T) {
	t.Parallel()

	checkpoint := harvesttest.NewCheckpoint()
	checkpoint.LoadErr = errors.New("corrupt")
	checkpoint.SaveErr = errors.New("disk full")
	f := newFixture(t, fastConfig(2), &harvesttest.Backend{}, checkpoint)

	records, err := f.scheduler.Run(context.Background(), urls(12))
	require.NoError(t, err)
	require.Len(t, records, 12)
	require.Len(t, f.sink.Records(), 12)
}

func TestRunInterruptedThenResumed(t *testing.T) {
	t.Parallel()

	seeds := urls(6)
	checkpoint := harvesttest.NewCheckpoint()
	backend := &harvesttest.Backend{Delay: 30 * time.Millisecond}
	f := newFixture(t, fastConfig(1), backend, checkpoint)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	partial, err := f.scheduler.Run(ctx, seeds)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, len(partial), len(seeds))
	require.Equal(t, len(partial), len(checkpoint.Records()), "completed records persisted")
	require.False(t, checkpoint.Cleared())

	resumed := newFixture(t, fastConfig(3), &harvesttest.Backend{}, checkpoint)
	records, err := resumed.scheduler.Run(context.Background(), seeds)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 4, 5, 6}, indices(records))

	got := make([]string, 0, len(records))
	for _, r := range records {
		got = append(got, r.URL)
	}
	want := append([]string(nil), seeds...)
	sort.Strings(got)
	sort.Strings(want)
	require.Equal(t, want, got, "every seed exactly once")
	require.True(t, checkpoint.Cleared())
}

func TestPlanFillsIndexGaps(t *testing.T) {
	t.Parallel()

	checkpoint := []harvest.Record{
		harvest.NewRecord(1, "https://x/a"),
		harvest.NewRecord(3, "https://x/c"),
	}
	jobs := plan(checkpoint, []string{"https://x/a", "https://x/b", "https://x/c", "https://x/d", "https://x/b"})
	require.Equal(t, []job{{url: "https://x/b", index: 2}, {url: "https://x/d", index: 4}}, jobs)

	dense := []harvest.Record{harvest.NewRecord(1, "https://x/a"), harvest.NewRecord(2, "https://x/b")}
	jobs = plan(dense, []string{"https://x/c"})
	require.Equal(t, []job{{url: "https://x/c", index: 3}}, jobs)
}

func TestSummarizePreview(t *testing.T) {
	t.Parallel()

	var records []harvest.Record
	for i := 12; i >= 1; i-- {
		r := harvest.NewRecord(i, fmt.Sprintf("https://x/%d", i))
		r.Set(harvest.FieldName, fmt.Sprintf("Indicador %d", i))
		records = append(records, r)
	}
	s := Summarize(records)
	require.Equal(t, 12, s.Total)
	require.Len(t, s.Preview, 10)
	require.Equal(t, Preview{Index: 1, Name: "Indicador 1"}, s.Preview[0])
	require.Equal(t, Preview{Index: 10, Name: "Indicador 10"}, s.Preview[9])
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	deps := Deps{
		Backend:    &harvesttest.Backend{},
		Extractor:  extract.NewDefault(extract.DefaultSchema(), nil),
		Checkpoint: harvesttest.NewCheckpoint(),
	}
	_, err := New(Config{MaxConcurrent: 0, CheckpointEvery: 10}, deps, nil)
	require.Error(t, err)
	_, err = New(Config{MaxConcurrent: 1, CheckpointEvery: 0}, deps, nil)
	require.Error(t, err)
	_, err = New(DefaultConfig(), Deps{}, nil)
	require.Error(t, err)
}

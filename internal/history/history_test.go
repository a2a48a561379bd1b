package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/cpufreqctl/internal/action"
	"codeberg.org/mutker/cpufreqctl/internal/events"
	"codeberg.org/mutker/cpufreqctl/internal/logger"
	"codeberg.org/mutker/cpufreqctl/internal/monitor"
	"codeberg.org/mutker/cpufreqctl/internal/sampler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "history.db"))
	cfg.FlushInterval = 0
	cfg.BatchSize = 2
	return cfg
}

func TestSampleStats(t *testing.T) {
	lo, hi, avg := Sample{Frequencies: []uint64{3500, 2000, 800, 1200}}.Stats()
	assert.Equal(t, uint64(800), lo)
	assert.Equal(t, uint64(3500), hi)
	assert.InDelta(t, 1875.0, avg, 0.001)

	lo, hi, avg = Sample{}.Stats()
	assert.Zero(t, lo)
	assert.Zero(t, hi)
	assert.Zero(t, avg)
}

func TestConsumeRecordsEvents(t *testing.T) {
	svc, err := NewService(testConfig(t))
	require.NoError(t, err)
	defer svc.Close()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ch := make(chan events.Event, 8)
	ch <- events.Event{Type: events.StateUpdated, Time: base, Payload: monitor.State{
		Frequencies:     []uint64{3500, 2000},
		Mode:            sampler.ModePrimary,
		IndicatorStatus: monitor.IndicatorWarning,
	}}
	ch <- events.Event{Type: events.StateUpdated, Time: base.Add(time.Second), Payload: monitor.State{}}
	ch <- events.Event{Type: events.StateUpdated, Time: base.Add(2 * time.Second), Payload: monitor.State{
		Frequencies:  []uint64{1000},
		IsRefreshing: true,
	}}
	ch <- events.Event{Type: events.ThresholdExceeded, Time: base, Payload: monitor.ThresholdPayload{
		Severity:     monitor.IndicatorWarning,
		Cores:        []int{0},
		ThresholdGHz: 3.0,
	}}
	ch <- events.Event{Type: events.ActionFinished, Time: base, Payload: action.Result{
		ActionID:   "a1",
		ActionName: "boost",
		Phase:      action.PhaseDone,
		Started:    base,
		Finished:   base.Add(2 * time.Second),
	}}
	ch <- events.Event{Type: events.StateUpdated, Time: base.Add(3 * time.Second), Payload: monitor.State{
		Frequencies:     []uint64{800, 900},
		Mode:            sampler.ModeFallback,
		IndicatorStatus: monitor.IndicatorNormal,
	}}
	close(ch)

	require.NoError(t, svc.Consume(context.Background(), ch))

	samples, err := svc.RecentSamples(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, samples, 2)

	assert.Equal(t, []uint64{800, 900}, samples[0].Frequencies)
	assert.Equal(t, "normal", samples[0].Indicator)
	assert.Equal(t, "fallback", samples[0].Mode, "mode comes from the published state")
	assert.Equal(t, []uint64{3500, 2000}, samples[1].Frequencies)
	assert.Equal(t, "warning", samples[1].Indicator)
	assert.Equal(t, "primary", samples[1].Mode)
	assert.True(t, samples[1].Timestamp.Equal(base))

	repo := svc.rec.(*repository)
	var alerts, runs int
	require.NoError(t, repo.db.QueryRow("SELECT COUNT(*) FROM alerts").Scan(&alerts))
	require.NoError(t, repo.db.QueryRow("SELECT COUNT(*) FROM action_runs").Scan(&runs))
	assert.Equal(t, 1, alerts)
	assert.Equal(t, 1, runs)
}

func TestConsumeStopsOnCancel(t *testing.T) {
	svc, err := NewService(testConfig(t))
	require.NoError(t, err)
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Consume(ctx, make(chan events.Event)) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after cancel")
	}
}

func TestCloseFlushesBuffer(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 100

	svc, err := NewService(cfg)
	require.NoError(t, err)
	require.NoError(t, svc.rec.RecordSample(Sample{
		Timestamp:   time.Now(),
		Mode:        "primary",
		Indicator:   "normal",
		Frequencies: []uint64{1200},
	}))
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM samples").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSchemaMismatchBacksUpDatabase(t *testing.T) {
	cfg := testConfig(t)

	svc, err := NewService(cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec("UPDATE schema_versions SET version = ?", SchemaVersion+1)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	svc, err = NewService(cfg)
	require.NoError(t, err)
	defer svc.Close()

	backups, err := os.ReadDir(cfg.BackupDir)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Contains(t, backups[0].Name(), "history_v2_")

	version, err := GetSchemaVersion(svc.rec.(*repository).db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
}

func TestDisabledUsesNoop(t *testing.T) {
	svc, err := NewService(Config{Enabled: false})
	require.NoError(t, err)

	ch := make(chan events.Event, 1)
	ch <- events.Event{Type: events.StateUpdated, Payload: monitor.State{Frequencies: []uint64{1}}}
	close(ch)
	require.NoError(t, svc.Consume(context.Background(), ch))

	samples, err := svc.RecentSamples(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, samples)
	assert.NoError(t, svc.Close())
}

func TestInvalidConfig(t *testing.T) {
	_, err := NewService(Config{Enabled: true})
	assert.Error(t, err)

	_, err = NewRepository(Config{}, logger.With("test"))
	assert.Error(t, err)
}

package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/passbi/timetable_core/internal/gtfs"
	"github.com/passbi/timetable_core/internal/models"
	"github.com/passbi/timetable_core/internal/store"
	"github.com/passbi/timetable_core/internal/timetable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sampleFeed = filepath.Join("testdata", "sample-feed-1")
	sampleCSV  = filepath.Join("testdata", "my-network-landuff")
	validFrom  = models.NewDate(2021, time.January, 1)
	validTo    = models.NewDate(2021, time.December, 31)
	ctxTimeout = 10 * time.Second
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	t.Cleanup(cancel)
	return ctx
}

func newSQLiteStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.OpenSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestImportGTFS(t *testing.T) {
	ctx := testContext(t)
	s := store.NewMemoryStore()

	result, err := New(s).ImportGTFS(ctx, sampleFeed, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Routes)
	assert.Equal(t, 3, result.Stops)
	assert.Equal(t, 8, result.StopTimes)

	routes, err := s.Routes(ctx)
	require.NoError(t, err)
	require.Len(t, routes, 3)
	assert.Equal(t, models.Route{ID: "R10", Number: "10", Agency: "Lake Lines"}, routes[0])

	stops, err := s.Stops(ctx)
	require.NoError(t, err)
	require.Len(t, stops, 3)
	assert.Equal(t, "S1", stops[0].ID)
	assert.InDelta(t, 48.1351, stops[0].Latitude, 1e-9)

	stopTimes, err := s.StopTimes(ctx)
	require.NoError(t, err)
	require.Len(t, stopTimes, 8)

	for i, st := range stopTimes {
		assert.Equal(t, i, st.ID, "ids follow the per-run sequence")
	}

	first := stopTimes[0]
	assert.Equal(t, "Lakeside", first.StopName)
	assert.Equal(t, models.NewClock(8, 0).Ptr(), first.DepartureTime)
	assert.Equal(t, "Greenfield", first.Destination)
	assert.Equal(t, "10", first.RouteNumber)
	assert.Equal(t, "T10-1", first.JourneyNumber)
	assert.Equal(t, validFrom.Ptr(), first.ValidFromDate)
	assert.Equal(t, validTo.Ptr(), first.ValidToDate)
	assert.Equal(t, models.WorkingDays, first.OperatingDays)

	t.Run("Interior blank times are interpolated", func(t *testing.T) {
		assert.Equal(t, "Market Square", stopTimes[1].StopName)
		assert.Equal(t, models.NewClock(8, 0).Ptr(), stopTimes[1].ArrivalTime)
	})

	t.Run("Times past midnight wrap", func(t *testing.T) {
		assert.Equal(t, models.NewClock(0, 30).Ptr(), stopTimes[5].DepartureTime)
		assert.Equal(t, models.NewClock(1, 0).Ptr(), stopTimes[6].DepartureTime)
	})

	t.Run("Stop name comes from the stop entity", func(t *testing.T) {
		assert.Equal(t, "Lakeside", stopTimes[4].StopName)
	})

	t.Run("Missing calendar leaves validity unset", func(t *testing.T) {
		night := stopTimes[5]
		assert.Nil(t, night.ValidFromDate)
		assert.Nil(t, night.ValidToDate)
		assert.True(t, night.OperatingDays.IsEmpty())
	})

	t.Run("Ambiguous calendar leaves validity unset", func(t *testing.T) {
		variant := stopTimes[7]
		assert.Equal(t, "T10B-1", variant.JourneyNumber)
		assert.Nil(t, variant.ValidFromDate)
		assert.True(t, variant.OperatingDays.IsEmpty())
	})
}

func TestImportGTFSRouteFilter(t *testing.T) {
	tests := []struct {
		name          string
		filter        []string
		wantRoutes    int
		wantStops     int
		wantStopTimes int
	}{
		{name: "Empty filter imports all", filter: []string{}, wantRoutes: 3, wantStops: 3, wantStopTimes: 8},
		{name: "Two routes", filter: []string{"10", "20"}, wantRoutes: 2, wantStops: 3, wantStopTimes: 6},
		{name: "One route", filter: []string{"20"}, wantRoutes: 1, wantStops: 2, wantStopTimes: 2},
		{name: "Unknown route", filter: []string{"99"}, wantRoutes: 0, wantStops: 0, wantStopTimes: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t)
			s := store.NewMemoryStore()

			result, err := New(s).ImportGTFS(ctx, sampleFeed, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRoutes, result.Routes)
			assert.Equal(t, tt.wantStops, result.Stops)
			assert.Equal(t, tt.wantStopTimes, result.StopTimes)

			if len(tt.filter) == 0 {
				return
			}
			stopTimes, err := s.StopTimes(ctx)
			require.NoError(t, err)
			for _, st := range stopTimes {
				assert.Contains(t, tt.filter, st.RouteNumber)
			}
		})
	}
}

func TestImportGTFSIsIdempotentForRoutesAndStops(t *testing.T) {
	stores := map[string]store.Store{
		"memory": store.NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
	}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := testContext(t)
			im := New(s, WithBatchSize(3))

			_, err := im.ImportGTFS(ctx, sampleFeed, nil)
			require.NoError(t, err)

			second, err := im.ImportGTFS(ctx, sampleFeed, nil)
			require.NoError(t, err)
			assert.Zero(t, second.Routes)
			assert.Zero(t, second.Stops)
			assert.Equal(t, 8, second.StopTimes)

			routes, err := s.Routes(ctx)
			require.NoError(t, err)
			assert.Len(t, routes, 3)

			stops, err := s.Stops(ctx)
			require.NoError(t, err)
			assert.Len(t, stops, 3)

			// Sequence restarts with every run
			stopTimes, err := s.StopTimes(ctx)
			require.NoError(t, err)
			require.Len(t, stopTimes, 16)
			assert.Equal(t, 0, stopTimes[8].ID)
		})
	}
}

func TestImportGTFSErrors(t *testing.T) {
	t.Run("Missing directory", func(t *testing.T) {
		_, err := New(store.NewMemoryStore()).ImportGTFS(testContext(t), filepath.Join("testdata", "no-feed"), nil)
		assert.ErrorIs(t, err, ErrSourceNotFound)
	})

	t.Run("Missing required file is fatal", func(t *testing.T) {
		dir := copyDir(t, sampleFeed, "broken-feed")
		require.NoError(t, os.Remove(filepath.Join(dir, "stops.txt")))

		s := store.NewMemoryStore()
		_, err := New(s).ImportGTFS(testContext(t), dir, nil)
		require.ErrorIs(t, err, gtfs.ErrMissingRequiredEntity)

		logs, err := s.ImportLogs(context.Background())
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, "failed", logs[0].Status)
	})

	fatal := []struct {
		name    string
		file    string
		content string
	}{
		{
			name:    "Trip without route_id",
			file:    "trips.txt",
			content: "route_id,service_id,trip_id,trip_headsign\nR10,WK,T10-1,Greenfield\n,WK,T20-1,Market Square\n",
		},
		{
			name:    "Stop time without stop_id",
			file:    "stop_times.txt",
			content: "trip_id,arrival_time,departure_time,stop_id,stop_sequence\nT10-1,08:00:00,08:00:00,S1,1\nT10-1,08:10:00,08:10:00,,2\n",
		},
		{
			name:    "Stop time of unknown trip",
			file:    "stop_times.txt",
			content: "trip_id,arrival_time,departure_time,stop_id,stop_sequence\nT10-1,08:00:00,08:00:00,S1,1\nT99-1,08:10:00,08:10:00,S2,1\n",
		},
		{
			name:    "Stop time at unknown stop",
			file:    "stop_times.txt",
			content: "trip_id,arrival_time,departure_time,stop_id,stop_sequence\nT10-1,08:00:00,08:00:00,S1,1\nT10-1,08:10:00,08:10:00,S99,2\n",
		},
	}

	for _, tt := range fatal {
		t.Run(tt.name, func(t *testing.T) {
			dir := copyDir(t, sampleFeed, "incomplete-feed")
			writeFile(t, filepath.Join(dir, tt.file), tt.content)

			s := store.NewMemoryStore()
			_, err := New(s).ImportGTFS(testContext(t), dir, nil)
			require.ErrorIs(t, err, gtfs.ErrMissingRequiredEntity)

			logs, err := s.ImportLogs(context.Background())
			require.NoError(t, err)
			require.Len(t, logs, 1)
			assert.Equal(t, "failed", logs[0].Status)
		})
	}

	t.Run("Bad time value", func(t *testing.T) {
		dir := copyDir(t, sampleFeed, "bad-times")
		writeFile(t, filepath.Join(dir, "stop_times.txt"),
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence\nT10-1,8h00,8h00,S1,1\n")

		_, err := New(store.NewMemoryStore()).ImportGTFS(testContext(t), dir, nil)
		assert.ErrorIs(t, err, ErrMalformedFeed)
	})
}

func TestImportCSV(t *testing.T) {
	stores := map[string]store.Store{
		"memory": store.NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
	}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := testContext(t)

			result, err := New(s).ImportCSV(ctx, sampleCSV, validFrom, validTo)
			require.NoError(t, err)
			assert.Equal(t, 2, result.Routes)
			assert.Equal(t, 3, result.Stops)
			assert.Equal(t, 14, result.StopTimes)

			routes, err := s.Routes(ctx)
			require.NoError(t, err)
			require.Len(t, routes, 2)
			assert.Equal(t, "405A", routes[0].Number)
			assert.Equal(t, "My Network Landuff", routes[0].Agency)
			assert.Len(t, routes[0].ID, 36)

			stops, err := s.Stops(ctx)
			require.NoError(t, err)
			require.Len(t, stops, 3)
			assert.Zero(t, stops[0].Latitude)

			stopTimes, err := s.StopTimes(ctx)
			require.NoError(t, err)
			require.Len(t, stopTimes, 14)

			// Files are read in name order: inbound first
			first := stopTimes[0]
			assert.Equal(t, 0, first.ID)
			assert.Equal(t, "Greenfield", first.StopName)
			assert.Equal(t, models.NewClock(16, 30).Ptr(), first.DepartureTime)
			assert.Equal(t, first.DepartureTime, first.ArrivalTime)
			assert.Equal(t, "Lakeside", first.Destination)
			assert.Equal(t, "405A", first.RouteNumber)
			assert.Equal(t, "1", first.JourneyNumber)
			assert.Equal(t, models.WorkingDays, first.OperatingDays)
			assert.Equal(t, validFrom.Ptr(), first.ValidFromDate)
			assert.Equal(t, validTo.Ptr(), first.ValidToDate)

			second := stopTimes[2]
			assert.Equal(t, "Market Square", second.StopName)
			assert.Equal(t, "405B", second.RouteNumber)
			assert.Equal(t, "2", second.JourneyNumber)
			assert.Equal(t, models.AllWeek, second.OperatingDays)

			last := stopTimes[13]
			assert.Equal(t, 13, last.ID)
			assert.Equal(t, "Greenfield", last.Destination)
			assert.Equal(t, models.NewClock(8, 25).Ptr(), last.ArrivalTime)

			again, err := New(s).ImportCSV(ctx, sampleCSV, validFrom, validTo)
			require.NoError(t, err)
			assert.Zero(t, again.Routes)
			assert.Zero(t, again.Stops)
		})
	}
}

func TestImportCSVErrors(t *testing.T) {
	t.Run("Missing directory", func(t *testing.T) {
		_, err := New(store.NewMemoryStore()).ImportCSV(testContext(t), filepath.Join("testdata", "no-feed"), validFrom, validTo)
		assert.ErrorIs(t, err, ErrSourceNotFound)
	})

	t.Run("No csv files", func(t *testing.T) {
		_, err := New(store.NewMemoryStore()).ImportCSV(testContext(t), filepath.Join("testdata", "empty-network"), validFrom, validTo)
		assert.ErrorIs(t, err, ErrNoTimetableFiles)
	})

	t.Run("Reversed validity", func(t *testing.T) {
		_, err := New(store.NewMemoryStore()).ImportCSV(testContext(t), sampleCSV, validTo, validFrom)
		assert.ErrorIs(t, err, ErrInvalidValidity)
	})

	t.Run("Malformed file aborts the import", func(t *testing.T) {
		dir := copyDir(t, sampleCSV, "bad-network")
		writeFile(t, filepath.Join(dir, "zz-broken.csv"), "Route:;1\nDays of Operation;WD\nLakeside;25:99\n")

		s := store.NewMemoryStore()
		_, err := New(s).ImportCSV(testContext(t), dir, validFrom, validTo)
		require.ErrorIs(t, err, timetable.ErrMalformedTimetable)

		stopTimes, err := s.StopTimes(context.Background())
		require.NoError(t, err)
		assert.Len(t, stopTimes, 14, "files before the broken one stay imported")
	})
}

func TestAgencyFromDir(t *testing.T) {
	tests := []struct {
		dir      string
		expected string
	}{
		{dir: "my-network-landuff", expected: "My Network Landuff"},
		{dir: "/uploads/MY-NETWORK/", expected: "My Network"},
		{dir: "testdata/lake-LINES", expected: "Lake Lines"},
		{dir: "single", expected: "Single"},
	}

	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			assert.Equal(t, tt.expected, AgencyFromDir(tt.dir))
		})
	}
}

type fakeLock struct {
	held     bool
	acquired int
	released int
	err      error
}

func (l *fakeLock) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.held {
		return false, nil
	}
	l.acquired++
	return true, nil
}

func (l *fakeLock) ReleaseLock(ctx context.Context, key string) error {
	l.released++
	return nil
}

type fakeInvalidator struct {
	calls int
}

func (f *fakeInvalidator) InvalidateDepartures(ctx context.Context) error {
	f.calls++
	return nil
}

func TestImportLocking(t *testing.T) {
	t.Run("Lock held elsewhere", func(t *testing.T) {
		lock := &fakeLock{held: true}
		_, err := New(store.NewMemoryStore(), WithDistributedLock(lock)).ImportCSV(testContext(t), sampleCSV, validFrom, validTo)
		assert.ErrorIs(t, err, ErrImportInProgress)
		assert.Zero(t, lock.released)
	})

	t.Run("Lock backend failure", func(t *testing.T) {
		lock := &fakeLock{err: errors.New("redis down")}
		_, err := New(store.NewMemoryStore(), WithDistributedLock(lock)).ImportCSV(testContext(t), sampleCSV, validFrom, validTo)
		assert.ErrorContains(t, err, "redis down")
	})

	t.Run("Lock released and cache invalidated", func(t *testing.T) {
		lock := &fakeLock{}
		cache := &fakeInvalidator{}
		im := New(store.NewMemoryStore(), WithDistributedLock(lock), WithInvalidator(cache))

		_, err := im.ImportCSV(testContext(t), sampleCSV, validFrom, validTo)
		require.NoError(t, err)
		_, err = im.ImportGTFS(testContext(t), sampleFeed, nil)
		require.NoError(t, err)

		assert.Equal(t, 2, lock.acquired)
		assert.Equal(t, 2, lock.released)
		assert.Equal(t, 2, cache.calls)
	})

	t.Run("Failed import does not invalidate", func(t *testing.T) {
		lock := &fakeLock{}
		cache := &fakeInvalidator{}
		dir := copyDir(t, sampleFeed, "broken")
		require.NoError(t, os.Remove(filepath.Join(dir, "trips.txt")))

		_, err := New(store.NewMemoryStore(), WithDistributedLock(lock), WithInvalidator(cache)).ImportGTFS(testContext(t), dir, nil)
		require.Error(t, err)
		assert.Equal(t, 1, lock.released)
		assert.Zero(t, cache.calls)
	})
}

func TestImportLogRecorded(t *testing.T) {
	s := store.NewMemoryStore()
	_, err := New(s).ImportCSV(testContext(t), sampleCSV, validFrom, validTo)
	require.NoError(t, err)

	logs, err := s.ImportLogs(context.Background())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, FormatCSV, logs[0].Format)
	assert.Equal(t, "success", logs[0].Status)
	assert.Equal(t, 14, logs[0].StopTimesCount)
	assert.NotNil(t, logs[0].CompletedAt)
}

func copyDir(t *testing.T, src, name string) string {
	t.Helper()
	dst := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(dst, 0o755))

	entries, err := os.ReadDir(src)
	require.NoError(t, err)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(src, e.Name()))
		require.NoError(t, err)
		writeFile(t, filepath.Join(dst, e.Name()), string(data))
	}
	return dst
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

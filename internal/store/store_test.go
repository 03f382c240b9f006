package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/passbi/timetable_core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	sqliteStore, err := OpenSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}

	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		pool, err := pgxpool.New(ctx, url)
		require.NoError(t, err)
		t.Cleanup(pool.Close)

		_, err = pool.Exec(ctx, `DROP TABLE IF EXISTS route, stop, stop_time, import_log`)
		require.NoError(t, err)

		pg, err := NewPostgresStore(ctx, pool)
		require.NoError(t, err)
		stores["postgres"] = pg
	}

	return stores
}

func TestInsertRouteIgnoresDuplicateNumber(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.InsertRoute(ctx, models.Route{ID: "r1", Number: "405A", Agency: "Lake Lines"}))
			require.NoError(t, s.InsertRoute(ctx, models.Route{ID: "r2", Number: "405A", Agency: "Other"}))
			require.NoError(t, s.InsertRoute(ctx, models.Route{ID: "r3", Number: "12", Agency: "Lake Lines"}))

			routes, err := s.Routes(ctx)
			require.NoError(t, err)
			require.Len(t, routes, 2)
			assert.Equal(t, models.Route{ID: "r1", Number: "405A", Agency: "Lake Lines"}, routes[0])
			assert.Equal(t, "12", routes[1].Number)
		})
	}
}

func TestInsertStopIgnoresDuplicateName(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.InsertStop(ctx, models.Stop{ID: "s1", Name: "Lakeside", Latitude: 48.1, Longitude: 11.5}))
			require.NoError(t, s.InsertStop(ctx, models.Stop{ID: "s2", Name: "Lakeside"}))
			require.NoError(t, s.InsertStop(ctx, models.Stop{ID: "s3", Name: "lakeside"}))

			stops, err := s.Stops(ctx)
			require.NoError(t, err)
			require.Len(t, stops, 2)
			assert.Equal(t, "s1", stops[0].ID)
			assert.InDelta(t, 48.1, stops[0].Latitude, 1e-9)
			assert.Equal(t, "lakeside", stops[1].Name)
		})
	}
}

func TestStopTimesRoundTrip(t *testing.T) {
	from := models.NewDate(2021, time.January, 1)
	to := models.NewDate(2021, time.December, 31)

	input := []models.StopTime{
		{
			ID:            0,
			StopName:      "Lakeside",
			ArrivalTime:   models.NewClock(16, 11).Ptr(),
			DepartureTime: models.NewClock(16, 12).Ptr(),
			Destination:   "Greenfield",
			RouteNumber:   "405A",
			ValidFromDate: &from,
			ValidToDate:   &to,
			OperatingDays: models.WorkingDays,
			JourneyNumber: "1",
		},
		{
			ID:            1,
			StopName:      "Greenfield",
			DepartureTime: models.NewClock(0, 5).Ptr(),
			RouteNumber:   "405A",
			JourneyNumber: "1",
		},
		{
			ID:            2,
			StopName:      "Lakeside",
			ArrivalTime:   models.NewClock(23, 59).Ptr(),
			DepartureTime: models.NewClock(23, 59).Ptr(),
			OperatingDays: models.NewWeekdays(time.Sunday),
		},
	}

	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.InsertStopTimes(ctx, input))

			all, err := s.StopTimes(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			lakeside, err := s.StopTimesForStop(ctx, "Lakeside")
			require.NoError(t, err)
			require.Len(t, lakeside, 2)
			assert.Equal(t, input[0], lakeside[0])
			assert.Equal(t, input[2], lakeside[1])

			greenfield, err := s.StopTimesForStop(ctx, "Greenfield")
			require.NoError(t, err)
			require.Len(t, greenfield, 1)
			assert.Nil(t, greenfield[0].ArrivalTime)
			assert.Nil(t, greenfield[0].ValidFromDate)
			assert.True(t, greenfield[0].OperatingDays.IsEmpty())

			unknown, err := s.StopTimesForStop(ctx, "Nowhere")
			require.NoError(t, err)
			assert.Empty(t, unknown)
		})
	}
}

func TestImportLogUpsert(t *testing.T) {
	started := time.Date(2021, 4, 10, 8, 0, 0, 0, time.UTC)
	completed := started.Add(3 * time.Second)

	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			entry := models.ImportLog{ID: "imp-1", Format: "csv", Source: "my-network", StartedAt: started, Status: "running"}
			require.NoError(t, s.SaveImportLog(ctx, entry))

			entry.Status = "success"
			entry.CompletedAt = &completed
			entry.StopTimesCount = 42
			require.NoError(t, s.SaveImportLog(ctx, entry))

			logs, err := s.ImportLogs(ctx)
			require.NoError(t, err)
			require.Len(t, logs, 1)
			assert.Equal(t, "success", logs[0].Status)
			assert.Equal(t, 42, logs[0].StopTimesCount)
			require.NotNil(t, logs[0].CompletedAt)
			assert.True(t, completed.Equal(*logs[0].CompletedAt))
		})
	}
}

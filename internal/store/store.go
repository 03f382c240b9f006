// Package store is the persistence boundary between the importers and the
// departure query engine. Implementations treat route number and stop name as
// natural keys: inserting a second route with the same number (or a second stop
// with the same name) is a no-op.
package store

import (
	"context"

	"github.com/passbi/timetable_core/internal/models"
)

// Store exposes find-all and insert operations over routes, stops and stop times
type Store interface {
	Routes(ctx context.Context) ([]models.Route, error)
	Stops(ctx context.Context) ([]models.Stop, error)
	StopTimes(ctx context.Context) ([]models.StopTime, error)
	StopTimesForStop(ctx context.Context, stopName string) ([]models.StopTime, error)

	InsertRoute(ctx context.Context, route models.Route) error
	InsertStop(ctx context.Context, stop models.Stop) error
	InsertStopTimes(ctx context.Context, stopTimes []models.StopTime) error

	SaveImportLog(ctx context.Context, entry models.ImportLog) error
	ImportLogs(ctx context.Context) ([]models.ImportLog, error)

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// batchSize bounds the number of rows sent per database round trip
const batchSize = 1000

func clockToNullable(c *models.Clock) *int {
	if c == nil {
		return nil
	}
	v := int(*c)
	return &v
}

func clockFromNullable(v *int) *models.Clock {
	if v == nil {
		return nil
	}
	return models.Clock(*v).Ptr()
}

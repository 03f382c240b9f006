package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/passbi/timetable_core/internal/db"
	"github.com/passbi/timetable_core/internal/models"
)

const stopTimeColumns = `seq, stop_name, arrival_minutes, departure_minutes, destination,
	route_number, valid_from, valid_to, operating_days, journey_number`

// PostgresStore persists the schedule in PostgreSQL through a pgx pool
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps pool and makes sure the schedule tables exist
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if err := db.EnsureSchema(ctx, pool); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Routes(ctx context.Context) ([]models.Route, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, number, agency FROM route ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	defer rows.Close()

	var routes []models.Route
	for rows.Next() {
		var r models.Route
		if err := rows.Scan(&r.ID, &r.Number, &r.Agency); err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

func (s *PostgresStore) Stops(ctx context.Context) ([]models.Stop, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, lat, lon FROM stop ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stops: %w", err)
	}
	defer rows.Close()

	var stops []models.Stop
	for rows.Next() {
		var st models.Stop
		if err := rows.Scan(&st.ID, &st.Name, &st.Latitude, &st.Longitude); err != nil {
			return nil, fmt.Errorf("failed to scan stop: %w", err)
		}
		stops = append(stops, st)
	}
	return stops, rows.Err()
}

func (s *PostgresStore) StopTimes(ctx context.Context) ([]models.StopTime, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+stopTimeColumns+` FROM stop_time ORDER BY row_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stop_times: %w", err)
	}
	return collectStopTimes(rows)
}

func (s *PostgresStore) StopTimesForStop(ctx context.Context, stopName string) ([]models.StopTime, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+stopTimeColumns+`
		FROM stop_time
		WHERE stop_name = $1
		ORDER BY row_id
	`, stopName)
	if err != nil {
		return nil, fmt.Errorf("failed to query stop_times for %q: %w", stopName, err)
	}
	return collectStopTimes(rows)
}

func collectStopTimes(rows pgx.Rows) ([]models.StopTime, error) {
	defer rows.Close()

	var stopTimes []models.StopTime
	for rows.Next() {
		var (
			st                 models.StopTime
			arrival, departure *int
			validFrom, validTo *time.Time
			days               int16
		)
		if err := rows.Scan(
			&st.ID, &st.StopName, &arrival, &departure, &st.Destination,
			&st.RouteNumber, &validFrom, &validTo, &days, &st.JourneyNumber,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stop_time: %w", err)
		}
		st.ArrivalTime = clockFromNullable(arrival)
		st.DepartureTime = clockFromNullable(departure)
		if validFrom != nil {
			st.ValidFromDate = models.DateOf(*validFrom).Ptr()
		}
		if validTo != nil {
			st.ValidToDate = models.DateOf(*validTo).Ptr()
		}
		st.OperatingDays = models.Weekdays(days)
		stopTimes = append(stopTimes, st)
	}
	return stopTimes, rows.Err()
}

func (s *PostgresStore) InsertRoute(ctx context.Context, route models.Route) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO route (id, number, agency)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, route.ID, route.Number, route.Agency)
	if err != nil {
		return fmt.Errorf("failed to insert route %s: %w", route.Number, err)
	}
	return nil
}

func (s *PostgresStore) InsertStop(ctx context.Context, stop models.Stop) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stop (id, name, lat, lon)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`, stop.ID, stop.Name, stop.Latitude, stop.Longitude)
	if err != nil {
		return fmt.Errorf("failed to insert stop %s: %w", stop.Name, err)
	}
	return nil
}

// InsertStopTimes writes stopTimes in one transaction, batched per round trip
func (s *PostgresStore) InsertStopTimes(ctx context.Context, stopTimes []models.StopTime) error {
	if len(stopTimes) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, st := range stopTimes {
		batch.Queue(`
			INSERT INTO stop_time (`+stopTimeColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, st.ID, st.StopName, clockToNullable(st.ArrivalTime), clockToNullable(st.DepartureTime),
			st.Destination, st.RouteNumber, dateToNullable(st.ValidFromDate), dateToNullable(st.ValidToDate),
			int16(st.OperatingDays), st.JourneyNumber)

		if batch.Len() >= batchSize {
			if err := sendBatch(ctx, tx, batch); err != nil {
				return err
			}
			batch = &pgx.Batch{}
		}
	}

	if batch.Len() > 0 {
		if err := sendBatch(ctx, tx, batch); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit stop_times: %w", err)
	}
	return nil
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert stop_time batch at %d: %w", i, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveImportLog(ctx context.Context, entry models.ImportLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO import_log (id, format, source, started_at, completed_at, status,
			routes_count, stops_count, stop_times_count, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET completed_at = EXCLUDED.completed_at,
		    status = EXCLUDED.status,
		    routes_count = EXCLUDED.routes_count,
		    stops_count = EXCLUDED.stops_count,
		    stop_times_count = EXCLUDED.stop_times_count,
		    message = EXCLUDED.message
	`, entry.ID, entry.Format, entry.Source, entry.StartedAt, entry.CompletedAt, entry.Status,
		entry.RoutesCount, entry.StopsCount, entry.StopTimesCount, entry.ErrorMsg)
	if err != nil {
		return fmt.Errorf("failed to save import log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ImportLogs(ctx context.Context) ([]models.ImportLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, format, source, started_at, completed_at, status,
			routes_count, stops_count, stop_times_count, message
		FROM import_log
		ORDER BY started_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query import logs: %w", err)
	}
	defer rows.Close()

	var logs []models.ImportLog
	for rows.Next() {
		var l models.ImportLog
		if err := rows.Scan(&l.ID, &l.Format, &l.Source, &l.StartedAt, &l.CompletedAt, &l.Status,
			&l.RoutesCount, &l.StopsCount, &l.StopTimesCount, &l.ErrorMsg); err != nil {
			return nil, fmt.Errorf("failed to scan import log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return db.HealthCheck(ctx, s.pool)
}

// Close is a no-op; the pool is owned by the db package
func (s *PostgresStore) Close() error {
	return nil
}

func dateToNullable(d *models.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time()
	return &t
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/passbi/timetable_core/internal/db"
	"github.com/passbi/timetable_core/internal/models"
)

// SQLiteStore persists the schedule in an embedded SQLite database
type SQLiteStore struct {
	db *db.SQLite
}

// OpenSQLiteStore opens (or creates) the database at path and ensures the schema
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	conn, err := db.ConnectSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := conn.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return &SQLiteStore{db: conn}, nil
}

func (s *SQLiteStore) Routes(ctx context.Context) ([]models.Route, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `SELECT id, number, agency FROM route ORDER BY rowid`)
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

func (s *SQLiteStore) Stops(ctx context.Context) ([]models.Stop, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `SELECT id, name, lat, lon FROM stop ORDER BY rowid`)
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

func (s *SQLiteStore) StopTimes(ctx context.Context) ([]models.StopTime, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `SELECT `+stopTimeColumns+` FROM stop_time ORDER BY row_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stop_times: %w", err)
	}
	return scanSQLiteStopTimes(rows)
}

func (s *SQLiteStore) StopTimesForStop(ctx context.Context, stopName string) ([]models.StopTime, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT `+stopTimeColumns+`
		FROM stop_time
		WHERE stop_name = ?
		ORDER BY row_id
	`, stopName)
	if err != nil {
		return nil, fmt.Errorf("failed to query stop_times for %q: %w", stopName, err)
	}
	return scanSQLiteStopTimes(rows)
}

func scanSQLiteStopTimes(rows *sql.Rows) ([]models.StopTime, error) {
	defer rows.Close()

	var stopTimes []models.StopTime
	for rows.Next() {
		var (
			st                 models.StopTime
			arrival, departure sql.NullInt64
			validFrom, validTo sql.NullString
			days               int64
		)
		if err := rows.Scan(
			&st.ID, &st.StopName, &arrival, &departure, &st.Destination,
			&st.RouteNumber, &validFrom, &validTo, &days, &st.JourneyNumber,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stop_time: %w", err)
		}
		if arrival.Valid {
			st.ArrivalTime = models.Clock(arrival.Int64).Ptr()
		}
		if departure.Valid {
			st.DepartureTime = models.Clock(departure.Int64).Ptr()
		}
		if validFrom.Valid {
			d, err := models.ParseDate(validFrom.String)
			if err != nil {
				return nil, err
			}
			st.ValidFromDate = &d
		}
		if validTo.Valid {
			d, err := models.ParseDate(validTo.String)
			if err != nil {
				return nil, err
			}
			st.ValidToDate = &d
		}
		st.OperatingDays = models.Weekdays(days)
		stopTimes = append(stopTimes, st)
	}
	return stopTimes, rows.Err()
}

func (s *SQLiteStore) InsertRoute(ctx context.Context, route models.Route) error {
	s.db.LockWrite()
	defer s.db.UnlockWrite()

	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT OR IGNORE INTO route (id, number, agency) VALUES (?, ?, ?)`,
		route.ID, route.Number, route.Agency)
	if err != nil {
		return fmt.Errorf("failed to insert route %s: %w", route.Number, err)
	}
	return nil
}

func (s *SQLiteStore) InsertStop(ctx context.Context, stop models.Stop) error {
	s.db.LockWrite()
	defer s.db.UnlockWrite()

	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT OR IGNORE INTO stop (id, name, lat, lon) VALUES (?, ?, ?, ?)`,
		stop.ID, stop.Name, stop.Latitude, stop.Longitude)
	if err != nil {
		return fmt.Errorf("failed to insert stop %s: %w", stop.Name, err)
	}
	return nil
}

// InsertStopTimes writes stopTimes in one transaction using a prepared statement
func (s *SQLiteStore) InsertStopTimes(ctx context.Context, stopTimes []models.StopTime) error {
	if len(stopTimes) == 0 {
		return nil
	}

	s.db.LockWrite()
	defer s.db.UnlockWrite()

	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stop_time (`+stopTimeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare stop_time insert: %w", err)
	}
	defer stmt.Close()

	for i, st := range stopTimes {
		if _, err := stmt.ExecContext(ctx,
			st.ID, st.StopName, clockToNullable(st.ArrivalTime), clockToNullable(st.DepartureTime),
			st.Destination, st.RouteNumber, dateToText(st.ValidFromDate), dateToText(st.ValidToDate),
			int64(st.OperatingDays), st.JourneyNumber,
		); err != nil {
			return fmt.Errorf("failed to insert stop_time %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stop_times: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveImportLog(ctx context.Context, entry models.ImportLog) error {
	s.db.LockWrite()
	defer s.db.UnlockWrite()

	var completedAt *string
	if entry.CompletedAt != nil {
		v := entry.CompletedAt.UTC().Format(time.RFC3339Nano)
		completedAt = &v
	}

	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO import_log (id, format, source, started_at, completed_at, status,
			routes_count, stops_count, stop_times_count, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET completed_at = excluded.completed_at,
		    status = excluded.status,
		    routes_count = excluded.routes_count,
		    stops_count = excluded.stops_count,
		    stop_times_count = excluded.stop_times_count,
		    message = excluded.message
	`, entry.ID, entry.Format, entry.Source, entry.StartedAt.UTC().Format(time.RFC3339Nano), completedAt,
		entry.Status, entry.RoutesCount, entry.StopsCount, entry.StopTimesCount, entry.ErrorMsg)
	if err != nil {
		return fmt.Errorf("failed to save import log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ImportLogs(ctx context.Context) ([]models.ImportLog, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
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
		var (
			l           models.ImportLog
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.Format, &l.Source, &startedAt, &completedAt, &l.Status,
			&l.RoutesCount, &l.StopsCount, &l.StopTimesCount, &l.ErrorMsg); err != nil {
			return nil, fmt.Errorf("failed to scan import log: %w", err)
		}
		l.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if completedAt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
				l.CompletedAt = &t
			}
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.Conn().PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func dateToText(d *models.Date) *string {
	if d == nil {
		return nil
	}
	v := d.String()
	return &v
}

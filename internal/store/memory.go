package store

import (
	"context"
	"sync"

	"github.com/passbi/timetable_core/internal/models"
)

// MemoryStore keeps the schedule in process memory
type MemoryStore struct {
	mu        sync.RWMutex
	routes    []models.Route
	stops     []models.Stop
	stopTimes []models.StopTime
	logs      []models.ImportLog
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Routes(ctx context.Context) ([]models.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Route(nil), s.routes...), nil
}

func (s *MemoryStore) Stops(ctx context.Context) ([]models.Stop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Stop(nil), s.stops...), nil
}

func (s *MemoryStore) StopTimes(ctx context.Context) ([]models.StopTime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.StopTime(nil), s.stopTimes...), nil
}

func (s *MemoryStore) StopTimesForStop(ctx context.Context, stopName string) ([]models.StopTime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.StopTime
	for _, st := range s.stopTimes {
		if st.StopName == stopName {
			result = append(result, st)
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertRoute(ctx context.Context, route models.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.routes {
		if r.Number == route.Number {
			return nil
		}
	}
	s.routes = append(s.routes, route)
	return nil
}

func (s *MemoryStore) InsertStop(ctx context.Context, stop models.Stop) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.stops {
		if existing.Name == stop.Name {
			return nil
		}
	}
	s.stops = append(s.stops, stop)
	return nil
}

func (s *MemoryStore) InsertStopTimes(ctx context.Context, stopTimes []models.StopTime) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimes = append(s.stopTimes, stopTimes...)
	return nil
}

func (s *MemoryStore) SaveImportLog(ctx context.Context, entry models.ImportLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.logs {
		if s.logs[i].ID == entry.ID {
			s.logs[i] = entry
			return nil
		}
	}
	s.logs = append(s.logs, entry)
	return nil
}

func (s *MemoryStore) ImportLogs(ctx context.Context) ([]models.ImportLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ImportLog(nil), s.logs...), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Package schedule answers "what leaves or arrives next" questions for a stop.
package schedule

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/passbi/timetable_core/internal/models"
	"github.com/passbi/timetable_core/internal/store"
)

const (
	// MaxResults caps the upcoming departures/arrivals returned by Query
	MaxResults = 3
	// Horizon is how far past the reference time Query looks
	Horizon = 2 * time.Hour
	// LateEvening is the reference time from which the horizon crosses midnight
	LateEvening = models.Clock(22 * 60)

	lastMinute = models.Clock(models.MinutesPerDay - 1)
	cacheTTL   = 60 * time.Second
)

// Cache stores query results for a short time
type Cache interface {
	GetStopTimes(ctx context.Context, key string) ([]models.StopTime, bool, error)
	SetStopTimes(ctx context.Context, key string, stopTimes []models.StopTime, ttl time.Duration) error
}

// KeyFunc builds the cache key of one query
type KeyFunc func(mode models.TimeMode, stopName string, date models.Date, ref string) string

// Query selects upcoming stop times at a stop
type Query struct {
	StopName string
	// Ref is the reference time; nil means now
	Ref  *models.Clock
	Mode models.TimeMode
}

// Service evaluates queries against a store
type Service struct {
	store store.Store
	cache Cache
	key   KeyFunc
	now   func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithCache caches results under keys built by key
func WithCache(cache Cache, key KeyFunc) Option {
	return func(s *Service) {
		s.cache = cache
		s.key = key
	}
}

// WithClock replaces the wall clock used for "now" and the current day
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a query service reading from st
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Departures returns up to three departures from stopName within two hours of ref
func (s *Service) Departures(ctx context.Context, stopName string, ref *models.Clock) ([]models.StopTime, error) {
	return s.Query(ctx, Query{StopName: stopName, Ref: ref, Mode: models.ModeDeparture})
}

// Arrivals returns up to three arrivals at stopName within two hours of ref
func (s *Service) Arrivals(ctx context.Context, stopName string, ref *models.Clock) ([]models.StopTime, error) {
	return s.Query(ctx, Query{StopName: stopName, Ref: ref, Mode: models.ModeArrival})
}

// DeparturesByDate returns every departure from stopName scheduled on date
func (s *Service) DeparturesByDate(ctx context.Context, stopName string, date models.Date) ([]models.StopTime, error) {
	return s.byDate(ctx, stopName, date, models.ModeDeparture)
}

// ArrivalsByDate returns every arrival at stopName scheduled on date
func (s *Service) ArrivalsByDate(ctx context.Context, stopName string, date models.Date) ([]models.StopTime, error) {
	return s.byDate(ctx, stopName, date, models.ModeArrival)
}

// Query returns the next stop times at q.StopName, sorted by the time q.Mode selects.
// From 22:00 the window wraps past midnight and entries of the following day
// fill up the result.
func (s *Service) Query(ctx context.Context, q Query) ([]models.StopTime, error) {
	now := s.now()
	today := models.DateOf(now)
	ref := models.ClockOf(now)
	if q.Ref != nil {
		ref = *q.Ref
	}

	return s.cached(ctx, q.Mode, q.StopName, today, ref.String(), func() ([]models.StopTime, error) {
		candidates, err := s.candidates(ctx, q.StopName, q.Mode)
		if err != nil {
			return nil, err
		}
		if ref >= LateEvening {
			return lateEvening(candidates, q.Mode, today, ref), nil
		}
		return upcoming(candidates, q.Mode, today, ref), nil
	})
}

func (s *Service) byDate(ctx context.Context, stopName string, date models.Date, mode models.TimeMode) ([]models.StopTime, error) {
	return s.cached(ctx, mode, stopName, date, "day", func() ([]models.StopTime, error) {
		candidates, err := s.candidates(ctx, stopName, mode)
		if err != nil {
			return nil, err
		}

		result := make([]models.StopTime, 0, len(candidates))
		for _, st := range candidates {
			if st.RunsOn(date) {
				result = append(result, st)
			}
		}
		return result, nil
	})
}

// candidates loads the stop's entries that carry the mode's time, sorted by it
func (s *Service) candidates(ctx context.Context, stopName string, mode models.TimeMode) ([]models.StopTime, error) {
	all, err := s.store.StopTimesForStop(ctx, stopName)
	if err != nil {
		return nil, fmt.Errorf("failed to load stop times for %q: %w", stopName, err)
	}

	result := make([]models.StopTime, 0, len(all))
	for _, st := range all {
		if st.TimeFor(mode) != nil {
			result = append(result, st)
		}
	}
	sortByTime(result, mode)
	return result, nil
}

// upcoming selects today's entries in [ref, ref+2h], one per destination and time
func upcoming(sorted []models.StopTime, mode models.TimeMode, today models.Date, ref models.Clock) []models.StopTime {
	end := ref + horizonMinutes()

	type tour struct {
		destination string
		at          models.Clock
	}
	seen := make(map[tour]bool)

	result := make([]models.StopTime, 0, MaxResults)
	for _, st := range sorted {
		at := *st.TimeFor(mode)
		if at < ref || at > end || !st.OperatingDays.Contains(today.Weekday()) {
			continue
		}

		key := tour{destination: st.Destination, at: at}
		if seen[key] {
			continue
		}
		seen[key] = true

		result = append(result, st)
		if len(result) == MaxResults {
			break
		}
	}
	return result
}

// lateEvening fills the result with today's entries until midnight, then with
// tomorrow's entries up to the end of the horizon
func lateEvening(sorted []models.StopTime, mode models.TimeMode, today models.Date, ref models.Clock) []models.StopTime {
	result := make([]models.StopTime, 0, MaxResults)
	for _, st := range sorted {
		if len(result) == MaxResults {
			return result
		}
		at := *st.TimeFor(mode)
		if at >= ref && at <= lastMinute && st.OperatingDays.Contains(today.Weekday()) {
			result = append(result, st)
		}
	}

	wrapEnd := ref + horizonMinutes() - models.MinutesPerDay
	tomorrow := today.AddDays(1).Weekday()
	for _, st := range sorted {
		if len(result) == MaxResults {
			break
		}
		at := *st.TimeFor(mode)
		if at <= wrapEnd && st.OperatingDays.Contains(tomorrow) {
			result = append(result, st)
		}
	}
	return result
}

func (s *Service) cached(ctx context.Context, mode models.TimeMode, stopName string, date models.Date, ref string, load func() ([]models.StopTime, error)) ([]models.StopTime, error) {
	if s.cache == nil {
		return load()
	}

	key := s.key(mode, stopName, date, ref)
	if hit, ok, err := s.cache.GetStopTimes(ctx, key); err != nil {
		log.Printf("Warning: cache lookup failed for %s: %v", key, err)
	} else if ok {
		return hit, nil
	}

	result, err := load()
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetStopTimes(ctx, key, result, cacheTTL); err != nil {
		log.Printf("Warning: failed to cache %s: %v", key, err)
	}
	return result, nil
}

func sortByTime(stopTimes []models.StopTime, mode models.TimeMode) {
	sort.SliceStable(stopTimes, func(i, j int) bool {
		return *stopTimes[i].TimeFor(mode) < *stopTimes[j].TimeFor(mode)
	})
}

func horizonMinutes() models.Clock {
	return models.Clock(Horizon / time.Minute)
}

// Package importer loads GTFS feeds and operator timetables into a schedule store.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/passbi/timetable_core/internal/models"
	"github.com/passbi/timetable_core/internal/store"
)

var (
	// ErrSourceNotFound is returned when the import directory does not exist
	ErrSourceNotFound = errors.New("import source not found")
	// ErrNoTimetableFiles is returned when a timetable directory holds no .csv file
	ErrNoTimetableFiles = errors.New("no timetable files found")
	// ErrInvalidValidity is returned when the validity window ends before it starts
	ErrInvalidValidity = errors.New("valid-to date is before valid-from date")
	// ErrMalformedFeed is returned when a GTFS value cannot be converted
	ErrMalformedFeed = errors.New("malformed gtfs data")
	// ErrImportInProgress is returned when another process holds the import lock
	ErrImportInProgress = errors.New("another import is in progress")
)

const (
	FormatGTFS = "gtfs"
	FormatCSV  = "csv"

	importLockKey = "lock:import"
	importLockTTL = 30 * time.Minute

	defaultBatchSize = 1000
)

// DistributedLock serializes imports across processes sharing a store
type DistributedLock interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// Invalidator drops cached query results after the schedule changed
type Invalidator interface {
	InvalidateDepartures(ctx context.Context) error
}

// Result summarizes what an import added to the store
type Result struct {
	Routes    int           `json:"routes"`
	Stops     int           `json:"stops"`
	StopTimes int           `json:"stop_times"`
	Duration  time.Duration `json:"duration"`
}

// Importer writes imported schedules to a store. Imports through one Importer
// are serialized; a DistributedLock extends that to other processes.
type Importer struct {
	store     store.Store
	mu        sync.Mutex
	lock      DistributedLock
	cache     Invalidator
	batchSize int
}

// Option configures an Importer
type Option func(*Importer)

// WithDistributedLock makes every import hold lock for its duration
func WithDistributedLock(lock DistributedLock) Option {
	return func(im *Importer) { im.lock = lock }
}

// WithInvalidator drops cached departures after each successful import
func WithInvalidator(cache Invalidator) Option {
	return func(im *Importer) { im.cache = cache }
}

// WithBatchSize sets how many stop times are buffered before a store write
func WithBatchSize(n int) Option {
	return func(im *Importer) {
		if n > 0 {
			im.batchSize = n
		}
	}
}

// New creates an Importer writing to s
func New(s store.Store, opts ...Option) *Importer {
	im := &Importer{store: s, batchSize: defaultBatchSize}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// run is the state of one import invocation
type run struct {
	im        *Importer
	entry     models.ImportLog
	routes    map[string]bool
	stops     map[string]bool
	nextID    int
	pending   []models.StopTime
	result    Result
	startTime time.Time
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, dir)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrSourceNotFound, dir)
	}
	return nil
}

// begin takes the import locks and loads the natural keys already in the store
func (im *Importer) begin(ctx context.Context, format, source string) (*run, error) {
	im.mu.Lock()

	if im.lock != nil {
		ok, err := im.lock.AcquireLock(ctx, importLockKey, importLockTTL)
		if err != nil {
			im.mu.Unlock()
			return nil, fmt.Errorf("failed to acquire import lock: %w", err)
		}
		if !ok {
			im.mu.Unlock()
			return nil, ErrImportInProgress
		}
	}

	r := &run{
		im:        im,
		routes:    make(map[string]bool),
		stops:     make(map[string]bool),
		startTime: time.Now(),
		entry: models.ImportLog{
			ID:        uuid.NewString(),
			Format:    format,
			Source:    source,
			StartedAt: time.Now().UTC(),
			Status:    "running",
		},
	}

	if err := r.seed(ctx); err != nil {
		im.release(ctx)
		return nil, err
	}

	if err := im.store.SaveImportLog(ctx, r.entry); err != nil {
		log.Printf("Warning: failed to record import start: %v", err)
	}

	return r, nil
}

func (im *Importer) release(ctx context.Context) {
	if im.lock != nil {
		if err := im.lock.ReleaseLock(context.WithoutCancel(ctx), importLockKey); err != nil {
			log.Printf("Warning: failed to release import lock: %v", err)
		}
	}
	im.mu.Unlock()
}

func (r *run) seed(ctx context.Context) error {
	routes, err := r.im.store.Routes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load existing routes: %w", err)
	}
	for _, route := range routes {
		r.routes[route.Number] = true
	}

	stops, err := r.im.store.Stops(ctx)
	if err != nil {
		return fmt.Errorf("failed to load existing stops: %w", err)
	}
	for _, stop := range stops {
		r.stops[stop.Name] = true
	}
	return nil
}

// finish flushes buffered stop times, records the outcome and releases the locks
func (r *run) finish(ctx context.Context, importErr error) (*Result, error) {
	defer r.im.release(ctx)

	if importErr == nil {
		importErr = r.flush(ctx)
	}

	r.result.Duration = time.Since(r.startTime)
	completed := time.Now().UTC()
	r.entry.CompletedAt = &completed
	r.entry.RoutesCount = r.result.Routes
	r.entry.StopsCount = r.result.Stops
	r.entry.StopTimesCount = r.result.StopTimes

	if importErr != nil {
		r.entry.Status = "failed"
		r.entry.ErrorMsg = importErr.Error()
	} else {
		r.entry.Status = "success"
	}

	logCtx := context.WithoutCancel(ctx)
	if err := r.im.store.SaveImportLog(logCtx, r.entry); err != nil {
		log.Printf("Warning: failed to record import result: %v", err)
	}

	if importErr != nil {
		return nil, importErr
	}

	if r.im.cache != nil {
		if err := r.im.cache.InvalidateDepartures(logCtx); err != nil {
			log.Printf("Warning: failed to invalidate departures cache: %v", err)
		}
	}

	log.Printf("Import completed in %s: %d routes, %d stops, %d stop_times",
		r.result.Duration, r.result.Routes, r.result.Stops, r.result.StopTimes)

	result := r.result
	return &result, nil
}

func (r *run) addRoute(ctx context.Context, route models.Route) error {
	if r.routes[route.Number] {
		return nil
	}
	if err := r.im.store.InsertRoute(ctx, route); err != nil {
		return err
	}
	r.routes[route.Number] = true
	r.result.Routes++
	return nil
}

func (r *run) addStop(ctx context.Context, stop models.Stop) error {
	if r.stops[stop.Name] {
		return nil
	}
	if err := r.im.store.InsertStop(ctx, stop); err != nil {
		return err
	}
	r.stops[stop.Name] = true
	r.result.Stops++
	return nil
}

// addStopTime assigns the next sequence value to st and buffers it
func (r *run) addStopTime(ctx context.Context, st models.StopTime) error {
	st.ID = r.nextID
	r.nextID++
	r.pending = append(r.pending, st)

	if len(r.pending) >= r.im.batchSize {
		return r.flush(ctx)
	}
	return nil
}

func (r *run) flush(ctx context.Context) error {
	if len(r.pending) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.im.store.InsertStopTimes(ctx, r.pending); err != nil {
		return fmt.Errorf("failed to insert stop_times: %w", err)
	}
	r.result.StopTimes += len(r.pending)
	r.pending = r.pending[:0]
	return nil
}

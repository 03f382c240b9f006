package importer

import (
	"context"
	"fmt"
	"log"

	"github.com/passbi/timetable_core/internal/gtfs"
	"github.com/passbi/timetable_core/internal/models"
)

// ImportGTFS imports the GTFS feed extracted in dir. Only routes whose number
// is in routeFilter are imported, together with the stop times of their trips;
// an empty filter imports everything.
func (im *Importer) ImportGTFS(ctx context.Context, dir string, routeFilter []string) (*Result, error) {
	if err := checkDir(dir); err != nil {
		return nil, err
	}

	r, err := im.begin(ctx, FormatGTFS, dir)
	if err != nil {
		return nil, err
	}
	return r.finish(ctx, r.importGTFS(ctx, dir, newRouteFilter(routeFilter)))
}

func (r *run) importGTFS(ctx context.Context, dir string, filter routeFilter) error {
	log.Println("Step 1/4: Parsing GTFS feed...")
	feed, err := gtfs.ParseFeedDir(dir)
	if err != nil {
		return fmt.Errorf("failed to parse GTFS: %w", err)
	}

	log.Println("Step 2/4: Interpolating stop times...")
	feed.StopTimes = gtfs.InterpolateStopTimes(feed.StopTimes)
	ix := gtfs.NewIndex(feed)

	log.Println("Step 3/4: Importing routes...")
	for _, route := range feed.Routes {
		number := routeNumber(route)
		if !filter.allows(number) {
			continue
		}
		if err := r.addRoute(ctx, models.Route{
			ID:     route.RouteID,
			Number: number,
			Agency: ix.AgencyName(route),
		}); err != nil {
			return err
		}
	}

	log.Printf("Step 4/4: Importing %d stop_times...", len(feed.StopTimes))
	for i, st := range feed.StopTimes {
		if i%batchCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		trip, route, err := ix.Trip(st.TripID)
		if err != nil {
			return err
		}
		number := routeNumber(route)
		if !filter.allows(number) {
			continue
		}

		stop, err := ix.Stop(st.StopID)
		if err != nil {
			return err
		}
		if err := r.addStop(ctx, models.Stop{
			ID:        stop.StopID,
			Name:      stop.StopName,
			Latitude:  stop.Lat,
			Longitude: stop.Lon,
		}); err != nil {
			return err
		}

		arrival, err := gtfs.ToClock(st.ArrivalTime)
		if err != nil {
			return fmt.Errorf("%w: arrival of trip %s at stop %s: %v", ErrMalformedFeed, st.TripID, st.StopID, err)
		}
		departure, err := gtfs.ToClock(st.DepartureTime)
		if err != nil {
			return fmt.Errorf("%w: departure of trip %s at stop %s: %v", ErrMalformedFeed, st.TripID, st.StopID, err)
		}

		stopTime := models.StopTime{
			StopName:      stop.StopName,
			ArrivalTime:   arrival,
			DepartureTime: departure,
			Destination:   trip.Headsign,
			RouteNumber:   number,
			JourneyNumber: trip.TripID,
		}
		if cal, ok := ix.CalendarFor(trip.ServiceID); ok {
			applyCalendar(&stopTime, cal)
		}

		if err := r.addStopTime(ctx, stopTime); err != nil {
			return err
		}
	}

	return nil
}

// batchCheckInterval is how often long loops check for cancellation
const batchCheckInterval = 1000

// applyCalendar copies the service period onto st. An unparsable date leaves
// that bound open.
func applyCalendar(st *models.StopTime, cal models.GTFSCalendar) {
	if from, err := models.ParseGTFSDate(cal.StartDate); err == nil {
		st.ValidFromDate = &from
	} else {
		log.Printf("Warning: service %s: %v", cal.ServiceID, err)
	}
	if to, err := models.ParseGTFSDate(cal.EndDate); err == nil {
		st.ValidToDate = &to
	} else {
		log.Printf("Warning: service %s: %v", cal.ServiceID, err)
	}
	st.OperatingDays = cal.Days
}

// routeNumber is the public number of a route: its short name, or the long
// name for feeds that leave short names blank
func routeNumber(route models.GTFSRoute) string {
	if route.ShortName != "" {
		return route.ShortName
	}
	if route.LongName != "" {
		return route.LongName
	}
	return route.RouteID
}

type routeFilter map[string]bool

func newRouteFilter(numbers []string) routeFilter {
	f := make(routeFilter, len(numbers))
	for _, n := range numbers {
		if n != "" {
			f[n] = true
		}
	}
	return f
}

func (f routeFilter) allows(number string) bool {
	return len(f) == 0 || f[number]
}

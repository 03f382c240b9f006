package gtfs

import (
	"fmt"

	"github.com/passbi/timetable_core/internal/models"
)

// Index provides lookups across the files of a parsed feed
type Index struct {
	routes      map[string]models.GTFSRoute
	trips       map[string]models.GTFSTrip
	stops       map[string]models.GTFSStop
	calendars   map[string][]models.GTFSCalendar
	agencyNames map[string]string
	soleAgency  string
}

// NewIndex builds the lookup tables for feed
func NewIndex(feed *Feed) *Index {
	ix := &Index{
		routes:      make(map[string]models.GTFSRoute, len(feed.Routes)),
		trips:       make(map[string]models.GTFSTrip, len(feed.Trips)),
		stops:       make(map[string]models.GTFSStop, len(feed.Stops)),
		calendars:   make(map[string][]models.GTFSCalendar),
		agencyNames: make(map[string]string, len(feed.Agencies)),
	}

	for _, r := range feed.Routes {
		ix.routes[r.RouteID] = r
	}
	for _, t := range feed.Trips {
		ix.trips[t.TripID] = t
	}
	for _, s := range feed.Stops {
		ix.stops[s.StopID] = s
	}
	for _, c := range feed.Calendars {
		ix.calendars[c.ServiceID] = append(ix.calendars[c.ServiceID], c)
	}
	for _, a := range feed.Agencies {
		ix.agencyNames[a.AgencyID] = a.AgencyName
	}
	if len(feed.Agencies) == 1 {
		ix.soleAgency = feed.Agencies[0].AgencyName
	}

	return ix
}

// AgencyName resolves the operator name of route.
// Routes without agency_id belong to the feed's only agency.
func (ix *Index) AgencyName(route models.GTFSRoute) string {
	if name, ok := ix.agencyNames[route.AgencyID]; ok && route.AgencyID != "" {
		return name
	}
	if ix.soleAgency != "" {
		return ix.soleAgency
	}
	return route.AgencyID
}

// Trip returns the trip with tripID and its route
func (ix *Index) Trip(tripID string) (models.GTFSTrip, models.GTFSRoute, error) {
	trip, ok := ix.trips[tripID]
	if !ok {
		return models.GTFSTrip{}, models.GTFSRoute{}, fmt.Errorf("%w: trip %s", ErrMissingRequiredEntity, tripID)
	}
	route, ok := ix.routes[trip.RouteID]
	if !ok {
		return models.GTFSTrip{}, models.GTFSRoute{}, fmt.Errorf("%w: route %s of trip %s", ErrMissingRequiredEntity, trip.RouteID, tripID)
	}
	return trip, route, nil
}

// Stop returns the stop with stopID
func (ix *Index) Stop(stopID string) (models.GTFSStop, error) {
	stop, ok := ix.stops[stopID]
	if !ok {
		return models.GTFSStop{}, fmt.Errorf("%w: stop %s", ErrMissingRequiredEntity, stopID)
	}
	return stop, nil
}

// CalendarFor returns the service period of serviceID.
// It only succeeds when exactly one calendar entry matches.
func (ix *Index) CalendarFor(serviceID string) (models.GTFSCalendar, bool) {
	matches := ix.calendars[serviceID]
	if len(matches) != 1 {
		return models.GTFSCalendar{}, false
	}
	return matches[0], true
}

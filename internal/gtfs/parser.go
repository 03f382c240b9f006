package gtfs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/passbi/timetable_core/internal/models"
)

// ErrMissingRequiredEntity is returned when a feed lacks a required file,
// header or referenced entity
var ErrMissingRequiredEntity = errors.New("gtfs feed is missing a required entity")

// Feed represents a parsed GTFS feed
type Feed struct {
	Agencies  []models.GTFSAgency
	Stops     []models.GTFSStop
	Routes    []models.GTFSRoute
	Trips     []models.GTFSTrip
	StopTimes []models.GTFSStopTime
	Calendars []models.GTFSCalendar
}

// ParseFeedDir parses an extracted GTFS feed directory.
// agency, routes, stops, trips and stop_times are required and a row missing
// its key fields fails the whole feed. calendar is optional.
func ParseFeedDir(dir string) (*Feed, error) {
	feed := &Feed{}
	var err error

	if feed.Agencies, err = ParseAgencies(filepath.Join(dir, "agency.txt")); err != nil {
		return nil, requiredErr("agency.txt", err)
	}
	log.Printf("Parsed %d agencies", len(feed.Agencies))

	if feed.Stops, err = ParseStops(filepath.Join(dir, "stops.txt")); err != nil {
		return nil, requiredErr("stops.txt", err)
	}
	log.Printf("Parsed %d stops", len(feed.Stops))

	if feed.Routes, err = ParseRoutes(filepath.Join(dir, "routes.txt")); err != nil {
		return nil, requiredErr("routes.txt", err)
	}
	log.Printf("Parsed %d routes", len(feed.Routes))

	if feed.Trips, err = ParseTrips(filepath.Join(dir, "trips.txt")); err != nil {
		return nil, requiredErr("trips.txt", err)
	}
	log.Printf("Parsed %d trips", len(feed.Trips))

	if feed.StopTimes, err = ParseStopTimes(filepath.Join(dir, "stop_times.txt")); err != nil {
		return nil, requiredErr("stop_times.txt", err)
	}
	log.Printf("Parsed %d stop_times", len(feed.StopTimes))

	if calendars, err := ParseCalendars(filepath.Join(dir, "calendar.txt")); err == nil {
		feed.Calendars = calendars
		log.Printf("Parsed %d calendar entries", len(calendars))
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to parse calendar: %v", err)
	}

	return feed, nil
}

func requiredErr(file string, err error) error {
	if errors.Is(err, ErrMissingRequiredEntity) {
		return fmt.Errorf("%s: %w", file, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrMissingRequiredEntity, file, err)
}

// rowErr reports an incomplete row of a required file. line counts the header as 1.
func rowErr(line int, format string, args ...interface{}) error {
	return fmt.Errorf("%w: line %d: %s", ErrMissingRequiredEntity, line, fmt.Sprintf(format, args...))
}

func readErr(err error) error {
	return fmt.Errorf("%w: %v", ErrMissingRequiredEntity, err)
}

// ParseAgencies parses agency.txt
func ParseAgencies(filePath string) ([]models.GTFSAgency, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return parseAgenciesFromReader(file)
}

func parseAgenciesFromReader(reader io.Reader) ([]models.GTFSAgency, error) {
	csvReader, colMap, err := newFeedReader(reader)
	if err != nil {
		return nil, err
	}

	var agencies []models.GTFSAgency
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, readErr(err)
		}

		agencies = append(agencies, models.GTFSAgency{
			AgencyID:   getField(record, colMap, "agency_id"),
			AgencyName: getField(record, colMap, "agency_name"),
			AgencyURL:  getField(record, colMap, "agency_url"),
			Timezone:   getField(record, colMap, "agency_timezone"),
		})
	}

	return agencies, nil
}

// ParseStops parses stops.txt
func ParseStops(filePath string) ([]models.GTFSStop, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return parseStopsFromReader(file)
}

func parseStopsFromReader(reader io.Reader) ([]models.GTFSStop, error) {
	csvReader, colMap, err := newFeedReader(reader)
	if err != nil {
		return nil, err
	}

	var stops []models.GTFSStop
	line := 1
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, readErr(err)
		}
		line++

		stopID := getField(record, colMap, "stop_id")
		if stopID == "" {
			return nil, rowErr(line, "stop without stop_id")
		}

		// Coordinates are optional for stations and generic nodes
		lat, _ := strconv.ParseFloat(getField(record, colMap, "stop_lat"), 64)
		lon, _ := strconv.ParseFloat(getField(record, colMap, "stop_lon"), 64)

		stops = append(stops, models.GTFSStop{
			StopID:   stopID,
			StopName: getField(record, colMap, "stop_name"),
			Lat:      lat,
			Lon:      lon,
		})
	}

	return stops, nil
}

// ParseRoutes parses routes.txt
func ParseRoutes(filePath string) ([]models.GTFSRoute, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return parseRoutesFromReader(file)
}

func parseRoutesFromReader(reader io.Reader) ([]models.GTFSRoute, error) {
	csvReader, colMap, err := newFeedReader(reader)
	if err != nil {
		return nil, err
	}

	var routes []models.GTFSRoute
	line := 1
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, readErr(err)
		}
		line++

		routeID := getField(record, colMap, "route_id")
		if routeID == "" {
			return nil, rowErr(line, "route without route_id")
		}

		routeType, _ := strconv.Atoi(getField(record, colMap, "route_type"))

		routes = append(routes, models.GTFSRoute{
			RouteID:   routeID,
			AgencyID:  getField(record, colMap, "agency_id"),
			ShortName: getField(record, colMap, "route_short_name"),
			LongName:  getField(record, colMap, "route_long_name"),
			RouteType: routeType,
		})
	}

	return routes, nil
}

// ParseTrips parses trips.txt
func ParseTrips(filePath string) ([]models.GTFSTrip, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return parseTripsFromReader(file)
}

func parseTripsFromReader(reader io.Reader) ([]models.GTFSTrip, error) {
	csvReader, colMap, err := newFeedReader(reader)
	if err != nil {
		return nil, err
	}

	var trips []models.GTFSTrip
	line := 1
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, readErr(err)
		}
		line++

		tripID := getField(record, colMap, "trip_id")
		routeID := getField(record, colMap, "route_id")
		if tripID == "" {
			return nil, rowErr(line, "trip without trip_id")
		}
		if routeID == "" {
			return nil, rowErr(line, "trip %s without route_id", tripID)
		}

		direction, _ := strconv.Atoi(getField(record, colMap, "direction_id"))

		trips = append(trips, models.GTFSTrip{
			RouteID:   routeID,
			ServiceID: getField(record, colMap, "service_id"),
			TripID:    tripID,
			Headsign:  getField(record, colMap, "trip_headsign"),
			Direction: direction,
		})
	}

	return trips, nil
}

// ParseStopTimes parses stop_times.txt
func ParseStopTimes(filePath string) ([]models.GTFSStopTime, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return parseStopTimesFromReader(file)
}

func parseStopTimesFromReader(reader io.Reader) ([]models.GTFSStopTime, error) {
	csvReader, colMap, err := newFeedReader(reader)
	if err != nil {
		return nil, err
	}

	var stopTimes []models.GTFSStopTime
	line := 1
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, readErr(err)
		}
		line++

		tripID := getField(record, colMap, "trip_id")
		stopID := getField(record, colMap, "stop_id")
		seqStr := getField(record, colMap, "stop_sequence")
		switch {
		case tripID == "":
			return nil, rowErr(line, "stop_time without trip_id")
		case stopID == "":
			return nil, rowErr(line, "stop_time of trip %s without stop_id", tripID)
		case seqStr == "":
			return nil, rowErr(line, "stop_time of trip %s without stop_sequence", tripID)
		}

		sequence, err := strconv.Atoi(seqStr)
		if err != nil {
			return nil, rowErr(line, "invalid stop_sequence %q for trip %s", seqStr, tripID)
		}

		stopTimes = append(stopTimes, models.GTFSStopTime{
			TripID:        tripID,
			ArrivalTime:   getField(record, colMap, "arrival_time"),
			DepartureTime: getField(record, colMap, "departure_time"),
			StopID:        stopID,
			StopSequence:  sequence,
		})
	}

	return stopTimes, nil
}

// ParseCalendars parses calendar.txt
func ParseCalendars(filePath string) ([]models.GTFSCalendar, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return parseCalendarsFromReader(file)
}

var calendarDayColumns = []struct {
	column string
	day    time.Weekday
}{
	{"monday", time.Monday},
	{"tuesday", time.Tuesday},
	{"wednesday", time.Wednesday},
	{"thursday", time.Thursday},
	{"friday", time.Friday},
	{"saturday", time.Saturday},
	{"sunday", time.Sunday},
}

func parseCalendarsFromReader(reader io.Reader) ([]models.GTFSCalendar, error) {
	csvReader, colMap, err := newFeedReader(reader)
	if err != nil {
		return nil, err
	}

	var calendars []models.GTFSCalendar
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("Warning: skipping malformed calendar row: %v", err)
			continue
		}

		serviceID := getField(record, colMap, "service_id")
		if serviceID == "" {
			continue
		}

		var days models.Weekdays
		for _, dc := range calendarDayColumns {
			if getField(record, colMap, dc.column) == "1" {
				days = days.With(dc.day)
			}
		}

		calendars = append(calendars, models.GTFSCalendar{
			ServiceID: serviceID,
			Days:      days,
			StartDate: getField(record, colMap, "start_date"),
			EndDate:   getField(record, colMap, "end_date"),
		})
	}

	return calendars, nil
}

// Helper functions

func newFeedReader(reader io.Reader) (*csv.Reader, map[string]int, error) {
	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	header, err := csvReader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}

	return csvReader, makeColumnMap(header), nil
}

func makeColumnMap(header []string) map[string]int {
	colMap := make(map[string]int)
	for i, col := range header {
		// Strip a UTF-8 byte order mark from the first column
		colMap[strings.TrimPrefix(strings.TrimSpace(col), "\ufeff")] = i
	}
	return colMap
}

func getField(record []string, colMap map[string]int, fieldName string) string {
	if idx, ok := colMap[fieldName]; ok && idx < len(record) {
		return strings.TrimSpace(record[idx])
	}
	return ""
}

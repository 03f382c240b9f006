package models

import "time"

// TimeMode selects which time of a stop time a query is evaluated against
type TimeMode string

const (
	ModeDeparture TimeMode = "departure"
	ModeArrival   TimeMode = "arrival"
)

// Route represents a transit line operated by an agency
type Route struct {
	ID     string `json:"id"`
	Number string `json:"number"`
	Agency string `json:"agency"`
}

// Stop represents a physical stop, identified by its name
type Stop struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// StopTime is one scheduled arrival/departure of a journey at a stop
type StopTime struct {
	ID            int      `json:"id"`
	StopName      string   `json:"stop_name"`
	ArrivalTime   *Clock   `json:"arrival_time,omitempty"`
	DepartureTime *Clock   `json:"departure_time,omitempty"`
	Destination   string   `json:"destination"`
	RouteNumber   string   `json:"route_number"`
	ValidFromDate *Date    `json:"valid_from_date,omitempty"`
	ValidToDate   *Date    `json:"valid_to_date,omitempty"`
	OperatingDays Weekdays `json:"operating_days"`
	JourneyNumber string   `json:"journey_number"`
}

// TimeFor returns the arrival or departure time depending on mode
func (st StopTime) TimeFor(mode TimeMode) *Clock {
	if mode == ModeArrival {
		return st.ArrivalTime
	}
	return st.DepartureTime
}

// ValidOn reports whether the validity window contains date.
// A missing bound leaves that side of the window open.
func (st StopTime) ValidOn(date Date) bool {
	if st.ValidFromDate != nil && date.Before(*st.ValidFromDate) {
		return false
	}
	if st.ValidToDate != nil && date.After(*st.ValidToDate) {
		return false
	}
	return true
}

// RunsOn reports whether the stop time is scheduled on date
func (st StopTime) RunsOn(date Date) bool {
	return st.ValidOn(date) && st.OperatingDays.Contains(date.Weekday())
}

// ImportLog records the outcome of one import run
type ImportLog struct {
	ID             string     `json:"id"`
	Format         string     `json:"format"`
	Source         string     `json:"source"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Status         string     `json:"status"`
	RoutesCount    int        `json:"routes_count"`
	StopsCount     int        `json:"stops_count"`
	StopTimesCount int        `json:"stop_times_count"`
	ErrorMsg       string     `json:"error,omitempty"`
}

// GTFS data structures for import

// GTFSAgency represents an agency from agency.txt
type GTFSAgency struct {
	AgencyID   string
	AgencyName string
	AgencyURL  string
	Timezone   string
}

// GTFSStop represents a stop from stops.txt
type GTFSStop struct {
	StopID   string
	StopName string
	Lat      float64
	Lon      float64
}

// GTFSRoute represents a route from routes.txt
type GTFSRoute struct {
	RouteID   string
	AgencyID  string
	ShortName string
	LongName  string
	RouteType int
}

// GTFSTrip represents a trip from trips.txt
type GTFSTrip struct {
	RouteID   string
	ServiceID string
	TripID    string
	Headsign  string
	Direction int
}

// GTFSStopTime represents a stop time from stop_times.txt
type GTFSStopTime struct {
	TripID        string
	ArrivalTime   string
	DepartureTime string
	StopID        string
	StopSequence  int
}

// GTFSCalendar represents a service period from calendar.txt
type GTFSCalendar struct {
	ServiceID string
	Days      Weekdays
	StartDate string
	EndDate   string
}

package gtfs

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/passbi/timetable_core/internal/models"
)

// ParseTimeToSeconds converts GTFS time format (HH:MM:SS) to seconds
// Handles times >= 24:00:00 (next day service)
func ParseTimeToSeconds(timeStr string) (int, error) {
	if timeStr == "" {
		return 0, fmt.Errorf("empty time string")
	}

	parts := strings.Split(timeStr, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid time format: %s", timeStr)
	}

	var values [3]int
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid time format: %s", timeStr)
		}
		values[i] = v
	}
	if values[1] > 59 || values[2] > 59 {
		return 0, fmt.Errorf("invalid time format: %s", timeStr)
	}

	return values[0]*3600 + values[1]*60 + values[2], nil
}

// ToClock converts a GTFS time to a wall-clock time of day.
// An empty value yields nil; times past 24:00:00 wrap to the next day.
func ToClock(timeStr string) (*models.Clock, error) {
	if strings.TrimSpace(timeStr) == "" {
		return nil, nil
	}

	secs, err := ParseTimeToSeconds(timeStr)
	if err != nil {
		return nil, err
	}
	return models.ClockFromSeconds(secs).Ptr(), nil
}

// InterpolateStopTimes fills missing arrival/departure times inside each trip.
// Blank times between two timed stops take the previous stop's departure; a stop
// with only one of the two times gets it copied to the other. Blanks before the
// first or after the last timed stop of a trip are left as they are. The input
// order is preserved.
func InterpolateStopTimes(stopTimes []models.GTFSStopTime) []models.GTFSStopTime {
	if len(stopTimes) == 0 {
		return stopTimes
	}

	result := make([]models.GTFSStopTime, len(stopTimes))
	copy(result, stopTimes)

	// Group indices by trip
	var tripOrder []string
	tripGroups := make(map[string][]int)
	for i, st := range result {
		if _, ok := tripGroups[st.TripID]; !ok {
			tripOrder = append(tripOrder, st.TripID)
		}
		tripGroups[st.TripID] = append(tripGroups[st.TripID], i)
	}

	for _, tripID := range tripOrder {
		indices := tripGroups[tripID]
		sort.SliceStable(indices, func(a, b int) bool {
			return result[indices[a]].StopSequence < result[indices[b]].StopSequence
		})

		for _, idx := range indices {
			st := &result[idx]
			if st.ArrivalTime == "" && st.DepartureTime != "" {
				st.ArrivalTime = st.DepartureTime
			} else if st.DepartureTime == "" && st.ArrivalTime != "" {
				st.DepartureTime = st.ArrivalTime
			}
		}

		firstValid, lastValid := -1, -1
		for pos, idx := range indices {
			if result[idx].DepartureTime != "" {
				if firstValid == -1 {
					firstValid = pos
				}
				lastValid = pos
			}
		}

		if firstValid == -1 {
			log.Printf("Warning: trip %s has no valid times, skipping interpolation", tripID)
			continue
		}

		previous := result[indices[firstValid]].DepartureTime
		for pos := firstValid + 1; pos < lastValid; pos++ {
			st := &result[indices[pos]]
			if st.DepartureTime == "" {
				st.ArrivalTime = previous
				st.DepartureTime = previous
			}
			previous = st.DepartureTime
		}
	}

	return result
}

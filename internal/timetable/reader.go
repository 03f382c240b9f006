// Package timetable reads operator timetables exported as semicolon separated
// files. A file describes one direction of one or more routes: a "Route:" row
// names the route of every column, a row containing " <> " names the
// destination, a "Days of Operation" row gives the day codes of every column,
// and every other row is a stop followed by one HH:mm time per column.
package timetable

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/passbi/timetable_core/internal/models"
)

// ErrMalformedTimetable is returned when a timetable file cannot be interpreted
var ErrMalformedTimetable = errors.New("malformed timetable")

const destinationSeparator = " <> "

// RowKind classifies a timetable row by its first cell
type RowKind int

const (
	RowStop RowKind = iota
	RowRoutes
	RowDestination
	RowOperatingDays
	RowSkip
)

// Sheet is the content of one timetable file
type Sheet struct {
	Name    string
	Routes  []string
	Stops   []string
	Entries []Entry
}

// Entry is one time cell of a stop row together with the column context
// in effect when the row was read
type Entry struct {
	StopName      string
	Column        int
	Time          models.Clock
	RouteNumber   string
	OperatingDays models.Weekdays
	Destination   string
}

// Classify returns the kind of a row given its first cell
func Classify(first string) RowKind {
	switch {
	case strings.HasPrefix(first, "Route:"):
		return RowRoutes
	case strings.Contains(first, destinationSeparator):
		return RowDestination
	case strings.Contains(first, "Days of Operation"):
		return RowOperatingDays
	case first == "" || strings.HasPrefix(first, "Circulation:"):
		return RowSkip
	default:
		return RowStop
	}
}

// ParseOperatingDays converts a comma separated list of day codes.
// WD is Monday to Friday, SA is Saturday and S is Sunday; other codes are ignored.
func ParseOperatingDays(cell string) models.Weekdays {
	var days models.Weekdays
	for _, code := range strings.Split(cell, ",") {
		switch strings.TrimSpace(code) {
		case "WD":
			days = days.Union(models.WorkingDays)
		case "SA":
			days = days.With(time.Saturday)
		case "S":
			days = days.With(time.Sunday)
		}
	}
	return days
}

// ListFiles returns the .csv files of dir sorted by name
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// ReadFile reads the timetable at path
func ReadFile(path string) (*Sheet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Read(file, filepath.Base(path))
}

// Read parses a timetable. Rows are interpreted in order, so a stop row uses
// the routes, destination and operating days declared above it.
func Read(reader io.Reader, name string) (*Sheet, error) {
	csvReader := csv.NewReader(reader)
	csvReader.Comma = ';'
	csvReader.FieldsPerRecord = -1
	csvReader.LazyQuotes = true

	sheet := &Sheet{Name: name}
	var (
		destination   string
		operatingDays []models.Weekdays
		seenStops     = make(map[string]bool)
	)

	line := 0
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedTimetable, name, err)
		}
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}

		first := record[0]
		switch Classify(first) {
		case RowRoutes:
			for _, cell := range record[1:] {
				if cell == "" {
					continue
				}
				sheet.Routes = append(sheet.Routes, cell)
			}

		case RowDestination:
			destination = strings.SplitN(first, destinationSeparator, 2)[1]

		case RowOperatingDays:
			for _, cell := range record[1:] {
				operatingDays = append(operatingDays, ParseOperatingDays(cell))
			}

		case RowSkip:
			continue

		case RowStop:
			if !seenStops[first] {
				seenStops[first] = true
				sheet.Stops = append(sheet.Stops, first)
			}

			for col := 1; col < len(record); col++ {
				cell := record[col]
				if cell == "" {
					continue
				}

				clock, err := models.ParseClock(cell)
				if err != nil {
					return nil, fmt.Errorf("%w: %s line %d: %v", ErrMalformedTimetable, name, line, err)
				}
				if col > len(sheet.Routes) {
					return nil, fmt.Errorf("%w: %s line %d: no route for column %d", ErrMalformedTimetable, name, line, col)
				}
				if col > len(operatingDays) {
					return nil, fmt.Errorf("%w: %s line %d: no operating days for column %d", ErrMalformedTimetable, name, line, col)
				}

				sheet.Entries = append(sheet.Entries, Entry{
					StopName:      first,
					Column:        col,
					Time:          clock,
					RouteNumber:   sheet.Routes[col-1],
					OperatingDays: operatingDays[col-1],
					Destination:   destination,
				})
			}
		}
	}

	return sheet, nil
}

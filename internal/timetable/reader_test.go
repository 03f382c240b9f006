package timetable

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/passbi/timetable_core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSheet = `Route:;405A;405A;405B
Lakeside <> Greenfield;;;
Days of Operation;WD;SA,S;WD,SA,S
Circulation:;1;2;3
Lakeside;06:00;07:00;
Market Square; 06:10 ;07:10;08:10
;;;
Greenfield;06:25;;08:25
`

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		first    string
		expected RowKind
	}{
		{name: "Route header", first: "Route:", expected: RowRoutes},
		{name: "Route header with text", first: "Route: Lakeside line", expected: RowRoutes},
		{name: "Destination", first: "Lakeside <> Greenfield", expected: RowDestination},
		{name: "Operating days", first: "Days of Operation", expected: RowOperatingDays},
		{name: "Empty", first: "", expected: RowSkip},
		{name: "Circulation", first: "Circulation:", expected: RowSkip},
		{name: "Stop", first: "Market Square", expected: RowStop},
		{name: "Separator without spaces is a stop", first: "A<>B", expected: RowStop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.first))
		})
	}
}

func TestParseOperatingDays(t *testing.T) {
	tests := []struct {
		name     string
		cell     string
		expected models.Weekdays
	}{
		{name: "Working days", cell: "WD", expected: models.WorkingDays},
		{name: "Saturday", cell: "SA", expected: models.NewWeekdays(time.Saturday)},
		{name: "Sunday", cell: "S", expected: models.NewWeekdays(time.Sunday)},
		{name: "Weekend", cell: "SA,S", expected: models.NewWeekdays(time.Saturday, time.Sunday)},
		{name: "Whole week", cell: "WD,SA,S", expected: models.AllWeek},
		{name: "Unknown code ignored", cell: "WD,HOL", expected: models.WorkingDays},
		{name: "Empty", cell: "", expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseOperatingDays(tt.cell))
		})
	}
}

func TestRead(t *testing.T) {
	sheet, err := Read(strings.NewReader(sampleSheet), "sample.csv")
	require.NoError(t, err)

	assert.Equal(t, []string{"405A", "405A", "405B"}, sheet.Routes)
	assert.Equal(t, []string{"Lakeside", "Market Square", "Greenfield"}, sheet.Stops)
	require.Len(t, sheet.Entries, 7)

	first := sheet.Entries[0]
	assert.Equal(t, "Lakeside", first.StopName)
	assert.Equal(t, 1, first.Column)
	assert.Equal(t, models.NewClock(6, 0), first.Time)
	assert.Equal(t, "405A", first.RouteNumber)
	assert.Equal(t, models.WorkingDays, first.OperatingDays)
	assert.Equal(t, "Greenfield", first.Destination)

	// Cells are trimmed
	assert.Equal(t, models.NewClock(6, 10), sheet.Entries[2].Time)

	third := sheet.Entries[4]
	assert.Equal(t, "Market Square", third.StopName)
	assert.Equal(t, 3, third.Column)
	assert.Equal(t, "405B", third.RouteNumber)
	assert.Equal(t, models.AllWeek, third.OperatingDays)

	last := sheet.Entries[6]
	assert.Equal(t, "Greenfield", last.StopName)
	assert.Equal(t, models.NewClock(8, 25), last.Time)
}

func TestReadMalformed(t *testing.T) {
	tests := []struct {
		name  string
		sheet string
	}{
		{
			name:  "Bad time",
			sheet: "Route:;1\nDays of Operation;WD\nLakeside;6h00\n",
		},
		{
			name:  "Single digit hour",
			sheet: "Route:;1\nDays of Operation;WD\nLakeside;6:00\n",
		},
		{
			name:  "Time with seconds",
			sheet: "Route:;1\nDays of Operation;WD\nLakeside;06:00:00\n",
		},
		{
			name:  "Time out of range",
			sheet: "Route:;1\nDays of Operation;WD\nLakeside;24:30\n",
		},
		{
			name:  "Column without route",
			sheet: "Route:;1\nDays of Operation;WD;WD\nLakeside;06:00;07:00\n",
		},
		{
			name:  "Column without operating days",
			sheet: "Route:;1;2\nDays of Operation;WD\nLakeside;06:00;07:00\n",
		},
		{
			name:  "Stop row before header",
			sheet: "Lakeside;06:00\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.sheet), "bad.csv")
			require.ErrorIs(t, err, ErrMalformedTimetable)
			assert.Contains(t, err.Error(), "bad.csv")
		})
	}
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.csv", "a.CSV", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.csv"), 0o755))

	files, err := ListFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.CSV"), filepath.Join(dir, "b.csv")}, files)

	_, err = ListFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

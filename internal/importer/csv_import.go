package importer

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/passbi/timetable_core/internal/models"
	"github.com/passbi/timetable_core/internal/timetable"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ImportCSV imports every .csv timetable in dir. All stop times get the
// validity window [validFrom, validTo]; the agency is derived from the
// directory name. A malformed file aborts the import; files processed before it
// stay imported.
func (im *Importer) ImportCSV(ctx context.Context, dir string, validFrom, validTo models.Date) (*Result, error) {
	if validTo.Before(validFrom) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidValidity, validFrom, validTo)
	}
	if err := checkDir(dir); err != nil {
		return nil, err
	}

	files, err := timetable.ListFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceNotFound, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoTimetableFiles, dir)
	}

	r, err := im.begin(ctx, FormatCSV, dir)
	if err != nil {
		return nil, err
	}
	return r.finish(ctx, r.importCSV(ctx, files, AgencyFromDir(dir), validFrom, validTo))
}

func (r *run) importCSV(ctx context.Context, files []string, agency string, validFrom, validTo models.Date) error {
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		log.Printf("Step %d/%d: Importing timetable %s...", i+1, len(files), filepath.Base(path))
		sheet, err := timetable.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read timetable: %w", err)
		}

		for _, number := range sheet.Routes {
			if err := r.addRoute(ctx, models.Route{
				ID:     uuid.NewString(),
				Number: number,
				Agency: agency,
			}); err != nil {
				return err
			}
		}

		for _, name := range sheet.Stops {
			if err := r.addStop(ctx, models.Stop{
				ID:   uuid.NewString(),
				Name: name,
			}); err != nil {
				return err
			}
		}

		for _, entry := range sheet.Entries {
			from, to := validFrom, validTo
			if err := r.addStopTime(ctx, models.StopTime{
				StopName:      entry.StopName,
				ArrivalTime:   entry.Time.Ptr(),
				DepartureTime: entry.Time.Ptr(),
				Destination:   entry.Destination,
				RouteNumber:   entry.RouteNumber,
				ValidFromDate: &from,
				ValidToDate:   &to,
				OperatingDays: entry.OperatingDays,
				JourneyNumber: strconv.Itoa(entry.Column),
			}); err != nil {
				return err
			}
		}

		if err := r.flush(ctx); err != nil {
			return err
		}
	}

	return nil
}

// AgencyFromDir derives the operator name from the last path segment of dir:
// "my-network-landuff" becomes "My Network Landuff".
func AgencyFromDir(dir string) string {
	name := filepath.Base(filepath.Clean(dir))
	name = strings.ReplaceAll(name, "-", " ")
	return cases.Title(language.Und).String(name)
}

package api

import (
	"fmt"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/passbi/timetable_core/internal/importer"
	"github.com/passbi/timetable_core/internal/models"
)

// Values of the fileFormat form field
const (
	FileFormatGTFS = "General Transit Feed Specification (GTFS)"
	FileFormatCSV  = "Comma Separated Value (CSV)"
)

// UploadDataFile handles POST /trams-operations/uploadDataFile.
// The zipFile upload is stored, extracted and imported according to fileFormat.
// Any failure after the request was parsed answers 422.
func (h *Handler) UploadDataFile(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("zipFile")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "missing required form field: zipFile",
		})
	}

	format := c.FormValue("fileFormat")
	if format != FileFormatGTFS && format != FileFormatCSV {
		return c.Status(422).JSON(fiber.Map{
			"error": fmt.Sprintf("unsupported fileFormat %q", format),
		})
	}

	var validFrom, validTo models.Date
	if format == FileFormatCSV {
		if validFrom, err = models.ParseDate(c.FormValue("validFromDate")); err != nil {
			return c.Status(400).JSON(fiber.Map{
				"error": fmt.Sprintf("invalid 'validFromDate': %v", err),
			})
		}
		if validTo, err = models.ParseDate(c.FormValue("validToDate")); err != nil {
			return c.Status(400).JSON(fiber.Map{
				"error": fmt.Sprintf("invalid 'validToDate': %v", err),
			})
		}
	}

	file, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer file.Close()

	dir, err := h.uploads.Store(fileHeader.Filename, file)
	if err != nil {
		log.Printf("Upload of %s rejected: %v", fileHeader.Filename, err)
		return c.Status(422).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	ctx := c.UserContext()
	var result *importer.Result
	if format == FileFormatGTFS {
		result, err = h.importer.ImportGTFS(ctx, dir, splitRoutes(c.FormValue("routesToImport")))
	} else {
		result, err = h.importer.ImportCSV(ctx, dir, validFrom, validTo)
	}
	if err != nil {
		log.Printf("Import of %s failed: %v", fileHeader.Filename, err)
		return c.Status(422).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(result)
}

// splitRoutes parses the comma separated routesToImport field
func splitRoutes(value string) []string {
	var routes []string
	for _, r := range strings.Split(value, ",") {
		if r = strings.TrimSpace(r); r != "" {
			routes = append(routes, r)
		}
	}
	return routes
}

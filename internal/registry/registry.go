// Package registry enumerates the known SEC News Digest documents. The
// archive spans 1956-2014 in three publication formats; each era maps a year
// range to a format and a URL pattern. Discovery is pure date arithmetic:
// digests were published on business days, and holiday gaps surface later as
// permanent not-found fetches.
package registry

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sec-digest-cli/internal/model"
)

const baseURL = "https://www.sec.gov/news/digest"

// Era describes one span of the archive.
type Era struct {
	Name      string
	StartYear int
	EndYear   int
	Format    model.SourceFormat
	Extension string
}

// Eras lists the archive's eras in chronological order.
var Eras = []Era{
	{Name: "pdf", StartYear: 1956, EndYear: 1989, Format: model.FormatPDF, Extension: "pdf"},
	{Name: "text", StartYear: 1990, EndYear: 2002, Format: model.FormatText, Extension: "txt"},
	{Name: "html", StartYear: 2003, EndYear: 2014, Format: model.FormatHTML, Extension: "htm"},
}

// EraForYear returns the era covering the given year.
func EraForYear(year int) (Era, error) {
	for _, e := range Eras {
		if year >= e.StartYear && year <= e.EndYear {
			return e, nil
		}
	}
	return Era{}, eris.Errorf("registry: year %d outside archive range", year)
}

// DocumentsForYear returns registered DocumentRecords for every business day
// of the given year.
func DocumentsForYear(year int) ([]model.DocumentRecord, error) {
	era, err := EraForYear(year)
	if err != nil {
		return nil, err
	}

	var docs []model.DocumentRecord
	day := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
	for !day.After(end) {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			docs = append(docs, model.DocumentRecord{
				ID:     model.DocumentID(era.Name, day),
				Era:    era.Name,
				Date:   day,
				URL:    documentURL(era, day),
				Format: era.Format,
				Stage:  model.StageRegistered,
			})
		}
		day = day.AddDate(0, 0, 1)
	}
	return docs, nil
}

// DocumentsForYears returns registered records for an inclusive year range.
func DocumentsForYears(startYear, endYear int) ([]model.DocumentRecord, error) {
	if startYear > endYear {
		return nil, eris.Errorf("registry: start year %d after end year %d", startYear, endYear)
	}
	var docs []model.DocumentRecord
	for y := startYear; y <= endYear; y++ {
		yearDocs, err := DocumentsForYear(y)
		if err != nil {
			return nil, err
		}
		docs = append(docs, yearDocs...)
	}
	return docs, nil
}

// documentURL builds the archive URL for a digest. Filenames follow the
// digMMDDYY convention, e.g. dig092884.pdf.
func documentURL(era Era, date time.Time) string {
	return fmt.Sprintf("%s/%d/dig%s.%s", baseURL, date.Year(), date.Format("010206"), era.Extension)
}

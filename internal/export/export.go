// Package export writes operator-facing XLSX reports of ingested bookings
// and open calendar conflicts.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/domain"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	bookingsSheet  = "Bookings"
	conflictsSheet = "Conflicts"
)

// Exporter produces booking reports for a date range.
type Exporter struct {
	store   domain.Store
	catalog domain.ListingCatalog
	dir     string
	logger  zerolog.Logger
}

func NewExporter(store domain.Store, catalog domain.ListingCatalog, dir string, logger *zerolog.Logger) *Exporter {
	var l zerolog.Logger
	if logger != nil {
		l = logger.With().Str("component", "export").Logger()
	}
	return &Exporter{store: store, catalog: catalog, dir: dir, logger: l}
}

// BookingsReport writes one workbook with a bookings sheet and a conflicts
// sheet, covering stays that overlap [from, to]. Returns the file path.
func (e *Exporter) BookingsReport(ctx context.Context, listingIDs []int64, from, to time.Time) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(bookingsSheet)
	if err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if _, err := f.NewSheet(conflictsSheet); err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}

	writeHeader(f, bookingsSheet, []string{
		"Listing", "Channel", "External ID", "Guest", "Check-in", "Check-out", "Nights", "Total", "State",
	})
	writeHeader(f, conflictsSheet, []string{
		"Listing", "Channel", "External ID", "Guest", "Check-in", "Check-out",
	})

	bookingRow, conflictRow := 2, 2
	for _, listingID := range listingIDs {
		name := fmt.Sprintf("listing %d", listingID)
		if listing, ok := e.catalog.Listing(listingID); ok {
			name = listing.Name
		}

		bookings, err := e.store.ListBookingsInRange(ctx, listingID, from, to)
		if err != nil {
			return "", fmt.Errorf("list bookings for listing %d: %w", listingID, err)
		}

		for _, b := range bookings {
			setRow(f, bookingsSheet, bookingRow, []any{
				name, b.ChannelType, b.ExternalID, b.GuestName,
				b.CheckIn.Format("2006-01-02"), b.CheckOut.Format("2006-01-02"),
				len(b.Nights()), b.TotalPrice, b.State,
			})
			bookingRow++

			if b.Conflicting && b.State == models.BookingConfirmed {
				setRow(f, conflictsSheet, conflictRow, []any{
					name, b.ChannelType, b.ExternalID, b.GuestName,
					b.CheckIn.Format("2006-01-02"), b.CheckOut.Format("2006-01-02"),
				})
				conflictRow++
			}
		}
	}

	_ = f.SetColWidth(bookingsSheet, "A", "I", 18)
	_ = f.SetColWidth(conflictsSheet, "A", "F", 18)
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("bookings_%s_to_%s.xlsx", from.Format("2006-01-02"), to.Format("2006-01-02"))
	filePath := filepath.Join(e.dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}

	e.logger.Info().
		Str("file_path", filePath).
		Int("bookings", bookingRow-2).
		Int("conflicts", conflictRow-2).
		Msg("bookings report written")
	return filePath, nil
}

func writeHeader(f *excelize.File, sheet string, columns []string) {
	style, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, col)
		_ = f.SetCellStyle(sheet, cell, cell, style)
	}
}

func setRow(f *excelize.File, sheet string, row int, values []any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

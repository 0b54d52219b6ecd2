package history

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/iliyamo/event-checkin/internal/model"
)

// ExportHeader is the first line of every export.
const ExportHeader = "Booking ID, User Name, User Email, Event Title, Tickets, Amount, Check-in Time, Location"

// ExportContentType is the MIME type of Export output.
const ExportContentType = "text/csv"

// ExportFilename suggests a download name for an export taken at t.
func ExportFilename(t time.Time) string {
	return fmt.Sprintf("checkins-%s.csv", t.UTC().Format("20060102-150405"))
}

// Export writes records as CSV in the fixed column order of
// ExportHeader.
func Export(w io.Writer, records []model.CheckinRecord) error {
	if _, err := io.WriteString(w, ExportHeader+"\n"); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	for _, r := range records {
		row := []string{
			r.BookingID,
			r.UserName,
			r.UserEmail,
			r.EventTitle,
			strconv.Itoa(r.Tickets),
			r.Amount.StringFixed(2),
			r.CheckedInAt.UTC().Format(time.RFC3339),
			r.LocationString(),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

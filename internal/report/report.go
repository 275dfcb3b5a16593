// Package report renders call records for humans (a table) or machines (JSON).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/guillermoBallester/callmeter/internal/core/domain"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// TimeLayout is how start times appear in the table, in local time.
const TimeLayout = "January 02 15:04:05.000"

const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// Render writes records to w in the given format. An empty format means table.
func Render(w io.Writer, records []domain.CallRecord, format string) error {
	switch format {
	case "", FormatTable:
		return renderTable(w, records, time.Local)
	case FormatJSON:
		return renderJSON(w, records)
	default:
		return fmt.Errorf("unknown output format %q (want %s or %s)", format, FormatTable, FormatJSON)
	}
}

func renderTable(w io.Writer, records []domain.CallRecord, loc *time.Location) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No calls recorded")
		return err
	}

	table := tablewriter.NewTable(w, tablewriter.WithHeaderAutoFormat(tw.Off))
	table.Header("S.No", "Function", "Start Time", "Duration (ms)", "Status", "Error")

	for _, rec := range records {
		errCell := "-"
		if rec.ErrorMessage != nil {
			errCell = *rec.ErrorMessage
		}
		if err := table.Append(
			strconv.FormatInt(rec.Sequence, 10),
			rec.Function,
			rec.StartTime.In(loc).Format(TimeLayout),
			strconv.FormatInt(rec.DurationMS, 10),
			rec.Status.Glyph()+" "+string(rec.Status),
			errCell,
		); err != nil {
			return fmt.Errorf("appending row %d: %w", rec.Sequence, err)
		}
	}
	return table.Render()
}

func renderJSON(w io.Writer, records []domain.CallRecord) error {
	if records == nil {
		records = []domain.CallRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

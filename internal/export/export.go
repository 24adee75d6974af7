// Package export writes result sets in downloadable formats.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"github.com/gzhole/accessguard/internal/analysis"
)

// CSVHeader is the column order WriteCSV emits.
var CSVHeader = []string{
	"IP", "Timestamp", "Method", "Path", "Protocol", "Status", "Bytes",
	"Referrer", "User Agent", "Host", "Server IP", "Suspicion Reason", "Attack Type",
}

// WriteCSV writes results as CSV with a header row. Fields containing commas,
// quotes or newlines are quoted.
func WriteCSV(w io.Writer, results []analysis.OutputRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range results {
		row := []string{
			r.IP,
			r.Timestamp,
			r.Method,
			r.Path,
			r.Protocol,
			strconv.Itoa(r.Status),
			strconv.Itoa(r.Bytes),
			r.Referrer,
			r.UserAgent,
			r.Host,
			r.ServerIP,
			r.SuspicionReason,
			r.Category,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes v as two-space indented JSON followed by a newline.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

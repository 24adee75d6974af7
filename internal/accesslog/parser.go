// Package accesslog parses combined-format web server access logs that carry
// two trailing tokens, the virtual host and the responding server IP:
//
//	<ip> - - [<timestamp>] "<method> <path> <protocol>" <status> <bytes> "<referrer>" "<user_agent>" <host> <server_ip>
//
// Parsing is purely structural. Lines that do not fit the grammar are dropped
// without error; one bad line never affects the rest of the file.
package accesslog

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"regexp"
	"strings"
)

// Record is one decoded log line. All fields are kept as the raw tokens found
// in the line, except Timestamp which is normalised by NormalizeTimestamp.
type Record struct {
	IP        string `json:"ip"`
	Timestamp string `json:"timestamp"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Protocol  string `json:"protocol"`
	Status    string `json:"status"`
	Bytes     string `json:"bytes"`
	Referrer  string `json:"referrer"`
	UserAgent string `json:"user_agent"`
	Host      string `json:"host"`
	ServerIP  string `json:"server_ip"`
}

// Stats reports what a parse pass did with its input. Skipped counts
// non-empty lines that did not match the grammar.
type Stats struct {
	Lines   int `json:"lines"`
	Parsed  int `json:"parsed"`
	Skipped int `json:"skipped"`
}

var linePattern = regexp.MustCompile(
	`(\S+) - - \[(.*?)\] "(\S+) (\S+) ([^"]+)" (\d{3}) (\S+) "([^"]*)" "([^"]*)" (\S+) (\S+)`,
)

// maxLineBytes bounds a single line when streaming from a reader.
const maxLineBytes = 1 << 20

// Parse converts raw log text into records, in line order.
func Parse(raw string) []Record {
	records, _ := ParseWithStats(raw)
	return records
}

// ParseWithStats is Parse plus a count of the lines that were skipped.
func ParseWithStats(raw string) ([]Record, Stats) {
	var stats Stats
	records := make([]Record, 0, strings.Count(raw, "\n")+1)

	for _, line := range strings.Split(raw, "\n") {
		if line == "" {
			continue
		}
		stats.Lines++
		rec, ok := ParseLine(line)
		if !ok {
			stats.Skipped++
			continue
		}
		records = append(records, rec)
	}
	stats.Parsed = len(records)
	return records, stats
}

// ParseReader streams lines from r. Only read errors are returned; grammar
// mismatches are counted in Stats like ParseWithStats. A line longer than
// maxLineBytes is counted as skipped and reading continues with the next one.
// On a read error the records parsed so far are returned with the error.
func ParseReader(r io.Reader) ([]Record, Stats, error) {
	var stats Stats
	var records []Record

	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	oversize := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !oversize {
			if len(line)+len(bytes.TrimSuffix(chunk, []byte("\n"))) > maxLineBytes {
				oversize = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			stats.Parsed = len(records)
			return records, stats, err
		}

		text := strings.TrimSuffix(string(line), "\n")
		switch {
		case oversize:
			stats.Lines++
			stats.Skipped++
		case text != "":
			stats.Lines++
			if rec, ok := ParseLine(text); ok {
				records = append(records, rec)
			} else {
				stats.Skipped++
			}
		}
		line = line[:0]
		oversize = false

		if err != nil {
			break
		}
	}
	stats.Parsed = len(records)
	return records, stats, nil
}

// ParseLine decodes a single line. ok is false when the line does not match
// the grammar.
func ParseLine(line string) (rec Record, ok bool) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return Record{}, false
	}
	return Record{
		IP:        m[1],
		Timestamp: NormalizeTimestamp(m[2]),
		Method:    m[3],
		Path:      m[4],
		Protocol:  m[5],
		Status:    m[6],
		Bytes:     m[7],
		Referrer:  m[8],
		UserAgent: m[9],
		Host:      m[10],
		ServerIP:  m[11],
	}, true
}

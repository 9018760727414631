// Package ingest parses exported chat logs.
package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"gwi.com/chatvec/internal/errortypes"
)

// Line is one parsed chat message.
type Line struct {
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Text      string    `json:"message"`
}

// UnmarshalJSON accepts any timestamp form ParseTimestamp does, including
// the zoneless one RFC 3339 decoding rejects.
func (l *Line) UnmarshalJSON(b []byte) error {
	var raw struct {
		Timestamp string `json:"timestamp"`
		Sender    string `json:"sender"`
		Text      string `json:"message"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	ts, err := ParseTimestamp(raw.Timestamp)
	if err != nil {
		return err
	}
	*l = Line{Timestamp: ts, Sender: raw.Sender, Text: raw.Text}
	return nil
}

// [DD/MM/YYYY, HH:MM:SS] Sender: Message text
var linePattern = regexp.MustCompile(`^\[(\d{2}/\d{2}/\d{4}), (\d{2}:\d{2}:\d{2})\] ([^:]+): (.+)$`)

const exportLayout = "02/01/2006 15:04:05"

// invisible marks some exporters put in front of lines or senders
var invisible = strings.NewReplacer("\u200e", "", "\u200f", "", "\ufeff", "", "\u202a", "", "\u202c", "")

const maxLineBytes = 1 << 20

// Parse reads an export and returns the messages in file order. Lines that
// do not match the export format are skipped.
func Parse(r io.Reader) ([]Line, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	lines := []Line{}
	for sc.Scan() {
		if l, ok := ParseLine(sc.Text()); ok {
			lines = append(lines, l)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errortypes.ValidationError(err, "failed to read chat export")
	}
	return lines, nil
}

// ParseLine parses a single export line.
func ParseLine(raw string) (Line, bool) {
	raw = strings.TrimSpace(invisible.Replace(raw))
	m := linePattern.FindStringSubmatch(raw)
	if m == nil {
		return Line{}, false
	}
	ts, err := time.Parse(exportLayout, m[1]+" "+m[2])
	if err != nil {
		return Line{}, false
	}
	sender := strings.TrimSpace(m[3])
	text := strings.TrimSpace(m[4])
	if sender == "" || text == "" {
		return Line{}, false
	}
	return Line{Timestamp: ts, Sender: sender, Text: text}, true
}

var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts ISO-8601 timestamps with or without a zone.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errortypes.ValidationError(fmt.Errorf("unrecognized timestamp %q", s), "invalid timestamp")
}

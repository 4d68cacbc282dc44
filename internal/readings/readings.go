// Package readings parses FloraLog log lines into typed samples.
// A line is an ISO-8601 timestamp followed by comma-separated Label:Value
// fields, e.g.
//
//	2025-11-03T14:05:09,Temp:28.5,Light:150,Moisture:45,Conductivity:350,Battery:88
package readings

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Reading is one parsed log line. Labels the firmware doesn't document
// yet land in Extra so a newer logger doesn't break an older client.
type Reading struct {
	Time         time.Time
	Temp         float64
	Light        float64
	Moisture     float64
	Conductivity float64
	Battery      float64
	Extra        map[string]float64
}

// timeLayouts are tried in order; the firmware writes local time without
// a zone offset but some builds include one.
var timeLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// Parse parses a single log line.
func Parse(line string) (Reading, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 2 {
		return Reading{}, fmt.Errorf("readings: line %q has no sample fields", line)
	}

	var r Reading
	var err error
	for _, layout := range timeLayouts {
		r.Time, err = time.Parse(layout, fields[0])
		if err == nil {
			break
		}
	}
	if err != nil {
		return Reading{}, fmt.Errorf("readings: bad timestamp %q: %w", fields[0], err)
	}

	for _, field := range fields[1:] {
		label, raw, ok := strings.Cut(field, ":")
		if !ok {
			return Reading{}, fmt.Errorf("readings: malformed field %q in line %q", field, line)
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Reading{}, fmt.Errorf("readings: bad value for %s: %w", label, err)
		}
		switch label {
		case "Temp":
			r.Temp = value
		case "Light":
			r.Light = value
		case "Moisture":
			r.Moisture = value
		case "Conductivity":
			r.Conductivity = value
		case "Battery":
			r.Battery = value
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]float64)
			}
			r.Extra[label] = value
		}
	}
	return r, nil
}

// ParseAll parses every line, skipping malformed ones. It returns the
// parsed readings and the number of lines skipped.
func ParseAll(lines []string) ([]Reading, int) {
	var out []Reading
	skipped := 0
	for _, line := range lines {
		r, err := Parse(line)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, r)
	}
	return out, skipped
}

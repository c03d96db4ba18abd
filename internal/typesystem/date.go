package typesystem

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// legacyDateRegex matches the OData v2 legacy literal /Date(ms[+/-offset])/.
var legacyDateRegex = regexp.MustCompile(`^/Date\((-?\d+)([\+\-]\d{4})?\)/$`)

// IsLegacyDate reports whether s is in OData v2 legacy date format.
func IsLegacyDate(s string) bool {
	return legacyDateRegex.MatchString(s)
}

// ParseLegacyDate extracts the millisecond timestamp and optional offset.
func ParseLegacyDate(s string) (ms int64, offset string, ok bool) {
	m := legacyDateRegex.FindStringSubmatch(s)
	if len(m) < 2 {
		return 0, "", false
	}
	v, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, "", false
	}
	if len(m) > 2 {
		offset = m[2]
	}
	return v, offset, true
}

// LegacyToISO converts a legacy date literal to ISO-8601, passing through
// unchanged if it is not a legacy literal.
func LegacyToISO(legacy string) string {
	ms, _, ok := ParseLegacyDate(legacy)
	if !ok {
		return legacy
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// isoLayouts are tried in order when parsing an ISO-ish input string.
var isoLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ISOToLegacy converts an ISO-8601 string to the legacy /Date(ms)/ literal,
// passing through unchanged if it cannot be parsed as any known ISO layout.
func ISOToLegacy(iso string) string {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, iso); err == nil {
			return fmt.Sprintf("/Date(%d)/", t.UnixMilli())
		}
	}
	return iso
}

// FormatForWrite renders a time.Time for the wire according to the
// property's declared abstract type and the legacy-dates write preference
// (spec §4.2's value coercer: "emit legacy form on write when legacy-dates
// mode is on").
func FormatForWrite(t time.Time, abstract string, useLegacy bool) string {
	switch abstract {
	case "datetimeoffset":
		if useLegacy {
			_, offsetSec := t.Zone()
			hours, minutes := offsetSec/3600, (offsetSec%3600)/60
			sign := "+"
			if offsetSec < 0 {
				sign, hours, minutes = "-", -hours, -minutes
			}
			return fmt.Sprintf("/Date(%d%s%02d%02d)/", t.UnixMilli(), sign, hours, minutes)
		}
		return t.Format(time.RFC3339)
	case "time":
		return fmt.Sprintf("PT%dH%dM%dS", t.Hour(), t.Minute(), t.Second())
	default: // datetime
		if useLegacy {
			return fmt.Sprintf("/Date(%d)/", t.UnixMilli())
		}
		return t.Format("2006-01-02T15:04:05")
	}
}
